// Package compare diffs one indicator between two periods, location by location.
package compare

import (
	"math"
	"sort"
)

// Change is the difference between period A and period B at one location.
// PercentChange is nil, with PercentUndefined set, when A is zero and B is not.
// Location holds whatever key the values were matched on; dataset
// comparisons match on period start dates.
type Change struct {
	Location         string   `json:"location"`
	A                float64  `json:"a"`
	B                float64  `json:"b"`
	Delta            float64  `json:"delta"`
	PercentChange    *float64 `json:"percent_change"`
	PercentUndefined bool     `json:"percent_undefined,omitempty"`
}

// Result lists matched locations plus those present in only one period.
// All slices are sorted by location.
type Result struct {
	Matched []Change `json:"matched"`
	OnlyInA []string `json:"only_in_a,omitempty"`
	OnlyInB []string `json:"only_in_b,omitempty"`
}

// Compare diffs two location-keyed indicator values.
func Compare(a, b map[string]float64) Result {
	return CompareBy(a, b, func(v float64) float64 { return v })
}

// CompareBy diffs two location-keyed collections of any indicator type,
// extracting the compared scalar with value.
func CompareBy[T any](a, b map[string]T, value func(T) float64) Result {
	var res Result
	for loc, va := range a {
		vb, ok := b[loc]
		if !ok {
			res.OnlyInA = append(res.OnlyInA, loc)
			continue
		}
		res.Matched = append(res.Matched, change(loc, value(va), value(vb)))
	}
	for loc := range b {
		if _, ok := a[loc]; !ok {
			res.OnlyInB = append(res.OnlyInB, loc)
		}
	}
	sort.Slice(res.Matched, func(i, j int) bool { return res.Matched[i].Location < res.Matched[j].Location })
	sort.Strings(res.OnlyInA)
	sort.Strings(res.OnlyInB)
	return res
}

func change(loc string, a, b float64) Change {
	c := Change{Location: loc, A: a, B: b, Delta: b - a}
	switch {
	case a == 0 && b == 0:
		zero := 0.0
		c.PercentChange = &zero
	case a == 0:
		c.PercentUndefined = true
	default:
		pct := c.Delta / math.Abs(a) * 100
		c.PercentChange = &pct
	}
	return c
}
