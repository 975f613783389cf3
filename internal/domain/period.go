package domain

import (
	"fmt"
	"time"
)

// Granularity is the calendar period used to group observations.
type Granularity string

const (
	Monthly Granularity = "month"
	Dekadal Granularity = "dekad"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Monthly, Dekadal:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// PeriodsPerYear returns 12 for months and 36 for dekads.
func (g Granularity) PeriodsPerYear() int {
	if g == Dekadal {
		return 36
	}
	return 12
}

// Key returns the calendar period index of t: 1–12 for months, 1–36 for dekads.
func (g Granularity) Key(t time.Time) int {
	t = t.UTC()
	month := int(t.Month())
	if g != Dekadal {
		return month
	}
	return (month-1)*3 + dekadOfMonth(t.Day())
}

// Start returns the first instant of the period instance containing t.
func (g Granularity) Start(t time.Time) time.Time {
	t = t.UTC()
	if g != Dekadal {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	day := (dekadOfMonth(t.Day())-1)*10 + 1
	return time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC)
}

// Next returns the start of the period instance following the one starting at start.
func (g Granularity) Next(start time.Time) time.Time {
	if g != Dekadal {
		return start.AddDate(0, 1, 0)
	}
	if start.Day() == 21 {
		return time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	}
	return start.AddDate(0, 0, 10)
}

// Prev returns the start of the period instance preceding the one starting at start.
func (g Granularity) Prev(start time.Time) time.Time {
	if g != Dekadal {
		return start.AddDate(0, -1, 0)
	}
	if start.Day() == 1 {
		return time.Date(start.Year(), start.Month()-1, 21, 0, 0, 0, 0, time.UTC)
	}
	return start.AddDate(0, 0, -10)
}

// Days returns the number of calendar days in the period instance starting at start.
func (g Granularity) Days(start time.Time) int {
	return int(g.Next(start).Sub(start).Hours() / 24)
}

func dekadOfMonth(day int) int {
	switch {
	case day <= 10:
		return 1
	case day <= 20:
		return 2
	default:
		return 3
	}
}

// AggregatePeriods collapses the series into one point per calendar period
// instance, stamped at the instance start. Precipitation is summed and other
// variables are averaged. Instances whose missing share exceeds
// maxMissingFraction are emitted as missing points so the output stays
// gap-explicit. For daily input, days absent at the series edges count as missing.
func (s Series) AggregatePeriods(g Granularity, maxMissingFraction float64) Series {
	out := Series{Location: s.Location, Variable: s.Variable}
	if len(s.Points) == 0 {
		return out
	}
	daily := s.IsDaily()

	type bucket struct {
		start   time.Time
		sum     float64
		valid   int
		missing int
	}
	flush := func(b bucket) {
		total := b.valid + b.missing
		if daily {
			total = g.Days(b.start)
		}
		p := Point{Time: b.start, Location: s.Location, Variable: s.Variable}
		missingShare := float64(total-b.valid) / float64(total)
		switch {
		case b.valid == 0, missingShare > maxMissingFraction:
			p.Missing = true
		case s.Variable.Accumulates():
			p.Value = b.sum
		default:
			p.Value = b.sum / float64(b.valid)
		}
		out.Points = append(out.Points, p)
	}

	cur := bucket{start: g.Start(s.Points[0].Time)}
	for _, p := range s.Points {
		start := g.Start(p.Time)
		if !start.Equal(cur.start) {
			flush(cur)
			// Emit fully absent instances between observations as missing.
			for next := g.Next(cur.start); next.Before(start); next = g.Next(next) {
				out.Points = append(out.Points, Point{Time: next, Location: s.Location, Variable: s.Variable, Missing: true})
			}
			cur = bucket{start: start}
		}
		if p.Missing {
			cur.missing++
			continue
		}
		cur.sum += p.Value
		cur.valid++
	}
	flush(cur)
	return out
}

// Accumulate replaces each point with the sum of the trailing window points
// ending at it. Points without a full window, or with a missing point inside
// the window, become missing. window <= 1 returns the series unchanged.
func (s Series) Accumulate(window int) Series {
	if window <= 1 {
		return s
	}
	out := Series{Location: s.Location, Variable: s.Variable, Points: make([]Point, len(s.Points))}
	for i, p := range s.Points {
		acc := Point{Time: p.Time, Location: p.Location, Variable: p.Variable}
		if i+1 < window {
			acc.Missing = true
			out.Points[i] = acc
			continue
		}
		for _, w := range s.Points[i+1-window : i+1] {
			if w.Missing {
				acc.Missing = true
				acc.Value = 0
				break
			}
			acc.Value += w.Value
		}
		out.Points[i] = acc
	}
	return out
}
