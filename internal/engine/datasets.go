package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/compare"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// DatasetSeries is one dataset's daily series for a location and variable.
type DatasetSeries struct {
	Dataset string
	Series  domain.Series
}

// DatasetCoverage describes how much of the requested range a dataset observed.
type DatasetCoverage struct {
	Dataset      string    `json:"dataset"`
	Days         int       `json:"days"`
	ObservedDays int       `json:"observed_days"`
	First        time.Time `json:"first,omitempty"`
	Last         time.Time `json:"last,omitempty"`
}

// DatasetComparison lines two datasets up period by period. In Periods each
// change is keyed by the period instance start (YYYY-MM-DD); A is the
// reference dataset and B the candidate. Periods missing from one dataset are
// listed in OnlyInA or OnlyInB.
type DatasetComparison struct {
	Location    string             `json:"location"`
	Variable    domain.Variable    `json:"variable"`
	Granularity domain.Granularity `json:"granularity"`
	Reference   DatasetCoverage    `json:"reference"`
	Candidate   DatasetCoverage    `json:"candidate"`
	Periods     compare.Result     `json:"periods"`
	MeanDelta   *float64           `json:"mean_delta,omitempty"`
	MeanAbsDiff *float64           `json:"mean_absolute_difference,omitempty"`
	Correlation *float64           `json:"correlation,omitempty"`
}

// CompareDatasets aggregates both daily series to the configured granularity
// and diffs them period by period. Both must describe the same location and
// variable.
func (s *Service) CompareDatasets(reference, candidate DatasetSeries) domain.Response[DatasetComparison] {
	out, err := s.compareDatasets(reference, candidate)
	if err != nil {
		return domain.Fail[DatasetComparison](err)
	}
	msg := fmt.Sprintf("%s vs %s: %d periods matched", reference.Dataset, candidate.Dataset, len(out.Periods.Matched))
	if n := len(out.Periods.OnlyInA) + len(out.Periods.OnlyInB); n > 0 {
		msg += fmt.Sprintf(", %d unmatched", n)
	}
	return domain.OK(out, msg)
}

func (s *Service) compareDatasets(ref, cand DatasetSeries) (DatasetComparison, error) {
	if ref.Dataset == "" || cand.Dataset == "" {
		return DatasetComparison{}, domain.NewValidationError("dataset name is required")
	}
	if ref.Dataset == cand.Dataset {
		return DatasetComparison{}, domain.NewValidationError("dataset %s compared with itself", ref.Dataset)
	}
	a, b := ref.Series, cand.Series
	if a.Location != b.Location || a.Variable != b.Variable {
		return DatasetComparison{}, domain.NewValidationError("cannot compare %s %s with %s %s", a.Location, a.Variable, b.Location, b.Variable)
	}
	for _, ds := range []DatasetSeries{ref, cand} {
		if err := ds.Series.Validate(); err != nil {
			return DatasetComparison{}, fmt.Errorf("%s: %w", ds.Dataset, err)
		}
	}

	g := s.opts.Climatology.Granularity
	maxMissing := s.opts.Climatology.MaxMissingFraction
	res := compare.CompareBy(periodValues(a, g, maxMissing), periodValues(b, g, maxMissing),
		func(p domain.Point) float64 { return p.Value })

	out := DatasetComparison{
		Location:    a.Location,
		Variable:    a.Variable,
		Granularity: g,
		Reference:   coverage(ref),
		Candidate:   coverage(cand),
		Periods:     res,
	}
	if len(res.Matched) == 0 {
		return out, nil
	}

	as := make([]float64, len(res.Matched))
	bs := make([]float64, len(res.Matched))
	var delta, abs float64
	for i, c := range res.Matched {
		as[i], bs[i] = c.A, c.B
		delta += c.Delta
		abs += math.Abs(c.Delta)
	}
	n := float64(len(res.Matched))
	delta /= n
	abs /= n
	out.MeanDelta, out.MeanAbsDiff = &delta, &abs
	if len(as) >= 3 {
		if r := stat.Correlation(as, bs, nil); !math.IsNaN(r) {
			out.Correlation = &r
		}
	}
	return out, nil
}

// periodValues keys the observed period aggregates of s by instance start.
func periodValues(s domain.Series, g domain.Granularity, maxMissing float64) map[string]domain.Point {
	out := make(map[string]domain.Point)
	for _, p := range s.AggregatePeriods(g, maxMissing).Points {
		if !p.Missing {
			out[p.Time.Format(time.DateOnly)] = p
		}
	}
	return out
}

func coverage(ds DatasetSeries) DatasetCoverage {
	c := DatasetCoverage{Dataset: ds.Dataset, Days: ds.Series.Len()}
	for _, p := range ds.Series.Points {
		if p.Missing {
			continue
		}
		if c.ObservedDays == 0 {
			c.First = p.Time
		}
		c.Last = p.Time
		c.ObservedDays++
	}
	return c
}
