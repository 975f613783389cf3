// Package anomaly compares observations with a climatology baseline.
package anomaly

import (
	"log/slog"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
)

// Result holds the anomalies that could be computed plus one issue per point
// that could not.
type Result struct {
	Anomalies []domain.Anomaly `json:"anomalies"`
	Issues    []domain.Issue   `json:"issues,omitempty"`
}

// Calculator computes z-score anomalies.
type Calculator struct {
	logger *slog.Logger
}

// NewCalculator creates a Calculator.
func NewCalculator(logger *slog.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// Calculate emits one anomaly per non-missing point of series, which must be
// aggregated to the profile's granularity. Points without a baseline period
// are reported as issues and the remaining anomalies are still returned.
func (c *Calculator) Calculate(series domain.Series, profile *domain.Profile) (Result, error) {
	if err := series.Validate(); err != nil {
		return Result{}, err
	}
	if profile == nil {
		return Result{}, domain.NewValidationError("no climatology profile")
	}
	if series.Variable != profile.Variable {
		return Result{}, domain.NewValidationError("series variable %q does not match profile variable %q", series.Variable, profile.Variable)
	}

	res := Result{Anomalies: make([]domain.Anomaly, 0, len(series.Points))}
	for _, p := range series.Points {
		if p.Missing {
			res.Issues = append(res.Issues, domain.NewIssue(p.Time, domain.ErrMissingValue))
			continue
		}
		key := profile.Granularity.Key(p.Time)
		base, ok := profile.Period(key)
		if !ok {
			res.Issues = append(res.Issues, domain.NewIssue(p.Time, &domain.NoBaselineError{Time: p.Time, Period: key}))
			continue
		}
		res.Anomalies = append(res.Anomalies, Compute(p, base))
	}

	if len(res.Issues) > 0 {
		c.logger.Debug("anomalies computed with issues",
			"location", series.Location,
			"variable", series.Variable,
			"anomalies", len(res.Anomalies),
			"issues", len(res.Issues),
		)
	}
	return res, nil
}

// Compute derives the anomaly of a single observation against its period baseline.
func Compute(p domain.Point, base domain.PeriodStats) domain.Anomaly {
	a := domain.Anomaly{
		Time:          p.Time,
		Location:      p.Location,
		Variable:      p.Variable,
		Observed:      p.Value,
		BaselineMean:  base.Mean,
		BaselineStd:   base.Std,
		AbsoluteDelta: p.Value - base.Mean,
		Class:         domain.Undefined,
	}
	if base.Std == 0 {
		return a
	}
	z := a.AbsoluteDelta / base.Std
	a.ZScore = &z
	a.Class = Classify(z)
	return a
}

// Classify buckets a z-score using the standardized-index thresholds.
func Classify(z float64) domain.AnomalyClass {
	switch {
	case z <= -2.0:
		return domain.ExtremelyBelow
	case z <= -1.5:
		return domain.SeverelyBelow
	case z <= -1.0:
		return domain.ModeratelyBelow
	case z < 1.0:
		return domain.NearNormal
	case z < 1.5:
		return domain.ModeratelyAbove
	case z < 2.0:
		return domain.SeverelyAbove
	default:
		return domain.ExtremelyAbove
	}
}
