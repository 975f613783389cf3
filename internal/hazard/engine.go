// Package hazard computes the Standardized Precipitation Index and
// crop-specific stress classes.
package hazard

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/stat/distuv"
)

var validate = validator.New()

// Config bounds the index. Values of Φ⁻¹ beyond the bounds are clamped.
type Config struct {
	Floor   float64 `validate:"lt=0"`
	Ceiling float64 `validate:"gt=0"`
}

// DefaultConfig clamps indices to ±3.5.
func DefaultConfig() Config {
	return Config{Floor: -3.5, Ceiling: 3.5}
}

// Result holds the index values plus one issue per window that could not be evaluated.
type Result struct {
	Values []domain.HazardIndexValue `json:"values"`
	Issues []domain.Issue            `json:"issues,omitempty"`
}

// Engine evaluates SPI values against fitted climatology profiles.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine after validating cfg.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("hazard config: %w", err)
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Compute emits one index per period instance of series that closes a full
// trailing window of profile.Accumulation instances; leading instances without
// one are reported as issues. series must be aggregated to the profile's
// granularity without accumulation.
func (e *Engine) Compute(series domain.Series, profile *domain.Profile) (Result, error) {
	if err := series.Validate(); err != nil {
		return Result{}, err
	}
	if profile == nil {
		return Result{}, domain.NewValidationError("no climatology profile")
	}
	if series.Variable != domain.Precipitation || profile.Variable != domain.Precipitation {
		return Result{}, domain.NewValidationError("hazard index requires precipitation, got series %q and profile %q", series.Variable, profile.Variable)
	}

	window := max(profile.Accumulation, 1)
	accumulated := series.Accumulate(window)

	var res Result
	for i, p := range accumulated.Points {
		if i+1 < window {
			res.Issues = append(res.Issues, domain.NewIssue(p.Time, &domain.IncompleteWindowError{Window: window, Have: i + 1}))
			continue
		}
		if p.Missing {
			res.Issues = append(res.Issues, domain.NewIssue(p.Time, domain.ErrMissingValue))
			continue
		}
		key := profile.Granularity.Key(p.Time)
		st, ok := profile.Period(key)
		if !ok {
			res.Issues = append(res.Issues, domain.NewIssue(p.Time, &domain.NoBaselineError{Time: p.Time, Period: key}))
			continue
		}
		index := e.Index(p.Value, st)
		res.Values = append(res.Values, domain.HazardIndexValue{
			Time:               p.Time,
			Location:           series.Location,
			AccumulationWindow: window,
			Accumulated:        p.Value,
			IndexValue:         index,
			Severity:           Classify(index),
			Method:             st.Fit,
		})
	}

	e.logger.Debug("hazard indices computed",
		"location", series.Location,
		"window", window,
		"values", len(res.Values),
		"issues", len(res.Issues),
	)
	return res, nil
}

// ComputeWindows runs Compute once per accumulation window. profiles maps each
// window to the profile fitted on sums of that width. Values are ordered by
// window, then time.
func (e *Engine) ComputeWindows(series domain.Series, profiles map[int]*domain.Profile) (Result, error) {
	if len(profiles) == 0 {
		return Result{}, domain.NewValidationError("no accumulation windows requested")
	}
	windows := make([]int, 0, len(profiles))
	for w := range profiles {
		windows = append(windows, w)
	}
	sort.Ints(windows)

	var out Result
	for _, w := range windows {
		profile := profiles[w]
		if profile == nil || profile.Accumulation != w {
			return Result{}, domain.NewValidationError("profile for window %d was not fitted on %d-period sums", w, w)
		}
		res, err := e.Compute(series, profile)
		if err != nil {
			return Result{}, fmt.Errorf("window %d: %w", w, err)
		}
		out.Values = append(out.Values, res.Values...)
		out.Issues = append(out.Issues, res.Issues...)
	}
	return out, nil
}

// Index converts an accumulated total into a standardized index using the
// period's zero-inflated distribution.
func (e *Engine) Index(x float64, st domain.PeriodStats) float64 {
	if x <= 0 {
		return e.cfg.Floor
	}
	p := Probability(x, st)
	if math.IsNaN(p) {
		e.logger.Warn("non-finite cumulative probability, clamping to floor",
			"period", st.Key,
			"accumulated", x,
		)
		return e.cfg.Floor
	}
	z := distuv.UnitNormal.Quantile(min(max(p, 0), 1))
	return min(max(z, e.cfg.Floor), e.cfg.Ceiling)
}

// Probability returns P(X ≤ x) under the mixed distribution
// q + (1−q)·F(x), where F is the gamma CDF or, for empirical periods, the
// Weibull plotting position rank/(n+1) of x among the positive baseline values.
func Probability(x float64, st domain.PeriodStats) float64 {
	q := st.ZeroProbability
	var f float64
	switch st.Fit {
	case domain.FitGamma:
		f = distuv.Gamma{Alpha: st.GammaShape, Beta: 1 / st.GammaScale}.CDF(x)
	case domain.FitEmpirical:
		rank := sort.Search(len(st.Empirical), func(i int) bool { return st.Empirical[i] > x })
		f = float64(rank) / float64(len(st.Empirical)+1)
	default:
		return math.NaN()
	}
	return q + (1-q)*f
}
