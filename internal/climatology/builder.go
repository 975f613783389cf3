package climatology

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/stat"
)

var validate = validator.New()

// Config controls how baselines are built. It is passed by value and
// validated by NewBuilder.
type Config struct {
	Granularity        domain.Granularity `validate:"oneof=month dekad"`
	MinSamples         int                `validate:"gte=2"`
	MaxMissingFraction float64            `validate:"gte=0,lt=1"`
	Accumulation       int                `validate:"gte=1,lte=48"`
	ZeroThreshold      float64            `validate:"gte=0"`
	MinPositiveSamples int                `validate:"gte=2"`
	MaxIterations      int                `validate:"gte=1"`
	Tolerance          float64            `validate:"gt=0"`
}

// DefaultConfig returns monthly baselines requiring ten samples per period.
func DefaultConfig() Config {
	return Config{
		Granularity:        domain.Monthly,
		MinSamples:         10,
		MaxMissingFraction: 0.2,
		Accumulation:       1,
		ZeroThreshold:      0,
		MinPositiveSamples: 3,
		MaxIterations:      100,
		Tolerance:          1e-8,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("climatology config: %w", err)
	}
	return nil
}

// Baseline is the inclusive window of historical observations to use.
type Baseline struct {
	Start time.Time
	End   time.Time
}

// YearsBaseline covers whole calendar years from startYear to endYear inclusive.
func YearsBaseline(startYear, endYear int) Baseline {
	return Baseline{
		Start: time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(endYear, time.December, 31, 23, 59, 59, 0, time.UTC),
	}
}

// Builder computes climatology profiles. It holds no mutable state.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// NewBuilder creates a Builder after validating cfg.
func NewBuilder(cfg Config, logger *slog.Logger) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, logger: logger}, nil
}

// Config returns the configuration the builder was created with.
func (b *Builder) Config() Config { return b.cfg }

// Build groups the baseline portion of series by calendar period and computes
// per-period statistics. Precipitation periods also get a zero-inflated gamma
// fit, falling back to an empirical representation when the fit fails.
func (b *Builder) Build(series domain.Series, baseline Baseline) (*domain.Profile, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	if !baseline.End.After(baseline.Start) {
		return nil, domain.NewValidationError("baseline end %s is not after start %s",
			baseline.End.Format(time.DateOnly), baseline.Start.Format(time.DateOnly))
	}

	instances := series.Between(baseline.Start, baseline.End).
		AggregatePeriods(b.cfg.Granularity, b.cfg.MaxMissingFraction).
		Accumulate(b.cfg.Accumulation)

	samples := make(map[int][]float64, b.cfg.Granularity.PeriodsPerYear())
	for _, p := range instances.Points {
		if p.Missing {
			continue
		}
		key := b.cfg.Granularity.Key(p.Time)
		samples[key] = append(samples[key], p.Value)
	}

	profile := &domain.Profile{
		Location:      series.Location,
		Variable:      series.Variable,
		Granularity:   b.cfg.Granularity,
		BaselineStart: baseline.Start,
		BaselineEnd:   baseline.End,
		Accumulation:  b.cfg.Accumulation,
		Periods:       make(map[int]domain.PeriodStats, len(samples)),
	}

	for key := 1; key <= b.cfg.Granularity.PeriodsPerYear(); key++ {
		values := samples[key]
		if len(values) < b.cfg.MinSamples {
			return nil, &domain.InsufficientDataError{Period: key, Have: len(values), Want: b.cfg.MinSamples}
		}
		profile.Periods[key] = b.periodStats(series, key, values)
	}
	return profile, nil
}

func (b *Builder) periodStats(series domain.Series, key int, values []float64) domain.PeriodStats {
	mean, std := stat.MeanStdDev(values, nil)
	st := domain.PeriodStats{
		Key:         key,
		Mean:        mean,
		Std:         std,
		SampleCount: len(values),
		Fit:         domain.FitNone,
	}
	if series.Variable != domain.Precipitation {
		return st
	}

	positives := make([]float64, 0, len(values))
	for _, v := range values {
		if v > b.cfg.ZeroThreshold {
			positives = append(positives, v)
		}
	}
	st.ZeroProbability = float64(len(values)-len(positives)) / float64(len(values))

	var reason string
	if len(positives) < b.cfg.MinPositiveSamples {
		reason = fmt.Sprintf("%d positive samples, need %d", len(positives), b.cfg.MinPositiveSamples)
	} else {
		var fit gammaFit
		fit, reason = fitGamma(positives, b.cfg.MaxIterations, b.cfg.Tolerance)
		if reason == "" {
			st.GammaShape = fit.shape
			st.GammaScale = fit.scale
			st.Fit = domain.FitGamma
			return st
		}
	}

	err := &domain.NumericalError{Period: key, Reason: reason}
	b.logger.Warn("gamma fit failed, using empirical percentiles",
		"location", series.Location,
		"period", key,
		"accumulation", b.cfg.Accumulation,
		"error", err,
	)
	sort.Float64s(positives)
	st.Empirical = positives
	st.Fit = domain.FitEmpirical
	return st
}
