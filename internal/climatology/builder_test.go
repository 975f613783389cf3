package climatology

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

const testLocation = "loc-1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// monthlySeries builds one point per month for the given years. value returns
// the observation and whether it is missing.
func monthlySeries(v domain.Variable, startYear, years int, value func(year int, month time.Month) (float64, bool)) domain.Series {
	s := domain.Series{Location: testLocation, Variable: v}
	for y := startYear; y < startYear+years; y++ {
		for m := time.January; m <= time.December; m++ {
			val, missing := value(y, m)
			s.Points = append(s.Points, domain.Point{
				Time:     time.Date(y, m, 1, 0, 0, 0, 0, time.UTC),
				Location: testLocation,
				Variable: v,
				Value:    val,
				Missing:  missing,
			})
		}
	}
	return s
}

// gammaQuantiles returns n evenly spread quantiles of a gamma distribution.
func gammaQuantiles(shape, scale float64, n int) []float64 {
	g := distuv.Gamma{Alpha: shape, Beta: 1 / scale}
	out := make([]float64, n)
	for i := range out {
		out[i] = g.Quantile((float64(i) + 0.5) / float64(n))
	}
	return out
}

func newTestBuilder(t *testing.T, mutate func(*Config)) *Builder {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBuilder(cfg, discardLogger())
	require.NoError(t, err)
	return b
}

func TestBuild_TemperatureMeanAndStd(t *testing.T) {
	series := monthlySeries(domain.Temperature, 1991, 30, func(year int, month time.Month) (float64, bool) {
		return float64(month) + float64(year%3), false
	})

	profile, err := newTestBuilder(t, nil).Build(series, YearsBaseline(1991, 2020))
	require.NoError(t, err)

	assert.Equal(t, testLocation, profile.Location)
	assert.Equal(t, domain.Temperature, profile.Variable)
	assert.Equal(t, 1, profile.Accumulation)
	require.Len(t, profile.Periods, 12)

	jan, ok := profile.Period(1)
	require.True(t, ok)
	assert.Equal(t, 30, jan.SampleCount)
	assert.InDelta(t, 2.0, jan.Mean, 1e-9)
	// Values cycle 1,2,3 ten times each: sample variance = 20/29.
	assert.InDelta(t, math.Sqrt(20.0/29.0), jan.Std, 1e-9)
	assert.Equal(t, domain.FitNone, jan.Fit)
	assert.Zero(t, jan.ZeroProbability)
}

func TestBuild_BaselineWindowClipsSeries(t *testing.T) {
	series := monthlySeries(domain.Temperature, 1981, 40, func(year int, _ time.Month) (float64, bool) {
		if year < 1991 {
			return 1000, false
		}
		return 20, false
	})

	profile, err := newTestBuilder(t, nil).Build(series, YearsBaseline(1991, 2020))
	require.NoError(t, err)

	jul, _ := profile.Period(7)
	assert.Equal(t, 30, jul.SampleCount)
	assert.InDelta(t, 20.0, jul.Mean, 1e-9)
	assert.InDelta(t, 0.0, jul.Std, 1e-9)
}

func TestBuild_InsufficientData(t *testing.T) {
	series := monthlySeries(domain.Precipitation, 2015, 5, func(int, time.Month) (float64, bool) {
		return 50, false
	})

	_, err := newTestBuilder(t, nil).Build(series, YearsBaseline(2015, 2019))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Period)
	assert.Equal(t, 5, insufficient.Have)
	assert.Equal(t, 10, insufficient.Want)
}

func TestBuild_MissingPeriodsReduceSamples(t *testing.T) {
	series := monthlySeries(domain.Temperature, 1991, 12, func(year int, month time.Month) (float64, bool) {
		return 25, month == time.March && year < 1994
	})

	_, err := newTestBuilder(t, nil).Build(series, YearsBaseline(1991, 2002))
	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Period)
	assert.Equal(t, 9, insufficient.Have)
}

func TestBuild_PrecipitationGammaFit(t *testing.T) {
	const years = 30
	quantiles := gammaQuantiles(2, 30, years)
	series := monthlySeries(domain.Precipitation, 1991, years, func(year int, month time.Month) (float64, bool) {
		i := year - 1991
		if month == time.January && i < 3 {
			return 0, false
		}
		return quantiles[i], false
	})

	profile, err := newTestBuilder(t, nil).Build(series, YearsBaseline(1991, 2020))
	require.NoError(t, err)

	jan, _ := profile.Period(1)
	assert.Equal(t, domain.FitGamma, jan.Fit)
	assert.InDelta(t, 0.1, jan.ZeroProbability, 1e-9)

	jun, _ := profile.Period(6)
	assert.Equal(t, domain.FitGamma, jun.Fit)
	assert.Zero(t, jun.ZeroProbability)
	assert.InDelta(t, 2.0, jun.GammaShape, 0.4)
	assert.InDelta(t, 60.0, jun.GammaShape*jun.GammaScale, 1.5)
	assert.Empty(t, jun.Empirical)
	assert.Empty(t, profile.FallbackPeriods())
}

func TestBuild_DegenerateFitFallsBackToEmpirical(t *testing.T) {
	series := monthlySeries(domain.Precipitation, 1991, 30, func(year int, month time.Month) (float64, bool) {
		switch month {
		case time.February:
			return 12, false // constant sample, no spread to fit
		case time.August:
			return 0, false
		default:
			return float64(10 + year%7), false
		}
	})

	profile, err := newTestBuilder(t, nil).Build(series, YearsBaseline(1991, 2020))
	require.NoError(t, err)

	feb, _ := profile.Period(2)
	assert.Equal(t, domain.FitEmpirical, feb.Fit)
	assert.Len(t, feb.Empirical, 30)
	assert.Zero(t, feb.GammaShape)

	aug, _ := profile.Period(8)
	assert.Equal(t, domain.FitEmpirical, aug.Fit)
	assert.InDelta(t, 1.0, aug.ZeroProbability, 1e-9)
	assert.Empty(t, aug.Empirical)

	assert.Equal(t, []int{2, 8}, profile.FallbackPeriods())
}

func TestBuild_AccumulatedProfile(t *testing.T) {
	series := monthlySeries(domain.Precipitation, 1991, 30, func(year int, _ time.Month) (float64, bool) {
		return float64(20 + year%5), false
	})

	profile, err := newTestBuilder(t, func(c *Config) { c.Accumulation = 3 }).Build(series, YearsBaseline(1991, 2020))
	require.NoError(t, err)

	assert.Equal(t, 3, profile.Accumulation)
	jan, _ := profile.Period(1)
	mar, _ := profile.Period(3)
	// The first two months of the baseline lack a full trailing window.
	assert.Equal(t, 29, jan.SampleCount)
	assert.Equal(t, 30, mar.SampleCount)
	assert.InDelta(t, 66.0, mar.Mean, 1e-9)
}

func TestBuild_RejectsInvalidInput(t *testing.T) {
	series := monthlySeries(domain.Precipitation, 1991, 30, func(int, time.Month) (float64, bool) {
		return -1, false
	})

	_, err := newTestBuilder(t, nil).Build(series, YearsBaseline(1991, 2020))
	assert.ErrorIs(t, err, domain.ErrInputValidation)

	_, err = newTestBuilder(t, nil).Build(domain.Series{Location: testLocation, Variable: domain.Precipitation}, YearsBaseline(2020, 2019))
	assert.ErrorIs(t, err, domain.ErrInputValidation)
}

func TestBuild_Dekadal(t *testing.T) {
	start := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2010, time.December, 31, 0, 0, 0, 0, time.UTC)
	values := make(map[time.Time]float64)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		values[d] = float64(d.Day()%4) + float64(d.Year()%3)
	}
	series := domain.FillDaily(testLocation, domain.Precipitation, start, end, values)

	profile, err := newTestBuilder(t, func(c *Config) { c.Granularity = domain.Dekadal }).Build(series, YearsBaseline(2001, 2010))
	require.NoError(t, err)
	assert.Len(t, profile.Periods, 36)
	assert.Equal(t, domain.Dekadal, profile.Granularity)
	first, _ := profile.Period(1)
	assert.Equal(t, 10, first.SampleCount)
}

func TestNewBuilder_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"granularity", func(c *Config) { c.Granularity = "week" }},
		{"min samples", func(c *Config) { c.MinSamples = 1 }},
		{"missing fraction", func(c *Config) { c.MaxMissingFraction = 1 }},
		{"accumulation", func(c *Config) { c.Accumulation = 0 }},
		{"tolerance", func(c *Config) { c.Tolerance = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewBuilder(cfg, discardLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "climatology config")
		})
	}
}

func TestFitGamma(t *testing.T) {
	fit, reason := fitGamma(gammaQuantiles(3, 10, 200), 100, 1e-10)
	require.Empty(t, reason)
	assert.InDelta(t, 3.0, fit.shape, 0.15)
	assert.InDelta(t, 30.0, fit.shape*fit.scale, 0.5)

	_, reason = fitGamma([]float64{5, 5, 5}, 100, 1e-10)
	assert.Equal(t, "degenerate sample", reason)

	_, reason = fitGamma(gammaQuantiles(3, 10, 50), 1, 1e-14)
	assert.Equal(t, "shape did not converge", reason)
}

func TestTrigamma(t *testing.T) {
	assert.InDelta(t, math.Pi*math.Pi/6, trigamma(1), 1e-9)
	assert.InDelta(t, math.Pi*math.Pi/2, trigamma(0.5), 1e-9)
	assert.InDelta(t, 0.1051663356816857, trigamma(10), 1e-9)
}
