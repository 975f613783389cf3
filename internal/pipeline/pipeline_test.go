package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/climatology"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/engine"
	"github.com/couchcryptid/climate-indicator-service/internal/observability"
	"github.com/couchcryptid/climate-indicator-service/internal/pipeline"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nairobi = domain.Location{ID: "nairobi", Lat: -1.286, Lon: 36.817}
	kisumu  = domain.Location{ID: "kisumu", Lat: -0.09, Lon: 34.77}
	ghost   = domain.Location{ID: "ghost", Lat: 10, Lon: 10}

	processedAt = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
)

// --- mocks ---

type recordingLoader struct {
	mu       sync.Mutex
	batches  [][]pipeline.LocationResult
	calls    atomic.Int32
	failures int32
}

func (l *recordingLoader) LoadBatch(_ context.Context, results []pipeline.LocationResult) error {
	if l.calls.Add(1) <= l.failures {
		return errors.New("broker unavailable")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, results)
	return nil
}

// countingFetcher counts fetches whose range ends before the analysis years.
type countingFetcher struct {
	next      source.Fetcher
	baselines atomic.Int32
	analysis  atomic.Int32

	mu     sync.Mutex
	starts map[domain.Variable]time.Time
}

func (f *countingFetcher) Fetch(ctx context.Context, loc domain.Location, v domain.Variable, start, end time.Time) (domain.Series, error) {
	f.mu.Lock()
	if f.starts == nil {
		f.starts = make(map[domain.Variable]time.Time)
	}
	if end.Year() >= 2012 {
		f.starts[v] = start
	}
	f.mu.Unlock()

	if end.Year() < 2012 {
		f.baselines.Add(1)
	} else {
		f.analysis.Add(1)
	}
	return f.next.Fetch(ctx, loc, v, start, end)
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func daily(loc string, v domain.Variable, f func(time.Time) float64) domain.Series {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2012, time.December, 31, 0, 0, 0, 0, time.UTC)
	values := make(map[time.Time]float64)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		values[d] = f(d)
	}
	return domain.FillDaily(loc, v, start, end, values)
}

func meanTemp(d time.Time) float64 {
	return 20 + float64(d.YearDay()%5) + float64(d.Year()%3)*0.3
}

// seed stores thirteen years of rain and, optionally, temperatures for loc.
func seed(m *source.Memory, loc domain.Location, withTemperature bool) {
	m.Put(daily(loc.ID, domain.Precipitation, func(d time.Time) float64 {
		return float64((d.YearDay()*7 + d.Year()*13) % 11)
	}))
	if !withTemperature {
		return
	}
	m.Put(daily(loc.ID, domain.Temperature, meanTemp))
	m.Put(daily(loc.ID, domain.TemperatureMax, func(d time.Time) float64 { return meanTemp(d) + 5 }))
	m.Put(daily(loc.ID, domain.TemperatureMin, func(d time.Time) float64 { return meanTemp(d) - 5 }))
}

func testOptions() pipeline.Options {
	return pipeline.Options{
		Dataset:        "memory",
		Workers:        2,
		Baseline:       climatology.YearsBaseline(2000, 2011),
		AnalysisStart:  time.Date(2012, time.January, 1, 0, 0, 0, 0, time.UTC),
		AnalysisEnd:    time.Date(2012, time.December, 31, 0, 0, 0, 0, time.UTC),
		Windows:        []int{1, 3},
		PublishTimeout: 5 * time.Second,
	}
}

type fixture struct {
	pipeline *pipeline.Pipeline
	loader   *recordingLoader
	metrics  *observability.Metrics
	fetcher  *countingFetcher
	cache    *climatology.Cache
}

func newFixture(t *testing.T, mem *source.Memory, mutate func(*pipeline.Options)) *fixture {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(processedAt))
	t.Cleanup(func() { domain.SetClock(nil) })

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	svc, err := engine.New(engine.DefaultOptions(), logger)
	require.NoError(t, err)

	fetcher := &countingFetcher{next: mem}
	cache := climatology.NewCache(pipeline.NewProfileLoader(fetcher, svc, logger, metrics), 64, metrics)
	loader := &recordingLoader{}

	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	p, err := pipeline.New(fetcher, cache, svc, loader, logger, metrics, opts)
	require.NoError(t, err)
	return &fixture{pipeline: p, loader: loader, metrics: metrics, fetcher: fetcher, cache: cache}
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	seed(mem, kisumu, true)
	fx := newFixture(t, mem, nil)

	require.Error(t, fx.pipeline.CheckReadiness(context.Background()))
	_, ok := fx.pipeline.LastRun()
	require.False(t, ok)

	resp := fx.pipeline.Run(context.Background(), []domain.Location{nairobi, kisumu})
	require.True(t, resp.Succeeded(), resp.Message)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Message, "2 locations processed")

	batch := resp.Data
	_, err := uuid.Parse(batch.RunID)
	require.NoError(t, err)
	assert.Equal(t, processedAt, batch.StartedAt)
	assert.Empty(t, batch.Skipped)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, "nairobi", batch.Results[0].Location.ID, "results keep job order")
	assert.Equal(t, "kisumu", batch.Results[1].Location.ID)

	for _, r := range batch.Results {
		assert.Equal(t, pipeline.OutcomeSuccess, r.Outcome(), r.Errors)
		assert.Equal(t, batch.RunID, r.RunID)
		assert.Equal(t, "memory", r.Dataset)
		assert.Equal(t, processedAt, r.ProcessedAt)
		assert.Len(t, r.Anomalies[domain.Precipitation].Anomalies, 12)
		assert.Len(t, r.Anomalies[domain.Temperature].Anomalies, 12)
		require.NotNil(t, r.SPI)
		assert.Len(t, r.SPI.Values, 12+12, "window 3 reaches back into 2011")
		assert.Empty(t, r.SPI.Issues)
		require.Len(t, r.Seasons, 1)
		assert.Equal(t, 2012, r.Seasons[0].Year)
		assert.Empty(t, r.Crops, "crop assessment is off by default")
	}

	require.Len(t, fx.loader.batches, 1)
	if diff := cmp.Diff(batch.Results, fx.loader.batches[0], cmp.AllowUnexported(pipeline.LocationResult{})); diff != "" {
		t.Errorf("published results mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, fx.pipeline.CheckReadiness(context.Background()))

	last, ok := fx.pipeline.LastRun()
	require.True(t, ok)
	assert.Equal(t, batch.RunID, last.RunID)
	assert.Equal(t, domain.StatusSuccessful, last.Status)
	assert.Equal(t, 2, last.Processed)
	assert.Zero(t, last.Failed)

	assert.Equal(t, 2.0, testutil.ToFloat64(fx.metrics.LocationsProcessed.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(fx.metrics.MessagesProduced))
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.PipelineRunning))
}

func TestPipeline_Run_SPICoversFirstAnalysisMonth(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	fx := newFixture(t, mem, func(o *pipeline.Options) { o.Windows = []int{3, 6} })

	resp := fx.pipeline.Run(context.Background(), []domain.Location{nairobi})
	require.True(t, resp.Succeeded(), resp.Message)

	spi := resp.Data.Results[0].SPI
	require.NotNil(t, spi)
	assert.Empty(t, spi.Issues)

	byWindow := make(map[int][]time.Time)
	for _, v := range spi.Values {
		byWindow[v.AccumulationWindow] = append(byWindow[v.AccumulationWindow], v.Time)
	}
	jan := time.Date(2012, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, w := range []int{3, 6} {
		require.Len(t, byWindow[w], 12, "window %d", w)
		assert.Equal(t, jan, byWindow[w][0], "window %d", w)
	}

	// Rainfall is fetched from August 2011 so the six-month window is full in January.
	fx.fetcher.mu.Lock()
	defer fx.fetcher.mu.Unlock()
	assert.Equal(t, time.Date(2011, time.August, 1, 0, 0, 0, 0, time.UTC), fx.fetcher.starts[domain.Precipitation])
	assert.Equal(t, jan, fx.fetcher.starts[domain.Temperature])

	r := resp.Data.Results[0]
	assert.Len(t, r.Anomalies[domain.Precipitation].Anomalies, 12, "anomalies stay within the analysis year")
	require.Len(t, r.Seasons, 1)
	assert.Equal(t, 2012, r.Seasons[0].Year)
}

func TestPipeline_Run_SPIReportsWindowsWithoutHistory(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	// 2000 is the first seeded year, so the window cannot reach back.
	fx := newFixture(t, mem, func(o *pipeline.Options) {
		o.Baseline = climatology.YearsBaseline(2001, 2011)
		o.AnalysisStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
		o.AnalysisEnd = time.Date(2000, time.December, 31, 0, 0, 0, 0, time.UTC)
		o.Windows = []int{3}
	})

	resp := fx.pipeline.Run(context.Background(), []domain.Location{nairobi})
	require.True(t, resp.Succeeded(), resp.Message)

	spi := resp.Data.Results[0].SPI
	require.NotNil(t, spi)
	assert.Len(t, spi.Values, 10)
	require.Len(t, spi.Issues, 2, "January and February are reported")
	for _, issue := range spi.Issues {
		assert.Equal(t, 2000, issue.Time.Year())
		assert.ErrorIs(t, issue.Err(), domain.ErrMissingValue)
	}
}

func TestPipeline_Run_CropAssessment(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	fx := newFixture(t, mem, func(o *pipeline.Options) { o.Crop = "maize" })

	resp := fx.pipeline.Run(context.Background(), []domain.Location{nairobi})
	require.True(t, resp.Succeeded(), resp.Message)

	r := resp.Data.Results[0]
	require.Len(t, r.Seasons, 1)
	require.Equal(t, domain.SeasonDetected, r.Seasons[0].Status)
	require.Len(t, r.Crops, 1)
	assert.Equal(t, "maize", r.Crops[0].Stress.Crop)
	require.NotNil(t, r.Crops[0].Stats.MeanTempC)
	assert.InDelta(t, 22.3, *r.Crops[0].Stats.MeanTempC, 1.0)

	require.Len(t, r.SeasonStats, 1)
	stats := r.SeasonStats[0]
	assert.Equal(t, stats, r.Crops[0].Stats)
	assert.Equal(t, *r.Seasons[0].Onset, stats.Start)
	require.NotNil(t, stats.Temperature)
	assert.InDelta(t, 10.0, stats.Temperature.DiurnalRangeC, 1e-9)
	require.NotNil(t, stats.ET0, "ET0 is derived from the daily extremes")
	assert.Positive(t, stats.ET0.TotalMM)
	require.NotNil(t, stats.WaterBalance)
	assert.LessOrEqual(t, stats.WaterBalance.DeficitDays+stats.WaterBalance.SurplusDays, stats.Days)
	assert.InDelta(t, float64(stats.WaterBalance.DeficitDays)/float64(stats.Days), stats.WaterBalance.WaterStressRatio, 1e-9)
}

func TestPipeline_Run_PartialFailure(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	seed(mem, kisumu, false)
	fx := newFixture(t, mem, nil)

	resp := fx.pipeline.Run(context.Background(), []domain.Location{nairobi, ghost, kisumu})
	require.True(t, resp.Succeeded(), resp.Message)
	assert.Contains(t, resp.Message, "1 failed")
	require.Len(t, resp.Data.Results, 3)

	byID := make(map[string]pipeline.LocationResult)
	for _, r := range resp.Data.Results {
		byID[r.Location.ID] = r
	}

	assert.Equal(t, pipeline.OutcomeSuccess, byID["nairobi"].Outcome())

	failed := byID["ghost"]
	assert.Equal(t, pipeline.OutcomeFailed, failed.Outcome())
	require.NotEmpty(t, failed.Errors)
	assert.Contains(t, failed.Errors[0], "fetch precipitation")

	partial := byID["kisumu"]
	assert.Equal(t, pipeline.OutcomePartial, partial.Outcome())
	assert.Contains(t, partial.Anomalies, domain.Precipitation)
	assert.NotContains(t, partial.Anomalies, domain.Temperature)
	assert.Len(t, partial.Seasons, 1, "seasons need only rainfall")
	require.Len(t, partial.Errors, 1)
	assert.Contains(t, partial.Errors[0], "fetch temperature")

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.LocationsProcessed.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.LocationsProcessed.WithLabelValues("partial")))
}

func TestPipeline_Run_AllFailed(t *testing.T) {
	fx := newFixture(t, source.NewMemory(), nil)

	resp := fx.pipeline.Run(context.Background(), []domain.Location{ghost})
	assert.False(t, resp.Succeeded())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, domain.StatusServiceUnreachable, resp.Status)
	assert.Contains(t, resp.Message, "all 1 locations failed")
	assert.Len(t, resp.Data.Results, 1, "failed results are still returned")
	assert.Len(t, fx.loader.batches, 1)

	last, ok := fx.pipeline.LastRun()
	require.True(t, ok)
	assert.Equal(t, 1, last.Failed)
	assert.Equal(t, domain.StatusServiceUnreachable, last.Status)
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	fx := newFixture(t, mem, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := fx.pipeline.Run(ctx, []domain.Location{nairobi, kisumu})
	assert.False(t, resp.Succeeded())
	assert.Contains(t, resp.Message, "cancelled after 0 of 2")
	assert.Empty(t, resp.Data.Results)
	assert.Equal(t, []string{"nairobi", "kisumu"}, resp.Data.Skipped)
	assert.Zero(t, fx.loader.calls.Load())
	assert.Error(t, fx.pipeline.CheckReadiness(context.Background()))
}

func TestPipeline_Run_InvalidJobs(t *testing.T) {
	fx := newFixture(t, source.NewMemory(), nil)

	tests := []struct {
		name string
		jobs []domain.Location
	}{
		{"empty", nil},
		{"duplicate", []domain.Location{nairobi, nairobi}},
		{"missing id", []domain.Location{{Lat: 1, Lon: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := fx.pipeline.Run(context.Background(), tt.jobs)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestPipeline_Run_RetriesPublish(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	fx := newFixture(t, mem, func(o *pipeline.Options) { o.PublishRetries = 1 })
	fx.loader.failures = 1

	resp := fx.pipeline.Run(context.Background(), []domain.Location{nairobi})
	require.True(t, resp.Succeeded(), resp.Message)
	assert.Equal(t, int32(2), fx.loader.calls.Load())
	assert.Len(t, fx.loader.batches, 1)
}

func TestPipeline_Run_PublishFailure(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	fx := newFixture(t, mem, nil)
	fx.loader.failures = 1

	resp := fx.pipeline.Run(context.Background(), []domain.Location{nairobi})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Message, "publish results")
	assert.Len(t, resp.Data.Results, 1)
	assert.Error(t, fx.pipeline.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ReusesProfiles(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, true)
	fx := newFixture(t, mem, nil)

	require.True(t, fx.pipeline.Run(context.Background(), []domain.Location{nairobi}).Succeeded())
	// Windows 1 and 3 share one rainfall baseline; temperature has its own.
	assert.Equal(t, int32(2), fx.fetcher.baselines.Load())
	assert.Equal(t, 3, fx.cache.Len())

	require.True(t, fx.pipeline.Run(context.Background(), []domain.Location{nairobi}).Succeeded())
	assert.Equal(t, int32(2), fx.fetcher.baselines.Load(), "second run is served from the cache")
	assert.Equal(t, int32(8), fx.fetcher.analysis.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(fx.metrics.ProfileCache.WithLabelValues("hit")))
}

func TestNew_InvalidOptions(t *testing.T) {
	svc, err := engine.New(engine.DefaultOptions(), discardLogger())
	require.NoError(t, err)
	mem := source.NewMemory()
	cache := climatology.NewCache(pipeline.NewProfileLoader(mem, svc, discardLogger(), observability.NewMetricsForTesting()), 1, nil)

	tests := []struct {
		name   string
		mutate func(*pipeline.Options)
	}{
		{"no workers", func(o *pipeline.Options) { o.Workers = 0 }},
		{"no windows", func(o *pipeline.Options) { o.Windows = nil }},
		{"window too wide", func(o *pipeline.Options) { o.Windows = []int{49} }},
		{"analysis reversed", func(o *pipeline.Options) { o.AnalysisEnd = o.AnalysisStart.AddDate(0, 0, -1) }},
		{"baseline reversed", func(o *pipeline.Options) { o.Baseline = climatology.Baseline{} }},
		{"unknown crop", func(o *pipeline.Options) { o.Crop = "quinoa" }},
		{"no publish timeout", func(o *pipeline.Options) { o.PublishTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			_, err := pipeline.New(mem, cache, svc, &recordingLoader{}, discardLogger(), observability.NewMetricsForTesting(), opts)
			assert.Error(t, err)
		})
	}
}

func TestProfileLoader_RejectsForeignGranularity(t *testing.T) {
	svc, err := engine.New(engine.DefaultOptions(), discardLogger())
	require.NoError(t, err)
	loader := pipeline.NewProfileLoader(source.NewMemory(), svc, discardLogger(), observability.NewMetricsForTesting())

	_, err = loader.LoadProfile(context.Background(), climatology.Key{
		Location:     "nairobi",
		Variable:     domain.Precipitation,
		Granularity:  domain.Dekadal,
		Accumulation: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInputValidation)
}

func TestInstrument(t *testing.T) {
	mem := source.NewMemory()
	seed(mem, nairobi, false)
	metrics := observability.NewMetricsForTesting()
	f := pipeline.Instrument(mem, "memory", metrics)

	day := time.Date(2012, time.May, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.Fetch(context.Background(), nairobi, domain.Precipitation, day, day)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), nairobi, domain.Temperature, day, day)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SourceFetches.WithLabelValues("memory", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SourceFetches.WithLabelValues("memory", "error")))
}
