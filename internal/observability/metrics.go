package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "climate_indicators"

// Metrics holds the Prometheus counters, histograms, and gauges for the batch pipeline.
type Metrics struct {
	PipelineRunning  prometheus.Gauge
	MessagesProduced prometheus.Counter

	// Batch processing metrics.
	BatchDuration      prometheus.Histogram
	LocationDuration   prometheus.Histogram
	LocationsProcessed *prometheus.CounterVec // labels: outcome={success,partial,failed}
	IndicatorsProduced *prometheus.CounterVec // labels: kind={anomaly,spi,season,crop}

	// Upstream source metrics.
	SourceFetches       *prometheus.CounterVec   // labels: dataset, outcome={success,error}
	SourceFetchDuration *prometheus.HistogramVec // labels: dataset

	// Climatology metrics.
	ProfileCache   *prometheus.CounterVec // labels: result={hit,miss}
	GammaFallbacks prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.MessagesProduced,
		m.BatchDuration,
		m.LocationDuration,
		m.LocationsProcessed,
		m.IndicatorsProduced,
		m.SourceFetches,
		m.SourceFetchDuration,
		m.ProfileCache,
		m.GammaFallbacks,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a batch is running, 0 otherwise.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total location results written to the sink topic.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete batch run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		LocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "location_duration_seconds",
			Help:      "Duration of fetching and computing all indicators for one location.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LocationsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_processed_total",
			Help:      "Locations processed by outcome.",
		}, []string{"outcome"}),
		IndicatorsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indicators_produced_total",
			Help:      "Indicator values produced by kind.",
		}, []string{"kind"}),
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Upstream series fetches by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Upstream series fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"dataset"}),
		ProfileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_total",
			Help:      "Climatology profile cache lookups by result.",
		}, []string{"result"}),
		GammaFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gamma_fallbacks_total",
			Help:      "Baseline periods that fell back to empirical percentiles.",
		}),
	}
}

// ObserveCacheLookup records a climatology cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.ProfileCache.WithLabelValues("hit").Inc()
		return
	}
	m.ProfileCache.WithLabelValues("miss").Inc()
}
