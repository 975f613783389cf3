package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/observability"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
)

type instrumentedFetcher struct {
	next    source.Fetcher
	dataset string
	metrics *observability.Metrics
}

// Instrument records fetch counts and latency for f under the dataset label.
func Instrument(f source.Fetcher, dataset string, metrics *observability.Metrics) source.Fetcher {
	return &instrumentedFetcher{next: f, dataset: dataset, metrics: metrics}
}

func (f *instrumentedFetcher) Fetch(ctx context.Context, loc domain.Location, v domain.Variable, start, end time.Time) (domain.Series, error) {
	began := time.Now()
	s, err := f.next.Fetch(ctx, loc, v, start, end)
	f.metrics.SourceFetchDuration.WithLabelValues(f.dataset).Observe(time.Since(began).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	f.metrics.SourceFetches.WithLabelValues(f.dataset, outcome).Inc()
	return s, err
}
