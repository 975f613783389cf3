package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/climatology"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/engine"
	"github.com/couchcryptid/climate-indicator-service/internal/observability"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
	"golang.org/x/sync/singleflight"
)

const recentBaselines = 16

// ProfileLoader builds climatology profiles on cache misses. Profiles of
// different accumulation windows share one baseline series, so the most
// recent baseline fetches are kept and concurrent fetches are collapsed.
type ProfileLoader struct {
	fetcher source.Fetcher
	service *engine.Service
	logger  *slog.Logger
	metrics *observability.Metrics

	group  singleflight.Group
	mu     sync.Mutex
	recent map[string]domain.Series
	order  []string
}

// NewProfileLoader creates a loader fetching baselines from f.
func NewProfileLoader(f source.Fetcher, svc *engine.Service, logger *slog.Logger, metrics *observability.Metrics) *ProfileLoader {
	return &ProfileLoader{
		fetcher: f,
		service: svc,
		logger:  logger,
		metrics: metrics,
		recent:  make(map[string]domain.Series),
	}
}

// LoadProfile implements climatology.Loader.
func (l *ProfileLoader) LoadProfile(ctx context.Context, key climatology.Key) (*domain.Profile, error) {
	if g := l.service.Options().Climatology.Granularity; key.Granularity != g {
		return nil, domain.NewValidationError("profile requested at %s granularity, service builds %s", key.Granularity, g)
	}
	series, err := l.baseline(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch baseline: %w", err)
	}

	start := time.Now()
	prof, err := l.service.Profile(series, climatology.Baseline{Start: key.Start, End: key.End}, key.Accumulation)
	if err != nil {
		return nil, err
	}
	if fb := prof.FallbackPeriods(); len(fb) > 0 {
		l.metrics.GammaFallbacks.Add(float64(len(fb)))
		l.logger.Info("empirical fallback used", "location", key.Location, "window", key.Accumulation, "periods", fb)
	}
	l.logger.Debug("profile built", "key", key.String(), "duration", time.Since(start))
	return prof, nil
}

func (l *ProfileLoader) baseline(ctx context.Context, key climatology.Key) (domain.Series, error) {
	id := fmt.Sprintf("%s@%.4f,%.4f|%s|%s|%s", key.Location, key.Lat, key.Lon, key.Variable,
		key.Start.Format(time.DateOnly), key.End.Format(time.DateOnly))

	l.mu.Lock()
	s, ok := l.recent[id]
	l.mu.Unlock()
	if ok {
		return s, nil
	}

	v, err, _ := l.group.Do(id, func() (any, error) {
		s, err := l.fetcher.Fetch(ctx, key.Point(), key.Variable, key.Start, key.End)
		if err != nil {
			return nil, err
		}
		l.remember(id, s)
		return s, nil
	})
	if err != nil {
		return domain.Series{}, err
	}
	return v.(domain.Series), nil
}

func (l *ProfileLoader) remember(id string, s domain.Series) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.recent[id]; ok {
		return
	}
	l.recent[id] = s
	l.order = append(l.order, id)
	if len(l.order) > recentBaselines {
		delete(l.recent, l.order[0])
		l.order = l.order[1:]
	}
}
