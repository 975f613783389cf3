package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
)

// Memory serves series held in process. It is used for replays and tests.
type Memory struct {
	mu     sync.RWMutex
	series map[string]domain.Series
}

// NewMemory creates an empty Memory fetcher.
func NewMemory() *Memory {
	return &Memory{series: make(map[string]domain.Series)}
}

func memoryKey(location string, v domain.Variable) string {
	return location + "|" + string(v)
}

// Put stores s, replacing any series for the same location and variable.
func (m *Memory) Put(s domain.Series) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[memoryKey(s.Location, s.Variable)] = s
}

// Fetch returns the stored series clipped to [start, end] and filled to a
// gap-explicit daily series.
func (m *Memory) Fetch(ctx context.Context, loc domain.Location, v domain.Variable, start, end time.Time) (domain.Series, error) {
	if err := ctx.Err(); err != nil {
		return domain.Series{}, err
	}
	if err := validateRange(start, end); err != nil {
		return domain.Series{}, err
	}
	m.mu.RLock()
	s, ok := m.series[memoryKey(loc.ID, v)]
	m.mu.RUnlock()
	if !ok {
		return domain.Series{}, fmt.Errorf("memory: no %s series for %s: %w", v, loc.ID, domain.ErrSourceUnreachable)
	}

	values := make(map[time.Time]float64)
	for _, p := range s.Between(domain.Day(start), domain.Day(end)).Points {
		if !p.Missing {
			values[domain.Day(p.Time)] = p.Value
		}
	}
	return domain.FillDaily(loc.ID, v, start, end, values), nil
}
