package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/engine"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nairobi = domain.Location{ID: "nairobi", Lat: -1.286, Lon: 36.817}
	start   = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
	end     = time.Date(2021, time.December, 31, 0, 0, 0, 0, time.UTC)
)

func memorySource(name string, mmPerDay float64) named {
	vals := make(map[time.Time]float64)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		vals[d] = mmPerDay
	}
	mem := source.NewMemory()
	mem.Put(domain.FillDaily(nairobi.ID, domain.Precipitation, start, end, vals))
	return named{dataset: name, fetcher: mem}
}

func newService(t *testing.T) *engine.Service {
	t.Helper()
	svc, err := engine.New(engine.DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return svc
}

func TestCompareAll(t *testing.T) {
	sources := []named{memorySource("ref", 2), memorySource("wet", 4), memorySource("dry", 1)}

	got, err := compareAll(context.Background(), newService(t), sources, nairobi, domain.Precipitation, start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, want := range []struct {
		candidate string
		delta     float64
	}{
		{"wet", 2 * 365.0 / 12},
		{"dry", -365.0 / 12},
	} {
		require.True(t, got[i].Succeeded(), got[i].Message)
		c := got[i].Data
		assert.Equal(t, "ref", c.Reference.Dataset)
		assert.Equal(t, want.candidate, c.Candidate.Dataset)
		assert.Len(t, c.Periods.Matched, 12)
		require.NotNil(t, c.MeanDelta)
		assert.InDelta(t, want.delta, *c.MeanDelta, 1e-9)
	}

	var buf bytes.Buffer
	report(&buf, got)
	assert.Contains(t, buf.String(), "ref vs wet: 12 periods matched")
	assert.Contains(t, buf.String(), "2021-03-01")
}

func TestCompareAll_FetchFailure(t *testing.T) {
	sources := []named{memorySource("ref", 2), {dataset: "empty", fetcher: source.NewMemory()}}

	_, err := compareAll(context.Background(), newService(t), sources, nairobi, domain.Precipitation, start, end)
	require.ErrorIs(t, err, domain.ErrSourceUnreachable)
	assert.ErrorContains(t, err, "empty")
}

func TestPickLocation(t *testing.T) {
	configured := []domain.Location{nairobi}

	loc, err := pickLocation("", configured)
	require.NoError(t, err)
	assert.Equal(t, nairobi, loc)

	loc, err = pickLocation("kisumu:-0.09:34.77", configured)
	require.NoError(t, err)
	assert.Equal(t, "kisumu", loc.ID)

	_, err = pickLocation("", nil)
	assert.Error(t, err)
	_, err = pickLocation("a:1:1,b:2:2", configured)
	assert.Error(t, err)
}
