package engine

import (
	"net/http"
	"testing"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantRain(loc string, mm float64, skip time.Month) domain.Series {
	start := time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, time.December, 31, 0, 0, 0, 0, time.UTC)
	values := make(map[time.Time]float64)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Month() != skip {
			values[d] = mm
		}
	}
	return domain.FillDaily(loc, domain.Precipitation, start, end, values)
}

func TestCompareDatasets(t *testing.T) {
	svc := newService(t)
	ref := DatasetSeries{Dataset: "nasa_power", Series: constantRain(testLocation, 2, 0)}
	cand := DatasetSeries{Dataset: "open_meteo", Series: constantRain(testLocation, 3, time.March)}

	resp := svc.CompareDatasets(ref, cand)
	require.True(t, resp.Succeeded(), resp.Message)
	assert.Equal(t, "nasa_power vs open_meteo: 11 periods matched, 1 unmatched", resp.Message)

	got := resp.Data
	assert.Equal(t, testLocation, got.Location)
	assert.Equal(t, domain.Precipitation, got.Variable)
	assert.Equal(t, domain.Monthly, got.Granularity)
	assert.Equal(t, []string{"2021-03-01"}, got.Periods.OnlyInA)
	assert.Empty(t, got.Periods.OnlyInB)

	require.Len(t, got.Periods.Matched, 11)
	jan := got.Periods.Matched[0]
	assert.Equal(t, "2021-01-01", jan.Location)
	assert.InDelta(t, 62.0, jan.A, 1e-9)
	assert.InDelta(t, 93.0, jan.B, 1e-9)
	require.NotNil(t, jan.PercentChange)
	assert.InDelta(t, 50.0, *jan.PercentChange, 1e-9)

	require.NotNil(t, got.MeanDelta)
	assert.InDelta(t, (365.0-31)/11, *got.MeanDelta, 1e-9)
	assert.InDelta(t, *got.MeanDelta, *got.MeanAbsDiff, 1e-9)
	require.NotNil(t, got.Correlation)
	assert.InDelta(t, 1.0, *got.Correlation, 1e-9)

	assert.Equal(t, 365, got.Reference.ObservedDays)
	assert.Equal(t, 334, got.Candidate.ObservedDays)
	assert.Equal(t, 365, got.Candidate.Days)
	assert.Equal(t, time.Date(2021, time.December, 31, 0, 0, 0, 0, time.UTC), got.Candidate.Last)
}

func TestCompareDatasets_Rejects(t *testing.T) {
	svc := newService(t)
	good := constantRain(testLocation, 2, 0)
	dup := good
	dup.Points = append([]domain.Point(nil), good.Points...)
	dup.Points[4].Time = dup.Points[3].Time

	tests := []struct {
		name string
		a, b DatasetSeries
	}{
		{"same dataset", DatasetSeries{"nasa_power", good}, DatasetSeries{"nasa_power", good}},
		{"unnamed dataset", DatasetSeries{"", good}, DatasetSeries{"open_meteo", good}},
		{"other location", DatasetSeries{"nasa_power", good}, DatasetSeries{"open_meteo", constantRain("kisumu", 2, 0)}},
		{"malformed series", DatasetSeries{"nasa_power", good}, DatasetSeries{"open_meteo", dup}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := svc.CompareDatasets(tt.a, tt.b)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, resp.Message)
		})
	}
}
