package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
)

const openMeteoURL = "https://archive-api.open-meteo.com/v1/archive"

var openMeteoDaily = map[domain.Variable]string{
	domain.Precipitation:  "precipitation_sum",
	domain.Temperature:    "temperature_2m_mean",
	domain.TemperatureMax: "temperature_2m_max",
	domain.TemperatureMin: "temperature_2m_min",
}

type openMeteo struct {
	baseURL string
	client  *client
}

func newOpenMeteo(opts Options) *openMeteo {
	base := opts.BaseURL
	if base == "" {
		base = openMeteoURL
	}
	return &openMeteo{baseURL: base, client: newClient(string(OpenMeteo), opts)}
}

func (o *openMeteo) Fetch(ctx context.Context, loc domain.Location, v domain.Variable, start, end time.Time) (domain.Series, error) {
	field, ok := openMeteoDaily[v]
	if !ok {
		return domain.Series{}, domain.NewValidationError("open_meteo has no daily %q variable", v)
	}
	if err := validateRange(start, end); err != nil {
		return domain.Series{}, err
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	q.Set("start_date", start.UTC().Format(time.DateOnly))
	q.Set("end_date", end.UTC().Format(time.DateOnly))
	q.Set("daily", field)
	q.Set("timezone", "UTC")
	q.Set("precipitation_unit", "mm")
	q.Set("temperature_unit", "celsius")

	body, err := o.client.get(ctx, o.baseURL+"?"+q.Encode())
	if err != nil {
		return domain.Series{}, err
	}

	var payload struct {
		Daily map[string]json.RawMessage `json:"daily"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Series{}, fmt.Errorf("open_meteo: decode response: %w", err)
	}
	var days []string
	var vals []*float64
	if err := json.Unmarshal(payload.Daily["time"], &days); err != nil {
		return domain.Series{}, fmt.Errorf("open_meteo: decode daily.time: %w", err)
	}
	if err := json.Unmarshal(payload.Daily[field], &vals); err != nil {
		return domain.Series{}, fmt.Errorf("open_meteo: decode daily.%s: %w", field, err)
	}
	if len(days) != len(vals) {
		return domain.Series{}, fmt.Errorf("open_meteo: %d days but %d %s values", len(days), len(vals), field)
	}

	values := make(map[time.Time]float64, len(days))
	for i, day := range days {
		t, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return domain.Series{}, fmt.Errorf("open_meteo: parse day %q: %w", day, err)
		}
		if vals[i] == nil || (v == domain.Precipitation && *vals[i] < 0) {
			continue
		}
		values[t] = *vals[i]
	}
	return domain.FillDaily(loc.ID, v, start, end, values), nil
}
