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

const nasaPowerURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

// nasaPowerFill is the POWER placeholder for days without data.
const nasaPowerFill = -999.0

var nasaPowerParameters = map[domain.Variable]string{
	domain.Precipitation:  "PRECTOTCORR",
	domain.Temperature:    "T2M",
	domain.TemperatureMax: "T2M_MAX",
	domain.TemperatureMin: "T2M_MIN",
}

type nasaPower struct {
	baseURL string
	client  *client
}

func newNASAPower(opts Options) *nasaPower {
	base := opts.BaseURL
	if base == "" {
		base = nasaPowerURL
	}
	return &nasaPower{baseURL: base, client: newClient(string(NASAPower), opts)}
}

type nasaPowerResponse struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}

func (n *nasaPower) Fetch(ctx context.Context, loc domain.Location, v domain.Variable, start, end time.Time) (domain.Series, error) {
	param, ok := nasaPowerParameters[v]
	if !ok {
		return domain.Series{}, domain.NewValidationError("nasa_power has no %q parameter", v)
	}
	if err := validateRange(start, end); err != nil {
		return domain.Series{}, err
	}

	q := url.Values{}
	q.Set("start", start.UTC().Format("20060102"))
	q.Set("end", end.UTC().Format("20060102"))
	q.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	q.Set("community", "AG")
	q.Set("parameters", param)
	q.Set("format", "JSON")

	body, err := n.client.get(ctx, n.baseURL+"?"+q.Encode())
	if err != nil {
		return domain.Series{}, err
	}

	var payload nasaPowerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Series{}, fmt.Errorf("nasa_power: decode response: %w", err)
	}

	values := make(map[time.Time]float64)
	var dropped int
	for day, val := range payload.Properties.Parameter[param] {
		t, err := time.Parse("20060102", day)
		if err != nil {
			dropped++
			continue
		}
		if val == nasaPowerFill || (v == domain.Precipitation && val < 0) {
			continue
		}
		values[t] = val
	}
	if dropped > 0 {
		n.client.logger.Warn("skipped malformed dates", "location", loc.ID, "parameter", param, "count", dropped)
	}
	return domain.FillDaily(loc.ID, v, start, end, values), nil
}
