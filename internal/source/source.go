// Package source fetches daily observations from upstream climate datasets
// and normalizes them into gap-explicit domain series.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
)

// Dataset names an upstream data source.
type Dataset string

const (
	NASAPower Dataset = "nasa_power"
	OpenMeteo Dataset = "open_meteo"
)

// Datasets lists every supported dataset.
func Datasets() []Dataset { return []Dataset{NASAPower, OpenMeteo} }

// ParseDataset validates a dataset name.
func ParseDataset(s string) (Dataset, error) {
	for _, d := range Datasets() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dataset %q", s)
}

// Fetcher returns the daily series of one variable at one location over the
// inclusive day range [start, end]. Days without data are missing points.
type Fetcher interface {
	Fetch(ctx context.Context, loc domain.Location, v domain.Variable, start, end time.Time) (domain.Series, error)
}

// Options configures an HTTP-backed fetcher.
type Options struct {
	HTTPClient *http.Client
	// BaseURL overrides the dataset endpoint.
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	Logger            *slog.Logger
}

// DefaultOptions returns conservative throttling suited to public APIs.
func DefaultOptions() Options {
	return Options{
		HTTPClient:        &http.Client{Timeout: 60 * time.Second},
		RequestsPerSecond: 2,
		Burst:             1,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		Logger:            slog.Default(),
	}
}

// New returns the fetcher for dataset.
func New(dataset Dataset, opts Options) (Fetcher, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = DefaultOptions().HTTPClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch dataset {
	case NASAPower:
		return newNASAPower(opts), nil
	case OpenMeteo:
		return newOpenMeteo(opts), nil
	default:
		return nil, fmt.Errorf("unknown dataset %q", dataset)
	}
}

func validateRange(start, end time.Time) error {
	if end.Before(start) {
		return domain.NewValidationError("fetch range end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return nil
}
