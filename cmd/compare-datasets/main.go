// Command compare-datasets fetches the same daily series from several
// datasets and reports how each one differs from the first, period by period.
//
// Usage:
//
//	go run ./cmd/compare-datasets -datasets nasa_power,open_meteo \
//	  -location nairobi:-1.286:36.817 -from 2015 -to 2020 -variable precipitation
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/config"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/engine"
	"github.com/couchcryptid/climate-indicator-service/internal/observability"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
	"golang.org/x/sync/errgroup"
)

// named pairs a fetcher with the dataset it reads.
type named struct {
	dataset string
	fetcher source.Fetcher
}

func main() {
	datasets := flag.String("datasets", "nasa_power,open_meteo", "comma-separated datasets; the first is the reference")
	location := flag.String("location", "", "id:lat:lon to compare (default: first configured location)")
	variable := flag.String("variable", string(domain.Precipitation), "variable to compare")
	from := flag.Int("from", 0, "first year")
	to := flag.Int("to", 0, "last year")
	asJSON := flag.Bool("json", false, "print the comparisons as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := observability.NewLogger(cfg)

	loc, err := pickLocation(*location, cfg.Locations)
	if err != nil {
		log.Fatalf("-location: %v", err)
	}
	v, err := domain.ParseVariable(*variable)
	if err != nil {
		log.Fatalf("-variable: %v", err)
	}
	if *from == 0 || *to < *from {
		flag.Usage()
		os.Exit(1)
	}

	var sources []named
	for _, name := range strings.Split(*datasets, ",") {
		ds, err := source.ParseDataset(strings.TrimSpace(name))
		if err != nil {
			log.Fatalf("-datasets: %v", err)
		}
		opts := source.DefaultOptions()
		opts.HTTPClient = &http.Client{Timeout: cfg.SourceTimeout}
		opts.RequestsPerSecond = cfg.SourceRateLimit
		opts.MaxRetries = cfg.SourceMaxRetries
		opts.Logger = logger
		f, err := source.New(ds, opts)
		if err != nil {
			log.Fatalf("create %s source: %v", ds, err)
		}
		sources = append(sources, named{dataset: string(ds), fetcher: f})
	}
	if len(sources) < 2 {
		log.Fatal("-datasets needs at least two datasets")
	}

	opts := engine.DefaultOptions()
	opts.Climatology.Granularity = cfg.Granularity
	svc, err := engine.New(opts, logger)
	if err != nil {
		log.Fatalf("invalid engine options: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Date(*from, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(*to, time.December, 31, 0, 0, 0, 0, time.UTC)
	results, err := compareAll(ctx, svc, sources, loc, v, start, end)
	if err != nil {
		log.Fatalf("compare: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatalf("encode: %v", err)
		}
	} else {
		report(os.Stdout, results)
	}
	for _, r := range results {
		if !r.Succeeded() {
			os.Exit(1)
		}
	}
}

func pickLocation(flagValue string, configured []domain.Location) (domain.Location, error) {
	if flagValue == "" {
		if len(configured) == 0 {
			return domain.Location{}, fmt.Errorf("no location given and none configured")
		}
		return configured[0], nil
	}
	locs, err := config.ParseLocations(flagValue)
	if err != nil {
		return domain.Location{}, err
	}
	if len(locs) != 1 {
		return domain.Location{}, fmt.Errorf("want exactly one location, got %d", len(locs))
	}
	return locs[0], nil
}

// compareAll fetches every dataset concurrently and compares each one after
// the first against the first.
func compareAll(ctx context.Context, svc *engine.Service, sources []named, loc domain.Location, v domain.Variable, start, end time.Time) ([]domain.Response[engine.DatasetComparison], error) {
	series := make([]domain.Series, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			s, err := src.fetcher.Fetch(gctx, loc, v, start, end)
			if err != nil {
				return fmt.Errorf("%s: %w", src.dataset, err)
			}
			series[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ref := engine.DatasetSeries{Dataset: sources[0].dataset, Series: series[0]}
	out := make([]domain.Response[engine.DatasetComparison], 0, len(sources)-1)
	for i := 1; i < len(sources); i++ {
		out = append(out, svc.CompareDatasets(ref, engine.DatasetSeries{Dataset: sources[i].dataset, Series: series[i]}))
	}
	return out, nil
}

func report(w io.Writer, results []domain.Response[engine.DatasetComparison]) {
	for _, r := range results {
		if !r.Succeeded() {
			fmt.Fprintf(w, "FAILED (%d): %s\n", r.StatusCode, r.Message)
			continue
		}
		c := r.Data
		fmt.Fprintf(w, "=== %s %s: %s vs %s (%s) ===\n", c.Location, c.Variable, c.Reference.Dataset, c.Candidate.Dataset, c.Granularity)
		for _, cov := range []engine.DatasetCoverage{c.Reference, c.Candidate} {
			fmt.Fprintf(w, "  %-12s %d/%d days observed\n", cov.Dataset, cov.ObservedDays, cov.Days)
		}
		fmt.Fprintf(w, "  %s\n", r.Message)
		if c.MeanDelta != nil {
			fmt.Fprintf(w, "  mean difference %+.2f, mean absolute difference %.2f\n", *c.MeanDelta, *c.MeanAbsDiff)
		}
		if c.Correlation != nil {
			fmt.Fprintf(w, "  correlation %.3f\n", *c.Correlation)
		}
		for _, ch := range c.Periods.Matched {
			fmt.Fprintf(w, "  %s %10.2f %10.2f %+10.2f\n", ch.Location, ch.A, ch.B, ch.Delta)
		}
		for _, k := range c.Periods.OnlyInA {
			fmt.Fprintf(w, "  %s only in %s\n", k, c.Reference.Dataset)
		}
		for _, k := range c.Periods.OnlyInB {
			fmt.Fprintf(w, "  %s only in %s\n", k, c.Candidate.Dataset)
		}
	}
}
