// Command snapshot records the daily series the batch needs for every
// configured location into a replay file. Pointing REPLAY_FILE at the output
// reruns the batch offline against exactly the same observations.
//
// Usage:
//
//	DATASET=open_meteo LOCATIONS=nairobi:-1.286:36.817 \
//	  go run ./cmd/snapshot -out data/snapshot.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/climate-indicator-service/internal/climatology"
	"github.com/couchcryptid/climate-indicator-service/internal/config"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/observability"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
)

var variables = []domain.Variable{
	domain.Precipitation,
	domain.Temperature,
	domain.TemperatureMax,
	domain.TemperatureMin,
}

func main() {
	out := flag.String("out", "snapshot.json", "output snapshot file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := observability.NewLogger(cfg)

	opts := source.DefaultOptions()
	opts.HTTPClient = &http.Client{Timeout: cfg.SourceTimeout}
	opts.BaseURL = cfg.SourceBaseURL
	opts.RequestsPerSecond = cfg.SourceRateLimit
	opts.MaxRetries = cfg.SourceMaxRetries
	opts.Logger = logger
	fetcher, err := source.New(cfg.Dataset, opts)
	if err != nil {
		log.Fatalf("create source: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One range covers both the baseline and the analysis years.
	span := climatology.YearsBaseline(
		min(cfg.BaselineStartYear, cfg.AnalysisStartYear),
		max(cfg.BaselineEndYear, cfg.AnalysisEndYear),
	)

	mem := source.NewMemory()
	var missing int
	for _, loc := range cfg.Locations {
		for _, v := range variables {
			s, err := fetcher.Fetch(ctx, loc, v, span.Start, span.End)
			if err != nil {
				if ctx.Err() != nil {
					log.Fatalf("interrupted: %v", ctx.Err())
				}
				logger.Warn("series skipped", "location", loc.ID, "variable", v, "error", err)
				missing++
				continue
			}
			mem.Put(s)
			logger.Info("series recorded", "location", loc.ID, "variable", v, "days", s.Len())
		}
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	if err := mem.WriteSnapshot(f, string(cfg.Dataset)); err != nil {
		f.Close()
		log.Fatalf("write snapshot: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("close %s: %v", *out, err)
	}

	fmt.Printf("wrote %s: %d locations, %d series skipped\n", *out, len(cfg.Locations), missing)
}
