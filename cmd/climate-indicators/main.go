package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/climate-indicator-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/climate-indicator-service/internal/adapter/kafka"
	"github.com/couchcryptid/climate-indicator-service/internal/climatology"
	"github.com/couchcryptid/climate-indicator-service/internal/config"
	"github.com/couchcryptid/climate-indicator-service/internal/engine"
	"github.com/couchcryptid/climate-indicator-service/internal/observability"
	"github.com/couchcryptid/climate-indicator-service/internal/pipeline"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	fetcher, dataset, err := newFetcher(cfg, logger)
	if err != nil {
		logger.Error("failed to create source", "error", err)
		os.Exit(1)
	}
	fetcher = pipeline.Instrument(fetcher, dataset, metrics)

	opts := engine.DefaultOptions()
	opts.Climatology.Granularity = cfg.Granularity
	opts.Season.Cessation = cfg.SeasonCessation
	svc, err := engine.New(opts, logger)
	if err != nil {
		logger.Error("invalid engine options", "error", err)
		os.Exit(1)
	}

	profiles := climatology.NewCache(pipeline.NewProfileLoader(fetcher, svc, logger, metrics), cfg.ProfileCacheSize, metrics)
	writer := kafkaadapter.NewWriter(cfg, logger)

	analysis := climatology.YearsBaseline(cfg.AnalysisStartYear, cfg.AnalysisEndYear)
	p, err := pipeline.New(fetcher, profiles, svc, writer, logger, metrics, pipeline.Options{
		Dataset:        dataset,
		Workers:        cfg.Workers,
		Baseline:       climatology.YearsBaseline(cfg.BaselineStartYear, cfg.BaselineEndYear),
		AnalysisStart:  analysis.Start,
		AnalysisEnd:    analysis.End,
		Windows:        cfg.SPIWindows,
		Crop:           cfg.Crop,
		PublishRetries: 3,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		logger.Error("invalid pipeline options", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run the batch once; the server keeps reporting its outcome until shutdown.
	go func() {
		resp := p.Run(ctx, cfg.Locations)
		if !resp.Succeeded() {
			logger.Error("batch failed", "status", resp.Status, "status_code", resp.StatusCode, "message", resp.Message)
			return
		}
		logger.Info("batch complete", "message", resp.Message)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// newFetcher returns the replay snapshot when one is configured and the
// dataset client otherwise, along with the label used in metrics.
func newFetcher(cfg *config.Config, logger *slog.Logger) (source.Fetcher, string, error) {
	if cfg.ReplayFile != "" {
		mem, snap, err := source.OpenSnapshot(cfg.ReplayFile)
		if err != nil {
			return nil, "", err
		}
		logger.Info("replaying snapshot", "file", cfg.ReplayFile, "dataset", snap.Dataset,
			"series", len(snap.Series), "created_at", snap.CreatedAt.Format(time.RFC3339))
		return mem, "replay", nil
	}

	opts := source.DefaultOptions()
	opts.HTTPClient = &http.Client{Timeout: cfg.SourceTimeout}
	opts.BaseURL = cfg.SourceBaseURL
	opts.RequestsPerSecond = cfg.SourceRateLimit
	opts.MaxRetries = cfg.SourceMaxRetries
	opts.Logger = logger
	f, err := source.New(cfg.Dataset, opts)
	if err != nil {
		return nil, "", err
	}
	return f, string(cfg.Dataset), nil
}
