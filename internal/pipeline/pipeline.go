package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/climatology"
	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/couchcryptid/climate-indicator-service/internal/engine"
	"github.com/couchcryptid/climate-indicator-service/internal/hazard"
	"github.com/couchcryptid/climate-indicator-service/internal/observability"
	"github.com/couchcryptid/climate-indicator-service/internal/source"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var validate = validator.New()

// BatchLoader writes the results of one batch to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, results []LocationResult) error
}

// Options configures a batch run.
type Options struct {
	Dataset       string
	Workers       int `validate:"gte=1,lte=256"`
	Baseline      climatology.Baseline
	AnalysisStart time.Time `validate:"required"`
	AnalysisEnd   time.Time `validate:"required,gtfield=AnalysisStart"`
	// Windows are the SPI accumulation windows, in periods.
	Windows []int `validate:"min=1,dive,gte=1,lte=48"`
	// Crop enables crop stress assessment for every detected season.
	Crop           string
	PublishRetries int           `validate:"gte=0"`
	PublishTimeout time.Duration `validate:"gt=0"`
}

// Pipeline fetches, computes, and publishes indicators for a set of locations.
type Pipeline struct {
	fetcher  source.Fetcher
	profiles *climatology.Cache
	service  *engine.Service
	loader   BatchLoader
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options
	ready    atomic.Bool
	last     atomic.Pointer[RunSummary]
}

// New creates a Pipeline. profiles should be backed by a ProfileLoader over
// the same fetcher.
func New(f source.Fetcher, profiles *climatology.Cache, svc *engine.Service, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts Options) (*Pipeline, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("pipeline options: %w", err)
	}
	if !opts.Baseline.End.After(opts.Baseline.Start) {
		return nil, errors.New("pipeline options: baseline end must follow its start")
	}
	if opts.Crop != "" {
		if _, err := hazard.ThresholdsFor(opts.Crop); err != nil {
			return nil, fmt.Errorf("pipeline options: %w", err)
		}
	}
	return &Pipeline{
		fetcher:  f,
		profiles: profiles,
		service:  svc,
		loader:   l,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// CheckReadiness returns nil once a batch has been published,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published a batch yet")
	}
	return nil
}

// RunSummary describes the most recent Run without its indicator payloads.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Status     domain.Status `json:"status"`
	Message    string        `json:"message"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
}

// LastRun returns the summary of the most recent Run, if any.
func (p *Pipeline) LastRun() (RunSummary, bool) {
	s := p.last.Load()
	if s == nil {
		return RunSummary{}, false
	}
	return *s, true
}

// BatchResult is the outcome of one Run.
type BatchResult struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []LocationResult `json:"results"`
	// Skipped lists locations that were never started because the run was cancelled.
	Skipped []string `json:"skipped,omitempty"`
}

// Run processes every location on a bounded worker pool and publishes the
// completed results. A failing location is recorded on its own result and
// does not stop the batch. Cancelling ctx abandons locations that have not
// started; results already computed are still published and returned.
func (p *Pipeline) Run(ctx context.Context, jobs []domain.Location) domain.Response[BatchResult] {
	resp := p.run(ctx, jobs)
	if resp.Data.RunID == "" {
		return resp
	}
	summary := RunSummary{
		RunID:      resp.Data.RunID,
		StartedAt:  resp.Data.StartedAt,
		FinishedAt: resp.Data.FinishedAt,
		Status:     resp.Status,
		Message:    resp.Message,
		Processed:  len(resp.Data.Results),
		Skipped:    len(resp.Data.Skipped),
	}
	for _, r := range resp.Data.Results {
		if r.Outcome() == OutcomeFailed {
			summary.Failed++
		}
	}
	p.last.Store(&summary)
	return resp
}

func (p *Pipeline) run(ctx context.Context, jobs []domain.Location) domain.Response[BatchResult] {
	if err := validateJobs(jobs); err != nil {
		return domain.Fail[BatchResult](err)
	}

	batch := BatchResult{RunID: uuid.NewString(), StartedAt: domain.Now()}
	logger := p.logger.With("run_id", batch.RunID)
	logger.Info("batch started", "locations", len(jobs), "workers", p.opts.Workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	start := time.Now()

	results := make([]*LocationResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, loc := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := p.process(ctx, batch.RunID, loc)
			results[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, r := range results {
		if r == nil {
			batch.Skipped = append(batch.Skipped, jobs[i].ID)
			continue
		}
		batch.Results = append(batch.Results, *r)
		if r.Outcome() == OutcomeFailed {
			errs = append(errs, r.err())
		}
	}
	batch.FinishedAt = domain.Now()
	p.metrics.BatchDuration.Observe(time.Since(start).Seconds())

	if len(batch.Results) > 0 {
		if err := p.publish(ctx, batch.Results); err != nil {
			logger.Error("publish batch failed", "error", err, "batch_size", len(batch.Results))
			return domain.FailWith(batch, fmt.Errorf("publish results: %w", err))
		}
		p.metrics.MessagesProduced.Add(float64(len(batch.Results)))
		p.ready.Store(true)
	}

	logger.Info("batch finished",
		"processed", len(batch.Results),
		"failed", len(errs),
		"skipped", len(batch.Skipped),
		"duration", time.Since(start),
	)

	switch {
	case ctx.Err() != nil:
		return domain.FailWith(batch, fmt.Errorf("batch cancelled after %d of %d locations: %w",
			len(batch.Results), len(jobs), ctx.Err()))
	case len(errs) == len(jobs):
		return domain.FailWith(batch, fmt.Errorf("all %d locations failed: %w", len(jobs), errors.Join(errs...)))
	}
	msg := fmt.Sprintf("batch %s: %d locations processed", batch.RunID, len(batch.Results))
	if len(errs) > 0 {
		msg += fmt.Sprintf(", %d failed", len(errs))
	}
	return domain.OK(batch, msg)
}

func validateJobs(jobs []domain.Location) error {
	if len(jobs) == 0 {
		return domain.NewValidationError("no locations to process")
	}
	seen := make(map[string]bool, len(jobs))
	for _, loc := range jobs {
		if loc.ID == "" {
			return domain.NewValidationError("location without id")
		}
		if seen[loc.ID] {
			return domain.NewValidationError("location %q listed twice", loc.ID)
		}
		seen[loc.ID] = true
	}
	return nil
}

// publish hands the results to the loader, retrying with backoff. It runs on
// a context detached from ctx's cancellation so a cancelled run still
// publishes what it completed.
func (p *Pipeline) publish(ctx context.Context, results []LocationResult) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PublishTimeout)
	defer cancel()

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	var err error
	for attempt := 0; attempt <= p.opts.PublishRetries; attempt++ {
		if err = p.loader.LoadBatch(ctx, results); err == nil {
			return nil
		}
		if attempt == p.opts.PublishRetries {
			break
		}
		p.logger.Warn("load batch failed, retrying", "error", err, "attempt", attempt+1, "backoff", backoff)
		if !sleepWithContext(ctx, backoff) {
			return fmt.Errorf("%w (gave up: %w)", err, ctx.Err())
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return err
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
