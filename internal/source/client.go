package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/climate-indicator-service/internal/domain"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errClientError = errors.New("unexpected status code")
)

// client performs throttled GET requests with retries, exponential backoff
// and a circuit breaker. Every failure it returns wraps domain.ErrSourceUnreachable.
type client struct {
	name    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	opts    Options
	logger  *slog.Logger
}

func newClient(name string, opts Options) *client {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultOptions().InitialBackoff
	}
	return &client{
		name:    name,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, max(opts.Burst, 1)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			// A 4xx is the caller's fault, not the upstream's.
			IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errClientError) },
		}),
		opts:   opts,
		logger: opts.Logger.With("source", name),
	}
}

// get returns the body of a successful response to url. Every attempt,
// retries included, waits for the rate limiter.
func (c *client) get(ctx context.Context, url string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit wait canceled: %w: %w", c.name, domain.ErrSourceUnreachable, err)
		}

		result, err := c.breaker.Execute(func() (any, error) {
			return c.do(ctx, url)
		})
		if err == nil {
			return result.([]byte), nil
		}

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%s: circuit breaker open: %w: %w", c.name, domain.ErrSourceUnreachable, err)
		case errors.Is(err, errClientError):
			return nil, fmt.Errorf("%s: %w: %w", c.name, domain.ErrSourceUnreachable, err)
		case attempt >= c.opts.MaxRetries:
			return nil, fmt.Errorf("%s: giving up after %d attempts: %w: %w", c.name, attempt+1, domain.ErrSourceUnreachable, err)
		}

		delay := c.opts.InitialBackoff << attempt
		if c.opts.MaxBackoff > 0 && delay > c.opts.MaxBackoff {
			delay = c.opts.MaxBackoff
		}
		c.logger.Warn("request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: %w: %w", c.name, domain.ErrSourceUnreachable, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *client) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %d", errClientError, resp.StatusCode)
	}
	return body, nil
}
