package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotReady is wrapped by readiness failures.
var ErrNotReady = errors.New("server not ready")

// ReadinessOptions configures how readiness of a started application is detected.
type ReadinessOptions struct {
	// Path is requested on the application, any status below 500 counts as ready.
	// Default: "/"
	Path string
	// InitialInterval is the first delay between attempts. Default: 25ms
	InitialInterval time.Duration
	// MaxInterval caps the exponentially growing delay. Default: 500ms
	MaxInterval time.Duration
	// Timeout bounds the overall wait. Default: 30s
	Timeout time.Duration
	// MaxRetries bounds the number of attempts after the first one. 0 means unlimited
	// within Timeout.
	MaxRetries uint64
	// Client is used for the probe requests. Default: a client with a 2s timeout
	Client *http.Client
}

// DefaultReadinessOptions returns the default readiness options.
func DefaultReadinessOptions() ReadinessOptions {
	return ReadinessOptions{
		Path:            "/",
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Timeout:         30 * time.Second,
		Client:          &http.Client{Timeout: 2 * time.Second},
	}
}

func (o ReadinessOptions) withDefaults() ReadinessOptions {
	d := DefaultReadinessOptions()
	if o.Path == "" {
		o.Path = d.Path
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = d.InitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = d.MaxInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Client == nil {
		o.Client = d.Client
	}
	return o
}

// WaitReady polls baseURL+options.Path until the application answers, the retries are
// exhausted, the timeout expires or ctx is done.
func WaitReady(ctx context.Context, baseURL string, options ReadinessOptions) error {
	options = options.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = options.InitialInterval
	b.MaxInterval = options.MaxInterval
	b.MaxElapsedTime = options.Timeout

	var policy backoff.BackOff = b
	if options.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, options.MaxRetries)
	}

	url := baseURL + options.Path
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := options.Client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("health check returned %d", resp.StatusCode)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrNotReady, url, attempts, ctxErr)
		}
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrNotReady, url, attempts, err)
	}
	return nil
}
