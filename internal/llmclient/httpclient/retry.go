package httpclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls how a request is retried before any response body
// reaches the caller. A streamed body is never replayed.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig returns exponential backoff starting at 500ms
func DefaultRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (rc RetryConfig) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if rc.InitialDelay > 0 {
		b.InitialInterval = rc.InitialDelay
	}
	if rc.MaxDelay > 0 {
		b.MaxInterval = rc.MaxDelay
	}
	if rc.Multiplier > 0 {
		b.Multiplier = rc.Multiplier
	}
	if !rc.Jitter {
		b.RandomizationFactor = 0
	}
	// the retry count bounds the run, not elapsed time
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(rc.MaxRetries)), ctx)
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithRetry retries rate limits, 5xx responses and connection failures
func WithRetry(cfg RetryConfig) TransportOption {
	return func(t *Transport) {
		if cfg.MaxRetries > 0 {
			t.retry = &cfg
		}
	}
}

// IsRetryableStatus reports whether an HTTP status is worth retrying (429 or 5xx)
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// retryable classifies a Send failure
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableStatus(se.Code)
	}
	return !errors.Is(err, errBuildRequest)
}
