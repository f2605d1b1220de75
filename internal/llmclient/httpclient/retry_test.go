package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingly-dev/tingly-loop/internal/protocol/dialect"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestTransport_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := NewTransport(nil, quietLogger(), WithRetry(fastRetry(3)))
	body, err := tr.Send(context.Background(), &dialect.Request{Method: http.MethodPost, URL: srv.URL})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(raw))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransport_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := NewTransport(nil, quietLogger(), WithRetry(fastRetry(3)))
	_, err := tr.Send(context.Background(), &dialect.Request{Method: http.MethodPost, URL: srv.URL})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewTransport(nil, quietLogger(), WithRetry(fastRetry(2)))
	_, err := tr.Send(context.Background(), &dialect.Request{Method: http.MethodPost, URL: srv.URL})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, IsRetryableStatus(http.StatusTooManyRequests))
	assert.True(t, IsRetryableStatus(http.StatusServiceUnavailable))
	assert.False(t, IsRetryableStatus(http.StatusUnauthorized))
	assert.False(t, IsRetryableStatus(http.StatusOK))
}
