package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/tingly-loop/internal/protocol/dialect"
)

// maxErrorBody caps how much of a failed response is kept in StatusError
const maxErrorBody = 64 << 10

var errBuildRequest = errors.New("build http request")

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.Code, body)
}

// Transport sends dialect requests over HTTP
type Transport struct {
	client *http.Client
	log    logrus.FieldLogger
	retry  *RetryConfig
}

// NewTransport wraps client. Nil arguments fall back to http.DefaultClient
// and the standard logger.
func NewTransport(client *http.Client, log logrus.FieldLogger, opts ...TransportOption) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Transport{client: client, log: log}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send performs req and returns the response body for the caller to read and
// close. Non-2xx statuses are returned as *StatusError. With retries enabled,
// retryable failures are attempted again before Send returns.
func (t *Transport) Send(ctx context.Context, req *dialect.Request) (io.ReadCloser, error) {
	if t.retry == nil {
		return t.send(ctx, req)
	}

	var body io.ReadCloser
	attempt := 0
	op := func() error {
		attempt++
		rc, err := t.send(ctx, req)
		if err != nil {
			if !retryable(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = rc
		return nil
	}
	notify := func(err error, next time.Duration) {
		t.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    next,
		}).Warn("retrying upstream request")
	}
	if err := backoff.RetryNotify(op, t.retry.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (t *Transport) send(ctx context.Context, req *dialect.Request) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBuildRequest, err)
	}
	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = http.Header{}
	}

	t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL,
		"bytes":  len(req.Body),
	}).Debug("sending upstream request")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		t.log.WithField("status", resp.StatusCode).Warn("upstream request failed")
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}
