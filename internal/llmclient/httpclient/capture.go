package httpclient

import (
	"io"
	"net/http"
	"sync"
)

// CaptureRoundTripper copies every response body it sees to a writer while the
// caller reads it. The captured bytes are exactly what the upstream sent, so a
// captured stream can be replayed later with the parse command.
type CaptureRoundTripper struct {
	transport http.RoundTripper

	mu sync.Mutex
	w  io.Writer
}

// NewCaptureRoundTripper creates a capture round tripper writing to w
func NewCaptureRoundTripper(transport http.RoundTripper, w io.Writer) *CaptureRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CaptureRoundTripper{transport: transport, w: w}
}

// RoundTrip executes a single HTTP transaction and tees the response body
func (c *CaptureRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.transport.RoundTrip(req)
	if err != nil || resp.Body == nil || resp.Body == http.NoBody {
		return resp, err
	}
	resp.Body = &teeBody{rc: resp.Body, owner: c}
	return resp, nil
}

func (c *CaptureRoundTripper) write(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.w.Write(p)
}

type teeBody struct {
	rc    io.ReadCloser
	owner *CaptureRoundTripper
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.owner.write(p[:n])
	}
	return n, err
}

func (b *teeBody) Close() error {
	return b.rc.Close()
}
