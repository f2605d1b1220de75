// Package dialect translates between the canonical chat shape and the wire
// formats of individual LLM backends.
//
// Every adapter can build an outgoing request, decode a non-streaming
// response and re-encode its native event stream as canonical OpenAI style
// chat.completion.chunk frames.
package dialect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

var (
	// ErrUnknownDialect is returned when no adapter exists for a dialect
	ErrUnknownDialect = errors.New("dialect: unknown dialect")

	// ErrUpstream is returned from a transformed stream when the upstream
	// reports an error event
	ErrUpstream = errors.New("dialect: upstream error")
)

// Adapter is the per-dialect translation contract
type Adapter interface {
	// Dialect returns the dialect this adapter speaks
	Dialect() protocol.Dialect

	// BuildRequest maps canonical messages and options to an HTTP request
	BuildRequest(in RequestInput) (*Request, error)

	// ParseResponse decodes a non-streaming response body
	ParseResponse(raw []byte) (*protocol.Completion, error)

	// TransformStream re-encodes the native stream in body as canonical
	// SSE frames terminated by a single "data: [DONE]" frame
	TransformStream(ctx context.Context, body io.Reader) io.ReadCloser
}

// AuthMode selects how credentials are attached to a request
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthHeader AuthMode = "header"
)

// Auth describes the credentials for one provider
type Auth struct {
	Mode   AuthMode
	Token  string
	Header string
}

// Params are the canonical generation options
type Params struct {
	Model       string
	Messages    []protocol.Message
	Tools       []protocol.ToolSpec
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string
	Stream      bool
	// Extra is merged into the body last, keyed by sjson path
	Extra map[string]any
}

// RequestInput bundles everything BuildRequest needs
type RequestInput struct {
	BaseURL  string
	Endpoint string
	Params   Params
	Auth     Auth
	Headers  map[string]string
}

// Request is a transport-neutral HTTP request
type Request struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
}

// Option configures an adapter
type Option func(*options)

type options struct {
	logger logrus.FieldLogger
}

// WithLogger injects the logger used for skipped lines and upstream errors
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Resolve returns the adapter for d, failing fast on unknown dialects
func Resolve(d protocol.Dialect, opts ...Option) (Adapter, error) {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.WithField("dialect", string(d))

	switch d {
	case protocol.DialectOpenAICompatible:
		return &openAIAdapter{log: log}, nil
	case protocol.DialectAnthropicMessages:
		return &anthropicAdapter{log: log}, nil
	case protocol.DialectMLXNative:
		return &mlxAdapter{log: log}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, d)
	}
}

// MustResolve is Resolve for statically known dialects
func MustResolve(d protocol.Dialect, opts ...Option) Adapter {
	a, err := Resolve(d, opts...)
	if err != nil {
		panic(err)
	}
	return a
}
