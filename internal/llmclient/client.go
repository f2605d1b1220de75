// Package llmclient performs single model calls against a configured
// provider and returns them in canonical form.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/dialect"
	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
	"github.com/tingly-dev/tingly-loop/internal/protocol/stream"
)

// Transport delivers a built request and returns the raw response body
type Transport interface {
	Send(ctx context.Context, req *dialect.Request) (io.ReadCloser, error)
}

// Config is the per-provider call configuration
type Config struct {
	BaseURL     string
	Endpoint    string
	Model       string
	Auth        dialect.Auth
	Headers     map[string]string
	Stream      bool
	Temperature *float64
	MaxTokens   *int
	Extra       map[string]any
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger for the client and its parsers
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithOnEvent registers a callback receiving parser events as they arrive.
// It is only invoked for streaming calls.
func WithOnEvent(fn func(stream.Event)) Option {
	return func(c *Client) {
		c.onEvent = fn
	}
}

// Client is a model caller for one provider
type Client struct {
	adapter   dialect.Adapter
	transport Transport
	cfg       Config
	log       logrus.FieldLogger
	onEvent   func(stream.Event)
}

// New creates a client
func New(adapter dialect.Adapter, transport Transport, cfg Config, opts ...Option) *Client {
	c := &Client{
		adapter:   adapter,
		transport: transport,
		cfg:       cfg,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("dialect", string(adapter.Dialect()))
	return c
}

// Dialect returns the dialect of the underlying adapter
func (c *Client) Dialect() protocol.Dialect {
	return c.adapter.Dialect()
}

// Call performs one model invocation. An empty req.Model uses the configured
// model.
func (c *Client) Call(ctx context.Context, req protocol.Request) (*protocol.Completion, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	httpReq, err := c.adapter.BuildRequest(dialect.RequestInput{
		BaseURL:  c.cfg.BaseURL,
		Endpoint: c.cfg.Endpoint,
		Auth:     c.cfg.Auth,
		Headers:  c.cfg.Headers,
		Params: dialect.Params{
			Model:       model,
			Messages:    req.Messages,
			Tools:       req.Tools,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
			Stream:      c.cfg.Stream,
			Extra:       c.cfg.Extra,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	body, err := c.transport.Send(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if c.cfg.Stream {
		return c.consumeStream(ctx, body)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	comp, err := c.adapter.ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	NormalizeCompletion(comp)
	return comp, nil
}

// consumeStream drives the canonical stream through a parser and folds the
// events into one completion.
func (c *Client) consumeStream(ctx context.Context, body io.Reader) (*protocol.Completion, error) {
	canonical := c.adapter.TransformStream(ctx, body)
	defer canonical.Close()

	parser := stream.NewParser(c.log)
	lines := sse.NewReader(canonical)
	var sum stream.Summary

	emit := func(events []stream.Event) {
		for _, ev := range events {
			sum.Add(ev)
			if c.onEvent != nil {
				c.onEvent(ev)
			}
		}
	}

	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		emit(parser.ParseSSELine(line))
	}
	emit(parser.Flush())

	comp := &protocol.Completion{
		Content:      sum.Content,
		Reasoning:    sum.Reasoning,
		Thinking:     parser.FinalThinkingContent(),
		ToolCalls:    parser.ToolCalls(),
		Usage:        sum.Usage,
		FinishReason: sum.FinishReason,
	}
	for _, data := range sum.ToolCalls {
		comp.TextToolCalls = append(comp.TextToolCalls, data.ToolCalls()...)
	}
	if comp.FinishReason == "" {
		comp.FinishReason = defaultFinish(comp)
	}

	c.log.WithFields(logrus.Fields{
		"content_len":     len(comp.Content),
		"tool_calls":      len(comp.ToolCalls),
		"text_tool_calls": len(comp.TextToolCalls),
		"finish_reason":   comp.FinishReason,
	}).Debug("stream consumed")
	return comp, nil
}

// NormalizeCompletion runs a non-streaming body through the same parser the
// streaming path uses, so both paths yield identical content and thinking.
func NormalizeCompletion(comp *protocol.Completion) {
	sum, thinking := stream.ParseText(comp.Content)
	comp.Content = sum.Content
	for _, data := range sum.ToolCalls {
		comp.TextToolCalls = append(comp.TextToolCalls, data.ToolCalls()...)
	}
	if r := strings.TrimSpace(comp.Reasoning); r != "" {
		comp.Thinking = protocol.Thinking{Content: r, Source: protocol.ThinkingSourceReasoningField}
	} else {
		comp.Thinking = thinking
	}
	if comp.FinishReason == "" {
		comp.FinishReason = defaultFinish(comp)
	}
}

func defaultFinish(comp *protocol.Completion) protocol.FinishReason {
	if len(comp.ToolCalls) > 0 {
		return protocol.FinishReasonToolCalls
	}
	return protocol.FinishReasonStop
}
