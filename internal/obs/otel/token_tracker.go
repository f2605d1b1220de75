package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// UsageOptions contains the options for recording one model call.
type UsageOptions struct {
	// Dialect is the wire dialect of the provider
	Dialect string

	// Model is the model requested for the step
	Model string

	// InputTokens is the number of input/prompt tokens consumed
	InputTokens int

	// OutputTokens is the number of output/completion tokens consumed
	OutputTokens int

	// Estimated is true when the provider reported no usage
	Estimated bool

	// Status is the call status - "success", "error", or "canceled"
	Status string

	// LatencyMs is the call duration in milliseconds
	LatencyMs int64
}

// ToolOptions describes one tool execution
type ToolOptions struct {
	Name      string
	Success   bool
	LatencyMs int64
}

// TokenTracker records loop metrics through OpenTelemetry instruments.
// A nil *TokenTracker is valid and records nothing.
type TokenTracker struct {
	tokenUsage      metric.Int64Counter
	totalTokens     metric.Int64Counter
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestError    metric.Int64Counter
	toolCount       metric.Int64Counter
	toolDuration    metric.Float64Histogram
	runSteps        metric.Int64Histogram
}

// NewTokenTracker creates a new TokenTracker with the provided meter.
func NewTokenTracker(meter metric.Meter) (*TokenTracker, error) {
	tt := &TokenTracker{}

	var err error

	tt.tokenUsage, err = meter.Int64Counter(
		"llm.token.usage",
		metric.WithDescription("LLM token usage by type (input/output)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	tt.totalTokens, err = meter.Int64Counter(
		"llm.token.total",
		metric.WithDescription("Total LLM tokens consumed (input + output)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	tt.requestCount, err = meter.Int64Counter(
		"llm.request.count",
		metric.WithDescription("Number of model calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	tt.requestDuration, err = meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("Model call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	tt.requestError, err = meter.Int64Counter(
		"llm.request.errors",
		metric.WithDescription("Number of failed model calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	tt.toolCount, err = meter.Int64Counter(
		"agent.tool.calls",
		metric.WithDescription("Tool executions by tool and status"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	tt.toolDuration, err = meter.Float64Histogram(
		"agent.tool.duration",
		metric.WithDescription("Tool execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	tt.runSteps, err = meter.Int64Histogram(
		"agent.run.steps",
		metric.WithDescription("Steps taken per agent run"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	return tt, nil
}

// RecordUsage records one model call with the provided options.
func (tt *TokenTracker) RecordUsage(ctx context.Context, opts UsageOptions) {
	if tt == nil {
		return
	}

	commonAttrs := []attribute.KeyValue{
		AttrLLMDialect.String(opts.Dialect),
		AttrLLMModel.String(opts.Model),
		AttrLLMResponseStatus.String(opts.Status),
	}

	tokenAttrs := append(commonAttrs[:len(commonAttrs):len(commonAttrs)], AttrLLMTokenEstimated.Bool(opts.Estimated))
	if opts.InputTokens > 0 {
		inputAttrs := append(tokenAttrs[:len(tokenAttrs):len(tokenAttrs)], AttrLLMTokenType.String("input"))
		tt.tokenUsage.Add(ctx, int64(opts.InputTokens), metric.WithAttributes(inputAttrs...))
	}
	if opts.OutputTokens > 0 {
		outputAttrs := append(tokenAttrs[:len(tokenAttrs):len(tokenAttrs)], AttrLLMTokenType.String("output"))
		tt.tokenUsage.Add(ctx, int64(opts.OutputTokens), metric.WithAttributes(outputAttrs...))
	}
	if total := opts.InputTokens + opts.OutputTokens; total > 0 {
		tt.totalTokens.Add(ctx, int64(total), metric.WithAttributes(tokenAttrs...))
	}

	tt.requestCount.Add(ctx, 1, metric.WithAttributes(commonAttrs...))
	if opts.LatencyMs > 0 {
		tt.requestDuration.Record(ctx, float64(opts.LatencyMs), metric.WithAttributes(commonAttrs...))
	}
	if opts.Status == "error" {
		tt.requestError.Add(ctx, 1, metric.WithAttributes(commonAttrs...))
	}
}

// RecordTool records one tool execution
func (tt *TokenTracker) RecordTool(ctx context.Context, opts ToolOptions) {
	if tt == nil {
		return
	}
	status := "success"
	if !opts.Success {
		status = "error"
	}
	attrs := metric.WithAttributes(AttrToolName.String(opts.Name), AttrToolStatus.String(status))
	tt.toolCount.Add(ctx, 1, attrs)
	tt.toolDuration.Record(ctx, float64(opts.LatencyMs), attrs)
}

// RecordRun records the length of a finished run
func (tt *TokenTracker) RecordRun(ctx context.Context, steps int, stopReason string) {
	if tt == nil {
		return
	}
	tt.runSteps.Record(ctx, int64(steps), metric.WithAttributes(AttrStopReason.String(stopReason)))
}
