// Package agent runs a model in a loop, executing the tools it requests
// until a stop condition holds.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/tingly-loop/internal/obs/otel"
	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/token"
)

const (
	// DefaultMaxSteps caps a run regardless of its stop conditions
	DefaultMaxSteps = 50
	// DefaultToolConcurrency bounds concurrent tool executions per step
	DefaultToolConcurrency = 8
)

// Option configures an Agent
type Option func(*Agent)

// WithInstructions sets static system instructions
func WithInstructions(s string) Option {
	return func(a *Agent) {
		a.instructions = s
		a.instructionsFn = nil
	}
}

// WithInstructionsFunc computes the instructions once at the start of every
// run
func WithInstructionsFunc(fn InstructionsFunc) Option {
	return func(a *Agent) {
		a.instructionsFn = fn
	}
}

// WithTools registers tools. Names must be unique.
func WithTools(tools ...Tool) Option {
	return func(a *Agent) {
		a.tools = append(a.tools, tools...)
	}
}

// WithStopWhen replaces the default stop condition. Several conditions
// are combined with Any.
func WithStopWhen(conds ...StopCondition) Option {
	return func(a *Agent) {
		a.stopWhen = Any(conds...)
	}
}

// WithPrepareStep installs a per-step configuration hook
func WithPrepareStep(fn PrepareStepFunc) Option {
	return func(a *Agent) {
		a.prepareStep = fn
	}
}

// WithToolCallingMode selects native, text or off
func WithToolCallingMode(m ToolCallingMode) Option {
	return func(a *Agent) {
		a.mode = m
	}
}

// WithModel sets the model requested on every step
func WithModel(model string) Option {
	return func(a *Agent) {
		a.model = model
	}
}

// WithMaxSteps sets the hard step cap
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		a.maxSteps = n
	}
}

// WithToolConcurrency bounds concurrent tool executions in one step
func WithToolConcurrency(n int) Option {
	return func(a *Agent) {
		a.toolConcurrency = n
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics records model calls, tools and runs on tracker
func WithMetrics(tracker *otel.TokenTracker) Option {
	return func(a *Agent) {
		a.metrics = tracker
	}
}

// WithTokenEstimator sets the estimator used when a provider reports no usage
func WithTokenEstimator(est token.Estimator) Option {
	return func(a *Agent) {
		if est != nil {
			a.estimator = est
		}
	}
}

// Agent drives the tool loop. An Agent is immutable after New and safe for
// concurrent runs.
type Agent struct {
	caller          ModelCaller
	instructions    string
	instructionsFn  InstructionsFunc
	tools           []Tool
	toolSet         toolSet
	stopWhen        StopCondition
	prepareStep     PrepareStepFunc
	mode            ToolCallingMode
	model           string
	maxSteps        int
	toolConcurrency int
	log             logrus.FieldLogger
	metrics         *otel.TokenTracker
	estimator       token.Estimator
}

// New creates an agent
func New(caller ModelCaller, opts ...Option) (*Agent, error) {
	if caller == nil {
		return nil, errors.New("agent: nil model caller")
	}
	a := &Agent{
		caller:          caller,
		stopWhen:        DefaultStopCondition(),
		mode:            ToolCallingNative,
		maxSteps:        DefaultMaxSteps,
		toolConcurrency: DefaultToolConcurrency,
		log:             logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if !a.mode.Valid() {
		return nil, fmt.Errorf("agent: unknown tool calling mode %q", a.mode)
	}
	if a.maxSteps <= 0 {
		return nil, fmt.Errorf("agent: max steps must be positive, got %d", a.maxSteps)
	}
	ts, err := newToolSet(a.tools)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	a.toolSet = ts
	if a.estimator == nil {
		a.estimator = token.Default()
	}
	return a, nil
}

// stepConfig is the effective configuration of one step
type stepConfig struct {
	model        string
	tools        toolSet
	instructions string
}

// runState is the mutable state of one Generate call
type runState struct {
	id        string
	log       logrus.FieldLogger
	messages  []protocol.Message
	steps     []AgentStep
	usage     protocol.Usage
	reasoning []string
	thinkTags []string
}

// Generate runs the loop. The returned Result is non-nil even when an error
// is returned and holds every step completed before the failure.
func (a *Agent) Generate(ctx context.Context, in GenerateInput) (*Result, error) {
	rs := &runState{id: uuid.NewString()}
	rs.log = a.log.WithField("run_id", rs.id)

	if ctx.Err() != nil {
		rs.log.Info("run aborted before the first model call")
		res := a.result(rs, StopReasonAborted)
		res.Aborted = true
		return res, nil
	}

	instructions := a.instructions
	if a.instructionsFn != nil {
		s, err := a.instructionsFn(ctx, RunContext{RunID: rs.id, Input: in})
		if err != nil {
			return a.result(rs, StopReasonError), fmt.Errorf("resolve instructions: %w", err)
		}
		instructions = s
	}

	rs.messages = append(rs.messages, in.Messages...)
	if in.Prompt != "" {
		rs.messages = append(rs.messages, protocol.Message{Role: protocol.RoleUser, Content: in.Prompt})
	}

	base := stepConfig{model: a.model, tools: a.toolSet, instructions: instructions}
	for stepNumber := 1; ; stepNumber++ {
		if err := ctx.Err(); err != nil {
			rs.log.WithField("step", stepNumber).Info("run aborted")
			res := a.finish(ctx, rs, StopReasonAborted)
			res.Aborted = true
			return res, err
		}

		step, err := a.runStep(ctx, rs, base, stepNumber)
		if err != nil {
			if ctx.Err() != nil {
				res := a.finish(ctx, rs, StopReasonAborted)
				res.Aborted = true
				return res, err
			}
			return a.finish(ctx, rs, StopReasonError), fmt.Errorf("step %d: %w", stepNumber, err)
		}

		history := append(rs.steps[:len(rs.steps):len(rs.steps)], step)
		stop, reason := a.stopWhen(history), StopReasonCondition
		if !stop && stepNumber >= a.maxSteps {
			rs.log.WithField("max_steps", a.maxSteps).Warn("run hit the step cap")
			stop, reason = true, StopReasonMaxSteps
		}
		if stop {
			step.IsTerminal = true
			step.StopReason = reason
			rs.steps = append(rs.steps, step)
			return a.finish(ctx, rs, reason), nil
		}
		rs.steps = append(rs.steps, step)
	}
}

// resolveStep merges the PrepareStep overrides into a copy of base
func (a *Agent) resolveStep(ctx context.Context, rs *runState, base stepConfig, stepNumber int) (stepConfig, error) {
	cfg := base
	if a.prepareStep == nil {
		return cfg, nil
	}
	o, err := a.prepareStep(ctx, StepContext{
		StepNumber: stepNumber,
		Steps:      rs.steps[:len(rs.steps):len(rs.steps)],
		Messages:   append([]protocol.Message(nil), rs.messages...),
	})
	if err != nil {
		return cfg, fmt.Errorf("prepare step: %w", err)
	}
	if o == nil {
		return cfg, nil
	}
	if o.Model != "" {
		cfg.model = o.Model
	}
	if o.Tools != nil {
		ts, err := newToolSet(o.Tools)
		if err != nil {
			return cfg, fmt.Errorf("prepare step: %w", err)
		}
		cfg.tools = ts
	}
	if o.ActiveTools != nil {
		cfg.tools = cfg.tools.restrict(o.ActiveTools)
	}
	if o.Instructions != nil {
		cfg.instructions = *o.Instructions
	}
	return cfg, nil
}

// runStep performs one model call and executes the requested tools
func (a *Agent) runStep(ctx context.Context, rs *runState, base stepConfig, stepNumber int) (AgentStep, error) {
	cfg, err := a.resolveStep(ctx, rs, base, stepNumber)
	if err != nil {
		return AgentStep{}, err
	}
	log := rs.log.WithField("step", stepNumber)

	instructions := cfg.instructions
	req := protocol.Request{Model: cfg.model}
	switch a.mode {
	case ToolCallingNative:
		req.Tools = cfg.tools.specs()
	case ToolCallingText:
		if desc := textToolInstructions(cfg.tools.order); desc != "" {
			instructions = joinNonEmpty("\n\n", instructions, desc)
		}
	}
	req.Messages = withInstructions(instructions, rs.messages)

	started := time.Now()
	comp, err := a.caller.Call(ctx, req)
	latency := time.Since(started)
	if err != nil {
		status := "error"
		if ctx.Err() != nil {
			status = "canceled"
		}
		a.metrics.RecordUsage(ctx, otel.UsageOptions{Dialect: a.dialect(), Model: cfg.model, Status: status, LatencyMs: latency.Milliseconds()})
		log.WithError(err).Error("model call failed")
		return AgentStep{}, fmt.Errorf("model call: %w", err)
	}
	if comp == nil {
		comp = &protocol.Completion{FinishReason: protocol.FinishReasonStop}
	}

	usage := a.stepUsage(req.Messages, comp)
	a.metrics.RecordUsage(ctx, otel.UsageOptions{
		Dialect:      a.dialect(),
		Model:        cfg.model,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Estimated:    usage.Estimated,
		Status:       "success",
		LatencyMs:    latency.Milliseconds(),
	})
	rs.usage = rs.usage.Add(usage)
	a.collectThinking(rs, comp)

	var calls []protocol.ToolCall
	switch a.mode {
	case ToolCallingNative:
		calls = comp.ToolCalls
	case ToolCallingText:
		calls = comp.TextToolCalls
	}

	assistant := protocol.Message{Role: protocol.RoleAssistant, Content: comp.Content}
	switch {
	case a.mode == ToolCallingNative:
		assistant.ToolCalls = calls
	case len(calls) > 0:
		assistant.Content = joinNonEmpty("\n", comp.Content, textToolCalls(calls))
	}
	snapshot := append([]protocol.Message(nil), rs.messages...)
	rs.messages = append(rs.messages, assistant)

	var results []ToolExecutionResult
	if len(calls) > 0 {
		runner := toolRunner{
			tools:       cfg.tools,
			concurrency: a.toolConcurrency,
			log:         log,
			metrics:     a.metrics,
			base:        ToolContext{RunID: rs.id, StepNumber: stepNumber, Messages: snapshot},
		}
		results = runner.run(ctx, calls)
		rs.messages = append(rs.messages, a.resultMessages(results)...)
	}

	log.WithFields(logrus.Fields{
		"model":         cfg.model,
		"tool_calls":    len(calls),
		"finish_reason": comp.FinishReason,
		"tokens":        usage.TotalTokens,
		"estimated":     usage.Estimated,
	}).Debug("step completed")

	return AgentStep{
		StepNumber:  stepNumber,
		Response:    *comp,
		ToolCalls:   calls,
		ToolResults: results,
		Usage:       usage,
		Timestamp:   time.Now(),
	}, nil
}

// resultMessages turns tool results into conversation messages
func (a *Agent) resultMessages(results []ToolExecutionResult) []protocol.Message {
	if a.mode == ToolCallingText {
		return []protocol.Message{{Role: protocol.RoleUser, Content: textToolResults(results)}}
	}
	out := make([]protocol.Message, 0, len(results))
	for _, res := range results {
		out = append(out, protocol.Message{
			Role:       protocol.RoleTool,
			Name:       res.Name,
			ToolCallID: res.CallID,
			Content:    resultMessage(res),
			IsError:    !res.Success,
		})
	}
	return out
}

// stepUsage returns provider usage, or an estimate marked as such
func (a *Agent) stepUsage(prompt []protocol.Message, comp *protocol.Completion) protocol.Usage {
	if comp.Usage != nil {
		u := *comp.Usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
		return u
	}
	completion := comp.Content
	for _, c := range comp.ToolCalls {
		completion += c.Function.Name + c.Function.Arguments
	}
	return token.EstimateUsage(a.estimator, prompt, completion)
}

func (a *Agent) collectThinking(rs *runState, comp *protocol.Completion) {
	if r := strings.TrimSpace(comp.Reasoning); r != "" {
		rs.reasoning = append(rs.reasoning, r)
		return
	}
	if comp.Thinking.Source == protocol.ThinkingSourceThinkTags && comp.Thinking.Content != "" {
		rs.thinkTags = append(rs.thinkTags, comp.Thinking.Content)
	}
}

func (a *Agent) dialect() string {
	if d, ok := a.caller.(interface{ Dialect() protocol.Dialect }); ok {
		return string(d.Dialect())
	}
	return ""
}

// finish records run metrics and builds the result
func (a *Agent) finish(ctx context.Context, rs *runState, reason StopReason) *Result {
	a.metrics.RecordRun(context.WithoutCancel(ctx), len(rs.steps), string(reason))
	rs.log.WithFields(logrus.Fields{
		"steps":       len(rs.steps),
		"stop_reason": reason,
		"tokens":      rs.usage.TotalTokens,
	}).Info("run finished")
	return a.result(rs, reason)
}

func (a *Agent) result(rs *runState, reason StopReason) *Result {
	res := &Result{
		RunID:      rs.id,
		Steps:      rs.steps,
		Usage:      rs.usage,
		StopReason: reason,
		Messages:   rs.messages,
		Thinking:   protocol.Thinking{Source: protocol.ThinkingSourceNone},
	}
	if res.Steps == nil {
		res.Steps = []AgentStep{}
	}
	if n := len(rs.steps); n > 0 {
		res.Text = rs.steps[n-1].Response.Content
	}
	switch {
	case len(rs.reasoning) > 0:
		res.Thinking = protocol.Thinking{Content: strings.Join(rs.reasoning, "\n\n"), Source: protocol.ThinkingSourceReasoningField}
	case len(rs.thinkTags) > 0:
		res.Thinking = protocol.Thinking{Content: strings.Join(rs.thinkTags, "\n\n"), Source: protocol.ThinkingSourceThinkTags}
	}
	for _, step := range rs.steps {
		for _, tr := range step.ToolResults {
			res.ToolCallSummaries = append(res.ToolCallSummaries, ToolCallSummary{
				StepNumber: step.StepNumber,
				CallID:     tr.CallID,
				Name:       tr.Name,
				Success:    tr.Success,
			})
		}
	}
	return res
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
