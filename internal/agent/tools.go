package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tingly-dev/tingly-loop/internal/obs/otel"
	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

// toolSet is the tools available to one step, keyed by name
type toolSet struct {
	order  []Tool
	byName map[string]Tool
}

func newToolSet(tools []Tool) (toolSet, error) {
	ts := toolSet{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return toolSet{}, fmt.Errorf("tool with empty name")
		}
		if t.Execute == nil {
			return toolSet{}, fmt.Errorf("tool %q has no Execute function", t.Name)
		}
		if _, dup := ts.byName[t.Name]; dup {
			return toolSet{}, fmt.Errorf("duplicate tool %q", t.Name)
		}
		ts.byName[t.Name] = t
		ts.order = append(ts.order, t)
	}
	return ts, nil
}

// restrict keeps only the named tools, preserving registration order
func (ts toolSet) restrict(names []string) toolSet {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := toolSet{byName: make(map[string]Tool, len(names))}
	for _, t := range ts.order {
		if keep[t.Name] {
			out.order = append(out.order, t)
			out.byName[t.Name] = t
		}
	}
	return out
}

func (ts toolSet) specs() []protocol.ToolSpec {
	if len(ts.order) == 0 {
		return nil
	}
	out := make([]protocol.ToolSpec, 0, len(ts.order))
	for _, t := range ts.order {
		out = append(out, t.Spec())
	}
	return out
}

// toolRunner executes the calls of one step
type toolRunner struct {
	tools       toolSet
	concurrency int
	log         logrus.FieldLogger
	metrics     *otel.TokenTracker
	base        ToolContext
}

// run executes calls concurrently and returns results in call order. Tool
// failures never abort the step; they become failed results.
func (r toolRunner) run(ctx context.Context, calls []protocol.ToolCall) []ToolExecutionResult {
	results := make([]ToolExecutionResult, len(calls))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.runOne(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r toolRunner) runOne(ctx context.Context, call protocol.ToolCall) (res ToolExecutionResult) {
	started := time.Now()
	res = ToolExecutionResult{CallID: call.ID, Name: call.Function.Name}
	log := r.log.WithFields(logrus.Fields{"tool": call.Function.Name, "call_id": call.ID})

	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("tool panicked")
			res.Success = false
			res.Content = ""
			res.Error = fmt.Sprintf("tool panicked: %v", p)
		}
		res.Duration = time.Since(started)
		r.metrics.RecordTool(ctx, otel.ToolOptions{
			Name:      res.Name,
			Success:   res.Success,
			LatencyMs: res.Duration.Milliseconds(),
		})
	}()

	tool, ok := r.tools.byName[call.Function.Name]
	if !ok {
		res.Error = fmt.Sprintf("%s: %q", ErrToolNotFound, call.Function.Name)
		log.Warn("model requested an unknown tool")
		return res
	}

	input, err := decodeInput(call.Function.Arguments)
	if err != nil {
		res.Error = fmt.Sprintf("invalid arguments: %v", err)
		log.WithError(err).Warn("tool arguments are not a JSON object")
		return res
	}
	res.Input = input

	tc := r.base
	tc.CallID = call.ID
	out, err := tool.Execute(ctx, input, tc)
	if err != nil {
		res.Error = err.Error()
		log.WithError(err).Debug("tool failed")
		return res
	}
	res.Success = out.Success
	res.Content = out.Content
	res.Error = out.Error
	if !out.Success && res.Error == "" {
		res.Error = "tool reported failure"
	}
	return res
}

// decodeInput parses tool arguments. Empty arguments mean no input.
func decodeInput(args string) (map[string]any, error) {
	if args == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// resultMessage renders a result as the text fed back to the model
func resultMessage(res ToolExecutionResult) string {
	if res.Success {
		return res.Content
	}
	return "Error: " + res.Error
}
