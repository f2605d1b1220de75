package agent

import (
	"context"
	"errors"
	"time"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

// ErrToolNotFound marks a tool call naming a tool that is not available in
// the step
var ErrToolNotFound = errors.New("tool not found")

// ModelCaller performs one model invocation
type ModelCaller interface {
	Call(ctx context.Context, req protocol.Request) (*protocol.Completion, error)
}

// ToolCallingMode selects how tools reach the model
type ToolCallingMode string

const (
	// ToolCallingNative advertises tools and executes structured tool calls
	ToolCallingNative ToolCallingMode = "native"
	// ToolCallingText describes tools in the instructions and executes
	// tool-call objects embedded in the response text
	ToolCallingText ToolCallingMode = "text"
	// ToolCallingOff neither advertises nor executes tools
	ToolCallingOff ToolCallingMode = "off"
)

// Valid reports whether m is a known mode
func (m ToolCallingMode) Valid() bool {
	switch m {
	case ToolCallingNative, ToolCallingText, ToolCallingOff:
		return true
	}
	return false
}

// StopReason tells why a run ended
type StopReason string

const (
	StopReasonCondition StopReason = "stop_condition"
	StopReasonMaxSteps  StopReason = "max_steps"
	StopReasonAborted   StopReason = "aborted"
	StopReasonError     StopReason = "error"
)

// ToolContext is handed to a tool on every execution
type ToolContext struct {
	RunID      string
	StepNumber int
	CallID     string
	// Messages is a snapshot of the conversation when the step started
	Messages []protocol.Message
}

// ToolOutput is what a tool returns
type ToolOutput struct {
	Success bool
	Content string
	Error   string
}

// Tool is an executable capability offered to the model
type Tool struct {
	Name        string
	Description string
	// InputSchema is a JSON schema object describing the arguments
	InputSchema map[string]any
	Execute     func(ctx context.Context, input map[string]any, tc ToolContext) (ToolOutput, error)
}

// Spec returns the advertised form of the tool
func (t Tool) Spec() protocol.ToolSpec {
	return protocol.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}
}

// ToolExecutionResult is the outcome of one tool call
type ToolExecutionResult struct {
	CallID   string         `json:"call_id"`
	Name     string         `json:"name"`
	Input    map[string]any `json:"input,omitempty"`
	Success  bool           `json:"success"`
	Content  string         `json:"content,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// AgentStep records one model call and the tools it triggered. Steps are
// never modified once appended to the history.
type AgentStep struct {
	StepNumber  int                   `json:"step_number"`
	Response    protocol.Completion   `json:"response"`
	ToolCalls   []protocol.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolExecutionResult `json:"tool_results,omitempty"`
	Usage       protocol.Usage        `json:"usage"`
	IsTerminal  bool                  `json:"is_terminal"`
	StopReason  StopReason            `json:"stop_reason,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
}

// ToolCallSummary is a flattened view of one executed call
type ToolCallSummary struct {
	StepNumber int    `json:"step_number"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
}

// Result is the outcome of one Generate call
type Result struct {
	RunID             string             `json:"run_id"`
	Text              string             `json:"text"`
	Steps             []AgentStep        `json:"steps"`
	ToolCallSummaries []ToolCallSummary  `json:"tool_call_summaries,omitempty"`
	Usage             protocol.Usage     `json:"usage"`
	Thinking          protocol.Thinking  `json:"thinking"`
	StopReason        StopReason         `json:"stop_reason"`
	Aborted           bool               `json:"aborted"`
	Messages          []protocol.Message `json:"messages"`
}

// GenerateInput is the input of one run. Messages are prior conversation;
// Prompt, when set, is appended as a new user message.
type GenerateInput struct {
	Prompt   string
	Messages []protocol.Message
}

// RunContext is passed to a dynamic instructions function
type RunContext struct {
	RunID string
	Input GenerateInput
}

// StepContext is passed to PrepareStep before every model call
type StepContext struct {
	StepNumber int
	// Steps is the history so far; callers must not modify it
	Steps    []AgentStep
	Messages []protocol.Message
}

// StepOverrides changes the configuration of a single step. Zero fields
// keep the run configuration.
type StepOverrides struct {
	Model string
	// Tools replaces the tool set
	Tools []Tool
	// ActiveTools restricts the tool set to the named tools
	ActiveTools  []string
	Instructions *string
}

// PrepareStepFunc returns per-step overrides; nil means none
type PrepareStepFunc func(ctx context.Context, sc StepContext) (*StepOverrides, error)

// InstructionsFunc computes instructions once per run
type InstructionsFunc func(ctx context.Context, rc RunContext) (string, error)
