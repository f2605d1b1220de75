package protocol

// Dialect represents the wire format spoken by an LLM backend
type Dialect string

const (
	DialectOpenAICompatible  Dialect = "openai_compatible"
	DialectAnthropicMessages Dialect = "anthropic_messages"
	DialectMLXNative         Dialect = "mlx_native"
)

// Dialects lists every supported dialect
var Dialects = []Dialect{DialectOpenAICompatible, DialectAnthropicMessages, DialectMLXNative}

// Valid reports whether d is one of the supported dialects
func (d Dialect) Valid() bool {
	for _, known := range Dialects {
		if d == known {
			return true
		}
	}
	return false
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// FinishReason is the canonical completion reason
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// Canonical reports whether r belongs to the canonical finish vocabulary
func (r FinishReason) Canonical() bool {
	switch r {
	case FinishReasonStop, FinishReasonToolCalls, FinishReasonLength, FinishReasonContentFilter:
		return true
	}
	return false
}

// Message is a chat message in the canonical (OpenAI shaped) form
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// IsError marks a tool result message as a failed execution
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is a normalized function call request
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON encoded arguments
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewToolCall builds a function tool call. Empty arguments become "{}".
func NewToolCall(id, name, arguments string) ToolCall {
	if arguments == "" {
		arguments = "{}"
	}
	return ToolCall{
		ID:       id,
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: arguments},
	}
}

// ToolSpec describes a tool advertised to the model
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Usage holds token accounting for one or more model calls
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// Add returns the field-wise sum of u and o
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		Estimated:        u.Estimated || o.Estimated,
	}
}

// ThinkingSource tells where consolidated thinking text came from
type ThinkingSource string

const (
	ThinkingSourceReasoningField ThinkingSource = "reasoning_field"
	ThinkingSourceThinkTags      ThinkingSource = "think_tags"
	ThinkingSourceNone           ThinkingSource = "none"
)

// Thinking is the consolidated reasoning of a response or a run
type Thinking struct {
	Content string         `json:"content"`
	Source  ThinkingSource `json:"source"`
}

// Completion is the canonical result of one model call.
//
// Adapters fill the structural fields. Thinking and TextToolCalls are only
// populated once the content has gone through the stream parser.
type Completion struct {
	ID            string       `json:"id,omitempty"`
	Model         string       `json:"model,omitempty"`
	Content       string       `json:"content"`
	Reasoning     string       `json:"reasoning,omitempty"`
	Thinking      Thinking     `json:"thinking"`
	ToolCalls     []ToolCall   `json:"tool_calls,omitempty"`
	TextToolCalls []ToolCall   `json:"text_tool_calls,omitempty"`
	Usage         *Usage       `json:"usage,omitempty"`
	FinishReason  FinishReason `json:"finish_reason"`
}

// Request is one model invocation in canonical form
type Request struct {
	Model    string     `json:"model,omitempty"`
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"tools,omitempty"`
}
