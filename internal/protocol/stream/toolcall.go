package stream

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

const toolCallsType = "tool_calls"

// ToolCallData is a complete tool-call request embedded in model text:
// {"type": "tool_calls", "calls": [{"name": ..., "args": {...}}]}
type ToolCallData struct {
	Type  string            `json:"type"`
	Calls []ToolCallRequest `json:"calls"`
}

// ToolCallRequest is one entry of ToolCallData. Both "args" and
// "arguments" are accepted, as an object or as a JSON encoded string.
type ToolCallRequest struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsJSON returns the call arguments as a JSON object string
func (r ToolCallRequest) ArgumentsJSON() string {
	raw := bytes.TrimSpace(r.Args)
	if len(raw) == 0 {
		raw = bytes.TrimSpace(r.Arguments)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				return "{}"
			}
			return s
		}
	}
	return string(raw)
}

// ToolCalls converts the request into canonical tool calls, assigning ids
// to calls that carry none
func (d ToolCallData) ToolCalls() []protocol.ToolCall {
	out := make([]protocol.ToolCall, 0, len(d.Calls))
	for _, c := range d.Calls {
		id := c.ID
		if id == "" {
			id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		out = append(out, protocol.NewToolCall(id, c.Name, c.ArgumentsJSON()))
	}
	return out
}

// parseToolCallJSON accepts text only when it is a complete tool-call
// object with at least one named call
func parseToolCallJSON(text string) (*ToolCallData, bool) {
	var data ToolCallData
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &data); err != nil {
		return nil, false
	}
	if data.Type != toolCallsType || len(data.Calls) == 0 {
		return nil, false
	}
	for _, c := range data.Calls {
		if c.Name == "" {
			return nil, false
		}
	}
	return &data, true
}

// balanceJSON scans s, which starts with an opening brace, for the
// delimiter that closes it. Braces and brackets are tracked separately and
// must pair up; string literals and escapes are skipped. It returns the
// candidate length and whether the delimiters matched. A negative length
// means the candidate is not terminated yet.
func balanceJSON(s string) (int, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return i + 1, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return -1, false
}

// ToolCallDelta is one streamed fragment of a native tool call
type ToolCallDelta struct {
	Index          int
	ID             string
	FunctionName   string
	ArgumentsDelta string
}

// ToolCallFragment is the accumulated state of one native tool call
type ToolCallFragment struct {
	Index        int
	ID           string
	FunctionName string
	Arguments    string
}

// ToolCallAccumulator is an ordered map of fragments keyed by the provider
// assigned slot index. Arguments for the same index are concatenated in
// arrival order.
type ToolCallAccumulator struct {
	byIndex map[int]*ToolCallFragment
	indexes []int
}

// Add folds one delta into the accumulator
func (a *ToolCallAccumulator) Add(d ToolCallDelta) {
	if a.byIndex == nil {
		a.byIndex = make(map[int]*ToolCallFragment)
	}
	f, ok := a.byIndex[d.Index]
	if !ok {
		f = &ToolCallFragment{Index: d.Index}
		a.byIndex[d.Index] = f
		pos := sort.SearchInts(a.indexes, d.Index)
		a.indexes = append(a.indexes, 0)
		copy(a.indexes[pos+1:], a.indexes[pos:])
		a.indexes[pos] = d.Index
	}
	if f.ID == "" && d.ID != "" {
		f.ID = d.ID
	}
	if f.FunctionName == "" && d.FunctionName != "" {
		f.FunctionName = d.FunctionName
	}
	f.Arguments += d.ArgumentsDelta
}

// Len returns the number of distinct indexes seen
func (a *ToolCallAccumulator) Len() int {
	return len(a.indexes)
}

// Fragments lists the accumulated calls ordered by index
func (a *ToolCallAccumulator) Fragments() []ToolCallFragment {
	out := make([]ToolCallFragment, 0, len(a.indexes))
	for _, idx := range a.indexes {
		out = append(out, *a.byIndex[idx])
	}
	return out
}

// ToolCalls converts the fragments into canonical tool calls
func (a *ToolCallAccumulator) ToolCalls() []protocol.ToolCall {
	if a.Len() == 0 {
		return nil
	}
	out := make([]protocol.ToolCall, 0, a.Len())
	for _, f := range a.Fragments() {
		out = append(out, protocol.NewToolCall(f.ID, f.FunctionName, f.Arguments))
	}
	return out
}

func (a ToolCallAccumulator) clone() ToolCallAccumulator {
	if a.byIndex == nil {
		return ToolCallAccumulator{}
	}
	c := ToolCallAccumulator{
		byIndex: make(map[int]*ToolCallFragment, len(a.byIndex)),
		indexes: append([]int(nil), a.indexes...),
	}
	for k, v := range a.byIndex {
		f := *v
		c.byIndex[k] = &f
	}
	return c
}
