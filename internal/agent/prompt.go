package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

// textToolInstructions describes the tools and the embedded tool-call
// grammar to a model that has no native tool support
func textToolInstructions(tools []Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You can call tools. To call tools, reply with a single JSON object of the form\n")
	b.WriteString(`{"type": "tool_calls", "calls": [{"name": "<tool name>", "args": {...}}]}`)
	b.WriteString("\nand nothing after it. Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "\n- %s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, ": %s", t.Description)
		}
		if len(t.InputSchema) > 0 {
			if schema, err := json.Marshal(t.InputSchema); err == nil {
				fmt.Fprintf(&b, "\n  arguments schema: %s", schema)
			}
		}
	}
	return b.String()
}

// textToolCalls re-encodes parsed calls in the grammar the model used, so
// the conversation history keeps the request that produced the results
func textToolCalls(calls []protocol.ToolCall) string {
	type call struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	payload := struct {
		Type  string `json:"type"`
		Calls []call `json:"calls"`
	}{Type: "tool_calls"}
	for _, c := range calls {
		args := json.RawMessage(c.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		payload.Calls = append(payload.Calls, call{ID: c.ID, Name: c.Function.Name, Args: args})
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(out)
}

// textToolResults renders the results of a text-mode step as one user
// message, since the backend has no tool role to receive them
func textToolResults(results []ToolExecutionResult) string {
	var b strings.Builder
	b.WriteString("Tool results:")
	for _, res := range results {
		status := "ok"
		if !res.Success {
			status = "error"
		}
		fmt.Fprintf(&b, "\n[%s %s %s]\n%s", res.Name, res.CallID, status, resultMessage(res))
	}
	return b.String()
}

// withInstructions prepends a system message unless instructions are empty
func withInstructions(instructions string, messages []protocol.Message) []protocol.Message {
	if instructions == "" {
		return messages
	}
	out := make([]protocol.Message, 0, len(messages)+1)
	out = append(out, protocol.Message{Role: protocol.RoleSystem, Content: instructions})
	return append(out, messages...)
}
