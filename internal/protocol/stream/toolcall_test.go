package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceJSON(t *testing.T) {
	tests := []struct {
		in      string
		end     int
		matched bool
	}{
		{`{}`, 2, true},
		{`{"a":[1,{"b":"}"}]} tail`, 19, true},
		{`{"a":"\"}"} x`, 11, true},
		{`{"a":[}`, 7, false},
		{`{"a":{]`, 7, false},
		{`{"a":[1,2]`, -1, false},
		{`{"a":"unterminated string}`, -1, false},
	}
	for _, tt := range tests {
		end, matched := balanceJSON(tt.in)
		assert.Equal(t, tt.end, end, tt.in)
		assert.Equal(t, tt.matched, matched, tt.in)
	}
}

func TestToolCallAccumulator_OrderedByIndex(t *testing.T) {
	var acc ToolCallAccumulator
	acc.Add(ToolCallDelta{Index: 5, ID: "e", FunctionName: "five", ArgumentsDelta: `{"a"`})
	acc.Add(ToolCallDelta{Index: 2, ID: "b", FunctionName: "two"})
	acc.Add(ToolCallDelta{Index: 5, ArgumentsDelta: `:1}`})
	acc.Add(ToolCallDelta{Index: 5, ID: "ignored", FunctionName: "ignored"})

	frags := acc.Fragments()
	require.Len(t, frags, 2)
	assert.Equal(t, ToolCallFragment{Index: 2, ID: "b", FunctionName: "two"}, frags[0])
	assert.Equal(t, ToolCallFragment{Index: 5, ID: "e", FunctionName: "five", Arguments: `{"a":1}`}, frags[1])

	calls := acc.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "{}", calls[0].Function.Arguments)
	assert.True(t, json.Valid([]byte(calls[1].Function.Arguments)))
}

// Concatenating well-formed fragments in arrival order yields valid JSON
// regardless of how the provider split them.
func TestToolCallAccumulator_ReconstructsArguments(t *testing.T) {
	args := `{"path":"/tmp/a b","lines":[1,2,3],"opts":{"recursive":true}}`
	for size := 1; size <= len(args); size++ {
		var acc ToolCallAccumulator
		for i := 0; i < len(args); i += size {
			end := i + size
			if end > len(args) {
				end = len(args)
			}
			acc.Add(ToolCallDelta{Index: 0, ArgumentsDelta: args[i:end]})
		}
		got := acc.Fragments()[0].Arguments
		assert.Equal(t, args, got)
		assert.True(t, json.Valid([]byte(got)))
	}
}

func TestToolCallRequest_ArgumentsJSON(t *testing.T) {
	tests := []struct {
		name string
		req  ToolCallRequest
		want string
	}{
		{"args object", ToolCallRequest{Args: json.RawMessage(`{"a":1}`)}, `{"a":1}`},
		{"arguments object", ToolCallRequest{Arguments: json.RawMessage(`{"b":2}`)}, `{"b":2}`},
		{"arguments string", ToolCallRequest{Arguments: json.RawMessage(`"{\"c\":3}"`)}, `{"c":3}`},
		{"null", ToolCallRequest{Args: json.RawMessage(`null`)}, `{}`},
		{"missing", ToolCallRequest{}, `{}`},
		{"empty string", ToolCallRequest{Arguments: json.RawMessage(`""`)}, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.ArgumentsJSON())
		})
	}
}

func TestParseToolCallJSON(t *testing.T) {
	data, ok := parseToolCallJSON(` {"type":"tool_calls","calls":[{"id":"keep","name":"a"},{"name":"b","args":{"x":1}}]} `)
	require.True(t, ok)
	calls := data.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "keep", calls[0].ID)
	assert.NotEmpty(t, calls[1].ID)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)

	for _, bad := range []string{
		`{"type":"tool_calls"}`,
		`{"type":"tool_calls","calls":[{"args":{}}]}`,
		`{"type":"other","calls":[{"name":"a"}]}`,
		`[1,2]`,
	} {
		_, ok := parseToolCallJSON(bad)
		assert.False(t, ok, bad)
	}
}
