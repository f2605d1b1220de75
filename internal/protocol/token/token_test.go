package token

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

type fixedEstimator int

func (f fixedEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	return int(f)
}

func TestHeuristic(t *testing.T) {
	assert.Equal(t, 0, Heuristic{}.Count(""))
	assert.Equal(t, 2, Heuristic{}.Count("12345678"))
}

func TestTiktokenNilFallsBack(t *testing.T) {
	var tk *Tiktoken
	assert.Equal(t, 2, tk.Count("abcdefgh"))
}

func TestDefaultCountsSomething(t *testing.T) {
	assert.Greater(t, Default().Count("hello world, this is a sentence"), 0)
}

func TestEstimateUsage(t *testing.T) {
	msgs := []protocol.Message{
		{Role: protocol.RoleUser, Content: "hi"},
		{Role: protocol.RoleAssistant, ToolCalls: []protocol.ToolCall{protocol.NewToolCall("c1", "echo", `{"x":1}`)}},
	}
	u := EstimateUsage(fixedEstimator(1), msgs, "done")

	// user: role+content, assistant: role+name+args, plus overhead
	assert.Equal(t, 2+3+messageOverhead, u.PromptTokens)
	assert.Equal(t, 1, u.CompletionTokens)
	assert.Equal(t, u.PromptTokens+1, u.TotalTokens)
	assert.True(t, u.Estimated)
}
