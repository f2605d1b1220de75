package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

func stepWith(finish protocol.FinishReason, names ...string) AgentStep {
	s := AgentStep{Response: protocol.Completion{FinishReason: finish}}
	for _, n := range names {
		s.ToolCalls = append(s.ToolCalls, protocol.NewToolCall("id-"+n, n, ""))
	}
	return s
}

func TestStopConditions(t *testing.T) {
	withTools := []AgentStep{stepWith(protocol.FinishReasonToolCalls, "search", "read")}
	noTools := []AgentStep{stepWith(protocol.FinishReasonToolCalls, "search"), stepWith(protocol.FinishReasonStop)}
	always := func([]AgentStep) bool { return true }
	never := func([]AgentStep) bool { return false }

	tests := []struct {
		name  string
		cond  StopCondition
		steps []AgentStep
		want  bool
	}{
		{"step count below", StepCountIs(3), withTools, false},
		{"step count reached", StepCountIs(2), noTools, true},
		{"no tool calls on empty history", NoToolCalls(), nil, false},
		{"no tool calls with tools", NoToolCalls(), withTools, false},
		{"no tool calls without tools", NoToolCalls(), noTools, true},
		{"has tool call match", HasToolCall("read"), withTools, true},
		{"has tool call only checks latest step", HasToolCall("search"), noTools, false},
		{"has tool call miss", HasToolCall("write"), withTools, false},
		{"finish reason match", FinishReasonIs(protocol.FinishReasonStop, protocol.FinishReasonLength), noTools, true},
		{"finish reason miss", FinishReasonIs(protocol.FinishReasonStop), withTools, false},
		{"finish reason on empty history", FinishReasonIs(protocol.FinishReasonStop), nil, false},
		{"any empty", Any(), noTools, false},
		{"all empty", All(), noTools, false},
		{"any one true", Any(never, always), nil, true},
		{"all one false", All(always, never), nil, false},
		{"all true", All(always, always), nil, true},
		{"not", Not(never), nil, true},
		{"default stops on text step", DefaultStopCondition(), noTools, true},
		{"default continues on tool step", DefaultStopCondition(), withTools, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond(tt.steps))
		})
	}
}

func TestDefaultStopCondition_StepCap(t *testing.T) {
	var steps []AgentStep
	for i := 0; i < 10; i++ {
		steps = append(steps, stepWith(protocol.FinishReasonToolCalls, "search"))
	}
	assert.False(t, DefaultStopCondition()(steps[:9]))
	assert.True(t, DefaultStopCondition()(steps))
}
