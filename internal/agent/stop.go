package agent

import (
	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

// StopCondition inspects the step history after every step and reports
// whether the run should end
type StopCondition func(steps []AgentStep) bool

// DefaultStopCondition stops after ten steps or at the first step that
// requests no tools
func DefaultStopCondition() StopCondition {
	return Any(StepCountIs(10), NoToolCalls())
}

// StepCountIs stops once n steps have run
func StepCountIs(n int) StopCondition {
	return func(steps []AgentStep) bool {
		return len(steps) >= n
	}
}

// NoToolCalls stops when the latest step requested no tools
func NoToolCalls() StopCondition {
	return func(steps []AgentStep) bool {
		if len(steps) == 0 {
			return false
		}
		return len(steps[len(steps)-1].ToolCalls) == 0
	}
}

// HasToolCall stops when the latest step called any of the named tools
func HasToolCall(names ...string) StopCondition {
	return func(steps []AgentStep) bool {
		if len(steps) == 0 {
			return false
		}
		for _, call := range steps[len(steps)-1].ToolCalls {
			for _, name := range names {
				if call.Function.Name == name {
					return true
				}
			}
		}
		return false
	}
}

// FinishReasonIs stops when the latest response finished for any of reasons
func FinishReasonIs(reasons ...protocol.FinishReason) StopCondition {
	return func(steps []AgentStep) bool {
		if len(steps) == 0 {
			return false
		}
		got := steps[len(steps)-1].Response.FinishReason
		for _, r := range reasons {
			if got == r {
				return true
			}
		}
		return false
	}
}

// Any stops when at least one condition holds. Any() never stops.
func Any(conds ...StopCondition) StopCondition {
	return func(steps []AgentStep) bool {
		for _, c := range conds {
			if c(steps) {
				return true
			}
		}
		return false
	}
}

// All stops when every condition holds. All() never stops.
func All(conds ...StopCondition) StopCondition {
	return func(steps []AgentStep) bool {
		if len(conds) == 0 {
			return false
		}
		for _, c := range conds {
			if !c(steps) {
				return false
			}
		}
		return true
	}
}

// Not inverts c
func Not(c StopCondition) StopCondition {
	return func(steps []AgentStep) bool {
		return !c(steps)
	}
}
