// Package stream parses canonical chat.completion.chunk streams into typed
// events, separating <think> sections, fenced code blocks and embedded
// tool-call objects from plain text.
package stream

import (
	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

// EventType tags an Event
type EventType string

const (
	EventContent      EventType = "content"
	EventThinkStart   EventType = "think_start"
	EventThinkContent EventType = "think_content"
	EventThinkEnd     EventType = "think_end"
	EventToolCall     EventType = "tool_call"
	EventReasoning    EventType = "reasoning"
	EventUsage        EventType = "usage"
	EventFinishReason EventType = "finish_reason"
	EventDone         EventType = "done"
)

// Event is one parse result. Only the field matching Type is set.
type Event struct {
	Type         EventType             `json:"type"`
	Content      string                `json:"content,omitempty"`
	Data         *ToolCallData         `json:"data,omitempty"`
	Usage        *protocol.Usage       `json:"usage,omitempty"`
	FinishReason protocol.FinishReason `json:"finish_reason,omitempty"`
}

// Summary folds an event sequence into its final values
type Summary struct {
	Content      string
	Thinking     string
	Reasoning    string
	ToolCalls    []ToolCallData
	Usage        *protocol.Usage
	FinishReason protocol.FinishReason
	Done         bool
}

// Add folds one event into the summary
func (s *Summary) Add(ev Event) {
	switch ev.Type {
	case EventContent:
		s.Content += ev.Content
	case EventThinkContent:
		s.Thinking += ev.Content
	case EventReasoning:
		s.Reasoning += ev.Content
	case EventToolCall:
		if ev.Data != nil {
			s.ToolCalls = append(s.ToolCalls, *ev.Data)
		}
	case EventUsage:
		s.Usage = ev.Usage
	case EventFinishReason:
		s.FinishReason = ev.FinishReason
	case EventDone:
		s.Done = true
	}
}

// Collect folds a whole event slice
func Collect(events []Event) Summary {
	var s Summary
	for _, ev := range events {
		s.Add(ev)
	}
	return s
}
