package stream

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
)

// ErrMalformedLine is returned for data lines whose payload is not JSON
var ErrMalformedLine = errors.New("stream: malformed data line")

// SSEResult is the decoding of one canonical data line. Several fields may
// be set at once when a provider packs them into a single chunk.
type SSEResult struct {
	Done           bool
	Content        string
	Reasoning      string
	ToolCallDeltas []ToolCallDelta
	Usage          *protocol.Usage
	FinishReason   protocol.FinishReason
}

// DecodeSSELine decodes a canonical SSE line. Blank, comment and non-data
// lines yield nil.
func DecodeSSELine(line string) (*SSEResult, error) {
	l := sse.ParseLine(line)
	if l.Kind != sse.KindData {
		return nil, nil
	}
	if sse.IsDone(l.Value) {
		return &SSEResult{Done: true}, nil
	}
	if !gjson.Valid(l.Value) {
		return nil, ErrMalformedLine
	}

	chunk := gjson.Parse(l.Value)
	res := &SSEResult{}

	delta := chunk.Get("choices.0.delta")
	res.Content = delta.Get("content").String()
	if r := delta.Get("reasoning_content"); r.Type == gjson.String {
		res.Reasoning = r.Str
	} else {
		res.Reasoning = delta.Get("reasoning").String()
	}

	for _, tc := range delta.Get("tool_calls").Array() {
		res.ToolCallDeltas = append(res.ToolCallDeltas, ToolCallDelta{
			Index:          int(tc.Get("index").Int()),
			ID:             tc.Get("id").String(),
			FunctionName:   tc.Get("function.name").String(),
			ArgumentsDelta: tc.Get("function.arguments").String(),
		})
	}

	if fr := chunk.Get("choices.0.finish_reason"); fr.Type == gjson.String && fr.Str != "" {
		res.FinishReason = protocol.FinishReason(fr.Str)
	}

	if u := chunk.Get("usage"); u.IsObject() {
		res.Usage = &protocol.Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}
	return res, nil
}

// AdvanceLine feeds one canonical SSE line through st. Malformed lines leave
// the state unchanged and return ErrMalformedLine.
func AdvanceLine(st State, line string) (State, []Event, error) {
	res, err := DecodeSSELine(line)
	if err != nil || res == nil {
		return st, nil, err
	}
	next := st.clone()
	var ev []Event
	next.apply(res, &ev)
	return next, ev, nil
}

func (s *State) apply(res *SSEResult, ev *[]Event) {
	if res.Done {
		*ev = append(*ev, Event{Type: EventDone})
		return
	}
	if res.Reasoning != "" {
		s.AccumulatedReasoning += res.Reasoning
		*ev = append(*ev, Event{Type: EventReasoning, Content: res.Reasoning})
	}
	if res.Content != "" {
		s.process(res.Content, ev)
	}
	for _, d := range res.ToolCallDeltas {
		s.ToolCalls.Add(d)
	}
	if res.Usage != nil {
		*ev = append(*ev, Event{Type: EventUsage, Usage: res.Usage})
	}
	if res.FinishReason != "" {
		*ev = append(*ev, Event{Type: EventFinishReason, FinishReason: res.FinishReason})
	}
}
