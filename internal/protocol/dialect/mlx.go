package dialect

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
)

// MLX native event types
const (
	mlxEventItemAdded         = "response.output_item.added"
	mlxEventItemDone          = "response.output_item.done"
	mlxEventTextDelta         = "response.output_text.delta"
	mlxEventReasoningDelta    = "response.reasoning_text.delta"
	mlxEventReasoningSumDelta = "response.reasoning_summary_text.delta"
	mlxEventArgumentsDelta    = "response.function_call_arguments.delta"
	mlxEventCreated           = "response.created"
	mlxEventCompleted         = "response.completed"
	mlxEventIncomplete        = "response.incomplete"
	mlxEventFailed            = "response.failed"
	mlxEventError             = "error"

	mlxItemMessage        = "message"
	mlxItemFunctionCall   = "function_call"
	mlxItemFunctionOutput = "function_call_output"
	mlxItemReasoning      = "reasoning"
)

var mlxShape = requestShape{
	defaultEndpoint:   "/responses",
	defaultAuthHeader: "x-api-key",
}

type mlxAdapter struct {
	log logrus.FieldLogger
}

func (a *mlxAdapter) Dialect() protocol.Dialect {
	return protocol.DialectMLXNative
}

func (a *mlxAdapter) BuildRequest(in RequestInput) (*Request, error) {
	p := in.Params
	b := newBody()
	b.set("model", p.Model)
	b.set("input", mlxInput(p.Messages))
	if len(p.Tools) > 0 {
		b.set("tools", mlxTools(p.Tools))
	}
	if p.MaxTokens != nil {
		b.set("max_output_tokens", *p.MaxTokens)
	}
	b.setSampling(p)
	if len(p.Stop) > 0 {
		b.set("stop", p.Stop)
	}
	if p.Stream {
		b.set("stream", true)
	}

	body, err := b.bytes()
	if err != nil {
		return nil, err
	}
	return buildHTTPRequest(mlxShape, in, body)
}

// mlxInput flattens every message, system included, into one input array
func mlxInput(msgs []protocol.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Role == protocol.RoleTool:
			out = append(out, map[string]any{
				"type":    mlxItemFunctionOutput,
				"call_id": m.ToolCallID,
				"output":  m.Content,
			})
		case m.Role == protocol.RoleAssistant && len(m.ToolCalls) > 0:
			if m.Content != "" {
				out = append(out, map[string]any{"type": mlxItemMessage, "role": m.Role, "content": m.Content})
			}
			for _, tc := range m.ToolCalls {
				out = append(out, map[string]any{
					"type":      mlxItemFunctionCall,
					"call_id":   tc.ID,
					"name":      tc.Function.Name,
					"arguments": tc.Function.Arguments,
				})
			}
		default:
			out = append(out, map[string]any{"type": mlxItemMessage, "role": m.Role, "content": m.Content})
		}
	}
	return out
}

func mlxTools(tools []protocol.ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  schemaOrEmpty(t.Parameters),
		})
	}
	return out
}

func (a *mlxAdapter) ParseResponse(raw []byte) (*protocol.Completion, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("decode mlx response: invalid json")
	}
	resp := gjson.ParseBytes(raw)

	out := &protocol.Completion{
		ID:    resp.Get("id").String(),
		Model: resp.Get("model").String(),
	}

	var text, reasoning strings.Builder
	for _, item := range resp.Get("output").Array() {
		switch item.Get("type").String() {
		case mlxItemMessage:
			for _, part := range item.Get("content").Array() {
				text.WriteString(part.Get("text").String())
			}
		case mlxItemReasoning:
			for _, part := range item.Get("content").Array() {
				reasoning.WriteString(part.Get("text").String())
			}
			if reasoning.Len() == 0 {
				for _, part := range item.Get("summary").Array() {
					reasoning.WriteString(part.Get("text").String())
				}
			}
		case mlxItemFunctionCall:
			out.ToolCalls = append(out.ToolCalls, protocol.NewToolCall(
				item.Get("call_id").String(),
				item.Get("name").String(),
				item.Get("arguments").String(),
			))
		}
	}
	out.Content = text.String()
	out.Reasoning = reasoning.String()
	out.FinishReason = mapMLXStatus(resp, len(out.ToolCalls) > 0)
	out.Usage = mlxUsage(resp.Get("usage"))
	return out, nil
}

// mapMLXStatus derives the canonical finish reason from the response status
func mapMLXStatus(resp gjson.Result, hasTools bool) protocol.FinishReason {
	if resp.Get("status").String() == "incomplete" {
		switch resp.Get("incomplete_details.reason").String() {
		case "max_output_tokens":
			return protocol.FinishReasonLength
		case "content_filter":
			return protocol.FinishReasonContentFilter
		}
		return protocol.FinishReasonStop
	}
	if hasTools {
		return protocol.FinishReasonToolCalls
	}
	return protocol.FinishReasonStop
}

func mlxUsage(u gjson.Result) *protocol.Usage {
	if !u.Exists() {
		return nil
	}
	in := u.Get("input_tokens").Int()
	out := u.Get("output_tokens").Int()
	total := u.Get("total_tokens").Int()
	if total == 0 {
		total = in + out
	}
	return &protocol.Usage{
		PromptTokens:     int(in),
		CompletionTokens: int(out),
		TotalTokens:      int(total),
	}
}

func (a *mlxAdapter) TransformStream(ctx context.Context, body io.Reader) io.ReadCloser {
	tr := &mlxStream{w: newChunkWriter(), log: a.log, open: map[int64]*toolBlock{}}
	return newTransformReader(ctx, body, tr, a.log)
}

// mlxStream converts item-based events. Function calls are keyed by their
// output_index and emitted when the item is done.
type mlxStream struct {
	w   *chunkWriter
	log logrus.FieldLogger

	open      map[int64]*toolBlock
	toolIndex int
	finished  bool
}

func (s *mlxStream) writer() *chunkWriter { return s.w }

func (s *mlxStream) handle(line sse.Line) error {
	if line.Kind != sse.KindData {
		return nil
	}
	if sse.IsDone(line.Value) {
		s.end()
		return nil
	}
	if !gjson.Valid(line.Value) {
		skipMalformed(s.log, line.Value)
		return nil
	}

	ev := gjson.Parse(line.Value)
	switch ev.Get("type").String() {
	case mlxEventCreated:
		resp := ev.Get("response")
		if id := resp.Get("id").String(); id != "" {
			s.w.id = id
		}
		s.w.model = resp.Get("model").String()

	case mlxEventItemAdded:
		item := ev.Get("item")
		if item.Get("type").String() == mlxItemFunctionCall {
			s.open[ev.Get("output_index").Int()] = &toolBlock{
				id:   item.Get("call_id").String(),
				name: item.Get("name").String(),
			}
		}

	case mlxEventArgumentsDelta:
		if b, ok := s.open[ev.Get("output_index").Int()]; ok {
			b.args.WriteString(ev.Get("delta").String())
		}

	case mlxEventItemDone:
		item := ev.Get("item")
		if item.Get("type").String() != mlxItemFunctionCall {
			return nil
		}
		idx := ev.Get("output_index").Int()
		b, ok := s.open[idx]
		if !ok {
			b = &toolBlock{}
		}
		delete(s.open, idx)
		if id := item.Get("call_id").String(); id != "" {
			b.id = id
		}
		if name := item.Get("name").String(); name != "" {
			b.name = name
		}
		b.input = item.Get("arguments").String()
		s.w.toolCall(s.toolIndex, b.id, b.name, b.arguments())
		s.toolIndex++

	case mlxEventTextDelta:
		s.w.content(ev.Get("delta").String())

	case mlxEventReasoningDelta, mlxEventReasoningSumDelta:
		s.w.reasoning(ev.Get("delta").String())

	case mlxEventCompleted, mlxEventIncomplete:
		resp := ev.Get("response")
		s.finish(mapMLXStatus(resp, s.toolIndex > 0), mlxUsage(resp.Get("usage")))

	case mlxEventFailed, mlxEventError:
		msg := ev.Get("response.error.message").String()
		if msg == "" {
			msg = ev.Get("message").String()
		}
		s.log.WithField("error", msg).Error("mlx stream reported an error")
		return fmt.Errorf("%w: %s", ErrUpstream, msg)
	}
	return nil
}

func (s *mlxStream) finish(reason protocol.FinishReason, usage *protocol.Usage) {
	if s.finished {
		return
	}
	s.finished = true
	s.w.finish(reason, usage)
	s.w.doneFrame()
}

func (s *mlxStream) end() {
	reason := protocol.FinishReasonStop
	if s.toolIndex > 0 {
		reason = protocol.FinishReasonToolCalls
	}
	s.finish(reason, nil)
}
