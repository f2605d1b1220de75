package dialect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
)

var openAIShape = requestShape{
	defaultEndpoint:   "/chat/completions",
	defaultAuthHeader: "api-key",
}

type openAIAdapter struct {
	log logrus.FieldLogger
}

func (a *openAIAdapter) Dialect() protocol.Dialect {
	return protocol.DialectOpenAICompatible
}

func (a *openAIAdapter) BuildRequest(in RequestInput) (*Request, error) {
	p := in.Params
	b := newBody()
	b.set("model", p.Model)
	b.set("messages", openAIMessages(p.Messages))
	if len(p.Tools) > 0 {
		b.set("tools", openAITools(p.Tools))
	}
	if p.MaxTokens != nil {
		b.set("max_tokens", *p.MaxTokens)
	}
	b.setSampling(p)
	if len(p.Stop) > 0 {
		b.set("stop", p.Stop)
	}
	if p.Stream {
		b.set("stream", true)
		b.set("stream_options.include_usage", true)
	}

	body, err := b.bytes()
	if err != nil {
		return nil, err
	}
	return buildHTTPRequest(openAIShape, in, body)
}

func openAIMessages(msgs []protocol.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		msg := map[string]any{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		} else {
			msg["content"] = nil
		}
		if m.Name != "" {
			msg["name"] = m.Name
		}
		if len(m.ToolCalls) > 0 {
			msg["tool_calls"] = m.ToolCalls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}

func openAITools(tools []protocol.ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schemaOrEmpty(t.Parameters),
			},
		})
	}
	return out
}

func schemaOrEmpty(s map[string]any) map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return s
}

func (a *openAIAdapter) ParseResponse(raw []byte) (*protocol.Completion, error) {
	var resp openai.ChatCompletion
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}

	out := &protocol.Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: protocol.FinishReasonStop,
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		out.FinishReason = mapOpenAIFinish(string(choice.FinishReason))
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, protocol.NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
		}
	}

	// reasoning is a vendor extension the SDK types do not model
	out.Reasoning = firstString(raw, "choices.0.message.reasoning_content", "choices.0.message.reasoning")

	if gjson.GetBytes(raw, "usage").Exists() {
		out.Usage = &protocol.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	return out, nil
}

func firstString(raw []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(raw, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// mapOpenAIFinish keeps canonical values and folds the legacy function_call
func mapOpenAIFinish(reason string) protocol.FinishReason {
	r := protocol.FinishReason(reason)
	if r.Canonical() {
		return r
	}
	if reason == "function_call" {
		return protocol.FinishReasonToolCalls
	}
	return protocol.FinishReasonStop
}

func (a *openAIAdapter) TransformStream(ctx context.Context, body io.Reader) io.ReadCloser {
	tr := &openAIStream{w: newChunkWriter(), log: a.log}
	return newTransformReader(ctx, body, tr, a.log)
}

// openAIStream forwards payloads that are already canonical
type openAIStream struct {
	w   *chunkWriter
	log logrus.FieldLogger
}

func (s *openAIStream) writer() *chunkWriter { return s.w }

func (s *openAIStream) handle(line sse.Line) error {
	if line.Kind != sse.KindData {
		return nil
	}
	if sse.IsDone(line.Value) {
		s.w.doneFrame()
		return nil
	}
	if !gjson.Valid(line.Value) {
		skipMalformed(s.log, line.Value)
		return nil
	}
	if msg := gjson.Get(line.Value, "error.message"); msg.Exists() {
		s.log.WithField("error", msg.String()).Error("upstream reported an error")
		return fmt.Errorf("%w: %s", ErrUpstream, msg.String())
	}
	s.w.raw(line.Value)
	return nil
}

func (s *openAIStream) end() {
	s.w.doneFrame()
}
