package dialect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096

	// Anthropic event types
	eventTypeMessageStart      = "message_start"
	eventTypeContentBlockStart = "content_block_start"
	eventTypeContentBlockDelta = "content_block_delta"
	eventTypeContentBlockStop  = "content_block_stop"
	eventTypeMessageDelta      = "message_delta"
	eventTypeMessageStop       = "message_stop"
	eventTypeError             = "error"

	// Anthropic block types
	blockTypeText       = "text"
	blockTypeThinking   = "thinking"
	blockTypeToolUse    = "tool_use"
	blockTypeToolResult = "tool_result"

	// Anthropic delta types
	deltaTypeTextDelta      = "text_delta"
	deltaTypeThinkingDelta  = "thinking_delta"
	deltaTypeInputJSONDelta = "input_json_delta"
)

var anthropicShape = requestShape{
	defaultEndpoint:   "/messages",
	defaultAuthHeader: "x-api-key",
	fixedHeaders:      map[string]string{"anthropic-version": anthropicVersion},
}

type anthropicAdapter struct {
	log logrus.FieldLogger
}

func (a *anthropicAdapter) Dialect() protocol.Dialect {
	return protocol.DialectAnthropicMessages
}

func (a *anthropicAdapter) BuildRequest(in RequestInput) (*Request, error) {
	p := in.Params
	system, messages := anthropicMessages(p.Messages)

	maxTokens := anthropicDefaultMaxTokens
	if p.MaxTokens != nil {
		maxTokens = *p.MaxTokens
	}

	b := newBody()
	b.set("model", p.Model)
	b.set("max_tokens", maxTokens)
	if system != "" {
		b.set("system", system)
	}
	b.set("messages", messages)
	if len(p.Tools) > 0 {
		b.set("tools", anthropicTools(p.Tools))
	}
	b.setSampling(p)
	if len(p.Stop) > 0 {
		b.set("stop_sequences", p.Stop)
	}
	if p.Stream {
		b.set("stream", true)
	}

	body, err := b.bytes()
	if err != nil {
		return nil, err
	}
	return buildHTTPRequest(anthropicShape, in, body)
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

// anthropicMessages extracts system text and rewrites tool traffic as
// content blocks. Tool results travel as user messages and consecutive
// messages of the same role are merged, since the API requires alternation.
func anthropicMessages(msgs []protocol.Message) (string, []anthropicMessage) {
	var system []string
	var out []anthropicMessage

	appendBlocks := func(role string, blocks []map[string]any) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case protocol.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
		case protocol.RoleTool:
			block := map[string]any{
				"type":        blockTypeToolResult,
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}
			if m.IsError {
				block["is_error"] = true
			}
			appendBlocks(protocol.RoleUser, []map[string]any{block})
		case protocol.RoleAssistant:
			var blocks []map[string]any
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": blockTypeText, "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  blockTypeToolUse,
					"id":    tc.ID,
					"name":  tc.Function.Name,
					"input": decodeArguments(tc.Function.Arguments),
				})
			}
			appendBlocks(protocol.RoleAssistant, blocks)
		default:
			if m.Content != "" {
				appendBlocks(protocol.RoleUser, []map[string]any{{"type": blockTypeText, "text": m.Content}})
			}
		}
	}
	return strings.Join(system, "\n\n"), out
}

// decodeArguments parses a JSON arguments string, falling back to {}
func decodeArguments(args string) any {
	if strings.TrimSpace(args) == "" {
		return map[string]any{}
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(args), &v); err != nil || v == nil {
		return map[string]any{}
	}
	return v
}

func anthropicTools(tools []protocol.ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": schemaOrEmpty(t.Parameters),
		})
	}
	return out
}

func (a *anthropicAdapter) ParseResponse(raw []byte) (*protocol.Completion, error) {
	var msg anthropic.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	out := &protocol.Completion{
		ID:           msg.ID,
		Model:        string(msg.Model),
		FinishReason: mapAnthropicStop(string(msg.StopReason)),
	}

	var text, reasoning strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case blockTypeText:
			text.WriteString(block.Text)
		case blockTypeThinking:
			reasoning.WriteString(block.Thinking)
		case blockTypeToolUse:
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, protocol.NewToolCall(block.ID, block.Name, string(args)))
		}
	}
	out.Content = text.String()
	out.Reasoning = reasoning.String()

	if gjson.GetBytes(raw, "usage").Exists() {
		out.Usage = anthropicUsage(msg.Usage.InputTokens+msg.Usage.CacheReadInputTokens+msg.Usage.CacheCreationInputTokens, msg.Usage.OutputTokens)
	}
	return out, nil
}

func anthropicUsage(input, output int64) *protocol.Usage {
	return &protocol.Usage{
		PromptTokens:     int(input),
		CompletionTokens: int(output),
		TotalTokens:      int(input + output),
	}
}

// mapAnthropicStop folds Anthropic stop reasons into the canonical set
func mapAnthropicStop(reason string) protocol.FinishReason {
	switch anthropic.StopReason(reason) {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return protocol.FinishReasonStop
	case anthropic.StopReasonToolUse:
		return protocol.FinishReasonToolCalls
	case anthropic.StopReasonMaxTokens:
		return protocol.FinishReasonLength
	case anthropic.StopReasonRefusal:
		return protocol.FinishReasonContentFilter
	default:
		return protocol.FinishReasonStop
	}
}

func (a *anthropicAdapter) TransformStream(ctx context.Context, body io.Reader) io.ReadCloser {
	tr := &anthropicStream{w: newChunkWriter(), log: a.log}
	return newTransformReader(ctx, body, tr, a.log)
}

// toolBlock accumulates one streamed tool call until its block closes
type toolBlock struct {
	id   string
	name string
	args strings.Builder
	// input is the complete input sent with the block start, if any
	input string
}

func (b *toolBlock) arguments() string {
	if b.args.Len() > 0 {
		return b.args.String()
	}
	if b.input != "" {
		return b.input
	}
	return "{}"
}

// anthropicStream converts the block-based Messages event grammar
type anthropicStream struct {
	w   *chunkWriter
	log logrus.FieldLogger

	current    *toolBlock
	toolIndex  int
	stopReason string
	inputTok   int64
	outputTok  int64
	sawUsage   bool
	finished   bool
}

func (s *anthropicStream) writer() *chunkWriter { return s.w }

func (s *anthropicStream) handle(line sse.Line) error {
	// event: lines are redundant with the "type" field of the payload
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
	case eventTypeMessageStart:
		msg := ev.Get("message")
		if id := msg.Get("id").String(); id != "" {
			s.w.id = id
		}
		s.w.model = msg.Get("model").String()
		s.readUsage(msg.Get("usage"))

	case eventTypeContentBlockStart:
		block := ev.Get("content_block")
		if block.Get("type").String() == blockTypeToolUse {
			s.current = &toolBlock{
				id:   block.Get("id").String(),
				name: block.Get("name").String(),
			}
			if in := block.Get("input"); in.IsObject() && len(in.Map()) > 0 {
				s.current.input = in.Raw
			}
		}

	case eventTypeContentBlockDelta:
		delta := ev.Get("delta")
		switch delta.Get("type").String() {
		case deltaTypeTextDelta:
			s.w.content(delta.Get("text").String())
		case deltaTypeThinkingDelta:
			s.w.reasoning(delta.Get("thinking").String())
		case deltaTypeInputJSONDelta:
			if s.current != nil {
				s.current.args.WriteString(delta.Get("partial_json").String())
			}
		}

	case eventTypeContentBlockStop:
		if s.current != nil {
			s.w.toolCall(s.toolIndex, s.current.id, s.current.name, s.current.arguments())
			s.toolIndex++
			s.current = nil
		}

	case eventTypeMessageDelta:
		if r := ev.Get("delta.stop_reason").String(); r != "" {
			s.stopReason = r
		}
		s.readUsage(ev.Get("usage"))

	case eventTypeMessageStop:
		s.end()

	case eventTypeError:
		msg := ev.Get("error.message").String()
		s.log.WithFields(logrus.Fields{
			"error_type": ev.Get("error.type").String(),
			"error":      msg,
		}).Error("anthropic stream reported an error")
		return fmt.Errorf("%w: %s", ErrUpstream, msg)
	}
	return nil
}

func (s *anthropicStream) readUsage(u gjson.Result) {
	if !u.Exists() {
		return
	}
	s.sawUsage = true
	if in := u.Get("input_tokens").Int() + u.Get("cache_read_input_tokens").Int() + u.Get("cache_creation_input_tokens").Int(); in > 0 {
		s.inputTok = in
	}
	// output_tokens is cumulative
	if out := u.Get("output_tokens").Int(); out > 0 {
		s.outputTok = out
	}
}

// end emits the finish chunk and the sentinel exactly once
func (s *anthropicStream) end() {
	if s.finished {
		return
	}
	s.finished = true

	// a tool_use block without content_block_stop holds partial arguments
	if s.current != nil {
		s.log.WithFields(logrus.Fields{
			"tool_id":   s.current.id,
			"tool_name": s.current.name,
		}).Warn("dropping tool_use block left open at end of stream")
		s.current = nil
	}

	var usage *protocol.Usage
	if s.sawUsage {
		usage = anthropicUsage(s.inputTok, s.outputTok)
	}
	s.w.finish(mapAnthropicStop(s.stopReason), usage)
	s.w.doneFrame()
}
