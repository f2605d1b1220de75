package dialect

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
)

const chunkTemplate = `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`

// chunkWriter encodes canonical chat.completion.chunk frames into out
type chunkWriter struct {
	id      string
	model   string
	created int64
	done    bool
	out     *bytes.Buffer
}

func newChunkWriter() *chunkWriter {
	return &chunkWriter{
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
	}
}

func (w *chunkWriter) base() []byte {
	b := []byte(chunkTemplate)
	b, _ = sjson.SetBytes(b, "id", w.id)
	b, _ = sjson.SetBytes(b, "created", w.created)
	b, _ = sjson.SetBytes(b, "model", w.model)
	return b
}

func (w *chunkWriter) emit(chunk []byte) {
	if w.done {
		return
	}
	w.out.Write(sse.FormatData(chunk))
}

func (w *chunkWriter) content(text string) {
	if text == "" {
		return
	}
	b, _ := sjson.SetBytes(w.base(), "choices.0.delta.content", text)
	w.emit(b)
}

func (w *chunkWriter) reasoning(text string) {
	if text == "" {
		return
	}
	b, _ := sjson.SetBytes(w.base(), "choices.0.delta.reasoning_content", text)
	w.emit(b)
}

func (w *chunkWriter) toolCall(index int, id, name, arguments string) {
	if arguments == "" {
		arguments = "{}"
	}
	call := map[string]any{
		"index": index,
		"id":    id,
		"type":  "function",
		"function": map[string]any{
			"name":      name,
			"arguments": arguments,
		},
	}
	b, _ := sjson.SetBytes(w.base(), "choices.0.delta.tool_calls", []any{call})
	w.emit(b)
}

// finish writes the closing chunk with the finish reason and, when known, usage
func (w *chunkWriter) finish(reason protocol.FinishReason, usage *protocol.Usage) {
	b, _ := sjson.SetBytes(w.base(), "choices.0.finish_reason", string(reason))
	if usage != nil {
		b, _ = sjson.SetBytes(b, "usage", map[string]int{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		})
	}
	w.emit(b)
}

// raw forwards an already canonical payload
func (w *chunkWriter) raw(payload string) {
	w.emit([]byte(payload))
}

func (w *chunkWriter) doneFrame() {
	if w.done {
		return
	}
	w.out.Write(sse.FormatDone())
	w.done = true
}
