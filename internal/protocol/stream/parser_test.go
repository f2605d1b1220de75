package stream

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

func newTestParser() (*Parser, *test.Hook) {
	log, hook := test.NewNullLogger()
	return NewParser(log), hook
}

func feedAll(p *Parser, chunks ...string) []Event {
	var ev []Event
	for _, c := range chunks {
		ev = append(ev, p.ProcessContent(c)...)
	}
	return append(ev, p.Flush()...)
}

func types(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

// normalize merges adjacent text events so chunking differences vanish
func normalize(events []Event) []Event {
	var out []Event
	for _, e := range events {
		n := len(out)
		if n > 0 && (e.Type == EventContent || e.Type == EventThinkContent) && out[n-1].Type == e.Type {
			out[n-1].Content += e.Content
			continue
		}
		out = append(out, e)
	}
	return out
}

func TestParser_PlainContent(t *testing.T) {
	p, _ := newTestParser()
	ev := p.ProcessContent("hello world")
	assert.Equal(t, []Event{{Type: EventContent, Content: "hello world"}}, ev)
	assert.Empty(t, p.Flush())
}

func TestParser_ThinkSection(t *testing.T) {
	p, _ := newTestParser()
	ev := feedAll(p, "<think>reason</think>answer")
	assert.Equal(t, []Event{
		{Type: EventThinkStart},
		{Type: EventThinkContent, Content: "reason"},
		{Type: EventThinkEnd},
		{Type: EventContent, Content: "answer"},
	}, ev)
	assert.Equal(t, protocol.Thinking{Content: "reason", Source: protocol.ThinkingSourceThinkTags}, p.FinalThinkingContent())
}

func TestParser_ThinkTagsSplitAcrossChunks(t *testing.T) {
	p, _ := newTestParser()

	assert.Empty(t, p.ProcessContent("<thi"))
	assert.Equal(t, []Event{{Type: EventThinkStart}, {Type: EventThinkContent, Content: "rea"}}, p.ProcessContent("nk>rea"))
	// the partial closing tag is held back
	assert.Equal(t, []Event{{Type: EventThinkContent, Content: "son"}}, p.ProcessContent("son</th"))
	assert.Equal(t, "</th", p.State().Buffer)
	assert.Equal(t, []Event{{Type: EventThinkEnd}, {Type: EventContent, Content: "answer"}}, p.ProcessContent("ink>answer"))
}

func TestParser_BlankThinkSectionHasNoContent(t *testing.T) {
	p, _ := newTestParser()
	ev := feedAll(p, "<think>  \n ", " </think>hi")
	assert.Equal(t, []EventType{EventThinkStart, EventThinkEnd, EventContent}, types(ev))
	assert.Equal(t, protocol.ThinkingSourceNone, p.FinalThinkingContent().Source)
}

func TestParser_NoDetectionInsideThink(t *testing.T) {
	p, _ := newTestParser()
	ev := feedAll(p, "<think>```json\n{\"type\": \"tool_calls\"}</think>")
	assert.Equal(t, []EventType{EventThinkStart, EventThinkContent, EventThinkEnd}, types(ev))
	assert.False(t, p.State().InCodeBlock)
}

func TestParser_FlushClosesOpenThink(t *testing.T) {
	p, _ := newTestParser()
	ev := feedAll(p, "<think>still going")
	assert.Equal(t, []EventType{EventThinkStart, EventThinkContent, EventThinkEnd}, types(ev))
	assert.False(t, p.State().InThinkSection)
}

func TestParser_FencedToolCall(t *testing.T) {
	p, _ := newTestParser()
	block := "```json\n{\"type\":\"tool_calls\",\"calls\":[{\"name\":\"x\",\"args\":{}}]}\n```"
	ev := feedAll(p, "Sure.\n"+block+"\nDone")

	require.Equal(t, []EventType{EventContent, EventToolCall, EventContent}, types(ev))
	assert.Equal(t, "Sure.\n", ev[0].Content)
	assert.Equal(t, "Done", ev[2].Content)

	data := ev[1].Data
	require.NotNil(t, data)
	require.Len(t, data.Calls, 1)
	assert.Equal(t, "x", data.Calls[0].Name)
	assert.Equal(t, "{}", data.Calls[0].ArgumentsJSON())
}

func TestParser_FencedToolCallCharByChar(t *testing.T) {
	p, _ := newTestParser()
	block := "```json\n{\"type\":\"tool_calls\",\"calls\":[{\"name\":\"x\",\"args\":{}}]}\n```"

	var ev []Event
	for _, r := range block {
		ev = append(ev, p.ProcessContent(string(r))...)
	}
	ev = append(ev, p.Flush()...)

	toolCalls, contents := 0, 0
	for _, e := range ev {
		switch e.Type {
		case EventToolCall:
			toolCalls++
		case EventContent:
			contents++
		}
	}
	assert.Equal(t, 1, toolCalls)
	assert.Equal(t, 0, contents)
}

func TestParser_NonToolFenceIsVerbatim(t *testing.T) {
	tests := []string{
		"```python\nprint(1)\n```",
		"```json\n{\"a\":1}\n```",
		"```json\n{\"type\":\"tool_calls\",\"calls\":[]}\n```",
		"```\nno language\n```",
	}
	for _, in := range tests {
		p, _ := newTestParser()
		ev := normalize(feedAll(p, in))
		assert.Equal(t, []Event{{Type: EventContent, Content: in}}, ev, in)
	}
}

func TestParser_UnterminatedFenceOnFlush(t *testing.T) {
	p, _ := newTestParser()
	assert.Empty(t, p.ProcessContent("```go\nfunc main() {"))
	assert.True(t, p.State().InCodeBlock)

	ev := p.Flush()
	assert.Equal(t, []Event{{Type: EventContent, Content: "```go\nfunc main() {"}}, ev)
	assert.False(t, p.State().InCodeBlock)
}

func TestParser_ClosingFenceSplitAcrossChunks(t *testing.T) {
	p, _ := newTestParser()
	assert.Empty(t, p.ProcessContent("```sh\nls\n`"))
	assert.Empty(t, p.ProcessContent("`"))
	assert.Equal(t, []Event{{Type: EventContent, Content: "```sh\nls\n```"}}, p.ProcessContent("`"))
}

func TestParser_InlineToolCall(t *testing.T) {
	p, _ := newTestParser()
	in := `Let me check. {"type": "tool_calls", "calls": [{"name": "search", "args": {"q": "a}b\"c"}}]} ok`
	ev := feedAll(p, in)

	require.Equal(t, []EventType{EventContent, EventToolCall, EventContent}, types(ev))
	assert.Equal(t, "Let me check. ", ev[0].Content)
	assert.Equal(t, " ok", ev[2].Content)
	assert.Equal(t, "search", ev[1].Data.Calls[0].Name)
	assert.JSONEq(t, `{"q":"a}b\"c"}`, ev[1].Data.Calls[0].ArgumentsJSON())
}

func TestParser_InlineCandidatesDegradeToContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"mismatched delimiters", `bad {"type": "tool_calls", "calls": [}] then text`},
		{"balanced but invalid", `x {"type": "tool_calls", "calls": [{"name": }]} y`},
		{"wrong type", `{"type": "tool_calls_v2", "calls": [{"name": "a"}]}`},
		{"unterminated", `{"type": "tool_calls", "calls": [{"name": "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestParser()
			ev := normalize(feedAll(p, tt.in))
			assert.Equal(t, []Event{{Type: EventContent, Content: tt.in}}, ev)

			st := p.State()
			assert.False(t, st.InCodeBlock)
			assert.False(t, st.InThinkSection)
			assert.Empty(t, st.Buffer)
		})
	}
}

func TestParser_StateRecoversAfterBadCandidate(t *testing.T) {
	p, _ := newTestParser()
	ev := feedAll(p,
		`{"type": "tool_calls", "calls": [}] `,
		`{"type": "tool_calls", "calls": [{"name": "ok"}]}`,
	)
	got := normalize(ev)
	require.Len(t, got, 2)
	assert.Equal(t, EventContent, got[0].Type)
	assert.Equal(t, EventToolCall, got[1].Type)
	assert.Equal(t, "ok", got[1].Data.Calls[0].Name)
}

var invarianceInputs = []string{
	"plain text only",
	"Hello <think>step one\nstep two</think> world",
	"<think>\n\n</think>after blank",
	"before ```json\n{\"type\":\"tool_calls\",\"calls\":[{\"name\":\"x\",\"args\":{}}]}\n```\nafter",
	"code:\n```python\nprint('hi')\n```\nend",
	`inline {"type": "tool_calls", "calls": [{"name": "lookup", "args": {"q": "}{\""}}]} tail`,
	`bad {"type": "tool_calls", "calls": [}] then text`,
	"unterminated ```go\nfunc x() {",
	"emoji 世界 <think>思考</think> done",
	"`single` and ``double`` ticks and a { brace",
	"<think>a</think><think>b</think>x <thin",
}

func TestParser_ChunkBoundaryInvariance(t *testing.T) {
	for _, in := range invarianceInputs {
		whole, _ := newTestParser()
		want := normalize(feedAll(whole, in))

		byRune, _ := newTestParser()
		var chunks []string
		for _, r := range in {
			chunks = append(chunks, string(r))
		}
		got := normalize(feedAll(byRune, chunks...))

		assert.Equal(t, want, got, in)
		assert.Equal(t, whole.FinalThinkingContent(), byRune.FinalThinkingContent(), in)
	}
}

func TestParser_ThinkBracketsBalance(t *testing.T) {
	for _, in := range invarianceInputs {
		p, _ := newTestParser()
		var chunks []string
		for i := 0; i < len(in); i += 3 {
			end := i + 3
			if end > len(in) {
				end = len(in)
			}
			chunks = append(chunks, in[i:end])
		}
		// byte chunks may split runes; the parser only ever cuts at ASCII markers
		ev := feedAll(p, chunks...)

		depth, starts, ends := 0, 0, 0
		for _, e := range ev {
			switch e.Type {
			case EventThinkStart:
				starts++
				depth++
				assert.Equal(t, 1, depth, in)
			case EventThinkEnd:
				ends++
				depth--
			case EventThinkContent:
				assert.Equal(t, 1, depth, "think_content outside a bracket: %q", in)
			}
		}
		assert.Equal(t, starts, ends, in)
		assert.Equal(t, strings.Count(in, "<think>"), starts, in)
	}
}

func TestParser_ParseSSELine(t *testing.T) {
	p, hook := newTestParser()

	lines := []string{
		": comment",
		"event: ignored",
		`data: {"choices":[{"index":0,"delta":{"reasoning_content":"Let me think..."},"finish_reason":null}]}`,
		`data: {"choices":[{"index":0,"delta":{"content":"<think>partial</think>Answer"},"finish_reason":null}]}`,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"second","arguments":"{\"n\":"}}]}}]}`,
		`data: {oops`,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"first","arguments":""}}]}}]}`,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"2}"}}]}}]}`,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
		"data: [DONE]",
	}

	var ev []Event
	for _, l := range lines {
		ev = append(ev, p.ParseSSELine(l)...)
	}
	ev = append(ev, p.Flush()...)

	s := Collect(ev)
	assert.Equal(t, "Answer", s.Content)
	assert.Equal(t, "partial", s.Thinking)
	assert.Equal(t, "Let me think...", s.Reasoning)
	assert.Equal(t, protocol.FinishReasonToolCalls, s.FinishReason)
	assert.Equal(t, &protocol.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}, s.Usage)
	assert.True(t, s.Done)

	calls := p.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, protocol.NewToolCall("call_a", "first", "{}"), calls[0])
	assert.Equal(t, protocol.NewToolCall("call_b", "second", `{"n":2}`), calls[1])

	assert.Equal(t, protocol.Thinking{Content: "Let me think...", Source: protocol.ThinkingSourceReasoningField}, p.FinalThinkingContent())

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestParser_Reset(t *testing.T) {
	p, _ := newTestParser()
	p.ProcessContent("<think>abc")
	p.ParseSSELine(`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"f"}}]}}]}`)
	p.Reset()

	assert.Equal(t, State{}, p.State())
	assert.Nil(t, p.ToolCalls())
}

func TestAdvanceIsPure(t *testing.T) {
	var st0 State
	st1, ev := Advance(st0, "<think>x")
	assert.False(t, st0.InThinkSection)
	assert.True(t, st1.InThinkSection)
	assert.Equal(t, []EventType{EventThinkStart, EventThinkContent}, types(ev))

	st2, ev, err := AdvanceLine(st1, `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"f","arguments":"{}"}}]}}]}`)
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Equal(t, 0, st1.ToolCalls.Len())
	assert.Equal(t, 1, st2.ToolCalls.Len())

	st3, _, err := AdvanceLine(st2, `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"x"}}]}}]}`)
	require.NoError(t, err)
	assert.Equal(t, "{}", st2.ToolCalls.Fragments()[0].Arguments)
	assert.Equal(t, "{}x", st3.ToolCalls.Fragments()[0].Arguments)

	before := st3
	stBad, ev, err := AdvanceLine(st3, "data: nope")
	assert.ErrorIs(t, err, ErrMalformedLine)
	assert.Empty(t, ev)
	assert.Equal(t, before, stBad)
	assert.Equal(t, before, st3)

	st4, ev := Drain(st3)
	assert.Equal(t, []EventType{EventThinkEnd}, types(ev))
	assert.True(t, st3.InThinkSection)
	assert.False(t, st4.InThinkSection)
}

func TestParseText(t *testing.T) {
	s, thinking := ParseText("<think>plan</think>Calling. {\"type\": \"tool_calls\", \"calls\": [{\"name\": \"echo\", \"arguments\": \"{\\\"text\\\":\\\"hi\\\"}\"}]}")
	assert.Equal(t, "Calling. ", s.Content)
	assert.Equal(t, protocol.ThinkingSourceThinkTags, thinking.Source)
	require.Len(t, s.ToolCalls, 1)

	calls := s.ToolCalls[0].ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Function.Name)
	assert.JSONEq(t, `{"text":"hi"}`, calls[0].Function.Arguments)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
}
