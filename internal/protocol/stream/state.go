package stream

import (
	"strings"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

const (
	thinkOpen    = "<think>"
	thinkClose   = "</think>"
	fence        = "```"
	inlinePrefix = `{"type": "tool_calls"`
)

// State is the complete parser state. At most one of InThinkSection and
// InCodeBlock is set.
type State struct {
	// Buffer holds text that could not be classified yet
	Buffer string

	InThinkSection bool
	InCodeBlock    bool

	CodeBlockType      string
	CodeBlockStartLine string
	CodeBlockContent   string

	AccumulatedReasoning string
	AccumulatedThinking  string
	ToolCalls            ToolCallAccumulator

	// thinkHasText is set once the open think section produced non-blank text
	thinkHasText bool
	// swallowNewline drops the line break that ends a tool-call fence
	swallowNewline bool
}

// Advance feeds one content chunk through st and returns the new state and
// the events it produced. st is left untouched.
func Advance(st State, content string) (State, []Event) {
	next := st.clone()
	var ev []Event
	next.process(content, &ev)
	return next, ev
}

// Drain flushes everything st still buffers
func Drain(st State) (State, []Event) {
	next := st.clone()
	var ev []Event
	next.drain(&ev)
	return next, ev
}

// FinalThinking consolidates reasoning and think-tag text. The reasoning
// field wins when both are present.
func (s State) FinalThinking() protocol.Thinking {
	if r := strings.TrimSpace(s.AccumulatedReasoning); r != "" {
		return protocol.Thinking{Content: r, Source: protocol.ThinkingSourceReasoningField}
	}
	if t := strings.TrimSpace(s.AccumulatedThinking); t != "" {
		return protocol.Thinking{Content: t, Source: protocol.ThinkingSourceThinkTags}
	}
	return protocol.Thinking{Source: protocol.ThinkingSourceNone}
}

func (s State) clone() State {
	c := s
	c.ToolCalls = s.ToolCalls.clone()
	return c
}

func (s *State) process(chunk string, ev *[]Event) {
	s.Buffer += chunk
	for {
		var more bool
		switch {
		case s.InThinkSection:
			more = s.scanThink(ev)
		case s.InCodeBlock:
			more = s.scanCodeBlock(ev)
		default:
			more = s.scanRegular(ev)
		}
		if !more {
			return
		}
	}
}

// scanRegular walks the buffer looking for structural markers. It returns
// true when a mode change happened and scanning should continue.
func (s *State) scanRegular(ev *[]Event) bool {
	if s.swallowNewline && s.Buffer != "" {
		s.Buffer = strings.TrimPrefix(s.Buffer, "\n")
		s.swallowNewline = false
	}

	buf := s.Buffer
	for i := 0; i < len(buf); {
		rem := buf[i:]
		switch {
		case strings.HasPrefix(rem, thinkOpen):
			s.emitContent(buf[:i], ev)
			s.Buffer = rem[len(thinkOpen):]
			s.InThinkSection = true
			s.thinkHasText = false
			*ev = append(*ev, Event{Type: EventThinkStart})
			return true

		case strings.HasPrefix(rem, fence):
			nl := strings.IndexByte(rem, '\n')
			if nl < 0 {
				// the language tag is not complete yet
				s.emitContent(buf[:i], ev)
				s.Buffer = rem
				return false
			}
			s.emitContent(buf[:i], ev)
			s.InCodeBlock = true
			s.CodeBlockStartLine = rem[:nl+1]
			s.CodeBlockType = strings.ToLower(strings.TrimSpace(rem[len(fence):nl]))
			s.CodeBlockContent = ""
			s.Buffer = rem[nl+1:]
			return true

		case strings.HasPrefix(rem, inlinePrefix):
			end, matched := balanceJSON(rem)
			if end < 0 {
				s.emitContent(buf[:i], ev)
				s.Buffer = rem
				return false
			}
			if matched {
				if data, ok := parseToolCallJSON(rem[:end]); ok {
					s.emitContent(buf[:i], ev)
					*ev = append(*ev, Event{Type: EventToolCall, Data: data})
					s.Buffer = rem[end:]
					return true
				}
			}
			// not a tool call: keep it as literal text and scan past it
			i += end
			continue

		case isPartialPrefix(rem, thinkOpen), isPartialPrefix(rem, fence), isPartialPrefix(rem, inlinePrefix):
			s.emitContent(buf[:i], ev)
			s.Buffer = rem
			return false
		}
		i++
	}

	s.emitContent(buf, ev)
	s.Buffer = ""
	return false
}

func (s *State) scanThink(ev *[]Event) bool {
	if idx := strings.Index(s.Buffer, thinkClose); idx >= 0 {
		s.emitThink(s.Buffer[:idx], ev)
		s.Buffer = s.Buffer[idx+len(thinkClose):]
		s.InThinkSection = false
		s.thinkHasText = false
		*ev = append(*ev, Event{Type: EventThinkEnd})
		return true
	}

	keep := partialSuffix(s.Buffer, thinkClose)
	safe := s.Buffer[:len(s.Buffer)-keep]
	if !s.thinkHasText && strings.TrimSpace(safe) == "" {
		// hold leading blank text until the section proves non-blank
		return false
	}
	s.emitThink(safe, ev)
	s.Buffer = s.Buffer[len(safe):]
	return false
}

func (s *State) scanCodeBlock(ev *[]Event) bool {
	combined := s.CodeBlockContent + s.Buffer
	idx := closingFence(combined)
	if idx < 0 {
		s.CodeBlockContent = combined
		s.Buffer = ""
		return false
	}

	body := combined[:idx]
	s.Buffer = combined[idx+len(fence):]
	s.closeCodeBlock(body, ev)
	return true
}

func (s *State) closeCodeBlock(body string, ev *[]Event) {
	if s.CodeBlockType == "json" {
		if data, ok := parseToolCallJSON(body); ok {
			*ev = append(*ev, Event{Type: EventToolCall, Data: data})
			s.swallowNewline = true
			s.resetCodeBlock()
			return
		}
	}
	s.emitContent(s.CodeBlockStartLine+body+fence, ev)
	s.resetCodeBlock()
}

func (s *State) resetCodeBlock() {
	s.InCodeBlock = false
	s.CodeBlockType = ""
	s.CodeBlockStartLine = ""
	s.CodeBlockContent = ""
}

func (s *State) drain(ev *[]Event) {
	if s.InThinkSection {
		s.emitThink(s.Buffer, ev)
		s.Buffer = ""
		s.InThinkSection = false
		s.thinkHasText = false
		*ev = append(*ev, Event{Type: EventThinkEnd})
	}
	if s.InCodeBlock {
		// an unterminated block cannot be tool-call data
		s.emitContent(s.CodeBlockStartLine+s.CodeBlockContent+s.Buffer, ev)
		s.Buffer = ""
		s.resetCodeBlock()
	}
	s.emitContent(s.Buffer, ev)
	s.Buffer = ""
	s.swallowNewline = false
}

func (s *State) emitContent(text string, ev *[]Event) {
	if text == "" {
		return
	}
	*ev = append(*ev, Event{Type: EventContent, Content: text})
}

func (s *State) emitThink(text string, ev *[]Event) {
	if text == "" {
		return
	}
	if !s.thinkHasText {
		if strings.TrimSpace(text) == "" {
			return
		}
		if s.AccumulatedThinking != "" {
			s.AccumulatedThinking += "\n\n"
		}
		s.thinkHasText = true
	}
	s.AccumulatedThinking += text
	*ev = append(*ev, Event{Type: EventThinkContent, Content: text})
}

// closingFence finds a fence that starts a line
func closingFence(s string) int {
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], fence)
		if i < 0 {
			return -1
		}
		pos := off + i
		if pos == 0 || s[pos-1] == '\n' {
			return pos
		}
		off = pos + 1
	}
	return -1
}

// isPartialPrefix reports whether rem is a proper prefix of marker
func isPartialPrefix(rem, marker string) bool {
	return len(rem) < len(marker) && strings.HasPrefix(marker, rem)
}

// partialSuffix returns the length of the longest proper prefix of marker
// that s ends with
func partialSuffix(s, marker string) int {
	n := len(marker) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
