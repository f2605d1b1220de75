package stream

import (
	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/tingly-loop/internal/protocol"
)

// Parser is a stateful wrapper over State. One parser serves one stream.
type Parser struct {
	st  State
	log logrus.FieldLogger
}

// NewParser creates a parser. A nil logger falls back to the standard logger.
func NewParser(log logrus.FieldLogger) *Parser {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Parser{log: log}
}

// ProcessContent parses one content chunk
func (p *Parser) ProcessContent(chunk string) []Event {
	var ev []Event
	p.st.process(chunk, &ev)
	return ev
}

// ParseSSELine parses one canonical SSE line. Malformed payloads are logged
// and skipped.
func (p *Parser) ParseSSELine(line string) []Event {
	res, err := DecodeSSELine(line)
	if err != nil {
		preview := line
		if len(preview) > 120 {
			preview = preview[:120]
		}
		p.log.WithError(err).WithField("line", preview).Warn("skipping malformed stream line")
		return nil
	}
	if res == nil {
		return nil
	}
	var ev []Event
	p.st.apply(res, &ev)
	return ev
}

// Flush drains buffered text. Call it once at stream end.
func (p *Parser) Flush() []Event {
	var ev []Event
	p.st.drain(&ev)
	return ev
}

// Reset discards all state
func (p *Parser) Reset() {
	p.st = State{}
}

// State returns a copy of the current state
func (p *Parser) State() State {
	return p.st.clone()
}

// ToolCalls returns the native tool calls accumulated from deltas
func (p *Parser) ToolCalls() []protocol.ToolCall {
	return p.st.ToolCalls.ToolCalls()
}

// FinalThinkingContent consolidates reasoning and think-tag text
func (p *Parser) FinalThinkingContent() protocol.Thinking {
	return p.st.FinalThinking()
}

// ParseText runs a complete text through a fresh parser
func ParseText(text string) (Summary, protocol.Thinking) {
	p := NewParser(nil)
	s := Collect(p.ProcessContent(text))
	for _, ev := range p.Flush() {
		s.Add(ev)
	}
	return s, p.FinalThinkingContent()
}
