package sse

import "strings"

// Kind classifies one SSE line
type Kind int

const (
	KindBlank Kind = iota
	KindComment
	KindData
	KindEvent
	KindOther
)

// DoneSentinel is the payload that terminates an OpenAI style stream
const DoneSentinel = "[DONE]"

// Line is a classified SSE line
type Line struct {
	Kind  Kind
	Value string
}

// ParseLine classifies a single line. "data:" and "event:" accept one
// optional space after the colon.
func ParseLine(raw string) Line {
	raw = strings.TrimSuffix(raw, "\r")
	if strings.TrimSpace(raw) == "" {
		return Line{Kind: KindBlank}
	}
	if strings.HasPrefix(raw, ":") {
		return Line{Kind: KindComment, Value: strings.TrimSpace(raw[1:])}
	}
	if v, ok := field(raw, "data"); ok {
		return Line{Kind: KindData, Value: v}
	}
	if v, ok := field(raw, "event"); ok {
		return Line{Kind: KindEvent, Value: strings.TrimSpace(v)}
	}
	return Line{Kind: KindOther, Value: raw}
}

func field(raw, name string) (string, bool) {
	if !strings.HasPrefix(raw, name+":") {
		return "", false
	}
	v := raw[len(name)+1:]
	return strings.TrimPrefix(v, " "), true
}

// IsDone reports whether a data value is the end-of-stream sentinel
func IsDone(value string) bool {
	return strings.TrimSpace(value) == DoneSentinel
}

// FormatData frames payload as a data event followed by a blank line
func FormatData(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}

// FormatDone frames the end-of-stream sentinel
func FormatDone() []byte {
	return []byte("data: " + DoneSentinel + "\n\n")
}
