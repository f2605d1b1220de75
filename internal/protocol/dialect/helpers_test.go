package dialect

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tidwall/gjson"
)

// frames is a decoded canonical stream
type frames struct {
	payloads []gjson.Result
	done     int
}

func readFrames(t *testing.T, rc io.ReadCloser) (frames, error) {
	t.Helper()
	raw, err := io.ReadAll(rc)
	_ = rc.Close()

	var f frames
	for _, block := range strings.Split(string(raw), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		v := strings.TrimPrefix(block, "data: ")
		if v == "[DONE]" {
			f.done++
			continue
		}
		f.payloads = append(f.payloads, gjson.Parse(v))
	}
	return f, err
}

func (f frames) content() string {
	var sb strings.Builder
	for _, p := range f.payloads {
		sb.WriteString(p.Get("choices.0.delta.content").String())
	}
	return sb.String()
}

func (f frames) reasoning() string {
	var sb strings.Builder
	for _, p := range f.payloads {
		sb.WriteString(p.Get("choices.0.delta.reasoning_content").String())
	}
	return sb.String()
}

func (f frames) toolCalls() []gjson.Result {
	var out []gjson.Result
	for _, p := range f.payloads {
		out = append(out, p.Get("choices.0.delta.tool_calls").Array()...)
	}
	return out
}

func (f frames) finishReason() string {
	reason := ""
	for _, p := range f.payloads {
		if r := p.Get("choices.0.finish_reason"); r.Type == gjson.String {
			reason = r.String()
		}
	}
	return reason
}

func (f frames) usage() gjson.Result {
	var u gjson.Result
	for _, p := range f.payloads {
		if v := p.Get("usage"); v.Exists() {
			u = v
		}
	}
	return u
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

// sseBody joins data payloads into an SSE body
func sseBody(lines ...string) io.Reader {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n\n")
	}
	return strings.NewReader(sb.String())
}

func newNopLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}
