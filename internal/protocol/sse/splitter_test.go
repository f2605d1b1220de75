package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitter_HoldsBackPartialLine(t *testing.T) {
	s := NewSplitter()

	lines, err := s.Feed([]byte("data: {\"a\""))
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = s.Feed([]byte(":1}\n\ndata: [DO"))
	require.NoError(t, err)
	assert.Equal(t, []string{`data: {"a":1}`, ""}, lines)

	lines, err = s.Feed([]byte("NE]\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"data: [DONE]"}, lines)

	_, ok := s.Flush()
	assert.False(t, ok)
}

func TestSplitter_MultiByteRuneAcrossChunks(t *testing.T) {
	s := NewSplitter()
	payload := []byte("data: héllo 世界\n")

	var got []string
	for _, b := range payload {
		lines, err := s.Feed([]byte{b})
		require.NoError(t, err)
		got = append(got, lines...)
	}
	assert.Equal(t, []string{"data: héllo 世界"}, got)
}

func TestSplitter_InvalidUTF8IsReplaced(t *testing.T) {
	s := NewSplitter()
	lines, err := s.Feed([]byte{'a', 0xff, 'b', '\n'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a�b"}, lines)
}

func TestSplitter_LineTooLong(t *testing.T) {
	s := NewSplitter()
	s.SetMaxLineSize(4)
	lines, err := s.Feed([]byte("ok\n123456"))
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.Equal(t, []string{"ok"}, lines)
	assert.Zero(t, s.Pending())
}

func TestSplitter_FlushReturnsTail(t *testing.T) {
	s := NewSplitter()
	_, err := s.Feed([]byte("data: tail"))
	require.NoError(t, err)
	tail, ok := s.Flush()
	assert.True(t, ok)
	assert.Equal(t, "data: tail", tail)
}

// oneByteReader hands out a single byte per Read call.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReader_Next(t *testing.T) {
	src := "data: one\n\n: keepalive\ndata: two\ndata: [DONE]"
	r := NewReader(oneByteReader{strings.NewReader(src)})

	var got []string
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"data: one", "", ": keepalive", "data: two", "data: [DONE]"}, got)

	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Line
	}{
		{"blank", "   ", Line{Kind: KindBlank}},
		{"comment", ": ping", Line{Kind: KindComment, Value: "ping"}},
		{"data with space", `data: {"x":1}`, Line{Kind: KindData, Value: `{"x":1}`}},
		{"data without space", `data:{"x":1}`, Line{Kind: KindData, Value: `{"x":1}`}},
		{"event", "event: message_start", Line{Kind: KindEvent, Value: "message_start"}},
		{"other", "id: 7", Line{Kind: KindOther, Value: "id: 7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLine(tt.in))
		})
	}

	assert.True(t, IsDone(" [DONE] "))
	assert.False(t, IsDone("{}"))
	assert.Equal(t, "data: {}\n\n", string(FormatData([]byte("{}"))))
	assert.Equal(t, "data: [DONE]\n\n", string(FormatDone()))
}
