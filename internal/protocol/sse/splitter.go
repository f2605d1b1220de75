// Package sse splits raw server-sent event byte streams into lines and
// classifies those lines.
package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLineSize bounds how many bytes a single unterminated line may hold
const DefaultMaxLineSize = 4 << 20

const readBufferSize = 32 << 10

// ErrLineTooLong is returned when a line grows past the configured maximum
var ErrLineTooLong = errors.New("sse: line too long")

// Splitter turns pushed byte chunks into complete lines.
//
// Bytes are only decoded once a line is complete, so a multi-byte rune that
// straddles two chunks is reassembled before decoding.
type Splitter struct {
	pending []byte
	maxLine int
}

// NewSplitter creates a splitter with the default line limit
func NewSplitter() *Splitter {
	return &Splitter{maxLine: DefaultMaxLineSize}
}

// SetMaxLineSize changes the line limit. Zero or less disables it.
func (s *Splitter) SetMaxLineSize(n int) {
	s.maxLine = n
}

// Feed appends chunk and returns every line it completed, without the
// line terminator. The trailing partial line is held back.
func (s *Splitter) Feed(chunk []byte) ([]string, error) {
	s.pending = append(s.pending, chunk...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(s.pending[start:], '\n')
		if i < 0 {
			break
		}
		lines = append(lines, decodeLine(s.pending[start:start+i]))
		start += i + 1
	}
	if start > 0 {
		n := copy(s.pending, s.pending[start:])
		s.pending = s.pending[:n]
	}

	if s.maxLine > 0 && len(s.pending) > s.maxLine {
		s.pending = s.pending[:0]
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// Flush returns the held back partial line, if any, and resets the splitter
func (s *Splitter) Flush() (string, bool) {
	if len(s.pending) == 0 {
		return "", false
	}
	line := decodeLine(s.pending)
	s.pending = s.pending[:0]
	return line, true
}

// Pending reports how many bytes are held back
func (s *Splitter) Pending() int {
	return len(s.pending)
}

func decodeLine(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// Reader pulls complete lines out of an io.Reader
type Reader struct {
	src   io.Reader
	split *Splitter
	buf   []byte
	queue []string
	err   error
}

// NewReader creates a line reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{
		src:   r,
		split: NewSplitter(),
		buf:   make([]byte, readBufferSize),
	}
}

// Next returns the next complete line. At end of stream a non-empty trailing
// line without terminator is returned once, then io.EOF.
func (r *Reader) Next() (string, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return "", r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			lines, splitErr := r.split.Feed(r.buf[:n])
			r.queue = append(r.queue, lines...)
			if splitErr != nil {
				r.err = splitErr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if tail, ok := r.split.Flush(); ok {
					r.queue = append(r.queue, tail)
				}
			}
			r.err = err
		}
	}

	line := r.queue[0]
	r.queue = r.queue[1:]
	return line, nil
}
