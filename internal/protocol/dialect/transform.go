package dialect

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/tingly-loop/internal/protocol/sse"
)

// lineTransformer converts one dialect's SSE lines into canonical frames
type lineTransformer interface {
	handle(line sse.Line) error
	// end is called once the upstream is exhausted
	end()
	writer() *chunkWriter
}

// transformReader pulls upstream lines only as fast as the consumer reads,
// so an abandoned stream leaves nothing running
type transformReader struct {
	ctx   context.Context
	src   io.Reader
	lines *sse.Reader
	tr    lineTransformer
	out   bytes.Buffer
	err   error
	log   logrus.FieldLogger
}

func newTransformReader(ctx context.Context, src io.Reader, tr lineTransformer, log logrus.FieldLogger) *transformReader {
	r := &transformReader{
		ctx:   ctx,
		src:   src,
		lines: sse.NewReader(src),
		tr:    tr,
		log:   log,
	}
	tr.writer().out = &r.out
	return r
}

func (r *transformReader) Read(p []byte) (int, error) {
	for r.out.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if err := r.ctx.Err(); err != nil {
			r.err = err
			continue
		}

		raw, err := r.lines.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.tr.end()
				r.err = io.EOF
			} else {
				r.log.WithError(err).Warn("upstream stream read failed")
				r.err = err
			}
			continue
		}

		if err := r.tr.handle(sse.ParseLine(raw)); err != nil {
			r.err = err
			continue
		}
		if r.tr.writer().done {
			r.err = io.EOF
		}
	}
	return r.out.Read(p)
}

func (r *transformReader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// skipMalformed logs a data payload that is not valid JSON
func skipMalformed(log logrus.FieldLogger, payload string) {
	preview := payload
	if len(preview) > 120 {
		preview = preview[:120]
	}
	log.WithField("payload", preview).Warn("skipping malformed stream line")
}
