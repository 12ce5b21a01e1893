package sink

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubtap/pkg/json"
	"github.com/ajitpratap0/hubtap/pkg/metrics"
)

// NDJSONSink writes one JSON document per line to an underlying writer,
// optionally through a compression stage. A mutex serializes writers so
// documents land in call order and lines never interleave.
type NDJSONSink struct {
	mu         sync.Mutex
	enc        *jsonpool.StreamingEncoder
	buf        *bufio.Writer
	compressor io.WriteCloser
	counter    *countingWriter
	closers    []io.Closer
	logger     *zap.Logger
	closed     bool
}

// newNDJSONSink builds an NDJSON sink over w. Closers appended to s.closers
// by the caller are closed after the write chain is flushed.
func newNDJSONSink(w io.Writer, compression string, bufSize int, logger *zap.Logger) (*NDJSONSink, error) {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}

	s := &NDJSONSink{
		counter: &countingWriter{w: w},
		logger:  logger.With(zap.String("component", "ndjson_sink")),
	}
	s.buf = bufio.NewWriterSize(s.counter, bufSize)

	var target io.Writer = s.buf
	switch compression {
	case "", "none":
	case "gzip":
		s.compressor = gzip.NewWriter(s.buf)
		target = s.compressor
	case "zstd":
		zw, err := zstd.NewWriter(s.buf)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create zstd writer")
		}
		s.compressor = zw
		target = zw
	case "lz4":
		s.compressor = lz4.NewWriter(s.buf)
		target = s.compressor
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "unknown compression").
			WithDetail("compression", compression)
	}

	s.enc = jsonpool.NewStreamingEncoder(target, false)
	return s, nil
}

// WriteRecord emits one record document.
func (s *NDJSONSink) WriteRecord(_ context.Context, stream string, record map[string]interface{}, extractedAt time.Time) error {
	return s.write(RecordMessage(stream, record, extractedAt))
}

// WriteState emits a state document.
func (s *NDJSONSink) WriteState(_ context.Context, value map[string]interface{}) error {
	return s.write(StateMessage(value))
}

func (s *NDJSONSink) write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrorTypeInternal, "sink is closed")
	}
	if err := s.enc.Encode(msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode output document")
	}
	return nil
}

// Close flushes the write chain in order: encoder, compressor, buffer, then
// any underlying closers.
func (s *NDJSONSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.enc.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to flush encoder")
	}
	if s.compressor != nil {
		if err := s.compressor.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close compressor")
		}
	}
	if err := s.buf.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to flush output buffer")
	}

	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close output")
		}
	}

	s.logger.Debug("sink closed", zap.Int64("bytes_written", s.counter.n))
	return nil
}

// countingWriter feeds the bytes-written metric.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	metrics.SinkBytesWritten.Add(float64(n))
	return n, err
}
