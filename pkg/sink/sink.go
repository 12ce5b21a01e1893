package sink

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/config"
	"github.com/ajitpratap0/hubtap/pkg/errors"
)

// Sink receives output documents in emission order. WriteRecord and
// WriteState are safe for concurrent use; documents appear downstream in the
// order the calls were made.
type Sink interface {
	// WriteRecord emits one extracted record
	WriteRecord(ctx context.Context, stream string, record map[string]interface{}, extractedAt time.Time) error

	// WriteState emits a bookmark snapshot
	WriteState(ctx context.Context, value map[string]interface{}) error

	// Close flushes buffers and releases resources
	Close(ctx context.Context) error
}

// New builds the sink selected by the output configuration.
func New(ctx context.Context, cfg *config.OutputConfig, logger *zap.Logger) (Sink, error) {
	switch cfg.Kind {
	case "stdout":
		return newNDJSONSink(os.Stdout, cfg.Compression, cfg.BufferSize, logger)

	case "file":
		if cfg.Path == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "output.path is required for the file sink")
		}
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create output file")
		}
		s, err := newNDJSONSink(f, cfg.Compression, cfg.BufferSize, logger)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		s.closers = append(s.closers, f)
		return s, nil

	case "s3":
		return newS3Sink(ctx, cfg, logger)

	case "gcs":
		return newGCSSink(ctx, cfg, logger)

	case "kafka":
		return newKafkaSink(cfg, logger)

	default:
		return nil, errors.New(errors.ErrorTypeConfig, "unknown output kind").
			WithDetail("kind", cfg.Kind)
	}
}
