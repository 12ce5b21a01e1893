package sink

import (
	"context"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/hubtap/pkg/config"
	"github.com/ajitpratap0/hubtap/pkg/errors"
)

// GCSSink streams NDJSON output straight into a Cloud Storage object writer.
// The object only becomes visible when the writer closes cleanly, so a
// failed run leaves nothing behind.
type GCSSink struct {
	*NDJSONSink
	client *storage.Client
	writer *storage.Writer
	bucket string
	key    string
	logger *zap.Logger
}

func newGCSSink(ctx context.Context, cfg *config.OutputConfig, logger *zap.Logger) (*GCSSink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create GCS client")
	}

	key := objectKey(cfg.KeyPrefix, cfg.Compression)
	w := client.Bucket(cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	base, err := newNDJSONSink(w, cfg.Compression, cfg.BufferSize, logger)
	if err != nil {
		_ = w.Close()
		_ = client.Close()
		return nil, err
	}

	return &GCSSink{
		NDJSONSink: base,
		client:     client,
		writer:     w,
		bucket:     cfg.Bucket,
		key:        key,
		logger:     logger.With(zap.String("component", "gcs_sink")),
	}, nil
}

// Close flushes the write chain and finalizes the object.
func (s *GCSSink) Close(ctx context.Context) error {
	if err := s.NDJSONSink.Close(ctx); err != nil {
		_ = s.writer.Close()
		_ = s.client.Close()
		return err
	}

	if err := s.writer.Close(); err != nil {
		_ = s.client.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to finalize GCS object").
			WithDetail("bucket", s.bucket).
			WithDetail("key", s.key)
	}
	if err := s.client.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close GCS client")
	}

	s.logger.Info("output uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", s.key))
	return nil
}
