package sink

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/config"
	"github.com/ajitpratap0/hubtap/pkg/errors"
)

// S3Sink spools NDJSON output to a local file and uploads it to S3 on Close.
// Spooling keeps the upload a single object write, so a failed run leaves no
// partial object behind.
type S3Sink struct {
	*NDJSONSink
	spool  *os.File
	client *s3.Client
	bucket string
	key    string
	logger *zap.Logger
}

func newS3Sink(ctx context.Context, cfg *config.OutputConfig, logger *zap.Logger) (*S3Sink, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	spool, err := os.CreateTemp(cfg.Path, "hubtap-spool-*.ndjson")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create spool file")
	}

	base, err := newNDJSONSink(spool, cfg.Compression, cfg.BufferSize, logger)
	if err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, err
	}

	return &S3Sink{
		NDJSONSink: base,
		spool:      spool,
		client:     s3.NewFromConfig(awsCfg),
		bucket:     cfg.Bucket,
		key:        objectKey(cfg.KeyPrefix, cfg.Compression),
		logger:     logger.With(zap.String("component", "s3_sink")),
	}, nil
}

// Close flushes the spool and uploads it as one object.
func (s *S3Sink) Close(ctx context.Context) error {
	if err := s.NDJSONSink.Close(ctx); err != nil {
		return err
	}
	defer func() {
		_ = s.spool.Close()
		_ = os.Remove(s.spool.Name())
	}()

	if _, err := s.spool.Seek(0, 0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to rewind spool file")
	}

	uploader := manager.NewUploader(s.client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   s.spool,
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload output to S3").
			WithDetail("bucket", s.bucket).
			WithDetail("key", s.key)
	}

	s.logger.Info("output uploaded",
		zap.String("bucket", s.bucket),
		zap.String("key", s.key))
	return nil
}

// objectKey builds a timestamped object name under the configured prefix.
func objectKey(prefix, compression string) string {
	name := "hubtap-" + time.Now().UTC().Format("20060102T150405Z") + ".ndjson"
	switch compression {
	case "gzip":
		name += ".gz"
	case "zstd":
		name += ".zst"
	case "lz4":
		name += ".lz4"
	}
	if prefix == "" {
		return name
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix + name
	}
	return prefix + "/" + name
}
