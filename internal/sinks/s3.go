package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/infracollect/zipstream/internal/engine"
	"go.uber.org/zap"
)

const (
	S3Kind = "s3"

	// ContentTypeZip is the media type of every archive this tool writes.
	ContentTypeZip = "application/zip"
)

// S3Uploader is an interface for uploading objects to S3.
// This allows for easy mocking in tests.
type S3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config contains configuration for the S3 sink.
type S3Config struct {
	Bucket          string
	Key             string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3Sink streams the archive to S3-compatible object storage as a multipart
// upload. Writes go into a pipe drained by the uploader, so a slow upload
// stalls the archive encoder instead of buffering the archive.
type S3Sink struct {
	logger   *zap.Logger
	bucket   string
	key      string
	uploader S3Uploader

	// ctx bounds the upload goroutine, which outlives any single Write.
	ctx context.Context

	once sync.Once
	pw   *io.PipeWriter
	done chan struct{}
	err  error
}

// NewS3Sink creates a new S3 sink with the given configuration. The upload
// starts on the first Write and runs under ctx.
func NewS3Sink(ctx context.Context, logger *zap.Logger, cfg S3Config) (engine.Sink, error) {
	if cfg.Bucket == "" {
		return nil, &engine.ConfigurationError{Component: "s3 sink", Err: fmt.Errorf("bucket is required")}
	}
	if cfg.Key == "" {
		return nil, &engine.ConfigurationError{Component: "s3 sink", Err: fmt.Errorf("key is required")}
	}

	var opts []func(*config.LoadOptions) error

	// Set region if provided
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Set explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Build S3 client options
	var s3Opts []func(*s3.Options)

	// Set custom endpoint for S3-compatible services (R2, MinIO, etc.)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	// Force path-style addressing for MinIO and some S3-compatible services
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	uploader := manager.NewUploader(client)

	return NewS3SinkWithUploader(ctx, logger, cfg.Bucket, objectKey(cfg.Prefix, cfg.Key), uploader), nil
}

// NewS3SinkWithUploader creates a new S3 sink with a custom uploader.
// This is useful for testing.
func NewS3SinkWithUploader(ctx context.Context, logger *zap.Logger, bucket, key string, uploader S3Uploader) *S3Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Sink{
		logger:   logger,
		bucket:   bucket,
		key:      key,
		uploader: uploader,
		ctx:      ctx,
		done:     make(chan struct{}),
	}
}

func objectKey(prefix, key string) string {
	if prefix != "" {
		return path.Join(prefix, key)
	}
	return key
}

func (s *S3Sink) Name() string {
	return fmt.Sprintf("s3(%s/%s)", s.bucket, s.key)
}

func (s *S3Sink) Kind() string {
	return S3Kind
}

func (s *S3Sink) start() {
	s.once.Do(func() {
		pr, pw := io.Pipe()
		s.pw = pw

		go func() {
			defer close(s.done)

			out, err := s.uploader.Upload(s.ctx, &s3.PutObjectInput{
				Bucket:      aws.String(s.bucket),
				Key:         aws.String(s.key),
				Body:        pr,
				ContentType: aws.String(ContentTypeZip),
			})
			if err != nil {
				s.err = fmt.Errorf("failed to upload to s3://%s/%s: %w", s.bucket, s.key, err)
				// Unblock the encoder.
				pr.CloseWithError(s.err)
				return
			}
			_ = pr.Close()

			s.logger.Debug("uploaded archive", zap.String("bucket", s.bucket), zap.String("key", s.key), zap.Stringp("etag", out.ETag))
		}()
	})
}

func (s *S3Sink) Write(p []byte) (int, error) {
	s.start()
	return s.pw.Write(p)
}

// Close completes the upload and waits for it.
func (s *S3Sink) Close(ctx context.Context) error {
	s.start()
	if err := s.pw.Close(); err != nil {
		return fmt.Errorf("failed to close upload stream: %w", err)
	}
	return s.wait(ctx)
}

// Abort fails the upload so no object is created from a truncated archive.
func (s *S3Sink) Abort(ctx context.Context, cause error) error {
	if cause == nil {
		cause = errors.New("archive aborted")
	}
	s.start()
	_ = s.pw.CloseWithError(cause)

	err := s.wait(ctx)
	if err == nil {
		return fmt.Errorf("upload to s3://%s/%s completed before it could be aborted", s.bucket, s.key)
	}
	return nil
}

func (s *S3Sink) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
