package sinks

import (
	"context"
	"io"

	v1 "github.com/infracollect/zipstream/apis/v1"
	"github.com/infracollect/zipstream/internal/engine"
	"go.uber.org/zap"
)

const StdoutKind = "stdout"

// Register registers the stdout, filesystem and s3 sink factories with the
// registry. The stdout sink writes to stdout.
func Register(r *engine.Registry, stdout io.Writer) {
	r.RegisterSink(StdoutKind, engine.NewSinkFactory(StdoutKind,
		func(_ context.Context, _ *zap.Logger, _ *v1.StdoutSink) (engine.Sink, error) {
			return NewStreamSink(stdout), nil
		}))
	r.RegisterSink(FilesystemKind, engine.NewSinkFactory(FilesystemKind, filesystemFactory))
	r.RegisterSink(S3Kind, engine.NewSinkFactory(S3Kind, s3Factory))
}

func filesystemFactory(_ context.Context, _ *zap.Logger, spec *v1.FilesystemSink) (engine.Sink, error) {
	return NewFilesystemSinkFromPath(spec.Path, spec.Name)
}

func s3Factory(ctx context.Context, logger *zap.Logger, spec *v1.S3Sink) (engine.Sink, error) {
	return NewS3Sink(ctx, logger, S3Config{
		Bucket:          spec.Bucket,
		Key:             spec.Key,
		Prefix:          spec.Prefix,
		Region:          spec.Region,
		Endpoint:        spec.Endpoint,
		AccessKeyID:     spec.AccessKeyID,
		SecretAccessKey: spec.SecretAccessKey,
		ForcePathStyle:  spec.ForcePathStyle,
	})
}
