package sources

import (
	"context"
	"sync"
	"time"

	v1 "github.com/infracollect/zipstream/apis/v1"
	"github.com/infracollect/zipstream/internal/engine"
	"go.uber.org/zap"
)

// Register registers the file, s3, http and inline source factories with
// the registry. S3 sources with identical client settings share one lazily
// built client; defaultRegion applies to those that name no region.
func Register(r *engine.Registry, defaultRegion string) {
	clients := &s3Clients{byConfig: make(map[S3ClientConfig]*LazyS3Client)}

	r.RegisterSource(FileKind, engine.NewSourceFactory(FileKind, fileFactory))
	r.RegisterSource(HTTPKind, engine.NewSourceFactory(HTTPKind, httpFactory))
	r.RegisterSource(MemoryKind, engine.NewSourceFactory(MemoryKind, inlineFactory))
	r.RegisterSource(S3Kind, engine.NewSourceFactory(S3Kind,
		func(ctx context.Context, logger *zap.Logger, spec *v1.S3Source) (engine.Source, error) {
			return s3Factory(ctx, logger, spec, defaultRegion, clients)
		}))
}

func fileFactory(_ context.Context, _ *zap.Logger, spec *v1.FileSource) (engine.Source, error) {
	return NewFileFromPath(spec.Path)
}

func httpFactory(_ context.Context, _ *zap.Logger, spec *v1.HTTPSource) (engine.Source, error) {
	cfg := HTTPConfig{
		URL:      spec.URL,
		Headers:  spec.Headers,
		Insecure: spec.Insecure,
	}
	if spec.Timeout != nil {
		cfg.Timeout = time.Duration(*spec.Timeout) * time.Second
	}
	return NewHTTP(cfg)
}

func inlineFactory(_ context.Context, _ *zap.Logger, spec *v1.InlineSource) (engine.Source, error) {
	return NewMemory("content", []byte(spec.Content), time.Time{}), nil
}

func s3Factory(_ context.Context, logger *zap.Logger, spec *v1.S3Source, defaultRegion string, clients *s3Clients) (engine.Source, error) {
	loc, err := ParseS3URI(spec.URI)
	if err != nil {
		return nil, &engine.ConfigurationError{Component: S3Kind, Err: err}
	}

	cfg := S3ClientConfig{
		Region:          resolveRegion(spec.Region, loc.Region),
		DefaultRegion:   defaultRegion,
		Endpoint:        spec.Endpoint,
		AccessKeyID:     spec.AccessKeyID,
		SecretAccessKey: spec.SecretAccessKey,
		ForcePathStyle:  spec.ForcePathStyle,
	}

	logger.Debug("resolved s3 source",
		zap.Stringer("location", loc),
		zap.String("region", resolveRegion(cfg.Region, cfg.DefaultRegion)),
	)

	return NewS3(S3Config{URI: spec.URI, S3ClientConfig: cfg}, WithS3ClientProvider(clients.get(cfg)))
}

type s3Clients struct {
	mu       sync.Mutex
	byConfig map[S3ClientConfig]*LazyS3Client
}

func (c *s3Clients) get(cfg S3ClientConfig) *LazyS3Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.byConfig[cfg]; ok {
		return client
	}
	client := NewLazyS3Client(cfg)
	c.byConfig[cfg] = client
	return client
}
