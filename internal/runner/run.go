package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	v1 "github.com/infracollect/zipstream/apis/v1"
	"github.com/infracollect/zipstream/internal/archive"
	"github.com/infracollect/zipstream/internal/engine"
	"github.com/infracollect/zipstream/internal/sinks"
	"github.com/infracollect/zipstream/internal/sources"
	"go.uber.org/zap"
)

// BuildRegistry creates a registry with every source and sink registered.
// The stdout sink writes to stdout; defaultRegion applies to S3 sources that
// name no region.
func BuildRegistry(logger *zap.Logger, stdout io.Writer, defaultRegion string) *engine.Registry {
	registry := engine.NewRegistry(logger)

	sources.Register(registry, defaultRegion)
	sinks.Register(registry, stdout)

	return registry
}

// Runner streams the archive described by a manifest to its sink.
type Runner struct {
	logger   *zap.Logger
	manifest v1.Archive
	session  *archive.Session
	sink     engine.Sink
}

// New builds every source, the session and the sink. No byte is written and
// no remote object is touched: configuration problems surface here.
func New(ctx context.Context, logger *zap.Logger, registry *engine.Registry, manifest v1.Archive) (*Runner, error) {
	logger.Info("creating runner", zap.String("archive_name", manifest.Metadata.Name))

	session, err := buildSession(ctx, logger.Named("session"), registry, manifest)
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(ctx, registry, manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to build sink: %w", err)
	}

	return &Runner{
		logger:   logger,
		manifest: manifest,
		session:  session,
		sink:     sink,
	}, nil
}

// Check builds every entry of manifest the way New does but skips the sink,
// so nothing is created on the output side. It returns the entry count.
func Check(ctx context.Context, logger *zap.Logger, registry *engine.Registry, manifest v1.Archive) (int, error) {
	session, err := buildSession(ctx, logger, registry, manifest)
	if err != nil {
		return 0, err
	}
	if _, err := ResolveSinkSpec(manifest.Spec.Output); err != nil {
		return 0, err
	}
	return len(session.Entries()), nil
}

func (r *Runner) Session() *archive.Session {
	return r.session
}

func (r *Runner) Sink() engine.Sink {
	return r.sink
}

// Run streams the archive and closes the sink. When streaming fails a sink
// that supports it is aborted instead, so no truncated archive is committed.
func (r *Runner) Run(ctx context.Context) (archive.Summary, error) {
	summary, err := r.session.Stream(ctx, r.sink)
	if err != nil {
		// Use a background context for cleanup so a cancelled run still
		// releases the sink.
		cleanupCtx := context.WithoutCancel(ctx)
		if aborter, ok := r.sink.(engine.Aborter); ok {
			if abortErr := aborter.Abort(cleanupCtx, err); abortErr != nil {
				r.logger.Error("failed to abort sink", zap.String("sink", r.sink.Name()), zap.Error(abortErr))
			}
		} else if closeErr := r.sink.Close(cleanupCtx); closeErr != nil {
			r.logger.Error("failed to close sink", zap.String("sink", r.sink.Name()), zap.Error(closeErr))
		}
		return archive.Summary{}, fmt.Errorf("failed to stream archive: %w", err)
	}

	if err := r.sink.Close(ctx); err != nil {
		return summary, fmt.Errorf("failed to close sink: %w", err)
	}

	r.logger.Info("archive written",
		zap.String("archive_name", r.manifest.Metadata.Name),
		zap.String("sink", r.sink.Name()),
		zap.Int("entries", summary.Entries),
		zap.Uint64("bytes", summary.Bytes),
	)

	return summary, nil
}

func sessionOptions(spec v1.ArchiveSpec) []archive.Option {
	opts := []archive.Option{archive.WithComment(spec.Comment)}

	if c := spec.Compression; c != nil {
		if c.Level != nil {
			opts = append(opts, archive.WithCompressionLevel(*c.Level))
		}
		if c.ChunkSize != 0 {
			opts = append(opts, archive.WithChunkSize(c.ChunkSize))
		}
		if c.ReadAhead != 0 {
			opts = append(opts, archive.WithReadAhead(c.ReadAhead))
		}
		opts = append(opts, archive.WithDataDescriptors(c.DataDescriptors))
	}

	if spec.PrecompressedExtensions != nil {
		opts = append(opts, archive.WithPrecompressedExtensions(spec.PrecompressedExtensions))
	}

	return opts
}

func buildSession(ctx context.Context, logger *zap.Logger, registry *engine.Registry, manifest v1.Archive) (*archive.Session, error) {
	session, err := archive.NewSession(logger, sessionOptions(manifest.Spec)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive session: %w", err)
	}

	var errs error
	for _, entry := range manifest.Spec.Entries {
		if err := addEntry(ctx, registry, session, entry); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to add entry %q: %w", entry.Path, err))
		}
	}

	for _, dir := range manifest.Spec.Directories {
		if err := session.AddDirectory(dir); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to add directory %q: %w", dir, err))
		}
	}

	if errs != nil {
		return nil, errs
	}

	return session, nil
}

func addEntry(ctx context.Context, registry *engine.Registry, session *archive.Session, entry v1.Entry) error {
	resolved, err := ResolveSourceSpec(entry)
	if err != nil {
		return err
	}

	src, err := registry.CreateSource(ctx, resolved.Kind, resolved.Spec)
	if err != nil {
		return fmt.Errorf("failed to create %s source: %w", resolved.Kind, err)
	}

	if entry.Decompress != "" {
		if src, err = sources.NewDecompress(src, entry.Decompress); err != nil {
			return err
		}
	}

	var opts []archive.EntryOption
	if entry.Method != "" {
		method, err := archive.ParseMethod(entry.Method)
		if err != nil {
			return err
		}
		opts = append(opts, archive.WithMethod(method))
	}
	if entry.Comment != "" {
		opts = append(opts, archive.WithEntryComment(entry.Comment))
	}

	return session.AddEntry(entry.Path, src, opts...)
}

// buildSink creates the sink from the output section. File and object names
// default to "<metadata.name>.zip".
func buildSink(ctx context.Context, registry *engine.Registry, manifest v1.Archive) (engine.Sink, error) {
	resolved, err := ResolveSinkSpec(manifest.Spec.Output)
	if err != nil {
		return nil, err
	}

	defaultName := manifest.Metadata.Name + ".zip"
	switch spec := resolved.Spec.(type) {
	case *v1.FilesystemSink:
		if spec.Name == "" {
			withName := *spec
			withName.Name = defaultName
			resolved.Spec = &withName
		}
	case *v1.S3Sink:
		if spec.Key == "" {
			withKey := *spec
			withKey.Key = defaultName
			resolved.Spec = &withKey
		}
	}

	return registry.CreateSink(ctx, resolved.Kind, resolved.Spec)
}
