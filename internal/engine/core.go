package engine

import (
	"context"
	"io"
	"time"
)

type Named interface {
	Name() string
	Kind() string
}

type Closer interface {
	Close(context.Context) error
}

const (
	// ISO8601Basic is a URL-safe timestamp format without colons.
	// This is the recommended format for S3 keys and filesystem paths.
	ISO8601Basic = "20060102T150405Z"

	// SizeUnknown is returned by Source.Size when the length of the content
	// cannot be determined without reading it.
	SizeUnknown int64 = -1
)

// Source is a readable member of an archive.
type Source interface {
	Named

	// Size reports the content length in bytes, or SizeUnknown. It may need a
	// round trip to a remote store and can fail independently of Open.
	Size(ctx context.Context) (int64, error)

	// Open returns a fresh stream over the content. Callers hold at most one
	// open stream per source and must close it.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Precompressed is implemented by sources whose content is already compressed
// and should be stored as-is.
type Precompressed interface {
	Precompressed() bool
}

// Rewindable is implemented by sources that can be opened more than once
// cheaply, such as local files or in-memory buffers.
type Rewindable interface {
	Rewindable() bool
}

// ModTimer is implemented by sources that know when their content was last
// modified.
type ModTimer interface {
	ModTime(ctx context.Context) (time.Time, error)
}

// Sink is a sequential, append-only destination for archive bytes. Write
// blocks when the downstream consumer is slow.
type Sink interface {
	Named
	Closer
	io.Writer
}

// Aborter is implemented by sinks that can discard what they received when
// the archive failed, instead of committing a truncated object.
type Aborter interface {
	Abort(ctx context.Context, cause error) error
}
