package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/infracollect/zipstream/internal/engine"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const DecompressKind = "decompress"

// Format is a compressed container format a source can be unwrapped from.
type Format string

const (
	FormatZstd Format = "zstd"
	FormatGzip Format = "gzip"
)

// ParseFormat accepts format names and their usual file extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "zstd", "zst":
		return FormatZstd, nil
	case "gzip", "gz":
		return FormatGzip, nil
	default:
		return "", fmt.Errorf("unsupported decompression format %q", s)
	}
}

// Decompress unwraps a zstd or gzip compressed source so the archive holds
// the plain content. The decompressed size is never known up front.
type Decompress struct {
	inner  engine.Source
	format Format
}

func NewDecompress(inner engine.Source, format string) (*Decompress, error) {
	if inner == nil {
		return nil, &engine.ConfigurationError{Component: DecompressKind, Err: fmt.Errorf("inner source is required")}
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, &engine.ConfigurationError{Component: DecompressKind, Err: err}
	}
	return &Decompress{inner: inner, format: f}, nil
}

func (d *Decompress) Name() string {
	return fmt.Sprintf("%s(%s, %s)", DecompressKind, d.format, d.inner.Name())
}

func (d *Decompress) Kind() string {
	return DecompressKind
}

func (d *Decompress) Size(context.Context) (int64, error) {
	return engine.SizeUnknown, nil
}

func (d *Decompress) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := d.inner.Open(ctx)
	if err != nil {
		return nil, err
	}

	switch d.format {
	case FormatZstd:
		dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create zstd decoder: %w", err), rc.Close())
		}
		return newDecompressReader(dec, rc, func() error {
			dec.Close()
			return nil
		}), nil
	case FormatGzip:
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to read gzip header: %w", err), rc.Close())
		}
		return newDecompressReader(gz, rc, gz.Close), nil
	default:
		return nil, errors.Join(fmt.Errorf("unsupported decompression format %q", d.format), rc.Close())
	}
}

func (d *Decompress) ModTime(ctx context.Context) (time.Time, error) {
	if mt, ok := d.inner.(engine.ModTimer); ok {
		return mt.ModTime(ctx)
	}
	return time.Time{}, nil
}

func (d *Decompress) Rewindable() bool {
	r, ok := d.inner.(engine.Rewindable)
	return ok && r.Rewindable()
}

var errDecompressClosed = errors.New("decompressing reader is closed")

// decompressReader may be closed while a Read is blocked on the compressed
// stream. Close then only closes that stream; the decoder is released once no
// Read is in progress, since decoders must not be closed mid-Read.
type decompressReader struct {
	dec     io.Reader
	inner   io.Closer
	release func() error

	mu       sync.Mutex
	reading  bool
	closed   bool
	released bool

	closeOnce sync.Once
	closeErr  error
}

func newDecompressReader(dec io.Reader, inner io.Closer, release func() error) *decompressReader {
	return &decompressReader{dec: dec, inner: inner, release: release}
}

func (r *decompressReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, errDecompressClosed
	}
	r.reading = true
	r.mu.Unlock()

	n, err := r.dec.Read(p)

	r.mu.Lock()
	r.reading = false
	if r.closed && !r.released {
		r.released = true
		// Close has already returned; nobody is left to report this to.
		_ = r.release()
	}
	r.mu.Unlock()

	return n, err
}

func (r *decompressReader) Close() error {
	r.closeOnce.Do(func() {
		innerErr := r.inner.Close()

		var releaseErr error
		r.mu.Lock()
		r.closed = true
		if !r.reading {
			r.released = true
			releaseErr = r.release()
		}
		r.mu.Unlock()

		r.closeErr = errors.Join(releaseErr, innerErr)
	})
	return r.closeErr
}
