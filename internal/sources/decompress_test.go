package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/infracollect/zipstream/internal/archive"
	"github.com/infracollect/zipstream/internal/engine"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompress(t *testing.T) {
	plain := []byte(strings.Repeat("log line\n", 1000))
	modTime := time.Date(2022, 2, 2, 2, 2, 2, 0, time.UTC)

	tests := []struct {
		format string
		data   []byte
	}{
		{format: "zstd", data: zstdBytes(t, plain)},
		{format: ".zst", data: zstdBytes(t, plain)},
		{format: "gzip", data: gzipBytes(t, plain)},
		{format: "gz", data: gzipBytes(t, plain)},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			src, err := NewDecompress(NewMemory("app.log", tt.data, modTime), tt.format)
			require.NoError(t, err)

			size, err := src.Size(t.Context())
			require.NoError(t, err)
			assert.Equal(t, engine.SizeUnknown, size)
			assert.True(t, src.Rewindable())

			mt, err := src.ModTime(t.Context())
			require.NoError(t, err)
			assert.Equal(t, modTime, mt)

			rc, err := src.Open(t.Context())
			require.NoError(t, err)
			content, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, plain, content)
		})
	}
}

func TestDecompress_Errors(t *testing.T) {
	_, err := NewDecompress(NewMemory("a", nil, time.Time{}), "bzip2")
	var cfgErr *engine.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = NewDecompress(nil, "gzip")
	require.ErrorAs(t, err, &cfgErr)

	src, err := NewDecompress(NewMemory("a", []byte("not gzip"), time.Time{}), "gzip")
	require.NoError(t, err)
	_, err = src.Open(t.Context())
	require.ErrorContains(t, err, "failed to read gzip header")
}

// stallingSource serves a prefix of a compressed stream, then blocks until
// the stream is closed, like a remote body that stopped sending.
type stallingSource struct {
	prefix    []byte
	stalled   chan struct{}
	closed    chan struct{}
	stallOnce sync.Once
	closeOnce sync.Once
}

func newStallingSource(prefix []byte) *stallingSource {
	return &stallingSource{prefix: prefix, stalled: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stallingSource) Name() string                        { return "stalling" }
func (s *stallingSource) Kind() string                        { return "test" }
func (s *stallingSource) Size(context.Context) (int64, error) { return engine.SizeUnknown, nil }

func (s *stallingSource) Open(context.Context) (io.ReadCloser, error) {
	return &stallingReader{src: s, data: bytes.NewReader(s.prefix)}, nil
}

type stallingReader struct {
	src  *stallingSource
	data *bytes.Reader
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if r.data.Len() > 0 {
		return r.data.Read(p)
	}
	r.src.stallOnce.Do(func() { close(r.src.stalled) })
	<-r.src.closed
	return 0, io.ErrClosedPipe
}

func (r *stallingReader) Close() error {
	r.src.closeOnce.Do(func() { close(r.src.closed) })
	return nil
}

type discardSink struct{}

func (discardSink) Name() string                { return "discard" }
func (discardSink) Kind() string                { return "discard" }
func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Close(context.Context) error { return nil }

func TestDecompress_CancelWhileBlocked(t *testing.T) {
	var plain strings.Builder
	for i := range 20000 {
		fmt.Fprintf(&plain, "%05d request served in %dms\n", i, i%97)
	}

	tests := []struct {
		format string
		data   []byte
	}{
		{format: "zstd", data: zstdBytes(t, []byte(plain.String()))},
		{format: "gzip", data: gzipBytes(t, []byte(plain.String()))},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			inner := newStallingSource(tt.data[:len(tt.data)/2])
			src, err := NewDecompress(inner, tt.format)
			require.NoError(t, err)

			session, err := archive.NewSession(zap.NewNop())
			require.NoError(t, err)
			require.NoError(t, session.AddEntry("access.log", src))

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				_, err := session.Stream(ctx, discardSink{})
				errCh <- err
			}()

			select {
			case <-inner.stalled:
			case <-time.After(5 * time.Second):
				t.Fatal("compressed stream was never drained")
			}
			cancel()

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(5 * time.Second):
				t.Fatal("stream did not stop after cancellation")
			}

			select {
			case <-inner.closed:
			default:
				t.Fatal("compressed stream was not closed")
			}
		})
	}
}

func TestDecompressReader_CloseAfterRead(t *testing.T) {
	rc, err := NewDecompress(NewMemory("a", zstdBytes(t, []byte("hello")), time.Time{}), "zstd")
	require.NoError(t, err)

	r, err := rc.Open(t.Context())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "closing twice is harmless")

	_, err = r.Read(make([]byte, 8))
	assert.ErrorIs(t, err, errDecompressClosed)
}
