package archive

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/infracollect/zipstream/internal/engine"
	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
)

// countingWriter tracks the archive offset. Every emitted byte goes through it.
type countingWriter struct {
	sink engine.Sink
	n    uint64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	w.n += uint64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, &engine.WriteError{Sink: w.sink.Name(), Err: err}
	}
	return n, nil
}

// onceCloser makes Close idempotent and safe to call from the cancellation
// callback and the deferred cleanup at the same time.
type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		c.err = c.ReadCloser.Close()
	})
	return c.err
}

type encoder struct {
	w         *countingWriter
	level     int
	fw        *flate.Writer
	chunkSize int
	readAhead int
}

func newEncoder(sink engine.Sink, o *options) *encoder {
	return &encoder{
		w:         &countingWriter{sink: sink},
		level:     o.level,
		chunkSize: o.chunkSize,
		readAhead: o.readAhead,
	}
}

func (e *encoder) offset() uint64 {
	return e.w.n
}

func (e *encoder) write(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

func (e *encoder) open(ctx context.Context, src engine.Source) (*onceCloser, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, &engine.SourceUnavailableError{Source: src.Name(), Op: "open", Err: err}
	}
	return &onceCloser{ReadCloser: rc}, nil
}

// checksum reads src once to compute the CRC32 and length announced in the
// local header of a stored entry.
func (e *encoder) checksum(ctx context.Context, src engine.Source) (uint32, uint64, error) {
	rc, err := e.open(ctx, src)
	if err != nil {
		return 0, 0, err
	}
	defer rc.Close()

	h := crc32.NewIEEE()
	buf := make([]byte, e.chunkSize)
	var n uint64
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		k, err := rc.Read(buf)
		h.Write(buf[:k])
		n += uint64(k)
		if errors.Is(err, io.EOF) {
			return h.Sum32(), n, nil
		}
		if err != nil {
			return 0, 0, &engine.SourceUnavailableError{Source: src.Name(), Op: "read", Err: err}
		}
	}
}

// writeEntry streams one entry: local header, payload and, when the header
// carried placeholders, the data descriptor. The source is opened before the
// header is written so that an unavailable source leaves no orphan header.
func (e *encoder) writeEntry(ctx context.Context, p *plan, src engine.Source) error {
	r := p.record

	var rc *onceCloser
	if !r.Directory {
		var err error
		if rc, err = e.open(ctx, src); err != nil {
			return err
		}
		defer rc.Close()
	}

	r.Offset = e.offset()
	if err := e.write(localHeader(p)); err != nil {
		return err
	}

	if rc != nil {
		start := e.offset()
		crc, n, err := e.copyPayload(ctx, src.Name(), rc, r.Method)
		if err != nil {
			return err
		}
		r.CRC32 = crc
		r.UncompressedSize = n
		r.CompressedSize = e.offset() - start
	}

	if !r.DataDescriptor {
		if r.UncompressedSize != p.size || r.CRC32 != p.crc {
			return &engine.SourceUnavailableError{
				Source: src.Name(),
				Op:     "verify",
				Err: fmt.Errorf("content changed while streaming: read %d bytes with crc %08x, header announced %d bytes with crc %08x",
					r.UncompressedSize, r.CRC32, p.size, p.crc),
			}
		}
	} else {
		if !p.zip64 && (r.CompressedSize >= uint32max || r.UncompressedSize >= uint32max) {
			return &engine.SourceUnavailableError{
				Source: src.Name(),
				Op:     "verify",
				Err: fmt.Errorf("content outgrew its announced size: read %d bytes, compressed to %d, without a zip64 local header",
					r.UncompressedSize, r.CompressedSize),
			}
		}
		if err := e.write(dataDescriptor(r, p.zip64)); err != nil {
			return err
		}
	}

	r.Zip64 = r.needsZip64()
	return nil
}

// copyPayload moves the content of rc through the CRC accumulator and the
// compressor into the sink. A reader goroutine keeps at most readAhead chunks
// in flight; the sink's backpressure stalls the reader once they are used up.
func (e *encoder) copyPayload(ctx context.Context, name string, rc *onceCloser, method Method) (uint32, uint64, error) {
	var dst io.Writer = e.w
	if method == Deflate {
		if e.fw == nil {
			fw, err := flate.NewWriter(e.w, e.level)
			if err != nil {
				return 0, 0, &engine.ConfigurationError{Component: "deflate", Err: err}
			}
			e.fw = fw
		} else {
			e.fw.Reset(e.w)
		}
		dst = e.fw
	}

	g, gctx := errgroup.WithContext(ctx)

	// A blocked Read is only interrupted by closing the stream.
	stop := context.AfterFunc(gctx, func() { _ = rc.Close() })
	defer stop()

	chunks := make(chan []byte, e.readAhead)
	free := make(chan []byte, e.readAhead+1)
	for i := 0; i < cap(free); i++ {
		free <- make([]byte, e.chunkSize)
	}

	g.Go(func() error {
		defer close(chunks)
		for {
			var buf []byte
			select {
			case buf = <-free:
			case <-gctx.Done():
				return gctx.Err()
			}

			k, err := rc.Read(buf)
			if k > 0 {
				select {
				case chunks <- buf[:k]:
				case <-gctx.Done():
					return gctx.Err()
				}
			} else {
				free <- buf
			}

			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return &engine.SourceUnavailableError{Source: name, Op: "read", Err: err}
			}
		}
	})

	h := crc32.NewIEEE()
	var n uint64
	g.Go(func() error {
		for buf := range chunks {
			if err := gctx.Err(); err != nil {
				return err
			}
			h.Write(buf)
			n += uint64(len(buf))
			if _, err := dst.Write(buf); err != nil {
				return err
			}
			free <- buf[:cap(buf)]
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	if method == Deflate {
		if err := e.fw.Close(); err != nil {
			return 0, 0, err
		}
	}

	return h.Sum32(), n, nil
}

// writeDirectory emits the central directory and the end records.
func (e *encoder) writeDirectory(records []*EntryRecord, comment string) (directoryEnd, error) {
	end := directoryEnd{
		records: uint64(len(records)),
		offset:  e.offset(),
		comment: comment,
	}

	for _, r := range records {
		if r.Zip64 {
			end.zip64 = true
		}
		if err := e.write(directoryHeader(r)); err != nil {
			return end, err
		}
	}
	end.size = e.offset() - end.offset

	if err := e.write(end.encode()); err != nil {
		return end, err
	}
	return end, nil
}
