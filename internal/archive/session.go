// Package archive assembles ZIP archives in a single forward pass, pulling
// member content from sources and pushing framed bytes to a sink without
// buffering whole members or the whole archive.
//
// Once Stream has written its first byte nothing can be retracted: a failed
// Stream leaves a truncated, invalid archive downstream. Sinks that can still
// report an error to their consumer before the first byte (such as an HTTP
// response) should delay committing until the first Write.
package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/infracollect/zipstream/internal/engine"
	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize = 64 << 10
	MinChunkSize     = 16 << 10
	MaxChunkSize     = 1 << 20
	DefaultReadAhead = 2
	MaxReadAhead     = 16
)

type options struct {
	chunkSize       int
	readAhead       int
	level           int
	dataDescriptors bool
	comment         string
	precompressed   []string
	clock           func() time.Time
}

type Option func(*options)

// WithChunkSize sets the read size used for every source, between 16KiB and 1MiB.
func WithChunkSize(size int) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// WithReadAhead sets how many chunks may be read ahead of the sink.
func WithReadAhead(chunks int) Option {
	return func(o *options) {
		o.readAhead = chunks
	}
}

// WithCompressionLevel sets the deflate level, from -2 (Huffman only) to 9.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithDataDescriptors forces placeholder local headers and trailing data
// descriptors for every file entry, including entries of known size.
func WithDataDescriptors(enabled bool) Option {
	return func(o *options) {
		o.dataDescriptors = enabled
	}
}

// WithComment sets the archive comment stored in the end of central directory.
func WithComment(comment string) Option {
	return func(o *options) {
		o.comment = comment
	}
}

// WithPrecompressedExtensions replaces the list of extensions stored without
// compression.
func WithPrecompressedExtensions(exts []string) Option {
	return func(o *options) {
		o.precompressed = exts
	}
}

// WithClock sets the time source used for entries without a modification time.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func (o *options) validate() error {
	if o.chunkSize < MinChunkSize || o.chunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size %d is outside [%d, %d]", o.chunkSize, MinChunkSize, MaxChunkSize)
	}
	if o.readAhead < 1 || o.readAhead > MaxReadAhead {
		return fmt.Errorf("read ahead %d is outside [1, %d]", o.readAhead, MaxReadAhead)
	}
	if o.level < flate.HuffmanOnly || o.level > flate.BestCompression {
		return fmt.Errorf("compression level %d is outside [%d, %d]", o.level, flate.HuffmanOnly, flate.BestCompression)
	}
	if len(o.comment) > uint16max {
		return fmt.Errorf("archive comment is longer than %d bytes", uint16max)
	}
	if o.clock == nil {
		return fmt.Errorf("clock is nil")
	}
	return nil
}

type EntryOption func(*Entry)

// WithMethod overrides the compression method chosen by the planner.
func WithMethod(method Method) EntryOption {
	return func(e *Entry) {
		e.Method = &method
	}
}

// WithModified sets the entry modification time.
func WithModified(t time.Time) EntryOption {
	return func(e *Entry) {
		e.Modified = t
	}
}

// WithEntryComment sets the per-entry comment stored in the central directory.
func WithEntryComment(comment string) EntryOption {
	return func(e *Entry) {
		e.Comment = comment
	}
}

type state int

const (
	stateIdle state = iota
	stateStreaming
	stateFinalized
	stateFailed
)

// Summary describes a finalized archive.
type Summary struct {
	Entries         int
	Bytes           uint64
	DirectoryOffset uint64
	DirectorySize   uint64
	Zip64           bool
}

// Session builds one archive. Entries are registered with AddEntry and
// AddDirectory, then streamed exactly once, in registration order, by Stream.
type Session struct {
	logger  *zap.Logger
	opts    options
	planner *planner

	mu      sync.Mutex
	state   state
	entries []Entry
	paths   map[string]struct{}
	records []*EntryRecord
}

func NewSession(logger *zap.Logger, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := options{
		chunkSize:     DefaultChunkSize,
		readAhead:     DefaultReadAhead,
		level:         flate.DefaultCompression,
		precompressed: DefaultPrecompressedExtensions,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.validate(); err != nil {
		return nil, &engine.ConfigurationError{Component: "archive session", Err: err}
	}

	return &Session{
		logger:  logger,
		opts:    o,
		planner: newPlanner(logger, &o),
		paths:   make(map[string]struct{}),
	}, nil
}

// AddEntry registers a file entry. It fails with InvalidPathError or
// DuplicatePathError without side effects.
func (s *Session) AddEntry(path string, src engine.Source, opts ...EntryOption) error {
	if src == nil {
		return fmt.Errorf("entry %q has no source", path)
	}

	e := Entry{Path: path, Source: src}
	for _, opt := range opts {
		opt(&e)
	}

	return s.add(e)
}

// AddDirectory registers an explicit directory entry. A trailing slash is
// appended when missing.
func (s *Session) AddDirectory(path string, opts ...EntryOption) error {
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}

	e := Entry{Path: path, Directory: true}
	for _, opt := range opts {
		opt(&e)
	}
	e.Method = nil

	return s.add(e)
}

func (s *Session) add(e Entry) error {
	if err := ValidatePath(e.Path, e.Directory); err != nil {
		return err
	}
	if len(e.Comment) > uint16max {
		return fmt.Errorf("comment of entry %q is longer than %d bytes", e.Path, uint16max)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateIdle {
		return engine.ErrSessionClosed
	}
	if _, ok := s.paths[e.Path]; ok {
		return &engine.DuplicatePathError{Path: e.Path}
	}

	s.paths[e.Path] = struct{}{}
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns the registered entries in streaming order.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Records returns the finalized directory records streamed so far.
func (s *Session) Records() []EntryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]EntryRecord, len(s.records))
	for i, r := range s.records {
		records[i] = *r
	}
	return records
}

// Stream writes the whole archive to sink. It does not close the sink.
//
// Any error after streaming has started is returned as an *EncodingError and
// leaves the session failed; the bytes already written are not a valid archive.
func (s *Session) Stream(ctx context.Context, sink engine.Sink) (Summary, error) {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return Summary{}, engine.ErrSessionClosed
	}
	s.state = stateStreaming
	entries := s.entries
	s.mu.Unlock()

	logger := s.logger.With(zap.String("sink", sink.Name()))
	logger.Debug("streaming archive", zap.Int("entries", len(entries)))

	enc := newEncoder(sink, &s.opts)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return Summary{}, s.fail(logger, e.Path, enc, err)
		}

		p := s.planner.plan(ctx, e)

		if p.checksum {
			crc, n, err := enc.checksum(ctx, e.Source)
			if err != nil {
				return Summary{}, s.fail(logger, e.Path, enc, err)
			}
			p.crc, p.size = crc, n
		}

		if err := enc.writeEntry(ctx, p, e.Source); err != nil {
			return Summary{}, s.fail(logger, e.Path, enc, err)
		}

		s.mu.Lock()
		s.records = append(s.records, p.record)
		s.mu.Unlock()

		logger.Debug("streamed entry",
			zap.String("entry", p.record.Path),
			zap.Stringer("method", p.record.Method),
			zap.Uint64("offset", p.record.Offset),
			zap.Uint64("size", p.record.UncompressedSize),
			zap.Uint64("compressed_size", p.record.CompressedSize),
			zap.Bool("data_descriptor", p.record.DataDescriptor),
			zap.Bool("zip64", p.record.Zip64),
		)
	}

	if err := ctx.Err(); err != nil {
		return Summary{}, s.fail(logger, "", enc, err)
	}

	end, err := enc.writeDirectory(s.records, s.opts.comment)
	if err != nil {
		return Summary{}, s.fail(logger, "", enc, err)
	}

	s.mu.Lock()
	s.state = stateFinalized
	s.mu.Unlock()

	summary := Summary{
		Entries:         len(s.records),
		Bytes:           enc.offset(),
		DirectoryOffset: end.offset,
		DirectorySize:   end.size,
		Zip64:           end.needsZip64(),
	}

	logger.Info("archive finalized",
		zap.Int("entries", summary.Entries),
		zap.Uint64("bytes", summary.Bytes),
		zap.Bool("zip64", summary.Zip64),
	)

	return summary, nil
}

func (s *Session) fail(logger *zap.Logger, entry string, enc *encoder, err error) error {
	s.mu.Lock()
	s.state = stateFailed
	s.mu.Unlock()

	logger.Error("archive aborted",
		zap.String("entry", entry),
		zap.Uint64("offset", enc.offset()),
		zap.Error(err),
	)

	return &engine.EncodingError{Entry: entry, Offset: enc.offset(), Err: err}
}
