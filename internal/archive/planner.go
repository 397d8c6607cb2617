package archive

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/infracollect/zipstream/internal/engine"
	"go.uber.org/zap"
)

// DefaultPrecompressedExtensions lists file extensions whose content is stored
// rather than deflated again.
var DefaultPrecompressedExtensions = []string{
	".zip", ".gz", ".tgz", ".zst", ".bz2", ".xz", ".7z",
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".mp3", ".mp4",
}

// Entry is a member registered on a session, not yet streamed.
type Entry struct {
	Path      string
	Source    engine.Source
	Method    *Method
	Modified  time.Time
	Comment   string
	Directory bool
}

// plan is the planner's decision for one entry.
type plan struct {
	record *EntryRecord

	// checksum asks the encoder for a CRC pre-pass over a rewindable source
	// so the local header can carry exact values.
	checksum bool

	// size and crc are the values announced in the local header when
	// record.DataDescriptor is false.
	size uint64
	crc  uint32

	// zip64 marks a data descriptor entry that may outgrow 32-bit sizes. Its
	// local header carries a zip64 extra field and its descriptor uses
	// 8-byte sizes.
	zip64 bool
}

type planner struct {
	logger          *zap.Logger
	precompressed   map[string]struct{}
	dataDescriptors bool
	now             func() time.Time
}

func newPlanner(logger *zap.Logger, o *options) *planner {
	exts := make(map[string]struct{}, len(o.precompressed))
	for _, ext := range o.precompressed {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &planner{
		logger:          logger,
		precompressed:   exts,
		dataDescriptors: o.dataDescriptors,
		now:             o.clock,
	}
}

// plan resolves compression method, size knowledge and timestamps for e.
// Size and modification time lookups that fail are logged and treated as
// unknown: they never prevent the source from being opened.
func (p *planner) plan(ctx context.Context, e Entry) *plan {
	record := &EntryRecord{
		Path:      e.Path,
		Comment:   e.Comment,
		Directory: e.Directory,
		Modified:  p.modified(ctx, e),
	}

	if e.Directory {
		record.Method = Store
		return &plan{record: record}
	}

	size := p.size(ctx, e)
	record.Method = p.method(ctx, e, size)

	pl := &plan{record: record}
	switch {
	case p.dataDescriptors || record.Method != Store || size == engine.SizeUnknown:
		record.DataDescriptor = true
	case size == 0:
		// empty content: zero CRC and sizes are exact
	case isRewindable(e.Source):
		pl.checksum = true
		pl.size = uint64(size)
	default:
		record.DataDescriptor = true
	}

	if record.DataDescriptor {
		pl.zip64 = mayNeedZip64(record.Method, size)
	}

	return pl
}

// mayNeedZip64 reports whether an entry streamed with a data descriptor can
// reach 0xFFFFFFFF bytes, compressed or not. Unknown sizes always can.
func mayNeedZip64(method Method, size int64) bool {
	if size == engine.SizeUnknown {
		return true
	}
	n := uint64(size)
	if method == Deflate {
		// Incompressible input grows by the stored block framing.
		n += n/1024 + 1024
	}
	return n >= uint32max
}

func (p *planner) method(_ context.Context, e Entry, size int64) Method {
	if e.Method != nil {
		return *e.Method
	}
	if size == 0 {
		return Store
	}
	if pc, ok := e.Source.(engine.Precompressed); ok && pc.Precompressed() {
		return Store
	}
	if _, ok := p.precompressed[strings.ToLower(path.Ext(e.Path))]; ok {
		return Store
	}
	return Deflate
}

func (p *planner) size(ctx context.Context, e Entry) int64 {
	size, err := e.Source.Size(ctx)
	if err != nil {
		p.logger.Warn("failed to determine source size, streaming with data descriptor",
			zap.String("entry", e.Path), zap.String("source", e.Source.Name()), zap.Error(err))
		return engine.SizeUnknown
	}
	if size < 0 {
		return engine.SizeUnknown
	}
	return size
}

func (p *planner) modified(ctx context.Context, e Entry) time.Time {
	if !e.Modified.IsZero() {
		return e.Modified
	}
	if mt, ok := e.Source.(engine.ModTimer); ok {
		t, err := mt.ModTime(ctx)
		if err == nil && !t.IsZero() {
			return t
		}
		if err != nil {
			p.logger.Debug("failed to determine source modification time",
				zap.String("entry", e.Path), zap.Error(err))
		}
	}
	return p.now()
}

func isRewindable(src engine.Source) bool {
	r, ok := src.(engine.Rewindable)
	return ok && r.Rewindable()
}
