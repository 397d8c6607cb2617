package archive

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder

	fileHeaderLen       = 30 // + filename + extra
	directoryHeaderLen  = 46 // + filename + extra + comment
	directoryEndLen     = 22 // + comment
	dataDescriptorLen   = 16 // signature, crc32, compressed size, size
	dataDescriptor64Len = 24 // descriptor with 8 byte sizes
	directory64LocLen   = 20
	directory64EndLen   = 56

	creatorUnix = 3

	zipVersion20 = 20 // 2.0
	zipVersion45 = 45 // 4.5 (reads and writes zip64 archives)

	// Limits for non zip64 fields. A field equal to the limit is itself the
	// zip64 marker, so values reaching it must move to the extra field.
	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	zip64ExtraID = 0x0001

	flagDataDescriptor = 0x0008
	flagUTF8           = 0x0800

	// Unix mode bits stored in the high half of the external attributes.
	unixRegularFile = 0o100644
	unixDirectory   = 0o040755
	msdosDirectory  = 0x10
)

// Method is a ZIP compression method.
type Method uint16

const (
	Store   Method = 0
	Deflate Method = 8
)

func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// ParseMethod converts "store" or "deflate" to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "store", "stored":
		return Store, nil
	case "deflate", "deflated":
		return Deflate, nil
	default:
		return 0, fmt.Errorf("unsupported compression method %q", s)
	}
}

// EntryRecord is the central directory view of one archive member. CRC32 and
// the sizes are only valid once the member has been fully streamed.
type EntryRecord struct {
	Path      string
	Comment   string
	Method    Method
	Modified  time.Time
	Directory bool

	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64

	// Offset is the position of the local file header in the archive.
	Offset uint64

	// DataDescriptor is set when the local header carried placeholder CRC and
	// sizes, followed by a trailing data descriptor.
	DataDescriptor bool

	// Zip64 is set when any central directory field overflowed 32 bits.
	Zip64 bool
}

func (r *EntryRecord) flags() uint16 {
	var flags uint16
	if r.DataDescriptor {
		flags |= flagDataDescriptor
	}
	if needsUTF8(r.Path) || needsUTF8(r.Comment) {
		flags |= flagUTF8
	}
	return flags
}

func (r *EntryRecord) externalAttrs() uint32 {
	if r.Directory {
		return unixDirectory<<16 | msdosDirectory
	}
	return unixRegularFile << 16
}

// needsZip64 reports whether the finalized record overflows any 32-bit
// central directory field.
func (r *EntryRecord) needsZip64() bool {
	return r.UncompressedSize >= uint32max || r.CompressedSize >= uint32max || r.Offset >= uint32max
}

func needsUTF8(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// msDosTime converts t to the MS-DOS date and time fields, clamped to the
// representable range.
func msDosTime(t time.Time) (fDate uint16, fTime uint16) {
	t = t.UTC()
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	} else if t.Year() > 2107 {
		t = time.Date(2107, 12, 31, 23, 59, 58, 0, time.UTC)
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return fDate, fTime
}

func clamp32(v uint64) uint32 {
	if v >= uint32max {
		return uint32max
	}
	return uint32(v)
}

func clamp16(v uint64) uint16 {
	if v >= uint16max {
		return uint16max
	}
	return uint16(v)
}

// localHeader encodes the local file header for p. When the sizes are not
// known up front the CRC and size fields are zero and bit 3 is set; an entry
// that may outgrow 32-bit sizes also gets a zip64 extra field with zeroed
// sizes, announcing an 8-byte data descriptor to streaming readers.
func localHeader(p *plan) []byte {
	r := p.record
	version := uint16(zipVersion20)

	var crc, csize, usize uint32
	var extra []byte
	switch {
	case r.DataDescriptor:
		if p.zip64 {
			version = zipVersion45
			extra = zip64LocalExtra(0)
		}
	case p.size >= uint32max:
		// Both sizes are mandatory in a local zip64 extra field.
		crc = p.crc
		version = zipVersion45
		csize, usize = uint32max, uint32max
		extra = zip64LocalExtra(p.size)
	default:
		crc = p.crc
		csize, usize = uint32(p.size), uint32(p.size)
	}

	fDate, fTime := msDosTime(r.Modified)

	b := make([]byte, 0, fileHeaderLen+len(r.Path)+len(extra))
	b = binary.LittleEndian.AppendUint32(b, fileHeaderSignature)
	b = binary.LittleEndian.AppendUint16(b, version)
	b = binary.LittleEndian.AppendUint16(b, r.flags())
	b = binary.LittleEndian.AppendUint16(b, uint16(r.Method))
	b = binary.LittleEndian.AppendUint16(b, fTime)
	b = binary.LittleEndian.AppendUint16(b, fDate)
	b = binary.LittleEndian.AppendUint32(b, crc)
	b = binary.LittleEndian.AppendUint32(b, csize)
	b = binary.LittleEndian.AppendUint32(b, usize)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(r.Path)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(extra)))
	b = append(b, r.Path...)
	b = append(b, extra...)
	return b
}

// zip64LocalExtra holds the uncompressed and compressed sizes, both size.
func zip64LocalExtra(size uint64) []byte {
	b := make([]byte, 0, 20)
	b = binary.LittleEndian.AppendUint16(b, zip64ExtraID)
	b = binary.LittleEndian.AppendUint16(b, 16)
	b = binary.LittleEndian.AppendUint64(b, size)
	b = binary.LittleEndian.AppendUint64(b, size)
	return b
}

// dataDescriptor encodes the trailing descriptor for a finalized record. The
// sizes are 8 bytes wide exactly when the local header carried a zip64 extra
// field.
func dataDescriptor(r *EntryRecord, zip64 bool) []byte {
	if zip64 {
		b := make([]byte, 0, dataDescriptor64Len)
		b = binary.LittleEndian.AppendUint32(b, dataDescriptorSignature)
		b = binary.LittleEndian.AppendUint32(b, r.CRC32)
		b = binary.LittleEndian.AppendUint64(b, r.CompressedSize)
		b = binary.LittleEndian.AppendUint64(b, r.UncompressedSize)
		return b
	}

	b := make([]byte, 0, dataDescriptorLen)
	b = binary.LittleEndian.AppendUint32(b, dataDescriptorSignature)
	b = binary.LittleEndian.AppendUint32(b, r.CRC32)
	b = binary.LittleEndian.AppendUint32(b, uint32(r.CompressedSize))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.UncompressedSize))
	return b
}

// zip64Extra builds the zip64 extended information field for a central
// directory header. Only the overflowing values are present, in the order
// mandated by the format: uncompressed size, compressed size, offset.
func zip64Extra(r *EntryRecord) []byte {
	var values []uint64
	if r.UncompressedSize >= uint32max {
		values = append(values, r.UncompressedSize)
	}
	if r.CompressedSize >= uint32max {
		values = append(values, r.CompressedSize)
	}
	if r.Offset >= uint32max {
		values = append(values, r.Offset)
	}
	if len(values) == 0 {
		return nil
	}

	b := make([]byte, 0, 4+8*len(values))
	b = binary.LittleEndian.AppendUint16(b, zip64ExtraID)
	b = binary.LittleEndian.AppendUint16(b, uint16(8*len(values)))
	for _, v := range values {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	return b
}

func directoryHeader(r *EntryRecord) []byte {
	extra := zip64Extra(r)
	version := uint16(zipVersion20)
	if extra != nil {
		version = zipVersion45
	}

	fDate, fTime := msDosTime(r.Modified)

	b := make([]byte, 0, directoryHeaderLen+len(r.Path)+len(extra)+len(r.Comment))
	b = binary.LittleEndian.AppendUint32(b, directoryHeaderSignature)
	b = binary.LittleEndian.AppendUint16(b, creatorUnix<<8|zipVersion45)
	b = binary.LittleEndian.AppendUint16(b, version)
	b = binary.LittleEndian.AppendUint16(b, r.flags())
	b = binary.LittleEndian.AppendUint16(b, uint16(r.Method))
	b = binary.LittleEndian.AppendUint16(b, fTime)
	b = binary.LittleEndian.AppendUint16(b, fDate)
	b = binary.LittleEndian.AppendUint32(b, r.CRC32)
	b = binary.LittleEndian.AppendUint32(b, clamp32(r.CompressedSize))
	b = binary.LittleEndian.AppendUint32(b, clamp32(r.UncompressedSize))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(r.Path)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(extra)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(r.Comment)))
	b = binary.LittleEndian.AppendUint16(b, 0) // disk number start
	b = binary.LittleEndian.AppendUint16(b, 0) // internal attributes
	b = binary.LittleEndian.AppendUint32(b, r.externalAttrs())
	b = binary.LittleEndian.AppendUint32(b, clamp32(r.Offset))
	b = append(b, r.Path...)
	b = append(b, extra...)
	b = append(b, r.Comment...)
	return b
}

// directoryEnd describes the central directory once it has been written.
type directoryEnd struct {
	records uint64
	size    uint64
	offset  uint64
	zip64   bool // force the zip64 records even when every field fits
	comment string
}

func (d directoryEnd) needsZip64() bool {
	return d.zip64 || d.records >= uint16max || d.size >= uint32max || d.offset >= uint32max
}

// encode returns the optional zip64 end record and locator followed by the
// end of central directory record.
func (d directoryEnd) encode() []byte {
	n := directoryEndLen + len(d.comment)
	if d.needsZip64() {
		n += directory64EndLen + directory64LocLen
	}
	b := make([]byte, 0, n)

	if d.needsZip64() {
		end64 := d.offset + d.size

		b = binary.LittleEndian.AppendUint32(b, directory64EndSignature)
		b = binary.LittleEndian.AppendUint64(b, directory64EndLen-12) // size of the remaining record
		b = binary.LittleEndian.AppendUint16(b, creatorUnix<<8|zipVersion45)
		b = binary.LittleEndian.AppendUint16(b, zipVersion45)
		b = binary.LittleEndian.AppendUint32(b, 0) // number of this disk
		b = binary.LittleEndian.AppendUint32(b, 0) // disk with the central directory
		b = binary.LittleEndian.AppendUint64(b, d.records)
		b = binary.LittleEndian.AppendUint64(b, d.records)
		b = binary.LittleEndian.AppendUint64(b, d.size)
		b = binary.LittleEndian.AppendUint64(b, d.offset)

		b = binary.LittleEndian.AppendUint32(b, directory64LocSignature)
		b = binary.LittleEndian.AppendUint32(b, 0) // disk with the zip64 end record
		b = binary.LittleEndian.AppendUint64(b, end64)
		b = binary.LittleEndian.AppendUint32(b, 1) // total number of disks
	}

	b = binary.LittleEndian.AppendUint32(b, directoryEndSignature)
	b = binary.LittleEndian.AppendUint16(b, 0) // number of this disk
	b = binary.LittleEndian.AppendUint16(b, 0) // disk with the central directory
	b = binary.LittleEndian.AppendUint16(b, clamp16(d.records))
	b = binary.LittleEndian.AppendUint16(b, clamp16(d.records))
	b = binary.LittleEndian.AppendUint32(b, clamp32(d.size))
	b = binary.LittleEndian.AppendUint32(b, clamp32(d.offset))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(d.comment)))
	b = append(b, d.comment...)
	return b
}
