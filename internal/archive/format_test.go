package archive

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		input   string
		want    Method
		wantErr bool
	}{
		{input: "store", want: Store},
		{input: "Stored", want: Store},
		{input: "deflate", want: Deflate},
		{input: "DEFLATED", want: Deflate},
		{input: "bzip2", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMethod(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "store", Store.String())
	assert.Equal(t, "deflate", Deflate.String())
	assert.Equal(t, "method(12)", Method(12).String())
}

func TestMsDosTime(t *testing.T) {
	date, tm := msDosTime(time.Date(2024, 3, 5, 10, 20, 31, 0, time.UTC))
	assert.Equal(t, uint16(5|3<<5|44<<9), date)
	assert.Equal(t, uint16(15|20<<5|10<<11), tm, "seconds have two second precision")

	date, tm = msDosTime(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, uint16(1|1<<5), date, "dates before 1980 are clamped")
	assert.Equal(t, uint16(0), tm)

	local := time.FixedZone("UTC+2", 2*60*60)
	date, tm = msDosTime(time.Date(2024, 3, 5, 12, 0, 0, 0, local))
	assert.Equal(t, uint16(5|3<<5|44<<9), date)
	assert.Equal(t, uint16(10<<11), tm, "times are stored in UTC")
}

func TestLocalHeader(t *testing.T) {
	t.Run("known size", func(t *testing.T) {
		p := &plan{
			record: &EntryRecord{Path: "a.txt", Method: Store, Modified: fixedTime},
			size:   10,
			crc:    0xdeadbeef,
		}
		b := localHeader(p)

		require.Len(t, b, fileHeaderLen+len("a.txt"))
		assert.Equal(t, uint32(fileHeaderSignature), binary.LittleEndian.Uint32(b[0:]))
		assert.Equal(t, uint16(zipVersion20), binary.LittleEndian.Uint16(b[4:]))
		assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(b[6:]))
		assert.Equal(t, uint16(Store), binary.LittleEndian.Uint16(b[8:]))
		assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(b[14:]))
		assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(b[18:]))
		assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(b[22:]))
		assert.Equal(t, uint16(5), binary.LittleEndian.Uint16(b[26:]))
		assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(b[28:]))
		assert.Equal(t, "a.txt", string(b[30:]))
	})

	t.Run("placeholders", func(t *testing.T) {
		p := &plan{
			record: &EntryRecord{Path: "名前.txt", Method: Deflate, DataDescriptor: true, Modified: fixedTime},
		}
		b := localHeader(p)

		assert.Equal(t, uint16(flagDataDescriptor|flagUTF8), binary.LittleEndian.Uint16(b[6:]))
		assert.Equal(t, uint16(Deflate), binary.LittleEndian.Uint16(b[8:]))
		assert.Equal(t, make([]byte, 12), b[14:26], "crc and sizes are zero")
	})

	t.Run("placeholders with zip64 extra", func(t *testing.T) {
		p := &plan{
			record: &EntryRecord{Path: "huge.bin", Method: Store, DataDescriptor: true, Modified: fixedTime},
			zip64:  true,
		}
		b := localHeader(p)

		require.Len(t, b, fileHeaderLen+len("huge.bin")+20)
		assert.Equal(t, uint16(zipVersion45), binary.LittleEndian.Uint16(b[4:]))
		assert.Equal(t, uint16(flagDataDescriptor), binary.LittleEndian.Uint16(b[6:]))
		assert.Equal(t, make([]byte, 12), b[14:26], "crc and sizes are zero")
		assert.Equal(t, uint16(20), binary.LittleEndian.Uint16(b[28:]))

		extra := b[fileHeaderLen+len("huge.bin"):]
		assert.Equal(t, uint16(zip64ExtraID), binary.LittleEndian.Uint16(extra[0:]))
		assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(extra[2:]))
		assert.Equal(t, make([]byte, 16), extra[4:], "sizes follow in the data descriptor")
	})

	t.Run("known size above 32 bits", func(t *testing.T) {
		size := uint64(5 << 30)
		p := &plan{
			record: &EntryRecord{Path: "big.iso", Method: Store, Modified: fixedTime},
			size:   size,
		}
		b := localHeader(p)

		require.Len(t, b, fileHeaderLen+len("big.iso")+20)
		assert.Equal(t, uint16(zipVersion45), binary.LittleEndian.Uint16(b[4:]))
		assert.Equal(t, uint32(uint32max), binary.LittleEndian.Uint32(b[18:]))
		assert.Equal(t, uint32(uint32max), binary.LittleEndian.Uint32(b[22:]))
		assert.Equal(t, uint16(20), binary.LittleEndian.Uint16(b[28:]))

		extra := b[fileHeaderLen+len("big.iso"):]
		assert.Equal(t, uint16(zip64ExtraID), binary.LittleEndian.Uint16(extra[0:]))
		assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(extra[2:]))
		assert.Equal(t, size, binary.LittleEndian.Uint64(extra[4:]))
		assert.Equal(t, size, binary.LittleEndian.Uint64(extra[12:]))
	})
}

func TestDataDescriptor(t *testing.T) {
	t.Run("32-bit sizes", func(t *testing.T) {
		b := dataDescriptor(&EntryRecord{CRC32: 0x01020304, CompressedSize: 7, UncompressedSize: 9}, false)
		require.Len(t, b, dataDescriptorLen)
		assert.Equal(t, uint32(dataDescriptorSignature), binary.LittleEndian.Uint32(b[0:]))
		assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(b[4:]))
		assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(b[8:]))
		assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(b[12:]))
	})

	t.Run("64-bit sizes after a zip64 local header", func(t *testing.T) {
		b := dataDescriptor(&EntryRecord{CRC32: 1, CompressedSize: 100, UncompressedSize: uint32max}, true)
		require.Len(t, b, dataDescriptor64Len)
		assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[4:]))
		assert.Equal(t, uint64(100), binary.LittleEndian.Uint64(b[8:]))
		assert.Equal(t, uint64(uint32max), binary.LittleEndian.Uint64(b[16:]))
	})
}

func TestDirectoryHeader(t *testing.T) {
	tests := []struct {
		name        string
		record      EntryRecord
		wantExtra   []uint64
		wantVersion uint16
	}{
		{
			name:        "no overflow",
			record:      EntryRecord{Path: "a", CompressedSize: 1, UncompressedSize: 2, Offset: 3},
			wantVersion: zipVersion20,
		},
		{
			name:        "offset only",
			record:      EntryRecord{Path: "a", CompressedSize: 1, UncompressedSize: 2, Offset: 6 << 30},
			wantExtra:   []uint64{6 << 30},
			wantVersion: zipVersion45,
		},
		{
			name:        "uncompressed size only",
			record:      EntryRecord{Path: "a", CompressedSize: 1 << 20, UncompressedSize: 5 << 30, Offset: 3},
			wantExtra:   []uint64{5 << 30},
			wantVersion: zipVersion45,
		},
		{
			name:        "all fields",
			record:      EntryRecord{Path: "a", CompressedSize: 4 << 30, UncompressedSize: 5 << 30, Offset: 6 << 30},
			wantExtra:   []uint64{5 << 30, 4 << 30, 6 << 30},
			wantVersion: zipVersion45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.record
			b := directoryHeader(&r)

			assert.Equal(t, uint32(directoryHeaderSignature), binary.LittleEndian.Uint32(b[0:]))
			assert.Equal(t, tt.wantVersion, binary.LittleEndian.Uint16(b[6:]))
			assert.Equal(t, clamp32(r.CompressedSize), binary.LittleEndian.Uint32(b[20:]))
			assert.Equal(t, clamp32(r.UncompressedSize), binary.LittleEndian.Uint32(b[24:]))
			assert.Equal(t, clamp32(r.Offset), binary.LittleEndian.Uint32(b[42:]))

			extraLen := int(binary.LittleEndian.Uint16(b[30:]))
			if tt.wantExtra == nil {
				assert.Zero(t, extraLen)
				return
			}
			require.Equal(t, 4+8*len(tt.wantExtra), extraLen)

			extra := b[directoryHeaderLen+len(r.Path):]
			assert.Equal(t, uint16(zip64ExtraID), binary.LittleEndian.Uint16(extra[0:]))
			for i, want := range tt.wantExtra {
				assert.Equal(t, want, binary.LittleEndian.Uint64(extra[4+8*i:]), "extra value %d", i)
			}
		})
	}
}

func TestDirectoryEnd(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		b := directoryEnd{records: 3, size: 150, offset: 1000, comment: "hi"}.encode()
		require.Len(t, b, directoryEndLen+2)
		assert.Equal(t, uint32(directoryEndSignature), binary.LittleEndian.Uint32(b[0:]))
		assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(b[10:]))
		assert.Equal(t, uint32(150), binary.LittleEndian.Uint32(b[12:]))
		assert.Equal(t, uint32(1000), binary.LittleEndian.Uint32(b[16:]))
		assert.Equal(t, "hi", string(b[22:]))
	})

	t.Run("too many records", func(t *testing.T) {
		d := directoryEnd{records: 70000, size: 150, offset: 1000}
		b := d.encode()
		require.Len(t, b, directory64EndLen+directory64LocLen+directoryEndLen)

		assert.Equal(t, uint32(directory64EndSignature), binary.LittleEndian.Uint32(b[0:]))
		assert.Equal(t, uint64(directory64EndLen-12), binary.LittleEndian.Uint64(b[4:]))
		assert.Equal(t, uint64(70000), binary.LittleEndian.Uint64(b[32:]))
		assert.Equal(t, uint64(150), binary.LittleEndian.Uint64(b[40:]))
		assert.Equal(t, uint64(1000), binary.LittleEndian.Uint64(b[48:]))

		loc := b[directory64EndLen:]
		assert.Equal(t, uint32(directory64LocSignature), binary.LittleEndian.Uint32(loc[0:]))
		assert.Equal(t, uint64(1150), binary.LittleEndian.Uint64(loc[8:]), "zip64 end record follows the directory")
		assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(loc[16:]))

		eocd := loc[directory64LocLen:]
		assert.Equal(t, uint16(uint16max), binary.LittleEndian.Uint16(eocd[10:]))
		assert.Equal(t, uint32(150), binary.LittleEndian.Uint32(eocd[12:]), "fields that fit are kept")
		assert.Equal(t, uint32(1000), binary.LittleEndian.Uint32(eocd[16:]))
	})

	t.Run("forced by a zip64 entry", func(t *testing.T) {
		d := directoryEnd{records: 1, size: 70, offset: 10, zip64: true}
		assert.True(t, d.needsZip64())
		assert.Len(t, d.encode(), directory64EndLen+directory64LocLen+directoryEndLen)
	})
}
