package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

const MemoryKind = "inline"

// Memory serves a byte slice. It backs inline manifest content.
type Memory struct {
	name    string
	data    []byte
	modTime time.Time
}

// NewMemory returns a source over data. A zero modTime defers to the
// session clock.
func NewMemory(name string, data []byte, modTime time.Time) *Memory {
	return &Memory{name: name, data: data, modTime: modTime}
}

func (m *Memory) Name() string {
	return fmt.Sprintf("%s(%s)", MemoryKind, m.name)
}

func (m *Memory) Kind() string {
	return MemoryKind
}

func (m *Memory) Size(context.Context) (int64, error) {
	return int64(len(m.data)), nil
}

func (m *Memory) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func (m *Memory) ModTime(context.Context) (time.Time, error) {
	return m.modTime, nil
}

func (m *Memory) Rewindable() bool {
	return true
}
