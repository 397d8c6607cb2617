package sources

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/infracollect/zipstream/internal/engine"
	"github.com/spf13/afero"
)

const FileKind = "file"

// File reads a regular file from an afero filesystem. Reopening it is cheap,
// which lets stored entries carry exact sizes in their local header.
type File struct {
	fs   afero.Fs
	path string
}

func NewFile(fs afero.Fs, path string) (*File, error) {
	if path == "" {
		return nil, &engine.ConfigurationError{Component: FileKind, Err: fmt.Errorf("path is required")}
	}
	return &File{fs: fs, path: path}, nil
}

// NewFileFromPath opens path on the operating system filesystem.
func NewFileFromPath(path string) (*File, error) {
	f, err := NewFile(afero.NewOsFs(), path)
	if err != nil {
		return nil, err
	}
	f.path = filepath.Clean(f.path)
	return f, nil
}

func (f *File) Name() string {
	return fmt.Sprintf("%s(%s)", FileKind, f.path)
}

func (f *File) Kind() string {
	return FileKind
}

func (f *File) Size(ctx context.Context) (int64, error) {
	info, err := f.fs.Stat(f.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", f.path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", f.path)
	}
	return info.Size(), nil
}

func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := f.fs.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.path, err)
	}
	return file, nil
}

func (f *File) ModTime(ctx context.Context) (time.Time, error) {
	info, err := f.fs.Stat(f.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %s: %w", f.path, err)
	}
	return info.ModTime(), nil
}

func (f *File) Rewindable() bool {
	return true
}
