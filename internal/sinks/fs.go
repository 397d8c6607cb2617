package sinks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/infracollect/zipstream/internal/engine"
	"github.com/spf13/afero"
)

const FilesystemKind = "filesystem"

// FilesystemSink writes the archive to a file. The file is created on the
// first Write under a temporary name and renamed into place on Close, so a
// failed archive never replaces a previous one.
type FilesystemSink struct {
	fs   afero.Fs
	name string
	file afero.File
}

func NewFilesystemSink(fs afero.Fs, name string) engine.Sink {
	return &FilesystemSink{fs: fs, name: name}
}

// NewFilesystemSinkFromPath writes name inside dir on the operating system
// filesystem, creating dir when needed.
func NewFilesystemSinkFromPath(dir, name string) (engine.Sink, error) {
	if name == "" {
		return nil, &engine.ConfigurationError{Component: FilesystemKind, Err: fmt.Errorf("archive name is required")}
	}

	cleanPath := filepath.Clean(dir)

	// Ensure the base directory exists
	if err := os.MkdirAll(cleanPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", cleanPath, err)
	}

	return NewFilesystemSink(afero.NewBasePathFs(afero.NewOsFs(), cleanPath), name), nil
}

func (s *FilesystemSink) Name() string {
	return fmt.Sprintf("%s(%s)", FilesystemKind, s.name)
}

func (s *FilesystemSink) Kind() string {
	return FilesystemKind
}

func (s *FilesystemSink) partialName() string {
	return s.name + ".partial"
}

func (s *FilesystemSink) Write(p []byte) (int, error) {
	if s.file == nil {
		dir := filepath.Dir(s.name)
		if dir != "" && dir != "." {
			if err := s.fs.MkdirAll(dir, 0755); err != nil {
				return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}

		f, err := s.fs.Create(s.partialName())
		if err != nil {
			return 0, fmt.Errorf("failed to create file: %w", err)
		}
		s.file = f
	}

	return s.file.Write(p)
}

// Close syncs the file and moves it to its final name.
func (s *FilesystemSink) Close(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil

	if err := errors.Join(f.Sync(), f.Close()); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := s.fs.Rename(s.partialName(), s.name); err != nil {
		return fmt.Errorf("failed to rename %s: %w", s.partialName(), err)
	}

	return nil
}

// Abort closes and removes the partial file.
func (s *FilesystemSink) Abort(ctx context.Context, cause error) error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil

	return errors.Join(f.Close(), s.fs.Remove(s.partialName()))
}
