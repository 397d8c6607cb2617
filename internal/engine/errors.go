package engine

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned when a session is used after it has been
// streamed, successfully or not.
var ErrSessionClosed = errors.New("archive session is closed")

// ConfigurationError reports a component that cannot be built from its
// configuration. It always surfaces before any archive byte is written.
type ConfigurationError struct {
	Component string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s configuration: %v", e.Component, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// SourceUnavailableError reports a source that could not be opened or read,
// or whose content did not match what was announced in its local header.
type SourceUnavailableError struct {
	Source string
	Op     string // "open", "read" or "verify"
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable (%s): %v", e.Source, e.Op, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// InvalidPathError is returned when an archive path is empty or not normalized.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid archive path %q: %s", e.Path, e.Reason)
}

// DuplicatePathError is returned when an archive path was already registered.
type DuplicatePathError struct {
	Path string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("archive path %q already exists", e.Path)
}

// WriteError reports a failure of the output sink.
type WriteError struct {
	Sink string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write to sink %s: %v", e.Sink, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// EncodingError is returned by a streaming session once output has started.
// The bytes already written downstream form a truncated, invalid archive.
type EncodingError struct {
	Entry  string
	Offset uint64
	Err    error
}

func (e *EncodingError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("archive aborted at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("archive aborted at entry %q (offset %d): %v", e.Entry, e.Offset, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
