package sinks

import (
	"context"
	"io"

	"github.com/infracollect/zipstream/internal/engine"
)

const StreamKind = "stream"

// StreamSink writes the archive to an io.Writer such as stdout. Closing the
// sink does not close the writer.
type StreamSink struct {
	w io.Writer
}

func NewStreamSink(w io.Writer) engine.Sink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Name() string {
	return StreamKind
}

func (s *StreamSink) Kind() string {
	return StreamKind
}

func (s *StreamSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *StreamSink) Close(ctx context.Context) error {
	return nil
}
