package sinks

import (
	"context"
	"fmt"
	"mime"
	"net/http"
)

const (
	HTTPKind = "http"

	// DefaultFlushThreshold is how many bytes are written between flushes.
	DefaultFlushThreshold = 256 << 10
)

// HTTPSink streams the archive as an HTTP response body. Headers are only
// sent with the first Write, so a handler can still answer with an error
// status when the archive fails before producing any byte.
type HTTPSink struct {
	w         http.ResponseWriter
	filename  string
	threshold int

	committed bool
	pending   int
}

type HTTPSinkOption func(*HTTPSink)

// WithFlushThreshold sets how many bytes are buffered by the server between
// explicit flushes.
func WithFlushThreshold(n int) HTTPSinkOption {
	return func(s *HTTPSink) {
		s.threshold = n
	}
}

func NewHTTPSink(w http.ResponseWriter, filename string, opts ...HTTPSinkOption) *HTTPSink {
	s := &HTTPSink{w: w, filename: filename, threshold: DefaultFlushThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSink) Name() string {
	return fmt.Sprintf("%s(%s)", HTTPKind, s.filename)
}

func (s *HTTPSink) Kind() string {
	return HTTPKind
}

// Committed reports whether the response status and headers were sent.
func (s *HTTPSink) Committed() bool {
	return s.committed
}

func (s *HTTPSink) commit() {
	h := s.w.Header()
	h.Set("Content-Type", ContentTypeZip)
	if s.filename != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": s.filename}))
	}
	h.Set("X-Content-Type-Options", "nosniff")
	s.w.WriteHeader(http.StatusOK)
	s.committed = true
}

func (s *HTTPSink) Write(p []byte) (int, error) {
	if !s.committed {
		s.commit()
	}

	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}

	s.pending += n
	if s.pending >= s.threshold {
		s.flush()
	}
	return n, nil
}

func (s *HTTPSink) flush() {
	s.pending = 0
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Close flushes what the server still buffers. The response itself ends
// when the handler returns.
func (s *HTTPSink) Close(ctx context.Context) error {
	if s.committed {
		s.flush()
	}
	return nil
}
