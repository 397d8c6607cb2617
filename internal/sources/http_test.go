package sources

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/infracollect/zipstream/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTP(t *testing.T) {
	tests := []struct {
		name    string
		cfg     HTTPConfig
		wantErr string
	}{
		{name: "valid", cfg: HTTPConfig{URL: "https://example.com/file.txt"}},
		{name: "missing url", cfg: HTTPConfig{}, wantErr: "url is required"},
		{name: "bad scheme", cfg: HTTPConfig{URL: "ftp://example.com/file"}, wantErr: "url must use http or https scheme"},
		{name: "no host", cfg: HTTPConfig{URL: "https:///file"}, wantErr: "has no host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewHTTP(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "http(example.com/file.txt)", src.Name())
				return
			}
			var cfgErr *engine.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestHTTP(t *testing.T) {
	lastModified := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	var heads, gets atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.Equal(t, "zipstream/0.1.0", r.Header.Get("User-Agent"))

		w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
		w.Header().Set("Content-Length", "11")
		switch r.Method {
		case http.MethodHead:
			heads.Add(1)
		case http.MethodGet:
			gets.Add(1)
			_, _ = io.WriteString(w, "hello world")
		}
	}))
	defer server.Close()

	src, err := NewHTTP(HTTPConfig{URL: server.URL + "/hello.txt", Headers: map[string]string{"X-Token": "secret"}})
	require.NoError(t, err)

	size, err := src.Size(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	mt, err := src.ModTime(t.Context())
	require.NoError(t, err)
	assert.True(t, lastModified.Equal(mt))
	assert.Equal(t, int32(1), heads.Load(), "HEAD result is cached")

	rc, err := src.Open(t.Context())
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello world", string(content))
	assert.Equal(t, int32(1), gets.Load())
}

func TestHTTP_UnknownSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "chunk one ")
		flusher.Flush()
		_, _ = io.WriteString(w, "chunk two")
	}))
	defer server.Close()

	src, err := NewHTTP(HTTPConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = src.Size(t.Context())
	require.ErrorContains(t, err, "returned status 405")

	rc, err := src.Open(t.Context())
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "chunk one chunk two", string(content))
}

func TestHTTP_OpenFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	src, err := NewHTTP(HTTPConfig{URL: server.URL + "/missing"}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	_, err = src.Open(t.Context())
	require.ErrorContains(t, err, "returned status 404")
}
