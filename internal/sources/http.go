package sources

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/infracollect/zipstream/internal/engine"
	"github.com/samber/lo"
)

const (
	HTTPKind       = "http"
	DefaultTimeout = 30 * time.Second
)

var defaultHeaders = map[string]string{
	"User-Agent": "zipstream/0.1.0",
}

type HTTPConfig struct {
	URL      string
	Headers  map[string]string
	Timeout  time.Duration
	Insecure bool
}

// HTTP downloads an entry with a GET request. Size and modification time come
// from a HEAD request issued once and cached.
type HTTP struct {
	url     *url.URL
	headers map[string]string
	cfg     HTTPConfig

	clientOnce sync.Once
	httpClient *http.Client

	headOnce sync.Once
	head     *http.Response
	headErr  error
}

type HTTPOption func(*HTTP)

func WithHTTPClient(httpClient *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.httpClient = httpClient
	}
}

func NewHTTP(cfg HTTPConfig, opts ...HTTPOption) (*HTTP, error) {
	invalid := func(err error) error {
		return &engine.ConfigurationError{Component: HTTPKind, Err: err}
	}

	if cfg.URL == "" {
		return nil, invalid(fmt.Errorf("url is required"))
	}

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, invalid(fmt.Errorf("failed to parse url '%s': %w", cfg.URL, err))
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, invalid(fmt.Errorf("url must use http or https scheme, got: %s", parsedURL.Scheme))
	}
	if parsedURL.Host == "" {
		return nil, invalid(fmt.Errorf("url %s has no host", cfg.URL))
	}

	h := &HTTP{
		url:     parsedURL,
		headers: lo.Assign(defaultHeaders, cfg.Headers),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

func (h *HTTP) Name() string {
	return fmt.Sprintf("%s(%s%s)", HTTPKind, h.url.Host, h.url.Path)
}

func (h *HTTP) Kind() string {
	return HTTPKind
}

// client builds the pooled client on first use. The timeout bounds the wait
// for response headers only, so large bodies can stream for as long as needed.
func (h *HTTP) client() *http.Client {
	h.clientOnce.Do(func() {
		if h.httpClient != nil {
			return
		}

		timeout := h.cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}

		transport := cleanhttp.DefaultPooledTransport()
		transport.ResponseHeaderTimeout = timeout
		// Content-Length must describe the bytes Open returns.
		transport.DisableCompression = true
		if h.cfg.Insecure {
			if transport.TLSClientConfig == nil {
				transport.TLSClientConfig = &tls.Config{}
			}

			transport.TLSClientConfig.InsecureSkipVerify = true
		}

		h.httpClient = &http.Client{Transport: transport}
	})
	return h.httpClient
}

func (h *HTTP) do(ctx context.Context, method string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s returned status %d", method, h.url.Redacted(), resp.StatusCode)
	}

	return resp, nil
}

func (h *HTTP) stat(ctx context.Context) (*http.Response, error) {
	h.headOnce.Do(func() {
		resp, err := h.do(ctx, http.MethodHead)
		if err != nil {
			h.headErr = err
			return
		}
		resp.Body.Close()
		h.head = resp
	})
	return h.head, h.headErr
}

func (h *HTTP) Size(ctx context.Context) (int64, error) {
	resp, err := h.stat(ctx)
	if err != nil {
		return 0, err
	}
	if resp.ContentLength < 0 {
		return engine.SizeUnknown, nil
	}
	return resp.ContentLength, nil
}

func (h *HTTP) ModTime(ctx context.Context) (time.Time, error) {
	resp, err := h.stat(ctx)
	if err != nil {
		return time.Time{}, err
	}
	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(lastModified)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse Last-Modified %q: %w", lastModified, err)
	}
	return t, nil
}

func (h *HTTP) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := h.do(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
