package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Off-chain fetch limits.
const (
	DefaultURITimeout  = 5 * time.Second
	DefaultURIMaxBytes = 1 << 20
)

// ErrInvalidURIPayload is returned when the fetched document is not JSON or too large.
var ErrInvalidURIPayload = errors.New("invalid uri payload")

// HTTPURIFetcher fetches metadata JSON over HTTP(S).
type HTTPURIFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// URIFetcherOption configures an HTTPURIFetcher.
type URIFetcherOption func(*HTTPURIFetcher)

// WithURITimeout sets the per-fetch timeout.
func WithURITimeout(d time.Duration) URIFetcherOption {
	return func(f *HTTPURIFetcher) {
		f.timeout = d
	}
}

// WithURIMaxBytes caps the accepted document size.
func WithURIMaxBytes(n int64) URIFetcherOption {
	return func(f *HTTPURIFetcher) {
		f.maxBytes = n
	}
}

// WithURIHTTPClient sets a custom HTTP client.
func WithURIHTTPClient(c *http.Client) URIFetcherOption {
	return func(f *HTTPURIFetcher) {
		f.client = c
	}
}

// NewHTTPURIFetcher creates a fetcher with a 5s timeout and 1 MiB limit.
func NewHTTPURIFetcher(opts ...URIFetcherOption) *HTTPURIFetcher {
	f := &HTTPURIFetcher{
		client:   &http.Client{},
		timeout:  DefaultURITimeout,
		maxBytes: DefaultURIMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves uri and returns its body if it is a JSON document.
// The fetch has its own timeout independent of ctx's deadline.
func (f *HTTPURIFetcher) Fetch(ctx context.Context, uri string) (json.RawMessage, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch uri: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch uri: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidURIPayload, f.maxBytes)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: not json", ErrInvalidURIPayload)
	}
	return json.RawMessage(body), nil
}

var _ URIFetcher = (*HTTPURIFetcher)(nil)
