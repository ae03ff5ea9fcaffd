package migration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"handoverphotos/internal/services"
	"handoverphotos/internal/storage"
)

// Fetcher downloads the bytes behind a legacy photo or PDF URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, rawURL string) ([]byte, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, rawURL string) ([]byte, error) { return f(ctx, rawURL) }

// StoragePrefix marks legacy URLs that already point into the object store.
const StoragePrefix = "storage://"

// HTTPFetcher downloads over HTTP. URLs with StoragePrefix are read from the
// backend instead.
type HTTPFetcher struct {
	client   *http.Client
	backend  storage.Backend
	maxBytes int64
}

// NewHTTPFetcher builds a fetcher. maxBytes caps a single download; zero
// leaves it unbounded.
func NewHTTPFetcher(backend storage.Backend, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{client: cleanhttp.DefaultPooledClient(), backend: backend, maxBytes: maxBytes}
}

// Fetch downloads rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, services.Wrap(services.ErrInvalidInput, "migration", "fetch", "legacy url is empty", nil)
	}
	if key, ok := strings.CutPrefix(rawURL, StoragePrefix); ok {
		if f.backend == nil {
			return nil, services.Wrap(services.ErrConfiguration, "migration", "fetch", "no storage backend for "+rawURL, nil)
		}
		return f.backend.Get(ctx, key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "migration", "fetch", rawURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "fetch", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, services.Wrap(services.ErrNotFound, "migration", "fetch", fmt.Sprintf("%s: status %d", rawURL, resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, services.Wrap(services.ErrTransient, "migration", "fetch", fmt.Sprintf("%s: status %d", rawURL, resp.StatusCode), nil)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "fetch", rawURL, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, services.Wrap(services.ErrLimitExceeded, "migration", "fetch",
			fmt.Sprintf("%s is larger than %d bytes", rawURL, f.maxBytes), nil)
	}
	return data, nil
}
