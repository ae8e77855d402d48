package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrCacheMiss marks a URL absent from a cache generation.
var ErrCacheMiss = errors.New("cache miss")

// CachedResponse is one stored HTTP response in the raw response cache.
type CachedResponse struct {
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
	StoredAt    time.Time         `json:"stored_at"`
	ContentType string            `json:"content_type,omitempty"`
}

// CacheRepository is the durable raw HTTP cache, namespaced by generation
// name. Same durability class as the mirror, separate from it.
type CacheRepository interface {
	// Get returns the cached response for a URL or ErrCacheMiss.
	Get(ctx context.Context, cacheName, url string) (*CachedResponse, error)

	// Put stores a response, replacing any previous copy.
	Put(ctx context.Context, cacheName, url string, resp *CachedResponse) error

	// Names lists the cache generations currently present.
	Names(ctx context.Context) ([]string, error)

	// DeleteName evicts a whole cache generation.
	DeleteName(ctx context.Context, cacheName string) error
}

func snapshotResponse(resp *http.Response, body []byte) *CachedResponse {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return &CachedResponse{
		StatusCode:  resp.StatusCode,
		Headers:     headers,
		Body:        body,
		StoredAt:    time.Now(),
		ContentType: resp.Header.Get("Content-Type"),
	}
}

func writeCached(w http.ResponseWriter, cached *CachedResponse) {
	for k, v := range cached.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(cached.StatusCode)
	w.Write(cached.Body)
}
