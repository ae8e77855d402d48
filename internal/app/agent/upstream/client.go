package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/entity"
	"possync/internal/domain/queue"
	"possync/internal/domain/syncer"
)

// Client talks to the authoritative REST API. It implements both the
// orchestrator's Upstream and the queue's Sender.
type Client struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	userAgent string

	mu sync.Mutex
	// push endpoints that answered 404; not re-probed until restart
	pushUnsupported map[entity.Type]bool
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &Client{
		client:          client,
		log:             log,
		baseURL:         strings.TrimRight(baseURL, "/"),
		userAgent:       "POSSync-Agent/1.0",
		pushUnsupported: make(map[entity.Type]bool),
	}
}

// HealthCheck verifies the upstream is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}

// FetchPage returns one page of records for an entity type. The endpoint
// may answer with a bare JSON array or a {data, hasMore} envelope.
func (c *Client) FetchPage(ctx context.Context, t entity.Type, page, size int) ([]json.RawMessage, bool, error) {
	url := fmt.Sprintf("%s/api/%s?page=%d&limit=%d", c.baseURL, t, page, size)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s: %w", t, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("fetch %s: status %d", t, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read %s response: %w", t, err)
	}

	return decodePage(t, body, size)
}

func decodePage(t entity.Type, body []byte, size int) ([]json.RawMessage, bool, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, false, &entity.DecodeError{Type: t, Err: err}
		}
		return records, len(records) == size, nil
	}

	var envelope struct {
		Data    []json.RawMessage `json:"data"`
		HasMore bool              `json:"hasMore"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, false, &entity.DecodeError{Type: t, Err: err}
	}
	return envelope.Data, envelope.HasMore, nil
}

// Push sends a batch to POST /api/sync/<entity>. A 404 marks the endpoint
// unsupported for the rest of the process lifetime and returns
// ErrPushUnsupported.
func (c *Client) Push(ctx context.Context, t entity.Type, records []json.RawMessage) error {
	c.mu.Lock()
	unsupported := c.pushUnsupported[t]
	c.mu.Unlock()
	if unsupported {
		return syncer.ErrPushUnsupported
	}

	payload, err := json.Marshal(map[string][]json.RawMessage{string(t): records})
	if err != nil {
		return fmt.Errorf("marshal push batch: %w", err)
	}

	url := fmt.Sprintf("%s/api/sync/%s", c.baseURL, t)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", t, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.mu.Lock()
		c.pushUnsupported[t] = true
		c.mu.Unlock()
		return syncer.ErrPushUnsupported
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("push %s: status %d", t, resp.StatusCode)
	}
}

// Replay re-sends a queued mutation against its original URL, implementing
// queue.Sender. Relative URLs resolve against the upstream base.
func (c *Client) Replay(ctx context.Context, item *queue.Item) (int, error) {
	url := item.URL
	if strings.HasPrefix(url, "/") {
		url = c.baseURL + url
	}

	var body io.Reader
	if len(item.Body) > 0 {
		body = bytes.NewReader(item.Body)
	}

	req, err := http.NewRequestWithContext(ctx, item.Method, url, body)
	if err != nil {
		return 0, fmt.Errorf("build replay request: %w", err)
	}
	for k, v := range item.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// Forward proxies an intercepted foreground request to the upstream,
// preserving method, path, query, headers and body.
func (c *Client) Forward(r *http.Request) (*http.Response, error) {
	url := c.baseURL + r.URL.RequestURI()

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	req.Header = r.Header.Clone()
	req.Header.Set("User-Agent", c.userAgent)

	return c.client.Do(req)
}

// Get fetches an absolute or upstream-relative URL, used by precaching.
func (c *Client) Get(ctx context.Context, rawURL string, accept string) (*http.Response, error) {
	url := rawURL
	if strings.HasPrefix(url, "/") {
		url = c.baseURL + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return c.client.Do(req)
}
