package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"possync/internal/app/agent/bus"
	"possync/internal/app/agent/upstream"
	"possync/internal/domain/entity"
	"possync/internal/domain/queue"
)

const maxMutationBody = 10 << 20

// Broadcaster delivers gateway events to foreground contexts.
type Broadcaster interface {
	Broadcast(msg bus.Message)
}

// MirrorWriter records offline edits in the local mirror so reads see them
// before the next push confirms them.
type MirrorWriter interface {
	MarkLocalEdit(ctx context.Context, t entity.Type, id string, data []byte, updatedAt time.Time) error
}

// Config shapes the interception rules and the precache manifest.
type Config struct {
	// Version tags the live cache generation; activation evicts all others.
	Version string

	// OfflinePage is the navigable fallback served when a page request
	// cannot be satisfied from network or cache.
	OfflinePage string

	// MutablePrefixes route non-GET requests through the offline queue.
	MutablePrefixes []string

	PrecacheRoutes []string
	PrecacheAPI    []string
	CriticalPages  []string

	// RetryDelays is the precache backoff schedule.
	RetryDelays []time.Duration
}

func DefaultConfig(version, offlinePage string) Config {
	return Config{
		Version:         version,
		OfflinePage:     offlinePage,
		MutablePrefixes: []string{"/api/"},
		PrecacheRoutes: []string{
			"/",
			"/dashboard",
			"/login",
			"/offline",
			"/sales/new",
			"/products",
			"/customers",
			"/suppliers",
			"/settings",
		},
		PrecacheAPI: []string{
			"/api/products",
			"/api/categories",
			"/api/customers",
			"/api/suppliers",
			"/api/store-config",
			"/api/ticket-config",
		},
		CriticalPages: []string{"/", "/dashboard", "/login", "/offline"},
		RetryDelays:   []time.Duration{time.Second, 2 * time.Second, 3 * time.Second},
	}
}

// Gateway intercepts every same-origin request from the foreground and
// decides, per request, whether it is served from cache, network, or both.
type Gateway struct {
	upstream *upstream.Client
	cache    CacheRepository
	queue    *queue.Service
	bus      Broadcaster
	log      *slog.Logger
	cfg      Config

	// Mirror, when set, receives offline edits of mirrored entities.
	Mirror MirrorWriter
}

func New(up *upstream.Client, cache CacheRepository, queueSvc *queue.Service, broadcaster Broadcaster, log *slog.Logger, cfg Config) *Gateway {
	return &Gateway{
		upstream: up,
		cache:    cache,
		queue:    queueSvc,
		bus:      broadcaster,
		log:      log,
		cfg:      cfg,
	}
}

// Router mounts the interception handler on a chi mux.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.HandleFunc("/*", g.handle)
	return r
}

func (g *Gateway) generalCache() string {
	return "pos-cache-" + g.cfg.Version
}

func (g *Gateway) apiCache() string {
	return "pos-api-cache-" + g.cfg.Version
}

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		if g.isMutable(r.URL.Path) {
			g.handleMutation(w, r)
			return
		}
		g.passThrough(w, r)
		return
	}

	switch {
	case isStaticAsset(r.URL.Path):
		g.cacheFirst(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/"):
		g.networkFirstDualCache(w, r)
	case acceptsHTML(r):
		g.staleWhileRevalidate(w, r)
	default:
		g.cacheFirst(w, r)
	}
}

func (g *Gateway) isMutable(p string) bool {
	for _, prefix := range g.cfg.MutablePrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

var staticExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".css": true, ".js": true, ".map": true,
	".woff": true, ".woff2": true, ".ttf": true, ".webp": true,
}

func isStaticAsset(p string) bool {
	if strings.HasPrefix(p, "/icons/") || strings.HasPrefix(p, "/static/") ||
		strings.HasPrefix(p, "/assets/") || strings.HasPrefix(p, "/fonts/") {
		return true
	}
	return staticExtensions[path.Ext(p)]
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func cacheKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// handleMutation tries the network first; a transport failure queues the
// request and acknowledges the foreground immediately so it never blocks on
// connectivity.
func (g *Gateway) handleMutation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMutationBody))
	if err != nil {
		http.Error(w, "unreadable request body", http.StatusBadRequest)
		return
	}

	fwd := r.Clone(r.Context())
	fwd.Body = io.NopCloser(bytes.NewReader(body))
	resp, err := g.upstream.Forward(fwd)
	if err == nil {
		g.copyResponse(w, resp)
		return
	}

	headers := make(map[string]string)
	for _, k := range []string{"Content-Type", "Authorization", "X-Request-Id"} {
		if v := r.Header.Get(k); v != "" {
			headers[k] = v
		}
	}

	entityType, entityID := entityFromPath(r.URL.Path)
	item, qerr := g.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		URL:        r.URL.RequestURI(),
		Method:     r.Method,
		Headers:    headers,
		Body:       body,
		EntityType: entityType,
		EntityID:   entityID,
	})
	if qerr != nil {
		g.log.Error("offline enqueue failed", "method", r.Method, "url", r.URL.Path, "error", qerr)
		http.Error(w, "offline and queueing failed", http.StatusServiceUnavailable)
		return
	}

	g.recordLocalEdit(r.Context(), r.Method, entityType, entityID, body)

	if g.bus != nil {
		g.bus.Broadcast(bus.NewRequestQueued(item))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"queued":   true,
		"id":       item.ID,
		"priority": item.Priority,
	})
}

// recordLocalEdit mirrors an offline update of a known entity so the local
// copy reflects it immediately. Creations and sales stay queue-only; their
// canonical record appears on the next pull.
func (g *Gateway) recordLocalEdit(ctx context.Context, method, entityType, entityID string, body []byte) {
	if g.Mirror == nil || entityID == "" {
		return
	}
	if method != http.MethodPut && method != http.MethodPatch {
		return
	}
	t := entity.Type(entityType)
	if t.Validate() != nil {
		return
	}

	updatedAt := time.Now()
	if ref, err := entity.Decode(t, body); err == nil {
		updatedAt = ref.UpdatedAt
	}
	if err := g.Mirror.MarkLocalEdit(ctx, t, entityID, body, updatedAt); err != nil {
		g.log.Warn("local edit not mirrored", "entity", entityType, "id", entityID, "error", err)
	}
}

// entityFromPath extracts "/api/<entity>/<id>" parts for queue bookkeeping.
func entityFromPath(p string) (string, string) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return "", ""
	}
	if len(parts) >= 3 {
		return parts[1], parts[2]
	}
	return parts[1], ""
}

func (g *Gateway) passThrough(w http.ResponseWriter, r *http.Request) {
	resp, err := g.upstream.Forward(r)
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	g.copyResponse(w, resp)
}

// cacheFirst serves static assets from cache, falling back to the network
// and storing successful responses.
func (g *Gateway) cacheFirst(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)
	if cached, err := g.cache.Get(r.Context(), g.generalCache(), key); err == nil {
		writeCached(w, cached)
		return
	}

	resp, err := g.upstream.Forward(r)
	if err != nil {
		http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	if resp.StatusCode == http.StatusOK {
		if err := g.cache.Put(r.Context(), g.generalCache(), key, snapshotResponse(resp, body)); err != nil {
			g.log.Warn("cache store failed", "url", key, "error", err)
		}
	}
	g.writeRaw(w, resp, body)
}

// networkFirstDualCache prefers the network for API requests and stores 200s
// into both the general and the API-specific cache; on failure it checks the
// general cache, then the API cache, then the offline page for HTML clients.
func (g *Gateway) networkFirstDualCache(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)

	resp, err := g.upstream.Forward(r)
	if err == nil {
		defer resp.Body.Close()
		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			http.Error(w, "upstream read failed", http.StatusBadGateway)
			return
		}
		if resp.StatusCode == http.StatusOK {
			snapshot := snapshotResponse(resp, body)
			if err := g.cache.Put(r.Context(), g.generalCache(), key, snapshot); err != nil {
				g.log.Warn("cache store failed", "url", key, "error", err)
			}
			if err := g.cache.Put(r.Context(), g.apiCache(), key, snapshot); err != nil {
				g.log.Warn("api cache store failed", "url", key, "error", err)
			}
		}
		g.writeRaw(w, resp, body)
		return
	}

	if cached, cerr := g.cache.Get(r.Context(), g.generalCache(), key); cerr == nil {
		writeCached(w, cached)
		return
	}
	if cached, cerr := g.cache.Get(r.Context(), g.apiCache(), key); cerr == nil {
		writeCached(w, cached)
		return
	}

	if acceptsHTML(r) {
		if g.serveOfflinePage(w, r) {
			return
		}
	}
	http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
}

// staleWhileRevalidate returns the cached page immediately while refreshing
// it in the background; refresh errors are swallowed.
func (g *Gateway) staleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)

	if cached, err := g.cache.Get(r.Context(), g.generalCache(), key); err == nil {
		go g.revalidate(key, r.Header.Get("Accept"))
		writeCached(w, cached)
		return
	}

	resp, err := g.upstream.Forward(r)
	if err != nil {
		if g.serveOfflinePage(w, r) {
			return
		}
		http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}
	if resp.StatusCode == http.StatusOK {
		if err := g.cache.Put(r.Context(), g.generalCache(), key, snapshotResponse(resp, body)); err != nil {
			g.log.Warn("cache store failed", "url", key, "error", err)
		}
	}
	g.writeRaw(w, resp, body)
}

func (g *Gateway) revalidate(key, accept string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := g.upstream.Get(ctx, key, accept)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if err := g.cache.Put(ctx, g.generalCache(), key, snapshotResponse(resp, body)); err != nil {
		g.log.Debug("background revalidation store failed", "url", key, "error", err)
	}
}

func (g *Gateway) serveOfflinePage(w http.ResponseWriter, r *http.Request) bool {
	cached, err := g.cache.Get(r.Context(), g.generalCache(), g.cfg.OfflinePage)
	if err != nil {
		return false
	}
	writeCached(w, cached)
	return true
}

func (g *Gateway) writeRaw(w http.ResponseWriter, resp *http.Response, body []byte) {
	for k := range resp.Header {
		w.Header().Set(k, resp.Header.Get(k))
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func (g *Gateway) copyResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	for k := range resp.Header {
		w.Header().Set(k, resp.Header.Get(k))
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// Assets returns the precache manifest for GET_ASSETS requests.
func (g *Gateway) Assets() []string {
	assets := make([]string, 0, len(g.cfg.PrecacheRoutes)+len(g.cfg.PrecacheAPI))
	assets = append(assets, g.cfg.PrecacheRoutes...)
	assets = append(assets, g.cfg.PrecacheAPI...)
	return assets
}

// CacheURLs stores the given URLs on foreground request (CACHE_URLS).
func (g *Gateway) CacheURLs(urls []string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, u := range urls {
		if ok := g.fetchAndStore(ctx, u, g.generalCache(), ""); !ok {
			g.log.Debug("requested url not cached", "url", u)
		}
	}
}
