package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/exp/slog"
)

const writeTimeout = 5 * time.Second

// Hub is the agent side of the background/foreground message channel.
// Foreground clients connect over a websocket; the two contexts share no
// memory and messages carry no reply guarantee.
type Hub struct {
	log *slog.Logger

	mu         sync.Mutex
	conns      map[*websocket.Conn]struct{}
	lastActive time.Time

	// OnCacheURLs is invoked when a foreground asks the agent to cache a
	// list of URLs.
	OnCacheURLs func(urls []string)

	// Assets supplies the payload for GET_ASSETS requests.
	Assets func() []string

	// OnSkipWaiting is invoked when a foreground asks a freshly installed
	// generation to take over immediately.
	OnSkipWaiting func()
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin only, the gateway fronts it
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.lastActive = time.Now()
	h.mu.Unlock()

	h.readLoop(r.Context(), conn)

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		h.touch()
		h.dispatch(ctx, conn, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn *websocket.Conn, msg Message) {
	switch msg.Type {
	case TypeClientActive:
		// touch already recorded activity

	case TypeGetAssets:
		if h.Assets == nil {
			return
		}
		reply := NewAssetsList(h.Assets())
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := wsjson.Write(wctx, conn, reply); err != nil {
			h.log.Debug("assets list reply dropped", "error", err)
		}

	case TypeCacheURLs:
		if h.OnCacheURLs == nil {
			return
		}
		var payload CacheURLsPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.log.Warn("malformed CACHE_URLS payload", "error", err)
			return
		}
		h.OnCacheURLs(payload.URLs)

	case TypeSkipWaiting:
		if h.OnSkipWaiting != nil {
			h.OnSkipWaiting()
		}

	default:
		h.log.Debug("unhandled bus message", "type", msg.Type)
	}
}

// Broadcast sends a message to every connected foreground, dropping it for
// clients that cannot be reached in time.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := wsjson.Write(ctx, c, msg); err != nil {
			h.log.Debug("broadcast dropped", "type", msg.Type, "error", err)
		}
		cancel()
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

// LastActive returns the last time any foreground showed activity.
func (h *Hub) LastActive() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActive
}

// ActiveClients returns the number of connected foregrounds.
func (h *Hub) ActiveClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
