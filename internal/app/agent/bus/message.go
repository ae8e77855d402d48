package bus

import (
	"encoding/json"

	"possync/internal/domain/queue"
)

// Type enumerates the message variants exchanged between the agent and its
// foreground clients.
type Type string

const (
	TypeSkipWaiting      Type = "SKIP_WAITING"
	TypeCacheURLs        Type = "CACHE_URLS"
	TypeAssetsList       Type = "ASSETS_LIST"
	TypeGetAssets        Type = "GET_ASSETS"
	TypePrecacheProgress Type = "PRECACHE_PROGRESS"
	TypePrecacheComplete Type = "PRECACHE_COMPLETE"
	TypeRequestQueued    Type = "REQUEST_QUEUED"
	TypeSyncProgress     Type = "SYNC_PROGRESS"
	TypeSyncComplete     Type = "SYNC_COMPLETE"
	TypeClientActive     Type = "CLIENT_ACTIVE"
)

// Message is one envelope on the channel; each variant carries its own
// payload type. Delivery is fire-and-forget, at most once.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type CacheURLsPayload struct {
	URLs []string `json:"urls"`
}

type AssetsListPayload struct {
	Assets []string `json:"assets"`
}

type PrecacheProgressPayload struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
}

type PrecacheCompletePayload struct {
	PagesCached int  `json:"pagesCached"`
	TotalPages  int  `json:"totalPages"`
	Ready       bool `json:"ready"`
}

type RequestQueuedPayload struct {
	Item *queue.Item `json:"item"`
}

type SyncProgressPayload struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

type SyncCompletePayload struct {
	Results any `json:"results"`
}

func newMessage(t Type, payload any) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{Type: t}
	}
	return Message{Type: t, Payload: data}
}

func NewAssetsList(assets []string) Message {
	return newMessage(TypeAssetsList, AssetsListPayload{Assets: assets})
}

func NewPrecacheProgress(stage string, progress, total int) Message {
	return newMessage(TypePrecacheProgress, PrecacheProgressPayload{
		Stage:    stage,
		Progress: progress,
		Total:    total,
	})
}

func NewPrecacheComplete(pagesCached, totalPages int, ready bool) Message {
	return newMessage(TypePrecacheComplete, PrecacheCompletePayload{
		PagesCached: pagesCached,
		TotalPages:  totalPages,
		Ready:       ready,
	})
}

func NewRequestQueued(item *queue.Item) Message {
	return newMessage(TypeRequestQueued, RequestQueuedPayload{Item: item})
}

func NewSyncProgress(stage string, current, total int) Message {
	return newMessage(TypeSyncProgress, SyncProgressPayload{
		Stage:   stage,
		Current: current,
		Total:   total,
	})
}

func NewSyncComplete(results any) Message {
	return newMessage(TypeSyncComplete, SyncCompletePayload{Results: results})
}
