package api

import (
	"encoding/json"
	"time"

	"possync/internal/domain/entity"
	"possync/internal/domain/queue"
)

// Request/Response структуры для GetStatus
type getStatusInput struct {
}

type getStatusOutput struct {
	Body GetStatusResponse
}

type GetStatusResponse struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   *SyncStatus `json:"data,omitempty"`
}

type SyncStatus struct {
	InFlight       bool              `json:"in_flight"`
	LastSyncTime   time.Time         `json:"last_sync_time"`
	LastSyncAt     map[string]string `json:"last_sync_at,omitempty"`
	PendingQueue   int               `json:"pending_queue"`
	FailedQueue    int               `json:"failed_queue"`
	MirrorCounts   map[string]int    `json:"mirror_counts,omitempty"`
	Stats          *SyncStatsBrief   `json:"stats,omitempty"`
	Online         bool              `json:"online"`
	ConnectionType string            `json:"connection_type,omitempty"`
}

type SyncStatsBrief struct {
	TotalSyncs      int     `json:"total_syncs"`
	LastSuccessful  string  `json:"last_successful,omitempty"`
	AvgSyncDuration float64 `json:"avg_sync_duration"`
	TotalPushed     int     `json:"total_pushed"`
	TotalPulled     int     `json:"total_pulled"`
	TotalConflicts  int     `json:"total_conflicts"`
	TotalResolved   int     `json:"total_resolved"`
}

// Request/Response для TriggerSync
type triggerSyncInput struct {
}

type triggerSyncOutput struct {
	Body TriggerSyncResponse
}

type TriggerSyncResponse struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Data   *SyncReport `json:"data,omitempty"`
}

type SyncReport struct {
	Success   bool           `json:"success"`
	Pushed    int            `json:"pushed"`
	Synced    map[string]int `json:"synced,omitempty"`
	Conflicts int            `json:"conflicts"`
	Resolved  int            `json:"resolved"`
	Manual    int            `json:"manual"`
	Replayed  int            `json:"replayed"`
	Errors    []string       `json:"errors,omitempty"`
	Duration  float64        `json:"duration_seconds"`
}

// Request/Response для GetConflicts
type getConflictsInput struct {
}

type getConflictsOutput struct {
	Body GetConflictsResponse
}

type GetConflictsResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Data   []ConflictInfo `json:"data,omitempty"`
}

type ConflictInfo struct {
	ID               string          `json:"id"`
	EntityType       entity.Type     `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	Local            json.RawMessage `json:"local"`
	Server           json.RawMessage `json:"server"`
	Diff             []string        `json:"diff,omitempty"`
	LocalModifiedAt  time.Time       `json:"local_modified_at"`
	ServerModifiedAt time.Time       `json:"server_modified_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Request/Response для ResolveConflict
type resolveConflictInput struct {
	ID   string `path:"id"`
	Body ResolveConflictRequest
}

type resolveConflictOutput struct {
	Body ResolveConflictResponse
}

type ResolveConflictRequest struct {
	Resolution string `json:"resolution" enum:"client,server"`
}

type ResolveConflictResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Request/Response для GetQueue
type getQueueInput struct {
}

type getQueueOutput struct {
	Body GetQueueResponse
}

type GetQueueResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
	Data   []QueueItem    `json:"data,omitempty"`
}

type QueueItem struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Priority   string    `json:"priority"`
	Status     string    `json:"status"`
	Retries    int       `json:"retries"`
	Timestamp  time.Time `json:"timestamp"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
}

func queueItemDTO(item *queue.Item) QueueItem {
	return QueueItem{
		ID:         item.ID,
		Method:     item.Method,
		URL:        item.URL,
		Priority:   item.Priority.String(),
		Status:     string(item.Status),
		Retries:    item.Retries,
		Timestamp:  item.Timestamp,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
	}
}

// Request/Response для RetryQueueItem
type retryQueueItemInput struct {
	ID string `path:"id"`
}

type retryQueueItemOutput struct {
	Body RetryQueueItemResponse
}

type RetryQueueItemResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Request/Response для GetHealth
type getHealthInput struct {
}

type getHealthOutput struct {
	Body GetHealthResponse
}

type GetHealthResponse struct {
	Status         string `json:"status"`
	Online         bool   `json:"online"`
	ConnectionType string `json:"connection_type,omitempty"`
}
