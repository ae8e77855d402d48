package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for draining: lower drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

func (p Priority) String() string {
	return string(p)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Item is a persisted write operation awaiting replay against the upstream.
type Item struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Priority   Priority          `json:"priority"`
	Status     Status            `json:"status"`
	Retries    int               `json:"retries"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
}

// newItemID builds an opaque time+random identifier so items sort naturally
// by creation time even outside the store.
func newItemID(ts time.Time) string {
	return fmt.Sprintf("%d-%s", ts.UnixNano(), uuid.NewString()[:8])
}
