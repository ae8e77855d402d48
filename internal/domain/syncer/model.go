package syncer

import (
	"time"

	"possync/internal/domain/conflict"
	"possync/internal/domain/entity"
	"possync/internal/domain/queue"
)

// SyncError records one failed operation inside a run without aborting it.
type SyncError struct {
	Entity    entity.Type `json:"entity,omitempty"`
	Operation string      `json:"operation"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// Result aggregates one push+pull run. Concurrent SyncAll callers all
// receive the same Result.
type Result struct {
	Success   bool                 `json:"success"`
	Synced    map[entity.Type]int  `json:"synced"`
	Pushed    int                  `json:"pushed"`
	Conflicts []*conflict.Conflict `json:"conflicts,omitempty"`
	Resolved  int                  `json:"resolved"`
	Manual    int                  `json:"manual"`
	Skipped   []entity.Type        `json:"skipped,omitempty"`
	Drain     *queue.DrainResult   `json:"drain,omitempty"`
	Errors    []SyncError          `json:"errors,omitempty"`
	StartTime time.Time            `json:"start_time"`
	EndTime   time.Time            `json:"end_time"`
	Duration  time.Duration        `json:"duration"`
}

func newResult(start time.Time) *Result {
	return &Result{
		Synced:    make(map[entity.Type]int),
		StartTime: start,
	}
}

func (r *Result) addError(t entity.Type, op string, err error) {
	r.Errors = append(r.Errors, SyncError{
		Entity:    t,
		Operation: op,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}
