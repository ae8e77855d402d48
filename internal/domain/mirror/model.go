package mirror

import (
	"encoding/json"
	"time"

	"possync/internal/domain/entity"
)

// Record is the last-known-good local copy of a server entity plus sync
// bookkeeping. A record with LocalModifiedAt set carries an edit the server
// has not confirmed yet; pulls must not overwrite it without passing
// conflict detection.
type Record struct {
	EntityType      entity.Type     `json:"entity_type"`
	ID              string          `json:"id"`
	Data            json.RawMessage `json:"data"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
	LocalModifiedAt *time.Time      `json:"local_modified_at,omitempty"`
	LastSyncedStock *int            `json:"last_synced_stock,omitempty"`
}

// LocallyModified reports whether the record carries an unconfirmed local
// edit.
func (r *Record) LocallyModified() bool {
	return r.LocalModifiedAt != nil
}

// Metadata is the process-wide sync bookkeeping singleton, persisted across
// restarts.
type Metadata struct {
	LastSyncAt     map[entity.Type]time.Time `json:"last_sync_at"`
	SyncInProgress bool                      `json:"sync_in_progress"`
	Stats          Stats                     `json:"stats"`
}

// Stats accumulates sync run statistics.
type Stats struct {
	TotalSyncs      int       `json:"total_syncs"`
	LastSuccessful  time.Time `json:"last_successful"`
	LastFailed      time.Time `json:"last_failed"`
	TotalPushed     int       `json:"total_pushed"`
	TotalPulled     int       `json:"total_pulled"`
	TotalConflicts  int       `json:"total_conflicts"`
	TotalResolved   int       `json:"total_resolved"`
	TotalErrors     int       `json:"total_errors"`
	AvgSyncDuration float64   `json:"avg_sync_duration"`
}

func NewMetadata() *Metadata {
	return &Metadata{
		LastSyncAt: make(map[entity.Type]time.Time),
	}
}
