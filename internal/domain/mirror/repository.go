package mirror

import (
	"context"
	"time"

	"possync/internal/domain/entity"
)

// Repository persists mirror records, one table per entity type.
type Repository interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, t entity.Type, id string) (*Record, error)

	// List returns all records of a type.
	List(ctx context.Context, t entity.Type) ([]*Record, error)

	// ListLocallyModified returns records with a pending local edit, oldest
	// edit first, up to limit (0 = no limit).
	ListLocallyModified(ctx context.Context, t entity.Type, limit int) ([]*Record, error)

	// Upsert writes a record in one transaction.
	Upsert(ctx context.Context, rec *Record) error

	// ClearLocalFlag clears LocalModifiedAt and stamps LastSyncedAt for the
	// given ids after a successful push.
	ClearLocalFlag(ctx context.Context, t entity.Type, ids []string, syncedAt time.Time) error

	// Delete removes a record.
	Delete(ctx context.Context, t entity.Type, id string) error

	// Count returns the number of records of a type.
	Count(ctx context.Context, t entity.Type) (int, error)
}

// MetaRepository persists the sync metadata singleton.
type MetaRepository interface {
	GetMetadata(ctx context.Context) (*Metadata, error)
	SaveMetadata(ctx context.Context, meta *Metadata) error
}
