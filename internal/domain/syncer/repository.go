package syncer

import (
	"context"
	"encoding/json"
	"errors"

	"possync/internal/domain/conflict"
	"possync/internal/domain/entity"
)

// ErrPushUnsupported marks a push endpoint answering 404: not implemented
// yet, skipped silently.
var ErrPushUnsupported = errors.New("push endpoint not implemented")

// Upstream is the authoritative REST API as the orchestrator consumes it.
type Upstream interface {
	// FetchPage returns one page of server records for an entity type.
	FetchPage(ctx context.Context, t entity.Type, page, size int) (records []json.RawMessage, hasMore bool, err error)

	// Push sends a batch of locally modified records to the entity's push
	// endpoint. Returns ErrPushUnsupported when the endpoint is absent.
	Push(ctx context.Context, t entity.Type, records []json.RawMessage) error
}

// ConflictRepository persists conflicts so manual ones survive until a
// human decides.
type ConflictRepository interface {
	Save(ctx context.Context, c *conflict.Conflict) error
	Get(ctx context.Context, id string) (*conflict.Conflict, error)
	ListUnresolved(ctx context.Context) ([]*conflict.Conflict, error)
	MarkResolved(ctx context.Context, id, resolution string) error
}
