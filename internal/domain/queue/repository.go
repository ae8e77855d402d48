package queue

import (
	"context"
)

// Repository persists queue items. Status transitions run inside a single
// transaction so no reader observes a half-updated item.
type Repository interface {
	// Save inserts a new item.
	Save(ctx context.Context, item *Item) error

	// Get returns an item or ErrNotFound.
	Get(ctx context.Context, id string) (*Item, error)

	// ListPending returns pending items ordered by (priority rank asc,
	// timestamp asc): high priority first, oldest first within a priority.
	ListPending(ctx context.Context) ([]*Item, error)

	// ListByStatus returns items with the given status, oldest first.
	ListByStatus(ctx context.Context, status Status) ([]*Item, error)

	// List returns all items, oldest first.
	List(ctx context.Context) ([]*Item, error)

	// Update rewrites an item's status and retry count atomically.
	Update(ctx context.Context, item *Item) error

	// Delete removes an item (implicit completed).
	Delete(ctx context.Context, id string) error

	// CountByStatus returns item counts keyed by status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
