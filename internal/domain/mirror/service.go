package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/entity"
)

// Service implements mirror bookkeeping on top of the repositories. Store
// failures degrade to empty results where a caller can keep working without
// the mirror; only writes propagate errors.
type Service struct {
	repo Repository
	meta MetaRepository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, meta MetaRepository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		meta: meta,
		log:  log,
		now:  time.Now,
	}
}

// Get returns the local record, or nil when the mirror has no copy.
func (s *Service) Get(ctx context.Context, t entity.Type, id string) (*Record, error) {
	rec, err := s.repo.Get(ctx, t, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.log.Warn("mirror read failed", "type", t, "id", id, "error", err)
		return nil, nil
	}
	return rec, nil
}

// List returns every mirrored record of a type; an unreadable store yields
// an empty list rather than an error.
func (s *Service) List(ctx context.Context, t entity.Type) ([]*Record, error) {
	recs, err := s.repo.List(ctx, t)
	if err != nil {
		s.log.Warn("mirror list failed", "type", t, "error", err)
		return nil, nil
	}
	return recs, nil
}

// ListLocallyModified returns records carrying unconfirmed local edits.
func (s *Service) ListLocallyModified(ctx context.Context, t entity.Type, limit int) ([]*Record, error) {
	recs, err := s.repo.ListLocallyModified(ctx, t, limit)
	if err != nil {
		s.log.Warn("mirror list modified failed", "type", t, "error", err)
		return nil, nil
	}
	return recs, nil
}

// ApplyServer overwrites the mirror with a server record after a pull that
// found no conflict. Stamps LastSyncedAt and, for products, refreshes the
// LastSyncedStock baseline.
func (s *Service) ApplyServer(ctx context.Context, t entity.Type, ref entity.Ref, data []byte) error {
	now := s.now()
	rec := &Record{
		EntityType:   t,
		ID:           ref.ID,
		Data:         data,
		UpdatedAt:    ref.UpdatedAt,
		LastSyncedAt: &now,
	}
	if t == entity.TypeProduct {
		stock, err := entity.StockOf(data)
		if err != nil {
			return err
		}
		rec.LastSyncedStock = &stock
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("apply server record %s/%s: %w", t, ref.ID, err)
	}
	return nil
}

// ApplyResolved persists a conflict resolution. The stock pointer, when set,
// becomes the new three-way-merge baseline.
func (s *Service) ApplyResolved(ctx context.Context, t entity.Type, id string, data []byte, updatedAt time.Time, stock *int) error {
	now := s.now()
	rec := &Record{
		EntityType:      t,
		ID:              id,
		Data:            data,
		UpdatedAt:       updatedAt,
		LastSyncedAt:    &now,
		LastSyncedStock: stock,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("apply resolved record %s/%s: %w", t, id, err)
	}
	return nil
}

// MarkLocalEdit records an offline edit: the payload replaces the mirror
// copy and LocalModifiedAt is stamped until the next successful push.
func (s *Service) MarkLocalEdit(ctx context.Context, t entity.Type, id string, data []byte, updatedAt time.Time) error {
	now := s.now()
	prev, _ := s.Get(ctx, t, id)

	rec := &Record{
		EntityType:      t,
		ID:              id,
		Data:            data,
		UpdatedAt:       updatedAt,
		LocalModifiedAt: &now,
	}
	if prev != nil {
		rec.LastSyncedAt = prev.LastSyncedAt
		rec.LastSyncedStock = prev.LastSyncedStock
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("mark local edit %s/%s: %w", t, id, err)
	}
	return nil
}

// ConfirmPushed clears the local-edit flag for records accepted by the push
// endpoint.
func (s *Service) ConfirmPushed(ctx context.Context, t entity.Type, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.repo.ClearLocalFlag(ctx, t, ids, s.now()); err != nil {
		return fmt.Errorf("confirm pushed %s: %w", t, err)
	}
	return nil
}

// Count returns the mirrored record count for a type.
func (s *Service) Count(ctx context.Context, t entity.Type) (int, error) {
	return s.repo.Count(ctx, t)
}

// Metadata loads the sync metadata singleton, falling back to a fresh one
// when the store is unreadable.
func (s *Service) Metadata(ctx context.Context) *Metadata {
	meta, err := s.meta.GetMetadata(ctx)
	if err != nil {
		s.log.Warn("sync metadata read failed", "error", err)
		return NewMetadata()
	}
	if meta.LastSyncAt == nil {
		meta.LastSyncAt = make(map[entity.Type]time.Time)
	}
	return meta
}

// SaveMetadata persists the singleton.
func (s *Service) SaveMetadata(ctx context.Context, meta *Metadata) {
	if err := s.meta.SaveMetadata(ctx, meta); err != nil {
		s.log.Warn("sync metadata write failed", "error", err)
	}
}
