package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/mirror"
)

// MetaRepository persists the sync metadata singleton as one JSON row.
type MetaRepository struct {
	storage *Storage
	log     *slog.Logger
}

func NewMetaRepository(storage *Storage, log *slog.Logger) *MetaRepository {
	return &MetaRepository{storage: storage, log: log}
}

func (r *MetaRepository) GetMetadata(ctx context.Context) (*mirror.Metadata, error) {
	row := r.storage.db.QueryRowContext(ctx,
		"SELECT data FROM sync_metadata WHERE id = 1")

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return mirror.NewMetadata(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync metadata: %w", err)
	}

	var meta mirror.Metadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal sync metadata: %w", err)
	}
	return &meta, nil
}

func (r *MetaRepository) SaveMetadata(ctx context.Context, meta *mirror.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal sync metadata: %w", err)
	}

	return r.storage.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_metadata (id, data, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		`, string(data), time.Now().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("save sync metadata: %w", err)
		}
		return nil
	})
}
