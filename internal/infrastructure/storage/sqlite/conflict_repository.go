package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/conflict"
	"possync/internal/domain/entity"
)

// ConflictRepository persists sync conflicts in sqlite. Manual conflicts
// stay until a resolve operation marks them.
type ConflictRepository struct {
	storage *Storage
	log     *slog.Logger
}

func NewConflictRepository(storage *Storage, log *slog.Logger) *ConflictRepository {
	return &ConflictRepository{storage: storage, log: log}
}

const conflictColumns = `id, entity_type, entity_id, local, server,
	local_modified_at, server_modified_at, strategy, resolved, resolution, created_at`

func (r *ConflictRepository) Save(ctx context.Context, c *conflict.Conflict) error {
	return r.storage.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conflicts (`+conflictColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				local = excluded.local,
				server = excluded.server,
				local_modified_at = excluded.local_modified_at,
				server_modified_at = excluded.server_modified_at,
				strategy = excluded.strategy,
				resolved = excluded.resolved,
				resolution = excluded.resolution
		`,
			c.ID, string(c.EntityType), c.EntityID, string(c.Local), string(c.Server),
			c.LocalModifiedAt.Format(time.RFC3339Nano),
			c.ServerModifiedAt.Format(time.RFC3339Nano),
			string(c.Strategy), c.Resolved, c.Resolution,
			c.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("save conflict %s: %w", c.ID, err)
		}
		return nil
	})
}

func (r *ConflictRepository) Get(ctx context.Context, id string) (*conflict.Conflict, error) {
	row := r.storage.db.QueryRowContext(ctx,
		"SELECT "+conflictColumns+" FROM conflicts WHERE id = ?", id)

	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, conflict.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict %s: %w", id, err)
	}
	return c, nil
}

func (r *ConflictRepository) ListUnresolved(ctx context.Context) ([]*conflict.Conflict, error) {
	rows, err := r.storage.db.QueryContext(ctx,
		"SELECT "+conflictColumns+" FROM conflicts WHERE resolved = 0 ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*conflict.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}
	return conflicts, nil
}

func (r *ConflictRepository) MarkResolved(ctx context.Context, id, resolution string) error {
	res, err := r.storage.db.ExecContext(ctx,
		"UPDATE conflicts SET resolved = 1, resolution = ? WHERE id = ?", resolution, id)
	if err != nil {
		return fmt.Errorf("mark conflict %s resolved: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark conflict %s resolved: %w", id, err)
	}
	if affected == 0 {
		return conflict.ErrNotFound
	}
	return nil
}

func scanConflict(row rowScanner) (*conflict.Conflict, error) {
	var (
		out              conflict.Conflict
		typ              string
		local, server    string
		localMod, svrMod string
		strategy         string
		created          string
	)
	err := row.Scan(&out.ID, &typ, &out.EntityID, &local, &server,
		&localMod, &svrMod, &strategy, &out.Resolved, &out.Resolution, &created)
	if err != nil {
		return nil, err
	}

	out.EntityType = entity.Type(typ)
	out.Local = []byte(local)
	out.Server = []byte(server)
	out.Strategy = conflict.Strategy(strategy)
	if out.LocalModifiedAt, err = time.Parse(time.RFC3339Nano, localMod); err != nil {
		return nil, fmt.Errorf("parse local_modified_at: %w", err)
	}
	if out.ServerModifiedAt, err = time.Parse(time.RFC3339Nano, svrMod); err != nil {
		return nil, fmt.Errorf("parse server_modified_at: %w", err)
	}
	if out.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &out, nil
}
