package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/entity"
	"possync/internal/domain/mirror"
)

// mirror tables, one per entity type
var mirrorTables = []string{
	"products", "categories", "customers", "suppliers", "store_config", "ticket_config",
}

func tableFor(t entity.Type) (string, error) {
	switch t {
	case entity.TypeProduct:
		return "products", nil
	case entity.TypeCategory:
		return "categories", nil
	case entity.TypeCustomer:
		return "customers", nil
	case entity.TypeSupplier:
		return "suppliers", nil
	case entity.TypeStoreConfig:
		return "store_config", nil
	case entity.TypeTicketConfig:
		return "ticket_config", nil
	}
	return "", fmt.Errorf("%w: %s", entity.ErrUnknownType, t)
}

// MirrorRepository implements mirror.Repository on the embedded database.
type MirrorRepository struct {
	storage *Storage
	log     *slog.Logger
}

func NewMirrorRepository(storage *Storage, log *slog.Logger) *MirrorRepository {
	return &MirrorRepository{storage: storage, log: log}
}

const mirrorColumns = "id, data, updated_at, last_synced_at, local_modified_at, last_synced_stock"

func (r *MirrorRepository) Get(ctx context.Context, t entity.Type, id string) (*mirror.Record, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	row := r.storage.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", mirrorColumns, table), id)

	rec, err := scanMirrorRecord(t, row)
	if err == sql.ErrNoRows {
		return nil, mirror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mirror record: %w", err)
	}
	return rec, nil
}

func (r *MirrorRepository) List(ctx context.Context, t entity.Type) ([]*mirror.Record, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	rows, err := r.storage.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY id", mirrorColumns, table))
	if err != nil {
		return nil, fmt.Errorf("list mirror records: %w", err)
	}
	defer rows.Close()

	return collectMirrorRecords(t, rows)
}

func (r *MirrorRepository) ListLocallyModified(ctx context.Context, t entity.Type, limit int) ([]*mirror.Record, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE local_modified_at IS NOT NULL ORDER BY local_modified_at ASC",
		mirrorColumns, table)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.storage.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list locally modified: %w", err)
	}
	defer rows.Close()

	return collectMirrorRecords(t, rows)
}

func (r *MirrorRepository) Upsert(ctx context.Context, rec *mirror.Record) error {
	table, err := tableFor(rec.EntityType)
	if err != nil {
		return err
	}

	return r.storage.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, data, updated_at, last_synced_at, local_modified_at, last_synced_stock)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at,
				last_synced_at = excluded.last_synced_at,
				local_modified_at = excluded.local_modified_at,
				last_synced_stock = excluded.last_synced_stock
		`, table),
			rec.ID,
			string(rec.Data),
			rec.UpdatedAt.Format(time.RFC3339Nano),
			nullableTime(rec.LastSyncedAt),
			nullableTime(rec.LocalModifiedAt),
			nullableInt(rec.LastSyncedStock),
		)
		if err != nil {
			return fmt.Errorf("upsert mirror record: %w", err)
		}
		return nil
	})
}

func (r *MirrorRepository) ClearLocalFlag(ctx context.Context, t entity.Type, ids []string, syncedAt time.Time) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := []any{syncedAt.Format(time.RFC3339Nano)}
	for _, id := range ids {
		args = append(args, id)
	}

	return r.storage.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET local_modified_at = NULL, last_synced_at = ? WHERE id IN (%s)",
			table, placeholders), args...)
		if err != nil {
			return fmt.Errorf("clear local flag: %w", err)
		}
		return nil
	})
}

func (r *MirrorRepository) Delete(ctx context.Context, t entity.Type, id string) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	_, err = r.storage.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete mirror record: %w", err)
	}
	return nil
}

func (r *MirrorRepository) Count(ctx context.Context, t entity.Type) (int, error) {
	table, err := tableFor(t)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.storage.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mirror records: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMirrorRecord(t entity.Type, row rowScanner) (*mirror.Record, error) {
	var rec mirror.Record
	var data string
	var updatedAt string
	var lastSyncedAt, localModifiedAt sql.NullString
	var lastSyncedStock sql.NullInt64

	if err := row.Scan(&rec.ID, &data, &updatedAt, &lastSyncedAt, &localModifiedAt, &lastSyncedStock); err != nil {
		return nil, err
	}

	rec.EntityType = t
	rec.Data = json.RawMessage(data)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	rec.LastSyncedAt = parseNullableTime(lastSyncedAt)
	rec.LocalModifiedAt = parseNullableTime(localModifiedAt)
	if lastSyncedStock.Valid {
		stock := int(lastSyncedStock.Int64)
		rec.LastSyncedStock = &stock
	}
	return &rec, nil
}

func collectMirrorRecords(t entity.Type, rows *sql.Rows) ([]*mirror.Record, error) {
	var records []*mirror.Record
	for rows.Next() {
		rec, err := scanMirrorRecord(t, rows)
		if err != nil {
			return nil, fmt.Errorf("scan mirror record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullableTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
