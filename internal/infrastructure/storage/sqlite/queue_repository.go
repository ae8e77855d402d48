package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/queue"
)

// QueueRepository implements queue.Repository on the requests table.
type QueueRepository struct {
	storage *Storage
	log     *slog.Logger
}

func NewQueueRepository(storage *Storage, log *slog.Logger) *QueueRepository {
	return &QueueRepository{storage: storage, log: log}
}

const queueColumns = "id, url, method, headers, body, timestamp, priority, status, retries, entity_type, entity_id"

func (r *QueueRepository) Save(ctx context.Context, item *queue.Item) error {
	headers, err := json.Marshal(item.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	return r.storage.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO requests (id, url, method, headers, body, timestamp, priority, priority_rank, status, retries, entity_type, entity_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			item.ID, item.URL, item.Method, string(headers), item.Body,
			item.Timestamp.Format(time.RFC3339Nano),
			string(item.Priority), item.Priority.Rank(),
			string(item.Status), item.Retries, item.EntityType, item.EntityID,
		)
		if err != nil {
			return fmt.Errorf("save queue item: %w", err)
		}
		return nil
	})
}

func (r *QueueRepository) Get(ctx context.Context, id string) (*queue.Item, error) {
	row := r.storage.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM requests WHERE id = ?", id)

	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (r *QueueRepository) ListPending(ctx context.Context) ([]*queue.Item, error) {
	rows, err := r.storage.db.QueryContext(ctx,
		"SELECT "+queueColumns+" FROM requests WHERE status = ? ORDER BY priority_rank ASC, timestamp ASC",
		string(queue.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	return collectQueueItems(rows)
}

func (r *QueueRepository) ListByStatus(ctx context.Context, status queue.Status) ([]*queue.Item, error) {
	rows, err := r.storage.db.QueryContext(ctx,
		"SELECT "+queueColumns+" FROM requests WHERE status = ? ORDER BY timestamp ASC",
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return collectQueueItems(rows)
}

func (r *QueueRepository) List(ctx context.Context) ([]*queue.Item, error) {
	rows, err := r.storage.db.QueryContext(ctx,
		"SELECT "+queueColumns+" FROM requests ORDER BY timestamp ASC")
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()
	return collectQueueItems(rows)
}

func (r *QueueRepository) Update(ctx context.Context, item *queue.Item) error {
	return r.storage.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE requests SET status = ?, retries = ? WHERE id = ?",
			string(item.Status), item.Retries, item.ID)
		if err != nil {
			return fmt.Errorf("update queue item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err == nil && affected == 0 {
			return queue.ErrNotFound
		}
		return nil
	})
}

func (r *QueueRepository) Delete(ctx context.Context, id string) error {
	_, err := r.storage.db.ExecContext(ctx, "DELETE FROM requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := r.storage.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM requests GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		counts[queue.Status(status)] = count
	}
	return counts, rows.Err()
}

func scanQueueItem(row rowScanner) (*queue.Item, error) {
	var item queue.Item
	var headers, timestamp, priority, status string
	var body []byte

	if err := row.Scan(&item.ID, &item.URL, &item.Method, &headers, &body,
		&timestamp, &priority, &status, &item.Retries,
		&item.EntityType, &item.EntityID); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(headers), &item.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	item.Body = body
	item.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	item.Priority = queue.Priority(priority)
	item.Status = queue.Status(status)
	return &item, nil
}

func collectQueueItems(rows *sql.Rows) ([]*queue.Item, error) {
	var items []*queue.Item
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
