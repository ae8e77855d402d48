package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/app/agent/gateway"
)

// CacheRepository implements gateway.CacheRepository on the http_cache
// table, namespaced by cache generation name.
type CacheRepository struct {
	storage *Storage
	log     *slog.Logger
}

func NewCacheRepository(storage *Storage, log *slog.Logger) *CacheRepository {
	return &CacheRepository{storage: storage, log: log}
}

func (r *CacheRepository) Get(ctx context.Context, cacheName, url string) (*gateway.CachedResponse, error) {
	row := r.storage.db.QueryRowContext(ctx, `
		SELECT status_code, headers, content_type, body, stored_at
		FROM http_cache WHERE cache_name = ? AND url = ?
	`, cacheName, url)

	var resp gateway.CachedResponse
	var headers, storedAt string
	err := row.Scan(&resp.StatusCode, &headers, &resp.ContentType, &resp.Body, &storedAt)
	if err == sql.ErrNoRows {
		return nil, gateway.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached response: %w", err)
	}

	if err := json.Unmarshal([]byte(headers), &resp.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal cached headers: %w", err)
	}
	resp.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
	return &resp, nil
}

func (r *CacheRepository) Put(ctx context.Context, cacheName, url string, resp *gateway.CachedResponse) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("marshal cached headers: %w", err)
	}

	return r.storage.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO http_cache (cache_name, url, status_code, headers, content_type, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(cache_name, url) DO UPDATE SET
				status_code = excluded.status_code,
				headers = excluded.headers,
				content_type = excluded.content_type,
				body = excluded.body,
				stored_at = excluded.stored_at
		`, cacheName, url, resp.StatusCode, string(headers), resp.ContentType,
			resp.Body, resp.StoredAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("put cached response: %w", err)
		}
		return nil
	})
}

func (r *CacheRepository) Names(ctx context.Context) ([]string, error) {
	rows, err := r.storage.db.QueryContext(ctx,
		"SELECT DISTINCT cache_name FROM http_cache")
	if err != nil {
		return nil, fmt.Errorf("list cache names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *CacheRepository) DeleteName(ctx context.Context, cacheName string) error {
	_, err := r.storage.db.ExecContext(ctx,
		"DELETE FROM http_cache WHERE cache_name = ?", cacheName)
	if err != nil {
		return fmt.Errorf("delete cache generation: %w", err)
	}
	return nil
}
