package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/app/agent/gateway"
	"possync/internal/domain/conflict"
	"possync/internal/domain/entity"
	"possync/internal/domain/mirror"
	"possync/internal/domain/queue"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "possync_test.db")
	storage, err := New(path, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	require.NoError(t, storage.Bootstrap(context.Background()))
	return storage
}

func TestBootstrap_Idempotent(t *testing.T) {
	storage := newTestStorage(t)
	assert.NoError(t, storage.Bootstrap(context.Background()))
}

func TestMirrorRepository_Roundtrip(t *testing.T) {
	storage := newTestStorage(t)
	repo := NewMirrorRepository(storage, slog.Default())
	ctx := context.Background()

	updatedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	syncedAt := updatedAt.Add(time.Minute)
	stock := 10

	rec := &mirror.Record{
		EntityType:      entity.TypeProduct,
		ID:              "p1",
		Data:            []byte(`{"id":"p1","name":"Coffee","stock":10}`),
		UpdatedAt:       updatedAt,
		LastSyncedAt:    &syncedAt,
		LastSyncedStock: &stock,
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.Get(ctx, entity.TypeProduct, "p1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.JSONEq(t, string(rec.Data), string(got.Data))
	assert.True(t, got.UpdatedAt.Equal(updatedAt))
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(syncedAt))
	require.NotNil(t, got.LastSyncedStock)
	assert.Equal(t, 10, *got.LastSyncedStock)
	assert.Nil(t, got.LocalModifiedAt)

	// upsert replaces in place
	rec.Data = []byte(`{"id":"p1","name":"Coffee","stock":7}`)
	require.NoError(t, repo.Upsert(ctx, rec))
	count, err := repo.Count(ctx, entity.TypeProduct)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.Get(ctx, entity.TypeProduct, "missing")
	assert.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestMirrorRepository_LocallyModified(t *testing.T) {
	storage := newTestStorage(t)
	repo := NewMirrorRepository(storage, slog.Default())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"p1", "p2", "p3"} {
		rec := &mirror.Record{
			EntityType: entity.TypeProduct,
			ID:         id,
			Data:       []byte(`{"id":"` + id + `"}`),
			UpdatedAt:  base,
		}
		if id != "p2" {
			at := base.Add(time.Duration(i) * time.Minute)
			rec.LocalModifiedAt = &at
		}
		require.NoError(t, repo.Upsert(ctx, rec))
	}

	modified, err := repo.ListLocallyModified(ctx, entity.TypeProduct, 0)
	require.NoError(t, err)
	require.Len(t, modified, 2)
	assert.Equal(t, "p1", modified[0].ID, "oldest edit first")
	assert.Equal(t, "p3", modified[1].ID)

	syncedAt := base.Add(time.Hour)
	require.NoError(t, repo.ClearLocalFlag(ctx, entity.TypeProduct, []string{"p1", "p3"}, syncedAt))

	modified, err = repo.ListLocallyModified(ctx, entity.TypeProduct, 0)
	require.NoError(t, err)
	assert.Empty(t, modified)

	got, err := repo.Get(ctx, entity.TypeProduct, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(syncedAt))
}

func TestQueueRepository_PendingOrder(t *testing.T) {
	storage := newTestStorage(t)
	repo := NewQueueRepository(storage, slog.Default())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	seed := []*queue.Item{
		{ID: "low-old", URL: "/api/products", Method: "GET", Priority: queue.PriorityLow, Status: queue.StatusPending, Timestamp: base},
		{ID: "high-new", URL: "/api/sales", Method: "POST", Priority: queue.PriorityHigh, Status: queue.StatusPending, Timestamp: base.Add(3 * time.Second)},
		{ID: "normal", URL: "/api/products", Method: "POST", Priority: queue.PriorityNormal, Status: queue.StatusPending, Timestamp: base.Add(time.Second)},
		{ID: "high-old", URL: "/api/sales", Method: "POST", Priority: queue.PriorityHigh, Status: queue.StatusPending, Timestamp: base.Add(2 * time.Second)},
		{ID: "done", URL: "/api/sales", Method: "POST", Priority: queue.PriorityHigh, Status: queue.StatusFailed, Timestamp: base},
	}
	for _, item := range seed {
		require.NoError(t, repo.Save(ctx, item))
	}

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 4)

	ids := make([]string, 0, len(pending))
	for _, item := range pending {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"high-old", "high-new", "normal", "low-old"}, ids)
}

func TestQueueRepository_UpdateAndCounts(t *testing.T) {
	storage := newTestStorage(t)
	repo := NewQueueRepository(storage, slog.Default())
	ctx := context.Background()

	item := &queue.Item{
		ID:        "q1",
		URL:       "/api/sales",
		Method:    "POST",
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      []byte(`{"total":5}`),
		Priority:  queue.PriorityHigh,
		Status:    queue.StatusPending,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, item))

	got, err := repo.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, item.Headers, got.Headers)
	assert.Equal(t, item.Body, got.Body)

	got.Status = queue.StatusFailed
	got.Retries = 3
	require.NoError(t, repo.Update(ctx, got))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[queue.StatusFailed])
	assert.Zero(t, counts[queue.StatusPending])

	assert.ErrorIs(t, repo.Update(ctx, &queue.Item{ID: "missing", Status: queue.StatusPending}), queue.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "q1"))
	_, err = repo.Get(ctx, "q1")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestCacheRepository(t *testing.T) {
	storage := newTestStorage(t)
	repo := NewCacheRepository(storage, slog.Default())
	ctx := context.Background()

	resp := &gateway.CachedResponse{
		StatusCode:  200,
		Headers:     map[string]string{"Content-Type": "text/html"},
		Body:        []byte("<html>dashboard</html>"),
		StoredAt:    time.Now().UTC(),
		ContentType: "text/html",
	}
	require.NoError(t, repo.Put(ctx, "pos-cache-v3", "/dashboard", resp))

	got, err := repo.Get(ctx, "pos-cache-v3", "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, resp.StatusCode, got.StatusCode)
	assert.Equal(t, resp.Body, got.Body)
	assert.Equal(t, "text/html", got.Headers["Content-Type"])

	_, err = repo.Get(ctx, "pos-cache-v2", "/dashboard")
	assert.ErrorIs(t, err, gateway.ErrCacheMiss)
	_, err = repo.Get(ctx, "pos-cache-v3", "/missing")
	assert.ErrorIs(t, err, gateway.ErrCacheMiss)

	// a second generation coexists until evicted
	require.NoError(t, repo.Put(ctx, "pos-cache-v2", "/dashboard", resp))
	names, err := repo.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pos-cache-v3", "pos-cache-v2"}, names)

	require.NoError(t, repo.DeleteName(ctx, "pos-cache-v2"))
	names, err = repo.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-cache-v3"}, names)
}

func TestConflictRepository(t *testing.T) {
	storage := newTestStorage(t)
	repo := NewConflictRepository(storage, slog.Default())
	ctx := context.Background()

	localAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	serverAt := localAt.Add(time.Hour)
	c := conflict.New(entity.TypeProduct, "p1",
		[]byte(`{"id":"p1","stock":8}`),
		[]byte(`{"id":"p1","stock":13}`),
		localAt, serverAt)
	c.Strategy = conflict.StrategyManual

	require.NoError(t, repo.Save(ctx, c))

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TypeProduct, got.EntityType)
	assert.Equal(t, "p1", got.EntityID)
	assert.JSONEq(t, string(c.Local), string(got.Local))
	assert.True(t, got.LocalModifiedAt.Equal(localAt))
	assert.Equal(t, conflict.StrategyManual, got.Strategy)
	assert.False(t, got.Resolved)

	unresolved, err := repo.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)

	require.NoError(t, repo.MarkResolved(ctx, c.ID, "server"))

	got, err = repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, "server", got.Resolution)

	unresolved, err = repo.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	assert.ErrorIs(t, repo.MarkResolved(ctx, "missing", "server"), conflict.ErrNotFound)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, conflict.ErrNotFound)
}

func TestMetaRepository(t *testing.T) {
	storage := newTestStorage(t)
	repo := NewMetaRepository(storage, slog.Default())
	ctx := context.Background()

	// empty store yields a fresh singleton
	meta, err := repo.GetMetadata(ctx)
	require.NoError(t, err)
	assert.NotNil(t, meta.LastSyncAt)
	assert.Zero(t, meta.Stats.TotalSyncs)

	meta.SyncInProgress = true
	meta.Stats.TotalSyncs = 3
	meta.LastSyncAt[entity.TypeProduct] = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveMetadata(ctx, meta))

	got, err := repo.GetMetadata(ctx)
	require.NoError(t, err)
	assert.True(t, got.SyncInProgress)
	assert.Equal(t, 3, got.Stats.TotalSyncs)
	assert.True(t, got.LastSyncAt[entity.TypeProduct].Equal(meta.LastSyncAt[entity.TypeProduct]))

	// the singleton row is replaced, not appended
	meta.Stats.TotalSyncs = 4
	require.NoError(t, repo.SaveMetadata(ctx, meta))
	got, err = repo.GetMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stats.TotalSyncs)
}
