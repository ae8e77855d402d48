package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/domain/conflict"
	"possync/internal/domain/entity"
	"possync/internal/domain/mirror"
	"possync/internal/domain/queue"
)

// --- in-memory fakes ---

type memMirrorRepo struct {
	mu      sync.Mutex
	records map[entity.Type]map[string]*mirror.Record
}

func newMemMirrorRepo() *memMirrorRepo {
	return &memMirrorRepo{records: make(map[entity.Type]map[string]*mirror.Record)}
}

func (r *memMirrorRepo) table(t entity.Type) map[string]*mirror.Record {
	if r.records[t] == nil {
		r.records[t] = make(map[string]*mirror.Record)
	}
	return r.records[t]
}

func (r *memMirrorRepo) Get(_ context.Context, t entity.Type, id string) (*mirror.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.table(t)[id]
	if !ok {
		return nil, mirror.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *memMirrorRepo) List(_ context.Context, t entity.Type) ([]*mirror.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mirror.Record
	for _, rec := range r.table(t) {
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}

func (r *memMirrorRepo) ListLocallyModified(_ context.Context, t entity.Type, _ int) ([]*mirror.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mirror.Record
	for _, rec := range r.table(t) {
		if rec.LocalModifiedAt != nil {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memMirrorRepo) Upsert(_ context.Context, rec *mirror.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rec
	r.table(rec.EntityType)[rec.ID] = &clone
	return nil
}

func (r *memMirrorRepo) ClearLocalFlag(_ context.Context, t entity.Type, ids []string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if rec, ok := r.table(t)[id]; ok {
			rec.LocalModifiedAt = nil
			at := syncedAt
			rec.LastSyncedAt = &at
		}
	}
	return nil
}

func (r *memMirrorRepo) Delete(_ context.Context, t entity.Type, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.table(t), id)
	return nil
}

func (r *memMirrorRepo) Count(_ context.Context, t entity.Type) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table(t)), nil
}

type memMetaRepo struct {
	mu   sync.Mutex
	meta *mirror.Metadata
}

func (r *memMetaRepo) GetMetadata(context.Context) (*mirror.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta == nil {
		return mirror.NewMetadata(), nil
	}
	return r.meta, nil
}

func (r *memMetaRepo) SaveMetadata(_ context.Context, meta *mirror.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta = meta
	return nil
}

type memConflictRepo struct {
	mu        sync.Mutex
	conflicts map[string]*conflict.Conflict
}

func newMemConflictRepo() *memConflictRepo {
	return &memConflictRepo{conflicts: make(map[string]*conflict.Conflict)}
}

func (r *memConflictRepo) Save(_ context.Context, c *conflict.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *c
	r.conflicts[c.ID] = &clone
	return nil
}

func (r *memConflictRepo) Get(_ context.Context, id string) (*conflict.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, conflict.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (r *memConflictRepo) ListUnresolved(context.Context) ([]*conflict.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*conflict.Conflict
	for _, c := range r.conflicts {
		if !c.Resolved {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memConflictRepo) MarkResolved(_ context.Context, id, resolution string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok {
		return conflict.ErrNotFound
	}
	c.Resolved = true
	c.Resolution = resolution
	return nil
}

// fakeUpstream serves canned pages per entity type.
type fakeUpstream struct {
	mu        sync.Mutex
	pages     map[entity.Type][]json.RawMessage
	fetchErr  map[entity.Type]error
	pushErr   map[entity.Type]error
	pushed    map[entity.Type][][]json.RawMessage
	fetchWait time.Duration
	fetches   int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		pages:    make(map[entity.Type][]json.RawMessage),
		fetchErr: make(map[entity.Type]error),
		pushErr:  make(map[entity.Type]error),
		pushed:   make(map[entity.Type][][]json.RawMessage),
	}
}

func (u *fakeUpstream) FetchPage(_ context.Context, t entity.Type, page, _ int) ([]json.RawMessage, bool, error) {
	u.mu.Lock()
	u.fetches++
	wait := u.fetchWait
	err := u.fetchErr[t]
	records := u.pages[t]
	u.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	if err != nil {
		return nil, false, err
	}
	if page > 1 {
		return nil, false, nil
	}
	return records, false, nil
}

func (u *fakeUpstream) Push(_ context.Context, t entity.Type, records []json.RawMessage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.pushErr[t]; err != nil {
		return err
	}
	u.pushed[t] = append(u.pushed[t], records)
	return nil
}

func newTestService(t *testing.T, up Upstream, conflicts ConflictRepository) (*Service, *memMirrorRepo) {
	t.Helper()
	log := slog.Default()

	mirrorRepo := newMemMirrorRepo()
	mirrorSvc := mirror.NewService(mirrorRepo, &memMetaRepo{}, log)
	queueSvc := queue.NewService(emptyQueueRepo{}, nil, log)

	svc := NewService(mirrorSvc, queueSvc, up, conflicts, nil, log, DefaultConfig())
	return svc, mirrorRepo
}

type emptyQueueRepo struct{}

func (emptyQueueRepo) Save(context.Context, *queue.Item) error            { return nil }
func (emptyQueueRepo) Get(context.Context, string) (*queue.Item, error)   { return nil, queue.ErrNotFound }
func (emptyQueueRepo) ListPending(context.Context) ([]*queue.Item, error) { return nil, nil }
func (emptyQueueRepo) ListByStatus(context.Context, queue.Status) ([]*queue.Item, error) {
	return nil, nil
}
func (emptyQueueRepo) List(context.Context) ([]*queue.Item, error) { return nil, nil }
func (emptyQueueRepo) Update(context.Context, *queue.Item) error   { return nil }
func (emptyQueueRepo) Delete(context.Context, string) error        { return nil }
func (emptyQueueRepo) CountByStatus(context.Context) (map[queue.Status]int, error) {
	return map[queue.Status]int{}, nil
}

func productJSON(id string, stock int, updatedAt time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"name":"Coffee","stock":%d,"updatedAt":%q}`,
		id, stock, updatedAt.Format(time.RFC3339)))
}

// --- tests ---

func TestService_SyncAll_PullsServerRecords(t *testing.T) {
	up := newFakeUpstream()
	now := time.Now().UTC().Truncate(time.Second)
	up.pages[entity.TypeProduct] = []json.RawMessage{
		productJSON("p1", 10, now),
		productJSON("p2", 5, now),
	}
	up.pages[entity.TypeCategory] = []json.RawMessage{
		json.RawMessage(fmt.Sprintf(`{"id":"c1","name":"Drinks","updatedAt":%q}`, now.Format(time.RFC3339))),
	}

	svc, mirrorRepo := newTestService(t, up, newMemConflictRepo())

	result, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Synced[entity.TypeProduct])
	assert.Equal(t, 1, result.Synced[entity.TypeCategory])

	rec, err := mirrorRepo.Get(context.Background(), entity.TypeProduct, "p1")
	require.NoError(t, err)
	assert.NotNil(t, rec.LastSyncedAt, "pulled records get a sync baseline")
	require.NotNil(t, rec.LastSyncedStock)
	assert.Equal(t, 10, *rec.LastSyncedStock)
}

func TestService_SyncAll_SingleFlight(t *testing.T) {
	up := newFakeUpstream()
	up.fetchWait = 20 * time.Millisecond
	svc, _ := newTestService(t, up, newMemConflictRepo())

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.SyncAll(context.Background())
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Same(t, results[0], results[1], "concurrent callers share one run")
}

func TestService_SyncAll_PushesLocalEdits(t *testing.T) {
	up := newFakeUpstream()
	svc, mirrorRepo := newTestService(t, up, newMemConflictRepo())
	ctx := context.Background()

	editedAt := time.Now().UTC()
	require.NoError(t, mirrorRepo.Upsert(ctx, &mirror.Record{
		EntityType:      entity.TypeProduct,
		ID:              "p1",
		Data:            productJSON("p1", 4, editedAt),
		UpdatedAt:       editedAt,
		LocalModifiedAt: &editedAt,
	}))

	result, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	require.Len(t, up.pushed[entity.TypeProduct], 1)

	rec, err := mirrorRepo.Get(ctx, entity.TypeProduct, "p1")
	require.NoError(t, err)
	assert.Nil(t, rec.LocalModifiedAt, "confirmed push clears the local flag")
}

func TestService_SyncAll_PushUnsupportedSkippedSilently(t *testing.T) {
	up := newFakeUpstream()
	up.pushErr[entity.TypeProduct] = ErrPushUnsupported
	svc, mirrorRepo := newTestService(t, up, newMemConflictRepo())
	ctx := context.Background()

	editedAt := time.Now().UTC()
	require.NoError(t, mirrorRepo.Upsert(ctx, &mirror.Record{
		EntityType:      entity.TypeProduct,
		ID:              "p1",
		Data:            productJSON("p1", 4, editedAt),
		UpdatedAt:       editedAt,
		LocalModifiedAt: &editedAt,
	}))

	result, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success, "missing push endpoint is not an error")
	assert.Zero(t, result.Pushed)

	rec, err := mirrorRepo.Get(ctx, entity.TypeProduct, "p1")
	require.NoError(t, err)
	assert.NotNil(t, rec.LocalModifiedAt, "unpushed edit stays flagged")
}

func TestService_SyncAll_BudgetExhaustedSkipsEachTypeOnce(t *testing.T) {
	up := newFakeUpstream()
	log := slog.Default()
	mirrorSvc := mirror.NewService(newMemMirrorRepo(), &memMetaRepo{}, log)
	queueSvc := queue.NewService(emptyQueueRepo{}, nil, log)

	cfg := DefaultConfig()
	cfg.AttemptBudget = -time.Second // deadline already past at start
	svc := NewService(mirrorSvc, queueSvc, up, newMemConflictRepo(), nil, log, cfg)

	result, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, entity.PullOrder(), result.Skipped)
	assert.Zero(t, up.fetches, "no pulls once the budget is gone")
}

func TestService_SyncAll_ConfigPullOverwritesLocalEdit(t *testing.T) {
	up := newFakeUpstream()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	serverAt := base.Add(2 * time.Hour)
	serverData := json.RawMessage(fmt.Sprintf(
		`{"id":"store","name":"Server Store","updatedAt":%q}`, serverAt.Format(time.RFC3339)))
	up.pages[entity.TypeStoreConfig] = []json.RawMessage{serverData}
	up.pushErr[entity.TypeStoreConfig] = ErrPushUnsupported

	conflicts := newMemConflictRepo()
	svc, mirrorRepo := newTestService(t, up, conflicts)
	ctx := context.Background()

	localAt := base.Add(time.Hour)
	require.NoError(t, mirrorRepo.Upsert(ctx, &mirror.Record{
		EntityType:      entity.TypeStoreConfig,
		ID:              "store",
		Data:            json.RawMessage(fmt.Sprintf(`{"id":"store","name":"Local Store","updatedAt":%q}`, localAt.Format(time.RFC3339))),
		UpdatedAt:       localAt,
		LastSyncedAt:    &base,
		LocalModifiedAt: &localAt,
	}))

	result, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts, "config singletons are server-authoritative")
	assert.Equal(t, 1, result.Synced[entity.TypeStoreConfig])

	rec, err := mirrorRepo.Get(ctx, entity.TypeStoreConfig, "store")
	require.NoError(t, err)
	assert.JSONEq(t, string(serverData), string(rec.Data))
	assert.Nil(t, rec.LocalModifiedAt)
}

func TestService_SyncAll_EntityIsolation(t *testing.T) {
	up := newFakeUpstream()
	now := time.Now().UTC()
	up.fetchErr[entity.TypeCategory] = errors.New("500 internal server error")
	up.pages[entity.TypeProduct] = []json.RawMessage{productJSON("p1", 10, now)}

	svc, _ := newTestService(t, up, newMemConflictRepo())

	result, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Synced[entity.TypeProduct], "one failing entity does not abort the rest")
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, entity.TypeCategory, result.Errors[0].Entity)
}

func TestService_SyncAll_StockConflictMerges(t *testing.T) {
	up := newFakeUpstream()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	serverAt := base.Add(2 * time.Hour)
	up.pages[entity.TypeProduct] = []json.RawMessage{productJSON("p1", 13, serverAt)}

	conflicts := newMemConflictRepo()
	svc, mirrorRepo := newTestService(t, up, conflicts)
	ctx := context.Background()

	localAt := base.Add(time.Hour)
	baselineStock := 10
	require.NoError(t, mirrorRepo.Upsert(ctx, &mirror.Record{
		EntityType:      entity.TypeProduct,
		ID:              "p1",
		Data:            productJSON("p1", 8, localAt),
		UpdatedAt:       localAt,
		LastSyncedAt:    &base,
		LocalModifiedAt: &localAt,
		LastSyncedStock: &baselineStock,
	}))

	result, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Zero(t, result.Manual)

	rec, err := mirrorRepo.Get(ctx, entity.TypeProduct, "p1")
	require.NoError(t, err)
	// local sold 2 while the server received 3: 10 - 2 + 3
	require.NotNil(t, rec.LastSyncedStock)
	assert.Equal(t, 11, *rec.LastSyncedStock)

	var merged map[string]any
	require.NoError(t, json.Unmarshal(rec.Data, &merged))
	assert.Equal(t, float64(11), merged["stock"])
}

func TestService_SyncAll_ManualConflictKeepsLocal(t *testing.T) {
	up := newFakeUpstream()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	serverAt := base.Add(2 * time.Hour)
	up.pages[entity.TypeProduct] = []json.RawMessage{
		json.RawMessage(fmt.Sprintf(
			`{"id":"p1","name":"Espresso","stock":13,"updatedAt":%q}`,
			serverAt.Format(time.RFC3339))),
	}

	conflicts := newMemConflictRepo()
	svc, mirrorRepo := newTestService(t, up, conflicts)
	ctx := context.Background()

	localAt := base.Add(time.Hour)
	localData := json.RawMessage(fmt.Sprintf(
		`{"id":"p1","name":"Coffee","stock":8,"updatedAt":%q}`, localAt.Format(time.RFC3339)))
	require.NoError(t, mirrorRepo.Upsert(ctx, &mirror.Record{
		EntityType:      entity.TypeProduct,
		ID:              "p1",
		Data:            localData,
		UpdatedAt:       localAt,
		LastSyncedAt:    &base,
		LocalModifiedAt: &localAt,
	}))

	result, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Manual)

	rec, err := mirrorRepo.Get(ctx, entity.TypeProduct, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, string(localData), string(rec.Data), "local edit stays until a human decides")

	pending, err := conflicts.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, conflict.StrategyManual, pending[0].Strategy)
}

func TestService_ResolveManual(t *testing.T) {
	up := newFakeUpstream()
	conflicts := newMemConflictRepo()
	svc, mirrorRepo := newTestService(t, up, conflicts)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	localAt := base.Add(time.Hour)
	serverAt := base.Add(2 * time.Hour)
	localData := productJSON("p1", 8, localAt)
	serverData := productJSON("p1", 13, serverAt)

	c := conflict.New(entity.TypeProduct, "p1", localData, serverData, localAt, serverAt)
	c.Strategy = conflict.StrategyManual
	require.NoError(t, conflicts.Save(ctx, c))

	require.NoError(t, mirrorRepo.Upsert(ctx, &mirror.Record{
		EntityType:      entity.TypeProduct,
		ID:              "p1",
		Data:            localData,
		UpdatedAt:       localAt,
		LocalModifiedAt: &localAt,
	}))

	require.NoError(t, svc.ResolveManual(ctx, c.ID, "server"))

	rec, err := mirrorRepo.Get(ctx, entity.TypeProduct, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, string(serverData), string(rec.Data))
	assert.Nil(t, rec.LocalModifiedAt)

	stored, err := conflicts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Resolved)
	assert.Equal(t, "server", stored.Resolution)

	// resolving twice fails
	assert.Error(t, svc.ResolveManual(ctx, c.ID, "server"))
	// unknown choice fails
	c2 := conflict.New(entity.TypeProduct, "p2", localData, serverData, localAt, serverAt)
	require.NoError(t, conflicts.Save(ctx, c2))
	assert.Error(t, svc.ResolveManual(ctx, c2.ID, "coin-flip"))
}
