package queue

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// memRepository is an in-memory Repository honoring the pending ordering
// contract.
type memRepository struct {
	mu    sync.Mutex
	items map[string]*Item
}

func newMemRepository() *memRepository {
	return &memRepository{items: make(map[string]*Item)}
}

func (r *memRepository) Save(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *item
	r.items[item.ID] = &clone
	return nil
}

func (r *memRepository) Get(_ context.Context, id string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (r *memRepository) ListPending(_ context.Context) ([]*Item, error) {
	return r.list(func(i *Item) bool { return i.Status == StatusPending }), nil
}

func (r *memRepository) ListByStatus(_ context.Context, status Status) ([]*Item, error) {
	return r.list(func(i *Item) bool { return i.Status == status }), nil
}

func (r *memRepository) List(_ context.Context) ([]*Item, error) {
	return r.list(func(*Item) bool { return true }), nil
}

func (r *memRepository) list(keep func(*Item) bool) []*Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Item
	for _, item := range r.items {
		if keep(item) {
			clone := *item
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority.Rank() != out[b].Priority.Rank() {
			return out[a].Priority.Rank() < out[b].Priority.Rank()
		}
		return out[a].Timestamp.Before(out[b].Timestamp)
	})
	return out
}

func (r *memRepository) Update(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return ErrNotFound
	}
	clone := *item
	r.items[item.ID] = &clone
	return nil
}

func (r *memRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *memRepository) CountByStatus(_ context.Context) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Status]int)
	for _, item := range r.items {
		counts[item.Status]++
	}
	return counts, nil
}

// MockSender is a mock implementation of the Sender interface for testing
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Replay(ctx context.Context, item *Item) (int, error) {
	args := m.Called(ctx, item)
	return args.Int(0), args.Error(1)
}

// recordingSender captures replay order.
type recordingSender struct {
	mu     sync.Mutex
	order  []string
	status func(item *Item) (int, error)
}

func (s *recordingSender) Replay(_ context.Context, item *Item) (int, error) {
	s.mu.Lock()
	s.order = append(s.order, item.ID)
	s.mu.Unlock()
	if s.status != nil {
		return s.status(item)
	}
	return http.StatusOK, nil
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   Priority
	}{
		{http.MethodPost, "/api/sales", PriorityHigh},
		{http.MethodPost, "/api/sales/123/lines", PriorityHigh},
		{http.MethodPost, "/api/tickets", PriorityHigh},
		{http.MethodDelete, "/api/products/9", PriorityHigh},
		{http.MethodPost, "/api/products", PriorityNormal},
		{http.MethodPut, "/api/customers/1", PriorityNormal},
		{http.MethodPatch, "/api/suppliers/2", PriorityNormal},
		{http.MethodGet, "/api/products", PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPriority(tt.method, tt.path))
		})
	}
}

func TestService_Enqueue(t *testing.T) {
	repo := newMemRepository()
	service := NewService(repo, &recordingSender{}, slog.Default())

	item, err := service.Enqueue(context.Background(), EnqueueRequest{
		URL:        "/api/sales",
		Method:     http.MethodPost,
		Body:       []byte(`{"total":12.5}`),
		EntityType: "sales",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, PriorityHigh, item.Priority)
	assert.Equal(t, StatusPending, item.Status)
	assert.Zero(t, item.Retries)

	stored, err := repo.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.URL, stored.URL)
}

func TestService_Drain_Order(t *testing.T) {
	repo := newMemRepository()
	sender := &recordingSender{}
	service := NewService(repo, sender, slog.Default())
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	seed := []*Item{
		{ID: "low-1", Method: http.MethodGet, URL: "/api/products", Priority: PriorityLow, Status: StatusPending, Timestamp: base},
		{ID: "high-1", Method: http.MethodPost, URL: "/api/sales", Priority: PriorityHigh, Status: StatusPending, Timestamp: base.Add(time.Second)},
		{ID: "normal-1", Method: http.MethodPost, URL: "/api/products", Priority: PriorityNormal, Status: StatusPending, Timestamp: base.Add(2 * time.Second)},
		{ID: "high-2", Method: http.MethodPost, URL: "/api/sales", Priority: PriorityHigh, Status: StatusPending, Timestamp: base.Add(3 * time.Second)},
	}
	for _, item := range seed {
		require.NoError(t, repo.Save(ctx, item))
	}

	result, err := service.Drain(ctx)
	require.NoError(t, err)

	// high priority first, oldest first within a priority
	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "low-1"}, sender.order)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 4, result.Replayed)

	items, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items, "replayed items must be removed")
}

func TestService_Drain_RetryBudget(t *testing.T) {
	repo := newMemRepository()
	sender := &recordingSender{
		status: func(*Item) (int, error) {
			return 0, errors.New("connection refused")
		},
	}
	service := NewService(repo, sender, slog.Default())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Item{
		ID: "sale-1", Method: http.MethodPost, URL: "/api/sales",
		Priority: PriorityHigh, Status: StatusPending, Timestamp: time.Now(),
	}))

	// attempts 1 and 2 requeue the item
	for i := 1; i <= 2; i++ {
		result, err := service.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Requeued)

		item, err := repo.Get(ctx, "sale-1")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, item.Status)
		assert.Equal(t, i, item.Retries)
	}

	// attempt 3 exhausts the budget
	result, err := service.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	item, err := repo.Get(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, item.Status)
	assert.Equal(t, 3, item.Retries)

	// a terminal item never drains again
	attempts := len(sender.order)
	_, err = service.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, sender.order, attempts)
}

func TestService_Drain_HTTPErrorSpendsBudget(t *testing.T) {
	repo := newMemRepository()
	sender := &recordingSender{
		status: func(*Item) (int, error) {
			return http.StatusBadRequest, nil
		},
	}
	service := NewService(repo, sender, slog.Default())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Item{
		ID: "bad-1", Method: http.MethodPost, URL: "/api/products",
		Priority: PriorityNormal, Status: StatusPending, Timestamp: time.Now(),
	}))

	result, err := service.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requeued)

	item, err := repo.Get(ctx, "bad-1")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Retries)
}

func TestService_Retry(t *testing.T) {
	repo := newMemRepository()
	service := NewService(repo, &recordingSender{}, slog.Default())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Item{
		ID: "failed-1", Method: http.MethodPost, URL: "/api/sales",
		Priority: PriorityHigh, Status: StatusFailed, Retries: 3, Timestamp: time.Now(),
	}))
	require.NoError(t, repo.Save(ctx, &Item{
		ID: "pending-1", Method: http.MethodPost, URL: "/api/sales",
		Priority: PriorityHigh, Status: StatusPending, Timestamp: time.Now(),
	}))

	err := service.Retry(ctx, "failed-1")
	require.NoError(t, err)

	item, err := repo.Get(ctx, "failed-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Zero(t, item.Retries, "retry resets the budget")

	assert.ErrorIs(t, service.Retry(ctx, "pending-1"), ErrNotRetrying)
	assert.ErrorIs(t, service.Retry(ctx, "missing"), ErrNotFound)
}

func TestService_Drain_StoreUnreadable(t *testing.T) {
	mockSender := new(MockSender)
	service := NewService(failingRepo{}, mockSender, slog.Default())

	result, err := service.Drain(context.Background())
	require.NoError(t, err, "unreadable store degrades to a no-op drain")
	assert.Zero(t, result.Processed)
	mockSender.AssertNotCalled(t, "Replay", mock.Anything, mock.Anything)
}

type failingRepo struct{}

func (failingRepo) Save(context.Context, *Item) error          { return errors.New("disk full") }
func (failingRepo) Get(context.Context, string) (*Item, error) { return nil, errors.New("disk full") }
func (failingRepo) ListPending(context.Context) ([]*Item, error) {
	return nil, errors.New("disk full")
}
func (failingRepo) ListByStatus(context.Context, Status) ([]*Item, error) {
	return nil, errors.New("disk full")
}
func (failingRepo) List(context.Context) ([]*Item, error) { return nil, errors.New("disk full") }
func (failingRepo) Update(context.Context, *Item) error   { return errors.New("disk full") }
func (failingRepo) Delete(context.Context, string) error  { return errors.New("disk full") }
func (failingRepo) CountByStatus(context.Context) (map[Status]int, error) {
	return nil, errors.New("disk full")
}
