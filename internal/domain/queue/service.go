package queue

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/exp/slog"
)

// DefaultMaxRetries is the per-item retry budget; the item turns terminal
// failed once reached.
const DefaultMaxRetries = 3

// Sender replays a queued request against its original URL and reports the
// HTTP status. Transport errors return err; HTTP error responses return the
// status with a nil error.
type Sender interface {
	Replay(ctx context.Context, item *Item) (int, error)
}

// Service owns the offline mutation queue: classification, enqueueing and
// the sequential drain loop.
type Service struct {
	repo       Repository
	sender     Sender
	log        *slog.Logger
	maxRetries int
	now        func() time.Time
}

func NewService(repo Repository, sender Sender, log *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		sender:     sender,
		log:        log,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
}

var salesPathPrefixes = []string{
	"/api/sales",
	"/api/tickets",
}

// ClassifyPriority assigns a drain priority from the request shape: the
// sales path and deletes are high, other mutations normal, the rest low.
func ClassifyPriority(method, path string) Priority {
	for _, prefix := range salesPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return PriorityHigh
		}
	}
	if method == http.MethodDelete {
		return PriorityHigh
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return PriorityNormal
	}
	return PriorityLow
}

// EnqueueRequest captures a failed write for later replay.
type EnqueueRequest struct {
	URL        string
	Method     string
	Headers    map[string]string
	Body       []byte
	EntityType string
	EntityID   string
}

// Enqueue persists the request as a pending item and returns it so the
// caller can acknowledge immediately with the assigned priority.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*Item, error) {
	ts := s.now()
	item := &Item{
		ID:         newItemID(ts),
		URL:        req.URL,
		Method:     req.Method,
		Headers:    req.Headers,
		Body:       req.Body,
		Timestamp:  ts,
		Priority:   ClassifyPriority(req.Method, requestPath(req.URL)),
		Status:     StatusPending,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
	}

	if err := s.repo.Save(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", req.Method, req.URL, err)
	}

	s.log.Info("request queued for replay",
		"id", item.ID,
		"method", item.Method,
		"url", item.URL,
		"priority", item.Priority,
	)
	return item, nil
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed int `json:"processed"`
	Replayed  int `json:"replayed"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
}

// Drain replays pending items strictly sequentially, high priority and
// oldest first, so writes to the same entity never reorder. Success deletes
// the item; failure counts against the retry budget and terminal items are
// marked failed.
func (s *Service) Drain(ctx context.Context) (*DrainResult, error) {
	items, err := s.repo.ListPending(ctx)
	if err != nil {
		s.log.Warn("queue drain skipped, store unreadable", "error", err)
		return &DrainResult{}, nil
	}

	result := &DrainResult{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		item.Status = StatusProcessing
		if err := s.repo.Update(ctx, item); err != nil {
			s.log.Warn("queue item status update failed", "id", item.ID, "error", err)
			continue
		}

		status, err := s.sender.Replay(ctx, item)
		if err == nil && status >= 200 && status < 300 {
			if err := s.repo.Delete(ctx, item.ID); err != nil {
				s.log.Warn("queue item delete failed", "id", item.ID, "error", err)
			}
			result.Replayed++
			continue
		}

		// transport failure and HTTP error spend the budget identically
		item.Retries++
		if item.Retries >= s.maxRetries {
			item.Status = StatusFailed
			result.Failed++
			s.log.Error("queue item failed permanently",
				"id", item.ID,
				"method", item.Method,
				"url", item.URL,
				"retries", item.Retries,
			)
		} else {
			item.Status = StatusPending
			result.Requeued++
			s.log.Debug("queue item requeued",
				"id", item.ID,
				"retries", item.Retries,
				"status", status,
				"error", err,
			)
		}
		if err := s.repo.Update(ctx, item); err != nil {
			s.log.Warn("queue item status update failed", "id", item.ID, "error", err)
		}
	}

	if result.Processed > 0 {
		s.log.Info("queue drained",
			"processed", result.Processed,
			"replayed", result.Replayed,
			"requeued", result.Requeued,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// Retry resets a terminally failed item back to pending with a fresh budget.
func (s *Service) Retry(ctx context.Context, id string) error {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != StatusFailed {
		return ErrNotRetrying
	}
	item.Status = StatusPending
	item.Retries = 0
	return s.repo.Update(ctx, item)
}

// PendingCount returns the number of items awaiting replay.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return 0, err
	}
	return counts[StatusPending], nil
}

// Items lists all queue items for inspection.
func (s *Service) Items(ctx context.Context) ([]*Item, error) {
	return s.repo.List(ctx)
}

// Counts returns item totals by status.
func (s *Service) Counts(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

func requestPath(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rest := rawURL[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			rest = rest[j:]
			if k := strings.IndexAny(rest, "?#"); k >= 0 {
				rest = rest[:k]
			}
			return rest
		}
		return "/"
	}
	if k := strings.IndexAny(rawURL, "?#"); k >= 0 {
		return rawURL[:k]
	}
	return rawURL
}
