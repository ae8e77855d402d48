package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/app/agent/bus"
	"possync/internal/domain/conflict"
	"possync/internal/domain/entity"
	"possync/internal/domain/mirror"
	"possync/internal/domain/queue"
)

// Broadcaster delivers progress and completion messages to foreground
// contexts.
type Broadcaster interface {
	Broadcast(msg bus.Message)
}

// Config tunes one sync run.
type Config struct {
	BatchSize     int           // push batch size
	PageSize      int           // pull page size
	MaxPages      int           // runaway-endpoint safety cap
	AttemptBudget time.Duration // wall-clock cap per run, checked between entity steps
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     50,
		PageSize:      100,
		MaxPages:      1000,
		AttemptBudget: 5 * time.Minute,
	}
}

// Service is the bidirectional sync orchestrator: drain the offline queue,
// push local edits, then pull server state entity by entity through the
// conflict resolver.
type Service struct {
	mirror    *mirror.Service
	queue     *queue.Service
	upstream  Upstream
	conflicts ConflictRepository
	bus       Broadcaster
	log       *slog.Logger
	cfg       Config
	now       func() time.Time

	mu       sync.Mutex
	inFlight *flight
	lastSync time.Time
}

// flight is the one-slot shared future behind the single-flight guard:
// the first caller owns the run, later callers wait on done and read the
// same result.
type flight struct {
	done   chan struct{}
	result *Result
}

func NewService(
	mirrorSvc *mirror.Service,
	queueSvc *queue.Service,
	upstream Upstream,
	conflicts ConflictRepository,
	broadcaster Broadcaster,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		mirror:    mirrorSvc,
		queue:     queueSvc,
		upstream:  upstream,
		conflicts: conflicts,
		bus:       broadcaster,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SyncAll runs one push+pull cycle. Single-flight: while a run is in
// progress additional callers attach to it and receive the identical
// result; two concurrent calls never start two runs.
func (s *Service) SyncAll(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if f := s.inFlight; f != nil {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inFlight = f
	s.mu.Unlock()

	result := s.run(ctx)

	s.mu.Lock()
	f.result = result
	s.inFlight = nil
	s.lastSync = s.now()
	s.mu.Unlock()
	close(f.done)

	return result, nil
}

// InFlight reports whether a run is currently executing.
func (s *Service) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != nil
}

// LastSyncTime returns when the last run finished.
func (s *Service) LastSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *Service) run(ctx context.Context) *Result {
	start := s.now()
	deadline := start.Add(s.cfg.AttemptBudget)
	result := newResult(start)

	s.log.Info("sync started", "start_time", start)

	meta := s.mirror.Metadata(ctx)
	meta.SyncInProgress = true
	s.mirror.SaveMetadata(ctx, meta)

	// 1. Drain the offline mutation queue before pushing mirror edits so
	// replayed writes land in their original order.
	drain, err := s.queue.Drain(ctx)
	if err != nil {
		result.addError("", "drain_queue", err)
	}
	result.Drain = drain

	// 2. Push phase, best-effort. Must finish before pull so a just-pushed
	// edit is not flagged as a conflict against its own server copy.
	for _, t := range entity.PullOrder() {
		if s.now().After(deadline) {
			// Skipped is reported once per type, by the pull loop below.
			continue
		}
		s.pushEntity(ctx, t, result)
	}

	// 3. Pull phase. Entity steps are isolated: one type failing does not
	// abort the others.
	for _, t := range entity.PullOrder() {
		if s.now().After(deadline) {
			s.log.Warn("sync budget exhausted, skipping remaining entities", "entity", t)
			result.Skipped = append(result.Skipped, t)
			continue
		}
		if err := s.pullEntity(ctx, t, result); err != nil {
			result.addError(t, "pull", err)
		} else {
			meta.LastSyncAt[t] = s.now()
		}
	}

	result.EndTime = s.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = len(result.Errors) == 0

	meta.SyncInProgress = false
	updateStats(&meta.Stats, result)
	s.mirror.SaveMetadata(ctx, meta)

	if s.bus != nil {
		s.bus.Broadcast(bus.NewSyncComplete(result))
	}

	if result.Success {
		s.log.Info("sync completed",
			"duration", result.Duration,
			"pushed", result.Pushed,
			"conflicts", len(result.Conflicts),
			"resolved", result.Resolved,
		)
	} else {
		s.log.Warn("sync completed with errors",
			"duration", result.Duration,
			"errors", len(result.Errors),
		)
	}
	return result
}

// pushEntity sends locally modified mirror records in batches. A 404 on the
// push endpoint means not implemented yet and is skipped silently.
func (s *Service) pushEntity(ctx context.Context, t entity.Type, result *Result) {
	recs, err := s.mirror.ListLocallyModified(ctx, t, 0)
	if err != nil || len(recs) == 0 {
		return
	}

	for offset := 0; offset < len(recs); offset += s.cfg.BatchSize {
		end := offset + s.cfg.BatchSize
		if end > len(recs) {
			end = len(recs)
		}
		batch := recs[offset:end]

		payloads := make([]json.RawMessage, 0, len(batch))
		ids := make([]string, 0, len(batch))
		for _, rec := range batch {
			payloads = append(payloads, rec.Data)
			ids = append(ids, rec.ID)
		}

		err := s.upstream.Push(ctx, t, payloads)
		if errors.Is(err, ErrPushUnsupported) {
			s.log.Debug("push endpoint not implemented, skipping", "entity", t)
			return
		}
		if err != nil {
			result.addError(t, "push", err)
			return
		}

		if err := s.mirror.ConfirmPushed(ctx, t, ids); err != nil {
			result.addError(t, "confirm_push", err)
		}
		result.Pushed += len(batch)
	}
}

// pullEntity pages through server records, reconciling each against the
// mirror.
func (s *Service) pullEntity(ctx context.Context, t entity.Type, result *Result) error {
	processed := 0

	for page := 1; page <= s.cfg.MaxPages; page++ {
		records, hasMore, err := s.upstream.FetchPage(ctx, t, page, s.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("fetch %s page %d: %w", t, page, err)
		}

		for _, raw := range records {
			if err := s.pullRecord(ctx, t, raw, result); err != nil {
				result.addError(t, "pull_record", err)
				continue
			}
			processed++
		}

		if s.bus != nil {
			s.bus.Broadcast(bus.NewSyncProgress(t.Stage(), processed, processed))
		}
		if !hasMore {
			break
		}
	}

	s.log.Debug("entity pulled", "entity", t, "records", processed)
	return nil
}

func (s *Service) pullRecord(ctx context.Context, t entity.Type, raw json.RawMessage, result *Result) error {
	ref, err := entity.Decode(t, raw)
	if err != nil {
		return err
	}

	local, err := s.mirror.Get(ctx, t, ref.ID)
	if err != nil {
		return err
	}

	// Config singletons are server-authoritative: a pull always overwrites
	// them, local edits notwithstanding.
	if local == nil || !t.Conflictable() ||
		!conflict.Detect(local.LocalModifiedAt, local.LastSyncedAt, ref.UpdatedAt) {
		if err := s.mirror.ApplyServer(ctx, t, ref, raw); err != nil {
			return err
		}
		result.Synced[t]++
		return nil
	}

	c := conflict.New(t, ref.ID, local.Data, raw, *local.LocalModifiedAt, ref.UpdatedAt)
	strategy, err := conflict.DefaultStrategy(c)
	if err != nil {
		return err
	}
	c.Strategy = strategy

	res, err := conflict.Resolve(c, local.LastSyncedStock)
	if err != nil {
		return err
	}

	if res.Manual {
		// keep the local edit in the mirror; the conflict waits for a human
		if err := s.conflicts.Save(ctx, c); err != nil {
			return fmt.Errorf("save manual conflict %s/%s: %w", t, ref.ID, err)
		}
		result.Conflicts = append(result.Conflicts, c)
		result.Manual++
		return nil
	}

	if err := s.mirror.ApplyResolved(ctx, t, ref.ID, res.Data, res.UpdatedAt, res.Stock); err != nil {
		return err
	}
	c.Resolved = true
	c.Resolution = res.Winner
	if err := s.conflicts.Save(ctx, c); err != nil {
		s.log.Warn("resolved conflict not recorded", "entity", t, "id", ref.ID, "error", err)
	}
	result.Conflicts = append(result.Conflicts, c)
	result.Resolved++
	result.Synced[t]++
	return nil
}

// ResolveManual settles a persisted manual conflict with an explicit
// client or server choice.
func (s *Service) ResolveManual(ctx context.Context, id, choice string) error {
	c, err := s.conflicts.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Resolved {
		return fmt.Errorf("conflict %s already resolved", id)
	}

	switch choice {
	case "client":
		c.Strategy = conflict.StrategyClientWins
	case "server":
		c.Strategy = conflict.StrategyServerWins
	default:
		return fmt.Errorf("unknown resolution choice: %s", choice)
	}

	res, err := conflict.Resolve(c, nil)
	if err != nil {
		return err
	}
	if err := s.mirror.ApplyResolved(ctx, c.EntityType, c.EntityID, res.Data, res.UpdatedAt, res.Stock); err != nil {
		return err
	}
	return s.conflicts.MarkResolved(ctx, id, res.Winner)
}

// UnresolvedConflicts lists conflicts awaiting a decision.
func (s *Service) UnresolvedConflicts(ctx context.Context) ([]*conflict.Conflict, error) {
	return s.conflicts.ListUnresolved(ctx)
}

func updateStats(stats *mirror.Stats, result *Result) {
	stats.TotalSyncs++
	if result.Success {
		stats.LastSuccessful = result.EndTime
	} else {
		stats.LastFailed = result.EndTime
	}
	stats.TotalPushed += result.Pushed
	for _, n := range result.Synced {
		stats.TotalPulled += n
	}
	stats.TotalConflicts += len(result.Conflicts)
	stats.TotalResolved += result.Resolved
	stats.TotalErrors += len(result.Errors)

	if stats.AvgSyncDuration == 0 {
		stats.AvgSyncDuration = result.Duration.Seconds()
	} else {
		stats.AvgSyncDuration = (stats.AvgSyncDuration*float64(stats.TotalSyncs-1) +
			result.Duration.Seconds()) / float64(stats.TotalSyncs)
	}
}
