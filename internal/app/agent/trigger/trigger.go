package trigger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/syncer"
)

// Background-sync registration tags requested while the queue is non-empty.
const (
	TagOfflineQueue  = "sync-offline-queue"
	TagNotifications = "sync-notifications"
)

// Syncer is the orchestrator entry point both triggers feed.
type Syncer interface {
	SyncAll(ctx context.Context) (*syncer.Result, error)
	InFlight() bool
	LastSyncTime() time.Time
}

// QueueInspector exposes the pending backlog size.
type QueueInspector interface {
	PendingCount(ctx context.Context) (int, error)
}

// Activity reports foreground liveness via the bus hub.
type Activity interface {
	LastActive() time.Time
	ActiveClients() int
}

// Registrar receives opportunistic background-sync registrations.
type Registrar interface {
	Register(tag string)
}

// TagRegistrar is the default Registrar: it records requested tags so the
// run loop can honor them on the next wakeup.
type TagRegistrar struct {
	log *slog.Logger

	mu   sync.Mutex
	tags map[string]time.Time
}

func NewTagRegistrar(log *slog.Logger) *TagRegistrar {
	return &TagRegistrar{log: log, tags: make(map[string]time.Time)}
}

func (r *TagRegistrar) Register(tag string) {
	r.mu.Lock()
	_, known := r.tags[tag]
	r.tags[tag] = time.Now()
	r.mu.Unlock()
	if !known {
		r.log.Debug("background sync registered", "tag", tag)
	}
}

// Registered lists the currently requested tags.
func (r *TagRegistrar) Registered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.tags))
	for tag := range r.tags {
		tags = append(tags, tag)
	}
	return tags
}

// Config tunes the trigger schedule.
type Config struct {
	Interval            time.Duration // periodic timer
	MinBackgroundGap    time.Duration // minimum spacing while foreground is active
	ReconnectDebounce   time.Duration
	ReconnectCooldown   time.Duration // skip reconnect sync if synced this recently
	PollInterval        time.Duration // connectivity edge detection
	ForegroundIdleAfter time.Duration // foreground counts as idle past this
}

func DefaultConfig(interval time.Duration) Config {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return Config{
		Interval:            interval,
		MinBackgroundGap:    5 * time.Minute,
		ReconnectDebounce:   2 * time.Second,
		ReconnectCooldown:   30 * time.Second,
		PollInterval:        5 * time.Second,
		ForegroundIdleAfter: time.Minute,
	}
}

// Trigger schedules opportunistic sync attempts: a gated periodic timer and
// an offline-to-online edge watcher feeding the same orchestrator.
type Trigger struct {
	syncer    Syncer
	monitor   NetworkMonitor
	queue     QueueInspector
	activity  Activity
	registrar Registrar
	log       *slog.Logger
	cfg       Config
	now       func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
	wasOnline   bool
}

func New(s Syncer, monitor NetworkMonitor, queue QueueInspector, activity Activity, registrar Registrar, log *slog.Logger, cfg Config) *Trigger {
	return &Trigger{
		syncer:    s,
		monitor:   monitor,
		queue:     queue,
		activity:  activity,
		registrar: registrar,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run blocks until the context is canceled.
func (t *Trigger) Run(ctx context.Context) {
	t.log.Info("background sync trigger started", "interval", t.cfg.Interval)

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	poll := time.NewTicker(t.cfg.PollInterval)
	defer poll.Stop()

	t.wasOnline = t.monitor.Online()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("background sync trigger stopped")
			return

		case <-ticker.C:
			if t.shouldRunPeriodic() {
				t.attempt(ctx)
			}

		case <-poll.C:
			t.pollNetwork(ctx)
		}
	}
}

// shouldRunPeriodic gates the timer: online, connection not slow, and the
// foreground either idle or last background attempt older than the minimum
// gap.
func (t *Trigger) shouldRunPeriodic() bool {
	if !t.monitor.Online() {
		return false
	}
	if SlowConnection(t.monitor.EffectiveType()) {
		return false
	}

	if t.foregroundActive() {
		t.mu.Lock()
		last := t.lastAttempt
		t.mu.Unlock()
		if t.now().Sub(last) <= t.cfg.MinBackgroundGap {
			return false
		}
	}
	return true
}

func (t *Trigger) foregroundActive() bool {
	if t.activity == nil {
		return false
	}
	return t.activity.ActiveClients() > 0 &&
		t.now().Sub(t.activity.LastActive()) < t.cfg.ForegroundIdleAfter
}

func (t *Trigger) pollNetwork(ctx context.Context) {
	online := t.monitor.Online()

	t.mu.Lock()
	edge := online && !t.wasOnline
	t.wasOnline = online
	t.mu.Unlock()

	if edge {
		go t.onReconnect(ctx)
	}

	if online {
		t.maybeRegister(ctx)
	}
}

// onReconnect debounces the offline-to-online edge, then syncs unless a run
// is in flight or one finished within the cooldown.
func (t *Trigger) onReconnect(ctx context.Context) {
	select {
	case <-time.After(t.cfg.ReconnectDebounce):
	case <-ctx.Done():
		return
	}

	if t.syncer.InFlight() {
		return
	}
	if t.now().Sub(t.syncer.LastSyncTime()) < t.cfg.ReconnectCooldown {
		return
	}

	t.log.Info("network restored, syncing")
	t.attempt(ctx)
}

// maybeRegister requests platform background-sync whenever the queue has a
// backlog while online, so draining can proceed without a foreground.
func (t *Trigger) maybeRegister(ctx context.Context) {
	if t.registrar == nil || t.queue == nil {
		return
	}
	pending, err := t.queue.PendingCount(ctx)
	if err != nil || pending == 0 {
		return
	}
	t.registrar.Register(TagOfflineQueue)
	t.registrar.Register(TagNotifications)
}

func (t *Trigger) attempt(ctx context.Context) {
	t.mu.Lock()
	t.lastAttempt = t.now()
	t.mu.Unlock()

	if _, err := t.syncer.SyncAll(ctx); err != nil {
		t.log.Error("background sync failed", "error", err)
	}
}
