package trigger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slog"
)

// NetworkMonitor reports connectivity and a coarse connection quality
// classification.
type NetworkMonitor interface {
	Online() bool
	// EffectiveType is one of "4g", "3g", "2g", "slow-2g"; "3g" counts as
	// slow, "2g" and "slow-2g" as very slow.
	EffectiveType() string
}

// SlowConnection reports whether an effective type gates background sync
// off.
func SlowConnection(effectiveType string) bool {
	switch effectiveType {
	case "3g", "2g", "slow-2g":
		return true
	}
	return false
}

// ProbeMonitor classifies the connection by timing a health probe against
// the upstream. Probe results are cached briefly so frequent polls do not
// hammer the endpoint.
type ProbeMonitor struct {
	health func(ctx context.Context) error
	log    *slog.Logger

	mu        sync.Mutex
	probedAt  time.Time
	online    bool
	effective string
}

const probeCacheTTL = 5 * time.Second

func NewProbeMonitor(health func(ctx context.Context) error, log *slog.Logger) *ProbeMonitor {
	return &ProbeMonitor{
		health:    health,
		log:       log,
		effective: "slow-2g",
	}
}

func (m *ProbeMonitor) Online() bool {
	online, _ := m.probe()
	return online
}

func (m *ProbeMonitor) EffectiveType() string {
	_, effective := m.probe()
	return effective
}

func (m *ProbeMonitor) probe() (bool, string) {
	m.mu.Lock()
	if time.Since(m.probedAt) < probeCacheTTL {
		online, effective := m.online, m.effective
		m.mu.Unlock()
		return online, effective
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := m.health(ctx)
	elapsed := time.Since(start)

	online := err == nil
	effective := classifyLatency(elapsed)
	if !online {
		effective = "slow-2g"
	}

	m.mu.Lock()
	m.probedAt = time.Now()
	m.online = online
	m.effective = effective
	m.mu.Unlock()

	return online, effective
}

func classifyLatency(elapsed time.Duration) string {
	switch {
	case elapsed < 300*time.Millisecond:
		return "4g"
	case elapsed < time.Second:
		return "3g"
	case elapsed < 3*time.Second:
		return "2g"
	default:
		return "slow-2g"
	}
}
