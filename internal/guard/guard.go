package guard

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

// Suppression reasons reported on non-admitted events.
const (
	ReasonCooldown = "cooldown"
	ReasonPending  = "pending"
)

// Decision is the outcome of admitting an event for classification.
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   string `json:"reason,omitempty"`
}

// Config controls deduplication behavior.
type Config struct {
	Cooldown            time.Duration
	EscalationThreshold float64
	Capacity            int
}

type entry struct {
	lastAlert    time.Time
	lastSeverity float64
	inFlight     bool
}

// Guard suppresses re-alerting for equivalent events within a cooldown
// window and serializes classification per fingerprint: at most one
// admission is in flight for a fingerprint at any time. State is
// bounded by an LRU cache so long-running edge deployments cannot grow
// without limit.
type Guard struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
	cfg   Config
	now   func() time.Time
}

// New creates a Guard.
func New(cfg Config) (*Guard, error) {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 0.2
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4096
	}

	cache, err := lru.New[string, *entry](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint cache: %w", err)
	}

	return &Guard{cache: cache, cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the guard clock. Intended for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Fingerprint derives the dedup key for an event: device, provisional
// threat bucket, and a coarse time window sized by the cooldown.
// Sub-second cooldowns bucket by whole seconds.
func (g *Guard) Fingerprint(deviceID string, bucket models.ThreatType, ts time.Time) string {
	windowSecs := int64(g.cfg.Cooldown.Seconds())
	if windowSecs < 1 {
		windowSecs = 1
	}
	window := ts.Unix() / windowSecs
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", deviceID, bucket, window)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Admit decides whether an event may proceed to classification. An
// event is suppressed when an equivalent fingerprint alerted within the
// cooldown window and the provisional severity does not escalate past
// the previous one, or when another admission for the same fingerprint
// is still in flight.
func (g *Guard) Admit(fingerprint string, provisionalSeverity float64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.cache.Get(fingerprint)
	if !ok {
		g.cache.Add(fingerprint, &entry{inFlight: true})
		return Decision{Admitted: true}
	}

	if e.inFlight {
		return Decision{Reason: ReasonPending}
	}

	if !e.lastAlert.IsZero() && g.now().Sub(e.lastAlert) < g.cfg.Cooldown {
		if provisionalSeverity < e.lastSeverity+g.cfg.EscalationThreshold {
			return Decision{Reason: ReasonCooldown}
		}
	}

	e.inFlight = true
	return Decision{Admitted: true}
}

// Commit records that an alert was persisted for the fingerprint. The
// cooldown window starts here, not at admission, so classification
// failures never starve a fingerprint from retrying. The higher of the
// committed severities is kept for escalation comparisons.
func (g *Guard) Commit(fingerprint string, severity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.cache.Get(fingerprint)
	if !ok {
		// Evicted while in flight; reinsert so the cooldown still applies.
		e = &entry{}
		g.cache.Add(fingerprint, e)
	}
	e.inFlight = false
	e.lastAlert = g.now()
	if severity > e.lastSeverity {
		e.lastSeverity = severity
	}
}

// Release ends an in-flight admission without starting a cooldown.
// Used when the pipeline finished without persisting an alert (below
// alert threshold, or the store write failed).
func (g *Guard) Release(fingerprint string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.cache.Get(fingerprint); ok {
		e.inFlight = false
	}
}

// Len reports the number of tracked fingerprints.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.Len()
}
