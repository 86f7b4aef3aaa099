package classify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/yksanjo/tinyguardian/internal/logger"
	"github.com/yksanjo/tinyguardian/internal/metrics"
	"github.com/yksanjo/tinyguardian/internal/rules"
	"github.com/yksanjo/tinyguardian/internal/severity"
	"github.com/yksanjo/tinyguardian/pkg/models"
)

// AdapterConfig controls retry, timeout, concurrency, and circuit
// breaking for reasoning engine calls.
type AdapterConfig struct {
	Timeout                 time.Duration
	MaxRetries              int
	Concurrency             int
	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration
	BreakerHalfOpenMax      int
}

// Adapter gates access to the reasoning engine. It bounds outstanding
// calls with a semaphore, applies per-call timeouts and bounded retries
// with jittered exponential backoff, and trips a circuit breaker on
// consecutive failures. Classification never fails: every error path
// degrades to the deterministic fallback classifier so the alerting
// path stays live.
type Adapter struct {
	provider Provider
	fallback rules.Engine
	breaker  *gobreaker.CircuitBreaker
	sem      *semaphore.Weighted
	cfg      AdapterConfig
}

// NewAdapter creates an Adapter. A nil provider forces every
// classification through the fallback engine.
func NewAdapter(provider Provider, fallback rules.Engine, cfg AdapterConfig) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerOpenDuration <= 0 {
		cfg.BreakerOpenDuration = 30 * time.Second
	}
	if cfg.BreakerHalfOpenMax <= 0 {
		cfg.BreakerHalfOpenMax = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reasoning-engine",
		MaxRequests: uint32(cfg.BreakerHalfOpenMax),
		Timeout:     cfg.BreakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("Classifier circuit %s -> %s", from, to)
			if to == gobreaker.StateOpen {
				metrics.CircuitOpenTotal.Inc()
			}
		},
	})

	return &Adapter{
		provider: provider,
		fallback: fallback,
		breaker:  breaker,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		cfg:      cfg,
	}
}

// Classify analyzes one event. While the circuit is open, calls
// short-circuit straight to the fallback classifier without waiting out
// a timeout.
func (a *Adapter) Classify(ctx context.Context, event *models.Event) models.Classification {
	start := time.Now()
	defer func() {
		metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
	}()

	if a.provider == nil {
		return a.classifyLocal(event)
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		logger.Debugf("Classifier semaphore acquire aborted: %v", err)
		return a.classifyLocal(event)
	}
	defer a.sem.Release(1)

	req := Request{RawMessage: event.RawMessage, DeviceID: event.DeviceID}
	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.callWithRetry(ctx, req)
	})
	if err != nil {
		logger.Debugf("Classification degraded to fallback for device %s: %v", event.DeviceID, err)
		return a.classifyLocal(event)
	}

	resp := out.(Response)
	return models.Classification{
		ThreatType:     severity.Normalize(resp.ThreatType),
		Confidence:     clampUnit(resp.Confidence),
		Explanation:    resp.Explanation,
		Recommendation: resp.Recommendation,
		Source:         models.SourceProvider,
	}
}

// State exposes the circuit breaker state as a health signal.
func (a *Adapter) State() string {
	if a.provider == nil {
		return "disabled"
	}
	return a.breaker.State().String()
}

// Probe checks provider reachability. Returns nil when no provider is
// configured.
func (a *Adapter) Probe(ctx context.Context) error {
	if a.provider == nil {
		return nil
	}
	return a.provider.Probe(ctx)
}

func (a *Adapter) callWithRetry(ctx context.Context, req Request) (Response, error) {
	var resp Response

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		r, err := a.provider.Classify(attemptCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(a.cfg.MaxRetries)), ctx))
	return resp, err
}

func (a *Adapter) classifyLocal(event *models.Event) models.Classification {
	metrics.FallbackUsedTotal.Inc()
	match := a.fallback.Apply(event)
	return models.Classification{
		ThreatType:     match.ThreatType,
		Confidence:     clampUnit(match.Confidence),
		Explanation:    match.Explanation,
		Recommendation: match.Recommendation,
		Source:         models.SourceFallback,
	}
}
