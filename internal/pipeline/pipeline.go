package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/yksanjo/tinyguardian/internal/classify"
	"github.com/yksanjo/tinyguardian/internal/guard"
	"github.com/yksanjo/tinyguardian/internal/logger"
	"github.com/yksanjo/tinyguardian/internal/metrics"
	"github.com/yksanjo/tinyguardian/internal/normalize"
	"github.com/yksanjo/tinyguardian/internal/rules"
	"github.com/yksanjo/tinyguardian/internal/severity"
	"github.com/yksanjo/tinyguardian/internal/store"
	"github.com/yksanjo/tinyguardian/pkg/models"
)

// Feed is the abstract inbound event source. Receive blocks until a
// message arrives; it returns io.EOF when the feed is exhausted.
type Feed interface {
	Receive(ctx context.Context) (topic string, payload []byte, err error)
	Close() error
}

// AlertSink receives alerts as they are persisted.
type AlertSink interface {
	BroadcastAlert(alert *models.Alert)
}

// Config controls orchestrator behavior.
type Config struct {
	Workers        int
	QueueCapacity  int
	ShutdownGrace  time.Duration
	AlertThreshold float64
}

// Pipeline glues normalization, deduplication, classification, scoring,
// and persistence into a bounded, backpressured streaming pipeline.
//
// Per event: Received -> Normalized -> (Suppressed | Admitted) ->
// Classifying -> Scored -> Persisted. Classification never fails the
// pipeline; suppressed and persisted are the terminal states. When the
// ingestion queue is full the oldest un-admitted event is dropped;
// admitted events in flight always run to completion.
type Pipeline struct {
	feed        Feed
	normalizer  *normalize.Normalizer
	provisional rules.Engine
	guard       *guard.Guard
	adapter     *classify.Adapter
	mapper      *severity.Mapper
	store       store.Store
	sink        AlertSink
	cfg         Config
}

// New creates a Pipeline. sink may be nil.
func New(feed Feed, normalizer *normalize.Normalizer, provisional rules.Engine, g *guard.Guard,
	adapter *classify.Adapter, mapper *severity.Mapper, st store.Store, sink AlertSink, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 15 * time.Second
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 0.7
	}
	return &Pipeline{
		feed:        feed,
		normalizer:  normalizer,
		provisional: provisional,
		guard:       g,
		adapter:     adapter,
		mapper:      mapper,
		store:       st,
		sink:        sink,
		cfg:         cfg,
	}
}

// Run starts the pipeline and blocks until the feed is exhausted or ctx
// is canceled. On cancellation, in-flight work is drained up to the
// shutdown grace period, then force-canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Pipeline started (workers=%d queue=%d)", p.cfg.Workers, p.cfg.QueueCapacity)

	// Workers keep classifying on their own context during the drain
	// window after ctx is canceled.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	queue := make(chan *models.Event, p.cfg.QueueCapacity)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, queue)
		close(queue)
	}()

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(workCtx, queue)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("Pipeline drained")
		return nil
	case <-ctx.Done():
	}

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		logger.Warnf("Shutdown grace elapsed; canceling in-flight classifications")
		cancelWork()
		<-done
	}
	logger.Infof("Pipeline stopped")
	return ctx.Err()
}

// Close releases the feed.
func (p *Pipeline) Close() error {
	if p.feed != nil {
		return p.feed.Close()
	}
	return nil
}

// readLoop consumes the feed, normalizes payloads, and enqueues events.
// On overflow it drops the oldest queued (un-admitted) event in favor
// of the new arrival: completing in-flight work beats accepting
// unbounded new load on constrained edge hardware.
func (p *Pipeline) readLoop(ctx context.Context, out chan *models.Event) {
	for {
		topic, payload, err := p.feed.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Errorf("Failed to receive from feed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		metrics.EventsIngestedTotal.Inc()

		event, err := p.normalizer.Normalize(topic, payload)
		if err != nil {
			metrics.EventsMalformedTotal.Inc()
			logger.Debugf("Dropped malformed payload on %s: %v", topic, err)
			continue
		}

		select {
		case out <- event:
		default:
			// Queue full. Steal the oldest entry, then enqueue; only
			// this loop sends, so the freed slot cannot be taken.
			select {
			case dropped := <-out:
				metrics.EventsDroppedTotal.Inc()
				logger.Warnf("Queue full; dropped un-admitted event from %s", dropped.DeviceID)
			default:
			}
			out <- event
		}
	}
}

func (p *Pipeline) workerLoop(ctx context.Context, in <-chan *models.Event) {
	for event := range in {
		if ctx.Err() != nil {
			metrics.EventsAbandonedTotal.Inc()
			continue
		}
		p.process(ctx, event)
	}
}

func (p *Pipeline) process(ctx context.Context, event *models.Event) {
	if err := p.store.RecordEvent(ctx, event); err != nil {
		logger.Errorf("Failed to record event from %s: %v", event.DeviceID, err)
	}

	prov := p.provisional.Apply(event)
	provSeverity := p.mapper.Score(prov.ThreatType, prov.Confidence)
	fingerprint := p.guard.Fingerprint(event.DeviceID, prov.ThreatType, event.Timestamp)

	decision := p.guard.Admit(fingerprint, provSeverity)
	if !decision.Admitted {
		metrics.EventsSuppressedTotal.WithLabelValues(decision.Reason).Inc()
		logger.Debugf("Suppressed event from %s (%s)", event.DeviceID, decision.Reason)
		return
	}

	cls := p.adapter.Classify(ctx, event)
	sev := p.mapper.Score(cls.ThreatType, cls.Confidence)

	if sev < p.cfg.AlertThreshold {
		// Below the alerting bar: no alert, and no cooldown starts, so
		// a later louder event for this fingerprint is not suppressed.
		p.guard.Release(fingerprint)
		return
	}

	alert := &models.Alert{
		Event:          *event,
		Classification: cls,
		Severity:       sev,
		Status:         models.AlertNew,
		Fingerprint:    fingerprint,
		CreatedAt:      time.Now(),
	}

	id, err := p.store.AppendAlert(ctx, alert)
	if err != nil {
		metrics.StoreWriteFailuresTotal.Inc()
		logger.Errorf("Failed to persist alert for %s, event lost: %v", event.DeviceID, err)
		p.guard.Release(fingerprint)
		return
	}
	alert.ID = id

	metrics.AlertsTotal.Inc()
	p.guard.Commit(fingerprint, sev)
	logger.Warnf("ALERT %s on %s (severity %.2f)", cls.ThreatType, event.DeviceID, sev)

	if p.sink != nil {
		p.sink.BroadcastAlert(alert)
	}
}
