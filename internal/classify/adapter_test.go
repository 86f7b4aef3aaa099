package classify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yksanjo/tinyguardian/internal/rules"
	"github.com/yksanjo/tinyguardian/pkg/models"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   int
	failFor int
	resp    Response
}

func (s *stubProvider) Classify(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if n <= s.failFor {
		return Response{}, errors.New("backend unavailable")
	}
	return s.resp, nil
}

func (s *stubProvider) Probe(context.Context) error { return nil }
func (s *stubProvider) Name() string                { return "stub" }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func bruteForceEvent() *models.Event {
	return &models.Event{
		DeviceID:   "cam01",
		RawMessage: "Failed login attempt x5 from 10.0.0.5",
		Timestamp:  time.Now(),
	}
}

func TestAdapterProviderSuccess(t *testing.T) {
	provider := &stubProvider{resp: Response{
		ThreatType:  "brute_force",
		Confidence:  0.9,
		Explanation: "credential guessing",
	}}
	a := NewAdapter(provider, rules.NewKeywordEngine(), AdapterConfig{})

	cls := a.Classify(context.Background(), bruteForceEvent())
	if cls.Source != models.SourceProvider {
		t.Fatalf("Expected provider source, got %s", cls.Source)
	}
	if cls.ThreatType != models.ThreatBruteForce {
		t.Errorf("Expected brute_force, got %s", cls.ThreatType)
	}
	if cls.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %.2f", cls.Confidence)
	}
}

func TestAdapterNormalizesProviderLabels(t *testing.T) {
	provider := &stubProvider{resp: Response{ThreatType: "Unauthorized Access", Confidence: 1.4}}
	a := NewAdapter(provider, rules.NewKeywordEngine(), AdapterConfig{})

	cls := a.Classify(context.Background(), bruteForceEvent())
	if cls.ThreatType != models.ThreatIntrusion {
		t.Errorf("Expected label normalized to intrusion, got %s", cls.ThreatType)
	}
	if cls.Confidence != 1.0 {
		t.Errorf("Expected confidence clamped to 1.0, got %.2f", cls.Confidence)
	}
}

func TestAdapterRetriesThenSucceeds(t *testing.T) {
	provider := &stubProvider{
		failFor: 1,
		resp:    Response{ThreatType: "anomaly", Confidence: 0.8},
	}
	a := NewAdapter(provider, rules.NewKeywordEngine(), AdapterConfig{MaxRetries: 2})

	cls := a.Classify(context.Background(), bruteForceEvent())
	if cls.Source != models.SourceProvider {
		t.Fatalf("Expected provider source after retry, got %s", cls.Source)
	}
	if got := provider.callCount(); got != 2 {
		t.Errorf("Expected 2 provider calls, got %d", got)
	}
}

func TestAdapterDegradesToFallback(t *testing.T) {
	provider := &stubProvider{failFor: 1000}
	a := NewAdapter(provider, rules.NewKeywordEngine(), AdapterConfig{MaxRetries: -1})

	cls := a.Classify(context.Background(), bruteForceEvent())
	if cls.Source != models.SourceFallback {
		t.Fatalf("Expected fallback source, got %s", cls.Source)
	}
	if cls.ThreatType != models.ThreatBruteForce {
		t.Errorf("Expected fallback brute_force match, got %s", cls.ThreatType)
	}
}

func TestAdapterNilProviderUsesFallback(t *testing.T) {
	a := NewAdapter(nil, rules.NewKeywordEngine(), AdapterConfig{})

	cls := a.Classify(context.Background(), bruteForceEvent())
	if cls.Source != models.SourceFallback {
		t.Fatalf("Expected fallback source, got %s", cls.Source)
	}
	if a.State() != "disabled" {
		t.Errorf("Expected disabled state, got %s", a.State())
	}
}

func TestAdapterCircuitShortCircuits(t *testing.T) {
	provider := &stubProvider{failFor: 1000}
	a := NewAdapter(provider, rules.NewKeywordEngine(), AdapterConfig{
		MaxRetries:              -1,
		BreakerFailureThreshold: 1,
		BreakerOpenDuration:     time.Minute,
	})

	// First call fails and trips the breaker.
	if cls := a.Classify(context.Background(), bruteForceEvent()); cls.Source != models.SourceFallback {
		t.Fatalf("Expected fallback on provider failure")
	}
	callsAfterTrip := provider.callCount()

	// While open, calls must not reach the provider at all.
	for i := 0; i < 5; i++ {
		cls := a.Classify(context.Background(), bruteForceEvent())
		if cls.Source != models.SourceFallback {
			t.Fatalf("Expected fallback while circuit open")
		}
	}
	if got := provider.callCount(); got != callsAfterTrip {
		t.Errorf("Provider called %d times while circuit open", got-callsAfterTrip)
	}
	if a.State() != "open" {
		t.Errorf("Expected open state, got %s", a.State())
	}
}

func TestAdapterCanceledContextFallsBack(t *testing.T) {
	provider := &stubProvider{resp: Response{ThreatType: "normal", Confidence: 1}}
	a := NewAdapter(provider, rules.NewKeywordEngine(), AdapterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cls := a.Classify(ctx, bruteForceEvent())
	if cls.Source != models.SourceFallback {
		t.Fatalf("Expected fallback on canceled context, got %s", cls.Source)
	}
}
