package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

// idleAfter marks a device idle when it has not reported for this long.
const idleAfter = 10 * time.Minute

// MemoryStore keeps alerts, devices, and a bounded window of recent
// events in memory. Suited for single-node edge deployments where
// durability across restarts is not required.
type MemoryStore struct {
	mu           sync.RWMutex
	alerts       []*models.Alert
	nextID       int64
	devices      map[string]*models.Device
	events       []*models.Event
	eventHistory int
	totalEvents  int64
	now          func() time.Time
}

// NewMemoryStore creates a MemoryStore retaining up to eventHistory
// recent events.
func NewMemoryStore(eventHistory int) *MemoryStore {
	if eventHistory <= 0 {
		eventHistory = 1000
	}
	return &MemoryStore{
		nextID:       1,
		devices:      make(map[string]*models.Device),
		events:       make([]*models.Event, 0, eventHistory),
		eventHistory: eventHistory,
		now:          time.Now,
	}
}

// WithClock overrides the store clock. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// AppendAlert persists an alert, assigning the next monotonic id.
func (s *MemoryStore) AppendAlert(ctx context.Context, alert *models.Alert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *alert
	stored.ID = s.nextID
	s.nextID++
	if stored.Status == "" {
		stored.Status = models.AlertNew
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.alerts = append(s.alerts, &stored)
	return stored.ID, nil
}

// QueryAlerts returns matching alerts, most recent first.
func (s *MemoryStore) QueryAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	out := make([]*models.Alert, 0, limit)
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.alerts[i]
		if !matchesFilter(a, filter) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func matchesFilter(a *models.Alert, f AlertFilter) bool {
	if f.DeviceID != "" && a.Event.DeviceID != f.DeviceID {
		return false
	}
	if a.Severity < f.SeverityMin {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && a.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// UpdateAlertStatus changes the review status of one alert.
func (s *MemoryStore) UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	if !models.ValidAlertStatus(status) {
		return fmt.Errorf("invalid alert status: %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Ids are assigned 1..n in append order.
	idx := id - 1
	if idx < 0 || idx >= int64(len(s.alerts)) {
		return ErrNotFound
	}
	s.alerts[idx].Status = status
	return nil
}

// RecordEvent updates device aggregates and the recent-event window.
// Every normalized event passes through here, including those the
// guard later suppresses.
func (s *MemoryStore) RecordEvent(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalEvents++

	d := s.devices[event.DeviceID]
	if d == nil {
		d = &models.Device{DeviceID: event.DeviceID, Status: models.DeviceActive}
		s.devices[event.DeviceID] = d
	}
	d.EventCount++
	if event.ReceivedAt.After(d.LastSeen) {
		d.LastSeen = event.ReceivedAt
	}

	cp := *event
	s.events = append(s.events, &cp)
	if len(s.events) > s.eventHistory {
		s.events = s.events[len(s.events)-s.eventHistory:]
	}
	return nil
}

// RecentEvents returns up to limit events, most recent first.
func (s *MemoryStore) RecentEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]*models.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.events[i]
		out = append(out, &cp)
	}
	return out, nil
}

// ListDevices returns all known devices. Devices that have not reported
// recently are surfaced as idle; blocked devices stay blocked.
func (s *MemoryStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		cp := *d
		if cp.Status != models.DeviceBlocked && now.Sub(cp.LastSeen) > idleAfter {
			cp.Status = models.DeviceIdle
		}
		out = append(out, &cp)
	}
	return out, nil
}

// SetDeviceStatus marks a device, typically blocked by an operator.
func (s *MemoryStore) SetDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.devices[deviceID]
	if d == nil {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

// Stats aggregates store contents.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		TotalEvents:  s.totalEvents,
		TotalAlerts:  int64(len(s.alerts)),
		ByThreatType: make(map[models.ThreatType]int64),
		BySeverity:   make(map[string]int64),
		ByStatus:     make(map[models.AlertStatus]int64),
		Devices:      len(s.devices),
	}
	for _, a := range s.alerts {
		stats.ByThreatType[a.Classification.ThreatType]++
		stats.BySeverity[severityBand(a.Severity)]++
		stats.ByStatus[a.Status]++
	}
	return stats, nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error { return nil }
