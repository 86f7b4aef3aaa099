package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

func testAlert(device string, threat models.ThreatType, severity float64, createdAt time.Time) *models.Alert {
	return &models.Alert{
		Event:          models.Event{DeviceID: device, RawMessage: "msg"},
		Classification: models.Classification{ThreatType: threat, Confidence: 1},
		Severity:       severity,
		CreatedAt:      createdAt,
	}
}

func TestAppendAlertMonotonicIDs(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id, err := s.AppendAlert(ctx, testAlert("cam01", models.ThreatIntrusion, 0.9, time.Now()))
		if err != nil {
			t.Fatalf("AppendAlert failed: %v", err)
		}
		if id != int64(i) {
			t.Errorf("Expected id %d, got %d", i, id)
		}
	}
}

func TestQueryAlertsFilters(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.AppendAlert(ctx, testAlert("cam01", models.ThreatBruteForce, 0.8, base))
	s.AppendAlert(ctx, testAlert("cam02", models.ThreatAnomaly, 0.5, base.Add(time.Minute)))
	s.AppendAlert(ctx, testAlert("cam01", models.ThreatIntrusion, 0.9, base.Add(2*time.Minute)))

	alerts, err := s.QueryAlerts(ctx, AlertFilter{DeviceID: "cam01"})
	if err != nil {
		t.Fatalf("QueryAlerts failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alerts for cam01, got %d", len(alerts))
	}
	// Most recent first.
	if alerts[0].Classification.ThreatType != models.ThreatIntrusion {
		t.Errorf("Expected newest alert first, got %s", alerts[0].Classification.ThreatType)
	}

	alerts, _ = s.QueryAlerts(ctx, AlertFilter{SeverityMin: 0.7})
	if len(alerts) != 2 {
		t.Errorf("Expected 2 alerts at severity >= 0.7, got %d", len(alerts))
	}

	alerts, _ = s.QueryAlerts(ctx, AlertFilter{Since: base.Add(90 * time.Second)})
	if len(alerts) != 1 {
		t.Errorf("Expected 1 alert since cutoff, got %d", len(alerts))
	}

	alerts, _ = s.QueryAlerts(ctx, AlertFilter{Until: base.Add(30 * time.Second)})
	if len(alerts) != 1 {
		t.Errorf("Expected 1 alert until cutoff, got %d", len(alerts))
	}

	alerts, _ = s.QueryAlerts(ctx, AlertFilter{Limit: 2})
	if len(alerts) != 2 {
		t.Errorf("Expected limit to cap results, got %d", len(alerts))
	}
}

func TestUpdateAlertStatus(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()

	id, _ := s.AppendAlert(ctx, testAlert("cam01", models.ThreatIntrusion, 0.9, time.Now()))

	if err := s.UpdateAlertStatus(ctx, id, models.AlertAcknowledged); err != nil {
		t.Fatalf("UpdateAlertStatus failed: %v", err)
	}
	alerts, _ := s.QueryAlerts(ctx, AlertFilter{Status: models.AlertAcknowledged})
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 acknowledged alert, got %d", len(alerts))
	}

	if err := s.UpdateAlertStatus(ctx, 999, models.AlertBlocked); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}
	if err := s.UpdateAlertStatus(ctx, id, models.AlertStatus("bogus")); err == nil {
		t.Errorf("Expected error for invalid status")
	}
}

func TestRecordEventAggregatesDevices(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := s.RecordEvent(ctx, &models.Event{
			DeviceID:   "cam01",
			RawMessage: "msg",
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}

	devices, err := s.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.EventCount != 5 {
		t.Errorf("Expected event count 5, got %d", d.EventCount)
	}
	if !d.LastSeen.Equal(base.Add(4 * time.Second)) {
		t.Errorf("Expected last seen at latest event, got %v", d.LastSeen)
	}
}

func TestRecentEventsBoundedAndOrdered(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		s.RecordEvent(ctx, &models.Event{DeviceID: "cam01", RawMessage: fmt.Sprintf("msg-%d", i)})
	}

	events, err := s.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected history bounded to 3, got %d", len(events))
	}
	if events[0].RawMessage != "msg-9" {
		t.Errorf("Expected most recent first, got %s", events[0].RawMessage)
	}

	stats, _ := s.Stats(ctx)
	if stats.TotalEvents != 10 {
		t.Errorf("Expected total events to survive trimming, got %d", stats.TotalEvents)
	}
}

func TestDeviceStatusTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(100).WithClock(func() time.Time { return now })
	ctx := context.Background()

	s.RecordEvent(ctx, &models.Event{DeviceID: "cam01", RawMessage: "msg", ReceivedAt: now})
	s.RecordEvent(ctx, &models.Event{DeviceID: "cam02", RawMessage: "msg", ReceivedAt: now.Add(-time.Hour)})

	devices, _ := s.ListDevices(ctx)
	byID := map[string]models.DeviceStatus{}
	for _, d := range devices {
		byID[d.DeviceID] = d.Status
	}
	if byID["cam01"] != models.DeviceActive {
		t.Errorf("Expected cam01 active, got %s", byID["cam01"])
	}
	if byID["cam02"] != models.DeviceIdle {
		t.Errorf("Expected cam02 idle, got %s", byID["cam02"])
	}

	if err := s.SetDeviceStatus(ctx, "cam02", models.DeviceBlocked); err != nil {
		t.Fatalf("SetDeviceStatus failed: %v", err)
	}
	devices, _ = s.ListDevices(ctx)
	for _, d := range devices {
		if d.DeviceID == "cam02" && d.Status != models.DeviceBlocked {
			t.Errorf("Expected cam02 to stay blocked, got %s", d.Status)
		}
	}

	if err := s.SetDeviceStatus(ctx, "ghost", models.DeviceBlocked); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown device, got %v", err)
	}
}

func TestStatsAggregation(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()
	now := time.Now()

	s.AppendAlert(ctx, testAlert("cam01", models.ThreatBruteForce, 0.85, now))
	s.AppendAlert(ctx, testAlert("cam01", models.ThreatAnomaly, 0.5, now))
	s.RecordEvent(ctx, &models.Event{DeviceID: "cam01", RawMessage: "msg", ReceivedAt: now})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalAlerts != 2 {
		t.Errorf("Expected 2 alerts, got %d", stats.TotalAlerts)
	}
	if stats.ByThreatType[models.ThreatBruteForce] != 1 {
		t.Errorf("Unexpected threat breakdown: %+v", stats.ByThreatType)
	}
	if stats.BySeverity["critical"] != 1 || stats.BySeverity["medium"] != 1 {
		t.Errorf("Unexpected severity bands: %+v", stats.BySeverity)
	}
	if stats.Devices != 1 {
		t.Errorf("Expected 1 device, got %d", stats.Devices)
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.AppendAlert(ctx, testAlert("cam01", models.ThreatIntrusion, 0.9, time.Now()))
			s.RecordEvent(ctx, &models.Event{DeviceID: "cam01", RawMessage: "msg"})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := s.QueryAlerts(ctx, AlertFilter{}); err != nil {
					t.Errorf("QueryAlerts failed: %v", err)
					return
				}
				if _, err := s.Stats(ctx); err != nil {
					t.Errorf("Stats failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
