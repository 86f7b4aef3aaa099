package store

import (
	"context"
	"errors"
	"time"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

// ErrNotFound is returned when an alert or device id does not exist.
var ErrNotFound = errors.New("not found")

// AlertFilter narrows alert queries. Zero values mean "no constraint".
type AlertFilter struct {
	DeviceID    string
	SeverityMin float64
	Status      models.AlertStatus
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Stats summarizes store contents for the dashboard.
type Stats struct {
	TotalEvents  int64                        `json:"total_events"`
	TotalAlerts  int64                        `json:"total_alerts"`
	ByThreatType map[models.ThreatType]int64  `json:"by_threat_type"`
	BySeverity   map[string]int64             `json:"by_severity"`
	ByStatus     map[models.AlertStatus]int64 `json:"by_status"`
	Devices      int                          `json:"devices"`
}

// Store is the source of truth for alerts, events, and device
// aggregates. Appends are monotonic-id and append-only; alert status
// updates are the only mutation permitted post-creation. A single
// writer (the pipeline) appends while dashboard readers query
// concurrently.
type Store interface {
	AppendAlert(ctx context.Context, alert *models.Alert) (int64, error)
	QueryAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error

	RecordEvent(ctx context.Context, event *models.Event) error
	RecentEvents(ctx context.Context, limit int) ([]*models.Event, error)

	ListDevices(ctx context.Context) ([]*models.Device, error)
	SetDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// severityBand buckets a severity score for aggregate stats.
func severityBand(severity float64) string {
	switch {
	case severity >= 0.8:
		return "critical"
	case severity >= 0.6:
		return "high"
	case severity >= 0.3:
		return "medium"
	default:
		return "low"
	}
}
