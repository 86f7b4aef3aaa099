package models

import "time"

// Event is a normalized device log event. Once built by the normalizer
// it is immutable; downstream stages read it and never modify it.
type Event struct {
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"@timestamp"`
	ReceivedAt time.Time `json:"received_at"`
	RawMessage string    `json:"raw_message"`
	SourceIP   string    `json:"source_ip,omitempty"`
	User       string    `json:"user,omitempty"`
	Topic      string    `json:"topic,omitempty"`
}

// DeviceStatus describes the lifecycle state of a monitored device.
type DeviceStatus string

const (
	DeviceActive  DeviceStatus = "active"
	DeviceIdle    DeviceStatus = "idle"
	DeviceBlocked DeviceStatus = "blocked"
)

// Device is an aggregate view of one monitored device, updated on every
// ingested event. Devices are never deleted, only marked blocked.
type Device struct {
	DeviceID   string       `json:"device_id"`
	LastSeen   time.Time    `json:"last_seen"`
	EventCount int64        `json:"event_count"`
	Status     DeviceStatus `json:"status"`
}
