package models

import "time"

// ThreatType is the fixed threat taxonomy. Raw classifier output is
// normalized onto these values before scoring.
type ThreatType string

const (
	ThreatIntrusion  ThreatType = "intrusion"
	ThreatBruteForce ThreatType = "brute_force"
	ThreatAnomaly    ThreatType = "anomaly"
	ThreatNormal     ThreatType = "normal"
	ThreatUnknown    ThreatType = "unknown"
)

// ClassificationSource records which path produced a classification.
type ClassificationSource string

const (
	SourceProvider ClassificationSource = "provider"
	SourceFallback ClassificationSource = "fallback"
)

// Classification is the outcome of analyzing one event. Immutable.
type Classification struct {
	ThreatType     ThreatType           `json:"threat_type"`
	Confidence     float64              `json:"confidence"`
	Explanation    string               `json:"explanation"`
	Recommendation string               `json:"recommendation"`
	Source         ClassificationSource `json:"source"`
}

// AlertStatus is the review state of an alert. Status changes are the
// only mutation permitted after an alert is appended.
type AlertStatus string

const (
	AlertNew          AlertStatus = "new"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertBlocked      AlertStatus = "blocked"
)

// ValidAlertStatus reports whether s is a recognized alert status.
func ValidAlertStatus(s AlertStatus) bool {
	switch s {
	case AlertNew, AlertAcknowledged, AlertBlocked:
		return true
	}
	return false
}

// Alert is a persisted, severity-scored finding. It owns copies of the
// event and classification that produced it.
type Alert struct {
	ID             int64          `json:"id"`
	Event          Event          `json:"event"`
	Classification Classification `json:"classification"`
	Severity       float64        `json:"severity"`
	Status         AlertStatus    `json:"status"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
