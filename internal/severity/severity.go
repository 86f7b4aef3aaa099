package severity

import (
	"strings"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

// defaultBaseScores is the per-threat-type severity table. Values are
// scaled by classification confidence and clamped to [0,1].
var defaultBaseScores = map[models.ThreatType]float64{
	models.ThreatIntrusion:  0.9,
	models.ThreatBruteForce: 0.8,
	models.ThreatAnomaly:    0.5,
	models.ThreatNormal:     0.0,
	models.ThreatUnknown:    0.3,
}

// Mapper converts raw classification output into the fixed taxonomy and
// a numeric severity. All methods are pure: identical inputs always
// produce identical outputs.
type Mapper struct {
	baseScores map[models.ThreatType]float64
}

// NewMapper creates a Mapper. Entries in overrides replace the default
// base score for that threat type; unrecognized keys are ignored.
func NewMapper(overrides map[string]float64) *Mapper {
	scores := make(map[models.ThreatType]float64, len(defaultBaseScores))
	for k, v := range defaultBaseScores {
		scores[k] = v
	}
	for k, v := range overrides {
		// Only exact taxonomy names may override the table.
		t := models.ThreatType(strings.ToLower(strings.TrimSpace(k)))
		if _, ok := scores[t]; ok {
			scores[t] = clamp(v)
		}
	}
	return &Mapper{baseScores: scores}
}

// Score derives severity from threat type and confidence.
func (m *Mapper) Score(threat models.ThreatType, confidence float64) float64 {
	base, ok := m.baseScores[threat]
	if !ok {
		base = m.baseScores[models.ThreatUnknown]
	}
	return clamp(base * clamp(confidence))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize maps a raw classifier label onto the fixed taxonomy.
// Reasoning engines are free-form; this keeps downstream scoring and
// fingerprinting over a closed set.
func Normalize(raw string) models.ThreatType {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.ReplaceAll(label, " ", "_")
	label = strings.ReplaceAll(label, "-", "_")

	switch label {
	case "intrusion", "unauthorized_access", "unauthorized", "access_violation",
		"malware", "trojan", "ransomware", "data_exfiltration", "exfiltration":
		return models.ThreatIntrusion
	case "brute_force", "bruteforce", "brute", "credential_stuffing", "password_guessing":
		return models.ThreatBruteForce
	case "anomaly", "network_anomaly", "anomalous", "suspicious",
		"denial_of_service", "dos", "ddos", "port_scan", "configuration_change":
		return models.ThreatAnomaly
	case "normal", "none", "benign", "safe", "ok", "informational":
		return models.ThreatNormal
	default:
		return models.ThreatUnknown
	}
}
