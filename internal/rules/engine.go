package rules

import (
	"regexp"
	"strings"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

// Match is a deterministic, local classification of one event. It is
// used both as the provisional threat bucket for fingerprinting and as
// the fallback result when the reasoning engine is unavailable.
type Match struct {
	ThreatType     models.ThreatType
	Confidence     float64
	Explanation    string
	Recommendation string
}

// Engine classifies events without calling out to any service.
type Engine interface {
	Apply(event *models.Event) Match
}

// Chain tries engines in order and returns the first match that is not
// unknown. The last engine's result is returned when nothing matches.
type Chain []Engine

// Apply evaluates the chained engines.
func (c Chain) Apply(event *models.Event) Match {
	var last Match
	for _, e := range c {
		last = e.Apply(event)
		if last.ThreatType != models.ThreatUnknown {
			return last
		}
	}
	if last.ThreatType == "" {
		last = Match{ThreatType: models.ThreatUnknown, Confidence: 0.2}
	}
	return last
}

var repetitionRegex = regexp.MustCompile(`\bx\d+\b`)

type keywordRule struct {
	terms          []string
	threat         models.ThreatType
	confidence     float64
	explanation    string
	recommendation string
}

// KeywordEngine matches well-known indicator phrases in log messages.
// Ordering matters: earlier rules take precedence.
type KeywordEngine struct {
	rules []keywordRule
}

// NewKeywordEngine creates the built-in keyword matcher.
func NewKeywordEngine() *KeywordEngine {
	return &KeywordEngine{rules: []keywordRule{
		{
			terms:          []string{"unauthorized", "access denied", "permission denied"},
			threat:         models.ThreatIntrusion,
			confidence:     0.65,
			explanation:    "Access control violation reported by device",
			recommendation: "Verify access policy and review device credentials",
		},
		{
			terms:          []string{"malware", "virus", "trojan", "ransomware", "exfiltrat"},
			threat:         models.ThreatIntrusion,
			confidence:     0.7,
			explanation:    "Message references hostile software or data theft",
			recommendation: "Isolate the device and inspect its firmware",
		},
		{
			terms:          []string{"port scan", "unusual network", "unknown ip", "connection from unknown"},
			threat:         models.ThreatAnomaly,
			confidence:     0.6,
			explanation:    "Unexpected network activity reported by device",
			recommendation: "Review firewall rules for the reported address",
		},
		{
			terms:          []string{"dos", "ddos", "denial of service", "overload"},
			threat:         models.ThreatAnomaly,
			confidence:     0.6,
			explanation:    "Possible resource exhaustion attack",
			recommendation: "Rate-limit traffic toward the device",
		},
		{
			terms:          []string{"config changed", "configuration changed", "setting changed"},
			threat:         models.ThreatAnomaly,
			confidence:     0.5,
			explanation:    "Device configuration modified",
			recommendation: "Confirm the change was operator-initiated",
		},
		{
			terms:          []string{"started successfully", "scheduled check-in", "reading:", "door locked", "completed"},
			threat:         models.ThreatNormal,
			confidence:     0.7,
			explanation:    "Routine device activity",
			recommendation: "No action required",
		},
	}}
}

// Apply classifies a single event by keyword lookup. Authentication
// failures escalate to brute_force when the message carries a
// repetition marker (multiple, repeated, brute, or an "xN" count).
func (k *KeywordEngine) Apply(event *models.Event) Match {
	message := strings.ToLower(event.RawMessage)

	if containsAny(message, "failed login", "authentication failed", "login failed", "invalid password", "failed password") {
		if containsAny(message, "multiple", "repeated", "brute") || repetitionRegex.MatchString(message) {
			return Match{
				ThreatType:     models.ThreatBruteForce,
				Confidence:     0.75,
				Explanation:    "Repeated authentication failures indicate credential guessing",
				Recommendation: "Lock the account and block the source address",
			}
		}
		return Match{
			ThreatType:     models.ThreatIntrusion,
			Confidence:     0.6,
			Explanation:    "Authentication failure reported by device",
			Recommendation: "Review recent login activity for the device",
		}
	}

	for _, rule := range k.rules {
		if containsAny(message, rule.terms...) {
			return Match{
				ThreatType:     rule.threat,
				Confidence:     rule.confidence,
				Explanation:    rule.explanation,
				Recommendation: rule.recommendation,
			}
		}
	}

	return Match{
		ThreatType:     models.ThreatUnknown,
		Confidence:     0.2,
		Explanation:    "No known indicator matched",
		Recommendation: "Review log manually",
	}
}

func containsAny(message string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(message, term) {
			return true
		}
	}
	return false
}
