package severity

import (
	"testing"

	"github.com/yksanjo/tinyguardian/pkg/models"
)

func TestScoreBaseTable(t *testing.T) {
	m := NewMapper(nil)

	cases := []struct {
		threat     models.ThreatType
		confidence float64
		want       float64
	}{
		{models.ThreatIntrusion, 1.0, 0.9},
		{models.ThreatBruteForce, 1.0, 0.8},
		{models.ThreatBruteForce, 0.5, 0.4},
		{models.ThreatAnomaly, 1.0, 0.5},
		{models.ThreatNormal, 1.0, 0.0},
		{models.ThreatUnknown, 1.0, 0.3},
	}

	for _, tc := range cases {
		got := m.Score(tc.threat, tc.confidence)
		if got != tc.want {
			t.Errorf("Score(%s, %.1f) = %.3f, want %.3f", tc.threat, tc.confidence, got, tc.want)
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	m := NewMapper(nil)
	first := m.Score(models.ThreatBruteForce, 0.73)
	for i := 0; i < 100; i++ {
		if got := m.Score(models.ThreatBruteForce, 0.73); got != first {
			t.Fatalf("Score is not deterministic: %.6f vs %.6f", got, first)
		}
	}
}

func TestScoreClampsConfidence(t *testing.T) {
	m := NewMapper(nil)

	if got := m.Score(models.ThreatIntrusion, 2.0); got != 0.9 {
		t.Errorf("Expected confidence clamped to 1, got score %.3f", got)
	}
	if got := m.Score(models.ThreatIntrusion, -1.0); got != 0.0 {
		t.Errorf("Expected negative confidence clamped to 0, got score %.3f", got)
	}
}

func TestScoreMonotonicInConfidence(t *testing.T) {
	m := NewMapper(nil)
	prev := -1.0
	for c := 0.0; c <= 1.0; c += 0.05 {
		got := m.Score(models.ThreatIntrusion, c)
		if got < prev {
			t.Fatalf("Score decreased at confidence %.2f: %.3f < %.3f", c, got, prev)
		}
		prev = got
	}
}

func TestScoreUnknownThreatFallsBack(t *testing.T) {
	m := NewMapper(nil)
	if got := m.Score(models.ThreatType("martian"), 1.0); got != 0.3 {
		t.Errorf("Expected unknown base score, got %.3f", got)
	}
}

func TestMapperOverrides(t *testing.T) {
	m := NewMapper(map[string]float64{
		"anomaly":    0.7,
		"not_a_type": 0.99, // ignored
		"intrusion":  1.5,  // clamped
	})

	if got := m.Score(models.ThreatAnomaly, 1.0); got != 0.7 {
		t.Errorf("Expected override 0.7, got %.3f", got)
	}
	if got := m.Score(models.ThreatIntrusion, 1.0); got != 1.0 {
		t.Errorf("Expected clamped override 1.0, got %.3f", got)
	}
	if got := m.Score(models.ThreatBruteForce, 1.0); got != 0.8 {
		t.Errorf("Non-overridden type changed: %.3f", got)
	}
}

func TestNormalizeLabels(t *testing.T) {
	cases := map[string]models.ThreatType{
		"intrusion":           models.ThreatIntrusion,
		"Unauthorized Access": models.ThreatIntrusion,
		"malware":             models.ThreatIntrusion,
		"data-exfiltration":   models.ThreatIntrusion,
		"brute_force":         models.ThreatBruteForce,
		"BruteForce":          models.ThreatBruteForce,
		"credential stuffing": models.ThreatBruteForce,
		"anomaly":             models.ThreatAnomaly,
		"DDoS":                models.ThreatAnomaly,
		"port scan":           models.ThreatAnomaly,
		"normal":              models.ThreatNormal,
		"benign":              models.ThreatNormal,
		"  NONE  ":            models.ThreatNormal,
		"":                    models.ThreatUnknown,
		"quantum weirdness":   models.ThreatUnknown,
	}

	for raw, want := range cases {
		if got := Normalize(raw); got != want {
			t.Errorf("Normalize(%q) = %s, want %s", raw, got, want)
		}
	}
}
