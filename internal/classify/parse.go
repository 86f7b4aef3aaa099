package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseAnalysis extracts the structured assessment from a reasoning
// engine reply. Models frequently wrap the JSON in code fences or prose,
// so the parser peels fences first and falls back to scanning the text
// for taxonomy words when no valid JSON can be found.
func parseAnalysis(reply string) (Response, error) {
	jsonStr := extractJSON(reply)
	if jsonStr != "" {
		var resp Response
		if err := json.Unmarshal([]byte(jsonStr), &resp); err == nil {
			resp.ThreatType = strings.ToLower(strings.TrimSpace(resp.ThreatType))
			resp.Confidence = clampUnit(resp.Confidence)
			if resp.Explanation == "" {
				resp.Explanation = "No explanation provided"
			}
			if resp.Recommendation == "" {
				resp.Recommendation = "No recommendation"
			}
			return resp, nil
		}
	}

	return salvageAnalysis(reply)
}

func extractJSON(reply string) string {
	if idx := strings.Index(reply, "```json"); idx >= 0 {
		rest := reply[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(reply, "```"); idx >= 0 {
		rest := reply[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		return reply[start : end+1]
	}
	return ""
}

// salvageAnalysis recovers a low-confidence assessment from free text.
func salvageAnalysis(reply string) (Response, error) {
	text := strings.ToLower(reply)
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("empty reply from reasoning engine")
	}

	resp := Response{
		ThreatType:     "unknown",
		Confidence:     0.4,
		Explanation:    truncate(strings.TrimSpace(reply), 500),
		Recommendation: "Review log manually",
	}

	for _, label := range []string{"brute_force", "brute force", "intrusion", "anomaly", "normal"} {
		if strings.Contains(text, label) {
			resp.ThreatType = strings.ReplaceAll(label, " ", "_")
			break
		}
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
