package classify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is what the reasoning engine is asked to analyze.
type Request struct {
	RawMessage    string
	DeviceID      string
	RecentContext []string
}

// Response is the raw reasoning engine output before taxonomy
// normalization.
type Response struct {
	ThreatType     string  `json:"threat_type"`
	Confidence     float64 `json:"confidence"`
	Explanation    string  `json:"explanation"`
	Recommendation string  `json:"recommendation"`
}

// Provider is one reasoning engine backend. Providers are selected at
// startup by configuration, never by runtime type inspection.
type Provider interface {
	Classify(ctx context.Context, req Request) (Response, error)
	Probe(ctx context.Context) error
	Name() string
}

// ProviderConfig configures an HTTP reasoning engine backend.
type ProviderConfig struct {
	Model   string
	BaseURL string
}

// Sampling defaults shared by all providers.
const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 500
	probeTimeout       = 5 * time.Second
)

// NewProvider creates the named provider. The empty name and "fallback"
// select no provider at all: the adapter then classifies locally.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fallback":
		return nil, nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	case "lmstudio", "lm_studio":
		return NewLMStudioProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider: %s", name)
	}
}

// buildPrompt renders the analysis prompt for a log event.
func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are a cybersecurity expert analyzing IoT device logs. ")
	sb.WriteString("Analyze the following log message and determine if it indicates a security threat.\n\n")
	fmt.Fprintf(&sb, "Device ID: %s\n", req.DeviceID)
	fmt.Fprintf(&sb, "Log Message: %s\n", req.RawMessage)
	if len(req.RecentContext) > 0 {
		sb.WriteString("Recent activity from this device:\n")
		for _, line := range req.RecentContext {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}
	sb.WriteString(`
Provide your analysis in JSON format with the following fields:
- threat_type: one of "intrusion", "brute_force", "anomaly", "normal", "unknown"
- confidence: float between 0.0 and 1.0
- explanation: brief explanation of what the log indicates
- recommendation: actionable security recommendation

Focus on:
- Unauthorized access attempts
- Unusual network activity
- Authentication failures
- Configuration changes
- Anomalous behavior patterns

JSON Response:`)
	return sb.String()
}
