package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewProviderSelection(t *testing.T) {
	if p, err := NewProvider("", ProviderConfig{}); err != nil || p != nil {
		t.Errorf("Empty name should select no provider, got %v, %v", p, err)
	}
	if p, err := NewProvider("fallback", ProviderConfig{}); err != nil || p != nil {
		t.Errorf("fallback should select no provider, got %v, %v", p, err)
	}
	if p, err := NewProvider("ollama", ProviderConfig{}); err != nil || p == nil || p.Name() != "ollama" {
		t.Errorf("Expected ollama provider, got %v, %v", p, err)
	}
	if p, err := NewProvider("LM_Studio", ProviderConfig{}); err != nil || p == nil || p.Name() != "lmstudio" {
		t.Errorf("Expected lmstudio provider, got %v, %v", p, err)
	}
	if _, err := NewProvider("gpt9000", ProviderConfig{}); err == nil {
		t.Errorf("Expected error for unknown provider")
	}
}

func TestOllamaProviderClassify(t *testing.T) {
	var gotPath string
	var gotReq map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]string{
			"response": "```json\n{\"threat_type\": \"brute_force\", \"confidence\": 0.9, \"explanation\": \"x\"}\n```",
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(ProviderConfig{Model: "llama3.2:1b", BaseURL: srv.URL})
	resp, err := p.Classify(context.Background(), Request{DeviceID: "cam01", RawMessage: "Failed login x5"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if gotPath != "/api/generate" {
		t.Errorf("Expected /api/generate, got %s", gotPath)
	}
	if gotReq["model"] != "llama3.2:1b" {
		t.Errorf("Expected model in request, got %v", gotReq["model"])
	}
	if stream, ok := gotReq["stream"].(bool); !ok || stream {
		t.Errorf("Expected stream=false, got %v", gotReq["stream"])
	}
	prompt, _ := gotReq["prompt"].(string)
	if !strings.Contains(prompt, "cam01") || !strings.Contains(prompt, "Failed login x5") {
		t.Errorf("Prompt missing event details: %s", prompt)
	}

	if resp.ThreatType != "brute_force" || resp.Confidence != 0.9 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestOllamaProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL})
	if _, err := p.Classify(context.Background(), Request{RawMessage: "x"}); err == nil {
		t.Fatalf("Expected error for non-2xx status")
	}
}

func TestLMStudioProviderClassify(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{
					"role":    "assistant",
					"content": `{"threat_type": "anomaly", "confidence": 0.7, "explanation": "odd traffic"}`,
				}},
			},
		})
	}))
	defer srv.Close()

	p := NewLMStudioProvider(ProviderConfig{Model: "qwen2.5", BaseURL: srv.URL})
	resp, err := p.Classify(context.Background(), Request{DeviceID: "gw01", RawMessage: "Port scan detected"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if gotPath != "/v1/chat/completions" {
		t.Errorf("Expected /v1/chat/completions, got %s", gotPath)
	}
	if resp.ThreatType != "anomaly" || resp.Confidence != 0.7 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestLMStudioProviderNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	p := NewLMStudioProvider(ProviderConfig{BaseURL: srv.URL})
	if _, err := p.Classify(context.Background(), Request{RawMessage: "x"}); err == nil {
		t.Fatalf("Expected error for empty choices")
	}
}

func TestProbes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags", "/v1/models":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	if err := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL}).Probe(context.Background()); err != nil {
		t.Errorf("Ollama probe failed: %v", err)
	}
	if err := NewLMStudioProvider(ProviderConfig{BaseURL: srv.URL}).Probe(context.Background()); err != nil {
		t.Errorf("LM Studio probe failed: %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	if err := NewOllamaProvider(ProviderConfig{BaseURL: down.URL}).Probe(context.Background()); err == nil {
		t.Errorf("Expected probe failure for unavailable server")
	}
}
