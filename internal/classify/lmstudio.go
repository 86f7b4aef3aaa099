package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// LMStudioProvider talks to an OpenAI-compatible chat completions API,
// as served by LM Studio and llama.cpp.
type LMStudioProvider struct {
	model   string
	baseURL string
	client  *http.Client
}

// NewLMStudioProvider creates an LM Studio-backed provider.
func NewLMStudioProvider(cfg ProviderConfig) *LMStudioProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:1234"
	}
	return &LMStudioProvider{
		model:   cfg.Model,
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// Name identifies the provider.
func (p *LMStudioProvider) Name() string { return "lmstudio" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the analysis prompt and parses the reply.
func (p *LMStudioProvider) Classify(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: buildPrompt(req)}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return Response{}, fmt.Errorf("chat request failed with status %s", resp.Status)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("chat response has no choices")
	}

	return parseAnalysis(out.Choices[0].Message.Content)
}

// Probe checks that the chat completions server is reachable.
func (p *LMStudioProvider) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("lmstudio probe failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lmstudio probe failed with status %s", resp.Status)
	}
	return nil
}
