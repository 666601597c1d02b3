package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// GeminiAPIClient is a direct HTTP client for Google Gemini API.
type GeminiAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiAPIClient creates a new Gemini API client.
func NewGeminiAPIClient(apiKey, baseURL string, timeout time.Duration) *GeminiAPIClient {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GeminiAPIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete sends a non-streaming completion request to Gemini API.
func (g *GeminiAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	model := g.model(req.Model)

	payload, err := json.Marshal(g.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: g.Name(), Code: resp.StatusCode, Message: string(respBody)}
	}

	var result geminiAPIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return g.responseToCompletion(&result, model, time.Since(start)), nil
}

// Name returns the provider name.
func (g *GeminiAPIClient) Name() string {
	return "gemini"
}

// model keeps admin-configured model names meant for other providers from
// reaching the Gemini endpoint.
func (g *GeminiAPIClient) model(requested string) string {
	if strings.HasPrefix(requested, "gemini") {
		return requested
	}
	return defaultGeminiModel
}

func (g *GeminiAPIClient) buildRequestBody(req CompletionRequest) map[string]any {
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": msg.Content}},
		})
	}

	genConfig := map[string]any{}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}

	body := map[string]any{
		"contents":         contents,
		"generationConfig": genConfig,
	}
	if req.System != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": req.System}},
		}
	}
	return body
}

func (g *GeminiAPIClient) responseToCompletion(resp *geminiAPIResponse, model string, duration time.Duration) *CompletionResponse {
	var content strings.Builder
	stopReason := ""

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		for _, part := range candidate.Content.Parts {
			content.WriteString(part.Text)
		}
		stopReason = candidate.FinishReason
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Model:      model,
		Usage: Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
		Duration: duration,
	}
}

// API Response structures

type geminiAPIResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
		Role  string       `json:"role"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}
