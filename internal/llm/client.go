// Package llm defines the chat-completion client interface and its HTTP providers.
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a Complete call.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	Content    string        `json:"content"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Client is the interface all completion providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g., "openai", "gemini").
	Name() string
}
