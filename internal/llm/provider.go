package llm

import (
	"errors"
	"fmt"

	"github.com/KevenMor/repensare-sub001/internal/config"
	"github.com/KevenMor/repensare-sub001/internal/logging"
)

// ErrDisabled is returned by New when completion is turned off.
var ErrDisabled = errors.New("llm: completion provider disabled")

// ProviderError is returned when an LLM provider answers with an error status.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// New builds the client selected by cfg.
func New(cfg config.CompletionConfig, log *logging.Logger) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: completion.apiKey is required for openai")
		}
		log.Sub("llm").Info().Str("provider", "openai").Str("baseUrl", cfg.BaseURL).Msg("completion provider ready")
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: completion.apiKey is required for gemini")
		}
		log.Sub("llm").Info().Str("provider", "gemini").Msg("completion provider ready")
		return NewGeminiAPIClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
