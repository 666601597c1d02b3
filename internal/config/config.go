package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Default values shared by Defaults and applyDefaults.
const (
	DefaultPort                = 8080
	DefaultEchoWindow          = 2 * time.Minute
	DefaultHistoryLimit        = 10
	DefaultExternalTimeout     = 15 * time.Second
	DefaultReactionLogThrottle = 5 * time.Second
	DefaultMediaMaxBytes       = 50 * 1024 * 1024
	DefaultWhatsAppBaseURL     = "https://api.z-api.io"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}
