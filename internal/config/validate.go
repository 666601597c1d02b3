package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"lan", "loopback", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.customBindHost",
			Message: "required when bind is custom",
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Object store validation
	validDrivers := []string{"local", "gcs"}
	if cfg.ObjectStore.Driver != "" && !slices.Contains(validDrivers, cfg.ObjectStore.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "objectStore.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validDrivers, cfg.ObjectStore.Driver),
		})
	}
	if cfg.ObjectStore.Driver == "gcs" && cfg.ObjectStore.GCS.Bucket == "" {
		issues = append(issues, ValidationIssue{
			Path:    "objectStore.gcs.bucket",
			Message: "bucket is required for the gcs driver",
		})
	}

	// Completion validation
	validProviders := []string{"openai", "gemini", "none"}
	if cfg.Completion.Provider != "" && !slices.Contains(validProviders, cfg.Completion.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "completion.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validProviders, cfg.Completion.Provider),
		})
	}
	if cfg.Completion.Timeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "completion.timeout",
			Message: "must not be negative",
		})
	}

	// WhatsApp validation
	if cfg.WhatsApp.RatePerSecond < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "whatsapp.ratePerSecond",
			Message: "must not be negative",
		})
	}

	// Ingest validation
	if cfg.Ingest.EchoWindow < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "ingest.echoWindow",
			Message: "must not be negative",
		})
	}
	if cfg.Ingest.HistoryLimit < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "ingest.historyLimit",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Ingest.HistoryLimit),
		})
	}
	if cfg.Ingest.MediaMaxBytes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "ingest.mediaMaxBytes",
			Message: "must not be negative",
		})
	}

	return issues
}
