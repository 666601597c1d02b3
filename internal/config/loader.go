package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens and keys can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.Auth.Token = expandEnvVars(cfg.Server.Auth.Token)
	cfg.Server.WebhookSecret = expandEnvVars(cfg.Server.WebhookSecret)
	cfg.Completion.APIKey = expandEnvVars(cfg.Completion.APIKey)
	cfg.ObjectStore.GCS.CredentialsFile = expandEnvVars(cfg.ObjectStore.GCS.CredentialsFile)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			expandSensitiveFields(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "lan"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.ObjectStore.Driver == "" {
		cfg.ObjectStore.Driver = "local"
	}
	if cfg.Completion.Provider == "" {
		cfg.Completion.Provider = "openai"
	}
	if cfg.Completion.Timeout == 0 {
		cfg.Completion.Timeout = DefaultExternalTimeout
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = DefaultWhatsAppBaseURL
	}
	if cfg.WhatsApp.RatePerSecond == 0 {
		cfg.WhatsApp.RatePerSecond = 5
	}
	if cfg.WhatsApp.Burst == 0 {
		cfg.WhatsApp.Burst = 5
	}
	if cfg.Ingest.EchoWindow == 0 {
		cfg.Ingest.EchoWindow = DefaultEchoWindow
	}
	if cfg.Ingest.HistoryLimit == 0 {
		cfg.Ingest.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Ingest.ExternalTimeout == 0 {
		cfg.Ingest.ExternalTimeout = DefaultExternalTimeout
	}
	if cfg.Ingest.ReactionLogThrottle == 0 {
		cfg.Ingest.ReactionLogThrottle = DefaultReactionLogThrottle
	}
	if cfg.Ingest.MediaMaxBytes == 0 {
		cfg.Ingest.MediaMaxBytes = DefaultMediaMaxBytes
	}
}

// applyEnvOverrides reads REPENSARE_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPENSARE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PORT"); v != "" && os.Getenv("REPENSARE_PORT") == "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REPENSARE_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("REPENSARE_AUTH_TOKEN"); v != "" {
		cfg.Server.Auth.Token = v
	}
	if v := os.Getenv("REPENSARE_WEBHOOK_SECRET"); v != "" {
		cfg.Server.WebhookSecret = v
	}
	if v := os.Getenv("REPENSARE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("REPENSARE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REPENSARE_COMPLETION_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("REPENSARE_GCS_BUCKET"); v != "" {
		cfg.ObjectStore.GCS.Bucket = v
	}
	if v := os.Getenv("REPENSARE_ECHO_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.EchoWindow = d
		}
	}
}
