package config

import "time"

// Config is the root configuration for the repensare service.
type Config struct {
	Server      ServerConfig      `yaml:"server,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Store       StoreConfig       `yaml:"store,omitempty"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore,omitempty"`
	Completion  CompletionConfig  `yaml:"completion,omitempty"`
	WhatsApp    WhatsAppConfig    `yaml:"whatsapp,omitempty"`
	Ingest      IngestConfig      `yaml:"ingest,omitempty"`
}

// ServerConfig controls the HTTP server that receives webhooks.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	Auth           ServerAuth `yaml:"auth,omitempty"`
	// WebhookSecret, when set, must accompany every webhook delivery.
	WebhookSecret  string   `yaml:"webhookSecret,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// ServerAuth protects the control endpoints and the live feed.
type ServerAuth struct {
	Token string `yaml:"token,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// StoreConfig locates the durable store.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // empty = <data dir>/repensare.db
}

// ObjectStoreConfig selects where materialized media lives.
type ObjectStoreConfig struct {
	Driver string           `yaml:"driver,omitempty"` // "local" | "gcs"
	Local  LocalObjectStore `yaml:"local,omitempty"`
	GCS    GCSObjectStore   `yaml:"gcs,omitempty"`
}

// LocalObjectStore keeps media on disk and serves it from the gateway.
type LocalObjectStore struct {
	Dir     string `yaml:"dir,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"` // public origin of this server; files are served under /media/
}

// GCSObjectStore keeps media in a Cloud Storage (Firebase) bucket.
type GCSObjectStore struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
}

// CompletionConfig selects the LLM chat-completion endpoint.
type CompletionConfig struct {
	Provider string        `yaml:"provider,omitempty"` // "openai" | "gemini" | "none"
	APIKey   string        `yaml:"apiKey,omitempty"`
	BaseURL  string        `yaml:"baseUrl,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// WhatsAppConfig tunes the messaging gateway client. Credentials live in the
// admin config document, not here.
type WhatsAppConfig struct {
	BaseURL       string  `yaml:"baseUrl,omitempty"`
	RatePerSecond float64 `yaml:"ratePerSecond,omitempty"`
	Burst         int     `yaml:"burst,omitempty"`
}

// IngestConfig tunes the webhook pipeline.
type IngestConfig struct {
	EchoWindow          time.Duration `yaml:"echoWindow,omitempty"`
	HistoryLimit        int           `yaml:"historyLimit,omitempty"`
	ExternalTimeout     time.Duration `yaml:"externalTimeout,omitempty"`
	ReactionLogThrottle time.Duration `yaml:"reactionLogThrottle,omitempty"`
	MediaMaxBytes       int64         `yaml:"mediaMaxBytes,omitempty"`
}
