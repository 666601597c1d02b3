package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	var paths []string
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Port(t *testing.T) {
	tests := []struct {
		port  int
		valid bool
	}{
		{0, true},
		{8080, true},
		{65535, true},
		{-1, false},
		{70000, false},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Server.Port = tt.port
		issues := Validate(&cfg)
		if tt.valid {
			assert.Empty(t, issues, "port %d", tt.port)
		} else {
			require.Len(t, issues, 1, "port %d", tt.port)
			assert.Equal(t, "server.port", issues[0].Path)
		}
	}
}

func TestValidate_Bind(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Bind = "tailnet"
	assert.Equal(t, []string{"server.bind"}, issuePaths(Validate(&cfg)))

	cfg.Server.Bind = "custom"
	assert.Equal(t, []string{"server.customBindHost"}, issuePaths(Validate(&cfg)))

	cfg.Server.CustomBindHost = "10.0.0.5"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Logging(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	cfg.Logging.ConsoleStyle = "fancy"
	assert.ElementsMatch(t, []string{"logging.level", "logging.consoleStyle"}, issuePaths(Validate(&cfg)))
}

func TestValidate_ObjectStore(t *testing.T) {
	cfg := Defaults()
	cfg.ObjectStore.Driver = "s3"
	assert.Equal(t, []string{"objectStore.driver"}, issuePaths(Validate(&cfg)))

	cfg.ObjectStore.Driver = "gcs"
	assert.Equal(t, []string{"objectStore.gcs.bucket"}, issuePaths(Validate(&cfg)))

	cfg.ObjectStore.GCS.Bucket = "media"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_CompletionProvider(t *testing.T) {
	for _, p := range []string{"openai", "gemini", "none", ""} {
		cfg := Defaults()
		cfg.Completion.Provider = p
		assert.Empty(t, Validate(&cfg), "provider %q should be valid", p)
	}

	cfg := Defaults()
	cfg.Completion.Provider = "claude"
	assert.Equal(t, []string{"completion.provider"}, issuePaths(Validate(&cfg)))
}

func TestValidate_Ingest(t *testing.T) {
	cfg := Defaults()
	cfg.Ingest.EchoWindow = -1
	cfg.Ingest.HistoryLimit = -5
	cfg.Ingest.MediaMaxBytes = -1
	assert.ElementsMatch(t,
		[]string{"ingest.echoWindow", "ingest.historyLimit", "ingest.mediaMaxBytes"},
		issuePaths(Validate(&cfg)))
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "server.port", Message: "bad"}
	assert.Equal(t, "server.port: bad", issue.String())
}
