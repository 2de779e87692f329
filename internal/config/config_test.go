package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"GOOGLE_SPREADSHEET_ID", "GOOGLE_APPLICATION_CREDENTIALS", "TRADESYNC_INPUT",
	"TRADESYNC_CACHE", "TRADESYNC_LOG_LEVEL", "GEMINI_API_KEY", "FIRESTORE_PROJECT",
	"TRADESYNC_DRY_RUN", "TRADESYNC_RULES", "PORT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "stocks", cfg.Input)
	assert.Equal(t, "json:config/sector_cache.json", cfg.Cache)
	assert.Equal(t, "gemini-2.0-flash", cfg.Classifier.Model)
	assert.Equal(t, uint64(4), cfg.Sheets.MaxRetries)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
google_sheets:
  spreadsheet_id: "sheet-from-file"
  requests_per_second: 2.5
  retry_delay: 3s
input_dir: exports
logging:
  level: debug
  format: json
classifier:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sheet-from-file", cfg.Sheets.SpreadsheetID)
	assert.Equal(t, 2.5, cfg.Sheets.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Sheets.Burst, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Sheets.RetryDelay)
	assert.Equal(t, "exports", cfg.Input)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.NotNil(t, cfg.Classifier.Enabled)
	assert.False(t, *cfg.Classifier.Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "google_sheets:\n  spreadsheet_id: from-file\ninput_dir: exports\n")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "from-env")
	t.Setenv("TRADESYNC_INPUT", "/data/stocks")
	t.Setenv("TRADESYNC_LOG_LEVEL", "warn")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("TRADESYNC_CACHE", "sqlite:cache.db")
	t.Setenv("FIRESTORE_PROJECT", "proj")
	t.Setenv("TRADESYNC_DRY_RUN", "true")
	t.Setenv("TRADESYNC_RULES", "config/rules.yaml")
	t.Setenv("PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Sheets.SpreadsheetID)
	assert.Equal(t, "/data/stocks", cfg.Input)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "key", cfg.Classifier.APIKey)
	assert.Equal(t, "sqlite:cache.db", cfg.Cache)
	assert.Equal(t, "proj", cfg.Firestore.ProjectID)
	assert.Equal(t, "config/rules.yaml", cfg.Rules)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.DryRun)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "explicit missing path is an error")

	_, err = Load(writeConfig(t, "google_sheets: [unclosed"))
	assert.Error(t, err)

	t.Setenv("TRADESYNC_DRY_RUN", "maybe")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) { c.Sheets.SpreadsheetID = "id" }},
		{name: "dry run without id", mutate: func(c *Config) { c.DryRun = true }},
		{name: "missing id", mutate: func(c *Config) {}, wantErr: "spreadsheet ID is required"},
		{name: "empty input", mutate: func(c *Config) { c.Sheets.SpreadsheetID = "id"; c.Input = " " }, wantErr: "input directory"},
		{name: "bad rate", mutate: func(c *Config) { c.Sheets.SpreadsheetID = "id"; c.Sheets.RequestsPerSecond = 0 }, wantErr: "requests_per_second"},
		{name: "missing key file", mutate: func(c *Config) {
			c.Sheets.SpreadsheetID = "id"
			c.Sheets.ServiceAccountPath = "/nonexistent/key.json"
		}, wantErr: "service account file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

func TestClassifierEnabled(t *testing.T) {
	off := false
	cfg := Default()
	assert.False(t, cfg.ClassifierEnabled())

	cfg.Classifier.APIKey = "key"
	assert.True(t, cfg.ClassifierEnabled())

	cfg.Classifier.Enabled = &off
	assert.False(t, cfg.ClassifierEnabled())
}
