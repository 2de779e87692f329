// Package config resolves run settings from an optional YAML file, a .env
// file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "config/config.yaml"

// Config holds everything a run needs before the core starts.
type Config struct {
	Sheets     SheetsConfig     `yaml:"google_sheets"`
	Input      string           `yaml:"input_dir"`
	Cache      string           `yaml:"cache"`
	Rules      string           `yaml:"rules_file"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Firestore  FirestoreConfig  `yaml:"firestore"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Schedule   string           `yaml:"schedule"`
	DryRun     bool             `yaml:"-"`
}

// SheetsConfig identifies the spreadsheet and tunes API pacing.
type SheetsConfig struct {
	SpreadsheetID      string        `yaml:"spreadsheet_id"`
	ServiceAccountPath string        `yaml:"service_account_path"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Burst              int           `yaml:"burst"`
	MaxRetries         uint64        `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
}

// ClassifierConfig configures the category oracle. The API key only comes
// from the environment.
type ClassifierConfig struct {
	Model   string `yaml:"model"`
	Enabled *bool  `yaml:"enabled"`
	APIKey  string `yaml:"-"`
}

// FirestoreConfig enables run history and the Firestore category cache.
type FirestoreConfig struct {
	ProjectID string `yaml:"project_id"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RequireAuth rejects requests without a Firebase ID token. It needs a
	// Firestore project.
	RequireAuth bool `yaml:"require_auth"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Input: "stocks",
		Cache: "json:config/sector_cache.json",
		Sheets: SheetsConfig{
			RequestsPerSecond: 1,
			Burst:             5,
			MaxRetries:        4,
			RetryDelay:        time.Second,
		},
		Classifier: ClassifierConfig{Model: "gemini-2.0-flash"},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Server:     ServerConfig{Addr: ":8080", RequireAuth: true},
		Schedule:   "@every 1h",
	}
}

// Load reads path (DefaultPath when empty) over the defaults, then applies
// .env and environment overrides. A missing file is not an error unless the
// path was given explicitly.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Sheets.SpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", c.Sheets.SpreadsheetID)
	c.Sheets.ServiceAccountPath = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Sheets.ServiceAccountPath)
	c.Input = getEnv("TRADESYNC_INPUT", c.Input)
	c.Cache = getEnv("TRADESYNC_CACHE", c.Cache)
	c.Rules = getEnv("TRADESYNC_RULES", c.Rules)
	c.Logging.Level = getEnv("TRADESYNC_LOG_LEVEL", c.Logging.Level)
	c.Classifier.APIKey = getEnv("GEMINI_API_KEY", c.Classifier.APIKey)
	c.Firestore.ProjectID = getEnv("FIRESTORE_PROJECT", c.Firestore.ProjectID)
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}

	if v := os.Getenv("TRADESYNC_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TRADESYNC_DRY_RUN %q: %w", v, err)
		}
		c.DryRun = b
	}
	return nil
}

// ClassifierEnabled reports whether the oracle should be used: an API key is
// present and the config does not switch it off.
func (c *Config) ClassifierEnabled() bool {
	if c.Classifier.Enabled != nil && !*c.Classifier.Enabled {
		return false
	}
	return c.Classifier.APIKey != ""
}

// Validate checks the settings a run depends on. The spreadsheet ID may be
// empty only in dry-run mode.
func (c *Config) Validate() error {
	var problems []string
	if c.Sheets.SpreadsheetID == "" && !c.DryRun {
		problems = append(problems, "spreadsheet ID is required (google_sheets.spreadsheet_id or GOOGLE_SPREADSHEET_ID)")
	}
	if strings.TrimSpace(c.Input) == "" {
		problems = append(problems, "input directory is required")
	}
	if c.Sheets.RequestsPerSecond <= 0 {
		problems = append(problems, "requests_per_second must be positive")
	}
	if c.Sheets.Burst <= 0 {
		problems = append(problems, "burst must be positive")
	}
	if c.Sheets.ServiceAccountPath != "" {
		if _, err := os.Stat(c.Sheets.ServiceAccountPath); err != nil {
			problems = append(problems, fmt.Sprintf("service account file: %v", err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
