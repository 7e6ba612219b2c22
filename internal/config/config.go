// Package config loads appforge configuration from .appforge/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all appforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Gemini backend configuration
	Gemini GeminiConfig `yaml:"gemini"`

	// Per-gate repair budgets
	Budgets BudgetConfig `yaml:"budgets"`

	// Manifest size limits
	Limits LimitConfig `yaml:"limits"`

	// Lint service configuration
	Lint LintConfig `yaml:"lint"`

	// Status record persistence
	Status StatusConfig `yaml:"status"`

	// Generation history store
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GeminiConfig configures the generative backend client.
type GeminiConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	Timeout         string `yaml:"timeout"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// BudgetConfig bounds every repair loop. Each gate retries independently;
// the generation budget bounds full re-generations after parse exhaustion.
type BudgetConfig struct {
	Generation int    `yaml:"generation"`
	Structure  int    `yaml:"structure"`
	Syntax     int    `yaml:"syntax"`
	Quality    int    `yaml:"quality"`
	Lint       int    `yaml:"lint"`
	Backoff    string `yaml:"backoff"` // base backoff for overloaded backend
}

// LimitConfig caps manifest size.
type LimitConfig struct {
	MaxFiles     int `yaml:"max_files"`
	MaxFileBytes int `yaml:"max_file_bytes"`
}

// LintConfig configures the static lint service.
type LintConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	BatchSize int    `yaml:"batch_size"`
	Timeout   string `yaml:"timeout"`
}

// StatusConfig configures per-request status records.
type StatusConfig struct {
	Dir string `yaml:"dir"`
	TTL string `yaml:"ttl"`
}

// HistoryConfig configures the generation history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls debug logging (mirrored by internal/logging).
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "appforge",
		Version: "1.0.0",
		Gemini: GeminiConfig{
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Model:           "gemini-2.5-flash",
			Timeout:         "10m",
			MaxOutputTokens: 65536,
		},
		Budgets: BudgetConfig{
			Generation: 3,
			Structure:  2,
			Syntax:     2,
			Quality:    1,
			Lint:       2,
			Backoff:    "2s",
		},
		Limits: LimitConfig{
			MaxFiles:     60,
			MaxFileBytes: 200 * 1024,
		},
		Lint: LintConfig{
			Enabled:   true,
			Endpoint:  "http://127.0.0.1:8943/lint",
			BatchSize: 4,
			Timeout:   "30s",
		},
		Status: StatusConfig{
			Dir: ".appforge/status",
			TTL: "24h",
		},
		History: HistoryConfig{
			Path: ".appforge/history.db",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from the workspace, applying defaults for
// anything unset. A missing config file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".appforge", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Gemini.APIKey == "" {
		c.Gemini.APIKey = key
	}
	if model := os.Getenv("APPFORGE_MODEL"); model != "" {
		c.Gemini.Model = model
	}
	if endpoint := os.Getenv("APPFORGE_LINT_ENDPOINT"); endpoint != "" {
		c.Lint.Endpoint = endpoint
	}
}

// GeminiTimeout parses the Gemini timeout string.
func (c *Config) GeminiTimeout() time.Duration {
	return parseDuration(c.Gemini.Timeout, 10*time.Minute)
}

// BackoffBase parses the base backoff duration for overloaded-backend retries.
func (c *Config) BackoffBase() time.Duration {
	return parseDuration(c.Budgets.Backoff, 2*time.Second)
}

// LintTimeout parses the lint service timeout.
func (c *Config) LintTimeout() time.Duration {
	return parseDuration(c.Lint.Timeout, 30*time.Second)
}

// StatusTTL parses the status record time-to-live.
func (c *Config) StatusTTL() time.Duration {
	return parseDuration(c.Status.TTL, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Budgets.Generation < 1 {
		return fmt.Errorf("budgets.generation must be at least 1")
	}
	if c.Budgets.Structure < 0 || c.Budgets.Syntax < 0 || c.Budgets.Quality < 0 || c.Budgets.Lint < 0 {
		return fmt.Errorf("gate budgets must be non-negative")
	}
	if c.Limits.MaxFiles < 1 {
		return fmt.Errorf("limits.max_files must be at least 1")
	}
	if c.Limits.MaxFileBytes < 1 {
		return fmt.Errorf("limits.max_file_bytes must be at least 1")
	}
	if c.Lint.BatchSize < 1 {
		c.Lint.BatchSize = 4
	}
	return nil
}
