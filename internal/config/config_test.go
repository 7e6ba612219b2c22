package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Gemini.Model == "" {
		t.Error("Default Gemini model is empty")
	}
	if cfg.Budgets.Generation < 1 {
		t.Error("Default generation budget must be positive")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Limits.MaxFiles != DefaultConfig().Limits.MaxFiles {
		t.Error("Missing file should yield defaults")
	}
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".appforge"), 0755); err != nil {
		t.Fatal(err)
	}
	yaml := `
gemini:
  model: gemini-2.5-pro
  timeout: 5m
budgets:
  lint: 5
limits:
  max_files: 10
  max_file_bytes: 1024
`
	if err := os.WriteFile(filepath.Join(dir, ".appforge", "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Errorf("Model = %q, want gemini-2.5-pro", cfg.Gemini.Model)
	}
	if cfg.GeminiTimeout() != 5*time.Minute {
		t.Errorf("GeminiTimeout = %v, want 5m", cfg.GeminiTimeout())
	}
	if cfg.Budgets.Lint != 5 {
		t.Errorf("Lint budget = %d, want 5", cfg.Budgets.Lint)
	}
	if cfg.Limits.MaxFiles != 10 {
		t.Errorf("MaxFiles = %d, want 10", cfg.Limits.MaxFiles)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key-from-env")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gemini.APIKey != "test-key-from-env" {
		t.Errorf("APIKey = %q, want env value", cfg.Gemini.APIKey)
	}
}

func TestParseDuration_Fallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budgets.Backoff = "not-a-duration"
	if cfg.BackoffBase() != 2*time.Second {
		t.Errorf("BackoffBase fallback = %v, want 2s", cfg.BackoffBase())
	}
}

func TestValidate_BadBudgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budgets.Generation = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero generation budget")
	}

	cfg = DefaultConfig()
	cfg.Budgets.Lint = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative lint budget")
	}
}
