// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://ops.example.com/api/v1"
  ws_base_url: "wss://ops.example.com/api/v1"
  refresh_path: "/auth/refresh"

session:
  profile_path: "/tmp/opsdeck-profile.toml"

http:
  timeout: "45s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://ops.example.com/api/v1" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "https://ops.example.com/api/v1")
	}
	if cfg.API.WSBaseURL != "wss://ops.example.com/api/v1" {
		t.Errorf("API.WSBaseURL = %q, want %q", cfg.API.WSBaseURL, "wss://ops.example.com/api/v1")
	}
	if cfg.Session.ProfilePath != "/tmp/opsdeck-profile.toml" {
		t.Errorf("Session.ProfilePath = %q", cfg.Session.ProfilePath)
	}
	if cfg.HTTP.Timeout != 45*time.Second {
		t.Errorf("HTTP.Timeout = %v, want %v", cfg.HTTP.Timeout, 45*time.Second)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	os.Setenv("OPSDECK_TEST_URL", "https://env.example.com/api/v1")
	defer os.Unsetenv("OPSDECK_TEST_URL")

	configPath := writeConfig(t, `
api:
  base_url: "${OPSDECK_TEST_URL}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://env.example.com/api/v1" {
		t.Errorf("API.BaseURL = %q, want expanded env var", cfg.API.BaseURL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://ops.example.com/api/v1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.WSBaseURL != "wss://ops.example.com/api/v1" {
		t.Errorf("API.WSBaseURL = %q, want derived wss URL", cfg.API.WSBaseURL)
	}
	if cfg.API.RefreshPath != "/auth/refresh" {
		t.Errorf("API.RefreshPath = %q, want default", cfg.API.RefreshPath)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want default text", cfg.Logging.Format)
	}
	if cfg.Session.ProfilePath == "" {
		t.Error("Session.ProfilePath should default to a home-relative path")
	}
}

func TestLoad_DerivesWSFromPlainHTTP(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "http://localhost:8080/api/v1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.WSBaseURL != "ws://localhost:8080/api/v1" {
		t.Errorf("API.WSBaseURL = %q, want ws:// derivation", cfg.API.WSBaseURL)
	}
}

func TestLoad_MissingBaseURL(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "info"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail without api.base_url")
	}
	if !strings.Contains(err.Error(), "api.base_url") {
		t.Errorf("error should mention api.base_url, got: %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://ops.example.com/api/v1"
http:
  timeout: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail on an invalid duration")
	}
}

func TestLoad_InvalidLoggingFormat(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://ops.example.com/api/v1"
logging:
  format: "xml"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should reject unknown logging formats")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() should fail on a missing file")
	}
}
