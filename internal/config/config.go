// ABOUTME: Configuration loading and parsing for the opsdeck console
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete opsdeck console configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds the remote API endpoints
type APIConfig struct {
	// BaseURL is the REST API root, e.g. "https://ops.example.com/api/v1"
	BaseURL string `yaml:"base_url"`
	// WSBaseURL is the WebSocket root for log streaming. Derived from
	// BaseURL when unset.
	WSBaseURL string `yaml:"ws_base_url"`
	// RefreshPath is the token refresh endpoint relative to BaseURL.
	RefreshPath string `yaml:"refresh_path"`
}

// SessionConfig holds session persistence configuration
type SessionConfig struct {
	// ProfilePath is where the user profile is persisted between runs.
	// The access token is never written there.
	ProfilePath string `yaml:"profile_path"`
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a configuration from just an API base URL, for running
// without a config file. All other fields take their defaults.
func FromEnv(baseURL string) (*Config, error) {
	cfg := &Config{API: APIConfig{BaseURL: baseURL}}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the fields that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.API.RefreshPath == "" {
		c.API.RefreshPath = "/auth/refresh"
	}
	if c.API.WSBaseURL == "" {
		c.API.WSBaseURL = deriveWSBaseURL(c.API.BaseURL)
	}
	if c.Session.ProfilePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Session.ProfilePath = filepath.Join(home, ".opsdeck", "profile.toml")
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// deriveWSBaseURL maps an http(s) API root to its ws(s) equivalent.
func deriveWSBaseURL(baseURL string) string {
	switch {
	case len(baseURL) > 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:]
	case len(baseURL) > 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:]
	default:
		return baseURL
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.HTTP.TimeoutRaw != "" {
		cfg.HTTP.Timeout, err = time.ParseDuration(cfg.HTTP.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.HTTP.TimeoutRaw, err)
		}
	}

	return nil
}
