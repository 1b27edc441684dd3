// ABOUTME: Configuration loading and parsing for parlor-web
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

// EnvConfigPath overrides the configuration file location when set.
const EnvConfigPath = "PARLOR_CONFIG"

// Config represents the complete parlor-web configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Monitor MonitorConfig `yaml:"monitor"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DataConfig holds local data directory configuration
type DataConfig struct {
	// Dir is where the local key/value store lives. Defaults to a
	// per-user data directory when empty.
	Dir string `yaml:"dir"`
}

// BackendConfig holds backend resolution configuration
type BackendConfig struct {
	// StaticConfig is a path or URL to a bundled configuration document
	// consulted during backend resolution.
	StaticConfig string `yaml:"static_config"`
	// Environment namespaces the locally cached backend configuration.
	Environment string `yaml:"environment"`
}

// SessionConfig holds browser session configuration
type SessionConfig struct {
	// Secret signs session cookies. When empty an ephemeral secret is
	// generated at startup, invalidating sessions across restarts.
	Secret string `yaml:"secret"`
}

// MonitorConfig holds self-healing monitor timing configuration
type MonitorConfig struct {
	HealInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	HealIntervalRaw string `yaml:"heal_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{HTTPAddr: ":8080"},
		Backend: BackendConfig{Environment: "production"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
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

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath returns the configuration file to load: the PARLOR_CONFIG
// environment variable when set, otherwise parlor/parlor.yaml under the
// user's config directory. The returned path may not exist.
func ResolvePath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config dir: %w", err)
	}
	return filepath.Join(base, "parlor", "parlor.yaml"), nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Backend.Environment == "" {
		return fmt.Errorf("backend.environment is required")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Monitor.HealInterval < 0 {
		return fmt.Errorf("monitor.heal_interval must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Monitor.HealIntervalRaw != "" {
		cfg.Monitor.HealInterval, err = time.ParseDuration(cfg.Monitor.HealIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heal_interval %q: %w", cfg.Monitor.HealIntervalRaw, err)
		}
	}

	return nil
}
