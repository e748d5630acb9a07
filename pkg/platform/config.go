// Package platform wires the interactd process together: configuration
// loading and the component startup/shutdown lifecycle.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streamware/interactd/pkg/catalog"
	"github.com/streamware/interactd/pkg/downloads"
	"github.com/streamware/interactd/pkg/session"
)

// Config holds the complete process configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Sessions  session.Config   `yaml:"sessions"`
	Catalog   catalog.Config   `yaml:"catalog"`
	Downloads downloads.Config `yaml:"downloads"`
	Auth      AuthConfig       `yaml:"auth"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures admin API authentication.
type AuthConfig struct {
	// Issuer is the expected issuer claim in bearer JWTs.
	Issuer string `yaml:"issuer"`

	// SigningKey is the HMAC key used to verify JWT signatures.
	SigningKey string `yaml:"signing_key"`

	// APIKeys are static keys accepted via the X-API-Key header.
	APIKeys []APIKeyDef `yaml:"api_keys"`
}

// APIKeyDef defines a static API key.
type APIKeyDef struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// LoadConfig reads, expands, parses, and defaults a YAML config file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Sessions.Defaults.Lifetime == 0 {
		cfg.Sessions.Defaults.Lifetime = 2 * time.Minute
	}
	if cfg.Sessions.Defaults.WarningOffset == 0 {
		cfg.Sessions.Defaults.WarningOffset = 30 * time.Second
	}
	if cfg.Sessions.Defaults.MaxInteractions == 0 {
		cfg.Sessions.Defaults.MaxInteractions = 50
	}
	if cfg.Sessions.GlobalLimit == 0 {
		cfg.Sessions.GlobalLimit = 500
	}
	if cfg.Sessions.OwnerLimit == 0 {
		cfg.Sessions.OwnerLimit = 3
	}
	if cfg.Downloads.Concurrency == 0 {
		cfg.Downloads.Concurrency = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Sessions.Defaults.WarningOffset >= c.Sessions.Defaults.Lifetime {
		return fmt.Errorf("config: warning_offset (%s) must be shorter than lifetime (%s)",
			c.Sessions.Defaults.WarningOffset, c.Sessions.Defaults.Lifetime)
	}
	if c.Sessions.OwnerLimit > 0 && c.Sessions.GlobalLimit > 0 &&
		c.Sessions.OwnerLimit > c.Sessions.GlobalLimit {
		return fmt.Errorf("config: owner_limit (%d) exceeds global_limit (%d)",
			c.Sessions.OwnerLimit, c.Sessions.GlobalLimit)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}
