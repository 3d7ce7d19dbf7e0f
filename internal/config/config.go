// ABOUTME: Configuration loading and parsing for consoledeck.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete consoledeck configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Consoles  []ConsoleConfig `yaml:"consoles"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve HTTPS with tailscale-issued certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// JWTSecret is the HS256 secret shared with the identity provider.
	JWTSecret string `yaml:"jwt_secret"`
	// IdPLoginURL is where SSO starts; the browser is redirected here with
	// a return URL. Empty disables the SSO flow (local login only).
	IdPLoginURL string `yaml:"idp_login_url"`
	// DefaultRoute is where users land after login when no intended route
	// is stored. Defaults to /home.
	DefaultRoute string `yaml:"default_route"`

	SessionDuration time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionDurationRaw string `yaml:"session_duration"`
}

// ConsoleConfig describes one embedded console.
type ConsoleConfig struct {
	Name        string `yaml:"name"`
	Label       string `yaml:"label"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"` // markdown, shown on the portal home page
}

// AlertsConfig controls repeated-failure alerting.
type AlertsConfig struct {
	// FailureThreshold is the consecutive load failures of one console
	// that raise an alert. Zero disables alerting.
	FailureThreshold int `yaml:"failure_threshold"`
}

// NotifyConfig points at the optional Matrix notifier configuration.
type NotifyConfig struct {
	// MatrixConfig is the path to the notifier's TOML config file.
	// Empty disables notifications.
	MatrixConfig string `yaml:"matrix_config"`
}

// LoggingConfig holds logging configuration.
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills optional fields with their default values.
func (c *Config) applyDefaults() {
	if c.Auth.DefaultRoute == "" {
		c.Auth.DefaultRoute = "/home"
	}
	if c.Auth.SessionDuration == 0 {
		c.Auth.SessionDuration = 7 * 24 * time.Hour
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale serves for us
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if len(c.Consoles) == 0 {
		return fmt.Errorf("at least one console must be configured")
	}

	seen := make(map[string]bool, len(c.Consoles))
	for i, console := range c.Consoles {
		if console.Name == "" {
			return fmt.Errorf("consoles[%d].name is required", i)
		}
		if seen[console.Name] {
			return fmt.Errorf("consoles[%d]: duplicate console name %q", i, console.Name)
		}
		seen[console.Name] = true

		if console.URL == "" {
			return fmt.Errorf("console %q: url is required", console.Name)
		}
		u, err := url.Parse(console.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("console %q: url %q is not an absolute URL", console.Name, console.URL)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionDurationRaw != "" {
		cfg.Auth.SessionDuration, err = time.ParseDuration(cfg.Auth.SessionDurationRaw)
		if err != nil {
			return fmt.Errorf("parsing session_duration %q: %w", cfg.Auth.SessionDurationRaw, err)
		}
	}

	return nil
}
