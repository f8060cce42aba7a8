// ABOUTME: Configuration loading and parsing for coven-bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-bridge configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Streaming StreamingConfig `yaml:"streaming"`
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds session store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	// MaxConcurrent caps the number of live sessions. Starts past the cap
	// are rejected immediately, never queued.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ResumeFailLimit bounds consecutive failed resume attempts before the
	// persisted record is dropped.
	ResumeFailLimit int `yaml:"resume_fail_limit"`

	IdleTimeout   time.Duration `yaml:"-"`
	WarningWindow time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
	StaleAge      time.Duration `yaml:"-"`
	Retention     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	WarningWindowRaw string `yaml:"warning_window"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
	StaleAgeRaw      string `yaml:"stale_age"`
	RetentionRaw     string `yaml:"retention"`
}

// StreamingConfig holds streaming engine thresholds
type StreamingConfig struct {
	// SoftLimit is the message size past which a logical breakpoint is
	// sought; HardLimit is the platform ceiling and is never exceeded.
	SoftLimit int `yaml:"soft_limit"`
	HardLimit int `yaml:"hard_limit"`
	Lookahead int `yaml:"lookahead"`

	Debounce       time.Duration `yaml:"-"`
	TypingInterval time.Duration `yaml:"-"`

	DebounceRaw       string `yaml:"debounce"`
	TypingIntervalRaw string `yaml:"typing_interval"`
}

// AgentConfig holds agent process configuration
type AgentConfig struct {
	// McpConfigPath points at the TOML MCP server config handed to
	// launched agent processes. Optional.
	McpConfigPath string `yaml:"mcp_config"`

	// WorkspaceBase is the directory isolated workspaces are created under.
	WorkspaceBase string `yaml:"workspace_base"`
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

// applyDefaults fills in unset fields with operational defaults.
func (c *Config) applyDefaults() {
	if c.Sessions.MaxConcurrent <= 0 {
		c.Sessions.MaxConcurrent = 10
	}
	if c.Sessions.ResumeFailLimit <= 0 {
		c.Sessions.ResumeFailLimit = 3
	}
	if c.Sessions.IdleTimeout <= 0 {
		c.Sessions.IdleTimeout = 4 * time.Hour
	}
	if c.Sessions.WarningWindow <= 0 {
		c.Sessions.WarningWindow = 15 * time.Minute
	}
	if c.Sessions.SweepInterval <= 0 {
		c.Sessions.SweepInterval = time.Minute
	}
	if c.Sessions.StaleAge <= 0 {
		c.Sessions.StaleAge = 7 * 24 * time.Hour
	}
	if c.Sessions.Retention <= 0 {
		c.Sessions.Retention = 30 * 24 * time.Hour
	}
	if c.Streaming.SoftLimit <= 0 {
		c.Streaming.SoftLimit = 3000
	}
	if c.Streaming.HardLimit <= 0 {
		c.Streaming.HardLimit = 16000
	}
	if c.Streaming.Lookahead <= 0 {
		c.Streaming.Lookahead = 600
	}
	if c.Streaming.Debounce <= 0 {
		c.Streaming.Debounce = 750 * time.Millisecond
	}
	if c.Streaming.TypingInterval <= 0 {
		c.Streaming.TypingInterval = 8 * time.Second
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Streaming.SoftLimit >= c.Streaming.HardLimit {
		return fmt.Errorf("streaming.soft_limit must be below streaming.hard_limit")
	}
	if c.Streaming.SoftLimit+c.Streaming.Lookahead > c.Streaming.HardLimit {
		return fmt.Errorf("streaming.lookahead must not push past streaming.hard_limit")
	}
	if c.Sessions.WarningWindow >= c.Sessions.IdleTimeout {
		return fmt.Errorf("sessions.warning_window must be below sessions.idle_timeout")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout, "idle_timeout"},
		{cfg.Sessions.WarningWindowRaw, &cfg.Sessions.WarningWindow, "warning_window"},
		{cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval, "sweep_interval"},
		{cfg.Sessions.StaleAgeRaw, &cfg.Sessions.StaleAge, "stale_age"},
		{cfg.Sessions.RetentionRaw, &cfg.Sessions.Retention, "retention"},
		{cfg.Streaming.DebounceRaw, &cfg.Streaming.Debounce, "debounce"},
		{cfg.Streaming.TypingIntervalRaw, &cfg.Streaming.TypingInterval, "typing_interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
