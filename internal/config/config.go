// Package config loads the runtime configuration from YAML with environment
// variable expansion. Unknown keys are rejected so typos fail fast.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/conduit/internal/ratelimit"
	"github.com/haasonsaas/conduit/internal/sandbox"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Config is the root configuration for the conduit runtime.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	Sandbox  sandbox.Limits `yaml:"sandbox"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

type SecurityConfig struct {
	RateLimit     ratelimit.Config `yaml:"rate_limit"`
	AuditCapacity int              `yaml:"audit_capacity"`
}

type SnapshotConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}

// DefaultsConfig sets the preferences applied to new conversations. Zero
// fields fall back to the model defaults.
type DefaultsConfig struct {
	MaxToolCalls      int      `yaml:"max_tool_calls"`
	AllowedCategories []string `yaml:"allowed_categories"`
	Verbosity         string   `yaml:"verbosity"`
	SafetyLevel       string   `yaml:"safety_level"`
	AutoExecute       *bool    `yaml:"auto_execute"`
	MaxIdle           Duration `yaml:"max_idle"`
}

// Duration wraps time.Duration with YAML string parsing ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and parses the configuration file. Environment variable
// references ($VAR or ${VAR}) in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes configuration bytes. Unknown fields are an error.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "conduit"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Security.RateLimit.Window == 0 && cfg.Security.RateLimit.MaxRequests == 0 {
		cfg.Security.RateLimit = ratelimit.DefaultConfig()
	}
	if cfg.Sandbox.MaxMemoryMB == 0 && cfg.Sandbox.MaxExecutionTimeMs == 0 && cfg.Sandbox.MaxConcurrentExecutions == 0 {
		cfg.Sandbox = sandbox.DefaultLimits()
	}
}

// Validate checks value ranges after defaults are applied.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0, 1], got %v", c.Tracing.SamplingRate)
	}
	if c.Security.AuditCapacity < 0 {
		return fmt.Errorf("security.audit_capacity must not be negative")
	}
	switch c.Defaults.SafetyLevel {
	case "", "low", "medium", "high", "maximum":
	default:
		return fmt.Errorf("defaults.safety_level must be low, medium, high, or maximum, got %q", c.Defaults.SafetyLevel)
	}
	switch c.Defaults.Verbosity {
	case "", "minimal", "normal", "verbose":
	default:
		return fmt.Errorf("defaults.verbosity must be minimal, normal, or verbose, got %q", c.Defaults.Verbosity)
	}
	return nil
}

// Preferences converts the configured defaults into conversation preferences.
func (c *Config) Preferences() *models.Preferences {
	prefs := models.DefaultPreferences()
	if c.Defaults.MaxToolCalls > 0 {
		prefs.MaxToolCalls = c.Defaults.MaxToolCalls
	}
	if len(c.Defaults.AllowedCategories) > 0 {
		prefs.AllowedCategories = c.Defaults.AllowedCategories
	}
	if c.Defaults.Verbosity != "" {
		prefs.Verbosity = models.Verbosity(c.Defaults.Verbosity)
	}
	if c.Defaults.SafetyLevel != "" {
		prefs.SafetyLevel = models.SafetyLevel(c.Defaults.SafetyLevel)
	}
	if c.Defaults.AutoExecute != nil {
		prefs.AutoExecute = *c.Defaults.AutoExecute
	}
	return &prefs
}
