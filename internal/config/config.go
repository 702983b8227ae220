package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"provisionr/internal/types"
)

type Config struct {
	LogLevel    string                    `yaml:"log_level"` // debug, info, warn, error (default: info)
	Port        int                       `yaml:"port"`      // HTTP listen port (default: 3000)
	DB          string                    `yaml:"db"`        // Catalogue path or :memory: (default: provisionr.db)
	Engine      string                    `yaml:"engine"`    // jinja, gotemplate (default: jinja)
	Logging     LoggingConfig             `yaml:"logging"`
	Cache       *CacheConfig              `yaml:"cache"`      // Optional hot render cache
	RateLimit   *RateLimitConfig          `yaml:"rate_limit"` // Optional per-client limiter
	Maintenance *MaintenanceConfig        `yaml:"maintenance"`
	Webhook     *WebhookConfig            `yaml:"webhook"`
	Templates   map[string]TemplateSource `yaml:"templates"` // Preloaded at startup

	// Directory of the config file; template_path/values_path resolve
	// against it.
	baseDir string
}

type LoggingConfig struct {
	FilePath   string `yaml:"file_path"`    // Log file path (empty: stdout only)
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Rotate at this size (MB)
	MaxBackups int    `yaml:"max_backups"`  // Old files to keep
	MaxAgeDays int    `yaml:"max_age_days"` // Delete after days
}

// CacheConfig controls the in-process render cache in front of the
// catalogue. The catalogue stays the source of truth either way.
type CacheConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxSizeMB int  `yaml:"max_size_mb"` // Total cache limit in MB (default: 64)
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Per client IP (default: 50)
	Burst             int     `yaml:"burst"`               // Bucket size (default: 100)
}

type MaintenanceConfig struct {
	Cron string `yaml:"cron"` // e.g. "0 3 * * *" for 3 AM daily
}

// WebhookConfig defines an outgoing webhook called after each newly
// stored artifact.
type WebhookConfig struct {
	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`     // Extra headers (supports env vars: ${TOKEN})
	TimeoutSec int               `yaml:"timeout_sec"` // Per-attempt timeout (default: 10)
	MaxRetries int               `yaml:"max_retries"` // Retries after the first attempt (default: 3)
}

// TemplateSource declares a template to register before the server
// starts accepting requests.
type TemplateSource struct {
	TemplatePath  string               `yaml:"template_path"` // Required
	ValuesPath    string               `yaml:"values_path"`   // Optional defaults YAML
	IDField       string               `yaml:"id_field"`      // Default: mac_address
	DynamicFields []types.DynamicField `yaml:"dynamic_fields"`
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validEngines = map[string]bool{"": true, "jinja": true, "gotemplate": true}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Port:     3000,
		DB:       "provisionr.db",
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.baseDir = filepath.Dir(path)
	cfg.applyDefaults()

	if err := cfg.validateRequired(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.DB == "" {
		c.DB = "provisionr.db"
	}
	if c.Cache != nil && c.Cache.MaxSizeMB == 0 {
		c.Cache.MaxSizeMB = 64
	}
	if c.RateLimit != nil {
		if c.RateLimit.RequestsPerSecond == 0 {
			c.RateLimit.RequestsPerSecond = 50
		}
		if c.RateLimit.Burst == 0 {
			c.RateLimit.Burst = 100
		}
	}
	if c.Webhook != nil {
		if c.Webhook.TimeoutSec == 0 {
			c.Webhook.TimeoutSec = 10
		}
		if c.Webhook.MaxRetries == 0 {
			c.Webhook.MaxRetries = 3
		}
	}
	if c.Logging.FilePath != "" {
		if c.Logging.MaxSizeMB == 0 {
			c.Logging.MaxSizeMB = 10
		}
		if c.Logging.MaxBackups == 0 {
			c.Logging.MaxBackups = 3
		}
		if c.Logging.MaxAgeDays == 0 {
			c.Logging.MaxAgeDays = 28
		}
	}
	for name, src := range c.Templates {
		if src.IDField == "" {
			src.IDField = types.DefaultIDField
			c.Templates[name] = src
		}
	}
}

// validateRequired checks structural requirements for config loading.
// Full validation with warnings is done by validate.Run().
func (c *Config) validateRequired() error {
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be debug, info, warn, or error")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535")
	}
	if !validEngines[c.Engine] {
		return fmt.Errorf("engine must be jinja or gotemplate")
	}
	if c.Webhook != nil && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook is set")
	}
	if c.Maintenance != nil && c.Maintenance.Cron == "" {
		return fmt.Errorf("maintenance.cron is required when maintenance is set")
	}
	for name, src := range c.Templates {
		if name == "" {
			return fmt.Errorf("templates: empty template name")
		}
		if src.TemplatePath == "" {
			return fmt.Errorf("templates.%s: template_path is required", name)
		}
		for i, f := range src.DynamicFields {
			if f.FieldName == "" {
				return fmt.Errorf("templates.%s.dynamic_fields[%d]: field_name is required", name, i)
			}
			if err := f.Generator.Validate(); err != nil {
				return fmt.Errorf("templates.%s.dynamic_fields[%d]: %w", name, i, err)
			}
			if !f.Hash.Valid() {
				return fmt.Errorf("templates.%s.dynamic_fields[%d]: invalid hashing_algorithm %q", name, i, string(f.Hash))
			}
		}
	}
	return nil
}

// ResolvePath makes a template, values, or db path absolute relative
// to the config file's directory. The ":memory:" catalogue is not a
// file path and passes through.
func (c *Config) ResolvePath(p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}
