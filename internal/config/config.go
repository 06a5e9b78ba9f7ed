// Package config handles loading and validating leafsync configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darshan-rambhia/leafsync/internal/auth"
)

// Defaults applied before the config file and environment are read.
const (
	DefaultDBPath            = "/data/leafsync.db"
	DefaultPollInterval      = 15 * time.Second
	DefaultReconcileInterval = time.Hour
	DefaultTokenLifetime     = auth.DefaultLifetime
	DefaultTokenSafetyMargin = auth.DefaultSafetyMargin
	DefaultMaxReadings       = 100000
	DefaultQueueSize         = 32
	DefaultLogRetention      = 30 * 24 * time.Hour
	DefaultHTTPTimeout       = 30 * time.Second
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level leafsync configuration.
type Config struct {
	// SensorURL is the status endpoint of the meter reader, e.g.
	// http://192.168.1.50/cm?cmnd=status%2010.
	SensorURL string `yaml:"sensor_url"`
	// AdminURL is the base URL of the collection service.
	AdminURL  string `yaml:"admin_url"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// ClientID overrides the identifier derived from the network hardware.
	ClientID string `yaml:"client_id"`
	// Listen enables the metrics/status HTTP server when non-empty.
	Listen string `yaml:"listen"`

	PollInterval      Duration `yaml:"poll_interval"`
	ReconcileInterval Duration `yaml:"reconcile_interval"`
	TokenLifetime     Duration `yaml:"token_lifetime"`
	TokenSafetyMargin Duration `yaml:"token_safety_margin"`
	LogRetention      Duration `yaml:"log_retention"`
	HTTPTimeout       Duration `yaml:"http_timeout"`

	// MaxReadings caps the number of stored readings; 0 disables the cap.
	MaxReadings int `yaml:"max_readings"`
	QueueSize   int `yaml:"queue_size"`
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file, then applies environment
// overrides. If no path is given, configuration comes from defaults and the
// environment only. If a path is given and the file does not exist,
// ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validateURL("sensor_url", c.SensorURL); err != nil {
		return err
	}
	if err := validateURL("admin_url", c.AdminURL); err != nil {
		return err
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}

	positive := []struct {
		name string
		d    Duration
	}{
		{"poll_interval", c.PollInterval},
		{"reconcile_interval", c.ReconcileInterval},
		{"token_lifetime", c.TokenLifetime},
		{"http_timeout", c.HTTPTimeout},
	}
	for _, p := range positive {
		if p.d.Duration <= 0 {
			return fmt.Errorf("%s must be > 0", p.name)
		}
	}
	if c.TokenSafetyMargin.Duration < 0 {
		return fmt.Errorf("token_safety_margin must be >= 0")
	}
	if c.LogRetention.Duration < 0 {
		return fmt.Errorf("log_retention must be >= 0")
	}
	if c.MaxReadings < 0 {
		return fmt.Errorf("max_readings must be >= 0")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be >= 1")
	}
	return nil
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https", key)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host is required", key)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		DBPath:            DefaultDBPath,
		LogLevel:          "info",
		LogFormat:         "text",
		PollInterval:      Duration{DefaultPollInterval},
		ReconcileInterval: Duration{DefaultReconcileInterval},
		TokenLifetime:     Duration{DefaultTokenLifetime},
		TokenSafetyMargin: Duration{DefaultTokenSafetyMargin},
		LogRetention:      Duration{DefaultLogRetention},
		HTTPTimeout:       Duration{DefaultHTTPTimeout},
		MaxReadings:       DefaultMaxReadings,
		QueueSize:         DefaultQueueSize,
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

// firstEnv returns the value of the first non-empty variable in keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	// SENSOR_URL and ADMIN_URL are the names older deployments use.
	if v := firstEnv("LEAFSYNC_SENSOR_URL", "SENSOR_URL"); v != "" {
		cfg.SensorURL = v
	}
	if v := firstEnv("LEAFSYNC_ADMIN_URL", "ADMIN_URL"); v != "" {
		cfg.AdminURL = v
	}
	if v := os.Getenv("LEAFSYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEAFSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LEAFSYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("LEAFSYNC_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("LEAFSYNC_LISTEN"); v != "" {
		cfg.Listen = v
	}

	if v := os.Getenv("LEAFSYNC_MAX_READINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReadings = n
		}
	}
	if v := os.Getenv("LEAFSYNC_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueSize = n
		}
	}
}
