// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Enforcement decides what happens to a connection after validation.
type Enforcement string

const (
	// EnforceOff disables SCT validation entirely.
	EnforceOff Enforcement = "off"
	// EnforceCollect validates and logs but never refuses a connection.
	EnforceCollect Enforcement = "collect"
	// EnforceRequire refuses connections that fail validation or present
	// no SCTs at all.
	EnforceRequire Enforcement = "require"
)

const (
	// MinSCTAge and MaxSCTAge bound how stale a fetched SCT may grow
	// before the refresher replaces it.
	MinSCTAge = time.Hour
	MaxSCTAge = 30 * 24 * time.Hour

	DefaultSCTAge          = 24 * time.Hour
	DefaultRefreshInterval = time.Hour
	DefaultCacheSize       = 4096
	DefaultWorkers         = 4
)

// ConfigError is fatal: the daemon refuses to start on any of them.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "12h" or "90m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// StaticLog is an operator-pinned log entry. Exactly one key source must be
// set: a PEM file path or an inline base64 DER key.
type StaticLog struct {
	URL        string `yaml:"url"`
	PublicKey  string `yaml:"public_key,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty"`
	Distrusted bool   `yaml:"distrusted,omitempty"`
}

type Config struct {
	StorageDir string `yaml:"storage_dir"`
	AuditDir   string `yaml:"audit_dir,omitempty"`

	FetchCommand string   `yaml:"fetch_command"`
	MaxSCTAge    Duration `yaml:"max_sct_age,omitempty"`

	RefreshInterval Duration `yaml:"refresh_interval,omitempty"`
	Workers         int      `yaml:"workers,omitempty"`

	Enforcement Enforcement `yaml:"enforcement,omitempty"`
	CacheSize   int         `yaml:"cache_size,omitempty"`

	StaticLogs  []StaticLog `yaml:"static_logs,omitempty"`
	LogConfigDB string      `yaml:"log_config_db,omitempty"`
	LogListURL  string      `yaml:"log_list_url,omitempty"`
	LogListFile string      `yaml:"log_list_file,omitempty"`
	LogURLs     []string    `yaml:"log_urls,omitempty"`
}

// Load reads, parses, applies defaults to and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxSCTAge == 0 {
		c.MaxSCTAge = Duration(DefaultSCTAge)
	}
	if c.MaxSCTAge.Std() < MinSCTAge {
		c.MaxSCTAge = Duration(MinSCTAge)
	}
	if c.MaxSCTAge.Std() > MaxSCTAge {
		c.MaxSCTAge = Duration(MaxSCTAge)
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(DefaultRefreshInterval)
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Enforcement == "" {
		c.Enforcement = EnforceCollect
	}
}

// Validate reports every problem at once rather than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.StorageDir == "" {
		problems = append(problems, "storage_dir is required")
	}
	if c.FetchCommand == "" {
		problems = append(problems, "fetch_command is required")
	}
	switch c.Enforcement {
	case EnforceOff, EnforceCollect, EnforceRequire:
	default:
		problems = append(problems, fmt.Sprintf("enforcement must be one of: off, collect, require (got %q)", c.Enforcement))
	}
	if c.RefreshInterval.Std() < time.Minute {
		problems = append(problems, "refresh_interval must be >= 1m")
	}
	if c.CacheSize < 1 {
		problems = append(problems, "cache_size must be >= 1")
	}
	if c.Workers < 1 || c.Workers > 128 {
		problems = append(problems, "workers must be between 1 and 128")
	}
	if c.LogListURL != "" && c.LogListFile != "" {
		problems = append(problems, "log_list_url and log_list_file are mutually exclusive")
	}
	for i, sl := range c.StaticLogs {
		if sl.URL == "" {
			problems = append(problems, fmt.Sprintf("static_logs[%d]: url is required", i))
		}
		if (sl.PublicKey == "") == (sl.KeyFile == "") {
			problems = append(problems, fmt.Sprintf("static_logs[%d]: exactly one of public_key or key_file must be set", i))
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}
