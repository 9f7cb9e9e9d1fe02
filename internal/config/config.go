package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// RelPath is the config file location relative to the XDG config dirs.
const RelPath = "gochangelog/config.yaml"

type Config struct {
	DSN                    string `yaml:"dsn" env:"DB_DSN"`
	Driver                 string `yaml:"driver" env:"DB_DRIVER"`
	Dir                    string `yaml:"dir" env:"CHANGELOG_DIR"`
	Embedded               bool   `yaml:"embedded" env:"CHANGELOG_EMBEDDED"`
	JSON                   bool   `yaml:"json" env:"LOG_JSON"`
	LogLevel               string `yaml:"log_level" env:"LOG_LEVEL"`
	DryRun                 bool   `yaml:"dry_run"`
	LockTimeoutSec         int    `yaml:"lock_timeout_sec" env:"LOCK_TIMEOUT_SEC"`
	ChangelogTable         string `yaml:"changelog_table" env:"CHANGELOG_TABLE"`
	AppliedBy              string `yaml:"applied_by" env:"APPLIED_BY"`
	RetryMaxAttempts       uint   `yaml:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	RetryInitialIntervalMS int    `yaml:"retry_initial_interval_ms" env:"RETRY_INITIAL_INTERVAL_MS"`
	ContinueOnMalformed    bool   `yaml:"continue_on_malformed" env:"CONTINUE_ON_MALFORMED"`
	MetricsTextfile        string `yaml:"metrics_textfile" env:"METRICS_TEXTFILE"`
}

func Default() *Config {
	return &Config{
		Driver:                 "mysql",
		Dir:                    "./changelogs",
		LogLevel:               "info",
		LockTimeoutSec:         30,
		ChangelogTable:         "schema_changelog",
		RetryMaxAttempts:       5,
		RetryInitialIntervalMS: 500,
	}
}

// DefaultPath returns the config file found in the XDG config dirs, or ""
// when there is none.
func DefaultPath() string {
	p, err := xdg.SearchConfigFile(RelPath)
	if err != nil {
		return ""
	}
	return p
}

func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// MergeEnv overrides cfg with any of its variables that are set.
func MergeEnv(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ChangelogTable == "" {
		return errors.New("changelog table name is required")
	}
	if !c.Embedded && c.Dir == "" {
		return errors.New("changelog directory is required")
	}
	return nil
}

func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTimeoutSec) * time.Second
}

func (c *Config) RetryInitialInterval() time.Duration {
	if c.RetryInitialIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.RetryInitialIntervalMS) * time.Millisecond
}
