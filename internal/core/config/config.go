package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config. Everything a component
// needs is passed in explicitly at construction — there is no ambient
// session state.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Quality  QualityConfig  `koanf:"quality"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type PipelineConfig struct {
	Enabled bool `koanf:"enabled"`

	// PollInterval is how often the scheduler probes the change feed.
	// A tick with no pending changes is a silent skip, not a failure.
	PollInterval string `koanf:"poll_interval"`

	// TargetLag is the maximum tolerated staleness of the gold aggregates
	// relative to silver. A rebuild is forced when the last successful
	// materialization is older than this and silver has changed since.
	TargetLag string `koanf:"target_lag"`

	// BatchSize bounds how many change events one silver apply consumes.
	BatchSize int `koanf:"batch_size"`

	// Consumer names the checkpoint slot this instance advances.
	Consumer string `koanf:"consumer"`

	// SourceObject is the provenance string stamped onto staged rows.
	SourceObject string `koanf:"source_object"`
}

type QualityConfig struct {
	// RuleDir holds optional *.yaml rule files loaded at startup, in
	// addition to the two built-in checks.
	RuleDir string `koanf:"rule_dir"`

	// SampleLimit caps how many offending rows a check records as evidence.
	SampleLimit int `koanf:"sample_limit"`
}

func (c PipelineConfig) PollIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(c.PollInterval)
}

func (c PipelineConfig) TargetLagDuration() (time.Duration, error) {
	return time.ParseDuration(c.TargetLag)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	interval, err := c.Pipeline.PollIntervalDuration()
	if err != nil {
		return fmt.Errorf("invalid pipeline.poll_interval %q: %w", c.Pipeline.PollInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be > 0")
	}
	lag, err := c.Pipeline.TargetLagDuration()
	if err != nil {
		return fmt.Errorf("invalid pipeline.target_lag %q: %w", c.Pipeline.TargetLag, err)
	}
	if lag <= 0 {
		return fmt.Errorf("pipeline.target_lag must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if strings.TrimSpace(c.Pipeline.Consumer) == "" {
		return fmt.Errorf("pipeline.consumer is required")
	}

	if c.Quality.SampleLimit <= 0 {
		return fmt.Errorf("quality.sample_limit must be > 0")
	}

	return nil
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 4,
		"server.mode":             "release",
		"database.type":           "postgres",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"pipeline.enabled":        true,
		"pipeline.poll_interval":  "1m",
		"pipeline.target_lag":     "5m",
		"pipeline.batch_size":     10000,
		"pipeline.consumer":       "silver_loader",
		"pipeline.source_object":  "raw_employees",
		"quality.rule_dir":        "./config/quality",
		"quality.sample_limit":    5,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("MEDALLION_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MEDALLION_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
