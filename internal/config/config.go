// Package config loads the simulation configuration from YAML with
// environment overrides for secrets and deployment-specific paths.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GoodDef declares one tradable good seeded into the market at startup.
type GoodDef struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	BasePrice   float64  `yaml:"base_price"`
	BaseUtility float64  `yaml:"base_utility"`
	Quality     float64  `yaml:"quality"`
	Tags        []string `yaml:"tags"`
}

// Config holds all simulation settings. Secrets are overridden from the
// environment after loading.
type Config struct {
	Sim struct {
		Seed           int64  `yaml:"seed"`
		TickIntervalMS int    `yaml:"tick_interval_ms"`
		MaxTicks       uint64 `yaml:"max_ticks"`
	} `yaml:"sim"`

	Goods []GoodDef `yaml:"goods"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`

	Pool struct {
		Workers   int `yaml:"workers"`
		TimeoutMS int `yaml:"timeout_ms"`
	} `yaml:"pool"`

	Narrative struct {
		Enabled   bool   `yaml:"enabled"`
		APIKey    string `yaml:"api_key"`
		Capacity  int    `yaml:"capacity"`
		Workers   int    `yaml:"workers"`
		CacheTTLS int    `yaml:"cache_ttl_s"`
	} `yaml:"narrative"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a runnable configuration with a small built-in good set.
func Default() *Config {
	var cfg Config
	cfg.Sim.Seed = 42
	cfg.Sim.TickIntervalMS = 100
	cfg.Database.Path = "data/market.db"
	cfg.Server.ListenAddr = ":8080"
	cfg.Pool.Workers = 4
	cfg.Pool.TimeoutMS = 5000
	cfg.Narrative.Capacity = 16
	cfg.Narrative.Workers = 2
	cfg.Narrative.CacheTTLS = 600
	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 14
	cfg.Goods = []GoodDef{
		{ID: "grain", Name: "Grain", Category: "food", BasePrice: 50, BaseUtility: 1.0, Quality: 1.0, Tags: []string{"staple"}},
		{ID: "iron_ore", Name: "Iron Ore", Category: "raw", BasePrice: 1000, BaseUtility: 0.8, Quality: 1.0},
		{ID: "timber", Name: "Timber", Category: "raw", BasePrice: 120, BaseUtility: 0.9, Quality: 1.0},
		{ID: "ale", Name: "Ale", Category: "luxury", BasePrice: 80, BaseUtility: 0.6, Quality: 1.1, Tags: []string{"festival"}},
	}
	return &cfg
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Sim.TickIntervalMS <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if len(c.Goods) == 0 {
		return fmt.Errorf("at least one good is required")
	}
	seen := make(map[string]bool, len(c.Goods))
	for _, g := range c.Goods {
		if g.ID == "" {
			return fmt.Errorf("good with empty id")
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate good id: %s", g.ID)
		}
		seen[g.ID] = true
		if g.BasePrice <= 0 {
			return fmt.Errorf("good %s: base price must be positive", g.ID)
		}
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Pool.Workers <= 0 {
		return fmt.Errorf("pool workers must be positive")
	}
	if c.Narrative.Enabled && c.Narrative.APIKey == "" {
		return fmt.Errorf("narrative enabled but no API key configured")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	return nil
}

// overrideWithEnv replaces config values from the environment when set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("MARKETSIM_API_KEY"); key != "" {
		cfg.Narrative.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Narrative.APIKey = key
	}
	if path := os.Getenv("MARKETSIM_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if addr := os.Getenv("MARKETSIM_LISTEN"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
}
