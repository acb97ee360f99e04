// Package config loads application configuration from defaults, an optional
// YAML file, and CARVALUE_-prefixed environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"carvalue/internal/pricing"
)

// Config represents the complete application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Store   StoreConfig   `yaml:"store" envconfig:"STORE"`
	Pricing PricingConfig `yaml:"pricing" envconfig:"PRICING"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// StoreConfig selects and configures the model store backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path" envconfig:"PATH"`
	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn" envconfig:"DSN"`
}

// PricingConfig exposes the engine's tunable constants. Fields mirror
// pricing.Params; zero values fall back to the calibrated defaults.
type PricingConfig struct {
	HalfLifeDays        float64 `yaml:"half_life_days" envconfig:"HALF_LIFE_DAYS"`
	MaxAgeDays          float64 `yaml:"max_age_days" envconfig:"MAX_AGE_DAYS"`
	IRLSRounds          int     `yaml:"irls_rounds" envconfig:"IRLS_ROUNDS"`
	HuberC              float64 `yaml:"huber_c" envconfig:"HUBER_C"`
	RidgeAlphaBase      float64 `yaml:"ridge_alpha_base" envconfig:"RIDGE_ALPHA_BASE"`
	MinAgeStd           float64 `yaml:"min_age_std" envconfig:"MIN_AGE_STD"`
	MinLogKMStd         float64 `yaml:"min_logkm_std" envconfig:"MIN_LOGKM_STD"`
	MinLogKMStdYear     float64 `yaml:"min_logkm_std_year" envconfig:"MIN_LOGKM_STD_YEAR"`
	MinSamplesPooled    int     `yaml:"min_samples_pooled" envconfig:"MIN_SAMPLES_POOLED"`
	MinSamplesModelYear int     `yaml:"min_samples_model_year" envconfig:"MIN_SAMPLES_MODEL_YEAR"`
	MaxConcurrency      int     `yaml:"max_concurrency" envconfig:"MAX_CONCURRENCY"`
}

// CatalogConfig holds the key-space routing rules that are data, not code:
// family pools and model-level exclusions. File-only; there is no sensible
// environment encoding for lists of pairs.
type CatalogConfig struct {
	Families   []FamilyConfig      `yaml:"families"`
	Exclusions []pricing.Exclusion `yaml:"exclusions"`
}

// FamilyConfig declares one prefix-based family pool.
type FamilyConfig struct {
	Make   string `yaml:"make"`
	Label  string `yaml:"label"`
	Prefix string `yaml:"prefix"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is empty, common locations are probed), then environment variables.
// A .env file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("CARVALUE", cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func findConfigFile() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Params converts the pricing section into engine parameters, filling any
// unset field from the calibrated defaults.
func (c *Config) Params() pricing.Params {
	p := pricing.DefaultParams()
	pc := c.Pricing
	if pc.HalfLifeDays != 0 {
		p.HalfLifeDays = pc.HalfLifeDays
	}
	if pc.MaxAgeDays != 0 {
		p.MaxAgeDays = pc.MaxAgeDays
	}
	if pc.IRLSRounds != 0 {
		p.IRLSRounds = pc.IRLSRounds
	}
	if pc.HuberC != 0 {
		p.HuberC = pc.HuberC
	}
	if pc.RidgeAlphaBase != 0 {
		p.RidgeAlphaBase = pc.RidgeAlphaBase
	}
	if pc.MinAgeStd != 0 {
		p.MinAgeStd = pc.MinAgeStd
	}
	if pc.MinLogKMStd != 0 {
		p.MinLogKMStd = pc.MinLogKMStd
	}
	if pc.MinLogKMStdYear != 0 {
		p.MinLogKMStdYear = pc.MinLogKMStdYear
	}
	if pc.MinSamplesPooled != 0 {
		p.MinSamplesPooled = pc.MinSamplesPooled
	}
	if pc.MinSamplesModelYear != 0 {
		p.MinSamplesModelYear = pc.MinSamplesModelYear
	}
	return p
}

// Families converts the catalog section into router rules.
func (c *Config) Families() []pricing.FamilyRule {
	rules := make([]pricing.FamilyRule, 0, len(c.Catalog.Families))
	for _, f := range c.Catalog.Families {
		rules = append(rules, pricing.PrefixFamily(f.Make, f.Label, f.Prefix))
	}
	return rules
}

// validate rejects configurations the application cannot start with.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store driver sqlite requires a path")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if !c.Params().IsValid() {
		return fmt.Errorf("pricing parameters out of range")
	}

	for _, f := range c.Catalog.Families {
		if f.Make == "" || f.Label == "" || f.Prefix == "" {
			return fmt.Errorf("family rule needs make, label and prefix: %+v", f)
		}
	}
	return nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/price_models.db",
		},
		Catalog: CatalogConfig{
			// A bare tesla "model" is ambiguous between Model S/3/X/Y, so it
			// never gets a model-level bucket of its own.
			Exclusions: []pricing.Exclusion{
				{MakeKey: "tesla", ModelKey: "model"},
			},
		},
	}
}
