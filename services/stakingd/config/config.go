package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageLevelDB = "leveldb"
	StorageMemory  = "memory"

	defaultListen         = ":8088"
	defaultDataDir        = "./data/stakingd"
	defaultGenesis        = "./config/genesis.toml"
	defaultStreamInterval = 2 * time.Second
	defaultSettleTimeout  = 5 * time.Second
)

// Config captures the runtime settings for the staking daemon.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	DataDir        string          `yaml:"data_dir"`
	Storage        string          `yaml:"storage"`
	GenesisPath    string          `yaml:"genesis"`
	History        HistoryConfig   `yaml:"history"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimits     map[string]Rate `yaml:"rate_limits"`
	CORS           CORSConfig      `yaml:"cors"`
	Logging        LoggingConfig   `yaml:"logging"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	StreamInterval time.Duration   `yaml:"preview_stream_interval"`
	SettleTimeout  time.Duration   `yaml:"settle_timeout"`
}

// HistoryConfig selects the settlement history backend. An empty driver
// disables the history index.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig describes JWT verification for write endpoints.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Secret    string        `yaml:"secret"`
	SecretEnv string        `yaml:"secret_env"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	ClockSkew time.Duration `yaml:"clock_skew"`
}

// Rate is a token bucket applied per client to one route group.
type Rate struct {
	RatePerSecond float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	cfg.normalize()
	return cfg
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if cfg.Storage == "" {
		cfg.Storage = StorageLevelDB
	}
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	if cfg.GenesisPath == "" {
		cfg.GenesisPath = defaultGenesis
	}
	cfg.History.Driver = strings.ToLower(strings.TrimSpace(cfg.History.Driver))
	cfg.History.DSN = strings.TrimSpace(cfg.History.DSN)
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Auth.SecretEnv = strings.TrimSpace(cfg.Auth.SecretEnv)
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = "STAKINGD_JWT_SECRET"
	}
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = strings.TrimSpace(os.Getenv(cfg.Auth.SecretEnv))
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]Rate{
			"settle": {RatePerSecond: 5, Burst: 10},
			"read":   {RatePerSecond: 20, Burst: 40},
			"admin":  {RatePerSecond: 1, Burst: 5},
		}
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = defaultStreamInterval
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, origin := range cfg.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.CORS.AllowedOrigins = origins
}

// Validate reports configuration errors that would prevent startup.
func (cfg Config) Validate() error {
	switch cfg.Storage {
	case StorageLevelDB, StorageMemory:
	default:
		return fmt.Errorf("storage: unsupported backend %q", cfg.Storage)
	}
	switch cfg.History.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.History.DSN == "" {
			return fmt.Errorf("history: dsn required for driver %q", cfg.History.Driver)
		}
	default:
		return fmt.Errorf("history: unsupported driver %q", cfg.History.Driver)
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return fmt.Errorf("auth: secret required when auth is enabled (set auth.secret or %s)", cfg.Auth.SecretEnv)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio %v outside [0,1]", cfg.Telemetry.SampleRatio)
	}
	for name, rate := range cfg.RateLimits {
		if rate.RatePerSecond <= 0 || rate.Burst <= 0 {
			return fmt.Errorf("rate_limits.%s: rps and burst must be positive", name)
		}
	}
	return nil
}
