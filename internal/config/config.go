// Package config loads runtime configuration from the environment, with an
// optional YAML file overlay for deployments that prefer files over
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the stream ledger service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Streams   StreamsConfig   `yaml:"streams"`
	Fees      FeesConfig      `yaml:"fees"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host            string `yaml:"host" env:"SERVER_HOST,default=0.0.0.0"`
	Port            int    `yaml:"port" env:"SERVER_PORT,default=8080"`
	ReadTimeoutSec  int    `yaml:"read_timeout_seconds" env:"SERVER_READ_TIMEOUT,default=30"`
	WriteTimeoutSec int    `yaml:"write_timeout_seconds" env:"SERVER_WRITE_TIMEOUT,default=30"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL,default=info"`
	Format     string `yaml:"format" env:"LOG_FORMAT,default=json"`
	Output     string `yaml:"output" env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX,default="`
}

// DatabaseConfig selects the store. An empty DSN runs on the in-memory
// store, which does not survive restarts.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER,default=postgres"`
	DSN             string `yaml:"dsn" env:"DATABASE_DSN,default="`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME,default=300"`
}

type StreamsConfig struct {
	RateCeiling           int64  `yaml:"rate_ceiling" env:"STREAM_RATE_CEILING,default=0"`
	StorageUnitsPerStream int64  `yaml:"storage_units_per_stream" env:"STREAM_STORAGE_UNITS,default=0"`
	Manager               string `yaml:"manager" env:"STREAM_MANAGER,default="`

	// AssetWhitelist is a comma-separated list of allowed token assets.
	// Empty allows every asset.
	AssetWhitelist string `yaml:"asset_whitelist" env:"STREAM_ASSET_WHITELIST,default="`
}

// AssetWhitelistSlice splits the configured whitelist into its entries.
func (c StreamsConfig) AssetWhitelistSlice() []string {
	if strings.TrimSpace(c.AssetWhitelist) == "" {
		return nil
	}
	parts := strings.Split(c.AssetWhitelist, ",")
	assets := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			assets = append(assets, trimmed)
		}
	}
	return assets
}

type FeesConfig struct {
	RateBps   int64  `yaml:"rate_bps" env:"FEE_RATE_BPS,default=25"`
	Recipient string `yaml:"recipient" env:"FEE_RECIPIENT,default="`
}

type AuthConfig struct {
	// JWTSecret signs and validates bearer tokens. Empty falls back to the
	// X-Caller header, for use behind a trusted gateway only.
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET,default="`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS,default=50"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST,default=100"`
}

// Load reads a .env file when present, decodes the environment, then applies
// the YAML file named by CONFIG_FILE on top. An explicitly named file wins
// over environment values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	return &cfg, nil
}
