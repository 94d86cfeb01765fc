// Package config loads runtime configuration from an optional YAML file with
// environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the server needs at startup.
type Config struct {
	Port           string   `yaml:"port"`
	DBDriver       string   `yaml:"db_driver"`
	DBDSN          string   `yaml:"db_dsn"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	TokenTTL       string   `yaml:"token_ttl"`
	ShopSize       int      `yaml:"shop_size"`

	tokenTTL time.Duration
}

const (
	defaultPort          = "8080"
	defaultDBDriver      = "sqlite"
	defaultDBDSN         = "data/wartable.db"
	defaultAllowedOrigin = "*"
	defaultTokenTTL      = time.Hour
	defaultShopSize      = 8
)

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Port:           defaultPort,
		DBDriver:       defaultDBDriver,
		DBDSN:          defaultDBDSN,
		AllowedOrigins: []string{defaultAllowedOrigin},
		TokenTTL:       defaultTokenTTL.String(),
		ShopSize:       defaultShopSize,
		tokenTTL:       defaultTokenTTL,
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.TokenTTL = getEnv("TOKEN_TTL", cfg.TokenTTL)
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitOrigins(raw)
	}
	if raw := os.Getenv("SHOP_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.ShopSize = v
		}
	}

	ttl, err := time.ParseDuration(cfg.TokenTTL)
	if err != nil || ttl <= 0 {
		return Config{}, fmt.Errorf("invalid token_ttl %q", cfg.TokenTTL)
	}
	cfg.tokenTTL = ttl

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.ShopSize <= 0 {
		cfg.ShopSize = defaultShopSize
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unknown db_driver %q", cfg.DBDriver)
	}

	return cfg, nil
}

// TokenTTLDuration is the parsed token lifetime.
func (c Config) TokenTTLDuration() time.Duration {
	if c.tokenTTL > 0 {
		return c.tokenTTL
	}
	return defaultTokenTTL
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
