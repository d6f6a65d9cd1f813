package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no config flag is provided.
const DefaultConfigPath = "config.yaml"

// Config is the file-backed process configuration. Runtime tunables live in
// the database settings table instead.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Admin    AdminConfig    `yaml:"admin"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the backing database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // PostgreSQL DSN or SQLite path.
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen string `yaml:"listen"` // host:port, defaults to :8318.
}

// AdminConfig controls admin token issuance.
type AdminConfig struct {
	Secret          string `yaml:"secret"`            // HMAC secret for admin JWTs.
	TokenTTLMinutes int    `yaml:"token-ttl-minutes"` // Admin token lifetime.
}

// RedisConfig enables the optional replay cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error.
	JSONFormat bool   `yaml:"json-format"` // Emit JSON instead of text.
	File       string `yaml:"file"`        // Rotating log file, optional.
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// TokenTTL returns the admin token lifetime with its default applied.
func (a AdminConfig) TokenTTL() time.Duration {
	if a.TokenTTLMinutes <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// ResolveConfigPath returns the effective config path.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultConfigPath
	}
	return trimmed
}

// Load reads and validates the config file, applying defaults.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(ResolveConfigPath(path))
	if errRead != nil {
		return nil, fmt.Errorf("config: read: %w", errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(os.Getenv("CREDITRAIL_DB_DSN")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":8318"
	}
	return &cfg, nil
}
