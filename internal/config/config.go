// Package config provides environment-aware configuration management for mashd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	slruntime "github.com/Shoalstone/MASH/internal/runtime"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DatabaseConfig controls the optional PostgreSQL-backed store. When DSN
// (or its constituent Host/Name fields) is empty, mashd runs against the
// in-memory store instead.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver"`
	DSN             string `json:"dsn" yaml:"dsn"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	User            string `json:"user" yaml:"user"`
	Password        string `json:"password" yaml:"password"`
	Name            string `json:"name" yaml:"name"`
	SSLMode         string `json:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
}

// ConnectionString renders a libpq keyword/value DSN from the discrete fields.
// Ignored when DSN is set directly.
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// LoggingConfig mirrors pkg/logger.LoggingConfig so it can be loaded from file/env
// and handed straight to logger.New.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
}

// SecurityConfig holds secrets that must never be logged.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" yaml:"secret_encryption_key"`
}

// AuthConfig lists bearer tokens loaded from the config file and API_TOKENS.
// The HTTP API does not consult them; it accepts only the per-agent tokens
// issued at signup and login.
type AuthConfig struct {
	Tokens []string `json:"tokens" yaml:"tokens"`
}

// WorldConfig exposes the simulation constants as overridable knobs so an
// operator can retune tick cadence or action-point economy without a
// recompile. Defaults come from New; an explicit zero in a file or the
// environment is kept as zero. MaxInteractionsPerTick is loaded but the DSL
// uses its own fixed budget (dsl.MaxInteractionsPerTick = 4).
type WorldConfig struct {
	TickIntervalMS         int   `json:"tick_interval_ms" yaml:"tick_interval_ms"`
	MaxAP                  int   `json:"max_ap" yaml:"max_ap"`
	MaxBuyAP               int   `json:"max_buy_ap" yaml:"max_buy_ap"`
	MaxContainmentDepth    int   `json:"max_containment_depth" yaml:"max_containment_depth"`
	MaxInteractionsPerTick int   `json:"max_interactions_per_tick" yaml:"max_interactions_per_tick"`
	IdleTimeoutMS          int64 `json:"idle_timeout_ms" yaml:"idle_timeout_ms"`
	EventTTLMS             int64 `json:"event_ttl_ms" yaml:"event_ttl_ms"`
}

// Config holds all application configuration.
type Config struct {
	Env      slruntime.Environment `json:"-" yaml:"-"`
	Server   ServerConfig          `json:"server" yaml:"server"`
	Database DatabaseConfig        `json:"database" yaml:"database"`
	Logging  LoggingConfig         `json:"logging" yaml:"logging"`
	Security SecurityConfig        `json:"security" yaml:"security"`
	Auth     AuthConfig            `json:"auth" yaml:"auth"`
	World    WorldConfig           `json:"world" yaml:"world"`
}

// New returns a Config populated with MASH's documented defaults.
func New() *Config {
	return &Config{
		Env: slruntime.Env(),
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "mash",
		},
		World: WorldConfig{
			TickIntervalMS:         10000,
			MaxAP:                  4,
			MaxBuyAP:               20,
			MaxContainmentDepth:    5,
			MaxInteractionsPerTick: 4,
			IdleTimeoutMS:          3600000,
			EventTTLMS:             60000,
		},
	}
}

// Load builds a Config from, in increasing priority: built-in defaults, a
// config file named by CONFIG_FILE (read with LoadFile's YAML parser),
// a per-environment .env file loaded via godotenv, then individual
// environment variable overrides.
func Load() (*Config, error) {
	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	_ = godotenv.Load(fmt.Sprintf("config/%s.env", cfg.Env))

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadFile loads a Config from a YAML file, falling back to defaults (not an
// error) if the file does not exist.
func LoadFile(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadConfig loads a Config from a JSON file.
func LoadConfig(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers individual environment variables on top of
// whatever file-sourced or default values are already in cfg.
func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getIntEnv("SERVER_PORT", c.Server.Port)

	c.Database.Host = getEnv("DATABASE_HOST", c.Database.Host)
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		c.Database.DSN = dsn
	}
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	if tokens := strings.TrimSpace(os.Getenv("API_TOKENS")); tokens != "" {
		c.Auth.Tokens = append(c.Auth.Tokens, splitAndTrim(tokens)...)
	}

	c.World.TickIntervalMS = getIntEnv("MASH_TICK_INTERVAL_MS", c.World.TickIntervalMS)
	c.World.MaxAP = getIntEnv("MASH_MAX_AP", c.World.MaxAP)
	c.World.MaxBuyAP = getIntEnv("MASH_MAX_BUY_AP", c.World.MaxBuyAP)
	c.World.MaxContainmentDepth = getIntEnv("MASH_MAX_CONTAINMENT_DEPTH", c.World.MaxContainmentDepth)
	c.World.MaxInteractionsPerTick = getIntEnv("MASH_MAX_INTERACTIONS_PER_TICK", c.World.MaxInteractionsPerTick)
	c.World.IdleTimeoutMS = int64(getIntEnv("MASH_IDLE_TIMEOUT_MS", int(c.World.IdleTimeoutMS)))
	c.World.EventTTLMS = int64(getIntEnv("MASH_EVENT_TTL_MS", int(c.World.EventTTLMS)))
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
