package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for reforge-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	// Server configuration for the operational endpoints.
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8086"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine configuration
	Engine EngineConfig `yaml:"engine"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`
}

// EngineConfig holds the reprocessing engine settings.
type EngineConfig struct {
	// MaxConcurrent bounds the worker pool running item-level stage work.
	MaxConcurrent int `yaml:"max_concurrent" env:"ENGINE_MAX_CONCURRENT" env-default:"5"`

	// MediumFieldPolicy is "conservative" (default) or "aggressive" and
	// decides how medium-tier field changes are reprocessed.
	MediumFieldPolicy string `yaml:"medium_field_policy" env:"ENGINE_MEDIUM_FIELD_POLICY" env-default:"conservative"`

	// StrictCheckpoints turns the advisory per-stage quality gate into a
	// hard stop. Off by default.
	StrictCheckpoints bool `yaml:"strict_checkpoints" env:"ENGINE_STRICT_CHECKPOINTS" env-default:"false"`

	// RuleSetPath points at a YAML rule set. Empty means the built-in
	// rule set.
	RuleSetPath string `yaml:"rule_set_path" env:"ENGINE_RULE_SET_PATH" env-default:""`

	// MigrationsPath is the directory holding SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"ENGINE_MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"reforge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"reforge_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf("engine.max_concurrent must be at least 1")
	}
	switch c.Engine.MediumFieldPolicy {
	case "conservative", "aggressive":
	default:
		return fmt.Errorf("engine.medium_field_policy must be conservative or aggressive, got %q",
			c.Engine.MediumFieldPolicy)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
