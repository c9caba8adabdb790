//nolint:tagliatelle // superior snake-case yo.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/querystream/querystream/internal/query"
	"github.com/querystream/querystream/internal/redis"
)

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Database   query.Config      `yaml:"database"`
	Redis      redis.Config      `yaml:"redis"`
	Snapshot   SnapshotConfig    `yaml:"snapshot"`
	Statements []StatementConfig `yaml:"statements"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// SnapshotConfig holds snapshot cache settings.
type SnapshotConfig struct {
	TTL time.Duration `yaml:"ttl"` // Redis TTL for snapshots (0 = no expiration)
}

// StatementConfig is one registered statement: a name for logs and metrics,
// and the SQL text carrying the trailing interval directive.
type StatementConfig struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and sets defaults.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	// Validate database config
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Redis is optional; validated only when configured
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if c.Snapshot.TTL < 0 {
		return fmt.Errorf("snapshot.ttl must not be negative")
	}

	// Statement set: the SQL itself (directive, signature, duplicates) is
	// validated when the statement registry is built at startup.
	if len(c.Statements) == 0 {
		return fmt.Errorf("at least one statement must be configured")
	}

	names := make(map[string]bool, len(c.Statements))

	for i, stmt := range c.Statements {
		if stmt.Name == "" {
			return fmt.Errorf("statements[%d].name is required", i)
		}

		if stmt.SQL == "" {
			return fmt.Errorf("statements[%d].sql is required", i)
		}

		// Check for duplicate statement names
		if names[stmt.Name] {
			return fmt.Errorf("duplicate statement name: %s", stmt.Name)
		}

		names[stmt.Name] = true
	}

	return nil
}
