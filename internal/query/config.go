package query

import (
	"fmt"
	"time"
)

// Config holds database executor configuration.
type Config struct {
	Driver       string        `yaml:"driver"`         // database/sql driver name
	DSN          string        `yaml:"dsn"`            // driver-specific data source name
	MaxOpenConns int           `yaml:"max_open_conns"` // connection pool cap
	QueryTimeout time.Duration `yaml:"query_timeout"`  // per-poll execution deadline
}

// Validate validates and sets defaults for Config.
func (c *Config) Validate() error {
	// Set defaults
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}

	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}

	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}

	// Validate ranges
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}

	if c.MaxOpenConns < 0 {
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	}

	if c.QueryTimeout < time.Second {
		return fmt.Errorf("query_timeout must be at least 1 second, got %v", c.QueryTimeout)
	}

	return nil
}
