package redis

import (
	"fmt"
	"time"
)

// Config holds Redis client configuration. An empty Address disables Redis
// and the service falls back to in-memory snapshot storage.
type Config struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// Enabled reports whether a Redis address is configured.
func (c *Config) Enabled() bool {
	return c.Address != ""
}

// Validate validates and sets defaults for Config. Only meaningful when
// Redis is enabled.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}

	if c.PoolSize == 0 {
		c.PoolSize = 10
	}

	if c.DialTimeout < 0 {
		return fmt.Errorf("dial_timeout must be positive, got %v", c.DialTimeout)
	}

	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}

	return nil
}
