package postgres

import (
	"fmt"
	"time"
)

// Config holds store-level configuration for the PostgreSQL backend.
// Pool configuration is embedded so one struct can be built from CLI flags.
type Config struct {
	PoolConfig

	// AutoMigrate runs embedded migrations on Open.
	AutoMigrate bool

	// QueryTimeoutSeconds is the maximum time a query can run before timing out.
	// Default: 10 seconds
	// Set to 0 to use context timeouts only (no additional timeout)
	QueryTimeoutSeconds int32

	// ConnectRetryMaxElapsed bounds how long Open keeps retrying the first ping.
	// Default: 30 seconds
	ConnectRetryMaxElapsed time.Duration
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.PoolConfig.Validate(); err != nil {
		return err
	}
	if c.QueryTimeoutSeconds < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	c.PoolConfig.ApplyDefaults()
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 10 // 10 seconds
	}
	if c.ConnectRetryMaxElapsed == 0 {
		c.ConnectRetryMaxElapsed = 30 * time.Second
	}
}
