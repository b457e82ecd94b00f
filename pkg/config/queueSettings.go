package config

import "time"

// QueueSettings holds configuration for the Redis-backed queue engine.
type QueueSettings struct {
	Addr       string        `mapstructure:"addr" validate:"required"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Stream     string        `mapstructure:"stream"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"` // base delay, scaled linearly per attempt
	ReadCount  int64         `mapstructure:"read_count"`  // max messages per blocking read
	BlockWait  time.Duration `mapstructure:"block_wait"`  // bounded wait per blocking read
	Cooldown   time.Duration `mapstructure:"cooldown"`    // sleep after a transport-level error
}

// AuditSettings holds the connection for the long-lived audit trail store.
type AuditSettings struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}
