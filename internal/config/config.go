package config

import (
	"fmt"
	"time"

	"github.com/kartikbazzad/edgedb/internal/errors"
)

// DefaultTxnTimeout bounds how long an interactive transaction may wait for
// its next statement.
const DefaultTxnTimeout = 5 * time.Second

const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type EngineConfig struct {
	Driver      string        `mapstructure:"driver"`      // sqlite | sqlite3
	Path        string        `mapstructure:"path"`        // database file
	BusyTimeout time.Duration `mapstructure:"busytimeout"` // SQLite busy_timeout pragma
	JournalMode string        `mapstructure:"journalmode"` // WAL recommended for concurrent workers
	OpenRetries int           `mapstructure:"openretries"` // retries on transient open errors
}

type PoolConfig struct {
	Workers         int           `mapstructure:"workers"`         // 0 = runtime.NumCPU()
	TxnTimeout      time.Duration `mapstructure:"txntimeout"`      // deadline for an open transaction
	RefreshDeadline bool          `mapstructure:"refreshdeadline"` // restart the deadline on every statement
	LockOSThread    bool          `mapstructure:"lockosthread"`    // pin each worker goroutine to an OS thread
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // DEBUG, INFO, WARN, ERROR
	Format string `mapstructure:"format"` // text, json
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Driver:      DriverModernc,
			Path:        "iku.db",
			BusyTimeout: 5 * time.Second,
			JournalMode: "WAL",
			OpenRetries: 5,
		},
		Pool: *DefaultPoolConfig(),
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:         0,
		TxnTimeout:      DefaultTxnTimeout,
		RefreshDeadline: false,
		LockOSThread:    true,
	}
}

// Validate rejects values the pool or engine cannot run with.
func (c *Config) Validate() error {
	switch c.Engine.Driver {
	case DriverModernc, DriverMattn:
	default:
		return fmt.Errorf("%w: engine.driver %q", errors.ErrInvalidConfig, c.Engine.Driver)
	}
	if c.Engine.Path == "" {
		return fmt.Errorf("%w: engine.path is empty", errors.ErrInvalidConfig)
	}
	if c.Engine.BusyTimeout < 0 {
		return fmt.Errorf("%w: engine.busytimeout is negative", errors.ErrInvalidConfig)
	}
	if c.Engine.OpenRetries < 0 {
		return fmt.Errorf("%w: engine.openretries is negative", errors.ErrInvalidConfig)
	}
	return c.Pool.Validate()
}

func (c *PoolConfig) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: pool.workers is negative", errors.ErrInvalidConfig)
	}
	if c.TxnTimeout <= 0 {
		return fmt.Errorf("%w: pool.txntimeout must be positive", errors.ErrInvalidConfig)
	}
	return nil
}
