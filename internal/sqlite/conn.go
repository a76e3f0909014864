// Package sqlite implements worker connections on top of database/sql.
//
// Every connection gets its own *sql.DB limited to a single open
// connection, and pins that connection for its whole life, so a
// transaction begun by one statement unit is still open for the next.
// Note that with an in-memory path every worker sees its own database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/juju/clock"
	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/edgedb/internal/config"
	"github.com/kartikbazzad/edgedb/internal/errors"
	"github.com/kartikbazzad/edgedb/internal/logger"
	"github.com/kartikbazzad/edgedb/internal/pool"
	"github.com/kartikbazzad/edgedb/internal/statements"
)

const rollbackStmt = "ROLLBACK TRANSACTION;"

// Conn is one dedicated engine connection.
type Conn struct {
	db   *sql.DB
	conn *sql.Conn
	log  *logger.Logger
}

// NewFactory returns a pool.ConnectionFactory opening connections to the
// database described by cfg.
func NewFactory(cfg config.EngineConfig, log *logger.Logger) pool.ConnectionFactory {
	return func() (pool.Connection, error) {
		c, err := Open(cfg, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Open opens and pins a new connection. Transient engine errors (busy,
// locked) while opening are retried with backoff.
func Open(cfg config.EngineConfig, log *logger.Logger) (*Conn, error) {
	if log == nil {
		log = logger.Discard()
	}
	if err := driverAvailable(cfg.Driver); err != nil {
		return nil, err
	}

	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	var conn *sql.Conn
	backoff := errors.NewBackoff(cfg.OpenRetries, clock.WallClock)
	err = backoff.Do(context.Background(), func(ctx context.Context) error {
		c, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		if err := c.PingContext(ctx); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Path, err)
	}

	log.Debug("Opened %s connection to %s", cfg.Driver, cfg.Path)
	return &Conn{db: db, conn: conn, log: log}, nil
}

// DSN builds the driver-specific data source name for cfg.
func DSN(cfg config.EngineConfig) (string, error) {
	busy := cfg.BusyTimeout.Milliseconds()
	var params []string

	switch cfg.Driver {
	case config.DriverModernc:
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", busy))
		if cfg.JournalMode != "" {
			params = append(params, fmt.Sprintf("_pragma=journal_mode(%s)", cfg.JournalMode))
		}
	case config.DriverMattn:
		params = append(params, fmt.Sprintf("_busy_timeout=%d", busy))
		if cfg.JournalMode != "" {
			params = append(params, "_journal_mode="+cfg.JournalMode)
		}
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownDriver, cfg.Driver)
	}

	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}
	return cfg.Path + sep + strings.Join(params, "&"), nil
}

// Execute runs every statement of the unit in order on the pinned
// connection and collects the rows they produce. It stops at the first
// failing statement; earlier statements stay applied.
func (c *Conn) Execute(ctx context.Context, stmts *statements.Statements) ([]string, error) {
	var out []string
	for _, st := range stmts.List() {
		rows, err := c.query(ctx, st.SQL)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (c *Conn) query(ctx context.Context, stmt string) ([]string, error) {
	rows, err := c.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, formatRow(cols, values))
	}
	return out, rows.Err()
}

// formatRow renders a row as "name = value" pairs joined by ", ".
func formatRow(cols []string, values []any) string {
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col)
		b.WriteString(" = ")
		b.WriteString(formatValue(values[i]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Rollback aborts the open transaction, if any.
func (c *Conn) Rollback(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, rollbackStmt)
	return err
}

func (c *Conn) Close() error {
	connErr := c.conn.Close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return connErr
}
