// Package query provides the database connectivity and query execution glue
// consumed by webview controllers. Adapters wrap database/sql drivers behind
// a common interface; the Runner turns result sets into grids the UI can
// render.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Config describes one connection target. Credentials are accepted at
// connect time only; nothing here is persisted by this package.
type Config struct {
	// Type selects the registered driver ("postgres", "duckdb", "sqlite").
	Type string

	// Path is the file path for file-based databases. ":memory:" opens an
	// in-memory database.
	Path string

	// Host and Port address network databases.
	Host string
	Port int

	// Database is the database name.
	Database string

	// Username and Password authenticate network databases.
	Username string
	Password string

	// Options carries additional driver-specific settings.
	Options map[string]string
}

// Driver is a connected database the controller layer can execute against.
type Driver interface {
	// Connect establishes the connection described by cfg.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the connection.
	Close() error

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, sqlStr string) error

	// Query runs a statement that returns rows.
	Query(ctx context.Context, sqlStr string) (*sql.Rows, error)

	// Name returns the driver's registered name.
	Name() string
}

// baseDriver provides the database/sql plumbing shared by all drivers.
type baseDriver struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

func (b *baseDriver) Close() error {
	if b.db != nil {
		b.logger.Debug("closing database connection")
		return b.db.Close()
	}
	return nil
}

func (b *baseDriver) Exec(ctx context.Context, sqlStr string) error {
	if b.db == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := b.db.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

func (b *baseDriver) Query(ctx context.Context, sqlStr string) (*sql.Rows, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// open dials the given driver/DSN pair and verifies connectivity.
func (b *baseDriver) open(ctx context.Context, driverName, dsn string, cfg Config) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping %s: %w", driverName, err)
	}
	b.db = db
	b.cfg = cfg
	return nil
}
