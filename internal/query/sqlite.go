package query

import (
	"context"
	"log/slog"

	_ "modernc.org/sqlite" // cgo-free sqlite driver
)

func init() {
	Register("sqlite", func(logger *slog.Logger) Driver {
		return &sqliteDriver{baseDriver{logger: logger}}
	})
}

type sqliteDriver struct {
	baseDriver
}

func (d *sqliteDriver) Name() string { return "sqlite" }

// Connect opens a SQLite database. An empty path opens in-memory.
func (d *sqliteDriver) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	d.logger.Debug("connecting to sqlite", slog.String("path", path))
	return d.open(ctx, "sqlite", path, cfg)
}

var _ Driver = (*sqliteDriver)(nil)
