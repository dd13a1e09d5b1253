package query

import (
	"context"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Driver {
		return &duckdbDriver{baseDriver{logger: logger}}
	})
}

type duckdbDriver struct {
	baseDriver
}

func (d *duckdbDriver) Name() string { return "duckdb" }

// Connect opens a DuckDB database. An empty path opens in-memory.
func (d *duckdbDriver) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	d.logger.Debug("connecting to duckdb", slog.String("path", path))
	return d.open(ctx, "duckdb", path, cfg)
}

var _ Driver = (*duckdbDriver)(nil)
