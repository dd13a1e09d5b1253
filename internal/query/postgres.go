package query

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

func init() {
	Register("postgres", func(logger *slog.Logger) Driver {
		return &postgresDriver{baseDriver{logger: logger}}
	})
}

type postgresDriver struct {
	baseDriver
}

func (d *postgresDriver) Name() string { return "postgres" }

// Connect establishes a connection to PostgreSQL through the pgx stdlib
// driver.
func (d *postgresDriver) Connect(ctx context.Context, cfg Config) error {
	d.logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))
	return d.open(ctx, "pgx", buildPostgresDSN(cfg), cfg)
}

// buildPostgresDSN constructs a key=value connection string.
func buildPostgresDSN(cfg Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
}

var _ Driver = (*postgresDriver)(nil)
