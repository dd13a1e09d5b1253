package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dbview-labs/dbview/internal/config"
	"github.com/dbview-labs/dbview/internal/history"
	"github.com/dbview-labs/dbview/internal/query"
)

// openRunner connects the active profile's driver and wraps it in a
// runner. The caller owns the returned driver and must close it.
func openRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, query.Driver, *query.Runner, error) {
	name, profile, err := cfg.ActiveProfile()
	if err != nil {
		return "", nil, nil, err
	}

	driverCfg := profile.DriverConfig()
	driver, err := query.NewDriver(driverCfg, logger)
	if err != nil {
		return "", nil, nil, err
	}
	if err := driver.Connect(ctx, driverCfg); err != nil {
		return "", nil, nil, fmt.Errorf("failed to connect profile %q: %w", name, err)
	}

	return name, driver, query.NewRunner(driver, profile.MaxRows), nil
}

// openHistory opens the execution history store, creating its parent
// directory when needed.
func openHistory(cfg *config.Config, logger *slog.Logger) (*history.Store, error) {
	path := cfg.HistoryPath
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	store := history.NewStore(logger)
	if err := store.Open(path); err != nil {
		return nil, err
	}
	return store, nil
}
