package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Grid is one query's result set in the shape the webview renders: column
// names plus row values already normalized to JSON-friendly types.
type Grid struct {
	Columns    []string  `json:"columns"`
	Rows       [][]any   `json:"rows"`
	RowCount   int       `json:"rowCount"`
	Truncated  bool      `json:"truncated"`
	DurationMs int64     `json:"durationMs"`
	ExecutedAt time.Time `json:"executedAt"`
}

// DefaultMaxRows bounds how many rows a single execution materializes for
// the UI. Result sets beyond the bound are marked truncated.
const DefaultMaxRows = 10_000

// Runner executes SQL against a connected driver and materializes grids.
type Runner struct {
	driver  Driver
	maxRows int
}

// NewRunner wraps a connected driver. maxRows <= 0 uses DefaultMaxRows.
func NewRunner(driver Driver, maxRows int) *Runner {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Runner{driver: driver, maxRows: maxRows}
}

// Run executes one statement and collects its result set. Cancellation is
// honored between row fetches via ctx.
func (r *Runner) Run(ctx context.Context, sqlText string) (*Grid, error) {
	start := time.Now()

	rows, err := r.driver.Query(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	grid, err := collectGrid(ctx, rows, r.maxRows)
	if err != nil {
		return nil, err
	}
	grid.DurationMs = time.Since(start).Milliseconds()
	grid.ExecutedAt = start.UTC()
	return grid, nil
}

// collectGrid scans all rows into a Grid, stopping at maxRows.
func collectGrid(ctx context.Context, rows *sql.Rows, maxRows int) (*Grid, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	grid := &Grid{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(grid.Rows) >= maxRows {
			grid.Truncated = true
			break
		}

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			// Drivers hand back []byte for text-ish columns; the UI
			// wants strings.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		grid.Rows = append(grid.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	grid.RowCount = len(grid.Rows)
	return grid, nil
}
