package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dbview-labs/dbview/internal/config"
	"github.com/dbview-labs/dbview/internal/history"
	"github.com/dbview-labs/dbview/internal/query"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	MaxRows   int
	NoHistory bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a SQL statement against the active profile",
		Example: `  dbview query "SELECT * FROM users LIMIT 10"
  dbview -p warehouse query "SELECT count(*) FROM events"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", 0, "Maximum rows to fetch (default from profile)")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "Skip recording the execution")

	return cmd
}

func runQuery(cmd *cobra.Command, sqlText string, opts *QueryOptions) error {
	ctx := cmd.Context()
	cfg := getConfig(ctx)
	logger := getLogger(ctx)

	name, driver, runner, err := openRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = driver.Close() }()

	if opts.MaxRows > 0 {
		runner = query.NewRunner(driver, opts.MaxRows)
	}

	grid, runErr := runner.Run(ctx, sqlText)

	if !opts.NoHistory {
		recordQuery(cmd, cfg, name, sqlText, grid, runErr)
	}
	if runErr != nil {
		return runErr
	}

	renderGrid(cmd, grid)
	return nil
}

func recordQuery(cmd *cobra.Command, cfg *config.Config, profile, sqlText string, grid *query.Grid, runErr error) {
	logger := getLogger(cmd.Context())
	store, err := openHistory(cfg, logger)
	if err != nil {
		logger.Warn("history unavailable", "error", err)
		return
	}
	defer func() { _ = store.Close() }()

	exec := history.Execution{Profile: profile, SQL: sqlText}
	if runErr != nil {
		exec.Status = history.StatusFailed
		exec.Error = runErr.Error()
	} else {
		exec.Status = history.StatusSucceeded
		exec.RowCount = grid.RowCount
		exec.DurationMs = grid.DurationMs
	}
	if _, err := store.Record(cmd.Context(), exec); err != nil {
		logger.Warn("failed to record execution", "error", err)
	}
}

func renderGrid(cmd *cobra.Command, grid *query.Grid) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(grid.Columns))
	for i, col := range grid.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, row := range grid.Rows {
		out := make(table.Row, len(row))
		copy(out, row)
		t.AppendRow(out)
	}
	t.Render()

	summary := fmt.Sprintf("%d row(s) in %s", grid.RowCount,
		(time.Duration(grid.DurationMs) * time.Millisecond).String())
	if grid.Truncated {
		summary += " (truncated)"
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
}

// trimSQL shortens a statement for single-line display.
func trimSQL(sqlText string, max int) string {
	s := strings.Join(strings.Fields(sqlText), " ")
	if len(s) > max {
		return s[:max-1] + "…"
	}
	return s
}
