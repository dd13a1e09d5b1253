package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
	Prune string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent query executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of executions to show")
	cmd.Flags().StringVar(&opts.Prune, "prune", "", "Delete executions older than this duration (e.g. 720h)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	ctx := cmd.Context()
	cfg := getConfig(ctx)
	logger := getLogger(ctx)

	store, err := openHistory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.Prune != "" {
		age, err := time.ParseDuration(opts.Prune)
		if err != nil {
			return fmt.Errorf("invalid prune duration: %w", err)
		}
		removed, err := store.Prune(ctx, time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d execution(s)\n", removed)
		return nil
	}

	execs, err := store.List(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No executions recorded")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"When", "Profile", "Status", "Rows", "Duration", "SQL"})

	for _, e := range execs {
		t.AppendRow(table.Row{
			e.ExecutedAt.Local().Format("2006-01-02 15:04:05"),
			e.Profile,
			string(e.Status),
			e.RowCount,
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			trimSQL(e.SQL, 60),
		})
	}
	t.Render()
	return nil
}
