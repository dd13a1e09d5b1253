package commands

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dbview-labs/dbview/internal/config"
)

// NewProfilesCommand creates the profiles command.
func NewProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List configured connection profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := getConfig(cmd.Context())
			if len(cfg.Profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles configured")
				return nil
			}

			renderProfiles(cmd, cfg)
			return nil
		},
	}
}

func renderProfiles(cmd *cobra.Command, cfg *config.Config) {
	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Type", "Target", "Database", "Active"})

	for _, name := range names {
		p := cfg.Profiles[name]
		target := p.Path
		if target == "" {
			target = fmt.Sprintf("%s:%d", p.Host, p.Port)
		}
		active := ""
		if name == cfg.Profile {
			active = "*"
		}
		t.AppendRow(table.Row{name, p.Type, target, p.Database, active})
	}
	t.Render()
}
