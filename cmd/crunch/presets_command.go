package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crunch/internal/daemon"
)

func newPresetsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			catalog, err := daemon.LoadCatalog(cfg)
			if err != nil {
				return err
			}
			presets := catalog.All()
			if jsonOut {
				return writeJSON(cmd, presets)
			}
			rows := make([][]string, 0, len(presets))
			for _, p := range presets {
				rows = append(rows, []string{
					p.ID,
					p.DisplayName(),
					p.Backend,
					p.Folder,
					p.Suffix,
					p.Extension,
					strings.Join(p.Args, " "),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), tableSpec{
				headers:  []string{"ID", "Name", "Backend", "Folder", "Suffix", "Ext", "Args"},
				rows:     rows,
				maxWidth: map[int]int{6: 60},
			}.render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print presets as JSON")
	return cmd
}
