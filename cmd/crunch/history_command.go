package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crunch/internal/batch"
	"crunch/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history [BATCH_ID]",
		Short: "Show recorded batches, or the tasks of one batch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled (history.enabled = false)")
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				summary, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, summary)
				}
				fmt.Fprintf(out, "Batch %s (%s)\n", summary.BatchID, outcome(summary))
				fmt.Fprint(out, renderSummary(summary))
				return nil
			}

			batches, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, batches)
			}
			if len(batches) == 0 {
				fmt.Fprintln(out, "No batches recorded")
				return nil
			}
			rows := make([][]string, 0, len(batches))
			for _, b := range batches {
				rows = append(rows, []string{
					b.BatchID,
					b.StartedAt.Local().Format("2006-01-02 15:04"),
					b.Duration().Round(time.Second).String(),
					fmt.Sprint(b.Counts.Total),
					fmt.Sprint(b.Counts.Completed),
					fmt.Sprint(b.Counts.Failed),
					fmt.Sprint(b.Counts.Cancelled),
					outcome(b),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Batch", "Started", "Duration", "Tasks", "OK", "Failed", "Cancelled", "Outcome"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of batches to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

func outcome(s batch.Summary) string {
	switch {
	case s.TornDown:
		return "abandoned"
	case s.Cancelled:
		return "cancelled"
	case s.Counts.Failed > 0:
		return "completed with errors"
	default:
		return "completed"
	}
}
