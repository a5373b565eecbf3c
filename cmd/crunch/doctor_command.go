package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crunch/internal/preflight"
	"crunch/internal/preset"
	"crunch/internal/telemetry"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, directories, telemetry and notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, preset.BackendFFmpeg, preset.BackendDrapto)

			probeSrc := telemetry.NewSampler(cfg.Admission.SeriousTempC, cfg.Admission.CriticalTempC)
			results = append(results, preflight.ProbeTelemetry(cmd.Context(), cfg, probeSrc).Result())

			ntfyCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			results = append(results, preflight.CheckNtfyFromConfig(ntfyCtx, cfg))
			cancel()

			if jsonOut {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("crunch doctor", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, r := range results {
					fmt.Fprintln(out, renderStatusLine(r.Name, resultKind(r.Passed, r.Optional), r.Detail, colorize))
				}
			}
			if blocking := preflight.Blocking(results); len(blocking) > 0 {
				return errors.New("required checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	return cmd
}
