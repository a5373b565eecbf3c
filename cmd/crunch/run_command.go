package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crunch/internal/batch"
	"crunch/internal/conflict"
	"crunch/internal/daemon"
	"crunch/internal/logging"
)

type planFlags struct {
	presets      []string
	outputDir    string
	dropAudio    bool
	names        []string
	overwrite    bool
	skipExisting bool
}

func (f *planFlags) register(cmd *cobra.Command, conflictFlags bool) {
	cmd.Flags().StringSliceVarP(&f.presets, "preset", "p", nil, "Preset ID to encode with (repeatable)")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", "", "Output root (default: paths.output_dir or each source's directory)")
	cmd.Flags().BoolVar(&f.dropAudio, "no-audio", false, "Strip audio tracks")
	cmd.Flags().StringArrayVar(&f.names, "name", nil, "Custom output name as FILE=NAME (repeatable)")
	_ = cmd.MarkFlagRequired("preset")
	if conflictFlags {
		cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "Replace outputs that already exist")
		cmd.Flags().BoolVar(&f.skipExisting, "skip-existing", false, "Skip tasks whose output already exists")
		cmd.MarkFlagsMutuallyExclusive("overwrite", "skip-existing")
	}
}

func (f *planFlags) request(files []string) (daemon.PlanRequest, error) {
	req := daemon.PlanRequest{Files: make([]string, 0, len(files)), Presets: f.presets}
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return daemon.PlanRequest{}, fmt.Errorf("resolve %q: %w", file, err)
		}
		req.Files = append(req.Files, abs)
	}
	if out := strings.TrimSpace(f.outputDir); out != "" {
		abs, err := filepath.Abs(out)
		if err != nil {
			return daemon.PlanRequest{}, fmt.Errorf("resolve output dir: %w", err)
		}
		req.OutputDir = abs
	}
	if f.dropAudio {
		keep := false
		req.KeepAudio = &keep
	}
	if len(f.names) > 0 {
		req.CustomNames = make(map[string]string, len(f.names))
		for _, pair := range f.names {
			file, name, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(name) == "" {
				return daemon.PlanRequest{}, fmt.Errorf("invalid --name %q, want FILE=NAME", pair)
			}
			abs, err := filepath.Abs(strings.TrimSpace(file))
			if err != nil {
				return daemon.PlanRequest{}, err
			}
			req.CustomNames[abs] = strings.TrimSpace(name)
		}
	}
	return req, nil
}

// onConflict returns the disposition chosen by flags, or "" to prompt.
func (f *planFlags) onConflict() string {
	switch {
	case f.overwrite:
		return string(conflict.Overwrite)
	case f.skipExisting:
		return string(conflict.Skip)
	}
	return ""
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Compress files in this process with live progress",
		Long: "Plans every FILE x --preset pair, asks what to do with outputs that already exist,\n" +
			"then encodes with the configured concurrency. Ctrl-C cancels the batch; a second\n" +
			"Ctrl-C abandons it immediately.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req, err := flags.request(args)
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "crunch.log")},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			d, err := daemon.New(cfg, logger, daemon.Options{})
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Start(cmd.Context()); err != nil {
				return fmt.Errorf("%w (is crunchd running? use `crunch submit` instead)", err)
			}

			return runBatch(cmd, d, req, flags.onConflict())
		},
	}
	flags.register(cmd, true)
	return cmd
}

func runBatch(cmd *cobra.Command, d *daemon.Daemon, req daemon.PlanRequest, onConflict string) error {
	out := cmd.OutOrStdout()
	planned, err := d.Plan(cmd.Context(), req)
	if err != nil {
		return err
	}

	var decisions map[string]string
	if len(planned.Conflicts) > 0 {
		fmt.Fprint(out, renderConflicts(planned.Conflicts))
		if onConflict == "" {
			decisions, err = promptConflicts(cmd.InOrStdin(), out, planned.Conflicts)
			if err != nil {
				return err
			}
		}
	}

	stream, unsubscribe := d.Hub().Subscribe(1024)
	defer unsubscribe()

	result, err := d.StartPlanned(cmd.Context(), planned, decisions, onConflict)
	if err != nil {
		return err
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "Skipping %d existing output(s)\n", len(result.Skipped))
	}
	fmt.Fprintf(out, "Batch %s: %d task(s)\n", result.BatchID, result.Tasks)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	view := newProgressView(out)
	view.batchID = result.BatchID
	orch := d.Orchestrator()
	interrupts := 0
	ctxDone := cmd.Context().Done()
	for done := false; !done; {
		select {
		case evt, ok := <-stream:
			done = !ok || view.handle(evt)
		case <-signals:
			interrupts++
			if interrupts == 1 {
				if err := orch.Cancel(); err != nil && !errors.Is(err, batch.ErrInvalidState) {
					return err
				}
				continue
			}
			_ = orch.Teardown()
		case <-ctxDone:
			ctxDone = nil
			_ = orch.Teardown()
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := orch.Wait(waitCtx)
	if errors.Is(err, batch.ErrInvalidState) {
		// Teardown already cleared the batch; its summary outlives it.
		var ok bool
		if summary, ok = orch.Summary(result.BatchID); ok {
			err = nil
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprint(out, renderSummary(summary))
	switch {
	case summary.TornDown:
		return errors.New("batch abandoned")
	case summary.Cancelled:
		return errors.New("batch cancelled")
	case summary.Counts.Failed > 0:
		return fmt.Errorf("%d task(s) failed", summary.Counts.Failed)
	}
	return nil
}

// promptConflicts asks per conflict. Answers: o overwrite, s skip, O
// overwrite all remaining, S skip all remaining.
func promptConflicts(in io.Reader, out io.Writer, conflicts []conflict.Entry) (map[string]string, error) {
	if !isTerminal(in) && in == os.Stdin {
		return nil, errors.New("outputs already exist; pass --overwrite or --skip-existing")
	}
	reader := bufio.NewReader(in)
	decisions := make(map[string]string, len(conflicts))
	var all conflict.Disposition
	for _, c := range conflicts {
		if all != "" {
			decisions[c.Key.String()] = string(all)
			continue
		}
		for {
			fmt.Fprintf(out, "%s exists. [o]verwrite, [s]kip, [O]verwrite all, [S]kip all? ", c.OutputPath)
			line, err := reader.ReadString('\n')
			answer := strings.TrimSpace(line)
			if err != nil && answer == "" {
				return nil, fmt.Errorf("read answer: %w", err)
			}
			var d conflict.Disposition
			switch answer {
			case "o", "overwrite":
				d = conflict.Overwrite
			case "s", "skip":
				d = conflict.Skip
			case "O":
				d, all = conflict.Overwrite, conflict.Overwrite
			case "S":
				d, all = conflict.Skip, conflict.Skip
			default:
				continue
			}
			decisions[c.Key.String()] = string(d)
			break
		}
	}
	return decisions, nil
}

func renderConflicts(conflicts []conflict.Entry) string {
	rows := make([][]string, 0, len(conflicts))
	for _, c := range conflicts {
		rows = append(rows, []string{c.Key.String(), c.OutputPath, c.ExistingName})
	}
	return tableSpec{
		headers:  []string{"Task", "Existing Output", "File"},
		rows:     rows,
		maxWidth: map[int]int{1: 70},
	}.render()
}

func renderSummary(s batch.Summary) string {
	rows := make([][]string, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		detail := t.OutputPath
		if t.Error != "" {
			detail = t.Error
		}
		rows = append(rows, []string{t.Key.String(), string(t.Status), fmt.Sprintf("%.0f%%", t.Progress), detail})
	}
	footer := []string{
		fmt.Sprintf("%d task(s)", s.Counts.Total),
		fmt.Sprintf("%d ok / %d failed / %d cancelled", s.Counts.Completed, s.Counts.Failed, s.Counts.Cancelled),
		"",
		s.Duration().Round(time.Second).String(),
	}
	return tableSpec{
		headers:  []string{"Task", "Status", "Progress", "Output / Error"},
		rows:     rows,
		aligns:   []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		footer:   footer,
		maxWidth: map[int]int{3: 80},
	}.render()
}

func newConflictsCommand(ctx *commandContext) *cobra.Command {
	var flags planFlags
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "conflicts FILE...",
		Short: "List planned outputs that already exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req, err := flags.request(args)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, logging.NewNop(), daemon.Options{})
			if err != nil {
				return err
			}
			defer d.Close()
			planned, err := d.Plan(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, planned)
			}
			out := cmd.OutOrStdout()
			if len(planned.Conflicts) == 0 {
				fmt.Fprintf(out, "No conflicts across %d planned output(s)\n", len(planned.Tasks))
				return nil
			}
			fmt.Fprint(out, renderConflicts(planned.Conflicts))
			return nil
		},
	}
	flags.register(cmd, false)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full plan as JSON")
	return cmd
}
