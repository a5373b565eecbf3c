package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crunch/internal/batch"
	"crunch/internal/daemonctl"
	"crunch/internal/ipc"
)

const daemonBinary = "crunchd"

// watchWait is the long-poll window per Events call.
const watchWait = 20 * time.Second

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var logLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start crunchd in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, logLevel),
				10*time.Second,
			)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop crunchd, abandoning any running batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Stop(ctx.socketPath(), ctx.configValue(), 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and batch status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snap)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(snap, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")

	var submitFlags planFlags
	var submitWatch bool
	submitCmd := &cobra.Command{
		Use:   "submit FILE...",
		Short: "Start a batch on crunchd",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := submitFlags.request(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				return submitBatch(cmd.OutOrStdout(), client, req, submitFlags.onConflict(), submitWatch)
			})
		},
	}
	submitFlags.register(submitCmd, true)
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "Follow progress until the batch ends")

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running batch; running encodes are stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelling batch %s\n", resp.BatchID)
				return nil
			})
		},
	}

	teardownCmd := &cobra.Command{
		Use:   "teardown",
		Short: "Abandon the current batch without waiting for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Teardown()
				if err != nil {
					return err
				}
				if resp.BatchID == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No batch loaded")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s torn down\n", resp.BatchID)
				return nil
			})
		},
	}

	var follow bool
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream batch progress from crunchd",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if !follow && !batchLive(status.Batch) {
					fmt.Fprintln(cmd.OutOrStdout(), "No batch running")
					return nil
				}
				return watchBatch(cmd.OutOrStdout(), client, status, follow)
			})
		},
	}
	watchCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep watching across batches")

	return []*cobra.Command{startCmd, stopCmd, statusCmd, submitCmd, cancelCmd, teardownCmd, watchCmd}
}

// submitBatch plans req on the daemon, refuses to start when outputs exist
// and no disposition was chosen, then starts the batch.
func submitBatch(out io.Writer, client *ipc.Client, req ipc.PlanRequest, onConflict string, watch bool) error {
	planned, err := client.Plan(req)
	if err != nil {
		return err
	}
	if len(planned.Conflicts) > 0 {
		fmt.Fprint(out, renderConflicts(planned.Conflicts))
		if onConflict == "" {
			return fmt.Errorf("%d output(s) already exist; rerun with --overwrite or --skip-existing", len(planned.Conflicts))
		}
	}

	status, err := client.Status()
	if err != nil {
		return err
	}
	started, err := client.Start(ipc.StartRequest{PlanRequest: req, OnConflict: onConflict})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Started batch %s with %d task(s)", started.BatchID, started.Tasks)
	if len(started.Skipped) > 0 {
		fmt.Fprintf(out, ", %d skipped", len(started.Skipped))
	}
	fmt.Fprintln(out)
	if !watch {
		return nil
	}
	return watchBatch(out, client, &ipc.StatusResponse{
		LastSequence: status.LastSequence,
		Batch:        batch.Snapshot{BatchID: started.BatchID},
	}, false)
}

// watchBatch long-polls events after status.LastSequence. Without follow it
// returns once the current batch ends.
func watchBatch(out io.Writer, client *ipc.Client, status *ipc.StatusResponse, follow bool) error {
	view := newProgressView(out)
	view.batchID = status.Batch.BatchID
	view.counts = status.Batch.Counts
	view.percent = status.Batch.Percent
	view.redraw()

	since := status.LastSequence
	for {
		resp, err := client.Events(ipc.EventsRequest{
			Since:      since,
			Limit:      256,
			WaitMillis: int(watchWait / time.Millisecond),
		})
		if err != nil {
			view.finish()
			return err
		}
		since = resp.Next
		for _, evt := range resp.Events {
			if !view.handle(evt) {
				continue
			}
			if !follow {
				return nil
			}
			view.batchID = ""
		}
	}
}

func batchLive(s batch.Snapshot) bool {
	switch s.Lifecycle {
	case batch.LifecycleInitializing, batch.LifecycleActive, batch.LifecycleCancelling:
		return true
	}
	return false
}

func renderSnapshot(snap daemonctl.Snapshot, colorize bool) string {
	var b strings.Builder
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(&b, line)
	}
	if snap.Daemon == nil {
		fmt.Fprintln(&b, renderStatusLine("crunchd", statusWarn, "not running", colorize))
	} else {
		fmt.Fprintln(&b, renderStatusLine("crunchd", statusOK, fmt.Sprintf("running (pid %d)", snap.Daemon.PID), colorize))
	}
	fmt.Fprintln(&b)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(&b, line)
	}
	fmt.Fprintln(&b, renderStatusLine("Summary", statusKindFromSeverity(snap.Summary.Severity), snap.Summary.Detail, colorize))
	for _, r := range snap.Checks {
		fmt.Fprintln(&b, renderStatusLine(r.Name, resultKind(r.Passed, r.Optional), r.Detail, colorize))
	}

	if snap.Daemon == nil {
		return b.String()
	}
	fmt.Fprintln(&b)
	for _, line := range renderSectionHeader("Batch", colorize) {
		fmt.Fprintln(&b, line)
	}
	s := snap.Daemon.Batch
	if s.BatchID == "" {
		fmt.Fprintln(&b, "No batch loaded")
		return b.String()
	}
	fmt.Fprintf(&b, "%s  %s  ceiling %d", s.BatchID, s.Lifecycle, s.Ceiling)
	if s.Reason != "" {
		fmt.Fprintf(&b, " (%s)", s.Reason)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, progressLine(s.Percent, s.Counts))
	if len(s.Tasks) == 0 {
		return b.String()
	}
	rows := make([][]string, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		detail := t.Error
		if detail == "" {
			detail = t.PlannedPath
		}
		rows = append(rows, []string{string(t.Key), string(t.Status), fmt.Sprintf("%.1f%%", t.Progress), detail})
	}
	fmt.Fprint(&b, tableSpec{
		headers:  []string{"Task", "Status", "Progress", "Output / Error"},
		rows:     rows,
		aligns:   []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		maxWidth: map[int]int{3: 70},
	}.render())
	return b.String()
}

// daemonExecutable prefers a crunchd installed next to this binary.
func daemonExecutable() (string, error) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), daemonBinary)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(daemonBinary)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", daemonBinary, err)
	}
	return path, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: strings.TrimSpace(logLevel)}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if cfg := strings.TrimSpace(*ctx.configFlag); cfg != "" {
			opts.ConfigPath = cfg
		}
	}
	return opts
}

