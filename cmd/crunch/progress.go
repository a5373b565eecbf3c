package main

import (
	"fmt"
	"io"
	"strings"

	"crunch/internal/batch"
	"crunch/internal/events"
)

// progressView renders batch events. On a terminal it redraws one status
// line in place; otherwise it prints one line per finished task.
type progressView struct {
	out      io.Writer
	live     bool
	colorize bool
	batchID  string

	percent float64
	counts  events.Counts
	drawn   bool
}

func newProgressView(out io.Writer) *progressView {
	live := isTerminal(out)
	return &progressView{out: out, live: live, colorize: shouldColorize(out)}
}

// handle applies evt and reports whether the batch has ended.
func (v *progressView) handle(evt events.Event) bool {
	if v.batchID != "" && evt.BatchID != "" && evt.BatchID != v.batchID {
		return false
	}
	if evt.Counts != nil {
		v.counts = *evt.Counts
	}
	switch evt.Kind {
	case events.KindBatchInitialized:
		v.batchID = evt.BatchID
		v.percent = 0
	case events.KindTaskProgress, events.KindBatchProgress:
		v.percent = evt.BatchPercent
	case events.KindTaskCompleted:
		v.percent = evt.BatchPercent
		v.printLine(taskLine(evt, v.colorize))
	case events.KindBatchCancelling:
		v.printLine("Cancelling batch; waiting for running encodes to stop")
	case events.KindBatchCompleted:
		v.percent = evt.BatchPercent
		v.redraw()
		v.finish()
		return true
	case events.KindBatchTornDown:
		v.finish()
		return true
	}
	v.redraw()
	return false
}

func (v *progressView) redraw() {
	if !v.live {
		return
	}
	fmt.Fprintf(v.out, "\r\x1b[2K%s", progressLine(v.percent, v.counts))
	v.drawn = true
}

func (v *progressView) printLine(line string) {
	if v.live && v.drawn {
		fmt.Fprint(v.out, "\r\x1b[2K")
	}
	fmt.Fprintln(v.out, line)
	v.drawn = false
}

func (v *progressView) finish() {
	if v.live && v.drawn {
		fmt.Fprintln(v.out)
		v.drawn = false
	}
}

const barWidth = 30

func progressLine(percent float64, c events.Counts) string {
	filled := int(percent / 100 * barWidth)
	filled = min(max(filled, 0), barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	return fmt.Sprintf("[%s] %5.1f%%  %d/%d done, %d running, %d failed",
		bar, percent, c.Terminal(), c.Total, c.Running, c.Failed)
}

func taskLine(evt events.Event, colorize bool) string {
	kind := statusOK
	detail := evt.OutputPath
	switch batch.Status(evt.Status) {
	case batch.StatusFailed:
		kind, detail = statusError, evt.Error
	case batch.StatusCancelled:
		kind, detail = statusWarn, "cancelled"
	}
	return renderStatusLine(evt.TaskKey, kind, detail, colorize)
}
