package batch

import (
	"fmt"

	"crunch/internal/admission"
	"crunch/internal/encoder"
	"crunch/internal/events"
	"crunch/internal/logging"
	"crunch/internal/services"
)

// fillLocked starts pending tasks while admission grants slots. It is called
// after Run, after every terminal event, and on every telemetry reading.
func (o *Orchestrator) fillLocked() {
	if o.lifecycle != LifecycleActive || !o.started || len(o.queue) == 0 {
		return
	}
	decision := admission.Decide(len(o.running), o.policy, o.reading)
	if decision.Reason != o.lastReason {
		if o.lastReason != "" {
			o.batchLogger().Info("admission ceiling changed",
				logging.Int("ceiling", decision.Effective),
				logging.String("reason", decision.Reason),
			)
		}
		o.lastReason = decision.Reason
	}
	for i := 0; i < decision.Slots && len(o.queue) > 0; i++ {
		key := o.queue[0]
		o.queue = o.queue[1:]
		o.startLocked(o.tasks[key])
	}
}

func (o *Orchestrator) startLocked(t *task) {
	t.status = StatusRunning
	t.startedAt = o.now()
	req := encoder.Request{
		Key:        t.entry.Key,
		SourcePath: t.entry.SourcePath,
		OutputPath: t.entry.OutputPath,
		Preset:     t.entry.Preset,
		KeepAudio:  t.entry.KeepAudio,
	}
	ctx := services.WithTaskKey(o.batchCtx, t.entry.Key.String())
	h := o.invoker.Invoke(ctx, req)
	if h == nil {
		o.publishLocked(events.Event{Kind: events.KindTaskStarted, TaskKey: t.entry.Key.String(), Status: string(StatusRunning)})
		o.finishLocked(t, encoder.Event{
			Kind: encoder.EventFailed,
			Key:  t.entry.Key,
			Err:  services.Wrap(services.ErrExternalTool, "orchestrator", "invoke", "encoder returned no handle", nil),
		})
		return
	}
	t.handle = h
	o.running[t.entry.Key] = h
	o.live[h] = struct{}{}
	go o.forward(o.generation, h)

	o.batchLogger().Debug("task started",
		logging.String(logging.FieldTaskKey, t.entry.Key.String()),
		logging.String(logging.FieldPreset, t.entry.Preset.ID),
	)
	o.publishLocked(events.Event{
		Kind:    events.KindTaskStarted,
		TaskKey: t.entry.Key.String(),
		Status:  string(StatusRunning),
		Counts:  o.countsPtrLocked(),
	})
}

// forward applies one handle's events in order until its stream closes.
func (o *Orchestrator) forward(generation uint64, h *encoder.Handle) {
	sawTerminal := false
	for ev := range h.Events() {
		if ev.Kind.Terminal() {
			sawTerminal = true
		}
		o.apply(generation, ev)
	}
	if !sawTerminal {
		o.apply(generation, encoder.Event{
			Kind: encoder.EventFailed,
			Key:  h.Key(),
			Err:  services.Wrap(services.ErrExternalTool, "orchestrator", "forward", "encoder stream closed without a result", nil),
		})
	}
	o.mu.Lock()
	delete(o.live, h)
	o.mu.Unlock()
}

// apply is the single entry point for encoder events.
func (o *Orchestrator) apply(generation uint64, ev encoder.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cleaningUp || generation != o.generation {
		o.discardLocked(ev, "stale generation")
		return
	}
	t, ok := o.tasks[ev.Key]
	if !ok || t.status != StatusRunning {
		o.discardLocked(ev, "task not running")
		return
	}

	switch ev.Kind {
	case encoder.EventStarted:
	case encoder.EventProgress:
		if o.lifecycle != LifecycleActive {
			o.discardLocked(ev, string(o.lifecycle))
			return
		}
		if ev.Percent <= t.progress {
			return
		}
		t.progress = ev.Percent
		o.publishLocked(events.Event{
			Kind:         events.KindTaskProgress,
			TaskKey:      ev.Key.String(),
			Status:       string(StatusRunning),
			Percent:      t.progress,
			BatchPercent: o.percentLocked(),
		})
	case encoder.EventSucceeded, encoder.EventFailed:
		if o.lifecycle != LifecycleActive && o.lifecycle != LifecycleCancelling {
			o.discardLocked(ev, string(o.lifecycle))
			return
		}
		o.finishLocked(t, ev)
		o.fillLocked()
		o.checkCompleteLocked()
	}
}

func (o *Orchestrator) finishLocked(t *task, ev encoder.Event) {
	delete(o.running, t.entry.Key)
	t.handle = nil
	t.finishedAt = o.now()
	logger := o.batchLogger().With(logging.String(logging.FieldTaskKey, t.entry.Key.String()))

	switch {
	case ev.Kind == encoder.EventSucceeded:
		t.status = StatusCompleted
		t.progress = 100
		t.outputPath = ev.OutputPath
		if t.outputPath == "" {
			t.outputPath = t.entry.OutputPath
		}
		o.counts.Completed++
		logger.Info("task completed", logging.String("output", t.outputPath))
	case services.IsCancellation(ev.Err):
		t.status = StatusCancelled
		t.err = errorText(ev.Err)
		o.counts.Cancelled++
		logger.Info("task cancelled")
	default:
		t.status = StatusFailed
		t.err = errorText(ev.Err)
		o.counts.Failed++
		logging.WarnWithContext(logger, "task failed", "task_failed",
			logging.String("error", t.err),
			logging.String(logging.FieldErrorHint, services.Hint(ev.Err)),
			logging.String(logging.FieldImpact, "remaining tasks continue"),
		)
	}
	o.publishTaskCompletedLocked(t)
}

func (o *Orchestrator) publishTaskCompletedLocked(t *task) {
	counts := o.countsPtrLocked()
	percent := o.percentLocked()
	o.publishLocked(events.Event{
		Kind:         events.KindTaskCompleted,
		TaskKey:      t.entry.Key.String(),
		Status:       string(t.status),
		Percent:      t.progress,
		BatchPercent: percent,
		OutputPath:   t.outputPath,
		Error:        t.err,
		Counts:       counts,
	})
	o.publishLocked(events.Event{
		Kind:         events.KindBatchProgress,
		BatchPercent: percent,
		Counts:       counts,
	})
}

// checkCompleteLocked fires the batch-complete event exactly once, when every
// task is terminal.
func (o *Orchestrator) checkCompleteLocked() {
	if o.current == nil || isClosed(o.current.done) {
		return
	}
	if !o.started && o.lifecycle == LifecycleActive {
		return
	}
	if o.lifecycle != LifecycleActive && o.lifecycle != LifecycleCancelling {
		return
	}
	if o.counts.Terminal() != o.counts.Total {
		return
	}

	summary := o.summaryLocked()
	if o.lifecycle == LifecycleCancelling {
		o.lifecycle = LifecycleTearingDown
	} else {
		o.lifecycle = LifecycleCompleted
	}
	o.current.summary = summary
	o.rememberLocked(summary)

	o.batchLogger().Info("batch completed",
		logging.Int("completed", summary.Counts.Completed),
		logging.Int("failed", summary.Counts.Failed),
		logging.Int("cancelled", summary.Counts.Cancelled),
		logging.Duration("duration", summary.Duration()),
		logging.Bool("cancelled_batch", summary.Cancelled),
	)
	counts := summary.Counts
	o.publishLocked(events.Event{
		Kind:         events.KindBatchCompleted,
		BatchPercent: o.percentLocked(),
		Counts:       &counts,
		Message:      fmt.Sprintf("%d completed, %d failed, %d cancelled", counts.Completed, counts.Failed, counts.Cancelled),
	})
	close(o.current.done)
}

func (o *Orchestrator) discardLocked(ev encoder.Event, reason string) {
	o.logger.Debug("discarding encoder event",
		logging.String(logging.FieldTaskKey, ev.Key.String()),
		logging.String("kind", string(ev.Kind)),
		logging.String("reason", reason),
	)
}

func errorText(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}
