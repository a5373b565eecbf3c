package daemon

import (
	"context"
	"time"

	"crunch/internal/batch"
	"crunch/internal/events"
	"crunch/internal/logging"
	"crunch/internal/notifications"
)

// consume reacts to finished batches: it records history and sends the
// completion notification. It returns when stream is closed.
func (d *Daemon) consume(ctx context.Context, stream <-chan events.Event) {
	for evt := range stream {
		switch evt.Kind {
		case events.KindBatchCompleted, events.KindBatchTornDown:
			d.finishBatch(ctx, evt)
		}
	}
}

func (d *Daemon) finishBatch(ctx context.Context, evt events.Event) {
	summary, ok := d.orch.Summary(evt.BatchID)
	if !ok {
		return
	}
	// A torn-down batch that never ran has nothing worth keeping, and a
	// completed batch that is later torn down was already recorded.
	if evt.Kind == events.KindBatchTornDown && (!summary.TornDown || summary.StartedAt.IsZero()) {
		return
	}
	d.record(ctx, summary)
	if evt.Kind == events.KindBatchCompleted {
		d.notify(ctx, summary)
	}
}

func (d *Daemon) record(ctx context.Context, summary batch.Summary) {
	if d.history == nil {
		return
	}
	if err := d.history.Record(ctx, summary); err != nil {
		logging.WarnWithContext(d.logger, "failed to record batch history", "history_record_failed",
			logging.String(logging.FieldBatchID, summary.BatchID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "batch missing from crunch history"),
		)
		return
	}
	d.logger.Debug("batch recorded", logging.String(logging.FieldBatchID, summary.BatchID))
}

func (d *Daemon) notify(ctx context.Context, summary batch.Summary) {
	notifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err := d.notifier.NotifyBatchCompleted(notifyCtx, notifications.BatchResult{
		BatchID:   summary.BatchID,
		Completed: summary.Counts.Completed,
		Failed:    summary.Counts.Failed,
		Cancelled: summary.Counts.Cancelled,
		Duration:  summary.Duration(),
		Aborted:   summary.Cancelled,
	})
	if err != nil {
		logging.WarnWithContext(d.logger, "batch notification failed", "notification_failed",
			logging.String(logging.FieldBatchID, summary.BatchID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
