package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crunch/internal/batch"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

const batchColumns = "batch_id, started_at, finished_at, total, completed, failed, cancelled, was_cancelled, torn_down"

// Record stores a finished batch and its tasks. Recording the same batch
// again replaces the earlier rows.
func (s *Store) Record(ctx context.Context, summary batch.Summary) error {
	if summary.BatchID == "" {
		return services.Wrap(services.ErrValidation, "history", "record", "summary has no batch id", nil)
	}
	ctx = ensureContext(ctx)
	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE batch_id = ?", summary.BatchID); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		c := summary.Counts
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			summary.BatchID,
			nullableTime(summary.StartedAt),
			finished.UTC().Format(time.RFC3339Nano),
			c.Total, c.Completed, c.Failed, c.Cancelled,
			boolToInt(summary.Cancelled),
			boolToInt(summary.TornDown),
		); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks (
            batch_id, task_key, source_path, preset_id, status, progress,
            output_path, error_message, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare task insert: %w", err)
		}
		defer stmt.Close()
		for _, t := range summary.Tasks {
			if _, err := stmt.ExecContext(ctx,
				summary.BatchID,
				t.Key.String(),
				t.SourcePath,
				t.PresetID,
				string(t.Status),
				t.Progress,
				nullableString(t.OutputPath),
				nullableString(t.Error),
				nullableTime(t.StartedAt),
				nullableTime(t.FinishedAt),
			); err != nil {
				return fmt.Errorf("insert task %s: %w", t.Key, err)
			}
		}
		return tx.Commit()
	})
}

// List returns the most recent batches, newest first, without task rows.
// A limit of zero or less returns every batch.
func (s *Store) List(ctx context.Context, limit int) ([]batch.Summary, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + batchColumns + ` FROM batches ORDER BY finished_at DESC, batch_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []batch.Summary
	for rows.Next() {
		summary, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// Get returns one batch with its tasks sorted by key.
func (s *Store) Get(ctx context.Context, batchID string) (batch.Summary, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE batch_id = ?`, batchID)
	summary, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.Summary{}, services.Wrap(services.ErrNotFound, "history", "get", fmt.Sprintf("no batch %q", batchID), nil)
	}
	if err != nil {
		return batch.Summary{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT task_key, source_path, preset_id, status, progress,
        output_path, error_message, started_at, finished_at
        FROM tasks WHERE batch_id = ? ORDER BY task_key`, batchID)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key, source, presetID, status string
			progress                      float64
			output, errMsg                sql.NullString
			startedRaw, finishedRaw       sql.NullString
		)
		if err := rows.Scan(&key, &source, &presetID, &status, &progress, &output, &errMsg, &startedRaw, &finishedRaw); err != nil {
			return batch.Summary{}, err
		}
		t := batch.Task{
			Key:        taskkey.Key(key),
			SourcePath: source,
			PresetID:   presetID,
			Status:     batch.Status(status),
			Progress:   progress,
			OutputPath: output.String,
			Error:      errMsg.String,
		}
		if ts, err := parseTimeString(startedRaw.String); err == nil {
			t.StartedAt = ts
		}
		if ts, err := parseTimeString(finishedRaw.String); err == nil {
			t.FinishedAt = ts
		}
		summary.Tasks = append(summary.Tasks, t)
	}
	return summary, rows.Err()
}

// Prune deletes batches that finished before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM batches WHERE finished_at < ?", cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return removed, nil
}

// PruneRetention removes batches older than days. Zero keeps everything.
func (s *Store) PruneRetention(ctx context.Context, days int, now time.Time) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	return s.Prune(ctx, now.AddDate(0, 0, -days))
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (batch.Summary, error) {
	var (
		id                        string
		startedRaw                sql.NullString
		finishedRaw               string
		total, completed, failed  int
		cancelled                 int
		wasCancelled, wasTornDown int
	)
	if err := scanner.Scan(&id, &startedRaw, &finishedRaw, &total, &completed, &failed, &cancelled, &wasCancelled, &wasTornDown); err != nil {
		return batch.Summary{}, err
	}
	summary := batch.Summary{
		BatchID:   id,
		Cancelled: wasCancelled != 0,
		TornDown:  wasTornDown != 0,
	}
	summary.Counts.Total = total
	summary.Counts.Completed = completed
	summary.Counts.Failed = failed
	summary.Counts.Cancelled = cancelled
	if ts, err := parseTimeString(startedRaw.String); err == nil {
		summary.StartedAt = ts
	}
	if ts, err := parseTimeString(finishedRaw); err == nil {
		summary.FinishedAt = ts
	}
	return summary, nil
}
