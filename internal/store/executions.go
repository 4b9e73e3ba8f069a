package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yairfalse/geomon/pkg/types"
)

const executionColumns = `id, job_id, started_at, completed_at, duration_ms,
	success, error_message, layers_processed, snapshots_created,
	changes_detected, alerts_created, error_count, execution_log, metrics`

// InsertExecution persists a newly started execution record.
func (r Repo) InsertExecution(ctx context.Context, e *types.MonitoringJobExecution) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO job_executions (`+executionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.JobID, e.StartedAt.UTC(), nullTime(e.CompletedAt), e.Duration.Milliseconds(),
		e.Success, e.ErrorMessage, e.LayersProcessed, e.SnapshotsCreated,
		e.ChangesDetected, e.AlertsCreated, e.ErrorCount,
		marshalJSON(e.ExecutionLog), marshalJSON(e.Metrics))
	return err
}

func scanExecution(row interface{ Scan(...any) error }) (*types.MonitoringJobExecution, error) {
	var e types.MonitoringJobExecution
	var completed sql.NullTime
	var durationMs int64
	var execLog, metrics string
	err := row.Scan(&e.ID, &e.JobID, &e.StartedAt, &completed, &durationMs,
		&e.Success, &e.ErrorMessage, &e.LayersProcessed, &e.SnapshotsCreated,
		&e.ChangesDetected, &e.AlertsCreated, &e.ErrorCount, &execLog, &metrics)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.CompletedAt = scanNullTime(completed)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	unmarshalJSON(execLog, &e.ExecutionLog)
	unmarshalJSON(metrics, &e.Metrics)
	return &e, nil
}

// GetExecution loads one execution record.
func (r Repo) GetExecution(ctx context.Context, id string) (*types.MonitoringJobExecution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM job_executions WHERE id = ?`, id))
}

// ListExecutions returns a job's execution history, newest first.
func (r Repo) ListExecutions(ctx context.Context, jobID string, limit int) ([]*types.MonitoringJobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM job_executions
		 WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.MonitoringJobExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordExecution finalizes one sweep as a single atomic unit: the job's
// run bookkeeping (last run, failure counter, circuit breaker, next run)
// and the finalized execution row commit together or not at all, so a
// crash mid-update cannot leave them inconsistent.
func (r Repo) RecordExecution(ctx context.Context, job *types.MonitoringJob, exec *types.MonitoringJobExecution, nextRun time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job.NextRun = nextRun
	_, err = tx.ExecContext(ctx, `UPDATE monitoring_jobs
		SET last_run = ?, last_successful_run = ?, next_run = ?,
		    consecutive_failures = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		nullTime(job.LastRun), nullTime(job.LastSuccessfulRun), nullTime(job.NextRun),
		job.ConsecutiveFailures, string(job.Status), job.UpdatedAt.UTC(), job.ID)
	if err != nil {
		return fmt.Errorf("update job bookkeeping: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO job_executions (`+executionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
		    completed_at = excluded.completed_at,
		    duration_ms = excluded.duration_ms,
		    success = excluded.success,
		    error_message = excluded.error_message,
		    layers_processed = excluded.layers_processed,
		    snapshots_created = excluded.snapshots_created,
		    changes_detected = excluded.changes_detected,
		    alerts_created = excluded.alerts_created,
		    error_count = excluded.error_count,
		    execution_log = excluded.execution_log,
		    metrics = excluded.metrics`,
		exec.ID, exec.JobID, exec.StartedAt.UTC(), nullTime(exec.CompletedAt), exec.Duration.Milliseconds(),
		exec.Success, exec.ErrorMessage, exec.LayersProcessed, exec.SnapshotsCreated,
		exec.ChangesDetected, exec.AlertsCreated, exec.ErrorCount,
		marshalJSON(exec.ExecutionLog), marshalJSON(exec.Metrics))
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}

	return tx.Commit()
}

// DeleteExecutionsOlderThan prunes execution history beyond the retention
// horizon. Returns the number of rows deleted.
func (r Repo) DeleteExecutionsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM job_executions WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
