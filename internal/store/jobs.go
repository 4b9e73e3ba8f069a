package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yairfalse/geomon/pkg/types"
)

const jobColumns = `id, name, description, schedule_expression, status,
	algorithm, change_threshold, alert_on_changes, alert_on_errors, alert_severity_floor,
	max_runtime_minutes, last_run, last_successful_run, next_run,
	consecutive_failures, created_at, updated_at`

// InsertJob persists a job and its layer memberships.
func (r Repo) InsertJob(ctx context.Context, j *types.MonitoringJob) error {
	if err := j.Validate(); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO monitoring_jobs (`+jobColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Name, j.Description, j.ScheduleExpression, string(j.Status),
		string(j.Algorithm), j.ChangeThreshold, j.AlertOnChanges, j.AlertOnErrors,
		string(j.AlertSeverityFloor), int(j.MaxRuntime.Minutes()),
		nullTime(j.LastRun), nullTime(j.LastSuccessfulRun), nullTime(j.NextRun),
		j.ConsecutiveFailures, j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for _, layerID := range j.LayerIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_layers (job_id, layer_id) VALUES (?,?)`, j.ID, layerID); err != nil {
			return fmt.Errorf("insert job layer: %w", err)
		}
	}
	return tx.Commit()
}

func scanJob(row interface{ Scan(...any) error }) (*types.MonitoringJob, error) {
	var j types.MonitoringJob
	var status, algorithm, floor string
	var maxRuntimeMin int
	var lastRun, lastOK, nextRun sql.NullTime
	err := row.Scan(&j.ID, &j.Name, &j.Description, &j.ScheduleExpression, &status,
		&algorithm, &j.ChangeThreshold, &j.AlertOnChanges, &j.AlertOnErrors, &floor,
		&maxRuntimeMin, &lastRun, &lastOK, &nextRun,
		&j.ConsecutiveFailures, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	j.Algorithm = types.Algorithm(algorithm)
	j.AlertSeverityFloor = types.Severity(floor)
	j.MaxRuntime = time.Duration(maxRuntimeMin) * time.Minute
	j.LastRun = scanNullTime(lastRun)
	j.LastSuccessfulRun = scanNullTime(lastOK)
	j.NextRun = scanNullTime(nextRun)
	return &j, nil
}

func (r Repo) loadJobLayers(ctx context.Context, j *types.MonitoringJob) error {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT layer_id FROM job_layers WHERE job_id = ? ORDER BY layer_id`, j.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		j.LayerIDs = append(j.LayerIDs, id)
	}
	return rows.Err()
}

// GetJob loads one job with its layer memberships.
func (r Repo) GetJob(ctx context.Context, id string) (*types.MonitoringJob, error) {
	j, err := scanJob(r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM monitoring_jobs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadJobLayers(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// ListJobs returns every job, name-ordered.
func (r Repo) ListJobs(ctx context.Context) ([]*types.MonitoringJob, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM monitoring_jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.MonitoringJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, j := range out {
		if err := r.loadJobLayers(ctx, j); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DueJobs returns active jobs whose next run is at or before now.
func (r Repo) DueJobs(ctx context.Context, now time.Time) ([]*types.MonitoringJob, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM monitoring_jobs
		 WHERE status = ? AND next_run IS NOT NULL AND next_run <= ?
		 ORDER BY next_run`, string(types.JobStatusActive), now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.MonitoringJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, j := range out {
		if err := r.loadJobLayers(ctx, j); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateJobStatus sets a job's status directly (operator control surface).
func (r Repo) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus, now time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE monitoring_jobs
		SET status = ?, updated_at = ? WHERE id = ?`, string(status), now.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RearmJob resets an errored job back to active with a cleared failure
// counter. Jobs in any other state are left untouched.
func (r Repo) RearmJob(ctx context.Context, id string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE monitoring_jobs
		SET status = ?, consecutive_failures = 0, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(types.JobStatusActive), now.UTC(), id, string(types.JobStatusError))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: job %s is not in error state", id)
	}
	return nil
}

// SoftDisableJob stops a job that still has executions referencing it.
// Jobs are never hard deleted while history exists.
func (r Repo) SoftDisableJob(ctx context.Context, id string, now time.Time) error {
	return r.UpdateJobStatus(ctx, id, types.JobStatusStopped, now)
}
