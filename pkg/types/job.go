package types

import (
	"errors"
	"strings"
	"time"
)

// MaxConsecutiveFailures is the circuit breaker limit: once a job fails
// this many sweeps in a row its status is forced to error and it must be
// manually re-armed.
const MaxConsecutiveFailures = 5

// MonitoringJob groups one or more monitored layers under a schedule, a
// detection algorithm and a change threshold. Jobs are edited by operators;
// the scheduler is the only component that mutates the run bookkeeping.
type MonitoringJob struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Description         string        `json:"description,omitempty"`
	LayerIDs            []string      `json:"layer_ids"`
	ScheduleExpression  string        `json:"schedule_expression"`
	Status              JobStatus     `json:"status"`
	Algorithm           Algorithm     `json:"algorithm"`
	ChangeThreshold     float64       `json:"change_threshold"`
	AlertOnChanges      bool          `json:"alert_on_changes"`
	AlertOnErrors       bool          `json:"alert_on_errors"`
	AlertSeverityFloor  Severity      `json:"alert_severity_floor"`
	MaxRuntime          time.Duration `json:"max_runtime"`
	LastRun             time.Time     `json:"last_run,omitzero"`
	LastSuccessfulRun   time.Time     `json:"last_successful_run,omitzero"`
	NextRun             time.Time     `json:"next_run,omitzero"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Validate checks required job fields.
func (j *MonitoringJob) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job ID is required")
	}
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(j.ScheduleExpression) == "" {
		return errors.New("job schedule expression is required")
	}
	if j.ChangeThreshold < 0 || j.ChangeThreshold > 100 {
		return errors.New("job change threshold must be between 0 and 100")
	}
	return nil
}

// IsOverdue reports whether the job should have run already.
func (j *MonitoringJob) IsOverdue(now time.Time) bool {
	if j.Status != JobStatusActive || j.NextRun.IsZero() {
		return false
	}
	return now.After(j.NextRun)
}

// RecordRun applies one sweep outcome to the job's bookkeeping. Success
// resets the failure counter; failure increments it, tripping the circuit
// breaker at MaxConsecutiveFailures. Persisting the result atomically is
// the scheduler's responsibility.
func (j *MonitoringJob) RecordRun(success bool, now time.Time) {
	j.LastRun = now
	if success {
		j.LastSuccessfulRun = now
		j.ConsecutiveFailures = 0
	} else {
		j.ConsecutiveFailures++
		if j.ConsecutiveFailures >= MaxConsecutiveFailures {
			j.Status = JobStatusError
		}
	}
	j.UpdatedAt = now
}

// CanActivate reports whether the job may transition to active. Error is
// terminal until an operator explicitly re-arms the job.
func (j *MonitoringJob) CanActivate() bool {
	return j.Status == JobStatusPaused || j.Status == JobStatusStopped
}

// Rearm resets an errored job so it can run again. No-op in other states.
func (j *MonitoringJob) Rearm(now time.Time) bool {
	if j.Status != JobStatusError {
		return false
	}
	j.Status = JobStatusActive
	j.ConsecutiveFailures = 0
	j.UpdatedAt = now
	return true
}
