package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/internal/store"
	"github.com/yairfalse/geomon/pkg/types"
)

// fallbackInterval is applied when a schedule expression cannot be parsed.
// Scheduling must never fail a job over a bad expression.
const fallbackInterval = time.Hour

// shorthandRe matches interval shorthands like "30m", "6h", "1d".
var shorthandRe = regexp.MustCompile(`^(\d+)([mhd])$`)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns job run bookkeeping: computing next-run times, finding
// due jobs and finalizing executions. It is the only writer of the job
// status fields outside operator commands.
type Scheduler struct {
	repo store.Repo
	log  logger.Logger
}

func New(repo store.Repo, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{repo: repo, log: log}
}

// NextRun computes the next run time for a schedule expression after
// from. Both 5-field cron expressions and interval shorthands are
// accepted; anything unparsable is logged and treated as one hour.
func (s *Scheduler) NextRun(expr string, from time.Time) time.Time {
	if m := shorthandRe.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "m":
			return from.Add(time.Duration(n) * time.Minute)
		case "h":
			return from.Add(time.Duration(n) * time.Hour)
		case "d":
			return from.Add(time.Duration(n) * 24 * time.Hour)
		}
	}

	if sched, err := cronParser.Parse(expr); err == nil {
		return sched.Next(from)
	}

	s.log.WithField("expression", expr).Warn("unparsable schedule expression, defaulting to 1h")
	return from.Add(fallbackInterval)
}

// DueJobs returns the active jobs whose next run is at or before now.
func (s *Scheduler) DueJobs(ctx context.Context, now time.Time) ([]*types.MonitoringJob, error) {
	return s.repo.DueJobs(ctx, now)
}

// RecordExecution applies one sweep outcome to the job and persists the
// job bookkeeping plus the finalized execution row in one transaction.
// The circuit breaker lives in the job itself; a tripped job comes back
// with status error and is skipped by DueJobs until re-armed.
func (s *Scheduler) RecordExecution(ctx context.Context, job *types.MonitoringJob, exec *types.MonitoringJobExecution) error {
	now := time.Now().UTC()
	job.RecordRun(exec.Success, now)
	nextRun := s.NextRun(job.ScheduleExpression, now)

	if err := s.repo.RecordExecution(ctx, job, exec, nextRun); err != nil {
		return fmt.Errorf("recording execution for job %s: %w", job.Name, err)
	}

	if job.Status == types.JobStatusError {
		s.log.WithFields(map[string]any{
			"job":      job.Name,
			"failures": job.ConsecutiveFailures,
		}).Error("job disabled after repeated failures")
	}
	return nil
}

// Pause transitions an active job to paused.
func (s *Scheduler) Pause(ctx context.Context, jobID string) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != types.JobStatusActive {
		return fmt.Errorf("job %s is %s, only active jobs can be paused", job.Name, job.Status)
	}
	return s.repo.UpdateJobStatus(ctx, jobID, types.JobStatusPaused, time.Now().UTC())
}

// Resume transitions a paused or stopped job back to active. Errored jobs
// need Rearm instead.
func (s *Scheduler) Resume(ctx context.Context, jobID string) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.CanActivate() {
		return fmt.Errorf("job %s is %s and cannot be resumed", job.Name, job.Status)
	}
	return s.repo.UpdateJobStatus(ctx, jobID, types.JobStatusActive, time.Now().UTC())
}

// Rearm resets an errored job's circuit breaker and reactivates it.
func (s *Scheduler) Rearm(ctx context.Context, jobID string) error {
	return s.repo.RearmJob(ctx, jobID, time.Now().UTC())
}
