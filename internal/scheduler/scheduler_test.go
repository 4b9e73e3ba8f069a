package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/internal/store"
	"github.com/yairfalse/geomon/pkg/types"
)

func newTestScheduler(t *testing.T) (*Scheduler, store.Repo) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := store.Repo{DB: db}
	return New(repo, logger.Nop()), repo
}

func seedJob(t *testing.T, repo store.Repo, schedule string) *types.MonitoringJob {
	t.Helper()
	job := &types.MonitoringJob{
		ID:                 uuid.New().String(),
		Name:               "hourly parcels",
		ScheduleExpression: schedule,
		Status:             types.JobStatusActive,
		Algorithm:          types.AlgorithmSimpleCount,
		ChangeThreshold:    10,
		NextRun:            time.Now().UTC().Add(-time.Minute),
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	require.NoError(t, repo.InsertJob(context.Background(), job))
	return job
}

func TestNextRunShorthand(t *testing.T) {
	s, _ := newTestScheduler(t)
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"30m", from.Add(30 * time.Minute)},
		{"6h", from.Add(6 * time.Hour)},
		{"1d", from.Add(24 * time.Hour)},
		{"90m", from.Add(90 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, s.NextRun(tt.expr, from))
		})
	}
}

func TestNextRunCron(t *testing.T) {
	s, _ := newTestScheduler(t)
	from := time.Date(2026, 3, 1, 12, 7, 0, 0, time.UTC)

	// every 15 minutes
	next := s.NextRun("*/15 * * * *", from)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC), next)

	// daily at 02:30
	next = s.NextRun("30 2 * * *", from)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC), next)
}

func TestNextRunFallback(t *testing.T) {
	s, _ := newTestScheduler(t)
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, expr := range []string{"not-a-cron", "", "5x", "* * *"} {
		assert.Equal(t, from.Add(time.Hour), s.NextRun(expr, from), expr)
	}
}

func TestNextRunNearNow(t *testing.T) {
	s, _ := newTestScheduler(t)
	now := time.Now().UTC()

	next := s.NextRun("30m", now)
	assert.WithinDuration(t, now.Add(30*time.Minute), next, 2*time.Second)
}

func TestRecordExecutionRoundTrip(t *testing.T) {
	s, repo := newTestScheduler(t)
	job := seedJob(t, repo, "30m")
	ctx := context.Background()

	exec := &types.MonitoringJobExecution{
		ID:               uuid.New().String(),
		JobID:            job.ID,
		StartedAt:        time.Now().UTC().Add(-time.Minute),
		LayersProcessed:  3,
		SnapshotsCreated: 3,
		ChangesDetected:  1,
	}
	exec.MarkCompleted(true, "", time.Now().UTC())

	require.NoError(t, s.RecordExecution(ctx, job, exec))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusActive, got.Status)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.False(t, got.LastRun.IsZero())
	assert.False(t, got.LastSuccessfulRun.IsZero())
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), got.NextRun, 5*time.Second)

	stored, err := repo.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Success)
	assert.Equal(t, 3, stored.LayersProcessed)
	assert.Equal(t, 1, stored.ChangesDetected)
}

func TestCircuitBreakerTripsAtFive(t *testing.T) {
	s, repo := newTestScheduler(t)
	job := seedJob(t, repo, "30m")
	ctx := context.Background()

	for i := 0; i < types.MaxConsecutiveFailures; i++ {
		exec := &types.MonitoringJobExecution{
			ID:        uuid.New().String(),
			JobID:     job.ID,
			StartedAt: time.Now().UTC(),
		}
		exec.MarkCompleted(false, "service unreachable", time.Now().UTC())
		require.NoError(t, s.RecordExecution(ctx, job, exec))

		if i < types.MaxConsecutiveFailures-1 {
			assert.Equal(t, types.JobStatusActive, job.Status, "still active after %d failures", i+1)
		}
	}

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusError, got.Status)
	assert.Equal(t, types.MaxConsecutiveFailures, got.ConsecutiveFailures)

	// errored jobs never come due
	due, err := s.DueJobs(ctx, time.Now().UTC().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	s, repo := newTestScheduler(t)
	job := seedJob(t, repo, "30m")
	ctx := context.Background()

	fail := &types.MonitoringJobExecution{ID: uuid.New().String(), JobID: job.ID, StartedAt: time.Now().UTC()}
	fail.MarkCompleted(false, "boom", time.Now().UTC())
	require.NoError(t, s.RecordExecution(ctx, job, fail))
	assert.Equal(t, 1, job.ConsecutiveFailures)

	ok := &types.MonitoringJobExecution{ID: uuid.New().String(), JobID: job.ID, StartedAt: time.Now().UTC()}
	ok.MarkCompleted(true, "", time.Now().UTC())
	require.NoError(t, s.RecordExecution(ctx, job, ok))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Equal(t, types.JobStatusActive, got.Status)
}

func TestRearmAfterError(t *testing.T) {
	s, repo := newTestScheduler(t)
	job := seedJob(t, repo, "30m")
	ctx := context.Background()

	for i := 0; i < types.MaxConsecutiveFailures; i++ {
		exec := &types.MonitoringJobExecution{ID: uuid.New().String(), JobID: job.ID, StartedAt: time.Now().UTC()}
		exec.MarkCompleted(false, "boom", time.Now().UTC())
		require.NoError(t, s.RecordExecution(ctx, job, exec))
	}

	require.NoError(t, s.Rearm(ctx, job.ID))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusActive, got.Status)
	assert.Zero(t, got.ConsecutiveFailures)
}

func TestPauseResume(t *testing.T) {
	s, repo := newTestScheduler(t)
	job := seedJob(t, repo, "30m")
	ctx := context.Background()

	require.NoError(t, s.Pause(ctx, job.ID))
	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPaused, got.Status)

	// pausing a paused job is an error
	assert.Error(t, s.Pause(ctx, job.ID))

	require.NoError(t, s.Resume(ctx, job.ID))
	got, err = repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusActive, got.Status)
}
