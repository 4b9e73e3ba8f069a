package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/geomon/internal/alerts"
	"github.com/yairfalse/geomon/internal/detector"
	"github.com/yairfalse/geomon/internal/gis"
	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/internal/scheduler"
	"github.com/yairfalse/geomon/internal/snapshot"
	"github.com/yairfalse/geomon/internal/store"
	"github.com/yairfalse/geomon/pkg/types"
)

const (
	defaultWorkers    = 4
	defaultMaxRuntime = 30 * time.Minute

	// unit retry policy for transient collaborator failures
	maxUnitAttempts = 3
	retryBaseDelay  = time.Second

	// whole-sweep retry when enumeration itself fails
	maxSweepAttempts = 3
)

// Runner executes monitoring sweeps: one capture-and-detect pass over all
// of a job's eligible layers.
type Runner struct {
	repo      store.Repo
	snapshots *snapshot.Store
	scheduler *scheduler.Scheduler
	notifier  alerts.Notifier
	log       logger.Logger
	workers   int
	baseDelay time.Duration
}

// Options configures a Runner.
type Options struct {
	Repo      store.Repo
	Snapshots *snapshot.Store
	Scheduler *scheduler.Scheduler
	Notifier  alerts.Notifier
	Logger    logger.Logger
	Workers   int
	// RetryBaseDelay overrides the first retry delay. Zero means the
	// default.
	RetryBaseDelay time.Duration
}

func NewRunner(opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	delay := opts.RetryBaseDelay
	if delay <= 0 {
		delay = retryBaseDelay
	}
	return &Runner{
		repo:      opts.Repo,
		snapshots: opts.Snapshots,
		scheduler: opts.Scheduler,
		notifier:  opts.Notifier,
		log:       log,
		workers:   workers,
		baseDelay: delay,
	}
}

// counters aggregates unit outcomes without read-modify-write races.
type counters struct {
	processed atomic.Int64
	snapshots atomic.Int64
	changes   atomic.Int64
	alerts    atomic.Int64
	errors    atomic.Int64

	// guards the execution log; workers append concurrently
	logMu sync.Mutex
}

func (c *counters) appendLog(exec *types.MonitoringJobExecution, level, msg string, fields map[string]any) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	exec.AddLogEntry(level, msg, fields)
}

// RunSweep runs one sweep for a job and always records the execution,
// success or not. The job's max-runtime budget bounds the whole sweep via
// the context; layers still in flight at the deadline count as errors.
func (r *Runner) RunSweep(ctx context.Context, job *types.MonitoringJob) (*types.MonitoringJobExecution, error) {
	maxRuntime := job.MaxRuntime
	if maxRuntime <= 0 {
		maxRuntime = defaultMaxRuntime
	}
	ctx, cancel := context.WithTimeout(ctx, maxRuntime)
	defer cancel()

	exec := &types.MonitoringJobExecution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		StartedAt: time.Now().UTC(),
	}
	exec.AddLogEntry("info", "sweep started", map[string]any{"job": job.Name, "layers": len(job.LayerIDs)})

	// recording must survive the sweep deadline, otherwise a timed-out
	// sweep would also lose its execution row
	recordCtx := context.WithoutCancel(ctx)

	units, err := r.enumerateWithRetry(ctx, job, exec)
	if err != nil {
		exec.MarkCompleted(false, err.Error(), time.Now().UTC())
		if rerr := r.scheduler.RecordExecution(recordCtx, job, exec); rerr != nil {
			r.log.WithField("job", job.Name).Error("recording failed sweep: " + rerr.Error())
		}
		return exec, err
	}

	var c counters
	jobs := make(chan unit, len(units))
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				r.runUnit(ctx, job, u, &c, exec)
			}
		}()
	}
	for _, u := range units {
		jobs <- u
	}
	close(jobs)
	wg.Wait()

	exec.LayersProcessed = int(c.processed.Load())
	exec.SnapshotsCreated = int(c.snapshots.Load())
	exec.ChangesDetected = int(c.changes.Load())
	exec.AlertsCreated = int(c.alerts.Load())
	exec.ErrorCount = int(c.errors.Load())
	exec.Metrics = types.ResourceMetrics{PeakGoroutines: runtime.NumGoroutine()}

	success := c.errors.Load() == 0
	errMsg := ""
	if ctxErr := ctx.Err(); ctxErr != nil {
		success = false
		errMsg = fmt.Sprintf("sweep exceeded max runtime %s", maxRuntime)
	} else if !success {
		errMsg = fmt.Sprintf("%d of %d layers failed", c.errors.Load(), len(units))
	}
	exec.MarkCompleted(success, errMsg, time.Now().UTC())
	exec.AddLogEntry("info", "sweep finished", map[string]any{
		"processed": exec.LayersProcessed,
		"changes":   exec.ChangesDetected,
		"errors":    exec.ErrorCount,
	})

	if err := r.scheduler.RecordExecution(recordCtx, job, exec); err != nil {
		return exec, err
	}
	if !success {
		return exec, errors.New(errMsg)
	}
	return exec, nil
}

// unit is one layer plus its owning service, resolved up front so workers
// never touch the jobs table.
type unit struct {
	layer   *types.MonitoredLayer
	service *types.GISService
}

// enumerateWithRetry resolves the job's layers and services. Enumeration
// failure is systemic (the database, not one layer), so the whole step
// retries with backoff before the sweep is abandoned.
func (r *Runner) enumerateWithRetry(ctx context.Context, job *types.MonitoringJob, exec *types.MonitoringJobExecution) ([]unit, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSweepAttempts; attempt++ {
		units, err := r.enumerate(ctx, job)
		if err == nil {
			return units, nil
		}
		lastErr = err
		exec.AddLogEntry("warn", "layer enumeration failed", map[string]any{
			"attempt": attempt, "error": err.Error(),
		})
		if attempt < maxSweepAttempts {
			if err := sleepCtx(ctx, r.backoff(attempt)); err != nil {
				return nil, lastErr
			}
		}
	}
	return nil, fmt.Errorf("enumerating layers for job %s: %w", job.Name, lastErr)
}

func (r *Runner) enumerate(ctx context.Context, job *types.MonitoringJob) ([]unit, error) {
	services := make(map[string]*types.GISService)
	units := make([]unit, 0, len(job.LayerIDs))
	for _, layerID := range job.LayerIDs {
		layer, err := r.repo.GetLayer(ctx, layerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.log.WithField("layer_id", layerID).Warn("job references missing layer, skipping")
				continue
			}
			return nil, err
		}
		svc, ok := services[layer.ServiceID]
		if !ok {
			svc, err = r.repo.GetService(ctx, layer.ServiceID)
			if err != nil {
				return nil, err
			}
			services[layer.ServiceID] = svc
		}
		units = append(units, unit{layer: layer, service: svc})
	}
	return units, nil
}

// runUnit processes one layer: capture, detect against the previous
// snapshot, persist the result, alert when warranted. Transient
// collaborator failures retry with exponential backoff.
func (r *Runner) runUnit(ctx context.Context, job *types.MonitoringJob, u unit, c *counters, exec *types.MonitoringJobExecution) {
	log := r.log.WithFields(map[string]any{"job": job.Name, "layer": u.layer.Name})

	var snap *types.Snapshot
	var err error
	for attempt := 1; attempt <= maxUnitAttempts; attempt++ {
		snap, err = r.snapshots.Capture(ctx, u.layer, u.service)
		if err == nil {
			break
		}
		if errors.Is(err, snapshot.ErrNotConfigured) {
			log.Debug("layer not configured for monitoring, skipped")
			return
		}
		if !gis.IsRetryable(err) || attempt == maxUnitAttempts {
			break
		}
		log.WithField("attempt", attempt).Warn("capture failed, retrying: " + err.Error())
		if sleepCtx(ctx, r.backoff(attempt)) != nil {
			break
		}
	}
	if err != nil {
		c.errors.Add(1)
		c.appendLog(exec, "error", "layer capture failed", map[string]any{
			"layer": u.layer.Name, "error": err.Error(),
		})
		return
	}

	c.processed.Add(1)
	c.snapshots.Add(1)

	previous, err := r.repo.PreviousSnapshot(ctx, u.layer.ID, snap.CreatedAt)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// first capture for this layer; nothing to compare yet
			log.Debug("no previous snapshot, baseline established")
			return
		}
		c.errors.Add(1)
		c.appendLog(exec, "error", "previous snapshot lookup failed", map[string]any{
			"layer": u.layer.Name, "error": err.Error(),
		})
		return
	}

	alg := job.Algorithm
	if u.layer.Algorithm != "" {
		alg = u.layer.Algorithm
	}
	d, known := detector.ForAlgorithm(alg)
	if !known {
		log.WithField("algorithm", alg).Warn("unknown algorithm, using simple_count")
	}

	threshold := u.layer.ChangeThreshold
	if threshold == 0 {
		threshold = job.ChangeThreshold
	}
	result, affected := detector.Run(d, snap, previous, detector.Config{
		Threshold: threshold,
		Fields:    u.layer.DetectionFields,
	})

	if err := r.repo.InsertResult(ctx, result, affected); err != nil {
		c.errors.Add(1)
		c.appendLog(exec, "error", "persisting detection result failed", map[string]any{
			"layer": u.layer.Name, "error": err.Error(),
		})
		return
	}

	if result.ProcessingStatus == types.ProcessingFailed {
		c.errors.Add(1)
		return
	}
	if result.HasChanges {
		c.changes.Add(1)
		log.WithFields(map[string]any{
			"algorithm":  result.Algorithm,
			"confidence": result.ConfidenceScore,
			"severity":   result.Severity(),
		}).Info(result.Summary())
	}

	if result.ExceedsThreshold && job.AlertOnChanges && r.notifier != nil {
		// alert delivery must never fail the unit
		if err := r.notifier.NotifyChangeDetected(ctx, u.layer, result); err != nil {
			log.Warn("change alert failed: " + err.Error())
		} else {
			c.alerts.Add(1)
		}
	}
}

// backoff returns the delay before the given retry attempt, doubling each
// time: 1s, 2s, 4s.
func (r *Runner) backoff(attempt int) time.Duration {
	return r.baseDelay << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
