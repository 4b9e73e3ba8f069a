package sweep

import (
	"context"
	"time"

	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/internal/scheduler"
)

const defaultPollInterval = 30 * time.Second

// Daemon polls for due jobs and runs their sweeps until the context is
// cancelled. One sweep runs at a time per daemon; concurrency lives inside
// the sweep, not across jobs, to keep the single-writer database happy.
type Daemon struct {
	runner    *Runner
	scheduler *scheduler.Scheduler
	log       logger.Logger
	interval  time.Duration
}

func NewDaemon(runner *Runner, sched *scheduler.Scheduler, log logger.Logger, interval time.Duration) *Daemon {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Daemon{runner: runner, scheduler: sched, log: log, interval: interval}
}

// Run blocks until ctx is cancelled. The first poll happens immediately.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.WithField("interval", d.interval.String()).Info("monitoring daemon started")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.poll(ctx)
		select {
		case <-ctx.Done():
			d.log.Info("monitoring daemon stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Daemon) poll(ctx context.Context) {
	jobs, err := d.scheduler.DueJobs(ctx, time.Now().UTC())
	if err != nil {
		d.log.Error("polling due jobs: " + err.Error())
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		log := d.log.WithField("job", job.Name)
		log.Info("running due job")

		exec, err := d.runner.RunSweep(ctx, job)
		if err != nil {
			log.Error("sweep failed: " + err.Error())
			continue
		}
		log.WithFields(map[string]any{
			"processed": exec.LayersProcessed,
			"changes":   exec.ChangesDetected,
			"took":      exec.Duration.String(),
		}).Info("sweep completed")
	}
}
