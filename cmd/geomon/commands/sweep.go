package commands

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yairfalse/geomon/pkg/types"
)

func newSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one monitoring sweep now",
		Long: `Runs a single sweep immediately, ignoring the schedule. With --job the
named job runs; without it every currently due job runs once.`,
		RunE: runSweep,
	}

	cmd.Flags().String("job", "", "job name or id to sweep")

	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	jobRef, _ := cmd.Flags().GetString("job")

	var jobs []*types.MonitoringJob
	if jobRef != "" {
		job, err := findJob(ctx, a, jobRef)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	} else {
		jobs, err = a.scheduler.DueJobs(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("finding due jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs are due.")
			return nil
		}
	}

	var failed int
	for _, job := range jobs {
		exec, err := a.runner.RunSweep(ctx, job)
		if err != nil {
			failed++
			color.Red("✗ %s: %v", job.Name, err)
			continue
		}
		color.Green("✓ %s: %d layers, %d changes, %s",
			job.Name, exec.LayersProcessed, exec.ChangesDetected, exec.Duration.Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sweeps failed", failed, len(jobs))
	}
	return nil
}
