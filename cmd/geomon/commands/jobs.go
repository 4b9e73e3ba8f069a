package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/geomon/pkg/types"
)

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage monitoring jobs",
	}

	cmd.AddCommand(newJobsListCommand())
	cmd.AddCommand(newJobsPauseCommand())
	cmd.AddCommand(newJobsResumeCommand())
	cmd.AddCommand(newJobsRearmCommand())

	return cmd
}

func newJobsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List monitoring jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(GetConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.repo.ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No monitoring jobs configured.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"NAME", "STATUS", "SCHEDULE", "ALGORITHM", "LAYERS", "LAST RUN", "NEXT RUN", "FAILURES"})
			for _, j := range jobs {
				t.AppendRow(table.Row{
					j.Name,
					colorStatus(j.Status),
					j.ScheduleExpression,
					j.Algorithm,
					len(j.LayerIDs),
					formatTime(j.LastRun),
					formatTime(j.NextRun),
					j.ConsecutiveFailures,
				})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}
}

func newJobsPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job>",
		Short: "Pause an active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return jobAction(cmd.Context(), args[0], "paused", func(ctx context.Context, a *app, id string) error {
				return a.scheduler.Pause(ctx, id)
			})
		},
	}
}

func newJobsResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job>",
		Short: "Resume a paused or stopped job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return jobAction(cmd.Context(), args[0], "resumed", func(ctx context.Context, a *app, id string) error {
				return a.scheduler.Resume(ctx, id)
			})
		},
	}
}

func newJobsRearmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rearm <job>",
		Short: "Re-arm an errored job",
		Long: `Resets the failure counter of a job that tripped its circuit breaker
and puts it back on the schedule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return jobAction(cmd.Context(), args[0], "re-armed", func(ctx context.Context, a *app, id string) error {
				return a.scheduler.Rearm(ctx, id)
			})
		},
	}
}

func jobAction(ctx context.Context, ref, verb string, fn func(context.Context, *app, string) error) error {
	a, err := newApp(GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := findJob(ctx, a, ref)
	if err != nil {
		return err
	}
	if err := fn(ctx, a, job.ID); err != nil {
		return err
	}
	color.Green("✓ job %q %s", job.Name, verb)
	return nil
}

// findJob resolves a job by id or, failing that, by name.
func findJob(ctx context.Context, a *app, ref string) (*types.MonitoringJob, error) {
	if job, err := a.repo.GetJob(ctx, ref); err == nil {
		return job, nil
	}
	jobs, err := a.repo.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Name == ref {
			return j, nil
		}
	}
	return nil, fmt.Errorf("no job named %q", ref)
}

func colorStatus(s types.JobStatus) string {
	switch s {
	case types.JobStatusActive:
		return color.GreenString(string(s))
	case types.JobStatusPaused:
		return color.YellowString(string(s))
	case types.JobStatusError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
