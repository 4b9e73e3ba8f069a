package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/geomon/internal/sweep"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring daemon",
		Long: `Starts the monitoring daemon: polls for due jobs on an interval and
runs their sweeps until interrupted.`,
		RunE: runDaemon,
	}

	cmd.Flags().Duration("poll-interval", 0, "override the due-job poll interval")

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp(GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	interval := a.cfg.Sweep.PollInterval
	if v, _ := cmd.Flags().GetDuration("poll-interval"); v > 0 {
		interval = v
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon := sweep.NewDaemon(a.runner, a.scheduler, a.log, interval)
	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// give in-flight log writes a moment before the process exits
	time.Sleep(100 * time.Millisecond)
	return nil
}
