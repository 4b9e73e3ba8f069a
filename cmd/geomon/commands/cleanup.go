package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Prune aged snapshots and execution history",
		Long: `Deletes snapshots and execution records older than the configured
retention horizons. Snapshots referenced by unresolved alerts are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(GetConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.cleaner.Run(cmd.Context())
			if err != nil {
				return err
			}
			color.Green("✓ removed %d snapshots (%d duplicates), %d execution records",
				res.SnapshotsDeleted+res.DuplicatesReclaimed, res.DuplicatesReclaimed,
				res.ExecutionsDeleted)
			return nil
		},
	}
}
