package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/geomon/pkg/types"
)

func newSnapshotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect captured snapshots",
	}

	cmd.AddCommand(newSnapshotsListCommand())

	return cmd
}

func newSnapshotsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots of a layer, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(GetConfig())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			layerRef, _ := cmd.Flags().GetString("layer")
			limit, _ := cmd.Flags().GetInt("limit")

			layer, err := findLayer(ctx, a, layerRef)
			if err != nil {
				return err
			}

			snaps, err := a.repo.ListSnapshots(ctx, layer.ID, limit)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Printf("No snapshots for layer %q yet.\n", layer.Name)
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"CAPTURED", "FEATURES", "AREA", "HASH", "VALID", "TOOK"})
			for _, s := range snaps {
				t.AppendRow(table.Row{
					s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					s.FeatureCount,
					fmt.Sprintf("%.4f", s.TotalArea),
					s.Hash[:12],
					s.IsValid,
					s.CollectionTime.String(),
				})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}

	cmd.Flags().String("layer", "", "layer name or id (required)")
	cmd.Flags().Int("limit", 20, "maximum snapshots to show")
	cmd.MarkFlagRequired("layer")

	return cmd
}

// findLayer resolves a layer by id or, failing that, by name.
func findLayer(ctx context.Context, a *app, ref string) (*types.MonitoredLayer, error) {
	if layer, err := a.repo.GetLayer(ctx, ref); err == nil {
		return layer, nil
	}
	layers, err := a.repo.ListLayers(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, l := range layers {
		if l.Name == ref {
			return l, nil
		}
	}
	return nil, fmt.Errorf("no layer named %q", ref)
}
