package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fira/internal/snapshot"
	"github.com/mesh-intelligence/fira/pkg/types"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Save, inspect or export dataset snapshots",
	}
	cmd.AddCommand(newCacheSaveCmd(a), newCacheShowCmd(a), newCacheExportCmd(a))
	return cmd
}

func newCacheSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Snapshot the current dataset (server, then local store, then export file)",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				target, err := rt.engine.SaveSnapshot(ctx)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return a.printJSON(map[string]string{"target": string(target)})
				}
				fmt.Fprintln(a.out, successStyle.Render("Saved snapshot to "+string(target)))
				return nil
			})
		},
	}
}

// cacheView describes a stored snapshot.
type cacheView struct {
	Source    snapshot.Target `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Stale     bool            `json:"stale"`
	Projects  int             `json:"projects"`
	Tasks     int             `json:"tasks"`
}

func newCacheShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Describe the best available snapshot",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			snap, target := rt.snapshots.Load(commandContext(cmd))
			if snap == nil {
				return fmt.Errorf("snapshot: %w", types.ErrNotFound)
			}
			v := cacheView{
				Source:    target,
				Timestamp: snap.Timestamp,
				Stale:     rt.snapshots.IsStale(*snap),
				Projects:  len(snap.Projects),
				Tasks:     len(snap.AllTasks),
			}
			if a.flags.jsonMode {
				return a.printJSON(v)
			}
			row := func(label, value string) {
				fmt.Fprintln(a.out, labelStyle.Render(label)+value)
			}
			row("source", boldStyle.Render(string(v.Source)))
			row("saved", v.Timestamp.Local().Format(time.RFC3339))
			if v.Stale {
				row("stale", warningStyle.Render("yes"))
			} else {
				row("stale", "no")
			}
			row("projects", fmt.Sprint(v.Projects))
			row("tasks", fmt.Sprint(v.Tasks))
			return nil
		},
	}
}

func newCacheExportCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current dataset to a dated JSON file",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				path, err := rt.snapshots.Export(rt.engine.Dataset(), dir)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return a.printJSON(map[string]string{"path": path})
				}
				fmt.Fprintln(a.out, successStyle.Render("Exported "+path))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "out", "", "export directory (default: export_dir)")
	return cmd
}
