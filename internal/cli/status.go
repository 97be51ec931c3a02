package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Resolve the data source and show what is active",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				return a.printStatus(rt)
			})
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload data from its sources, skipping the saved session",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := commandContext(cmd)
			if a.flags.dir != "" {
				if _, err := a.resolve(ctx, rt); err != nil {
					return err
				}
			} else if _, err := rt.engine.Refresh(ctx); err != nil {
				return err
			}
			return a.printStatus(rt)
		},
	}
}

func (a *app) printStatus(rt *runtime) error {
	v := newStatusView(rt)
	if a.flags.jsonMode {
		return a.printJSON(v)
	}
	renderStatus(a.out, v)
	return nil
}
