package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fira/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload the dataset whenever the projects directory changes",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				mode := rt.engine.Mode()
				if !mode.IsDirectory() && rt.engine.Directory() != "" {
					// A restored session only remembers the directory; rescan it.
					m, err := rt.engine.Refresh(ctx)
					if err != nil {
						return err
					}
					mode = m
				}
				if !mode.IsDirectory() || rt.engine.Directory() == "" {
					return usage("watch needs a projects directory, active mode is %s (try --dir)", mode)
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				if err := a.printStatus(rt); err != nil {
					return err
				}
				w := watch.New(rt.engine.Directory(), watch.Options{
					Debounce: debounce,
					Logger:   rt.logger.Named("watch"),
					Metrics:  rt.metrics,
				})
				return w.Run(ctx, func(ctx context.Context, paths []string) error {
					if _, err := rt.engine.TryRefresh(ctx); err != nil {
						return err
					}
					if !a.flags.jsonMode {
						fmt.Fprintln(a.out, dimStyle.Render(fmt.Sprintf("%d change(s), reloaded", len(paths))))
					}
					return a.printStatus(rt)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before reloading")
	return cmd
}
