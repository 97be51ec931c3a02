package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fira/internal/config"
)

func newUseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use",
		Short: "Switch the active data source",
	}
	cmd.AddCommand(newUseDirCmd(a), newUseServerCmd(a), newUseResetCmd(a))
	return cmd
}

func newUseDirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dir <path>",
		Short: "Grant a projects directory and load it live",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.engine.UseDirectory(commandContext(cmd), argv[0]); err != nil {
				return &userError{err: fmt.Errorf("use directory %s: %w", argv[0], err)}
			}
			return a.printStatus(rt)
		},
	}
}

func newUseServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server [url]",
		Short: "Load data from the API server, optionally saving a new server URL",
		Args:  args(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			if len(argv) == 1 {
				settings, _, err := a.loadSettings()
				if err != nil {
					return err
				}
				if err := settings.Set(config.KeyServerURL, argv[0]); err != nil {
					return err
				}
			}
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.engine.UseServer(commandContext(cmd)); err != nil {
				return fmt.Errorf("use server: %w", err)
			}
			return a.printStatus(rt)
		},
	}
}

func newUseResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the session and granted directory, then resolve again",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.engine.ResetMode(commandContext(cmd)); err != nil {
				return err
			}
			return a.printStatus(rt)
		},
	}
}
