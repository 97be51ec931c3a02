package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fira/internal/paths"
	"github.com/mesh-intelligence/fira/internal/sqlite"
	"github.com/mesh-intelligence/fira/pkg/types"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize fira configuration and local storage",
		Long:  "Create the configuration directory with a default config.yaml, then initialize\nthe local store in the data directory.",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInit()
		},
	}
}

func (a *app) runInit() error {
	settings, configDir, err := a.loadSettings()
	if err != nil {
		return err
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, settings.Engine.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(paths.ExportDir(dataDir), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	backend := sqlite.NewBackend()
	if err := backend.Attach(types.Config{Backend: settings.Engine.Backend, DataDir: dataDir}); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := backend.Detach(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}

	if a.flags.jsonMode {
		return a.printJSON(map[string]string{
			"configDir":  configDir,
			"configFile": settings.Path,
			"dataDir":    dataDir,
		})
	}
	fmt.Fprintln(a.out, successStyle.Render("fira initialized"))
	fmt.Fprintln(a.out, labelStyle.Render("config")+settings.Path)
	fmt.Fprintln(a.out, labelStyle.Render("data")+dataDir)
	return nil
}
