package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/mesh-intelligence/fira"

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "0.1.0-dev"

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fira version",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.jsonMode {
				return a.printJSON(map[string]string{"version": Version, "module": modulePath})
			}
			fmt.Fprintf(a.out, "fira v%s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
