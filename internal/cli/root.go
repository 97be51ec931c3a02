// Package cli implements the fira command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	dir       string
	server    string
	jsonMode  bool
	noPrompt  bool
	logLevel  string
}

// app carries the flags and streams of one command tree.
type app struct {
	flags rootFlags
	in    io.Reader
	out   io.Writer
	err   io.Writer
	// interactive reports whether prompts may be shown.
	interactive func() bool
}

// userError marks failures caused by the invocation rather than the
// system, such as unknown ids or bad arguments.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func usage(format string, args ...any) error {
	return &userError{err: fmt.Errorf(format, args...)}
}

// NewRootCmd creates the top-level "fira" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{in: os.Stdin, out: os.Stdout, err: os.Stderr, interactive: stdinIsTerminal})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "fira",
		Short: "Resolve, browse and edit Fira project boards",
		Long: "fira loads project and task data from a local projects directory, the Fira API\n" +
			"server, a cached snapshot or bundled demo data, and writes changes back to\n" +
			"whichever source is active.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &userError{err: err}
	})
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.err)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	pf.StringVar(&a.flags.dir, "dir", "", "use this projects directory instead of resolving a source")
	pf.StringVar(&a.flags.server, "server", "", "API server URL (overrides server_url)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.BoolVar(&a.flags.noPrompt, "no-prompt", false, "never prompt for a projects directory")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(a),
		newInitCmd(a),
		newStatusCmd(a),
		newRefreshCmd(a),
		newProjectsCmd(a),
		newProjectCmd(a),
		newTasksCmd(a),
		newTaskCmd(a),
		newDevCmd(a),
		newCacheCmd(a),
		newUseCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:])
}

func run(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(root.ErrOrStderr(), errorStyle.Render("Error: "+err.Error()))
	return exitCode(err)
}

// args wraps a cobra argument validator so violations are user errors.
func args(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := v(cmd, a); err != nil {
			return &userError{err: err}
		}
		return nil
	}
}

// exitCode maps an error to 1 for user errors and 2 for system errors.
func exitCode(err error) int {
	var ue *userError
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &ue),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrAlreadyExists),
		errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidStage),
		errors.Is(err, context.Canceled):
		return exitUserError
	}
	return exitSysError
}
