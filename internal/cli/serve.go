package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/fira/internal/apiserver"
	"github.com/mesh-intelligence/fira/internal/source"
	"github.com/mesh-intelligence/fira/internal/watch"
	"github.com/mesh-intelligence/fira/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		host    string
		port    int
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve a projects directory over the Fira HTTP API",
		Long: "Serve a projects directory over the Fira HTTP API. The directory comes from\n" +
			"the argument, --dir, or projects_dir in config.yaml. Changes on disk are pushed\n" +
			"to /api/events subscribers unless --no-watch is set.",
		Args: args(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			dir := a.flags.dir
			if len(argv) == 1 {
				dir = argv[0]
			}
			if dir == "" {
				dir = rt.settings.Engine.ProjectsDir
			}
			if dir == "" {
				return usage("no projects directory: pass one or set %s", "projects_dir")
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", dir, err)
			}
			fs, err := source.OSOpener(abs)
			if err != nil {
				return &userError{err: fmt.Errorf("serve %s: %w", abs, err)}
			}

			if !cmd.Flags().Changed("host") {
				host = rt.settings.ServeHost
			}
			if !cmd.Flags().Changed("port") {
				port = rt.settings.ServePort
			}

			logger := rt.logger.Named("serve")
			store := source.NewDirectoryStore(abs, fs, types.ModeDirectoryLive, source.DirectoryOptions{
				Author: rt.settings.Engine.Author,
				Logger: logger,
			})
			srv, err := apiserver.NewServer(apiserver.Config{Host: host, Port: port, Version: Version}, apiserver.Options{
				Store:     store,
				Root:      abs,
				CacheFs:   afero.NewBasePathFs(afero.NewOsFs(), rt.dataDir),
				Snapshots: rt.snapshots,
				Bus:       rt.bus,
				Gatherer:  rt.registry,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintln(a.out, successStyle.Render("Serving "+abs+" on http://"+srv.Addr()))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			if !noWatch {
				w := watch.New(abs, watch.Options{Logger: logger, Metrics: rt.metrics})
				g.Go(func() error {
					err := w.Run(gctx, func(context.Context, []string) error {
						srv.NotifyChanged()
						return nil
					})
					if err != nil {
						logger.Warn("directory watch stopped", zap.Error(err))
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default: serve_host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: serve_port)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the directory for changes")
	return cmd
}
