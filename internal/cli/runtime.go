package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/config"
	"github.com/mesh-intelligence/fira/internal/logging"
	"github.com/mesh-intelligence/fira/internal/metrics"
	"github.com/mesh-intelligence/fira/internal/paths"
	"github.com/mesh-intelligence/fira/internal/remote"
	"github.com/mesh-intelligence/fira/internal/snapshot"
	"github.com/mesh-intelligence/fira/internal/source"
	"github.com/mesh-intelligence/fira/internal/sqlite"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// runtime is everything a command needs once configuration is loaded.
type runtime struct {
	settings  *config.Settings
	configDir string
	dataDir   string
	logger    *zap.Logger
	backend   *sqlite.Backend
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	client    *remote.Client
	snapshots *snapshot.Manager
	bus       *source.Bus
	engine    *source.Engine
}

// loadSettings resolves the config directory and reads config.yaml.
func (a *app) loadSettings() (*config.Settings, string, error) {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return nil, "", fmt.Errorf("resolve config dir: %w", err)
	}
	settings, err := config.Load(configDir)
	if err != nil {
		return nil, "", err
	}
	return settings, configDir, nil
}

// open loads configuration, attaches the local store and builds the
// engine. The caller must Close the runtime.
func (a *app) open() (*runtime, error) {
	settings, configDir, err := a.loadSettings()
	if err != nil {
		return nil, err
	}
	cfg := settings.Engine
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	lc := settings.Logging()
	if a.flags.logLevel != "" {
		lc.Level = a.flags.logLevel
	}
	if lc.File == "" {
		lc.File = paths.LogFile(dataDir)
	}
	logger, err := logging.New(lc, a.err)
	if err != nil {
		return nil, &userError{err: err}
	}

	backend := sqlite.NewBackend()
	if err := backend.Attach(types.Config{Backend: cfg.Backend, DataDir: dataDir}); err != nil {
		return nil, fmt.Errorf("attach local store: %w", err)
	}

	rt := &runtime{
		settings:  settings,
		configDir: configDir,
		dataDir:   dataDir,
		logger:    logger,
		backend:   backend,
		registry:  prometheus.NewRegistry(),
		bus:       source.NewBus(),
	}
	rt.metrics = metrics.New(rt.registry)

	serverURL := cfg.ServerURL
	if a.flags.server != "" {
		serverURL = a.flags.server
	}
	if serverURL != "" {
		rt.client = remote.New(serverURL, remote.WithLogger(logger.Named("remote")))
	}

	exportDir := cfg.ExportDir
	if exportDir == "" {
		exportDir = paths.ExportDir(dataDir)
	}
	rt.snapshots, err = snapshot.New(snapshot.Options{
		Local:     backend,
		ExportDir: exportDir,
		MaxAge:    cfg.CacheMaxAge,
		Logger:    logger.Named("snapshot"),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	deps := source.Deps{
		Snapshots:  rt.snapshots,
		Tombstones: backend,
		Sessions:   backend,
		Settings:   backend,
		Notifier:   rt.bus,
		Metrics:    rt.metrics,
		Logger:     logger,
	}
	if rt.client != nil {
		deps.Remote = rt.client
		rt.snapshots.SetRemote(rt.client)
	}
	prompt := cfg.Prompt && !a.flags.noPrompt && a.interactive != nil && a.interactive()
	if prompt {
		deps.Prompter = huhPrompter{}
	}

	rt.engine, err = source.New(deps, source.Options{
		Author:       cfg.Author,
		SessionTTL:   cfg.SessionTTL,
		ProbeTimeout: cfg.ProbeTimeout,
		Prompt:       prompt,
		PreferServer: cfg.PreferServer,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// resolve loads the dataset, honoring --dir.
func (a *app) resolve(ctx context.Context, rt *runtime) (types.Mode, error) {
	if a.flags.dir != "" {
		mode, err := rt.engine.UseDirectory(ctx, a.flags.dir)
		if err != nil {
			return mode, &userError{err: fmt.Errorf("use directory %s: %w", a.flags.dir, err)}
		}
		return mode, nil
	}
	return rt.engine.Resolve(ctx)
}

// withEngine opens a runtime, resolves, and runs fn.
func (a *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := a.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := commandContext(cmd)
	if _, err := a.resolve(ctx, rt); err != nil {
		return err
	}
	return fn(ctx, rt)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Close flushes logs and detaches the local store.
func (rt *runtime) Close() {
	if rt.logger != nil {
		_ = logging.Sync(rt.logger)
	}
	if rt.backend != nil && rt.backend.Attached() {
		if err := rt.backend.Detach(); err != nil {
			rt.logger.Warn("detach local store failed", zap.Error(err))
		}
	}
}
