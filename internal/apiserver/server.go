// Package apiserver serves a projects directory over the HTTP API that
// remote.Client consumes. Every JSON response uses the envelope
// {"success": bool, "error": string, ...}.
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/snapshot"
	"github.com/mesh-intelligence/fira/internal/source"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// CacheFileName is the hosted snapshot file inside the cache filesystem.
const CacheFileName = "fira-cache.json"

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Options wires the server's collaborators. Store is required.
type Options struct {
	Store     source.Store
	Root      string
	CacheFs   afero.Fs
	Snapshots *snapshot.Manager
	Bus       *source.Bus
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// Server provides the Fira HTTP API over one store.
type Server struct {
	echo      *echo.Echo
	config    Config
	store     source.Store
	root      string
	cacheFs   afero.Fs
	snapshots *snapshot.Manager
	bus       *source.Bus
	logger    *zap.Logger

	// mu serializes store access; scans and record moves share one tree.
	mu sync.Mutex
}

// NewServer creates a server. Routes are registered immediately.
func NewServer(cfg Config, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheFs := opts.CacheFs
	if cacheFs == nil {
		cacheFs = afero.NewMemMapFs()
	}
	bus := opts.Bus
	if bus == nil {
		bus = source.NewBus()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		TargetHeader: echo.HeaderXRequestID,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		config:    cfg,
		store:     opts.Store,
		root:      opts.Root,
		cacheFs:   cacheFs,
		snapshots: opts.Snapshots,
		bus:       bus,
		logger:    logger.Named("api"),
	}
	s.registerRoutes(opts.Gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/api/status", s.handleStatus)

	projects := s.echo.Group("/api/projects")
	projects.GET("", s.handleProjects)
	projects.POST("", s.handleCreateProject)
	projects.PUT("/:id", s.handleUpdateProject)
	projects.DELETE("/:id", s.handleDeleteProject)
	projects.GET("/:id/tasks", s.handleProjectTasks)
	projects.POST("/:id/tasks", s.handleCreateTask)
	projects.GET("/:id/tasks/:taskId", s.handleTask)
	projects.PUT("/:id/tasks/:taskId", s.handleUpdateTask)
	projects.DELETE("/:id/tasks/:taskId", s.handleDeleteTask)

	s.echo.POST("/api/create-directory", s.handleCreateDirectory)
	s.echo.POST("/api/save-cache", s.handleSaveCache)
	s.echo.GET("/api/cache", s.handleCache)
	s.echo.GET("/api/events", s.handleEvents)

	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Bus returns the bus that feeds /api/events.
func (s *Server) Bus() *source.Bus { return s.bus }

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting api server", zap.String("addr", s.Addr()), zap.String("root", s.root))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving %s: %w", s.Addr(), err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down api server")
	return s.echo.Shutdown(ctx)
}

// NotifyChanged publishes a data_loaded event, e.g. after a watcher saw
// the tree change outside the API.
func (s *Server) NotifyChanged() {
	s.bus.Publish(source.Event{Type: source.EventDataLoaded, Mode: s.store.Mode()})
}

// envelope is the common response body.
type envelope map[string]any

func ok(c echo.Context, body envelope) error {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	return c.JSON(http.StatusOK, body)
}

// statusFor maps a store error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidID), errors.Is(err, types.ErrInvalidStage):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrPermissionDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// fail converts err into an echo error carrying its mapped status.
func fail(err error) error {
	return echo.NewHTTPError(statusFor(err), err.Error()).SetInternal(err)
}

// errorHandler renders every error as an unsuccessful envelope.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, envelope{"success": false, "error": msg})
	}
}
