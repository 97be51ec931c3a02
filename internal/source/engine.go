// Package source resolves which backing store is authoritative for the
// project/task dataset and dispatches every mutation to it.
//
// Resolution tries, in order: the session record, the granted directory,
// a one-time directory prompt, the API server, a fresh cached snapshot,
// and bundled static data. The first that succeeds becomes the active
// mode until a refresh or an explicit mode switch.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/fira/internal/metrics"
	"github.com/mesh-intelligence/fira/internal/record"
	"github.com/mesh-intelligence/fira/internal/scan"
	"github.com/mesh-intelligence/fira/internal/snapshot"
	"github.com/mesh-intelligence/fira/internal/sqlite"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// Deps are the collaborators of an Engine. Every field may be nil.
type Deps struct {
	Remote     RemoteAPI
	Snapshots  *snapshot.Manager
	Tombstones TombstoneBackend
	Sessions   SessionBackend
	Settings   SettingsBackend
	Prompter   DirectoryPrompter
	Opener     Opener
	Codec      record.Codec
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Options tune resolution.
type Options struct {
	Author       string
	SessionTTL   time.Duration
	ProbeTimeout time.Duration
	// Prompt allows the one-time directory prompt during resolution.
	Prompt bool
	// PreferServer skips the granted directory and keeps it only as the
	// identity of a hybrid session.
	PreferServer bool
	// StaticData replaces the bundled fallback dataset.
	StaticData []byte
	Now        func() time.Time
}

// Engine owns the canonical dataset and the active store.
type Engine struct {
	deps Deps
	opts Options

	tombstones *TombstoneSet
	sessions   *SessionStore
	handles    *HandleStore
	logger     *zap.Logger

	mu        sync.RWMutex
	mode      types.Mode
	store     Store
	data      types.Dataset
	fromCache bool
	directory string
	loadedAt  time.Time
	prompted  bool

	flight   singleflight.Group
	inFlight atomic.Bool
}

// New creates an engine. Nothing is loaded until Resolve is called.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Opener == nil {
		deps.Opener = OSOpener
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = types.DefaultProbeTimeout
	}
	if opts.Author == "" {
		opts.Author = types.DefaultAuthor
	}
	if deps.Codec == nil {
		deps.Codec = record.NewTolerant(
			record.WithLogger(deps.Logger),
			record.WithAuthor(opts.Author),
			record.WithClock(opts.Now),
		)
	}
	ts, err := NewTombstoneSet(deps.Tombstones)
	if err != nil {
		return nil, fmt.Errorf("loading tombstones: %w", err)
	}
	return &Engine{
		deps:       deps,
		opts:       opts,
		tombstones: ts,
		sessions:   NewSessionStore(deps.Sessions, opts.SessionTTL, opts.Now),
		handles:    NewHandleStore(deps.Settings),
		logger:     deps.Logger.Named("source"),
		data:       types.NewDataset(nil, nil),
	}, nil
}

// Mode returns the active mode, or "" before the first resolution.
func (e *Engine) Mode() types.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Dataset returns a copy of the canonical dataset.
func (e *Engine) Dataset() types.Dataset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Clone()
}

// Projects returns a copy of the project list.
func (e *Engine) Projects() []types.Project {
	return e.Dataset().Projects
}

// Project returns one project.
func (e *Engine) Project(id string) (types.Project, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Project(id)
}

// Tasks returns a copy of one project's tasks.
func (e *Engine) Tasks(projectID string) []types.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.Task(nil), e.data.Tasks(projectID)...)
}

// Task returns one task.
func (e *Engine) Task(projectID, taskID string) (types.Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Task(projectID, taskID)
}

// FromCache reports whether the dataset came from a cached snapshot.
func (e *Engine) FromCache() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fromCache
}

// Directory returns the directory bound to the active mode, if any.
func (e *Engine) Directory() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.directory
}

// LoadedAt returns when the active dataset was installed.
func (e *Engine) LoadedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadedAt
}

// Store returns the active store.
func (e *Engine) Store() Store {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store
}

// Tombstones returns the deleted-project set.
func (e *Engine) Tombstones() *TombstoneSet { return e.tombstones }

// Resolving reports whether a resolution is running.
func (e *Engine) Resolving() bool { return e.inFlight.Load() }

// Resolve runs the full resolution chain, starting with the session
// record. Source failures never surface; the only error is ctx's.
func (e *Engine) Resolve(ctx context.Context) (types.Mode, error) {
	return e.run(ctx, true)
}

// Refresh re-resolves without the session step. Calls made while a
// resolution is running join it instead of starting another.
func (e *Engine) Refresh(ctx context.Context) (types.Mode, error) {
	return e.run(ctx, false)
}

// TryRefresh is Refresh that returns types.ErrResolutionInFlight instead
// of joining a running resolution.
func (e *Engine) TryRefresh(ctx context.Context) (types.Mode, error) {
	if e.inFlight.Load() {
		e.deps.Metrics.RecordRefreshDeduped()
		return e.Mode(), types.ErrResolutionInFlight
	}
	return e.run(ctx, false)
}

// run executes or joins the shared resolution. The shared work does not
// inherit any caller's cancellation; each caller stops waiting when its
// own ctx ends.
func (e *Engine) run(ctx context.Context, useSession bool) (types.Mode, error) {
	if err := ctx.Err(); err != nil {
		return e.Mode(), err
	}
	if e.inFlight.Load() {
		e.deps.Metrics.RecordRefreshDeduped()
	}
	shared := context.WithoutCancel(ctx)
	ch := e.flight.DoChan("resolve", func() (any, error) {
		e.inFlight.Store(true)
		defer e.inFlight.Store(false)
		return e.resolve(shared, useSession)
	})
	select {
	case <-ctx.Done():
		return e.Mode(), ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return e.Mode(), r.Err
		}
		return r.Val.(types.Mode), nil
	}
}

// candidate is a store that loaded successfully.
type candidate struct {
	store     Store
	mode      types.Mode
	data      types.Dataset
	fromCache bool
	directory string
	restored  bool
}

type step struct {
	name string
	try  func(ctx context.Context) (*candidate, error)
}

func (e *Engine) resolve(ctx context.Context, useSession bool) (types.Mode, error) {
	start := e.opts.Now()
	var steps []step
	if useSession {
		steps = append(steps, step{"session", e.trySession})
	}
	steps = append(steps,
		step{"directory", e.tryGranted},
		step{"prompt", e.tryPrompt},
		step{"server", e.tryServer},
		step{"cache", e.tryCache},
		step{"static", e.tryStatic},
	)

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return e.Mode(), err
		}
		c, err := s.try(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return e.Mode(), ctxErr
			}
			e.logger.Debug("source unavailable", zap.String("step", s.name), zap.Error(err))
			continue
		}
		if c == nil {
			continue
		}
		e.install(ctx, c)
		e.deps.Metrics.RecordResolution(string(c.mode), e.opts.Now().Sub(start).Seconds(), len(c.data.Projects), c.data.TotalTasks())
		e.logger.Info("data source resolved",
			zap.String("mode", string(c.mode)),
			zap.Bool("from_cache", c.fromCache),
			zap.Int("projects", len(c.data.Projects)),
		)
		return c.mode, nil
	}
	// tryStatic never fails.
	return e.Mode(), nil
}

func (e *Engine) trySession(ctx context.Context) (*candidate, error) {
	rec, err := e.sessions.Load()
	if err != nil {
		return nil, err
	}
	return &candidate{
		store:     e.rebind(rec),
		mode:      types.ModeSessionRestored,
		data:      rec.Dataset,
		fromCache: rec.FromCache,
		directory: rec.Directory,
		restored:  true,
	}, nil
}

// rebind returns the store a restored session writes through: the
// originating directory or server when it can be reached without a scan,
// else an in-memory store.
func (e *Engine) rebind(rec *SessionRecord) Store {
	switch {
	case rec.Mode.IsDirectory() && rec.Directory != "":
		fs, err := e.deps.Opener(rec.Directory)
		if err == nil {
			return e.directoryStore(rec.Directory, fs, rec.Mode)
		}
		e.logger.Debug("session directory not reachable", zap.String("directory", rec.Directory), zap.Error(err))
	case rec.Mode == types.ModeHybrid && e.deps.Remote != nil:
		return NewHybridStore(NewServerStore(e.deps.Remote, e.logger), rec.Directory)
	case rec.Mode == types.ModeServer && e.deps.Remote != nil:
		return NewServerStore(e.deps.Remote, e.logger)
	}
	return NewMemoryStore(types.ModeSessionRestored, rec.Dataset)
}

func (e *Engine) tryGranted(ctx context.Context) (*candidate, error) {
	path, ok := e.handles.Granted()
	if !ok {
		return nil, types.ErrNoDirectory
	}
	if e.opts.PreferServer {
		return nil, fmt.Errorf("directory %s skipped: server preferred", path)
	}
	return e.loadDirectory(ctx, path, types.ModeDirectoryRefreshed)
}

func (e *Engine) tryPrompt(ctx context.Context) (*candidate, error) {
	e.mu.Lock()
	already := e.prompted
	e.prompted = true
	e.mu.Unlock()
	if !e.opts.Prompt || e.deps.Prompter == nil || already {
		return nil, types.ErrNoDirectory
	}
	if _, ok := e.handles.Granted(); ok {
		return nil, fmt.Errorf("granted directory not usable: %w", types.ErrNoDirectory)
	}
	path, err := e.deps.Prompter.PromptDirectory(ctx)
	if err != nil {
		return nil, err
	}
	c, err := e.loadDirectory(ctx, path, types.ModeDirectoryLive)
	if err != nil {
		return nil, err
	}
	if err := e.handles.Grant(path); err != nil {
		e.logger.Warn("remembering granted directory failed", zap.Error(err))
	}
	return c, nil
}

func (e *Engine) loadDirectory(ctx context.Context, path string, mode types.Mode) (*candidate, error) {
	fs, err := e.deps.Opener(path)
	if err != nil {
		return nil, err
	}
	store := e.directoryStore(path, fs, mode)
	ds, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &candidate{store: store, mode: mode, data: ds, directory: path}, nil
}

func (e *Engine) directoryStore(path string, fs afero.Fs, mode types.Mode) *DirectoryStore {
	return NewDirectoryStore(path, fs, mode, DirectoryOptions{
		Codec:  e.deps.Codec,
		Author: e.opts.Author,
		Now:    e.opts.Now,
		Logger: e.logger,
	})
}

func (e *Engine) tryServer(ctx context.Context) (*candidate, error) {
	if e.deps.Remote == nil {
		return nil, fmt.Errorf("no server configured: %w", types.ErrUnavailable)
	}
	if err := e.probe(ctx); err != nil {
		return nil, err
	}
	server := NewServerStore(e.deps.Remote, e.logger)
	ds, err := server.Load(ctx)
	if err != nil {
		return nil, err
	}
	if path, ok := e.handles.Granted(); ok {
		return &candidate{store: NewHybridStore(server, path), mode: types.ModeHybrid, data: ds, directory: path}, nil
	}
	return &candidate{store: server, mode: types.ModeServer, data: ds}, nil
}

func (e *Engine) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()
	_, err := e.deps.Remote.Status(pctx)
	return err
}

func (e *Engine) tryCache(ctx context.Context) (*candidate, error) {
	if e.deps.Snapshots == nil {
		return nil, fmt.Errorf("no snapshot store: %w", types.ErrUnavailable)
	}
	snap, target := e.deps.Snapshots.LoadFresh(ctx)
	if snap == nil {
		return nil, fmt.Errorf("no fresh snapshot: %w", types.ErrNotFound)
	}
	e.logger.Debug("using cached snapshot", zap.String("from", string(target)), zap.Time("timestamp", snap.Timestamp))
	store := NewCacheStore(*snap)
	return &candidate{store: store, mode: types.ModeCache, data: snap.Dataset(), fromCache: true}, nil
}

func (e *Engine) tryStatic(ctx context.Context) (*candidate, error) {
	store := NewStaticStore(e.opts.StaticData)
	ds, _ := store.Load(ctx)
	return &candidate{store: store, mode: types.ModeStatic, data: ds}, nil
}

// install makes c the active source: tombstoned projects are dropped,
// stats recomputed, the session and snapshot saved, and listeners told.
func (e *Engine) install(ctx context.Context, c *candidate) {
	ds := c.data
	if ds.ProjectTasks == nil {
		ds.ProjectTasks = map[string][]types.Task{}
	}
	if n := e.tombstones.Filter(&ds); n > 0 {
		e.logger.Debug("hid deleted projects", zap.Int("count", n))
	}
	if ms, ok := c.store.(*MemoryStore); ok {
		ms.hide(e.tombstones)
	}
	recomputeStats(&ds)

	e.mu.Lock()
	e.mode = c.mode
	e.store = c.store
	e.data = ds
	e.fromCache = c.fromCache
	e.directory = c.directory
	e.loadedAt = e.opts.Now()
	e.mu.Unlock()

	if !c.restored {
		e.saveSession()
	}
	if c.mode.IsDirectory() || c.mode.IsServer() {
		e.saveSnapshot(ctx, ds)
	}
	if e.deps.Settings != nil {
		if err := e.deps.Settings.SetSetting(sqlite.SettingActiveMode, string(c.mode)); err != nil {
			e.logger.Debug("saving active mode failed", zap.Error(err))
		}
	}
	e.publish(Event{Type: EventDataLoaded, Mode: c.mode, FromCache: c.fromCache})
}

// saveSession records the dataset under the mode of the store that
// produced it, so a restore can rebind that store.
func (e *Engine) saveSession() {
	e.mu.RLock()
	if e.store == nil {
		e.mu.RUnlock()
		return
	}
	rec := SessionRecord{Mode: e.store.Mode(), FromCache: e.fromCache, Directory: e.directory, Dataset: e.data.Clone()}
	e.mu.RUnlock()
	if err := e.sessions.Save(rec); err != nil {
		e.logger.Warn("saving session failed", zap.Error(err))
	}
}

func (e *Engine) saveSnapshot(ctx context.Context, ds types.Dataset) {
	if e.deps.Snapshots == nil {
		return
	}
	target, err := e.deps.Snapshots.Save(ctx, ds)
	if err != nil {
		e.logger.Warn("saving snapshot failed", zap.Error(err))
		return
	}
	e.deps.Metrics.RecordSnapshot(string(target))
}

// SaveSnapshot persists the current dataset through the snapshot manager.
func (e *Engine) SaveSnapshot(ctx context.Context) (snapshot.Target, error) {
	if e.deps.Snapshots == nil {
		return snapshot.TargetNone, fmt.Errorf("saving snapshot: %w", types.ErrUnavailable)
	}
	target, err := e.deps.Snapshots.Save(ctx, e.Dataset())
	if err == nil {
		e.deps.Metrics.RecordSnapshot(string(target))
	}
	return target, err
}

func (e *Engine) publish(ev Event) {
	if e.deps.Notifier == nil {
		return
	}
	e.deps.Notifier.Publish(ev)
}

// UseDirectory binds the engine to path as a live directory. A path that
// cannot be accessed switches to no-directory, keeping the current data
// in memory, and returns the access error.
func (e *Engine) UseDirectory(ctx context.Context, path string) (types.Mode, error) {
	c, err := e.loadDirectory(ctx, path, types.ModeDirectoryLive)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.Mode(), ctxErr
		}
		e.logger.Warn("directory not available", zap.String("directory", path), zap.Error(err))
		e.mu.Lock()
		e.mode = types.ModeNoDirectory
		e.store = NewMemoryStore(types.ModeNoDirectory, e.data)
		e.directory = ""
		e.mu.Unlock()
		e.publish(Event{Type: EventDataLoaded, Mode: types.ModeNoDirectory, FromCache: e.FromCache()})
		return types.ModeNoDirectory, err
	}
	if err := e.handles.Grant(path); err != nil {
		e.logger.Warn("remembering granted directory failed", zap.Error(err))
	}
	e.install(ctx, c)
	return c.mode, nil
}

// UseServer binds the engine to the API server. An unreachable server
// leaves the mode unchanged and returns types.ErrUnavailable.
func (e *Engine) UseServer(ctx context.Context) (types.Mode, error) {
	if e.deps.Remote == nil {
		return e.Mode(), fmt.Errorf("no server configured: %w", types.ErrUnavailable)
	}
	if err := e.probe(ctx); err != nil {
		return e.Mode(), err
	}
	server := NewServerStore(e.deps.Remote, e.logger)
	ds, err := server.Load(ctx)
	if err != nil {
		return e.Mode(), err
	}
	e.install(ctx, &candidate{store: server, mode: types.ModeServer, data: ds})
	return types.ModeServer, nil
}

// ResetMode forgets the session and the granted directory, re-arms the
// directory prompt, and resolves again.
func (e *Engine) ResetMode(ctx context.Context) (types.Mode, error) {
	if err := e.sessions.Clear(); err != nil {
		e.logger.Warn("clearing session failed", zap.Error(err))
	}
	if err := e.handles.Revoke(); err != nil {
		e.logger.Warn("forgetting granted directory failed", zap.Error(err))
	}
	e.mu.Lock()
	e.prompted = false
	e.mu.Unlock()
	return e.run(ctx, false)
}

// recomputeStats derives every project's stats from its tasks.
func recomputeStats(ds *types.Dataset) {
	for i := range ds.Projects {
		p := &ds.Projects[i]
		p.Stats = statsFor(*p, ds.ProjectTasks[p.ID])
	}
}

// statsFor uses the project's owner roster when it has one and the
// developers of its in-progress tasks otherwise.
func statsFor(p types.Project, tasks []types.Task) types.ProjectStats {
	var roster []string
	if len(p.Developers) > 0 {
		roster = p.Developers
	}
	return scan.Stats(tasks, roster)
}

// isDomainError reports errors that describe the request rather than the
// store, which must reach the caller unchanged.
func isDomainError(err error) bool {
	return errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrAlreadyExists) ||
		errors.Is(err, types.ErrInvalidID) ||
		errors.Is(err, types.ErrInvalidStage) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
