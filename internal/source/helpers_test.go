package source

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/fira/internal/remote"
	"github.com/mesh-intelligence/fira/internal/snapshot"
	"github.com/mesh-intelligence/fira/internal/sqlite"
	"github.com/mesh-intelligence/fira/pkg/types"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: baseTime} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func attachBackend(t *testing.T, dir string) *sqlite.Backend {
	t.Helper()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: dir}))
	t.Cleanup(func() { b.Detach() })
	return b
}

func newSnapshots(t *testing.T, local snapshot.Local, clk *clock) *snapshot.Manager {
	t.Helper()
	m, err := snapshot.New(snapshot.Options{Local: local, Now: clk.Now})
	require.NoError(t, err)
	return m
}

// env wires an engine over a memory filesystem and a real local store.
type env struct {
	fs      afero.Fs
	backend *sqlite.Backend
	clock   *clock
	bus     *Bus
	events  <-chan Event
	remote  *fakeRemote
	deps    Deps
	opts    Options
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		fs:      afero.NewMemMapFs(),
		backend: attachBackend(t, t.TempDir()),
		clock:   newClock(),
		bus:     NewBus(),
	}
	var cancel func()
	e.events, cancel = e.bus.Subscribe(64)
	t.Cleanup(cancel)
	e.deps = Deps{
		Snapshots:  newSnapshots(t, e.backend, e.clock),
		Tombstones: e.backend,
		Sessions:   e.backend,
		Settings:   e.backend,
		Opener:     MemOpener(e.fs),
		Notifier:   e.bus,
	}
	e.opts = Options{Author: "tester", Now: e.clock.Now, ProbeTimeout: time.Second}
	return e
}

func (e *env) withRemote() *fakeRemote {
	e.remote = newFakeRemote()
	e.deps.Remote = e.remote
	return e.remote
}

func (e *env) engine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(e.deps, e.opts)
	require.NoError(t, err)
	return eng
}

func (e *env) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(e.fs, path, []byte(content), 0o644))
}

func (e *env) exists(path string) bool {
	ok, _ := afero.Exists(e.fs, path)
	return ok
}

func (e *env) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(e.fs, path)
	require.NoError(t, err)
	return string(data)
}

// seedDirectory lays out /work/projects/demo with one backlog record and
// one in-progress record owned by dev-bob.
func (e *env) seedDirectory(t *testing.T) {
	t.Helper()
	e.write(t, "/work/projects/demo/README.md", "# demo\n\nDemo board\n")
	e.write(t, "/work/projects/demo/backlog/TSK-100.md", "---\ntitle: Write docs\nestimate: 2h\npriority: medium\nstatus: backlog\n---\n\nBody\n")
	e.write(t, "/work/projects/demo/progress/dev-bob/TSK-101.md", "---\ntitle: Ship it\nestimate: 3h\nstatus: progress\n---\n\nWork\n")
}

func (e *env) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// fakeRemote is an in-memory API server.
type fakeRemote struct {
	mu        sync.Mutex
	statusErr error
	projects  []types.Project
	tasks     map[string][]types.Task
	cache     []byte
	calls     map[string]int
	// keepOnDelete makes DeleteProject succeed without removing anything,
	// like a server that still serves a stale copy.
	keepOnDelete bool
	// block, when set, stalls Projects until closed.
	block   chan struct{}
	entered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{tasks: map[string][]types.Task{}, calls: map[string]int{}}
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeRemote) addProject(id string, tasks ...types.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, types.Project{ID: id, Name: id, Description: "Project " + id})
	f.tasks[id] = tasks
}

func (f *fakeRemote) Status(ctx context.Context) (*remote.Status, error) {
	f.hit("Status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &remote.Status{Status: "ok"}, nil
}

func (f *fakeRemote) Projects(ctx context.Context) ([]types.Project, error) {
	f.hit("Projects")
	if f.block != nil {
		if f.entered != nil {
			close(f.entered)
			f.entered = nil
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Project(nil), f.projects...), nil
}

func (f *fakeRemote) ProjectTasks(ctx context.Context, projectID string) ([]types.Task, error) {
	f.hit("ProjectTasks")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Task(nil), f.tasks[projectID]...), nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, in remote.ProjectInput) (*types.Project, error) {
	f.hit("CreateProject")
	f.addProject(in.ID)
	return &types.Project{ID: in.ID, Name: in.ID, Description: in.Description}, nil
}

func (f *fakeRemote) UpdateProject(ctx context.Context, projectID string, patch types.ProjectPatch) error {
	f.hit("UpdateProject")
	return nil
}

func (f *fakeRemote) DeleteProject(ctx context.Context, projectID string) error {
	f.hit("DeleteProject")
	if f.statusErr != nil {
		return f.statusErr
	}
	if f.keepOnDelete {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.projects[:0]
	for _, p := range f.projects {
		if p.ID != projectID {
			kept = append(kept, p)
		}
	}
	f.projects = kept
	delete(f.tasks, projectID)
	return nil
}

func (f *fakeRemote) CreateTask(ctx context.Context, projectID string, task types.Task) (*types.Task, error) {
	f.hit("CreateTask")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[projectID] = append(f.tasks[projectID], task)
	return &task, nil
}

func (f *fakeRemote) UpdateTask(ctx context.Context, projectID, taskID string, task types.Task) (*types.Task, error) {
	f.hit("UpdateTask")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.tasks[projectID] {
		if t.ID == taskID {
			f.tasks[projectID][i] = task
			return &task, nil
		}
	}
	return nil, &remote.APIError{Status: 404, Message: "Task " + taskID + " not found"}
}

func (f *fakeRemote) DeleteTask(ctx context.Context, projectID, taskID string) error {
	f.hit("DeleteTask")
	return &remote.APIError{Status: 404, Message: "not found"}
}

func (f *fakeRemote) CreateDirectory(ctx context.Context, projectID string, stage types.Stage, owner string) error {
	f.hit("CreateDirectory")
	return nil
}

func (f *fakeRemote) SaveCacheFile(ctx context.Context, snap types.Snapshot) error {
	f.hit("SaveCacheFile")
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.cache = body
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) GetCacheFile(ctx context.Context) ([]byte, error) {
	f.hit("GetCacheFile")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cache == nil {
		return nil, &remote.APIError{Status: 404, Message: "no cache"}
	}
	return f.cache, nil
}
