package apiserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/fira/internal/metrics"
	"github.com/mesh-intelligence/fira/internal/remote"
	"github.com/mesh-intelligence/fira/internal/snapshot"
	"github.com/mesh-intelligence/fira/internal/source"
	"github.com/mesh-intelligence/fira/pkg/types"
)

type fixture struct {
	fs      afero.Fs
	cacheFs afero.Fs
	server  *Server
	http    *httptest.Server
	client  *remote.Client
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	write(t, fs, "/projects/demo/README.md", "# demo\n\nDemo board\n")
	write(t, fs, "/projects/demo/backlog/TSK-100.md", "---\ntitle: Write docs\nestimate: 2h\npriority: medium\nstatus: backlog\n---\n\nBody\n")
	write(t, fs, "/projects/demo/progress/dev-bob/TSK-101.md", "---\ntitle: Ship it\nestimate: 3h\nstatus: progress\n---\n\nWork\n")

	snaps, err := snapshot.New(snapshot.Options{})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	metrics.New(reg).SetDatasetSize(1, 2)

	f := &fixture{fs: fs, cacheFs: afero.NewMemMapFs(), reg: reg}
	f.server, err = NewServer(Config{Version: "test"}, Options{
		Store:     source.NewDirectoryStore("/srv/work", fs, types.ModeDirectoryLive, source.DirectoryOptions{Author: "tester"}),
		Root:      "/srv/work",
		CacheFs:   f.cacheFs,
		Snapshots: snaps,
		Gatherer:  reg,
	})
	require.NoError(t, err)
	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(f.http.Close)
	f.client = remote.New(f.http.URL)
	return f
}

func write(t *testing.T, fs afero.Fs, path, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(body), 0o644))
}

func exists(fs afero.Fs, path string) bool {
	ok, _ := afero.Exists(fs, path)
	return ok
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(Config{}, Options{})
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	st, err := f.client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, "/srv/work", st.ProjectsDir)
}

func TestProjectsAndTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	projects, err := f.client.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "demo", projects[0].ID)
	assert.Equal(t, "Demo board", projects[0].Description)
	assert.Equal(t, 1, projects[0].Stats.Backlog.Count)
	assert.Equal(t, 1, projects[0].Stats.InProgress.Count)

	tasks, err := f.client.ProjectTasks(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	task, err := f.client.Task(ctx, "demo", "TSK-101")
	require.NoError(t, err)
	assert.Equal(t, types.StageProgress, task.Column)
	assert.Equal(t, "dev-bob", task.Developer)

	_, err = f.client.Task(ctx, "demo", "TSK-999")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.client.ProjectTasks(ctx, "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestProjectLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.client.CreateProject(ctx, remote.ProjectInput{ID: "alpha", Description: "First"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.ID)
	assert.True(t, exists(f.fs, "/projects/alpha/README.md"))
	assert.True(t, exists(f.fs, "/projects/alpha/progress/default-dev"))

	_, err = f.client.CreateProject(ctx, remote.ProjectInput{ID: "alpha"})
	assert.ErrorIs(t, err, types.ErrAlreadyExists)

	desc := "Rewritten"
	require.NoError(t, f.client.UpdateProject(ctx, "alpha", types.ProjectPatch{Description: &desc}))
	body, err := afero.ReadFile(f.fs, "/projects/alpha/README.md")
	require.NoError(t, err)
	assert.Equal(t, "# alpha\n\nRewritten\n", string(body))

	assert.ErrorIs(t, f.client.UpdateProject(ctx, "ghost", types.ProjectPatch{Description: &desc}), types.ErrNotFound)

	require.NoError(t, f.client.DeleteProject(ctx, "alpha"))
	assert.False(t, exists(f.fs, "/projects/alpha"))
	assert.ErrorIs(t, f.client.DeleteProject(ctx, "alpha"), types.ErrNotFound)
}

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.client.CreateTask(ctx, "demo", types.Task{ID: "TSK-200", Title: "New task", Column: types.StageBacklog, Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, "TSK-200", created.ID)
	assert.True(t, exists(f.fs, "/projects/demo/backlog/TSK-200.md"))

	_, err = f.client.CreateTask(ctx, "demo", types.Task{ID: "TSK-200", Title: "Again"})
	assert.ErrorIs(t, err, types.ErrAlreadyExists)

	moved := *created
	moved.Column = types.StageProgress
	moved.Developer = "dev-amy"
	updated, err := f.client.UpdateTask(ctx, "demo", "TSK-200", moved)
	require.NoError(t, err)
	assert.Equal(t, types.StageProgress, updated.Column)
	assert.True(t, exists(f.fs, "/projects/demo/progress/dev-amy/TSK-200.md"))
	assert.False(t, exists(f.fs, "/projects/demo/backlog/TSK-200.md"))

	require.NoError(t, f.client.DeleteTask(ctx, "demo", "TSK-200"))
	assert.False(t, exists(f.fs, "/projects/demo/progress/dev-amy/TSK-200.md"))
	require.NoError(t, f.client.DeleteTask(ctx, "demo", "TSK-200"))
}

func TestTaskColumnMustBeAStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.CreateTask(ctx, "demo", types.Task{ID: "TSK-300", Title: "Bad", Column: "archive"})
	assert.ErrorIs(t, err, types.ErrInvalidStage)
	assert.False(t, exists(f.fs, "/projects/demo/archive/TSK-300.md"))

	_, err = f.client.UpdateTask(ctx, "demo", "TSK-100", types.Task{Title: "Write docs", Column: "archive"})
	assert.ErrorIs(t, err, types.ErrInvalidStage)
	assert.True(t, exists(f.fs, "/projects/demo/backlog/TSK-100.md"), "record stays in place")

	updated, err := f.client.UpdateTask(ctx, "demo", "TSK-100", types.Task{Title: "Write docs", Column: "Review"})
	require.NoError(t, err)
	assert.Equal(t, types.StageReview, updated.Column)
	assert.True(t, exists(f.fs, "/projects/demo/review/TSK-100.md"))
}

func TestUpdateTaskNeverTouchesSimilarIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.UpdateTask(ctx, "demo", "TSK-10", types.Task{Title: "Other", Column: types.StageBacklog})
	assert.ErrorIs(t, err, types.ErrNotFound)
	data, err := afero.ReadFile(f.fs, "/projects/demo/backlog/TSK-100.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "title: Write docs\n")

	require.NoError(t, f.client.DeleteTask(ctx, "demo", "TSK-10"))
	assert.True(t, exists(f.fs, "/projects/demo/backlog/TSK-100.md"))
}

func TestCreateTaskGeneratesID(t *testing.T) {
	f := newFixture(t)
	created, err := f.client.CreateTask(context.Background(), "demo", types.Task{Title: "No id"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.ID, types.TaskIDPrefix))
	assert.True(t, exists(f.fs, "/projects/demo/backlog/"+created.ID+".md"))
}

func TestCreateDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.CreateDirectory(ctx, "demo", types.StageReview, "dev-cy"))
	body, err := afero.ReadFile(f.fs, "/projects/demo/review/dev-cy/README.md")
	require.NoError(t, err)
	assert.Contains(t, string(body), "Tasks assigned to dev-cy")

	err = f.client.CreateDirectory(ctx, "demo", types.StageBacklog, "dev-cy")
	var apiErr *remote.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	assert.ErrorIs(t, f.client.CreateDirectory(ctx, "ghost", types.StageReview, "dev-cy"), types.ErrNotFound)
}

func TestCacheFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.GetCacheFile(ctx)
	assert.ErrorIs(t, err, types.ErrNotFound)

	projects, err := f.client.Projects(ctx)
	require.NoError(t, err)
	snap := snapshot.Build(types.NewDataset(projects, nil), time.Now())
	require.NoError(t, f.client.SaveCacheFile(ctx, snap))
	assert.True(t, exists(f.cacheFs, CacheFileName))

	body, err := f.client.GetCacheFile(ctx)
	require.NoError(t, err)
	m, err := snapshot.New(snapshot.Options{})
	require.NoError(t, err)
	got, err := m.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metadata.TotalProjects)

	resp, err := http.Post(f.http.URL+"/api/save-cache", "application/json", strings.NewReader(`{"foo":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSAndMetrics(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fira_tasks_loaded")
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/nothing", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Not Found"}`, rec.Body.String())
}

func TestEventsStream(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a websocket round trip")
	}
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello source.Event
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, EventHello, hello.Type)
	assert.Equal(t, types.ModeDirectoryLive, hello.Mode)

	_, err = f.client.CreateProject(ctx, remote.ProjectInput{ID: "beta"})
	require.NoError(t, err)

	var ev source.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, source.EventProjectChanged, ev.Type)
	assert.Equal(t, "beta", ev.ProjectID)
	assert.Equal(t, source.OpCreateProject, ev.Action)
	assert.NotEmpty(t, ev.ID)

	f.server.NotifyChanged()
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, source.EventDataLoaded, ev.Type)
}

func TestEngineResolvesAgainstServer(t *testing.T) {
	f := newFixture(t)
	snaps, err := snapshot.New(snapshot.Options{})
	require.NoError(t, err)
	engine, err := source.New(source.Deps{Remote: f.client, Snapshots: snaps}, source.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	mode, err := engine.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ModeServer, mode)
	require.Len(t, engine.Projects(), 1)
	assert.Len(t, engine.Tasks("demo"), 2)

	res, err := engine.MoveTask(ctx, "demo", "TSK-100", types.StageReview, "dev-amy")
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.True(t, exists(f.fs, "/projects/demo/review/dev-amy/TSK-100.md"))
	assert.False(t, exists(f.fs, "/projects/demo/backlog/TSK-100.md"))

	task, ok := engine.Task("demo", "TSK-100")
	require.True(t, ok)
	assert.Equal(t, types.StageReview, task.Column)
}
