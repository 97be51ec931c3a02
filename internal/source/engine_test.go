package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/fira/internal/metrics"
	"github.com/mesh-intelligence/fira/internal/snapshot"
	"github.com/mesh-intelligence/fira/pkg/types"
)

func TestResolveWithNothingFallsBackToStatic(t *testing.T) {
	eng, err := New(Deps{}, Options{})
	require.NoError(t, err)

	mode, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeStatic, mode)
	assert.NotEmpty(t, eng.Projects())
	assert.False(t, eng.FromCache())
}

func TestResolveUsesFreshCacheWhenServerUnreachable(t *testing.T) {
	e := newEnv(t)
	e.withRemote().statusErr = types.ErrUnavailable

	ds := types.NewDataset(
		[]types.Project{{ID: "cached", Name: "cached"}},
		map[string][]types.Task{"cached": {{ID: "C-1", Title: "From cache", Column: types.StageDone}}},
	)
	_, err := e.deps.Snapshots.Save(context.Background(), ds)
	require.NoError(t, err)
	e.clock.Advance(time.Hour)

	eng := e.engine(t)
	mode, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeCache, mode)
	assert.True(t, eng.FromCache())
	require.Len(t, eng.Tasks("cached"), 1)
	p, ok := eng.Project("cached")
	require.True(t, ok)
	assert.Equal(t, 1, p.Stats.Done.Count, "stats recomputed from tasks")

	events := e.drain()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventDataLoaded, last.Type)
	assert.Equal(t, types.ModeCache, last.Mode)
	assert.True(t, last.FromCache)
}

func TestResolveSkipsStaleCache(t *testing.T) {
	e := newEnv(t)
	r := e.withRemote()
	r.statusErr = types.ErrUnavailable

	ds := types.NewDataset([]types.Project{{ID: "old"}}, nil)
	_, err := e.deps.Snapshots.Save(context.Background(), ds)
	require.NoError(t, err)
	e.clock.Advance(25 * time.Hour)

	mode, err := e.engine(t).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeStatic, mode, "stale cache is not used")
}

func TestResolvePrefersServerOverCache(t *testing.T) {
	e := newEnv(t)
	r := e.withRemote()
	r.addProject("live", types.Task{ID: "L-1", Column: types.StageReview, Developer: "amy"})

	_, err := e.deps.Snapshots.Save(context.Background(), types.NewDataset([]types.Project{{ID: "cached"}}, nil))
	require.NoError(t, err)
	e.deps.Snapshots.SetRemote(r)

	eng := e.engine(t)
	mode, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeServer, mode)
	_, ok := eng.Project("live")
	assert.True(t, ok)
	_, ok = eng.Project("cached")
	assert.False(t, ok)
	tasks := eng.Tasks("live")
	require.Len(t, tasks, 1)
	assert.Equal(t, "live", tasks[0].ProjectID)
	p, _ := eng.Project("live")
	assert.Equal(t, "(1 devs)", p.Stats.InProgress.Detail)
	assert.Equal(t, 1, r.count("SaveCacheFile"), "server load refreshes the snapshot")
}

func TestResolveGrantedDirectory(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))

	eng := e.engine(t)
	mode, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeDirectoryRefreshed, mode)
	assert.Equal(t, "/work", eng.Directory())

	p, ok := eng.Project("demo")
	require.True(t, ok)
	assert.Equal(t, "Demo board", p.Description)
	assert.Equal(t, 1, p.Stats.Backlog.Count)
	assert.Equal(t, 1, p.Stats.InProgress.Count)
	assert.Equal(t, []string{"dev-bob"}, p.Developers)

	task, ok := eng.Task("demo", "TSK-101")
	require.True(t, ok)
	assert.Equal(t, "dev-bob", task.Assignee)
	require.NotNil(t, task.SourceLocation)
	assert.Equal(t, "dev-bob", task.SourceLocation.Owner)
}

func TestResolvePromptsOnce(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	calls := 0
	e.deps.Prompter = PrompterFunc(func(ctx context.Context) (string, error) {
		calls++
		return "/work", nil
	})
	e.opts.Prompt = true

	eng := e.engine(t)
	mode, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeDirectoryLive, mode)

	granted, ok := NewHandleStore(e.backend).Granted()
	require.True(t, ok)
	assert.Equal(t, "/work", granted)

	mode, err = eng.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeDirectoryRefreshed, mode, "refresh reuses the grant")
	assert.Equal(t, 1, calls)
}

func TestResolvePromptAbortedFallsThrough(t *testing.T) {
	e := newEnv(t)
	e.deps.Prompter = PrompterFunc(func(ctx context.Context) (string, error) {
		return "", types.ErrNoDirectory
	})
	e.opts.Prompt = true

	mode, err := e.engine(t).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeStatic, mode)
}

func TestResolveHybridWhenGrantedDirectoryUnusable(t *testing.T) {
	e := newEnv(t)
	e.withRemote().addProject("live")
	require.NoError(t, NewHandleStore(e.backend).Grant("/missing"))

	eng := e.engine(t)
	mode, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeHybrid, mode)
	assert.Equal(t, "/missing", eng.Directory())
}

func TestResolvePreferServerKeepsDirectoryIdentity(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	e.withRemote().addProject("live")
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))
	e.opts.PreferServer = true

	mode, err := e.engine(t).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeHybrid, mode)
}

func TestResolveRestoresSession(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))

	first := e.engine(t)
	_, err := first.Resolve(context.Background())
	require.NoError(t, err)

	e.clock.Advance(10 * time.Minute)
	e.write(t, "/work/projects/demo/backlog/TSK-102.md", "# Not scanned\n")

	second := e.engine(t)
	mode, err := second.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeSessionRestored, mode)
	_, ok := second.Task("demo", "TSK-102")
	assert.False(t, ok, "restored verbatim without scanning")

	_, isDir := second.Store().(*DirectoryStore)
	assert.True(t, isDir, "writes go back to the originating directory")
	_, err = second.CreateTask(context.Background(), types.Task{ID: "TSK-103", ProjectID: "demo", Title: "Restored write"})
	require.NoError(t, err)
	assert.True(t, e.exists("/work/projects/demo/backlog/TSK-103.md"))
}

func TestResolveIgnoresExpiredSession(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))

	_, err := e.engine(t).Resolve(context.Background())
	require.NoError(t, err)
	e.clock.Advance(31 * time.Minute)

	mode, err := e.engine(t).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeDirectoryRefreshed, mode)
}

func TestResolveCanceledContext(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Resolve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.Mode(""), eng.Mode())
}

func TestDeletedProjectStaysHidden(t *testing.T) {
	e := newEnv(t)
	r := e.withRemote()
	r.keepOnDelete = true
	r.addProject("keep")
	r.addProject("gone", types.Task{ID: "G-1"})

	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)

	res, err := eng.DeleteProject(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, res.Partial)
	_, ok := eng.Project("gone")
	assert.False(t, ok)

	_, err = eng.Refresh(context.Background())
	require.NoError(t, err)
	_, ok = eng.Project("gone")
	assert.False(t, ok, "server still lists it, tombstone hides it")
	assert.Empty(t, eng.Tasks("gone"))

	again := e.engine(t)
	_, err = again.Refresh(context.Background())
	require.NoError(t, err)
	_, ok = again.Project("gone")
	assert.False(t, ok, "tombstones are durable")
	_, ok = again.Project("keep")
	assert.True(t, ok)
}

func TestDeleteProjectWhenServerDownIsPartial(t *testing.T) {
	e := newEnv(t)
	r := e.withRemote()
	r.addProject("gone")

	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	r.statusErr = types.ErrUnavailable

	res, err := eng.DeleteProject(context.Background(), "gone")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.NotEmpty(t, res.Reason)
	assert.True(t, eng.Tombstones().Has("gone"))
}

func TestCreateProjectClearsTombstone(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	require.NoError(t, eng.Tombstones().Add("again"))

	_, err = eng.CreateProject(context.Background(), ProjectInput{ID: "again"})
	require.NoError(t, err)
	assert.False(t, eng.Tombstones().Has("again"))
}

func TestCreateProjectReusesHiddenStaticID(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t)
	mode, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.ModeStatic, mode)
	_, ok := eng.Project("onboarding")
	require.True(t, ok)

	_, err = eng.DeleteProject(context.Background(), "onboarding")
	require.NoError(t, err)
	_, err = eng.Refresh(context.Background())
	require.NoError(t, err)
	_, ok = eng.Project("onboarding")
	require.False(t, ok, "tombstone hides the static project")

	res, err := eng.CreateProject(context.Background(), ProjectInput{ID: "onboarding", Description: "Fresh start"})
	require.NoError(t, err)
	require.NotNil(t, res.Project)
	assert.Equal(t, "Fresh start", res.Project.Description)
	assert.Empty(t, eng.Tasks("onboarding"), "old tasks stay gone")
	assert.False(t, eng.Tombstones().Has("onboarding"))
}

func TestTaskLifecycleInDirectory(t *testing.T) {
	e := newEnv(t)
	e.write(t, "/work/projects/demo/README.md", "# demo\n\nDemo\n")
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	res, err := eng.CreateTask(ctx, types.Task{ID: "TSK-001", ProjectID: "demo", Column: types.StageBacklog, Title: "Fix login"})
	require.NoError(t, err)
	require.False(t, res.Partial)
	const created = "/work/projects/demo/backlog/TSK-001.md"
	raw := e.read(t, created)
	assert.Contains(t, raw, "status: backlog")
	assert.Contains(t, raw, "- Task created in backlog")
	assert.Equal(t, 1, res.Project.Stats.Backlog.Count)

	res, err = eng.MoveTask(ctx, "demo", "TSK-001", types.StageProgress, "dev-amy")
	require.NoError(t, err)
	const moved = "/work/projects/demo/progress/dev-amy/TSK-001.md"
	assert.False(t, e.exists(created), "original removed")
	raw = e.read(t, moved)
	assert.Contains(t, raw, "Status changed: backlog → progress")
	assert.Contains(t, raw, "Developer assigned: dev-amy")
	assert.Contains(t, raw, "- Task created in backlog", "earlier changelog kept")
	assert.Equal(t, "dev-amy", res.Task.Assignee)

	store := eng.Store().(*DirectoryStore)
	for _, task := range eng.Tasks("demo") {
		loc, err := store.Locate(ctx, "demo", task.ID)
		require.NoError(t, err)
		require.NotNil(t, loc)
		assert.Equal(t, task.Column, loc.Stage, task.ID)
	}
	p, _ := eng.Project("demo")
	assert.Equal(t, 0, p.Stats.Backlog.Count)
	assert.Equal(t, 1, p.Stats.InProgress.Count)

	_, err = eng.DeleteTask(ctx, "demo", "TSK-001")
	require.NoError(t, err)
	assert.False(t, e.exists(moved))
	_, err = eng.DeleteTask(ctx, "demo", "TSK-001")
	assert.NoError(t, err, "deleting a missing task succeeds")
}

func TestUpdateMissingTaskIsNotFound(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)

	_, err = eng.UpdateTask(context.Background(), types.Task{ID: "NOPE-1", ProjectID: "demo", Title: "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestTaskMutationsNeverTouchSimilarIDs(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	ctx := context.Background()
	const ten = "/work/projects/demo/backlog/TSK-100.md"
	before := e.read(t, ten)

	_, err = eng.UpdateTask(ctx, types.Task{ID: "TSK-10", ProjectID: "demo", Title: "Other", Column: types.StageBacklog, Content: "other\n"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, before, e.read(t, ten))

	_, err = eng.DeleteTask(ctx, "demo", "TSK-10")
	require.NoError(t, err)
	assert.True(t, e.exists(ten))
	_, ok := eng.Task("demo", "TSK-100")
	assert.True(t, ok)
}

func TestTaskColumnIsCanonicalized(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	task, ok := eng.Task("demo", "TSK-100")
	require.True(t, ok)
	task.Column = "archive"
	_, err = eng.UpdateTask(ctx, task)
	assert.ErrorIs(t, err, types.ErrInvalidStage)
	assert.True(t, e.exists("/work/projects/demo/backlog/TSK-100.md"))
	assert.False(t, e.exists("/work/projects/demo/archive/TSK-100.md"))

	_, err = eng.CreateTask(ctx, types.Task{ID: "TSK-200", ProjectID: "demo", Title: "New", Column: "later"})
	assert.ErrorIs(t, err, types.ErrInvalidStage)

	res, err := eng.MoveTask(ctx, "demo", "TSK-100", "Review", "")
	require.NoError(t, err)
	assert.Equal(t, types.StageReview, res.Task.Column)
	assert.True(t, e.exists("/work/projects/demo/review/TSK-100.md"))
	assert.False(t, e.exists("/work/projects/demo/Review/TSK-100.md"))

	_, err = eng.MoveTask(ctx, "demo", "TSK-100", "", "")
	assert.ErrorIs(t, err, types.ErrInvalidStage)
}

func TestDirectoryWriteFailureIsPartial(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	e.deps.Opener = func(path string) (afero.Fs, error) {
		return afero.NewReadOnlyFs(afero.NewBasePathFs(e.fs, path)), nil
	}
	eng := e.engine(t)
	_, err := eng.UseDirectory(context.Background(), "/work")
	require.NoError(t, err)

	task, ok := eng.Task("demo", "TSK-100")
	require.True(t, ok)
	task.Title = "Rewritten"
	res, err := eng.UpdateTask(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.NotEmpty(t, res.Reason)

	got, _ := eng.Task("demo", "TSK-100")
	assert.Equal(t, "Rewritten", got.Title, "applied in memory")
	assert.Contains(t, e.read(t, "/work/projects/demo/backlog/TSK-100.md"), "title: Write docs")
}

func TestUseDirectoryDeniedKeepsData(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)
	before := len(eng.Projects())

	mode, err := eng.UseDirectory(context.Background(), "/does-not-exist")
	require.Error(t, err)
	assert.Equal(t, types.ModeNoDirectory, mode)
	assert.Equal(t, types.ModeNoDirectory, eng.Mode())
	assert.Len(t, eng.Projects(), before)

	_, err = eng.CreateProject(context.Background(), ProjectInput{ID: "scratch"})
	require.NoError(t, err, "in-memory writes still work")
}

func TestUseServerUnavailableKeepsMode(t *testing.T) {
	e := newEnv(t)
	e.withRemote().statusErr = types.ErrUnavailable
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)

	mode, err := eng.UseServer(context.Background())
	assert.ErrorIs(t, err, types.ErrUnavailable)
	assert.Equal(t, types.ModeStatic, mode)
}

func TestServerMutationUpdatesLocalSnapshot(t *testing.T) {
	e := newEnv(t)
	r := e.withRemote()
	r.addProject("live", types.Task{ID: "L-1", Title: "Old", Column: types.StageBacklog})
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)

	task, _ := eng.Task("live", "L-1")
	task.Title = "New"
	_, err = eng.UpdateTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, r.count("UpdateTask"))

	stored, err := e.backend.LoadSnapshot()
	require.NoError(t, err)
	snap, err := e.deps.Snapshots.Decode(stored.Body)
	require.NoError(t, err)
	require.Len(t, snap.ProjectTasks["live"], 1)
	assert.Equal(t, "New", snap.ProjectTasks["live"][0].Title)

	_, err = eng.UpdateTask(context.Background(), types.Task{ID: "L-404", ProjectID: "live"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAddDeveloper(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)

	res, err := eng.AddDeveloper(context.Background(), "demo", types.StageProgress, "dev-cy")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-bob", "dev-cy"}, res.Project.Developers)
	assert.Equal(t, "(2 devs)", res.Project.Stats.InProgress.Detail)
	assert.True(t, e.exists("/work/projects/demo/progress/dev-cy/README.md"))

	_, err = eng.AddDeveloper(context.Background(), "demo", types.StageBacklog, "dev-cy")
	assert.ErrorIs(t, err, types.ErrInvalidStage)
}

func TestRefreshIsDeduplicated(t *testing.T) {
	e := newEnv(t)
	r := e.withRemote()
	r.addProject("live")
	r.block = make(chan struct{})
	r.entered = make(chan struct{})
	entered := r.entered
	m := metrics.New(prometheus.NewRegistry())
	e.deps.Metrics = m
	eng := e.engine(t)

	var wg sync.WaitGroup
	modes := make([]types.Mode, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		modes[0], _ = eng.Refresh(context.Background())
	}()
	<-entered
	assert.True(t, eng.Resolving())

	_, err := eng.TryRefresh(context.Background())
	assert.ErrorIs(t, err, types.ErrResolutionInFlight)

	wg.Add(1)
	go func() {
		defer wg.Done()
		modes[1], _ = eng.Refresh(context.Background())
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.RefreshesDeduped) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(r.block)
	wg.Wait()

	assert.Equal(t, 1, r.count("Projects"), "one resolution ran")
	assert.Equal(t, []types.Mode{types.ModeServer, types.ModeServer}, modes)
	assert.False(t, eng.Resolving())
}

func TestRefreshSurvivesFirstCallerCancel(t *testing.T) {
	e := newEnv(t)
	r := e.withRemote()
	r.addProject("live")
	r.block = make(chan struct{})
	r.entered = make(chan struct{})
	entered := r.entered
	m := metrics.New(prometheus.NewRegistry())
	e.deps.Metrics = m
	eng := e.engine(t)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := eng.Refresh(first)
		firstErr <- err
	}()
	<-entered

	joined := make(chan types.Mode, 1)
	go func() {
		mode, err := eng.Refresh(context.Background())
		assert.NoError(t, err)
		joined <- mode
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.RefreshesDeduped) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	close(r.block)
	select {
	case mode := <-joined:
		assert.Equal(t, types.ModeServer, mode)
	case <-time.After(2 * time.Second):
		t.Fatal("joined caller never finished")
	}
	assert.Equal(t, 1, r.count("Projects"))
}

func TestResetModeForgetsGrant(t *testing.T) {
	e := newEnv(t)
	e.seedDirectory(t)
	require.NoError(t, NewHandleStore(e.backend).Grant("/work"))
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)

	mode, err := eng.ResetMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeCache, mode, "the directory load left a fresh snapshot")
	_, ok := NewHandleStore(e.backend).Granted()
	assert.False(t, ok)
}

func TestMutationBeforeResolve(t *testing.T) {
	eng, err := New(Deps{}, Options{})
	require.NoError(t, err)

	_, err = eng.CreateProject(context.Background(), ProjectInput{ID: "x"})
	assert.True(t, errors.Is(err, types.ErrUnavailable))
}

func TestSaveSnapshotTargets(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(t)
	_, err := eng.Resolve(context.Background())
	require.NoError(t, err)

	target, err := eng.SaveSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.TargetLocal, target)
}
