package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/fira/internal/sqlite"
	"github.com/mesh-intelligence/fira/pkg/types"
)

var fixedNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeRemote struct {
	saveErr error
	getErr  error
	saved   []types.Snapshot
	body    []byte
}

func (f *fakeRemote) SaveCacheFile(_ context.Context, snap types.Snapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeRemote) GetCacheFile(context.Context) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.body, nil
}

type fakeLocal struct {
	saveErr error
	body    []byte
}

func (f *fakeLocal) SaveSnapshot(body []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.body = body
	return nil
}

func (f *fakeLocal) LoadSnapshot() (*sqlite.StoredSnapshot, error) {
	if f.body == nil {
		return nil, types.ErrNotFound
	}
	return &sqlite.StoredSnapshot{Body: f.body}, nil
}

func dataset() types.Dataset {
	return types.NewDataset(
		[]types.Project{{ID: "demo", Name: "demo"}},
		map[string][]types.Task{"demo": {{ID: "TSK-001", ProjectID: "demo", Column: types.StageBacklog}}},
	)
}

func newManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	opts.Now = func() time.Time { return fixedNow }
	m, err := New(opts)
	require.NoError(t, err)
	return m
}

func TestBuildStampsMetadata(t *testing.T) {
	snap := Build(dataset(), fixedNow)
	assert.Equal(t, fixedNow, snap.Timestamp)
	assert.Equal(t, types.SnapshotMetadata{Version: "1.0", TotalProjects: 1, TotalTasks: 1}, snap.Metadata)
	assert.Len(t, snap.ProjectTasks["demo"], 1)
}

func TestSaveFallbackOrder(t *testing.T) {
	down := errors.New("connection refused")

	t.Run("server first", func(t *testing.T) {
		remote, local := &fakeRemote{}, &fakeLocal{}
		target, err := newManager(t, Options{Remote: remote, Local: local}).Save(context.Background(), dataset())
		require.NoError(t, err)
		assert.Equal(t, TargetServer, target)
		assert.Len(t, remote.saved, 1)
		assert.Nil(t, local.body)
	})

	t.Run("local when server fails", func(t *testing.T) {
		local := &fakeLocal{}
		target, err := newManager(t, Options{Remote: &fakeRemote{saveErr: down}, Local: local}).Save(context.Background(), dataset())
		require.NoError(t, err)
		assert.Equal(t, TargetLocal, target)
		assert.NotEmpty(t, local.body)
	})

	t.Run("export as last resort", func(t *testing.T) {
		dir := t.TempDir()
		m := newManager(t, Options{Remote: &fakeRemote{saveErr: down}, Local: &fakeLocal{saveErr: down}, ExportDir: dir})
		target, err := m.Save(context.Background(), dataset())
		require.NoError(t, err)
		assert.Equal(t, TargetExport, target)
		data, err := os.ReadFile(filepath.Join(dir, "fira-cache-2026-06-01.json"))
		require.NoError(t, err)
		_, err = m.Decode(data)
		assert.NoError(t, err)
	})

	t.Run("nothing available", func(t *testing.T) {
		_, err := newManager(t, Options{Local: &fakeLocal{saveErr: down}}).Save(context.Background(), dataset())
		assert.ErrorIs(t, err, types.ErrUnavailable)
	})
}

func TestLoadPrefersServerAndRejectsInvalid(t *testing.T) {
	body, err := Encode(Build(dataset(), fixedNow))
	require.NoError(t, err)
	ctx := context.Background()

	snap, target := newManager(t, Options{Remote: &fakeRemote{body: body}, Local: &fakeLocal{}}).Load(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, TargetServer, target)

	snap, target = newManager(t, Options{Remote: &fakeRemote{body: []byte(`{"projects":[]}`)}, Local: &fakeLocal{body: body}}).Load(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, TargetLocal, target, "invalid server document falls through to local")

	snap, target = newManager(t, Options{Local: &fakeLocal{body: []byte(`{"timestamp":"yesterday","projects":[],"allTasks":[],"projectTasks":{}}`)}}).Load(ctx)
	assert.Nil(t, snap)
	assert.Equal(t, TargetNone, target)
}

func TestDecodeRejectsMissingKeys(t *testing.T) {
	m := newManager(t, Options{})
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing projectTasks", `{"timestamp":"2026-01-01T00:00:00Z","projects":[],"allTasks":[]}`},
		{"projects not array", `{"timestamp":"2026-01-01T00:00:00Z","projects":{},"allTasks":[],"projectTasks":{}}`},
		{"project without id", `{"timestamp":"2026-01-01T00:00:00Z","projects":[{"name":"x"}],"allTasks":[],"projectTasks":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Decode([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestIsStale(t *testing.T) {
	m := newManager(t, Options{})
	assert.True(t, m.IsStale(types.Snapshot{Timestamp: fixedNow.Add(-25 * time.Hour)}))
	assert.False(t, m.IsStale(types.Snapshot{Timestamp: fixedNow.Add(-23 * time.Hour)}))
	assert.True(t, IsStaleAt(types.Snapshot{Timestamp: fixedNow.Add(-2 * time.Hour)}, fixedNow, time.Hour))
}

func TestLoadFreshSkipsStale(t *testing.T) {
	body, err := Encode(Build(dataset(), fixedNow.Add(-25*time.Hour)))
	require.NoError(t, err)
	snap, target := newManager(t, Options{Local: &fakeLocal{body: body}}).LoadFresh(context.Background())
	assert.Nil(t, snap)
	assert.Equal(t, TargetNone, target)
}

func TestSaveToSQLiteStore(t *testing.T) {
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	defer b.Detach()

	m := newManager(t, Options{Local: b})
	target, err := m.Save(context.Background(), dataset())
	require.NoError(t, err)
	assert.Equal(t, TargetLocal, target)

	snap, target := m.Load(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, TargetLocal, target)
	assert.Equal(t, "TSK-001", snap.AllTasks[0].ID)
}
