package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/fira/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))
		writeJSON(w, http.StatusOK, Status{Status: "ok", Version: "1.0.0", ProjectsDir: "/tmp/p"})
	}))
	defer srv.Close()

	st, err := New(srv.URL).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/p", st.ProjectsDir)
}

func TestStatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr).Status(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestStatusTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL).Status(ctx)
	assert.ErrorIs(t, err, types.ErrUnavailable)
}

func TestProjectsAndTasks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Envelope{Success: true, Projects: []types.Project{{ID: "demo", Name: "demo"}}})
	})
	mux.HandleFunc("/api/projects/demo/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Envelope{Success: true, Tasks: []types.Task{{ID: "TSK-001", Title: "Fix login"}}})
	})
	mux.HandleFunc("/api/projects/demo/tasks/TSK-404", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Envelope{Error: "Task TSK-404 not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := New(srv.URL + "/")
	ctx := context.Background()

	projects, err := c.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)

	tasks, err := c.ProjectTasks(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "demo", tasks[0].ProjectID, "project id filled from the request")

	_, err = c.Task(ctx, "demo", "TSK-404")
	assert.ErrorIs(t, err, types.ErrNotFound)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Task TSK-404 not found", apiErr.Message)
}

func TestMutationsSendBodies(t *testing.T) {
	var got []string
	var dir DirectoryInput
	var task types.Task
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/create-directory":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&dir))
		case "/api/projects/demo/tasks/TSK-001":
			if r.Method == http.MethodPut {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&task))
			}
		}
		writeJSON(w, http.StatusOK, Envelope{Success: true, Message: "ok"})
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	p, err := c.CreateProject(ctx, ProjectInput{ID: "demo", Description: "d"})
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name, "name defaults to the id")

	name := "Demo"
	require.NoError(t, c.UpdateProject(ctx, "demo", types.ProjectPatch{Name: &name}))
	_, err = c.UpdateTask(ctx, "demo", "TSK-001", types.Task{ID: "other", Column: "review"})
	require.NoError(t, err)
	assert.Equal(t, "TSK-001", task.ID, "url id wins")
	require.NoError(t, c.DeleteTask(ctx, "demo", "TSK-001"))
	require.NoError(t, c.CreateDirectory(ctx, "demo", types.StageProgress, "dev-amy"))
	assert.Equal(t, DirectoryInput{ProjectID: "demo", ParentDir: "progress", DirName: "dev-amy"}, dir)
	require.NoError(t, c.DeleteProject(ctx, "demo"))

	assert.Equal(t, []string{
		"POST /api/projects",
		"PUT /api/projects/demo",
		"PUT /api/projects/demo/tasks/TSK-001",
		"DELETE /api/projects/demo/tasks/TSK-001",
		"POST /api/create-directory",
		"DELETE /api/projects/demo",
	}, got)
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Envelope{Success: false, Error: "disk full"})
	}))
	defer srv.Close()

	err := New(srv.URL).DeleteProject(context.Background(), "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, errors.Is(err, types.ErrNotFound))
}

func TestConflictMapsToAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, Envelope{Error: "exists"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateTask(context.Background(), "demo", types.Task{ID: "TSK-001"})
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestCacheFile(t *testing.T) {
	var saved types.Snapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/save-cache":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
			writeJSON(w, http.StatusOK, Envelope{Success: true})
		case "/api/cache":
			_, _ = w.Write([]byte(`{"timestamp":"2026-01-01T00:00:00Z"}`))
		}
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	snap := types.Snapshot{Projects: []types.Project{{ID: "demo"}}}
	require.NoError(t, c.SaveCacheFile(ctx, snap))
	require.Len(t, saved.Projects, 1)

	raw, err := c.GetCacheFile(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"2026-01-01T00:00:00Z"}`, string(raw))
}
