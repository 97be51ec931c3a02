package apiserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/remote"
	"github.com/mesh-intelligence/fira/internal/source"
	"github.com/mesh-intelligence/fira/pkg/types"
)

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, remote.Status{
		Status:      "ok",
		Message:     "Fira server is running",
		Version:     s.config.Version,
		ProjectsDir: s.root,
	})
}

// load scans the store. Callers hold s.mu.
func (s *Server) load(c echo.Context) (types.Dataset, error) {
	ds, err := s.store.Load(c.Request().Context())
	if err != nil {
		return types.Dataset{}, fail(err)
	}
	return ds, nil
}

func (s *Server) handleProjects(c echo.Context) error {
	s.mu.Lock()
	ds, err := s.load(c)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	projects := ds.Projects
	if projects == nil {
		projects = []types.Project{}
	}
	s.logger.Debug("served projects", zap.Int("count", len(projects)))
	return ok(c, envelope{"projects": projects})
}

func (s *Server) handleProjectTasks(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	ds, err := s.load(c)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if _, found := ds.Project(id); !found {
		return fail(fmt.Errorf("project %s: %w", id, types.ErrNotFound))
	}
	tasks := ds.Tasks(id)
	if tasks == nil {
		tasks = []types.Task{}
	}
	return ok(c, envelope{"tasks": tasks})
}

func (s *Server) handleTask(c echo.Context) error {
	id, taskID := c.Param("id"), c.Param("taskId")
	s.mu.Lock()
	ds, err := s.load(c)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	task, found := ds.Task(id, taskID)
	if !found {
		return fail(fmt.Errorf("task %s not found in project %s: %w", taskID, id, types.ErrNotFound))
	}
	return ok(c, envelope{"task": task})
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var in source.ProjectInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON in request body")
	}
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project id is required")
	}
	if in.Name == "" {
		in.Name = in.ID
	}

	s.mu.Lock()
	ch, err := s.store.CreateProject(c.Request().Context(), in)
	s.mu.Unlock()
	if err != nil {
		return fail(err)
	}
	s.changed(source.EventProjectChanged, source.OpCreateProject, in.ID, "")

	project := ch.Project
	if project == nil {
		project = &types.Project{ID: in.ID, Name: in.Name, Description: in.Description}
	}
	return ok(c, envelope{"message": "Project created", "project": project})
}

func (s *Server) handleUpdateProject(c echo.Context) error {
	id := c.Param("id")
	var patch types.ProjectPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON in request body")
	}
	if patch.Name == nil && patch.Description == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no request body")
	}

	s.mu.Lock()
	_, err := s.store.UpdateProject(c.Request().Context(), id, patch)
	s.mu.Unlock()
	if err != nil {
		return fail(err)
	}
	s.changed(source.EventProjectChanged, source.OpUpdateProject, id, "")
	return ok(c, envelope{"message": "Project updated successfully"})
}

func (s *Server) handleDeleteProject(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.load(c)
	if err != nil {
		return err
	}
	if _, found := ds.Project(id); !found {
		return fail(fmt.Errorf("project %s: %w", id, types.ErrNotFound))
	}
	if _, err := s.store.DeleteProject(c.Request().Context(), id); err != nil {
		return fail(err)
	}
	s.changed(source.EventProjectChanged, source.OpDeleteProject, id, "")
	return ok(c, envelope{"message": fmt.Sprintf("Project %s deleted", id)})
}

func (s *Server) handleCreateTask(c echo.Context) error {
	var task types.Task
	if err := c.Bind(&task); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON in request body")
	}
	task.ProjectID = c.Param("id")
	if task.ID == "" {
		task.ID = types.NewTaskID()
	}
	col, err := types.NormalizeStage(task.Column)
	if err != nil {
		return fail(err)
	}
	task.Column = col

	s.mu.Lock()
	ch, err := s.store.CreateTask(c.Request().Context(), task)
	s.mu.Unlock()
	if err != nil {
		return fail(err)
	}
	s.changed(source.EventTaskChanged, source.OpCreateTask, task.ProjectID, task.ID)
	return ok(c, envelope{"message": "Task created successfully", "task": ch.Task})
}

func (s *Server) handleUpdateTask(c echo.Context) error {
	var task types.Task
	if err := c.Bind(&task); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON in request body")
	}
	task.ProjectID = c.Param("id")
	task.ID = c.Param("taskId")
	task.SourceLocation = nil
	col, err := types.NormalizeStage(task.Column)
	if err != nil {
		return fail(err)
	}
	task.Column = col

	s.mu.Lock()
	ch, err := s.store.UpdateTask(c.Request().Context(), task)
	s.mu.Unlock()
	if err != nil {
		return fail(err)
	}
	s.changed(source.EventTaskChanged, source.OpUpdateTask, task.ProjectID, task.ID)
	return ok(c, envelope{"message": "Task updated successfully", "task": ch.Task})
}

func (s *Server) handleDeleteTask(c echo.Context) error {
	id, taskID := c.Param("id"), c.Param("taskId")
	s.mu.Lock()
	_, err := s.store.DeleteTask(c.Request().Context(), id, taskID)
	s.mu.Unlock()
	if err != nil {
		return fail(err)
	}
	s.changed(source.EventTaskChanged, source.OpDeleteTask, id, taskID)
	return ok(c, envelope{"message": "Task deleted successfully"})
}

func (s *Server) handleCreateDirectory(c echo.Context) error {
	var in remote.DirectoryInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON in request body")
	}
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ParentDir = strings.TrimSpace(in.ParentDir)
	in.DirName = strings.TrimSpace(in.DirName)
	if in.ProjectID == "" || in.ParentDir == "" || in.DirName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing required parameters: project_id, parent_dir, dir_name")
	}
	stage, valid := types.ParseStage(in.ParentDir)
	if !valid {
		return fail(fmt.Errorf("stage %q: %w", in.ParentDir, types.ErrInvalidStage))
	}

	s.mu.Lock()
	_, err := s.store.AddDeveloper(c.Request().Context(), in.ProjectID, stage, in.DirName)
	s.mu.Unlock()
	if err != nil {
		return fail(err)
	}
	s.changed(source.EventProjectChanged, source.OpAddDeveloper, in.ProjectID, "")
	rel := path.Join(in.ProjectID, in.ParentDir, in.DirName)
	return ok(c, envelope{"message": "Directory created: " + rel, "path": rel})
}

func (s *Server) handleSaveCache(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no cache data provided")
	}
	if s.snapshots != nil {
		if _, err := s.snapshots.Decode(body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if err := afero.WriteFile(s.cacheFs, CacheFileName, body, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	s.logger.Info("cache file saved", zap.Int("bytes", len(body)))
	return ok(c, envelope{"message": "Cache file saved successfully", "path": CacheFileName, "size": len(body)})
}

func (s *Server) handleCache(c echo.Context) error {
	body, err := afero.ReadFile(s.cacheFs, CacheFileName)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(fmt.Errorf("cache file: %w", types.ErrNotFound))
		}
		return fmt.Errorf("reading cache file: %w", err)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// changed publishes a change event for websocket subscribers.
func (s *Server) changed(typ source.EventType, action, projectID, taskID string) {
	s.bus.Publish(source.Event{
		Type:      typ,
		Mode:      s.store.Mode(),
		ProjectID: projectID,
		TaskID:    taskID,
		Action:    action,
	})
}
