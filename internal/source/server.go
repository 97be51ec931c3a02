package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/fira/internal/remote"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// RemoteAPI is the subset of the API client the engine uses.
// *remote.Client implements it.
type RemoteAPI interface {
	Status(ctx context.Context) (*remote.Status, error)
	Projects(ctx context.Context) ([]types.Project, error)
	ProjectTasks(ctx context.Context, projectID string) ([]types.Task, error)
	CreateProject(ctx context.Context, in remote.ProjectInput) (*types.Project, error)
	UpdateProject(ctx context.Context, projectID string, patch types.ProjectPatch) error
	DeleteProject(ctx context.Context, projectID string) error
	CreateTask(ctx context.Context, projectID string, task types.Task) (*types.Task, error)
	UpdateTask(ctx context.Context, projectID, taskID string, task types.Task) (*types.Task, error)
	DeleteTask(ctx context.Context, projectID, taskID string) error
	CreateDirectory(ctx context.Context, projectID string, stage types.Stage, owner string) error
	SaveCacheFile(ctx context.Context, snap types.Snapshot) error
	GetCacheFile(ctx context.Context) ([]byte, error)
}

// fetchLimit bounds concurrent per-project task fetches.
const fetchLimit = 4

// ServerStore reads and writes through the remote API.
type ServerStore struct {
	api    RemoteAPI
	logger *zap.Logger
}

// NewServerStore wraps api.
func NewServerStore(api RemoteAPI, logger *zap.Logger) *ServerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerStore{api: api, logger: logger}
}

// Mode returns server.
func (s *ServerStore) Mode() types.Mode { return types.ModeServer }

// Load fetches the project list, then each project's tasks with bounded
// concurrency. A project whose tasks cannot be fetched keeps an empty
// task list.
func (s *ServerStore) Load(ctx context.Context) (types.Dataset, error) {
	projects, err := s.api.Projects(ctx)
	if err != nil {
		return types.Dataset{}, err
	}

	var mu sync.Mutex
	projectTasks := make(map[string][]types.Task, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for _, p := range projects {
		id := p.ID
		g.Go(func() error {
			tasks, err := s.api.ProjectTasks(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("fetching project tasks failed", zap.String("project", id), zap.Error(err))
				tasks = nil
			}
			for i := range tasks {
				tasks[i].ProjectID = id
			}
			mu.Lock()
			projectTasks[id] = tasks
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.Dataset{}, err
	}
	return types.NewDataset(projects, projectTasks), nil
}

// CreateProject creates a project on the server.
func (s *ServerStore) CreateProject(ctx context.Context, in ProjectInput) (Change, error) {
	if err := types.ValidateID(in.ID); err != nil {
		return Change{}, err
	}
	p, err := s.api.CreateProject(ctx, remote.ProjectInput{ID: in.ID, Name: in.Name, Description: in.Description})
	if err != nil {
		return Change{}, err
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return Change{Kind: ChangeProjectUpserted, ProjectID: p.ID, Project: p}, nil
}

// UpdateProject patches a project on the server.
func (s *ServerStore) UpdateProject(ctx context.Context, id string, patch types.ProjectPatch) (Change, error) {
	if err := s.api.UpdateProject(ctx, id, patch); err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeProjectPatched, ProjectID: id, Patch: patch}, nil
}

// DeleteProject deletes a project. A project the server does not know is
// treated as deleted.
func (s *ServerStore) DeleteProject(ctx context.Context, id string) (Change, error) {
	if err := s.api.DeleteProject(ctx, id); err != nil && !errors.Is(err, types.ErrNotFound) {
		return Change{}, err
	}
	return Change{Kind: ChangeProjectRemoved, ProjectID: id}, nil
}

// CreateTask creates a task record on the server.
func (s *ServerStore) CreateTask(ctx context.Context, task types.Task) (Change, error) {
	if err := types.ValidateID(task.ID); err != nil {
		return Change{}, err
	}
	task = normalizeTask(task)
	created, err := s.api.CreateTask(ctx, task.ProjectID, task)
	if err != nil {
		return Change{}, err
	}
	return taskChange(created, task.ProjectID), nil
}

// UpdateTask replaces a task record on the server.
func (s *ServerStore) UpdateTask(ctx context.Context, task types.Task) (Change, error) {
	task = normalizeTask(task)
	updated, err := s.api.UpdateTask(ctx, task.ProjectID, task.ID, task)
	if err != nil {
		return Change{}, err
	}
	return taskChange(updated, task.ProjectID), nil
}

// DeleteTask deletes a task record. A task the server does not know is
// treated as deleted.
func (s *ServerStore) DeleteTask(ctx context.Context, projectID, taskID string) (Change, error) {
	if err := s.api.DeleteTask(ctx, projectID, taskID); err != nil && !errors.Is(err, types.ErrNotFound) {
		return Change{}, err
	}
	return Change{Kind: ChangeTaskRemoved, ProjectID: projectID, TaskID: taskID}, nil
}

// AddDeveloper creates an owner directory on the server.
func (s *ServerStore) AddDeveloper(ctx context.Context, projectID string, stage types.Stage, owner string) (Change, error) {
	if err := validateOwner(stage, owner); err != nil {
		return Change{}, err
	}
	if err := s.api.CreateDirectory(ctx, projectID, stage, owner); err != nil {
		return Change{}, fmt.Errorf("creating owner directory: %w", err)
	}
	return Change{Kind: ChangeDeveloperAdded, ProjectID: projectID, Developer: owner}, nil
}

func taskChange(t *types.Task, projectID string) Change {
	cp := *t
	if cp.ProjectID == "" {
		cp.ProjectID = projectID
	}
	return Change{Kind: ChangeTaskUpserted, ProjectID: cp.ProjectID, TaskID: cp.ID, Task: &cp}
}

// HybridStore serves server data while retaining the identity of a granted
// directory, so a later refresh can return to it.
type HybridStore struct {
	*ServerStore
	directory string
}

// NewHybridStore wraps a server store with a directory identity.
func NewHybridStore(server *ServerStore, directory string) *HybridStore {
	return &HybridStore{ServerStore: server, directory: directory}
}

// Mode returns hybrid.
func (h *HybridStore) Mode() types.Mode { return types.ModeHybrid }

// Directory returns the retained directory path.
func (h *HybridStore) Directory() string { return h.directory }
