package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/mesh-intelligence/fira/internal/record"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// MemoryStore keeps a dataset in memory. It backs the cache, static,
// session-restored and no-directory modes, and serves as the fallback when
// a directory write fails.
type MemoryStore struct {
	mu   sync.Mutex
	mode types.Mode
	data types.Dataset
}

// NewMemoryStore returns a store over a private copy of ds.
func NewMemoryStore(mode types.Mode, ds types.Dataset) *MemoryStore {
	return &MemoryStore{mode: mode, data: ds.Clone()}
}

// NewCacheStore returns the store for a restored snapshot.
func NewCacheStore(snap types.Snapshot) *MemoryStore {
	return NewMemoryStore(types.ModeCache, snap.Dataset())
}

// Mode returns the store's mode.
func (m *MemoryStore) Mode() types.Mode { return m.mode }

// Load returns a copy of the dataset.
func (m *MemoryStore) Load(ctx context.Context) (types.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone(), nil
}

// CreateProject adds a project. An existing id is ErrAlreadyExists.
func (m *MemoryStore) CreateProject(ctx context.Context, in ProjectInput) (Change, error) {
	if err := types.ValidateID(in.ID); err != nil {
		return Change{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.Project(in.ID); ok {
		return Change{}, fmt.Errorf("project %s: %w", in.ID, types.ErrAlreadyExists)
	}
	p := newProject(in)
	m.data.UpsertProject(p)
	m.data.ReplaceProjectTasks(p.ID, nil)
	return Change{Kind: ChangeProjectUpserted, ProjectID: p.ID, Project: &p}, nil
}

// UpdateProject patches a project. A missing project is ErrNotFound.
func (m *MemoryStore) UpdateProject(ctx context.Context, id string, patch types.ProjectPatch) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data.Project(id)
	if !ok {
		return Change{}, fmt.Errorf("project %s: %w", id, types.ErrNotFound)
	}
	m.data.UpsertProject(patch.Apply(p))
	return Change{Kind: ChangeProjectPatched, ProjectID: id, Patch: patch}, nil
}

// hide drops tombstoned projects from the store's copy.
func (m *MemoryStore) hide(ts *TombstoneSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts.Filter(&m.data)
}

// DeleteProject removes a project. A missing project is not an error.
func (m *MemoryStore) DeleteProject(ctx context.Context, id string) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.RemoveProject(id)
	return Change{Kind: ChangeProjectRemoved, ProjectID: id}, nil
}

// CreateTask adds a task. An existing id in the project is ErrAlreadyExists.
func (m *MemoryStore) CreateTask(ctx context.Context, task types.Task) (Change, error) {
	if err := types.ValidateID(task.ID); err != nil {
		return Change{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.Task(task.ProjectID, task.ID); ok {
		return Change{}, fmt.Errorf("task %s: %w", task.ID, types.ErrAlreadyExists)
	}
	task = normalizeTask(task)
	m.data.UpsertTask(task)
	return Change{Kind: ChangeTaskUpserted, ProjectID: task.ProjectID, TaskID: task.ID, Task: &task}, nil
}

// UpdateTask replaces a task. A missing task is ErrNotFound.
func (m *MemoryStore) UpdateTask(ctx context.Context, task types.Task) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, ok := m.data.Task(task.ProjectID, task.ID)
	if !ok {
		return Change{}, fmt.Errorf("task %s: %w", task.ID, types.ErrNotFound)
	}
	if task.Column == "" {
		task.Column = prior.Column
	}
	task = normalizeTask(task)
	m.data.UpsertTask(task)
	return Change{Kind: ChangeTaskUpserted, ProjectID: task.ProjectID, TaskID: task.ID, Task: &task}, nil
}

// DeleteTask removes a task. A missing task is not an error.
func (m *MemoryStore) DeleteTask(ctx context.Context, projectID, taskID string) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.RemoveTask(projectID, taskID)
	return Change{Kind: ChangeTaskRemoved, ProjectID: projectID, TaskID: taskID}, nil
}

// AddDeveloper adds owner to the project roster.
func (m *MemoryStore) AddDeveloper(ctx context.Context, projectID string, stage types.Stage, owner string) (Change, error) {
	if err := validateOwner(stage, owner); err != nil {
		return Change{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data.Project(projectID)
	if !ok {
		return Change{}, fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	p.Developers = addName(p.Developers, owner)
	m.data.UpsertProject(p)
	return Change{Kind: ChangeDeveloperAdded, ProjectID: projectID, Developer: owner}, nil
}

func newProject(in ProjectInput) types.Project {
	name := in.Name
	if name == "" {
		name = in.ID
	}
	desc := in.Description
	if desc == "" {
		desc = "Project " + in.ID
	}
	return types.Project{ID: in.ID, Name: name, Description: desc}
}

// normalizeTask fills defaults and keeps developer consistent with the
// stage, as a decoded record would be.
func normalizeTask(t types.Task) types.Task {
	if t.Column == "" {
		t.Column = types.StageBacklog
	}
	if p, ok := types.NormalizePriority(t.Priority); ok {
		t.Priority = p
	} else {
		t.Priority = types.PriorityLow
	}
	if owner := t.Owner(); owner != "" {
		t.Assignee = owner
	} else if t.Developer != "" {
		t.Assignee = t.Developer
	} else if t.Assignee == "" {
		t.Assignee = types.Unassigned
	}
	if t.Title == "" {
		t.Title = t.ID
	}
	t.TimeEstimate = record.NormalizeDuration(t.TimeEstimate)
	t.TimeSpent = record.NormalizeDuration(t.TimeSpent)
	t.SourceLocation = nil
	return t
}

func validateOwner(stage types.Stage, owner string) error {
	if !stage.SupportsOwners() {
		return fmt.Errorf("stage %q has no owner folders: %w", stage, types.ErrInvalidStage)
	}
	return types.ValidateID(owner)
}

func addName(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(append([]string(nil), names...), name)
}
