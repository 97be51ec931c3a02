package source

import (
	"context"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// ChangeKind names the shape of a Change.
type ChangeKind string

// Change kinds.
const (
	ChangeNone            ChangeKind = ""
	ChangeProjectUpserted ChangeKind = "project-upserted"
	ChangeProjectPatched  ChangeKind = "project-patched"
	ChangeProjectRemoved  ChangeKind = "project-removed"
	ChangeTaskUpserted    ChangeKind = "task-upserted"
	ChangeTaskRemoved     ChangeKind = "task-removed"
	ChangeDeveloperAdded  ChangeKind = "developer-added"
)

// Change is the delta a store reports after a mutation. Stores never touch
// the engine's dataset; the engine applies the change itself.
type Change struct {
	Kind      ChangeKind
	ProjectID string
	TaskID    string
	Project   *types.Project
	Patch     types.ProjectPatch
	Task      *types.Task
	Developer string
}

// ProjectInput is the data needed to create a project.
type ProjectInput struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Store is one backing store. Each mode has exactly one implementation.
type Store interface {
	Mode() types.Mode
	Load(ctx context.Context) (types.Dataset, error)
	CreateProject(ctx context.Context, in ProjectInput) (Change, error)
	UpdateProject(ctx context.Context, id string, patch types.ProjectPatch) (Change, error)
	DeleteProject(ctx context.Context, id string) (Change, error)
	CreateTask(ctx context.Context, task types.Task) (Change, error)
	UpdateTask(ctx context.Context, task types.Task) (Change, error)
	DeleteTask(ctx context.Context, projectID, taskID string) (Change, error)
	AddDeveloper(ctx context.Context, projectID string, stage types.Stage, owner string) (Change, error)
}

// Result reports the outcome of a mutation that succeeded at least in
// memory. Partial is set when the backing store write failed and only the
// in-memory dataset changed.
type Result struct {
	Mode    types.Mode
	Partial bool
	Reason  string
	Project *types.Project
	Task    *types.Task
}
