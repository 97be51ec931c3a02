package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/metrics"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// Mutation names, used in logs, metrics and events.
const (
	OpCreateProject = "createProject"
	OpUpdateProject = "updateProject"
	OpDeleteProject = "deleteProject"
	OpCreateTask    = "createTask"
	OpUpdateTask    = "updateTask"
	OpDeleteTask    = "deleteTask"
	OpAddDeveloper  = "addDeveloper"
)

// CreateProject creates a project in the active store. A tombstone left by
// an earlier deletion of the same id is cleared.
func (e *Engine) CreateProject(ctx context.Context, in ProjectInput) (Result, error) {
	if e.tombstones.Has(in.ID) {
		e.mu.RLock()
		ms, ok := e.store.(*MemoryStore)
		e.mu.RUnlock()
		if ok {
			ms.hide(e.tombstones)
		}
	}
	res, err := e.mutate(ctx, OpCreateProject, false, func(s Store) (Change, error) {
		return s.CreateProject(ctx, in)
	})
	if err == nil && e.tombstones.Has(in.ID) {
		if err := e.tombstones.Clear(in.ID); err != nil {
			e.logger.Warn("clearing tombstone failed", zap.String("project", in.ID), zap.Error(err))
		}
	}
	return res, err
}

// UpdateProject patches a project's name or description.
func (e *Engine) UpdateProject(ctx context.Context, id string, patch types.ProjectPatch) (Result, error) {
	return e.mutate(ctx, OpUpdateProject, false, func(s Store) (Change, error) {
		return s.UpdateProject(ctx, id, patch)
	})
}

// DeleteProject deletes a project and tombstones its id in every mode, so
// it stays hidden even if the store still holds it. When the store cannot
// delete it the removal still happens in memory and the result is partial.
func (e *Engine) DeleteProject(ctx context.Context, id string) (Result, error) {
	if err := types.ValidateID(id); err != nil {
		return Result{}, err
	}
	if err := e.tombstones.Add(id); err != nil {
		e.logger.Warn("persisting tombstone failed", zap.String("project", id), zap.Error(err))
	}
	return e.mutate(ctx, OpDeleteProject, true, func(s Store) (Change, error) {
		return s.DeleteProject(ctx, id)
	})
}

// CreateTask creates a task record. An empty column means backlog and an
// empty id is generated.
func (e *Engine) CreateTask(ctx context.Context, task types.Task) (Result, error) {
	if task.ID == "" {
		task.ID = types.NewTaskID()
	}
	col, err := types.NormalizeStage(task.Column)
	if err != nil {
		return Result{}, err
	}
	if col == "" {
		col = types.StageBacklog
	}
	task.Column = col
	return e.mutate(ctx, OpCreateTask, false, func(s Store) (Change, error) {
		return s.CreateTask(ctx, task)
	})
}

// UpdateTask rewrites a task. A task the store does not hold is
// types.ErrNotFound.
func (e *Engine) UpdateTask(ctx context.Context, task types.Task) (Result, error) {
	col, err := types.NormalizeStage(task.Column)
	if err != nil {
		return Result{}, err
	}
	task.Column = col
	if cur, ok := e.Task(task.ProjectID, task.ID); ok && task.SourceLocation == nil {
		task.SourceLocation = cur.SourceLocation
	}
	return e.mutate(ctx, OpUpdateTask, false, func(s Store) (Change, error) {
		return s.UpdateTask(ctx, task)
	})
}

// MoveTask changes a task's stage and owner. An empty owner keeps the
// current developer when the new stage supports owners.
func (e *Engine) MoveTask(ctx context.Context, projectID, taskID string, stage types.Stage, owner string) (Result, error) {
	stage, err := types.NormalizeStage(stage)
	if err != nil {
		return Result{}, err
	}
	if stage == "" {
		return Result{}, fmt.Errorf("stage is required: %w", types.ErrInvalidStage)
	}
	task, ok := e.Task(projectID, taskID)
	if !ok {
		return Result{}, fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	task.Column = stage
	if owner != "" {
		task.Developer = owner
	}
	return e.UpdateTask(ctx, task)
}

// DeleteTask deletes a task record. A missing task is success.
func (e *Engine) DeleteTask(ctx context.Context, projectID, taskID string) (Result, error) {
	return e.mutate(ctx, OpDeleteTask, false, func(s Store) (Change, error) {
		return s.DeleteTask(ctx, projectID, taskID)
	})
}

// AddDeveloper creates an owner folder for a developer in stage.
func (e *Engine) AddDeveloper(ctx context.Context, projectID string, stage types.Stage, owner string) (Result, error) {
	return e.mutate(ctx, OpAddDeveloper, false, func(s Store) (Change, error) {
		return s.AddDeveloper(ctx, projectID, stage, owner)
	})
}

// mutate runs op against the active store and applies the resulting
// change. A directory write that fails for a reason other than the request
// itself falls back to an in-memory update reported as partial; so does
// any failing store when memoryOnFailure is set.
func (e *Engine) mutate(ctx context.Context, op string, memoryOnFailure bool, fn func(Store) (Change, error)) (Result, error) {
	e.mu.RLock()
	store, mode := e.store, e.mode
	e.mu.RUnlock()
	if store == nil {
		return Result{}, fmt.Errorf("%s: no active source: %w", op, types.ErrUnavailable)
	}
	log := e.logger.With(zap.String("op", op), zap.String("mode", string(mode)))

	res := Result{Mode: mode}
	ch, err := fn(store)
	if err != nil {
		_, isDir := store.(*DirectoryStore)
		if isDomainError(err) || !(isDir || memoryOnFailure) {
			log.Debug("mutation failed", zap.Error(err))
			e.deps.Metrics.RecordMutation(op, string(mode), metrics.OutcomeError)
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
		storeErr := err
		log.Warn("store write failed, applying in memory", zap.Error(storeErr))
		e.mu.RLock()
		fallback := NewMemoryStore(mode, e.data)
		e.mu.RUnlock()
		ch, err = fn(fallback)
		if err != nil {
			e.deps.Metrics.RecordMutation(op, string(mode), metrics.OutcomeError)
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
		res.Partial = true
		res.Reason = storeErr.Error()
	}

	e.apply(ch, &res)
	outcome := metrics.OutcomeOK
	if res.Partial {
		outcome = metrics.OutcomePartial
	}
	e.deps.Metrics.RecordMutation(op, string(mode), outcome)
	log.Debug("mutation applied", zap.String("project", ch.ProjectID), zap.String("task", ch.TaskID), zap.Bool("partial", res.Partial))

	if writesToServer(store) && e.deps.Snapshots != nil {
		if err := e.deps.Snapshots.SaveLocal(e.Dataset()); err != nil {
			log.Debug("updating local snapshot failed", zap.Error(err))
		}
	}
	e.saveSession()

	ev := Event{Mode: mode, FromCache: e.FromCache(), ProjectID: ch.ProjectID, TaskID: ch.TaskID, Action: op, Partial: res.Partial}
	if ch.TaskID != "" {
		ev.Type = EventTaskChanged
	} else {
		ev.Type = EventProjectChanged
	}
	e.publish(ev)
	return res, nil
}

func writesToServer(s Store) bool {
	switch s.(type) {
	case *ServerStore, *HybridStore:
		return true
	}
	return false
}

// apply folds a store change into the canonical dataset and fills res.
func (e *Engine) apply(ch Change, res *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ch.Kind {
	case ChangeProjectUpserted:
		p := *ch.Project
		e.data.UpsertProject(p)
		if _, ok := e.data.ProjectTasks[p.ID]; !ok {
			e.data.ReplaceProjectTasks(p.ID, nil)
		}
	case ChangeProjectPatched:
		if p, ok := e.data.Project(ch.ProjectID); ok {
			e.data.UpsertProject(ch.Patch.Apply(p))
		}
	case ChangeProjectRemoved:
		e.data.RemoveProject(ch.ProjectID)
	case ChangeTaskUpserted:
		t := *ch.Task
		e.data.UpsertTask(t)
		res.Task = &t
	case ChangeTaskRemoved:
		e.data.RemoveTask(ch.ProjectID, ch.TaskID)
	case ChangeDeveloperAdded:
		if p, ok := e.data.Project(ch.ProjectID); ok {
			p.Developers = addName(p.Developers, ch.Developer)
			e.data.UpsertProject(p)
		}
	}

	for i := range e.data.Projects {
		p := &e.data.Projects[i]
		if p.ID != ch.ProjectID {
			continue
		}
		p.Stats = statsFor(*p, e.data.ProjectTasks[p.ID])
		cp := *p
		res.Project = &cp
	}
}
