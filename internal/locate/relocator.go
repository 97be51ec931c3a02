package locate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/record"
	"github.com/mesh-intelligence/fira/internal/scan"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// Relocator writes encoded records and moves them when a task changes
// stage or owner. The new record is always written before the old one is
// removed, so a failure leaves the task present, possibly twice, never lost.
type Relocator struct {
	scanner *scan.Scanner
	locator *Locator
	codec   record.Codec
	logger  *zap.Logger
	author  string
	now     func() time.Time
}

// RelocatorOption configures a Relocator.
type RelocatorOption func(*Relocator)

// WithAuthor sets the change-log author.
func WithAuthor(author string) RelocatorOption {
	return func(r *Relocator) { r.author = author }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) RelocatorOption {
	return func(r *Relocator) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RelocatorOption {
	return func(r *Relocator) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRelocator creates a relocator that shares the locator's index.
func NewRelocator(scanner *scan.Scanner, locator *Locator, opts ...RelocatorOption) *Relocator {
	r := &Relocator{
		scanner: scanner,
		locator: locator,
		codec:   scanner.Codec(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Locator returns the locator used for prior-location lookups.
func (r *Relocator) Locator() *Locator { return r.locator }

// Create writes a new record for task. It refuses to overwrite an existing
// record with the same id.
func (r *Relocator) Create(ctx context.Context, projectDir string, task types.Task) (types.Task, error) {
	if err := types.ValidateID(task.ID); err != nil {
		return types.Task{}, err
	}
	col, err := types.NormalizeStage(task.Column)
	if err != nil {
		return types.Task{}, err
	}
	task.Column = col
	if task.Column == "" {
		task.Column = types.StageBacklog
	}
	prior, err := r.locator.Locate(ctx, projectDir, task.ID)
	if err != nil {
		return types.Task{}, err
	}
	if prior != nil && types.RecordID(prior.Name) == task.ID {
		return types.Task{}, fmt.Errorf("task %s: %w", task.ID, types.ErrAlreadyExists)
	}
	task.SourceLocation = nil
	encoded := r.codec.Encode(record.EncodeRequest{
		Task:     task,
		NewStage: task.Column,
		Author:   r.author,
		Now:      r.now(),
	})
	target := r.target(projectDir, task, nil)
	if exists, _ := afero.Exists(r.scanner.Fs(), r.fullPath(projectDir, target)); exists {
		return types.Task{}, fmt.Errorf("task %s: %w", task.ID, types.ErrAlreadyExists)
	}
	return r.write(ctx, projectDir, task, nil, target, encoded)
}

// Save re-encodes task against its current record and moves the record
// when the stage or owner changed. A task with no record is ErrNotFound and
// a column outside the canonical stages is ErrInvalidStage.
func (r *Relocator) Save(ctx context.Context, projectDir string, task types.Task) (types.Task, error) {
	col, err := types.NormalizeStage(task.Column)
	if err != nil {
		return types.Task{}, err
	}
	task.Column = col
	prior, err := r.priorLocation(ctx, projectDir, task)
	if err != nil {
		return types.Task{}, err
	}
	if prior == nil {
		return types.Task{}, fmt.Errorf("task %s: %w", task.ID, types.ErrNotFound)
	}
	raw, err := afero.ReadFile(r.scanner.Fs(), r.fullPath(projectDir, *prior))
	if err != nil {
		return types.Task{}, fmt.Errorf("reading prior record: %w", err)
	}
	if task.Column == "" {
		task.Column = prior.Stage
	}
	encoded := r.codec.Encode(record.EncodeRequest{
		Task:          task,
		PriorMetadata: record.ParseMetadata(string(raw)),
		PriorStage:    prior.Stage,
		PriorOwner:    prior.Owner,
		NewStage:      task.Column,
		PriorRaw:      string(raw),
		Author:        r.author,
		Now:           r.now(),
	})
	return r.Relocate(ctx, projectDir, task, prior, encoded)
}

// Relocate writes encoded into the task's target location, creating stage
// and owner directories as needed, then removes the prior record when its
// path differs. Removal failures are logged and do not fail the call.
func (r *Relocator) Relocate(ctx context.Context, projectDir string, task types.Task, prior *types.Location, encoded string) (types.Task, error) {
	if task.Column != "" && !task.Column.Valid() {
		return types.Task{}, fmt.Errorf("stage %q: %w", task.Column, types.ErrInvalidStage)
	}
	return r.write(ctx, projectDir, task, prior, r.target(projectDir, task, prior), encoded)
}

// Delete removes the record of taskID. A missing record is success.
func (r *Relocator) Delete(ctx context.Context, projectDir, taskID string) error {
	loc, err := r.locator.Locate(ctx, projectDir, taskID)
	if err != nil {
		return err
	}
	if loc == nil {
		return nil
	}
	if err := r.scanner.Fs().Remove(r.fullPath(projectDir, *loc)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing task %s: %w", taskID, err)
	}
	r.locator.record(projectDir, taskID, nil)
	return nil
}

func (r *Relocator) priorLocation(ctx context.Context, projectDir string, task types.Task) (*types.Location, error) {
	if loc := task.SourceLocation; loc != nil && loc.Name != "" {
		if ok, _ := afero.Exists(r.scanner.Fs(), r.fullPath(projectDir, *loc)); ok {
			cp := *loc
			return &cp, nil
		}
	}
	return r.locator.Locate(ctx, projectDir, task.ID)
}

func (r *Relocator) target(projectDir string, task types.Task, prior *types.Location) types.Location {
	stage := task.Column
	if stage == "" {
		stage = types.StageBacklog
	}
	loc := types.Location{Stage: stage, Owner: task.Owner(), Name: task.ID + types.RecordExt}
	if prior != nil && prior.Name != "" {
		loc.Name = prior.Name
	}
	dir := r.scanner.StageDirName(projectDir, stage)
	if prior != nil && prior.Stage == stage {
		dir = prior.StageDir()
		if !stage.SupportsOwners() {
			loc.Owner = prior.Owner
		}
	}
	if dir != string(stage) {
		loc.Dir = dir
	}
	return loc
}

func (r *Relocator) fullPath(projectDir string, loc types.Location) string {
	return filepath.Join(projectDir, filepath.FromSlash(loc.Path()))
}

func (r *Relocator) write(ctx context.Context, projectDir string, task types.Task, prior *types.Location, target types.Location, encoded string) (types.Task, error) {
	if err := ctx.Err(); err != nil {
		return types.Task{}, err
	}
	fs := r.scanner.Fs()
	path := r.fullPath(projectDir, target)
	if err := writeAtomic(fs, path, []byte(encoded)); err != nil {
		return types.Task{}, fmt.Errorf("writing task %s: %w", task.ID, err)
	}

	if prior != nil && prior.Path() != target.Path() {
		old := r.fullPath(projectDir, *prior)
		if err := fs.Remove(old); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove prior record after move",
				zap.String("task", task.ID), zap.String("path", old), zap.Error(err))
		}
	}
	r.locator.record(projectDir, task.ID, &target)

	written := r.codec.Decode(encoded, record.Source{
		ProjectID: task.ProjectID,
		Stage:     target.Stage,
		Dir:       target.Dir,
		Owner:     target.Owner,
		Name:      target.Name,
	})
	if written.ProjectID == "" {
		written.ProjectID = task.ProjectID
	}
	return written, nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := afero.TempFile(fs, dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
