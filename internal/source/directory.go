package source

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/locate"
	"github.com/mesh-intelligence/fira/internal/record"
	"github.com/mesh-intelligence/fira/internal/scan"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// fsRoot is the root of a granted filesystem; Opener roots it at the
// granted path.
const fsRoot = "/"

// DirectoryOptions configures a DirectoryStore.
type DirectoryOptions struct {
	Codec  record.Codec
	Author string
	Now    func() time.Time
	Logger *zap.Logger
}

// DirectoryStore reads and writes task records in a granted directory.
type DirectoryStore struct {
	path      string
	mode      types.Mode
	fs        afero.Fs
	scanner   *scan.Scanner
	locator   *locate.Locator
	relocator *locate.Relocator
	logger    *zap.Logger
}

// NewDirectoryStore creates a store over fs, which is rooted at the
// granted path. mode is directory-live or directory-refreshed.
func NewDirectoryStore(path string, fs afero.Fs, mode types.Mode, opts DirectoryOptions) *DirectoryStore {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := opts.Codec
	if codec == nil {
		codec = record.NewTolerant(record.WithLogger(logger), record.WithAuthor(opts.Author))
	}
	scanner := scan.New(fs, codec, logger)
	locator := locate.NewLocator(scanner)
	relocOpts := []locate.RelocatorOption{locate.WithLogger(logger)}
	if opts.Author != "" {
		relocOpts = append(relocOpts, locate.WithAuthor(opts.Author))
	}
	if opts.Now != nil {
		relocOpts = append(relocOpts, locate.WithClock(opts.Now))
	}
	return &DirectoryStore{
		path:      path,
		mode:      mode,
		fs:        fs,
		scanner:   scanner,
		locator:   locator,
		relocator: locate.NewRelocator(scanner, locator, relocOpts...),
		logger:    logger.With(zap.String("directory", path)),
	}
}

// Mode returns directory-live or directory-refreshed.
func (d *DirectoryStore) Mode() types.Mode { return d.mode }

// Path returns the granted host path.
func (d *DirectoryStore) Path() string { return d.path }

// Fs returns the filesystem rooted at the granted path.
func (d *DirectoryStore) Fs() afero.Fs { return d.fs }

// Locate finds the current location of a task record.
func (d *DirectoryStore) Locate(ctx context.Context, projectID, taskID string) (*types.Location, error) {
	return d.locator.Locate(ctx, d.projectDir(projectID), taskID)
}

// Load scans the directory and rebuilds the locator index.
func (d *DirectoryStore) Load(ctx context.Context) (types.Dataset, error) {
	ds, err := d.scanner.ScanAll(ctx, fsRoot)
	if err != nil {
		return types.Dataset{}, err
	}
	for _, p := range ds.Projects {
		d.locator.SetIndex(d.projectDir(p.ID), locate.BuildIndex(ds.Tasks(p.ID)))
	}
	d.logger.Debug("directory scanned", zap.Int("projects", len(ds.Projects)), zap.Int("tasks", len(ds.AllTasks)))
	return ds, nil
}

// CreateProject lays out a new project directory.
func (d *DirectoryStore) CreateProject(ctx context.Context, in ProjectInput) (Change, error) {
	if err := d.scanner.CreateProjectLayout(fsRoot, in.ID, in.Description); err != nil {
		return Change{}, err
	}
	p, _, err := d.scanner.ScanProject(ctx, fsRoot, in.ID)
	if err != nil {
		return Change{}, err
	}
	if in.Name != "" {
		p.Name = in.Name
	}
	return Change{Kind: ChangeProjectUpserted, ProjectID: p.ID, Project: &p}, nil
}

// UpdateProject rewrites the README when the description changes. The
// name is not stored on disk.
func (d *DirectoryStore) UpdateProject(ctx context.Context, id string, patch types.ProjectPatch) (Change, error) {
	dir := d.projectDir(id)
	if ok, _ := afero.DirExists(d.fs, dir); !ok {
		return Change{}, fmt.Errorf("project %s: %w", id, types.ErrNotFound)
	}
	if patch.Description != nil {
		if err := d.scanner.WriteProjectReadme(fsRoot, id, *patch.Description); err != nil {
			return Change{}, err
		}
	}
	return Change{Kind: ChangeProjectPatched, ProjectID: id, Patch: patch}, nil
}

// DeleteProject removes the project directory.
func (d *DirectoryStore) DeleteProject(ctx context.Context, id string) (Change, error) {
	if err := types.ValidateID(id); err != nil {
		return Change{}, err
	}
	d.locator.Forget(d.projectDir(id))
	if err := d.scanner.RemoveProject(fsRoot, id); err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeProjectRemoved, ProjectID: id}, nil
}

// CreateTask writes a new record into the task's stage.
func (d *DirectoryStore) CreateTask(ctx context.Context, task types.Task) (Change, error) {
	dir, err := d.existingProject(task.ProjectID)
	if err != nil {
		return Change{}, err
	}
	written, err := d.relocator.Create(ctx, dir, task)
	if err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeTaskUpserted, ProjectID: written.ProjectID, TaskID: written.ID, Task: &written}, nil
}

// UpdateTask rewrites a record and moves it when its stage or owner
// changed.
func (d *DirectoryStore) UpdateTask(ctx context.Context, task types.Task) (Change, error) {
	dir, err := d.existingProject(task.ProjectID)
	if err != nil {
		return Change{}, err
	}
	written, err := d.relocator.Save(ctx, dir, task)
	if err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeTaskUpserted, ProjectID: written.ProjectID, TaskID: written.ID, Task: &written}, nil
}

// DeleteTask removes a record. A missing record is not an error.
func (d *DirectoryStore) DeleteTask(ctx context.Context, projectID, taskID string) (Change, error) {
	if err := d.relocator.Delete(ctx, d.projectDir(projectID), taskID); err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeTaskRemoved, ProjectID: projectID, TaskID: taskID}, nil
}

// AddDeveloper creates an owner directory inside stage.
func (d *DirectoryStore) AddDeveloper(ctx context.Context, projectID string, stage types.Stage, owner string) (Change, error) {
	if err := validateOwner(stage, owner); err != nil {
		return Change{}, err
	}
	if _, err := d.scanner.CreateOwnerDir(fsRoot, projectID, stage, owner); err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeDeveloperAdded, ProjectID: projectID, Developer: owner}, nil
}

func (d *DirectoryStore) projectDir(projectID string) string {
	return d.scanner.ProjectDir(fsRoot, projectID)
}

func (d *DirectoryStore) existingProject(projectID string) (string, error) {
	if err := types.ValidateID(projectID); err != nil {
		return "", err
	}
	dir := d.projectDir(projectID)
	if ok, _ := afero.DirExists(d.fs, dir); !ok {
		return "", fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	return dir, nil
}
