package scan

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// DefaultOwner is the owner directory created in every owner-capable stage
// of a new project.
const DefaultOwner = "default-dev"

// CreateProjectLayout creates a project directory with a README and the
// standard stage directories. It refuses to touch an existing project.
func (s *Scanner) CreateProjectLayout(root, projectID, description string) error {
	if err := types.ValidateID(projectID); err != nil {
		return fmt.Errorf("creating project %q: %w", projectID, err)
	}
	dir := s.ProjectDir(root, projectID)
	if exists, _ := afero.Exists(s.fs, dir); exists {
		return fmt.Errorf("creating project %s: %w", projectID, types.ErrAlreadyExists)
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating project %s: %w", projectID, classify(err))
	}
	if description == "" {
		description = "Project " + projectID
	}
	if err := afero.WriteFile(s.fs, filepath.Join(dir, ReadmeName), readme(projectID, description), 0o644); err != nil {
		return fmt.Errorf("writing readme: %w", classify(err))
	}
	for _, stage := range types.Stages() {
		stageDir := filepath.Join(dir, string(stage))
		if err := s.fs.MkdirAll(stageDir, 0o755); err != nil {
			return fmt.Errorf("creating stage %s: %w", stage, classify(err))
		}
		if stage.SupportsOwners() {
			if err := s.fs.MkdirAll(filepath.Join(stageDir, DefaultOwner), 0o755); err != nil {
				return fmt.Errorf("creating owner dir in %s: %w", stage, classify(err))
			}
		}
	}
	return nil
}

// WriteProjectReadme rewrites the README of an existing project.
func (s *Scanner) WriteProjectReadme(root, projectID, description string) error {
	dir := s.ProjectDir(root, projectID)
	if ok, _ := afero.DirExists(s.fs, dir); !ok {
		return fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	if err := afero.WriteFile(s.fs, filepath.Join(dir, ReadmeName), readme(projectID, description), 0o644); err != nil {
		return fmt.Errorf("writing readme: %w", classify(err))
	}
	return nil
}

func readme(projectID, description string) []byte {
	return []byte(fmt.Sprintf("# %s\n\n%s\n", projectID, description))
}

// RemoveProject deletes a project directory tree. A missing project is not
// an error.
func (s *Scanner) RemoveProject(root, projectID string) error {
	if err := types.ValidateID(projectID); err != nil {
		return err
	}
	if err := s.fs.RemoveAll(s.ProjectDir(root, projectID)); err != nil {
		return fmt.Errorf("removing project %s: %w", projectID, classify(err))
	}
	return nil
}

// CreateOwnerDir creates an owner directory inside a stage with a README
// describing it. An existing directory is left as is.
func (s *Scanner) CreateOwnerDir(root, projectID string, stage types.Stage, owner string) (string, error) {
	if err := types.ValidateID(owner); err != nil {
		return "", fmt.Errorf("owner %q: %w", owner, err)
	}
	if !stage.SupportsOwners() {
		return "", fmt.Errorf("stage %s has no owner directories: %w", stage, types.ErrInvalidStage)
	}
	projectDir := s.ProjectDir(root, projectID)
	if ok, _ := afero.DirExists(s.fs, projectDir); !ok {
		return "", fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	stageDir := filepath.Join(projectDir, s.StageDirName(projectDir, stage))
	dir := filepath.Join(stageDir, owner)
	if ok, _ := afero.DirExists(s.fs, dir); ok {
		return dir, nil
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating owner dir %s: %w", owner, classify(err))
	}
	body := fmt.Sprintf("# %s\n\nTasks assigned to %s\n\n## In Progress\n\n*No tasks currently in progress*\n", owner, owner)
	if err := afero.WriteFile(s.fs, filepath.Join(dir, ReadmeName), []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing owner readme: %w", classify(err))
	}
	return dir, nil
}

// StageDirName returns the directory name a stage uses in a project,
// preferring an existing inprogress directory over progress.
func (s *Scanner) StageDirName(projectDir string, stage types.Stage) string {
	names := stage.DirNames()
	for _, n := range names {
		if ok, _ := afero.DirExists(s.fs, filepath.Join(projectDir, n)); ok {
			return n
		}
	}
	return names[0]
}
