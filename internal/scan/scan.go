// Package scan walks a projects directory tree and produces the normalized
// project and task model. Each project is a directory, each stage is a
// sub-directory, and owner sub-directories may nest one level inside any
// stage except backlog.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/record"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// ProjectsDirName is the conventional container of project directories.
const ProjectsDirName = "projects"

// ReadmeName is the project description file.
const ReadmeName = "README.md"

// denied lists directory names that are never projects.
var denied = map[string]bool{
	"node_modules": true,
	"images":       true,
	"assets":       true,
	"static":       true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	"css":          true,
	"js":           true,
	"fonts":        true,
}

// IsDenied reports whether a directory name is excluded from project discovery.
func IsDenied(name string) bool {
	return strings.HasPrefix(name, ".") || denied[strings.ToLower(name)]
}

// IsRecord reports whether a file name is a task record.
func IsRecord(name string) bool {
	return strings.EqualFold(filepath.Ext(name), types.RecordExt) &&
		!strings.EqualFold(name, ReadmeName) &&
		!strings.HasPrefix(name, ".")
}

// Scanner reads projects and tasks from an afero filesystem.
type Scanner struct {
	fs     afero.Fs
	codec  record.Codec
	logger *zap.Logger
}

// New creates a Scanner. A nil codec uses the tolerant codec.
func New(fs afero.Fs, codec record.Codec, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codec == nil {
		codec = record.NewTolerant(record.WithLogger(logger))
	}
	return &Scanner{fs: fs, codec: codec, logger: logger}
}

// Fs returns the filesystem the scanner reads.
func (s *Scanner) Fs() afero.Fs { return s.fs }

// Codec returns the record codec.
func (s *Scanner) Codec() record.Codec { return s.codec }

// ProjectsRoot returns root/projects when that directory exists, else root.
func (s *Scanner) ProjectsRoot(root string) string {
	candidate := filepath.Join(root, ProjectsDirName)
	if ok, _ := afero.DirExists(s.fs, candidate); ok {
		return candidate
	}
	return root
}

// ProjectDir returns the directory of one project under root.
func (s *Scanner) ProjectDir(root, projectID string) string {
	return filepath.Join(s.ProjectsRoot(root), projectID)
}

// Scan discovers every project under root with description, roster and
// stats. It fails only when root itself cannot be listed.
func (s *Scanner) Scan(ctx context.Context, root string) ([]types.Project, error) {
	ds, err := s.ScanAll(ctx, root)
	if err != nil {
		return nil, err
	}
	return ds.Projects, nil
}

// ScanAll discovers projects and decodes every task record under root.
func (s *Scanner) ScanAll(ctx context.Context, root string) (types.Dataset, error) {
	projectsRoot := s.ProjectsRoot(root)
	entries, err := afero.ReadDir(s.fs, projectsRoot)
	if err != nil {
		return types.Dataset{}, fmt.Errorf("listing projects in %s: %w", projectsRoot, classify(err))
	}

	var projects []types.Project
	projectTasks := map[string][]types.Task{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return types.Dataset{}, err
		}
		if !e.IsDir() || IsDenied(e.Name()) {
			continue
		}
		p, tasks, err := s.ScanProject(ctx, root, e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable project", zap.String("project", e.Name()), zap.Error(err))
			continue
		}
		projects = append(projects, p)
		projectTasks[p.ID] = tasks
	}
	return types.NewDataset(projects, projectTasks), nil
}

// ScanProject reads one project directory.
func (s *Scanner) ScanProject(ctx context.Context, root, projectID string) (types.Project, []types.Task, error) {
	dir := s.ProjectDir(root, projectID)
	if ok, err := afero.DirExists(s.fs, dir); err != nil || !ok {
		return types.Project{}, nil, fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	tasks, err := s.ScanTasks(ctx, root, projectID)
	if err != nil {
		return types.Project{}, nil, err
	}
	roster := s.Developers(dir)
	return types.Project{
		ID:          projectID,
		Name:        projectID,
		Description: s.Description(dir, projectID),
		Stats:       Stats(tasks, roster),
		Developers:  roster,
	}, tasks, nil
}

// Description returns the first non-heading, non-fence line of the project
// README, or a generated placeholder.
func (s *Scanner) Description(projectDir, projectID string) string {
	entries, err := afero.ReadDir(s.fs, projectDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(e.Name(), ReadmeName) {
				continue
			}
			data, err := afero.ReadFile(s.fs, filepath.Join(projectDir, e.Name()))
			if err != nil {
				break
			}
			if d := DescriptionFromReadme(string(data)); d != "" {
				return d
			}
			break
		}
	}
	return "Project " + projectID
}

// DescriptionFromReadme extracts the first line that is neither blank nor a
// heading, skipping fenced code.
func DescriptionFromReadme(text string) string {
	inFence := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "```") {
			inFence = !inFence
			continue
		}
		if inFence || l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		return l
	}
	return ""
}

// ScanTasks decodes every record of one project in stage order. Within a
// stage, direct records come before owner sub-directories; names are sorted.
// Unreadable records are logged and skipped.
func (s *Scanner) ScanTasks(ctx context.Context, root, projectID string) ([]types.Task, error) {
	dir := s.ProjectDir(root, projectID)
	var tasks []types.Task
	seen := map[string]bool{}
	err := s.WalkRecords(ctx, dir, func(loc types.Location, full string) error {
		src := record.Source{ProjectID: projectID, Stage: loc.Stage, Dir: loc.Dir, Owner: loc.Owner, Name: loc.Name}
		task, err := record.ReadRecord(s.fs, full, s.codec, src)
		if err != nil {
			s.logger.Warn("skipping unreadable record", zap.String("path", full), zap.Error(err))
			return nil
		}
		if seen[task.ID] {
			s.logger.Debug("duplicate task id, keeping first", zap.String("project", projectID), zap.String("task", task.ID))
			return nil
		}
		seen[task.ID] = true
		tasks = append(tasks, *task)
		return nil
	})
	return tasks, err
}

// WalkRecords visits every record of a project in the fixed stage order.
// Missing stages are skipped. The callback receives the record location
// and its full path.
func (s *Scanner) WalkRecords(ctx context.Context, projectDir string, fn func(types.Location, string) error) error {
	for _, stage := range types.Stages() {
		for _, dirName := range stage.DirNames() {
			if err := ctx.Err(); err != nil {
				return err
			}
			stageDir := filepath.Join(projectDir, dirName)
			entries, err := afero.ReadDir(s.fs, stageDir)
			if err != nil {
				continue
			}
			dirOverride := ""
			if dirName != string(stage) {
				dirOverride = dirName
			}
			var owners []string
			for _, e := range entries {
				if e.IsDir() {
					if !strings.HasPrefix(e.Name(), ".") {
						owners = append(owners, e.Name())
					}
					continue
				}
				if !IsRecord(e.Name()) {
					continue
				}
				loc := types.Location{Stage: stage, Dir: dirOverride, Name: e.Name()}
				if err := fn(loc, filepath.Join(stageDir, e.Name())); err != nil {
					return err
				}
			}
			for _, owner := range owners {
				ownerDir := filepath.Join(stageDir, owner)
				files, err := afero.ReadDir(s.fs, ownerDir)
				if err != nil {
					continue
				}
				for _, f := range files {
					if f.IsDir() || !IsRecord(f.Name()) {
						continue
					}
					loc := types.Location{Stage: stage, Dir: dirOverride, Owner: owner, Name: f.Name()}
					if err := fn(loc, filepath.Join(ownerDir, f.Name())); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// CountDevelopers returns the non-hidden sub-directory names of a stage
// directory. Files are never developers.
func (s *Scanner) CountDevelopers(stageDir string) []string {
	entries, err := afero.ReadDir(s.fs, stageDir)
	if err != nil {
		return nil
	}
	var devs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			devs = append(devs, e.Name())
		}
	}
	return devs
}

// Developers returns the union of owner directories across every stage
// that supports owners, sorted.
func (s *Scanner) Developers(projectDir string) []string {
	set := map[string]bool{}
	for _, stage := range types.Stages() {
		if !stage.SupportsOwners() {
			continue
		}
		for _, dirName := range stage.DirNames() {
			for _, d := range s.CountDevelopers(filepath.Join(projectDir, dirName)) {
				set[d] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func classify(err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %v", types.ErrNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", types.ErrPermissionDenied, err)
	default:
		return err
	}
}
