package types

import "sort"

// Dataset is the canonical resolved collection of projects and tasks.
// ProjectTasks is authoritative; AllTasks is the flattened view derived
// from it in project order.
type Dataset struct {
	Projects     []Project         `json:"projects"`
	AllTasks     []Task            `json:"allTasks"`
	ProjectTasks map[string][]Task `json:"projectTasks"`
}

// NewDataset builds a dataset from projects and per-project tasks and
// derives AllTasks.
func NewDataset(projects []Project, projectTasks map[string][]Task) Dataset {
	ds := Dataset{Projects: projects, ProjectTasks: projectTasks}
	if ds.ProjectTasks == nil {
		ds.ProjectTasks = map[string][]Task{}
	}
	ds.RebuildAll()
	return ds
}

// Clone returns a deep copy safe to hand to readers.
func (d Dataset) Clone() Dataset {
	out := Dataset{
		Projects:     make([]Project, len(d.Projects)),
		AllTasks:     make([]Task, len(d.AllTasks)),
		ProjectTasks: make(map[string][]Task, len(d.ProjectTasks)),
	}
	for i, p := range d.Projects {
		p.Developers = append([]string(nil), p.Developers...)
		out.Projects[i] = p
	}
	for i, t := range d.AllTasks {
		out.AllTasks[i] = cloneTask(t)
	}
	for id, tasks := range d.ProjectTasks {
		cp := make([]Task, len(tasks))
		for i, t := range tasks {
			cp[i] = cloneTask(t)
		}
		out.ProjectTasks[id] = cp
	}
	return out
}

func cloneTask(t Task) Task {
	if t.SourceLocation != nil {
		loc := *t.SourceLocation
		t.SourceLocation = &loc
	}
	return t
}

// Project returns the project with the given id.
func (d Dataset) Project(id string) (Project, bool) {
	for _, p := range d.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}

// Tasks returns the tasks of one project.
func (d Dataset) Tasks(projectID string) []Task {
	return d.ProjectTasks[projectID]
}

// Task returns one task of a project.
func (d Dataset) Task(projectID, taskID string) (Task, bool) {
	for _, t := range d.ProjectTasks[projectID] {
		if t.ID == taskID {
			return t, true
		}
	}
	return Task{}, false
}

// ReplaceProjectTasks swaps the task list of one project and rebuilds
// the flattened view.
func (d *Dataset) ReplaceProjectTasks(projectID string, tasks []Task) {
	if d.ProjectTasks == nil {
		d.ProjectTasks = map[string][]Task{}
	}
	d.ProjectTasks[projectID] = tasks
	d.RebuildAll()
}

// UpsertProject replaces the project with the same id or appends it.
func (d *Dataset) UpsertProject(p Project) {
	for i := range d.Projects {
		if d.Projects[i].ID == p.ID {
			d.Projects[i] = p
			return
		}
	}
	d.Projects = append(d.Projects, p)
}

// RemoveProject drops a project and its tasks.
func (d *Dataset) RemoveProject(id string) bool {
	found := false
	kept := d.Projects[:0]
	for _, p := range d.Projects {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	d.Projects = kept
	delete(d.ProjectTasks, id)
	d.RebuildAll()
	return found
}

// UpsertTask replaces the task with the same id inside its project or
// appends it.
func (d *Dataset) UpsertTask(t Task) {
	tasks := d.ProjectTasks[t.ProjectID]
	replaced := false
	for i := range tasks {
		if tasks[i].ID == t.ID {
			tasks[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		tasks = append(tasks, t)
	}
	d.ReplaceProjectTasks(t.ProjectID, tasks)
}

// RemoveTask drops one task and reports whether it existed.
func (d *Dataset) RemoveTask(projectID, taskID string) bool {
	tasks := d.ProjectTasks[projectID]
	for i := range tasks {
		if tasks[i].ID == taskID {
			kept := append(append([]Task(nil), tasks[:i]...), tasks[i+1:]...)
			d.ReplaceProjectTasks(projectID, kept)
			return true
		}
	}
	return false
}

// RebuildAll regenerates AllTasks from ProjectTasks. Projects are visited
// in list order; task lists of unknown projects follow in id order.
func (d *Dataset) RebuildAll() {
	all := make([]Task, 0, len(d.AllTasks))
	seen := make(map[string]bool, len(d.Projects))
	for _, p := range d.Projects {
		seen[p.ID] = true
		all = append(all, d.ProjectTasks[p.ID]...)
	}
	var rest []string
	for id := range d.ProjectTasks {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		all = append(all, d.ProjectTasks[id]...)
	}
	d.AllTasks = all
}

// TotalTasks counts tasks across every project.
func (d Dataset) TotalTasks() int {
	n := 0
	for _, tasks := range d.ProjectTasks {
		n += len(tasks)
	}
	return n
}
