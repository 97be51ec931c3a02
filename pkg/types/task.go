package types

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// Priority levels accepted in task records.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Unassigned is the assignee shown when a task has no owner.
const Unassigned = "Unassigned"

// RecordExt is the file extension of task records.
const RecordExt = ".md"

// TaskIDPrefix starts generated task ids.
const TaskIDPrefix = "TSK-"

// NewTaskID returns a fresh task id such as TSK-1A2B3C4D.
func NewTaskID() string {
	return TaskIDPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// NormalizePriority lower-cases p and reports whether it is a known level.
func NormalizePriority(p string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(p))
	switch n {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return n, true
	}
	return "", false
}

// Location identifies where a task record physically lives inside its
// project directory: stage directory, optional owner sub-directory, file name.
type Location struct {
	Stage Stage  `json:"stage"`
	Dir   string `json:"dir,omitempty"` // actual stage directory name when it differs from Stage (inprogress)
	Owner string `json:"owner,omitempty"`
	Name  string `json:"name"`
}

// StageDir returns the stage directory name the record lives in.
func (l Location) StageDir() string {
	if l.Dir != "" {
		return l.Dir
	}
	return string(l.Stage)
}

// Path returns the slash-separated path of the record relative to the
// project directory.
func (l Location) Path() string {
	if l.Owner != "" {
		return path.Join(l.StageDir(), l.Owner, l.Name)
	}
	return path.Join(l.StageDir(), l.Name)
}

// RecordID derives a task id from a record file name.
func RecordID(name string) string {
	base := path.Base(name)
	if strings.EqualFold(path.Ext(base), RecordExt) {
		return base[:len(base)-len(RecordExt)]
	}
	return base
}

// Task is one record decoded into the normalized model.
// Column always matches the stage directory holding the record.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Column         Stage     `json:"column"`
	TimeEstimate   string    `json:"timeEstimate"`
	TimeSpent      string    `json:"timeSpent"`
	Assignee       string    `json:"assignee"`
	Developer      string    `json:"developer,omitempty"`
	Priority       string    `json:"priority"`
	Content        string    `json:"content"`
	FullContent    string    `json:"fullContent,omitempty"`
	ProjectID      string    `json:"projectId"`
	Created        string    `json:"created"`
	SourceLocation *Location `json:"sourceLocation,omitempty"`
}

// Owner returns the owner sub-container the task belongs in, or "" when the
// stage is flat or no developer is set.
func (t Task) Owner() string {
	if !t.Column.SupportsOwners() {
		return ""
	}
	return t.Developer
}

// RecordName returns the file name of the task record, preserving the
// known source name when present.
func (t Task) RecordName() string {
	if t.SourceLocation != nil && t.SourceLocation.Name != "" {
		return t.SourceLocation.Name
	}
	return t.ID + RecordExt
}
