package types

import "time"

// SnapshotVersion is written into every snapshot's metadata.
const SnapshotVersion = "1.0"

// SnapshotMetadata summarizes a snapshot.
type SnapshotMetadata struct {
	Version       string `json:"version"`
	TotalProjects int    `json:"totalProjects"`
	TotalTasks    int    `json:"totalTasks"`
}

// Snapshot is a timestamped, portable copy of a resolved dataset.
type Snapshot struct {
	Timestamp    time.Time         `json:"timestamp"`
	Projects     []Project         `json:"projects"`
	AllTasks     []Task            `json:"allTasks"`
	ProjectTasks map[string][]Task `json:"projectTasks"`
	Metadata     SnapshotMetadata  `json:"metadata"`
}

// Dataset returns the snapshot contents as a dataset.
func (s Snapshot) Dataset() Dataset {
	ds := Dataset{
		Projects:     s.Projects,
		ProjectTasks: s.ProjectTasks,
	}
	if ds.ProjectTasks == nil {
		ds.ProjectTasks = map[string][]Task{}
	}
	ds.RebuildAll()
	return ds.Clone()
}
