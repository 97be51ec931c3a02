package types

// StageStat summarizes one stats bucket of a project.
type StageStat struct {
	Count      int    `json:"count"`
	Detail     string `json:"detail"`
	Hours      string `json:"hours,omitempty"`
	Developers string `json:"developers,omitempty"`
}

// ProjectStats holds the three derived buckets shown for a project.
// Stats are recomputed from task records and never edited by hand.
type ProjectStats struct {
	Backlog    StageStat `json:"backlog"`
	InProgress StageStat `json:"inProgress"`
	Done       StageStat `json:"done"`
}

// Total returns the number of tasks across all buckets.
func (s ProjectStats) Total() int {
	return s.Backlog.Count + s.InProgress.Count + s.Done.Count
}

// Project is one directory under the projects root. ID is the directory
// name and never changes after creation.
type Project struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Stats       ProjectStats `json:"stats"`
	Developers  []string     `json:"developers,omitempty"`
}

// ProjectPatch carries the mutable fields of a project update.
// Nil fields are left unchanged.
type ProjectPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Apply returns a copy of p with the patch applied.
func (pp ProjectPatch) Apply(p Project) Project {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	return p
}
