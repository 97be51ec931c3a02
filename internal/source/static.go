package source

import (
	_ "embed"
	"encoding/json"

	"github.com/mesh-intelligence/fira/internal/scan"
	"github.com/mesh-intelligence/fira/pkg/types"
)

//go:embed static.json
var staticJSON []byte

// DemoProjectID and DemoTaskID identify the pair synthesized when the
// static data is empty.
const (
	DemoProjectID = "demo"
	DemoTaskID    = "DEMO-1"
)

// StaticDataset parses bundled fallback data. Unparsable or empty data
// yields a synthesized single demo project with one demo task, so the
// dataset is never empty.
func StaticDataset(data []byte) types.Dataset {
	if data == nil {
		data = staticJSON
	}
	var ds types.Dataset
	if err := json.Unmarshal(data, &ds); err != nil || len(ds.Projects) == 0 {
		return demoDataset()
	}
	if ds.ProjectTasks == nil {
		ds.ProjectTasks = map[string][]types.Task{}
	}
	for id, tasks := range ds.ProjectTasks {
		for i := range tasks {
			tasks[i].ProjectID = id
		}
	}
	ds.RebuildAll()
	return ds
}

// NewStaticStore returns the store for bundled fallback data.
func NewStaticStore(data []byte) *MemoryStore {
	return NewMemoryStore(types.ModeStatic, StaticDataset(data))
}

func demoDataset() types.Dataset {
	task := types.Task{
		ID:           DemoTaskID,
		Title:        "Demo task",
		Column:       types.StageBacklog,
		TimeEstimate: "1h",
		TimeSpent:    "0h",
		Assignee:     types.Unassigned,
		Priority:     types.PriorityLow,
		Content:      "# Demo task\n",
		ProjectID:    DemoProjectID,
	}
	p := types.Project{
		ID:          DemoProjectID,
		Name:        "Demo project",
		Description: "Project " + DemoProjectID,
		Stats:       scan.Stats([]types.Task{task}, nil),
	}
	return types.NewDataset([]types.Project{p}, map[string][]types.Task{DemoProjectID: {task}})
}
