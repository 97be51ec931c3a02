package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mesh-intelligence/fira/internal/source"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// Styles for human output.
var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	boldStyle    = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Width(12)
)

// printJSON writes v as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// statusView summarizes the active source.
type statusView struct {
	Mode            types.Mode `json:"mode"`
	FromCache       bool       `json:"fromCache"`
	Directory       string     `json:"directory,omitempty"`
	Server          string     `json:"server,omitempty"`
	Projects        int        `json:"projects"`
	Tasks           int        `json:"tasks"`
	LoadedAt        time.Time  `json:"loadedAt"`
	DeletedProjects []string   `json:"deletedProjects,omitempty"`
}

func newStatusView(rt *runtime) statusView {
	ds := rt.engine.Dataset()
	v := statusView{
		Mode:            rt.engine.Mode(),
		FromCache:       rt.engine.FromCache(),
		Directory:       rt.engine.Directory(),
		Projects:        len(ds.Projects),
		Tasks:           ds.TotalTasks(),
		LoadedAt:        rt.engine.LoadedAt(),
		DeletedProjects: rt.engine.Tombstones().IDs(),
	}
	if rt.client != nil {
		v.Server = rt.client.BaseURL()
	}
	return v
}

func renderStatus(w io.Writer, v statusView) {
	row := func(label, value string) {
		fmt.Fprintln(w, labelStyle.Render(label)+value)
	}
	row("mode", boldStyle.Render(string(v.Mode)))
	if v.FromCache {
		row("data", warningStyle.Render("cached snapshot"))
	}
	if v.Directory != "" {
		row("directory", v.Directory)
	}
	if v.Server != "" {
		row("server", v.Server)
	}
	row("projects", fmt.Sprint(v.Projects))
	row("tasks", fmt.Sprint(v.Tasks))
	if !v.LoadedAt.IsZero() {
		row("loaded", v.LoadedAt.Local().Format(time.RFC3339))
	}
	if len(v.DeletedProjects) > 0 {
		row("deleted", dimStyle.Render(strings.Join(v.DeletedProjects, ", ")))
	}
}

func renderProjects(w io.Writer, projects []types.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no projects"))
		return
	}
	for _, p := range projects {
		title := boldStyle.Render(p.ID)
		if p.Name != "" && p.Name != p.ID {
			title += " " + p.Name
		}
		fmt.Fprintln(w, title)
		if p.Description != "" {
			fmt.Fprintln(w, "  "+dimStyle.Render(p.Description))
		}
		s := p.Stats
		fmt.Fprintf(w, "  backlog %d · in progress %d · done %d\n", s.Backlog.Count, s.InProgress.Count, s.Done.Count)
		if len(p.Developers) > 0 {
			fmt.Fprintln(w, "  "+dimStyle.Render("developers: "+strings.Join(p.Developers, ", ")))
		}
	}
}

func renderTasks(w io.Writer, tasks []types.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no tasks"))
		return
	}
	byStage := map[types.Stage][]types.Task{}
	for _, t := range tasks {
		byStage[t.Column] = append(byStage[t.Column], t)
	}
	for _, stage := range types.Stages() {
		list := byStage[stage]
		if len(list) == 0 {
			continue
		}
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s (%d)", stage, len(list))))
		for _, t := range list {
			renderTaskLine(w, t)
		}
	}
}

func renderTaskLine(w io.Writer, t types.Task) {
	meta := []string{t.Priority}
	if t.Assignee != "" && t.Assignee != types.Unassigned {
		meta = append(meta, "@"+t.Assignee)
	}
	if t.TimeEstimate != "" {
		meta = append(meta, t.TimeEstimate)
	}
	fmt.Fprintf(w, "  %s  %s  %s\n", boldStyle.Render(t.ID), t.Title, dimStyle.Render(strings.Join(meta, " ")))
}

func renderTask(w io.Writer, t types.Task) {
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintln(w, labelStyle.Render(label)+value)
		}
	}
	row("id", boldStyle.Render(t.ID))
	row("title", t.Title)
	row("stage", string(t.Column))
	row("assignee", t.Assignee)
	row("priority", t.Priority)
	row("estimate", t.TimeEstimate)
	row("spent", t.TimeSpent)
	if t.Content != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, t.Content)
	}
}

// resultView is the JSON form of a mutation outcome.
type resultView struct {
	Mode    types.Mode     `json:"mode"`
	Partial bool           `json:"partial"`
	Reason  string         `json:"reason,omitempty"`
	Project *types.Project `json:"project,omitempty"`
	Task    *types.Task    `json:"task,omitempty"`
}

// reportResult prints the outcome of a mutation.
func (a *app) reportResult(res source.Result, msg string) error {
	if a.flags.jsonMode {
		return a.printJSON(resultView{Mode: res.Mode, Partial: res.Partial, Reason: res.Reason, Project: res.Project, Task: res.Task})
	}
	if res.Partial {
		fmt.Fprintln(a.out, warningStyle.Render(msg+" (in memory only: "+res.Reason+")"))
		return nil
	}
	fmt.Fprintln(a.out, successStyle.Render(msg))
	return nil
}
