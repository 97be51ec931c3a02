package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fira/pkg/types"
)

func newTasksCmd(a *app) *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "tasks <project>",
		Short: "List the tasks of a project grouped by stage",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			var filter types.Stage
			if stage != "" {
				s, err := parseStage(stage)
				if err != nil {
					return err
				}
				filter = s
			}
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				if _, ok := rt.engine.Project(argv[0]); !ok {
					return fmt.Errorf("project %s: %w", argv[0], types.ErrNotFound)
				}
				tasks := []types.Task{}
				for _, t := range rt.engine.Tasks(argv[0]) {
					if filter == "" || t.Column == filter {
						tasks = append(tasks, t)
					}
				}
				if a.flags.jsonMode {
					return a.printJSON(tasks)
				}
				renderTasks(a.out, tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "only show tasks in this stage")
	return cmd
}

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Show, create, update, move or delete a task",
	}
	cmd.AddCommand(
		newTaskShowCmd(a),
		newTaskCreateCmd(a),
		newTaskUpdateCmd(a),
		newTaskMoveCmd(a),
		newTaskDeleteCmd(a),
	)
	return cmd
}

func newTaskShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project> <task>",
		Short: "Show one task",
		Args:  args(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				t, ok := rt.engine.Task(argv[0], argv[1])
				if !ok {
					return fmt.Errorf("task %s: %w", argv[1], types.ErrNotFound)
				}
				if a.flags.jsonMode {
					return a.printJSON(t)
				}
				renderTask(a.out, t)
				return nil
			})
		},
	}
}

// taskFlags are the editable fields shared by create and update.
type taskFlags struct {
	title    string
	priority string
	estimate string
	spent    string
	content  string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "task title")
	cmd.Flags().StringVar(&f.priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&f.estimate, "estimate", "", "time estimate, e.g. 2h")
	cmd.Flags().StringVar(&f.spent, "spent", "", "time spent, e.g. 30m")
	cmd.Flags().StringVar(&f.content, "content", "", "task body")
}

// apply copies the flags the user set onto t.
func (f *taskFlags) apply(cmd *cobra.Command, t *types.Task) error {
	changed := cmd.Flags().Changed
	if changed("title") {
		t.Title = f.title
	}
	if changed("priority") {
		p, ok := types.NormalizePriority(f.priority)
		if !ok {
			return usage("unknown priority %q: use low, medium or high", f.priority)
		}
		t.Priority = p
	}
	if changed("estimate") {
		t.TimeEstimate = f.estimate
	}
	if changed("spent") {
		t.TimeSpent = f.spent
	}
	if changed("content") {
		t.Content = f.content
	}
	return nil
}

func newTaskCreateCmd(a *app) *cobra.Command {
	var (
		f     taskFlags
		id    string
		stage string
		owner string
	)
	cmd := &cobra.Command{
		Use:   "create <project>",
		Short: "Create a task record (backlog unless --stage is given)",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			task := types.Task{ID: id, ProjectID: argv[0], Column: types.StageBacklog, Developer: owner}
			if stage != "" {
				s, err := parseStage(stage)
				if err != nil {
					return err
				}
				task.Column = s
			}
			if err := f.apply(cmd, &task); err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.engine.CreateTask(ctx, task)
				if err != nil {
					return err
				}
				created := task.ID
				if res.Task != nil {
					created = res.Task.ID
				}
				return a.reportResult(res, fmt.Sprintf("Created task %s", created))
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "task id (default: generated)")
	cmd.Flags().StringVar(&stage, "stage", "", "initial stage")
	cmd.Flags().StringVar(&owner, "owner", "", "owner folder for stages that have them")
	return cmd
}

func newTaskUpdateCmd(a *app) *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "update <project> <task>",
		Short: "Edit a task's fields",
		Args:  args(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				task, ok := rt.engine.Task(argv[0], argv[1])
				if !ok {
					return fmt.Errorf("task %s: %w", argv[1], types.ErrNotFound)
				}
				if err := f.apply(cmd, &task); err != nil {
					return err
				}
				res, err := rt.engine.UpdateTask(ctx, task)
				if err != nil {
					return err
				}
				return a.reportResult(res, fmt.Sprintf("Updated task %s", task.ID))
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newTaskMoveCmd(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "move <project> <task> <stage>",
		Short: "Move a task to another stage, optionally into an owner folder",
		Args:  args(cobra.ExactArgs(3)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			stage, err := parseStage(argv[2])
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.engine.MoveTask(ctx, argv[0], argv[1], stage, owner)
				if err != nil {
					return err
				}
				return a.reportResult(res, fmt.Sprintf("Moved task %s to %s", argv[1], stage))
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner folder, e.g. dev-amy")
	return cmd
}

func newTaskDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <task>",
		Short: "Delete a task record",
		Args:  args(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.engine.DeleteTask(ctx, argv[0], argv[1])
				if err != nil {
					return err
				}
				return a.reportResult(res, fmt.Sprintf("Deleted task %s", argv[1]))
			})
		},
	}
}

func newDevCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Manage developer folders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <project> <stage> <owner>",
		Short: "Create an owner folder inside a stage",
		Args:  args(cobra.ExactArgs(3)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			stage, err := parseStage(argv[1])
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.engine.AddDeveloper(ctx, argv[0], stage, argv[2])
				if err != nil {
					return err
				}
				return a.reportResult(res, fmt.Sprintf("Added %s to %s/%s", argv[2], argv[0], stage))
			})
		},
	})
	return cmd
}

func parseStage(name string) (types.Stage, error) {
	s, ok := types.ParseStage(name)
	if !ok {
		return "", fmt.Errorf("stage %q: %w", name, types.ErrInvalidStage)
	}
	return s, nil
}
