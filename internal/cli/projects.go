package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/fira/internal/source"
	"github.com/mesh-intelligence/fira/pkg/types"
)

func newProjectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects with their stage statistics",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				projects := rt.engine.Projects()
				if a.flags.jsonMode {
					if projects == nil {
						projects = []types.Project{}
					}
					return a.printJSON(projects)
				}
				renderProjects(a.out, projects)
				return nil
			})
		},
	}
}

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, update or delete a project",
	}
	cmd.AddCommand(newProjectCreateCmd(a), newProjectUpdateCmd(a), newProjectDeleteCmd(a))
	return cmd
}

func newProjectCreateCmd(a *app) *cobra.Command {
	var in source.ProjectInput
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a project with the standard stage folders",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			in.ID = argv[0]
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.engine.CreateProject(ctx, in)
				if err != nil {
					return err
				}
				return a.reportResult(res, fmt.Sprintf("Created project %s", in.ID))
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name (default: the id)")
	cmd.Flags().StringVar(&in.Description, "description", "", "project description")
	return cmd
}

func newProjectUpdateCmd(a *app) *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a project's name or description",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			var patch types.ProjectPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if patch.Name == nil && patch.Description == nil {
				return usage("nothing to update: pass --name or --description")
			}
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.engine.UpdateProject(ctx, argv[0], patch)
				if err != nil {
					return err
				}
				return a.reportResult(res, fmt.Sprintf("Updated project %s", argv[0]))
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func newProjectDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project; it stays hidden even if a source still serves it",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			return a.withEngine(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.engine.DeleteProject(ctx, argv[0])
				if err != nil {
					return err
				}
				return a.reportResult(res, fmt.Sprintf("Deleted project %s", argv[0]))
			})
		},
	}
}
