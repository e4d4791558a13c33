package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectShowCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var (
		description string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := eng.CreateProject(cmd.Context(), args[0], description, tags)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (%s)\n", p.Name, p.ProjectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects with progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			projects, err := eng.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
				return nil
			}
			for _, p := range projects {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-12s %3.0f%% (%d/%d)  %s\n",
					p.ProjectID, p.Progress*100, p.DoneTasks, p.TotalTasks, p.Name)
			}
			return nil
		},
	}
	return cmd
}

func newProjectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with members and milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := eng.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Project %s: %s\n", p.ProjectID, p.Name)
			if p.Description != "" {
				_, _ = fmt.Fprintf(out, "%s\n", p.Description)
			}
			_, _ = fmt.Fprintf(out, "Progress: %d/%d (%.0f%%)\n", p.DoneTasks, p.TotalTasks, p.Progress*100)
			if len(p.Members) > 0 {
				_, _ = fmt.Fprintf(out, "Members:  %s\n", strings.Join(p.Members, ", "))
			}
			if len(p.Milestones) > 0 {
				_, _ = fmt.Fprintln(out, "Milestones:")
				for _, m := range p.Milestones {
					due := ""
					if m.DueBy != nil {
						due = " (due " + m.DueBy.Format("2006-01-02") + ")"
					}
					_, _ = fmt.Fprintf(out, "  %s  %s%s\n", m.MilestoneID, m.Name, due)
				}
			}
			return nil
		},
	}
	return cmd
}
