package cli

import (
	"fmt"
	"strings"

	"github.com/dylanneve1/agent-bridge/internal/config"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/internal/task"
	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskClaimCmd())
	cmd.AddCommand(newTaskStartCmd())
	cmd.AddCommand(newTaskCompleteCmd())
	cmd.AddCommand(newTaskBlockCmd())
	cmd.AddCommand(newTaskCommentCmd())
	return cmd
}

func openTaskEngine(cmd *cobra.Command) (*task.Engine, store.Store, error) {
	home := config.MustHomeFrom(cmd.Context())
	st, err := store.Open(home)
	if err != nil {
		return nil, nil, err
	}
	return task.NewEngine(st), st, nil
}

func newTaskCreateCmd() *cobra.Command {
	var (
		title       string
		description string
		priority    string
		actor       string
		assignee    string
		projectID   string
		tags        []string
		dependsOn   []int64
		effort      string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			req := task.CreateRequest{
				Title:       title,
				Description: description,
				Priority:    priority,
				Creator:     actor,
				Tags:        tags,
				DependsOn:   dependsOn,
				Effort:      effort,
			}
			if assignee != "" {
				req.Assignee = &assignee
			}
			if projectID != "" {
				req.ProjectID = &projectID
			}
			t, err := eng.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %d: %s\n", t.TaskID, t.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority (urgent, high, normal, low)")
	cmd.Flags().StringVar(&actor, "as", "cli", "Acting agent name")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Initial assignee")
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().Int64SliceVar(&dependsOn, "depends-on", nil, "Task ID this task depends on (repeatable)")
	cmd.Flags().StringVar(&effort, "effort", "", "Effort estimate")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		status   string
		assignee string
		project  string
		tag      string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := eng.List(cmd.Context(), store.TaskFilter{
				Status:    status,
				Assignee:  assignee,
				ProjectID: project,
				Tag:       tag,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				who := "-"
				if t.Assignee != nil && *t.Assignee != "" {
					who = *t.Assignee
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%6d  %-12s %-8s %-12s %s\n", t.TaskID, t.Status, t.Priority, who, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Filter by assignee")
	cmd.Flags().StringVar(&project, "project", "", "Filter by project ID")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by tag")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max tasks to list")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a task with its comments and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			d, err := eng.Get(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			t := d.Task
			_, _ = fmt.Fprintf(out, "Task %d: %s\n", t.TaskID, t.Title)
			_, _ = fmt.Fprintf(out, "Status:   %s\n", t.Status)
			_, _ = fmt.Fprintf(out, "Priority: %s\n", t.Priority)
			if t.Assignee != nil && *t.Assignee != "" {
				_, _ = fmt.Fprintf(out, "Assignee: %s\n", *t.Assignee)
			}
			if len(t.Tags) > 0 {
				_, _ = fmt.Fprintf(out, "Tags:     %s\n", strings.Join(t.Tags, ", "))
			}
			if t.Description != "" {
				_, _ = fmt.Fprintf(out, "\n%s\n", t.Description)
			}
			if len(d.DependsOn) > 0 {
				_, _ = fmt.Fprintln(out, "\nDepends on:")
				for _, dep := range d.DependsOn {
					_, _ = fmt.Fprintf(out, "  %d\n", dep)
				}
			}
			if len(d.Comments) > 0 {
				_, _ = fmt.Fprintln(out, "\nComments:")
				for _, c := range d.Comments {
					_, _ = fmt.Fprintf(out, "  [%s] %s\n", c.Author, c.Body)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}

func newTaskTransitionCmd(use, short, op string) *cobra.Command {
	var (
		taskID int64
		actor  string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			if actor == "" {
				return fmt.Errorf("--as is required")
			}
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var status string
			switch op {
			case "claim":
				res, err := eng.Claim(cmd.Context(), taskID, actor)
				if err != nil {
					return err
				}
				status = res.Status
			case "start":
				res, err := eng.Start(cmd.Context(), taskID, actor)
				if err != nil {
					return err
				}
				status = res.Status
			case "complete":
				res, err := eng.Complete(cmd.Context(), taskID, actor)
				if err != nil {
					return err
				}
				status = res.Status
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d is now %s\n", taskID, status)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&actor, "as", "", "Acting agent name")
	return cmd
}

func newTaskClaimCmd() *cobra.Command {
	return newTaskTransitionCmd("claim", "Claim an open task", "claim")
}

func newTaskStartCmd() *cobra.Command {
	return newTaskTransitionCmd("start", "Start work on a task", "start")
}

func newTaskCompleteCmd() *cobra.Command {
	return newTaskTransitionCmd("complete", "Mark a task as done", "complete")
}

func newTaskBlockCmd() *cobra.Command {
	var (
		taskID int64
		actor  string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Mark a task as blocked",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			if actor == "" || reason == "" {
				return fmt.Errorf("--as and --reason are required")
			}
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if _, err := eng.Block(cmd.Context(), taskID, actor, reason); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d blocked: %s\n", taskID, reason)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&actor, "as", "", "Acting agent name")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the task is blocked")
	return cmd
}

func newTaskCommentCmd() *cobra.Command {
	var (
		taskID int64
		actor  string
		body   string
	)
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Add a comment to a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be a positive task ID")
			}
			if body == "" {
				return fmt.Errorf("--body is required")
			}
			eng, st, err := openTaskEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if _, err := eng.AddComment(cmd.Context(), taskID, actor, body); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commented on task %d\n", taskID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&actor, "as", "cli", "Comment author")
	cmd.Flags().StringVar(&body, "body", "", "Comment body")
	return cmd
}
