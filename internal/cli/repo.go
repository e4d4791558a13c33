package cli

import (
	"fmt"
	"sort"

	"github.com/dylanneve1/agent-bridge/internal/config"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/internal/vcs"
	"github.com/spf13/cobra"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage versioned repositories",
	}
	cmd.AddCommand(newRepoCreateCmd())
	cmd.AddCommand(newRepoListCmd())
	cmd.AddCommand(newRepoLogCmd())
	cmd.AddCommand(newRepoTreeCmd())
	return cmd
}

func openRepoEngine(cmd *cobra.Command) (*vcs.Engine, store.Store, error) {
	home := config.MustHomeFrom(cmd.Context())
	st, err := store.Open(home)
	if err != nil {
		return nil, nil, err
	}
	return vcs.NewEngine(st), st, nil
}

func newRepoCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openRepoEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			r, err := eng.CreateRepo(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created repo %q (%s)\n", r.Name, r.RepoID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Repository description")
	return cmd
}

func newRepoListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openRepoEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			repos, err := eng.ListRepos(cmd.Context())
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No repos.")
				return nil
			}
			for _, r := range repos {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s", r.Name)
				if r.Description != "" {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), ": %s", r.Description)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	return cmd
}

func newRepoLogCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "log <name>",
		Short: "Show a repository's commit log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openRepoEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			commits, err := eng.Log(cmd.Context(), args[0], branch)
			if err != nil {
				return err
			}
			for _, c := range commits {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %s\n", c.CommitID, c.Author, c.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "Branch (default main)")
	return cmd
}

func newRepoTreeCmd() *cobra.Command {
	var (
		branch string
		at     string
	)
	cmd := &cobra.Command{
		Use:   "tree <name>",
		Short: "List the files in a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openRepoEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tree, err := eng.Tree(cmd.Context(), args[0], branch, at)
			if err != nil {
				return err
			}
			paths := make([]string, 0, len(tree))
			for p := range tree {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "Branch (default main)")
	cmd.Flags().StringVar(&at, "at", "", "Commit ID to read at")
	return cmd
}
