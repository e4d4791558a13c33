package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/dylanneve1/agent-bridge/internal/config"
	"github.com/dylanneve1/agent-bridge/internal/identity"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage registered agents",
	}
	cmd.AddCommand(newAgentRegisterCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentDeactivateCmd())
	return cmd
}

func adminSecretOrEnv(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("BRIDGE_ADMIN_SECRET")
}

func openDirectory(cmd *cobra.Command, adminSecret string) (*identity.Directory, store.Store, error) {
	home := config.MustHomeFrom(cmd.Context())
	st, err := store.Open(home)
	if err != nil {
		return nil, nil, err
	}
	return identity.NewDirectory(st, adminSecret), st, nil
}

func newAgentRegisterCmd() *cobra.Command {
	var (
		name        string
		adminSecret string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new agent and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			secret := adminSecretOrEnv(adminSecret)
			dir, st, err := openDirectory(cmd, secret)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			agent, apiKey, err := dir.Register(cmd.Context(), name, secret)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered %q\n", agent.Name)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API key: %s\n", apiKey)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Store this key; it is not retrievable later.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringVar(&adminSecret, "admin-secret", "", "Admin secret (env: BRIDGE_ADMIN_SECRET)")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, st, err := openDirectory(cmd, "")
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			agents, err := dir.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, a := range agents {
				state := "active"
				if !a.Active {
					state = "inactive"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s)\n", a.Name, state)
			}
			return nil
		},
	}
	return cmd
}

func newAgentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a registered agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, st, err := openDirectory(cmd, "")
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			a, err := dir.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Name:       %s\n", a.Name)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Active:     %t\n", a.Active)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created:    %s\n", a.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	return cmd
}

func newAgentDeactivateCmd() *cobra.Command {
	var adminSecret string
	cmd := &cobra.Command{
		Use:   "deactivate <name>",
		Short: "Deactivate an agent, revoking its API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := adminSecretOrEnv(adminSecret)
			dir, st, err := openDirectory(cmd, secret)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := dir.Deactivate(cmd.Context(), args[0], secret); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&adminSecret, "admin-secret", "", "Admin secret (env: BRIDGE_ADMIN_SECRET)")
	return cmd
}
