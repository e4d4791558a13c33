package cli

import (
	"errors"
	"fmt"

	"github.com/dylanneve1/agent-bridge/internal/config"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the local installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			if _, err := config.LoadServer(home); err != nil {
				problems = append(problems, fmt.Sprintf("config: %v", err))
			}

			st, err := store.Open(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("store: %v", err))
			} else {
				if _, err := st.Counts(cmd.Context()); err != nil {
					problems = append(problems, fmt.Sprintf("store query: %v", err))
				}
				_ = st.Close()
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok (home: %s)\n", home)
			return nil
		},
	}
	return cmd
}
