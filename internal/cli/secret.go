package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate the admin secret that guards agent registration",
	}
	cmd.AddCommand(newSecretGenerateCmd())
	return cmd
}

func newSecretGenerateCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random admin secret and print usage instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			secret := hex.EncodeToString(b)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Generated admin secret (save it somewhere safe):")
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "  "+secret)
			_, _ = fmt.Fprintln(out)

			if envFile != "" {
				line := "BRIDGE_ADMIN_SECRET=" + secret + "\n"
				f, err := os.OpenFile(envFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
				if err != nil {
					return fmt.Errorf("write %s: %w", envFile, err)
				}
				if _, err := f.WriteString(line); err != nil {
					_ = f.Close()
					return fmt.Errorf("write %s: %w", envFile, err)
				}
				if err := f.Close(); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Appended BRIDGE_ADMIN_SECRET to %s\n", envFile)
				_, _ = fmt.Fprintln(out, "Start the server with: bridge start --env-file "+envFile)
			} else {
				_, _ = fmt.Fprintln(out, "Use it:")
				_, _ = fmt.Fprintln(out, "  1. On the server: export BRIDGE_ADMIN_SECRET="+secret)
				_, _ = fmt.Fprintln(out, "     Or add to .env and run: bridge start --env-file .env")
				_, _ = fmt.Fprintln(out, "  2. To register agents: send header X-Admin-Secret: <secret>")
			}
			_, _ = fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Append BRIDGE_ADMIN_SECRET to this file (e.g. .env)")
	return cmd
}
