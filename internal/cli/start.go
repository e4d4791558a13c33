package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dylanneve1/agent-bridge/internal/config"
	"github.com/dylanneve1/agent-bridge/internal/daemon"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		port        int
		foreground  bool
		dev         bool
		pprofAddr   string
		dbDriver    string
		dbURL       string
		adminSecret string
		envFile     string
		enableOtel  bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			}

			srvCfg, err := config.LoadServer(home)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if adminSecret == "" {
				adminSecret = srvCfg.AdminSecret
			}
			if dbDriver == "" {
				dbDriver = srvCfg.DBDriver
			}
			if dbURL == "" {
				dbURL = srvCfg.DBURL
			}

			opts := daemon.StartOptions{
				Home:         home,
				Port:         port,
				Dev:          dev,
				PprofAddr:    pprofAddr,
				AdminSecret:  adminSecret,
				MaxFileBytes: srvCfg.MaxFileBytes,
				DBDriver:     dbDriver,
				DBURL:        dbURL,
				EnableOtel:   enableOtel,
				Version:      cmd.Root().Version,
			}

			if foreground {
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if st, serr := daemon.Status(cmd.Context(), home); serr == nil && st.Running {
				fmt.Fprintf(cmd.OutOrStdout(), "bridge started (pid %d) on %s\n", st.PID, st.Addr)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "bridge started (pid %d)\n", pid)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 3580, "Port to listen on")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of daemonizing")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on the given address (e.g. localhost:6060)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Database driver: sqlite or postgres (default sqlite)")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Database URL for postgres (env: DATABASE_URL)")
	cmd.Flags().StringVar(&adminSecret, "admin-secret", "", "Secret required to register agents (env: BRIDGE_ADMIN_SECRET)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load environment variables from a file before starting")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}

// loadEnvFile reads KEY=VALUE lines from path into the process environment.
// Blank lines and lines starting with # are ignored. Existing variables are
// not overridden.
func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return sc.Err()
}
