package cli

import (
	"github.com/dylanneve1/agent-bridge/internal/config"
	"github.com/dylanneve1/agent-bridge/internal/daemon"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	var (
		port         int
		dev          bool
		pprofAddr    string
		dbDriver     string
		dbURL        string
		adminSecret  string
		maxFileBytes int64
		enableOtel   bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:         home,
				Port:         port,
				Dev:          dev,
				PprofAddr:    pprofAddr,
				DBDriver:     dbDriver,
				DBURL:        dbURL,
				AdminSecret:  adminSecret,
				MaxFileBytes: maxFileBytes,
				EnableOtel:   enableOtel,
				Version:      cmd.Root().Version,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 3580, "Port to listen on")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "", "Database driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Database URL for postgres")
	cmd.Flags().StringVar(&adminSecret, "admin-secret", "", "Secret required to register agents")
	cmd.Flags().Int64Var(&maxFileBytes, "max-file-bytes", 0, "Maximum upload size in bytes")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
