// Package config resolves the bridge home directory and loads the optional
// server configuration file at <home>/bridge.yaml.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Server holds tunables for the HTTP surface and stores. Zero values fall
// back to the defaults below.
type Server struct {
	Addr         string `yaml:"addr"`           // listen address, default ":3580"
	DBDriver     string `yaml:"db_driver"`      // "sqlite" (default) or "postgres"
	DBURL        string `yaml:"db_url"`         // postgres DSN; or DATABASE_URL env
	MaxFileBytes int64  `yaml:"max_file_bytes"` // upload cap, default 50 MiB
	AdminSecret  string `yaml:"admin_secret"`   // registration secret; or BRIDGE_ADMIN_SECRET env
	Dev          bool   `yaml:"dev"`            // enable CORS for a dev UI origin
}

const (
	DefaultAddr         = ":3580"
	DefaultMaxFileBytes = 50 << 20
)

// LoadServer reads <home>/bridge.yaml. A missing file yields defaults, not an
// error; a malformed file is an error.
func LoadServer(home string) (Server, error) {
	cfg := Server{Addr: DefaultAddr, DBDriver: "sqlite", MaxFileBytes: DefaultMaxFileBytes}
	data, err := os.ReadFile(filepath.Join(home, "bridge.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg), nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite"
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	return applyEnv(cfg), nil
}

func applyEnv(cfg Server) Server {
	if s := os.Getenv("BRIDGE_ADMIN_SECRET"); s != "" {
		cfg.AdminSecret = s
	}
	if u := os.Getenv("DATABASE_URL"); u != "" && cfg.DBURL == "" {
		cfg.DBURL = u
	}
	return cfg
}
