package daemon

// StartOptions configures the daemon (home, port, DB, admin secret, metrics).
type StartOptions struct {
	Home         string
	Port         int
	Dev          bool
	PprofAddr    string
	AdminSecret  string // guards agent registration; empty disables it
	MaxFileBytes int64  // upload size cap; 0 uses the default
	DBDriver     string // "sqlite" (default) or "postgres"
	DBURL        string // for postgres: connection string (or DATABASE_URL env)
	EnableOtel   bool   // enable OpenTelemetry metrics (Prometheus exporter + HTTP/SSE instrumentation)
	Version      string
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
