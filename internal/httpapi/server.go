package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/blob"
	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/identity"
	"github.com/dylanneve1/agent-bridge/internal/messaging"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/internal/store/postgres"
	"github.com/dylanneve1/agent-bridge/internal/task"
	"github.com/dylanneve1/agent-bridge/internal/vcs"
	"github.com/dylanneve1/agent-bridge/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
// Call this for requests that have a body (e.g. POST, PUT, PATCH) before decoding JSON.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
// File uploads are exempt; the upload handler enforces its own larger limit.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			if r.URL.Path != "/files" {
				limitBody(w, r, maxBytes)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboard on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Admin-Secret")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, admin secret, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	Version        string
	AdminSecret    string       // guards /agents/register and deactivation; empty disables registration
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MaxFileBytes   int64        // upload size cap; 0 means models.DefaultMaxFileBytes
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server, SSE hub, store, and the domain services.
type App struct {
	Server   *http.Server
	Hub      *SSEHub
	Store    store.Store
	Identity *identity.Directory
	Tasks    *task.Engine
	Repos    *vcs.Engine
	Messages *messaging.Service
	Files    *blob.Service
	Home     string
}

// NewApp creates the HTTP app (server, hub, store, services) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(context.Background(), opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	maxFileBytes := opts.MaxFileBytes
	if maxFileBytes <= 0 {
		maxFileBytes = models.DefaultMaxFileBytes
	}

	dir := identity.NewDirectory(st, opts.AdminSecret)
	tasks := task.NewEngine(st)
	repos := vcs.NewEngine(st)
	msgs := messaging.NewService(st)
	files, err := blob.NewService(st, opts.Home, maxFileBytes)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	startedAt := time.Now().UTC()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = fmt.Fprintf(w, "# TYPE bridge_tasks_total gauge\n")
			for _, status := range []string{models.StatusOpen, models.StatusClaimed, models.StatusInProgress, models.StatusBlocked, models.StatusDone} {
				list, _ := st.ListTasks(r.Context(), store.TaskFilter{Status: status})
				_, _ = fmt.Fprintf(w, "bridge_tasks_total{status=%q} %d\n", status, len(list))
			}
		})
	}

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		counts, err := st.Counts(r.Context())
		if err != nil {
			writeError(w, bridgeerr.Wrap(bridgeerr.Internal, err, "status unavailable"))
			return
		}
		fileStats, err := files.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, models.Status{
			OK:             true,
			Version:        opts.Version,
			UptimeSeconds:  int64(time.Since(startedAt).Seconds()),
			StartedAt:      startedAt,
			TotalMessages:  counts.Messages,
			UnreadMessages: counts.UnreadMessages,
			Agents:         counts.Agents,
			Conversations:  counts.Conversations,
			Files:          fileStats,
		})
	})

	mux.HandleFunc("/stream", hub.Handler())

	// --- Public read-only surface (no API key; dashboards and humans) ---

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		counts, err := st.Counts(r.Context())
		if err != nil {
			writeError(w, bridgeerr.Wrap(bridgeerr.Internal, err, "stats unavailable"))
			return
		}
		agents, err := st.ListAgents(r.Context())
		if err != nil {
			writeError(w, bridgeerr.Wrap(bridgeerr.Internal, err, "stats unavailable"))
			return
		}
		names := make([]string, 0, len(agents))
		for _, a := range agents {
			names = append(names, a.Name)
		}
		writeJSON(w, map[string]any{
			"total_messages":  counts.Messages,
			"unread_messages": counts.UnreadMessages,
			"agents":          names,
			"conversations":   counts.Conversations,
		})
	})

	mux.HandleFunc("/browse/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		list, err := msgs.List(r.Context(), "")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	})

	mux.HandleFunc("/browse/conversations/", func(w http.ResponseWriter, r *http.Request) {
		convID, rest := splitPath(r.URL.Path, "/browse/conversations/")
		if convID == "" || rest != "" || r.Method != http.MethodGet {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		conv, list, err := msgs.Browse(r.Context(), convID, queryInt(r, "limit", models.DefaultMessageListLimit))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"conversation": conv,
			"members":      conv.Members,
			"messages":     list,
		})
	})

	// --- Agents ---
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		agents, err := dir.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, agents)
	})

	mux.HandleFunc("/agents/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		agent, apiKey, err := dir.Register(r.Context(), body.Name, r.Header.Get("X-Admin-Secret"))
		if err != nil {
			writeError(w, err)
			return
		}
		hub.PublishJSON(map[string]any{"type": "agent_update", "agent": agent.Name})
		writeJSON(w, map[string]any{"agent": agent, "api_key": apiKey})
	})

	mux.HandleFunc("/agents/", func(w http.ResponseWriter, r *http.Request) {
		name, rest := splitPath(r.URL.Path, "/agents/")
		if name == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		if rest == "deactivate" {
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			if err := dir.Deactivate(r.Context(), name, r.Header.Get("X-Admin-Secret")); err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "agent_update", "agent": name})
			writeJSON(w, map[string]any{"ok": true})
			return
		}
		if rest != "" || r.Method != http.MethodGet {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		agent, err := dir.Get(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, agent)
	})

	mux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, agentFrom(r.Context()))
	})

	registerTaskRoutes(mux, tasks, hub)
	registerRepoRoutes(mux, repos, hub)
	registerMessagingRoutes(mux, msgs, hub)
	registerFileRoutes(mux, files, hub, maxFileBytes)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	handler = authMiddleware(dir, handler)
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "bridge")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})

	return &App{
		Server:   srv,
		Hub:      hub,
		Store:    st,
		Identity: dir,
		Tasks:    tasks,
		Repos:    repos,
		Messages: msgs,
		Files:    files,
		Home:     opts.Home,
	}, nil
}

type ctxKey int

const agentKey ctxKey = 0

// agentFrom returns the authenticated agent, or nil on exempt routes.
func agentFrom(ctx context.Context) *models.Agent {
	a, _ := ctx.Value(agentKey).(*models.Agent)
	return a
}

// actorFrom returns the authenticated agent name, or "" on exempt routes.
func actorFrom(ctx context.Context) string {
	if a := agentFrom(ctx); a != nil {
		return a.Name
	}
	return ""
}

// authMiddleware resolves the X-API-Key header (or api_key query) to a
// registered agent and stores it on the request context. Health, metrics,
// registration, and the public browse surface are exempt; registration is
// guarded by the admin secret.
func authMiddleware(dir *identity.Directory, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" || path == "/agents/register" ||
			path == "/stats" || path == "/browse/conversations" || strings.HasPrefix(path, "/browse/conversations/") {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		agent, err := dir.Authenticate(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey, agent)))
	})
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// splitPath strips prefix from path and returns the first segment and the
// remainder after it ("" when absent).
func splitPath(path, prefix string) (first, rest string) {
	s := path[len(prefix):]
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// queryInt parses an integer query parameter, clamping to max. Returns 0 when
// absent or invalid.
func queryInt(r *http.Request, name string, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeError maps a domain error kind to an HTTP status and writes the JSON body.
func writeError(w http.ResponseWriter, err error) {
	kind := bridgeerr.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case bridgeerr.NotFound:
		code = http.StatusNotFound
	case bridgeerr.InvalidOperation:
		code = http.StatusBadRequest
	case bridgeerr.InvalidTransition, bridgeerr.DependencyUnmet, bridgeerr.CycleDetected, bridgeerr.AlreadyExists:
		code = http.StatusConflict
	case bridgeerr.Busy:
		code = http.StatusServiceUnavailable
	case bridgeerr.Unauthenticated:
		code = http.StatusUnauthorized
	case bridgeerr.Forbidden:
		code = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "kind": string(kind)})
}
