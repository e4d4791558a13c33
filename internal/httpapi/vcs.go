package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dylanneve1/agent-bridge/internal/otel"
	"github.com/dylanneve1/agent-bridge/internal/vcs"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// registerRepoRoutes wires /repos onto the mux.
func registerRepoRoutes(mux *http.ServeMux, repos *vcs.Engine, hub *SSEHub) {
	mux.HandleFunc("/repos", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := repos.ListRepos(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, list)
			return
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			repo, err := repos.CreateRepo(r.Context(), body.Name, body.Description)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "repo_update", "repo": repo.Name})
			writeJSON(w, repo)
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		name, rest := splitPath(r.URL.Path, "/repos/")
		if name == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		branch := r.URL.Query().Get("branch")

		switch {
		case rest == "":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			repo, err := repos.GetRepo(r.Context(), name)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, repo)
			return

		case rest == "commits":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				Branch  string          `json:"branch"`
				Message string          `json:"message"`
				Changes []models.Change `json:"changes"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			c, err := repos.Commit(r.Context(), name, body.Branch, actorFrom(r.Context()), body.Message, body.Changes)
			if err != nil {
				writeError(w, err)
				return
			}
			otel.RecordCommit(r.Context(), name)
			hub.PublishJSON(map[string]any{"type": "commit", "repo": name, "branch": c.Branch, "commit_id": c.CommitID})
			writeJSON(w, c)
			return

		case rest == "log":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			log, err := repos.Log(r.Context(), name, branch)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, log)
			return

		case rest == "tree":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			tree, err := repos.Tree(r.Context(), name, branch, r.URL.Query().Get("at"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, tree)
			return

		case rest == "file":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			path := r.URL.Query().Get("path")
			if path == "" {
				writeJSONError(w, http.StatusBadRequest, "path required")
				return
			}
			content, err := repos.File(r.Context(), name, branch, path, r.URL.Query().Get("at"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, map[string]any{"path": path, "content": content})
			return

		default:
			// /repos/{name}/diff/{commit_id}
			commitID, ok := trimSegment(rest, "diff/")
			if !ok || commitID == "" {
				writeJSONError(w, http.StatusNotFound, "not found")
				return
			}
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			entries, err := repos.Diff(r.Context(), name, commitID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, entries)
			return
		}
	})
}

// trimSegment strips prefix from rest, reporting whether it was present.
func trimSegment(rest, prefix string) (string, bool) {
	if len(rest) < len(prefix) || rest[:len(prefix)] != prefix {
		return "", false
	}
	return rest[len(prefix):], true
}
