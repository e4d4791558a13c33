package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/otel"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/internal/task"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// registerTaskRoutes wires /tasks and /projects onto the mux.
func registerTaskRoutes(mux *http.ServeMux, tasks *task.Engine, hub *SSEHub) {
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := tasks.List(r.Context(), store.TaskFilter{
				Status:    r.URL.Query().Get("status"),
				Assignee:  r.URL.Query().Get("assignee"),
				ProjectID: r.URL.Query().Get("project"),
				Tag:       r.URL.Query().Get("tag"),
				Limit:     queryInt(r, "limit", models.DefaultTaskListLimit),
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, list)
			return
		case http.MethodPost:
			var body struct {
				Title       string   `json:"title"`
				Description string   `json:"description"`
				Priority    string   `json:"priority"`
				Assignee    *string  `json:"assignee"`
				ProjectID   *string  `json:"project_id"`
				MilestoneID *string  `json:"milestone_id"`
				Tags        []string `json:"tags"`
				DependsOn   []int64  `json:"depends_on"`
				Effort      string   `json:"effort"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			t, err := tasks.Create(r.Context(), task.CreateRequest{
				Title:       body.Title,
				Description: body.Description,
				Priority:    body.Priority,
				Creator:     actorFrom(r.Context()),
				Assignee:    body.Assignee,
				ProjectID:   body.ProjectID,
				MilestoneID: body.MilestoneID,
				Tags:        body.Tags,
				DependsOn:   body.DependsOn,
				Effort:      body.Effort,
			})
			if err != nil {
				writeError(w, err)
				return
			}
			otel.RecordTaskOp(r.Context(), "create", t.Status)
			hub.PublishJSON(map[string]any{"type": "task_update", "task_id": t.TaskID, "status": t.Status})
			writeJSON(w, t)
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		idPart, rest := splitPath(r.URL.Path, "/tasks/")
		taskID, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		actor := actorFrom(r.Context())

		switch rest {
		case "claim", "start", "complete":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var t *models.Task
			switch rest {
			case "claim":
				t, err = tasks.Claim(r.Context(), taskID, actor)
			case "start":
				t, err = tasks.Start(r.Context(), taskID, actor)
			case "complete":
				t, err = tasks.Complete(r.Context(), taskID, actor)
			}
			if err != nil {
				writeError(w, err)
				return
			}
			otel.RecordTaskOp(r.Context(), rest, t.Status)
			hub.PublishJSON(map[string]any{"type": "task_update", "task_id": taskID, "status": t.Status, "agent": actor})
			writeJSON(w, t)
			return

		case "block":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				Reason string `json:"reason"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			t, err := tasks.Block(r.Context(), taskID, actor, body.Reason)
			if err != nil {
				writeError(w, err)
				return
			}
			otel.RecordTaskOp(r.Context(), "block", t.Status)
			hub.PublishJSON(map[string]any{"type": "task_update", "task_id": taskID, "status": t.Status, "agent": actor})
			writeJSON(w, t)
			return

		case "comments":
			switch r.Method {
			case http.MethodGet:
				detail, err := tasks.Get(r.Context(), taskID)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, detail.Comments)
				return
			case http.MethodPost:
				var body struct {
					Body string `json:"body"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid json")
					return
				}
				c, err := tasks.AddComment(r.Context(), taskID, actor, body.Body)
				if err != nil {
					writeError(w, err)
					return
				}
				hub.PublishJSON(map[string]any{"type": "task_comment", "task_id": taskID, "comment_id": c.CommentID})
				writeJSON(w, c)
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		case "dependencies":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				DependsOn int64 `json:"depends_on"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			t, err := tasks.AddDependency(r.Context(), taskID, body.DependsOn)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "task_update", "task_id": taskID})
			writeJSON(w, t)
			return

		case "":
			switch r.Method {
			case http.MethodGet:
				detail, err := tasks.Get(r.Context(), taskID)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, detail)
				return
			case http.MethodPatch:
				var body struct {
					Title         *string   `json:"title"`
					Description   *string   `json:"description"`
					Priority      *string   `json:"priority"`
					Effort        *string   `json:"effort"`
					Assignee      *string   `json:"assignee"`
					ClearAssignee bool      `json:"clear_assignee"`
					ProjectID     *string   `json:"project_id"`
					MilestoneID   *string   `json:"milestone_id"`
					Tags          *[]string `json:"tags"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid json")
					return
				}
				t, err := tasks.Patch(r.Context(), taskID, store.TaskPatch{
					Title:         body.Title,
					Description:   body.Description,
					Priority:      body.Priority,
					Effort:        body.Effort,
					Assignee:      body.Assignee,
					ClearAssignee: body.ClearAssignee,
					ProjectID:     body.ProjectID,
					MilestoneID:   body.MilestoneID,
					Tags:          body.Tags,
				})
				if err != nil {
					writeError(w, err)
					return
				}
				otel.RecordTaskOp(r.Context(), "patch", t.Status)
				hub.PublishJSON(map[string]any{"type": "task_update", "task_id": taskID, "status": t.Status})
				writeJSON(w, t)
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})

	mux.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := tasks.ListProjects(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, list)
			return
		case http.MethodPost:
			var body struct {
				Name        string   `json:"name"`
				Description string   `json:"description"`
				Tags        []string `json:"tags"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			p, err := tasks.CreateProject(r.Context(), body.Name, body.Description, body.Tags)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "project_update", "project_id": p.ProjectID})
			writeJSON(w, p)
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	mux.HandleFunc("/projects/", func(w http.ResponseWriter, r *http.Request) {
		projectID, rest := splitPath(r.URL.Path, "/projects/")
		if projectID == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		switch rest {
		case "":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			p, err := tasks.GetProject(r.Context(), projectID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, p)
			return
		case "members":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				Agent string `json:"agent"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			p, err := tasks.AddProjectMember(r.Context(), projectID, body.Agent)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "project_update", "project_id": projectID})
			writeJSON(w, p)
			return
		case "milestones":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			var body struct {
				Name  string     `json:"name"`
				DueBy *time.Time `json:"due_by"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			m, err := tasks.CreateMilestone(r.Context(), projectID, body.Name, body.DueBy)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "project_update", "project_id": projectID})
			writeJSON(w, m)
			return
		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})
}
