package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/messaging"
	"github.com/dylanneve1/agent-bridge/internal/otel"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// registerMessagingRoutes wires /conversations and /messages onto the mux.
func registerMessagingRoutes(mux *http.ServeMux, msgs *messaging.Service, hub *SSEHub) {
	mux.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			member := r.URL.Query().Get("member")
			if r.URL.Query().Get("mine") == "true" {
				member = actorFrom(r.Context())
			}
			list, err := msgs.List(r.Context(), member)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, list)
			return
		case http.MethodPost:
			var body struct {
				Name    string   `json:"name"`
				Members []string `json:"members"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid json")
				return
			}
			conv, err := msgs.CreateGroup(r.Context(), body.Name, actorFrom(r.Context()), body.Members)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "conversation_update", "conversation_id": conv.ConversationID})
			writeJSON(w, conv)
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	mux.HandleFunc("/conversations/", func(w http.ResponseWriter, r *http.Request) {
		convID, rest := splitPath(r.URL.Path, "/conversations/")
		if convID == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		actor := actorFrom(r.Context())

		switch rest {
		case "":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			conv, err := msgs.Get(r.Context(), convID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, conv)
			return

		case "messages":
			switch r.Method {
			case http.MethodGet:
				var before time.Time
				if raw := r.URL.Query().Get("before"); raw != "" {
					t, err := time.Parse(time.RFC3339, raw)
					if err != nil {
						writeJSONError(w, http.StatusBadRequest, "before must be RFC3339")
						return
					}
					before = t
				}
				list, err := msgs.Messages(r.Context(), convID, actor, queryInt(r, "limit", models.DefaultMessageListLimit), before)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, list)
				return
			case http.MethodPost:
				var body struct {
					Content string `json:"content"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid json")
					return
				}
				m, err := msgs.Post(r.Context(), convID, actor, body.Content)
				if err != nil {
					writeError(w, err)
					return
				}
				otel.RecordMessage(r.Context(), models.ConversationGroup)
				hub.PublishJSON(map[string]any{"type": "message", "conversation_id": convID, "message_id": m.MessageID, "sender": actor})
				writeJSON(w, m)
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		case "join":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			conv, err := msgs.Join(r.Context(), convID, actor)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "conversation_update", "conversation_id": convID, "agent": actor})
			writeJSON(w, conv)
			return

		case "invite":
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
			conv, err := msgs.Invite(r.Context(), convID, actor, body.Agent)
			if err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "conversation_update", "conversation_id": convID, "agent": body.Agent})
			writeJSON(w, conv)
			return

		case "leave":
			if r.Method != http.MethodPost {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			if err := msgs.Leave(r.Context(), convID, actor); err != nil {
				writeError(w, err)
				return
			}
			hub.PublishJSON(map[string]any{"type": "conversation_update", "conversation_id": convID, "agent": actor})
			writeJSON(w, map[string]any{"ok": true})
			return

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})

	mux.HandleFunc("/messages/dm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var body struct {
			To      string `json:"to"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		m, err := msgs.SendDM(r.Context(), actorFrom(r.Context()), body.To, body.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		otel.RecordMessage(r.Context(), models.ConversationDM)
		hub.PublishJSON(map[string]any{"type": "message", "conversation_id": m.ConversationID, "message_id": m.MessageID, "sender": m.Sender, "recipient": body.To})
		writeJSON(w, m)
	})

	mux.HandleFunc("/messages/inbox", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "since must be RFC3339")
				return
			}
			since = t
		}
		list, err := msgs.Inbox(r.Context(), actorFrom(r.Context()), since, queryInt(r, "limit", models.DefaultMessageListLimit))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	})

	mux.HandleFunc("/messages/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		// `with` is optional; without it the history spans every peer.
		peer := r.URL.Query().Get("with")
		list, err := msgs.History(r.Context(), actorFrom(r.Context()), peer, queryInt(r, "limit", models.DefaultMessageListLimit))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	})

	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		msgID, rest := splitPath(r.URL.Path, "/messages/")
		if msgID == "" || rest != "read" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := msgs.MarkRead(r.Context(), msgID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})
}
