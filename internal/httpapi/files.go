package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/dylanneve1/agent-bridge/internal/blob"
	"github.com/dylanneve1/agent-bridge/internal/otel"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// registerFileRoutes wires /files onto the mux. Uploads are multipart with a
// "file" part plus optional "description" and "conversation_id" fields.
func registerFileRoutes(mux *http.ServeMux, files *blob.Service, hub *SSEHub, maxFileBytes int64) {
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := files.List(r.Context(), store.FileFilter{
				ConversationID: r.URL.Query().Get("conversation"),
				UploadedBy:     r.URL.Query().Get("uploaded_by"),
				Limit:          queryInt(r, "limit", models.DefaultFileListLimit),
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, list)
			return
		case http.MethodPost:
			// Multipart framing adds overhead beyond the file itself.
			limitBody(w, r, maxFileBytes+models.DefaultMaxRequestBodyBytes)
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
				return
			}
			part, header, err := r.FormFile("file")
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "file part required")
				return
			}
			defer part.Close()
			req := blob.UploadRequest{
				OriginalName: header.Filename,
				MimeType:     header.Header.Get("Content-Type"),
				UploadedBy:   actorFrom(r.Context()),
				Description:  r.FormValue("description"),
			}
			if conv := r.FormValue("conversation_id"); conv != "" {
				req.ConversationID = &conv
			}
			if msg := r.FormValue("message_id"); msg != "" {
				req.MessageID = &msg
			}
			info, err := files.Store(r.Context(), req, part)
			if err != nil {
				writeError(w, err)
				return
			}
			otel.RecordUpload(r.Context(), info.UploadedBy)
			hub.PublishJSON(map[string]any{"type": "file_update", "file_id": info.FileID, "agent": info.UploadedBy})
			writeJSON(w, info)
			return
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
	})

	mux.HandleFunc("/files/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		stats, err := files.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		fileID, rest := splitPath(r.URL.Path, "/files/")
		if fileID == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}

		switch rest {
		case "":
			switch r.Method {
			case http.MethodGet:
				info, err := files.Get(r.Context(), fileID)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, info)
				return
			case http.MethodDelete:
				if err := files.Delete(r.Context(), fileID, actorFrom(r.Context())); err != nil {
					writeError(w, err)
					return
				}
				hub.PublishJSON(map[string]any{"type": "file_update", "file_id": fileID})
				writeJSON(w, map[string]any{"ok": true})
				return
			default:
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}

		case "content":
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			info, rc, err := files.Open(r.Context(), fileID)
			if err != nil {
				writeError(w, err)
				return
			}
			defer rc.Close()
			if info.MimeType != "" {
				w.Header().Set("Content-Type", info.MimeType)
			} else {
				w.Header().Set("Content-Type", "application/octet-stream")
			}
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
			w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(info.OriginalName))
			_, _ = io.Copy(w, rc)
			return

		default:
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
	})
}
