package api

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/elizor/elizor/internal/export"
	"github.com/elizor/elizor/internal/logging"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

func submitExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}

		job, err := cfg.Exports.Submit(r.Context(), export.Request{
			Format:    req.Format,
			FrameRate: req.FrameRate,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Location", "/exports/"+job.ID)
		WriteJSON(w, http.StatusAccepted, job)
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		jobs, err := cfg.Exports.List(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list exports", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}
		if jobs == nil {
			jobs = []*export.Job{}
		}
		WriteJSON(w, http.StatusOK, ExportsResponse{Exports: jobs})
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Exports.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Exports.Cancel(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		job, err := cfg.Exports.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, job)
	}
}

func downloadExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Exports.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if job.Status != export.StatusCompleted || job.OutputPath == "" {
			WriteError(w, http.StatusConflict, "export is not complete", "NOT_READY")
			return
		}

		f, err := os.Open(job.OutputPath)
		if err != nil {
			logging.WithExportID(cfg.Logger, job.ID).Error("export output missing",
				"path", logging.SanitizePath(job.OutputPath), "error", err)
			WriteError(w, http.StatusGone, "export output is no longer available", "GONE")
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read export output", "INTERNAL_ERROR")
			return
		}

		name := filepath.Base(job.OutputPath)
		w.Header().Set("Content-Type", exportContentType(job.Format))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func exportContentType(format string) string {
	if format == export.FormatEDL {
		return "text/plain; charset=utf-8"
	}
	return "video/mp4"
}

// exportEventsHandler streams progress of one job over a websocket. The
// stream ends with the terminal event; a job that already finished gets
// one final event and a close.
func exportEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := cfg.Exports.Get(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}

		conn, err := eventUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied
			cfg.Logger.Warn("export events upgrade failed", "export_id", id, "error", err)
			return
		}
		defer conn.Close()

		logger := logging.WithExportID(cfg.Logger, id)
		events, unsubscribe := cfg.Exports.Subscribe(id)
		defer unsubscribe()

		// reads only serve control frames and notice the client going away
		gone := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(p export.Progress) error {
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			return conn.WriteJSON(ExportEvent{ExportID: id, Progress: p})
		}

		ping := time.NewTicker(eventPingPeriod)
		defer ping.Stop()

		sentTerminal := false
		for {
			select {
			case p, ok := <-events:
				if !ok {
					if !sentTerminal {
						if job, err := cfg.Exports.Get(r.Context(), id); err == nil && job.Finished() {
							_ = send(terminalProgress(job))
						}
					}
					closeEvents(conn)
					return
				}
				if err := send(p); err != nil {
					logger.Debug("export events client write failed", "error", err)
					return
				}
				if p.Phase.Terminal() {
					sentTerminal = true
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

// terminalProgress describes a job that finished before this process saw
// any of its events.
func terminalProgress(job *export.Job) export.Progress {
	switch job.Status {
	case export.StatusCompleted:
		return export.Progress{Phase: export.PhaseComplete, Percent: 100, Message: "Export complete!"}
	case export.StatusCancelled:
		return export.Progress{Phase: export.PhaseCancelled, Percent: job.Progress, Message: "Export cancelled"}
	default:
		msg := job.Error
		if msg == "" {
			msg = "Export failed"
		}
		return export.Progress{Phase: export.PhaseError, Percent: job.Progress, Message: msg}
	}
}

func closeEvents(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "export finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventWriteWait))
}
