package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elizor/elizor/internal/project"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Post("/projects/{id}/open", openProjectHandler(cfg))

		r.Post("/scripts/validate", validateScriptHandler(cfg))

		r.Route("/project", func(r chi.Router) {
			r.Get("/", currentProjectHandler(cfg))
			r.Post("/save", saveProjectHandler(cfg))
			r.Post("/script", loadScriptHandler(cfg))

			r.Post("/shots/reorder", reorderShotsHandler(cfg))
			r.Patch("/shots/{id}", updateShotHandler(cfg))
			r.Delete("/shots/{id}", deleteShotHandler(cfg))
			r.Post("/shots/{id}/duplicate", duplicateShotHandler(cfg))
			r.Get("/shots/{id}/clips", listShotClipsHandler(cfg))
			r.Post("/shots/{id}/clips", uploadClipHandler(cfg))
			r.Post("/shots/{id}/clips/{clipId}/use", useClipHandler(cfg))

			r.Get("/selection", getSelectionHandler(cfg))
			r.Put("/selection", putSelectionHandler(cfg))

			r.Put("/timeline", updateTimelineHandler(cfg))
			r.Get("/playback", playbackSegmentsHandler(cfg))
		})

		r.Delete("/clips/{id}", deleteClipHandler(cfg))
		r.Get("/clips/{id}/content", clipContentHandler(cfg))
		r.Head("/clips/{id}/content", clipContentHandler(cfg))

		r.Post("/exports", submitExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Delete("/exports/{id}", cancelExportHandler(cfg))
		r.Get("/exports/{id}/events", exportEventsHandler(cfg))
		r.Get("/exports/{id}/download", downloadExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

// statusHandler summarises the agent for the tray and the editor header. It
// only peeks at the media probe cache so that polling never spawns ffmpeg.
func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := cfg.Engine.PersistenceHealth()
		resp := StatusResponse{
			State:               "idle",
			PersistenceDegraded: health.Degraded,
			Persistence:         health,
		}

		if p, ok := cfg.Engine.Project(); ok {
			resp.Project = projectStatus(p, cfg.Engine.PlaybackSegments())
		}

		if cfg.Exports != nil {
			resp.ExportsActive = cfg.Exports.ActiveCount()
			if resp.ExportsActive > 0 {
				resp.State = "exporting"
			}
		}
		if health.Degraded && resp.State == "idle" {
			resp.State = "degraded"
		}

		if cfg.Doctor != nil {
			resp.Media = mediaStatus(cfg.Doctor.Peek())
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func projectStatus(p project.Project, segments []project.Segment) *ProjectStatus {
	used := 0
	for _, s := range p.Shots {
		if s.Status == project.StatusUsed {
			used++
		}
	}
	return &ProjectStatus{
		ID:            p.ID,
		Title:         p.Title,
		ShotCount:     len(p.Shots),
		UsedCount:     used,
		TimelineCount: len(segments),
		TotalDuration: project.TotalDuration(segments),
	}
}
