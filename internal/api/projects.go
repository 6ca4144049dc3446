package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/elizor/elizor/internal/logging"
	"github.com/elizor/elizor/internal/project"
	"github.com/elizor/elizor/internal/script"
)

const defaultProjectLimit = 20

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultProjectLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 200 {
				WriteError(w, http.StatusBadRequest, "limit must be between 1 and 200", "BAD_REQUEST")
				return
			}
			limit = n
		}

		projects, err := cfg.Engine.ListProjects(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list projects", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, ProjectsResponse{Projects: projects})
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		if err := cfg.Engine.CreateProject(r.Context(), req.Title, req.Settings.toSettings()); err != nil {
			cfg.Logger.Error("failed to create project", "error", err)
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusCreated)
	}
}

func openProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Engine.LoadProject(r.Context(), id); err != nil {
			if !errors.Is(err, project.ErrProjectNotFound) {
				logging.WithProjectID(cfg.Logger, id).Error("failed to open project", "error", err)
			}
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func currentProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func saveProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := cfg.Engine.Project(); !ok {
			writeDomainError(w, project.ErrNoProject)
			return
		}
		if err := cfg.Engine.SaveProject(r.Context()); err != nil {
			cfg.Logger.Error("failed to save project", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to save project", "PERSISTENCE_ERROR")
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func validateScriptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScriptRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		WriteJSON(w, http.StatusOK, script.Parse(req.Script))
	}
}

func loadScriptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScriptRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}

		res := script.Parse(req.Script)
		if !res.Success {
			WriteJSON(w, http.StatusUnprocessableEntity, ScriptErrorResponse{
				Error:  script.FormatErrors(res.Errors),
				Code:   "INVALID_SCRIPT",
				Errors: res.Errors,
			})
			return
		}
		if err := cfg.Engine.LoadStoryScript(res.Script); err != nil {
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func updateShotHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateShotRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		if err := cfg.Engine.UpdateShot(chi.URLParam(r, "id"), req.toPatch()); err != nil {
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func reorderShotsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReorderRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		if err := cfg.Engine.ReorderShots(*req.From, *req.To); err != nil {
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func duplicateShotHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Engine.DuplicateShot(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusCreated)
	}
}

func deleteShotHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Engine.DeleteShot(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func getSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := cfg.Engine.Project(); !ok {
			writeDomainError(w, project.ErrNoProject)
			return
		}
		var resp SelectionResponse
		if shot, ok := cfg.Engine.SelectedShot(); ok {
			resp.Shot = &shot
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// putSelectionHandler selects a shot of the open project. An empty id
// clears the selection.
func putSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectionRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		p, ok := cfg.Engine.Project()
		if !ok {
			writeDomainError(w, project.ErrNoProject)
			return
		}
		if req.ShotID != "" && findShot(p, req.ShotID) == nil {
			writeDomainError(w, project.ErrShotNotFound)
			return
		}

		cfg.Engine.SelectShot(req.ShotID)
		var resp SelectionResponse
		if shot, ok := cfg.Engine.SelectedShot(); ok {
			resp.Shot = &shot
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func updateTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TimelineRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		if err := cfg.Engine.UpdateTimelineOrder(req.Order); err != nil {
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func playbackSegmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := cfg.Engine.Project(); !ok {
			writeDomainError(w, project.ErrNoProject)
			return
		}
		segments := cfg.Engine.PlaybackSegments()
		if segments == nil {
			segments = []project.Segment{}
		}
		WriteJSON(w, http.StatusOK, PlaybackResponse{
			Segments:      segments,
			TotalDuration: project.TotalDuration(segments),
		})
	}
}

func writeCurrentProject(w http.ResponseWriter, cfg ServerConfig, status int) {
	p, ok := cfg.Engine.Project()
	if !ok {
		writeDomainError(w, project.ErrNoProject)
		return
	}
	resp := ProjectResponse{Project: p}
	if shot, ok := cfg.Engine.SelectedShot(); ok {
		resp.SelectedShotID = shot.ID
	}
	WriteJSON(w, status, resp)
}

func findShot(p project.Project, id string) *project.Shot {
	for i := range p.Shots {
		if p.Shots[i].ID == id {
			return &p.Shots[i]
		}
	}
	return nil
}
