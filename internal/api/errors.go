package api

import (
	"errors"
	"net/http"

	"github.com/elizor/elizor/internal/export"
	"github.com/elizor/elizor/internal/project"
)

// writeDomainError maps engine and export errors onto HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, project.ErrNoProject):
		WriteError(w, http.StatusConflict, "no project is open", "NO_PROJECT")
	case errors.Is(err, project.ErrProjectNotFound),
		errors.Is(err, project.ErrShotNotFound),
		errors.Is(err, project.ErrClipNotFound),
		errors.Is(err, export.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, project.ErrIndexOutOfRange),
		errors.Is(err, export.ErrUnsupportedFormat):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, export.ErrNoInputs):
		WriteError(w, http.StatusUnprocessableEntity, "the timeline has no chosen takes to export", "NOTHING_TO_EXPORT")
	case errors.Is(err, export.ErrJobFinished):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
