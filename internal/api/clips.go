package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/elizor/elizor/internal/logging"
	"github.com/elizor/elizor/internal/media"
	"github.com/elizor/elizor/internal/playback"
	"github.com/elizor/elizor/internal/project"
)

const (
	uploadField = "file"
	// multipart framing on top of the clip itself
	uploadOverhead = 1 << 20
	// parts above this spill to temp files
	uploadMemory = 32 << 20
)

func listShotClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shotID := chi.URLParam(r, "id")
		p, ok := cfg.Engine.Project()
		if !ok {
			writeDomainError(w, project.ErrNoProject)
			return
		}
		if findShot(p, shotID) == nil {
			writeDomainError(w, project.ErrShotNotFound)
			return
		}
		WriteJSON(w, http.StatusOK, ClipsResponse{Clips: cfg.Engine.ShotVideos(shotID)})
	}
}

// uploadClipHandler accepts one multipart video file as a new candidate of
// the shot. Duration and thumbnail are best effort.
func uploadClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shotID := chi.URLParam(r, "id")
		logger := logging.WithShotID(cfg.Logger, shotID)

		p, ok := cfg.Engine.Project()
		if !ok {
			writeDomainError(w, project.ErrNoProject)
			return
		}
		if findShot(p, shotID) == nil {
			writeDomainError(w, project.ErrShotNotFound)
			return
		}

		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+uploadOverhead)
		}
		if err := r.ParseMultipartForm(uploadMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("File too large. Maximum size is %s.", humanize.IBytes(uint64(cfg.MaxUploadBytes))),
					"FILE_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "expected a multipart form upload", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile(uploadField)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "missing file field", "BAD_REQUEST")
			return
		}
		defer file.Close()

		contentType := media.DetectContentType(header.Filename, header.Header.Get("Content-Type"))
		if err := media.ValidateUpload(contentType, header.Size, cfg.MaxUploadBytes); err != nil {
			status := http.StatusUnsupportedMediaType
			code := "UNSUPPORTED_TYPE"
			if media.AllowedTypes[contentType] {
				status = http.StatusRequestEntityTooLarge
				code = "FILE_TOO_LARGE"
			}
			WriteError(w, status, err.Error(), code)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			logger.Error("failed to read upload", "error", err)
			WriteError(w, http.StatusBadRequest, "failed to read upload", "BAD_REQUEST")
			return
		}

		clip := project.NewClip(shotID, header.Filename, contentType, data)
		probeClip(r.Context(), cfg, logger, &clip)

		if err := cfg.Engine.AddVideo(r.Context(), shotID, clip); err != nil {
			if !errors.Is(err, project.ErrShotNotFound) && !errors.Is(err, project.ErrNoProject) {
				logger.Error("failed to add clip", "error", err)
			}
			writeDomainError(w, err)
			return
		}

		if stored, ok := cfg.Engine.Clip(clip.ID); ok {
			clip = stored
		}
		logger.Info("clip uploaded", "clip_id", clip.ID, "size", humanize.IBytes(uint64(clip.Size)))
		WriteJSON(w, http.StatusCreated, clip)
	}
}

func probeClip(ctx context.Context, cfg ServerConfig, logger *slog.Logger, clip *project.VideoClip) {
	if cfg.Extractor == nil {
		return
	}
	if cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ProbeTimeout)
		defer cancel()
	}

	if d, err := cfg.Extractor.Duration(ctx, clip.Data); err != nil {
		logger.Warn("clip duration unavailable", "file", clip.FileName, "error", err)
	} else {
		clip.Duration = d
	}
	if thumb, err := cfg.Extractor.Thumbnail(ctx, clip.Data); err != nil {
		logger.Warn("clip thumbnail unavailable", "file", clip.FileName, "error", err)
	} else {
		clip.ThumbnailURL = thumb
	}
}

func useClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shotID := chi.URLParam(r, "id")
		if err := cfg.Engine.MarkVideoAsUsed(r.Context(), shotID, chi.URLParam(r, "clipId")); err != nil {
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Engine.DeleteVideo(r.Context(), chi.URLParam(r, "id")); err != nil {
			if !errors.Is(err, project.ErrClipNotFound) && !errors.Is(err, project.ErrNoProject) {
				cfg.Logger.Error("failed to delete clip", "error", err)
			}
			writeDomainError(w, err)
			return
		}
		writeCurrentProject(w, cfg, http.StatusOK)
	}
}

func clipContentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, ok := cfg.Engine.Clip(chi.URLParam(r, "id"))
		if !ok {
			writeDomainError(w, project.ErrClipNotFound)
			return
		}
		cfg.Playback.Serve(w, r, playback.Content{
			ID:          clip.ID,
			FileName:    clip.FileName,
			ContentType: clip.ContentType,
			Data:        clip.Data,
		})
	}
}
