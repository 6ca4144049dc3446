package api

import (
	"time"

	"github.com/elizor/elizor/internal/export"
	"github.com/elizor/elizor/internal/media"
	"github.com/elizor/elizor/internal/project"
	"github.com/elizor/elizor/internal/script"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State               string               `json:"state"`
	Project             *ProjectStatus       `json:"project,omitempty"`
	ExportsActive       int                  `json:"exports_active"`
	Media               *MediaStatusResponse `json:"media,omitempty"`
	PersistenceDegraded bool                 `json:"persistence_degraded"`
	Persistence         project.Health       `json:"persistence"`
}

type ProjectStatus struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	ShotCount     int     `json:"shot_count"`
	UsedCount     int     `json:"used_count"`
	TimelineCount int     `json:"timeline_count"`
	TotalDuration float64 `json:"total_duration"`
}

type MediaStatusResponse struct {
	CanExport   bool           `json:"can_export"`
	CanExtract  bool           `json:"can_extract"`
	FFmpeg      media.ToolInfo `json:"ffmpeg"`
	FFprobe     media.ToolInfo `json:"ffprobe"`
	LastProbeAt string         `json:"last_probe_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ValidationErrorResponse carries field-level failures.
type ValidationErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details"`
}

// ScriptErrorResponse is returned when a story script is rejected.
type ScriptErrorResponse struct {
	Error  string                   `json:"error"`
	Code   string                   `json:"code"`
	Errors []script.ValidationError `json:"errors"`
}

type SettingsRequest struct {
	Platform       string `json:"platform" validate:"omitempty,max=32"`
	AspectRatio    string `json:"aspectRatio" validate:"omitempty,max=16"`
	TargetDuration int    `json:"targetDuration" validate:"omitempty,gt=0,lte=3600"`
	Width          int    `json:"width" validate:"omitempty,gt=0,lte=7680"`
	Height         int    `json:"height" validate:"omitempty,gt=0,lte=7680"`
}

// toSettings overlays the request on the TikTok preset.
func (s *SettingsRequest) toSettings() project.Settings {
	out := project.DefaultSettings()
	if s == nil {
		return out
	}
	if s.Platform != "" {
		out.Platform = s.Platform
	}
	if s.AspectRatio != "" {
		out.AspectRatio = s.AspectRatio
	}
	if s.TargetDuration > 0 {
		out.TargetDuration = s.TargetDuration
	}
	if s.Width > 0 {
		out.Resolution.Width = s.Width
	}
	if s.Height > 0 {
		out.Resolution.Height = s.Height
	}
	return out
}

type CreateProjectRequest struct {
	Title    string           `json:"title" validate:"required,max=200"`
	Settings *SettingsRequest `json:"settings" validate:"omitempty"`
}

type ProjectsResponse struct {
	Projects []project.Summary `json:"projects"`
}

type ProjectResponse struct {
	Project        project.Project `json:"project"`
	SelectedShotID string          `json:"selectedShotId,omitempty"`
}

type ScriptRequest struct {
	Script string `json:"script" validate:"required"`
}

type UpdateShotRequest struct {
	Duration   *float64          `json:"duration" validate:"omitempty,gt=0"`
	Visual     *string           `json:"visual" validate:"omitempty,min=1"`
	Camera     *string           `json:"camera" validate:"omitempty,min=1"`
	Transition *string           `json:"transition" validate:"omitempty,min=1"`
	Dialogue   *string           `json:"dialogue"`
	Extras     map[string]string `json:"extras"`
}

func (r UpdateShotRequest) toPatch() project.ShotPatch {
	return project.ShotPatch{
		Duration:   r.Duration,
		Visual:     r.Visual,
		Camera:     r.Camera,
		Transition: r.Transition,
		Dialogue:   r.Dialogue,
		Extras:     r.Extras,
	}
}

type ReorderRequest struct {
	From *int `json:"from" validate:"required,gte=0"`
	To   *int `json:"to" validate:"required,gte=0"`
}

type SelectionRequest struct {
	ShotID string `json:"shotId"`
}

type SelectionResponse struct {
	Shot *project.Shot `json:"shot"`
}

type ClipsResponse struct {
	Clips []project.VideoClip `json:"clips"`
}

type TimelineRequest struct {
	Order []string `json:"order" validate:"required,dive,required"`
}

type PlaybackResponse struct {
	Segments      []project.Segment `json:"segments"`
	TotalDuration float64           `json:"totalDuration"`
}

type ExportRequest struct {
	Format    string  `json:"format" validate:"omitempty,oneof=mp4 edl MP4 EDL"`
	FrameRate float64 `json:"frameRate" validate:"omitempty,gt=0,lte=120"`
}

type ExportsResponse struct {
	Exports []*export.Job `json:"exports"`
}

// ExportEvent is one message on the export progress stream.
type ExportEvent struct {
	ExportID string          `json:"exportId"`
	Progress export.Progress `json:"progress"`
}

func mediaStatus(caps *media.Capabilities) *MediaStatusResponse {
	if caps == nil {
		return nil
	}
	resp := &MediaStatusResponse{
		CanExport:  caps.CanExport(),
		CanExtract: caps.CanExtract(),
		FFmpeg:     caps.FFmpeg,
		FFprobe:    caps.FFprobe,
	}
	if !caps.ProbedAt.IsZero() {
		resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
