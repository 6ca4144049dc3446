// Package media wraps the ffmpeg and ffprobe executables: clip duration
// probing, continuity stills, thumbnails and upload checks.
package media

import (
	"context"
	"time"
)

// Extractor turns raw clip bytes into stills and a duration. Stills are
// returned as JPEG data URLs.
type Extractor interface {
	LastFrame(ctx context.Context, data []byte) (string, error)
	Thumbnail(ctx context.Context, data []byte) (string, error)
	Duration(ctx context.Context, data []byte) (float64, error)
}

// Capabilities reports which media executables are usable.
type Capabilities struct {
	FFmpeg   ToolInfo  `json:"ffmpeg"`
	FFprobe  ToolInfo  `json:"ffprobe"`
	ProbedAt time.Time `json:"probed_at"`
}

// CanExport reports whether clips can be concatenated.
func (c Capabilities) CanExport() bool {
	return c.FFmpeg.Available
}

// CanExtract reports whether stills and durations can be produced.
func (c Capabilities) CanExtract() bool {
	return c.FFmpeg.Available && c.FFprobe.Available
}

type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the outcome of one executable invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }
