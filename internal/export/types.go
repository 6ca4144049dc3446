// Package export assembles the chosen takes of a project into a single
// deliverable: a losslessly concatenated mp4 or an EDL of the timeline.
package export

import (
	"errors"
	"time"
)

var (
	ErrCancelled         = errors.New("export cancelled")
	ErrNoInputs          = errors.New("no clips to export")
	ErrJobNotFound       = errors.New("export job not found")
	ErrJobFinished       = errors.New("export job already finished")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

const (
	FormatMP4 = "mp4"
	FormatEDL = "edl"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Phase is the stage reported by a progress event.
type Phase string

const (
	PhaseLoading    Phase = "loading"
	PhaseProcessing Phase = "processing"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further events follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

type Progress struct {
	Phase       Phase  `json:"phase"`
	Percent     int    `json:"percent"`
	Message     string `json:"message"`
	CurrentFile string `json:"currentFile,omitempty"`
}

type ProgressFunc func(Progress)

// Input is one chosen take in timeline order.
type Input struct {
	FileName   string
	ContentURL string
	Data       []byte
	Duration   float64
}

// Request describes an export submitted by the user.
type Request struct {
	Format    string
	FrameRate float64
}

type Job struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Format     string    `json:"format"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	ClipCount  int       `json:"clipCount"`
	OutputPath string    `json:"outputPath,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
