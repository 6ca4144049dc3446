package project

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/elizor/elizor/internal/script"
)

type ShotStatus string

const (
	StatusEmpty    ShotStatus = "empty"
	StatusHasVideo ShotStatus = "has-video"
	StatusUsed     ShotStatus = "used"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Settings describe the output target of a project. They are fixed once the
// project is created.
type Settings struct {
	Platform       string     `json:"platform"`
	AspectRatio    string     `json:"aspectRatio"`
	TargetDuration int        `json:"targetDuration"`
	Resolution     Resolution `json:"resolution"`
}

// DefaultSettings is the vertical short-form preset.
func DefaultSettings() Settings {
	return Settings{
		Platform:       "tiktok",
		AspectRatio:    "9:16",
		TargetDuration: 60,
		Resolution:     Resolution{Width: 1080, Height: 1920},
	}
}

type Project struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Settings      Settings  `json:"settings"`
	Shots         []Shot    `json:"shots"`
	TimelineOrder []string  `json:"timelineOrder"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Clone returns a deep copy that shares no slices with p.
func (p Project) Clone() Project {
	out := p
	out.Shots = make([]Shot, len(p.Shots))
	for i, s := range p.Shots {
		out.Shots[i] = s.Clone()
	}
	out.TimelineOrder = append([]string{}, p.TimelineOrder...)
	return out
}

func (p *Project) shotPosition(id string) int {
	for i := range p.Shots {
		if p.Shots[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Project) renumber() {
	for i := range p.Shots {
		p.Shots[i].Index = i
	}
}

// Shot is one beat of the story. Keys a script supplies beyond the fixed
// fields travel in Extras and are written back out as top-level keys.
type Shot struct {
	ID           string
	Index        int
	Status       ShotStatus
	UsedVideoID  string
	LastFrameURL string

	Duration   float64
	Visual     string
	Camera     string
	Transition string
	Dialogue   string

	Extras script.Extras
}

// reservedKeys are managed by the engine and never taken from a script.
var reservedKeys = map[string]bool{
	"id":           true,
	"index":        true,
	"status":       true,
	"usedVideoId":  true,
	"lastFrameUrl": true,
}

var fixedKeys = map[string]bool{
	"duration":   true,
	"visual":     true,
	"camera":     true,
	"transition": true,
	"dialogue":   true,
}

func (s Shot) Clone() Shot {
	s.Extras = s.Extras.Clone()
	return s
}

func (s Shot) MarshalJSON() ([]byte, error) {
	fields := []script.KeyValue{
		{Key: "id", Value: s.ID},
		{Key: "index", Value: s.Index},
		{Key: "status", Value: s.Status},
	}
	if s.UsedVideoID != "" {
		fields = append(fields, script.KeyValue{Key: "usedVideoId", Value: s.UsedVideoID})
	}
	if s.LastFrameURL != "" {
		fields = append(fields, script.KeyValue{Key: "lastFrameUrl", Value: s.LastFrameURL})
	}
	fields = append(fields,
		script.KeyValue{Key: "duration", Value: s.Duration},
		script.KeyValue{Key: "visual", Value: s.Visual},
		script.KeyValue{Key: "camera", Value: s.Camera},
		script.KeyValue{Key: "transition", Value: s.Transition},
	)
	if s.Dialogue != "" {
		fields = append(fields, script.KeyValue{Key: "dialogue", Value: s.Dialogue})
	}
	return script.MarshalFlat(fields, s.Extras.Without(reservedKeys))
}

func (s *Shot) UnmarshalJSON(data []byte) error {
	fields, err := script.ObjectFields(data)
	if err != nil {
		return fmt.Errorf("decode shot: %w", err)
	}
	*s = Shot{}
	for _, f := range fields {
		var err error
		switch f.Key {
		case "id":
			err = json.Unmarshal(f.Value, &s.ID)
		case "index":
			err = json.Unmarshal(f.Value, &s.Index)
		case "status":
			err = json.Unmarshal(f.Value, &s.Status)
		case "usedVideoId":
			err = json.Unmarshal(f.Value, &s.UsedVideoID)
		case "lastFrameUrl":
			err = json.Unmarshal(f.Value, &s.LastFrameURL)
		case "duration":
			err = json.Unmarshal(f.Value, &s.Duration)
		case "visual":
			s.Visual = script.TextValue(f.Value)
		case "camera":
			s.Camera = script.TextValue(f.Value)
		case "transition":
			s.Transition = script.TextValue(f.Value)
		case "dialogue":
			if string(f.Value) != "null" {
				s.Dialogue = script.TextValue(f.Value)
			}
		default:
			s.Extras.Set(f.Key, script.TextValue(f.Value))
		}
		if err != nil {
			return fmt.Errorf("decode shot field %s: %w", f.Key, err)
		}
	}
	return nil
}

// shotFromScript builds a fresh, clip-less shot at the given story position.
func shotFromScript(ss script.ScriptShot, index int) Shot {
	return Shot{
		ID:         uuid.NewString(),
		Index:      index,
		Status:     StatusEmpty,
		Duration:   ss.Duration,
		Visual:     ss.Visual,
		Camera:     ss.Camera,
		Transition: ss.Transition,
		Dialogue:   ss.Dialogue,
		Extras:     ss.Extras.Without(reservedKeys).Without(fixedKeys),
	}
}

// ShotPatch carries caller-editable shot fields. Nil fields are left alone.
// Extras entries are merged key by key; an empty value removes the key.
type ShotPatch struct {
	Duration   *float64          `json:"duration,omitempty"`
	Visual     *string           `json:"visual,omitempty"`
	Camera     *string           `json:"camera,omitempty"`
	Transition *string           `json:"transition,omitempty"`
	Dialogue   *string           `json:"dialogue,omitempty"`
	Extras     map[string]string `json:"extras,omitempty"`
}

func (p ShotPatch) apply(s *Shot) {
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.Visual != nil {
		s.Visual = *p.Visual
	}
	if p.Camera != nil {
		s.Camera = *p.Camera
	}
	if p.Transition != nil {
		s.Transition = *p.Transition
	}
	if p.Dialogue != nil {
		s.Dialogue = *p.Dialogue
	}
	if len(p.Extras) == 0 {
		return
	}
	s.Extras = s.Extras.Clone()
	for _, key := range sortedKeys(p.Extras) {
		if reservedKeys[key] || fixedKeys[key] {
			continue
		}
		if v := p.Extras[key]; v == "" {
			s.Extras.Delete(key)
		} else {
			s.Extras.Set(key, v)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VideoClip is a candidate take for a shot. Data holds the raw file bytes
// and is never serialized with the clip metadata.
type VideoClip struct {
	ID           string    `json:"id"`
	ShotID       string    `json:"shotId"`
	FileName     string    `json:"fileName"`
	ContentType  string    `json:"contentType,omitempty"`
	ContentURL   string    `json:"contentUrl"`
	Data         []byte    `json:"-"`
	Size         int64     `json:"size"`
	Duration     float64   `json:"duration"`
	IsUsed       bool      `json:"isUsed"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ContentURL is the playable handle under which the API serves clip bytes.
func ContentURL(clipID string) string {
	return "/clips/" + clipID + "/content"
}

// NewClip stamps a clip with a fresh id, handle and creation time.
func NewClip(shotID, fileName, contentType string, data []byte) VideoClip {
	id := uuid.NewString()
	return VideoClip{
		ID:          id,
		ShotID:      shotID,
		FileName:    fileName,
		ContentType: contentType,
		ContentURL:  ContentURL(id),
		Data:        data,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
}

// Summary is the listing form of a stored project.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ShotCount int       `json:"shotCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
