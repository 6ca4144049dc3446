// Package project holds the editing state of the open project: its shots,
// the candidate clips of every shot, the chosen takes and the timeline built
// from them. Engine is the only writer of that state; Store mirrors it.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elizor/elizor/internal/script"
)

var (
	ErrNoProject       = errors.New("no project loaded")
	ErrProjectNotFound = errors.New("project not found")
	ErrShotNotFound    = errors.New("shot not found")
	ErrClipNotFound    = errors.New("clip not found")
	ErrIndexOutOfRange = errors.New("shot index out of range")
)

const defaultFrameTimeout = 15 * time.Second

// FrameExtractor produces the continuity still of a clip as an image URL.
type FrameExtractor interface {
	LastFrame(ctx context.Context, data []byte) (string, error)
}

type Engine struct {
	store        Store
	writer       *Writer
	extractor    FrameExtractor
	logger       *slog.Logger
	frameTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	project  *Project
	clips    map[string][]VideoClip
	selected string
}

// NewEngine returns an engine with no project loaded. extractor may be nil,
// in which case chosen takes never get a continuity still.
func NewEngine(store Store, writer *Writer, extractor FrameExtractor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        store,
		writer:       writer,
		extractor:    extractor,
		logger:       logger,
		frameTimeout: defaultFrameTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		clips:        make(map[string][]VideoClip),
	}
}

func (e *Engine) SetFrameTimeout(d time.Duration) {
	if d > 0 {
		e.frameTimeout = d
	}
}

// Reset drops the open project, its clips and the selection.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.project = nil
	e.clips = make(map[string][]VideoClip)
	e.selected = ""
}

// Close waits for queued writes to reach the store.
func (e *Engine) Close(ctx context.Context) error {
	return e.writer.Flush(ctx)
}

func (e *Engine) PersistenceHealth() Health {
	return e.writer.Health()
}

func (e *Engine) CreateProject(ctx context.Context, title string, settings Settings) error {
	now := e.now()
	p := &Project{
		ID:            uuid.NewString(),
		Title:         title,
		Settings:      settings,
		Shots:         []Shot{},
		TimelineOrder: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.AddProject(ctx, p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.project = p
	e.clips = make(map[string][]VideoClip)
	e.selected = ""
	e.logger.Info("project created", "project_id", p.ID, "title", title)
	return nil
}

// LoadProject replaces the open project with the stored project id. Queued
// writes land first so the store is not older than memory.
func (e *Engine) LoadProject(ctx context.Context, id string) error {
	if err := e.writer.Flush(ctx); err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	p, err := e.store.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if p == nil {
		return fmt.Errorf("load project %s: %w", id, ErrProjectNotFound)
	}

	clips := make(map[string][]VideoClip)
	for _, shot := range p.Shots {
		stored, err := e.store.ListClipsByShot(ctx, shot.ID)
		if err != nil {
			return fmt.Errorf("load clips for shot %s: %w", shot.ID, err)
		}
		if len(stored) == 0 {
			continue
		}
		list := make([]VideoClip, len(stored))
		for i, c := range stored {
			list[i] = *c
		}
		clips[shot.ID] = list
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.project = p
	e.clips = clips
	e.selected = ""
	e.logger.Info("project loaded", "project_id", p.ID, "shots", len(p.Shots), "shots_with_clips", len(clips))
	return nil
}

// LoadLatestProject opens the most recently updated stored project.
func (e *Engine) LoadLatestProject(ctx context.Context) error {
	if err := e.writer.Flush(ctx); err != nil {
		return fmt.Errorf("find latest project: %w", err)
	}
	recent, err := e.store.ListRecentProjects(ctx, 1)
	if err != nil {
		return fmt.Errorf("find latest project: %w", err)
	}
	if len(recent) == 0 {
		return ErrProjectNotFound
	}
	return e.LoadProject(ctx, recent[0].ID)
}

func (e *Engine) ListProjects(ctx context.Context, limit int) ([]Summary, error) {
	if err := e.writer.Flush(ctx); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projects, err := e.store.ListRecentProjects(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(projects))
	for _, p := range projects {
		out = append(out, Summary{
			ID:        p.ID,
			Title:     p.Title,
			ShotCount: len(p.Shots),
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		})
	}
	return out, nil
}

// SaveProject writes the open project through to the store before returning.
// It is a no-op when nothing is open.
func (e *Engine) SaveProject(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return nil
	}

	// queued snapshots must not land after this write
	if err := e.writer.Flush(ctx); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	stamped := e.project.Clone()
	stamped.UpdatedAt = e.now()
	if err := e.store.PutProject(ctx, &stamped); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	e.project.UpdatedAt = stamped.UpdatedAt
	return nil
}

// LoadStoryScript replaces every shot of the open project with fresh shots
// built from s. Timeline and clip associations start over.
func (e *Engine) LoadStoryScript(s *script.StoryScript) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return ErrNoProject
	}

	shots := make([]Shot, len(s.Shots))
	for i, ss := range s.Shots {
		shots[i] = shotFromScript(ss, i)
	}

	for _, old := range e.project.Shots {
		if _, ok := e.clips[old.ID]; ok {
			e.deleteStoredClips(old.ID)
		}
	}

	e.project.Title = s.Title
	e.project.Shots = shots
	e.project.TimelineOrder = []string{}
	e.clips = make(map[string][]VideoClip)
	e.selected = ""
	e.logger.Info("story script loaded", "project_id", e.project.ID, "shots", len(shots))
	e.scheduleSave()
	return nil
}

func (e *Engine) UpdateShot(shotID string, patch ShotPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	shot, err := e.shot(shotID)
	if err != nil {
		return err
	}
	patch.apply(shot)
	e.scheduleSave()
	return nil
}

// ReorderShots moves the shot at from to position to and renumbers every
// shot. Positions outside the shot list leave the project untouched.
func (e *Engine) ReorderShots(from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return ErrNoProject
	}
	n := len(e.project.Shots)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("reorder %d -> %d of %d shots: %w", from, to, n, ErrIndexOutOfRange)
	}

	shots := e.project.Shots
	moved := shots[from]
	rest := append(append([]Shot{}, shots[:from]...), shots[from+1:]...)
	out := make([]Shot, 0, n)
	out = append(out, rest[:to]...)
	out = append(out, moved)
	out = append(out, rest[to:]...)

	e.project.Shots = out
	e.project.renumber()
	e.scheduleSave()
	return nil
}

// DeleteShot removes a shot with its clips. The remaining shots keep their
// Index values, gaps included.
func (e *Engine) DeleteShot(shotID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return ErrNoProject
	}
	pos := e.project.shotPosition(shotID)
	if pos < 0 {
		return fmt.Errorf("delete shot %s: %w", shotID, ErrShotNotFound)
	}

	e.project.Shots = append(e.project.Shots[:pos:pos], e.project.Shots[pos+1:]...)
	e.project.TimelineOrder = removeID(e.project.TimelineOrder, shotID)
	delete(e.clips, shotID)
	if e.selected == shotID {
		e.selected = ""
	}
	e.deleteStoredClips(shotID)
	e.scheduleSave()
	return nil
}

// DuplicateShot inserts a clip-less copy right after the original.
func (e *Engine) DuplicateShot(shotID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return ErrNoProject
	}
	pos := e.project.shotPosition(shotID)
	if pos < 0 {
		return fmt.Errorf("duplicate shot %s: %w", shotID, ErrShotNotFound)
	}

	dup := e.project.Shots[pos].Clone()
	dup.ID = uuid.NewString()
	dup.Status = StatusEmpty
	dup.UsedVideoID = ""
	dup.LastFrameURL = ""

	shots := make([]Shot, 0, len(e.project.Shots)+1)
	shots = append(shots, e.project.Shots[:pos+1]...)
	shots = append(shots, dup)
	shots = append(shots, e.project.Shots[pos+1:]...)
	e.project.Shots = shots
	e.project.renumber()
	e.scheduleSave()
	return nil
}

// SelectShot sets the selected shot; an empty id clears the selection.
func (e *Engine) SelectShot(shotID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = shotID
}

func (e *Engine) SelectedShot() (Shot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil || e.selected == "" {
		return Shot{}, false
	}
	pos := e.project.shotPosition(e.selected)
	if pos < 0 {
		return Shot{}, false
	}
	return e.project.Shots[pos].Clone(), true
}

// AddVideo stores clip as a new, unchosen candidate of the shot. A shot that
// already has a chosen take keeps it.
func (e *Engine) AddVideo(ctx context.Context, shotID string, clip VideoClip) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	shot, err := e.shot(shotID)
	if err != nil {
		return err
	}

	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = e.now()
	}
	clip.ShotID = shotID
	clip.IsUsed = false
	clip.ContentURL = ContentURL(clip.ID)
	clip.Size = int64(len(clip.Data))

	if err := e.store.AddClip(ctx, &clip); err != nil {
		return fmt.Errorf("add clip: %w", err)
	}

	e.clips[shotID] = append(e.clips[shotID], clip)
	if shot.Status == StatusEmpty {
		shot.Status = StatusHasVideo
	}
	e.logger.Info("clip added", "shot_id", shotID, "clip_id", clip.ID, "file", clip.FileName)
	e.scheduleSave()
	return nil
}

// MarkVideoAsUsed makes videoID the single chosen take of the shot and puts
// the shot on the timeline in story order if it is not there yet. The
// continuity still is extracted afterwards without holding the engine; a
// failed extraction leaves the shot without a still.
func (e *Engine) MarkVideoAsUsed(ctx context.Context, shotID, videoID string) error {
	e.mu.Lock()
	shot, err := e.shot(shotID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	list := e.clips[shotID]
	target := -1
	for i := range list {
		if list[i].ID == videoID {
			target = i
			break
		}
	}
	if target < 0 {
		e.mu.Unlock()
		return fmt.Errorf("mark clip %s on shot %s: %w", videoID, shotID, ErrClipNotFound)
	}

	for i := range list {
		used := i == target
		if list[i].IsUsed == used {
			continue
		}
		list[i].IsUsed = used
		id := list[i].ID
		e.writer.Enqueue("update clip used", func(ctx context.Context) error {
			return e.store.UpdateClipUsed(ctx, id, used)
		})
	}

	unchanged := shot.Status == StatusUsed && shot.UsedVideoID == videoID
	shot.Status = StatusUsed
	shot.UsedVideoID = videoID
	if !unchanged {
		shot.LastFrameURL = ""
	}

	if !containsID(e.project.TimelineOrder, shotID) {
		e.project.TimelineOrder = append(e.project.TimelineOrder, shotID)
		e.sortTimelineByStory()
	}
	e.scheduleSave()

	projectID := e.project.ID
	data := list[target].Data
	needStill := e.extractor != nil && !(unchanged && shot.LastFrameURL != "")
	e.mu.Unlock()

	if !needStill {
		return nil
	}

	frameCtx, cancel := context.WithTimeout(ctx, e.frameTimeout)
	defer cancel()
	still, err := e.extractor.LastFrame(frameCtx, data)
	if err != nil {
		e.logger.Warn("failed to extract last frame", "shot_id", shotID, "clip_id", videoID, "error", err)
		still = ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil || e.project.ID != projectID {
		return nil
	}
	pos := e.project.shotPosition(shotID)
	if pos < 0 || e.project.Shots[pos].UsedVideoID != videoID {
		return nil
	}
	e.project.Shots[pos].LastFrameURL = still
	e.scheduleSave()
	return nil
}

// DeleteVideo removes a clip from the store and from its shot. A shot left
// without candidates becomes empty; a shot that lost its chosen take keeps
// its other candidates but has none chosen. The timeline is not pruned.
func (e *Engine) DeleteVideo(ctx context.Context, videoID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return ErrNoProject
	}

	shotID, pos := e.findClip(videoID)
	if pos < 0 {
		return fmt.Errorf("delete clip %s: %w", videoID, ErrClipNotFound)
	}
	if err := e.store.DeleteClip(ctx, videoID); err != nil {
		return fmt.Errorf("delete clip: %w", err)
	}

	list := e.clips[shotID]
	wasUsed := list[pos].IsUsed
	remaining := append(list[:pos:pos], list[pos+1:]...)

	var shot *Shot
	if i := e.project.shotPosition(shotID); i >= 0 {
		shot = &e.project.Shots[i]
	}

	switch {
	case len(remaining) == 0:
		delete(e.clips, shotID)
		if shot != nil {
			shot.Status = StatusEmpty
			shot.UsedVideoID = ""
		}
	case wasUsed:
		e.clips[shotID] = remaining
		if shot != nil {
			shot.Status = StatusHasVideo
			shot.UsedVideoID = ""
		}
	default:
		e.clips[shotID] = remaining
	}

	e.logger.Info("clip deleted", "shot_id", shotID, "clip_id", videoID, "was_used", wasUsed)
	e.scheduleSave()
	return nil
}

// UpdateTimelineOrder replaces the timeline as given; membership is the
// caller's responsibility.
func (e *Engine) UpdateTimelineOrder(order []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return ErrNoProject
	}
	e.project.TimelineOrder = append([]string{}, order...)
	e.scheduleSave()
	return nil
}

// ShotVideos returns the candidates of a shot in the order they were added.
func (e *Engine) ShotVideos(shotID string) []VideoClip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]VideoClip{}, e.clips[shotID]...)
}

// Clip finds a candidate clip of the open project by id.
func (e *Engine) Clip(videoID string) (VideoClip, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	shotID, pos := e.findClip(videoID)
	if pos < 0 {
		return VideoClip{}, false
	}
	return e.clips[shotID][pos], true
}

// Project returns a copy of the open project.
func (e *Engine) Project() (Project, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return Project{}, false
	}
	return e.project.Clone(), true
}

func (e *Engine) PlaybackSegments() []Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return nil
	}
	return BuildPlaybackSegments(*e.project, MapLookup(e.clips))
}

func (e *Engine) ExportInputs() []VideoClip {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return nil
	}
	return BuildExportInputs(*e.project, MapLookup(e.clips))
}

// shot returns the live shot; callers hold e.mu.
func (e *Engine) shot(shotID string) (*Shot, error) {
	if e.project == nil {
		return nil, ErrNoProject
	}
	pos := e.project.shotPosition(shotID)
	if pos < 0 {
		return nil, fmt.Errorf("shot %s: %w", shotID, ErrShotNotFound)
	}
	return &e.project.Shots[pos], nil
}

func (e *Engine) findClip(videoID string) (string, int) {
	for shotID, list := range e.clips {
		for i := range list {
			if list[i].ID == videoID {
				return shotID, i
			}
		}
	}
	return "", -1
}

func (e *Engine) sortTimelineByStory() {
	index := make(map[string]int, len(e.project.Shots))
	for _, s := range e.project.Shots {
		index[s.ID] = s.Index
	}
	sort.SliceStable(e.project.TimelineOrder, func(i, j int) bool {
		return index[e.project.TimelineOrder[i]] < index[e.project.TimelineOrder[j]]
	})
}

// scheduleSave stamps the project and queues a snapshot write; callers hold
// e.mu.
func (e *Engine) scheduleSave() {
	e.project.UpdatedAt = e.now()
	snapshot := e.project.Clone()
	e.writer.Enqueue("save project", func(ctx context.Context) error {
		return e.store.PutProject(ctx, &snapshot)
	})
}

func (e *Engine) deleteStoredClips(shotID string) {
	e.writer.Enqueue("delete shot clips", func(ctx context.Context) error {
		return e.store.DeleteClipsByShot(ctx, shotID)
	})
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
