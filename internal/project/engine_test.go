package project

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elizor/elizor/internal/db"
	"github.com/elizor/elizor/internal/logging"
	"github.com/elizor/elizor/internal/script"
)

type fakeExtractor struct {
	still string
	err   error
	calls atomic.Int32
}

func (f *fakeExtractor) LastFrame(ctx context.Context, data []byte) (string, error) {
	f.calls.Add(1)
	return f.still, f.err
}

func setupTestDB(t *testing.T) (*db.DB, *SQLiteStore) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, NewStore(database.Conn())
}

func newTestEnv(t *testing.T, store Store, extractor FrameExtractor) *Engine {
	t.Helper()
	writer := NewWriter(logging.Discard())
	t.Cleanup(func() { writer.Stop(context.Background()) })
	return NewEngine(store, writer, extractor, logging.Discard())
}

func setupEngine(t *testing.T) (*Engine, *SQLiteStore) {
	t.Helper()
	_, store := setupTestDB(t)
	return newTestEnv(t, store, &fakeExtractor{still: "data:image/jpeg;base64,AAAA"}), store
}

func mustScript(t *testing.T, raw string) *script.StoryScript {
	t.Helper()
	res := script.Parse(raw)
	if !res.Success {
		t.Fatalf("script did not parse: %v", res.Errors)
	}
	return res.Script
}

func scriptWithShots(t *testing.T, n int) *script.StoryScript {
	t.Helper()
	s := &script.StoryScript{Title: "Generated"}
	for i := 0; i < n; i++ {
		s.Shots = append(s.Shots, script.ScriptShot{
			Duration:   float64(i + 1),
			Visual:     "visual " + string(rune('A'+i)),
			Camera:     "static",
			Transition: "cut",
		})
	}
	return s
}

func newProjectWithShots(t *testing.T, e *Engine, n int) Project {
	t.Helper()
	ctx := context.Background()
	if err := e.CreateProject(ctx, "Test Project", DefaultSettings()); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if err := e.LoadStoryScript(scriptWithShots(t, n)); err != nil {
		t.Fatalf("LoadStoryScript() error = %v", err)
	}
	p, _ := e.Project()
	return p
}

func addClip(t *testing.T, e *Engine, shotID, name string, duration float64) VideoClip {
	t.Helper()
	clip := NewClip(shotID, name, "video/mp4", []byte("bytes of "+name))
	clip.Duration = duration
	if err := e.AddVideo(context.Background(), shotID, clip); err != nil {
		t.Fatalf("AddVideo() error = %v", err)
	}
	return clip
}

func shotByID(t *testing.T, e *Engine, id string) Shot {
	t.Helper()
	p, ok := e.Project()
	if !ok {
		t.Fatal("no project loaded")
	}
	for _, s := range p.Shots {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("shot %s not found", id)
	return Shot{}
}

// checkInvariants asserts that every shot status agrees with its clips and
// that the timeline references only live shots, once each.
func checkInvariants(t *testing.T, e *Engine) {
	t.Helper()
	p, ok := e.Project()
	if !ok {
		return
	}
	live := make(map[string]bool)
	for _, s := range p.Shots {
		live[s.ID] = true
		clips := e.ShotVideos(s.ID)
		used := 0
		for _, c := range clips {
			if c.IsUsed {
				used++
			}
		}
		var want ShotStatus
		switch {
		case len(clips) == 0:
			want = StatusEmpty
		case used == 0:
			want = StatusHasVideo
		default:
			want = StatusUsed
		}
		if used > 1 {
			t.Errorf("shot %d has %d used clips", s.Index, used)
		}
		if s.Status != want {
			t.Errorf("shot %d status = %s, want %s (clips=%d used=%d)", s.Index, s.Status, want, len(clips), used)
		}
		if (s.Status == StatusUsed) != (s.UsedVideoID != "") {
			t.Errorf("shot %d status %s with usedVideoId %q", s.Index, s.Status, s.UsedVideoID)
		}
	}
	seen := make(map[string]bool)
	for _, id := range p.TimelineOrder {
		if seen[id] {
			t.Errorf("timeline contains %s twice", id)
		}
		seen[id] = true
	}
}

func TestEngine_EndToEndScenario(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	if err := e.CreateProject(ctx, "E2E Test Project", DefaultSettings()); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	err := e.LoadStoryScript(mustScript(t, `{"title": "E2E Test Project", "shots": [
		{"duration": 3, "visual": "Opening", "camera": "wide", "transition": "cut"},
		{"duration": 5, "visual": "Closing", "camera": "close", "transition": "fade"}
	]}`))
	if err != nil {
		t.Fatalf("LoadStoryScript() error = %v", err)
	}

	p, _ := e.Project()
	if len(p.Shots) != 2 {
		t.Fatalf("len(Shots) = %d, want 2", len(p.Shots))
	}
	if p.Shots[0].Status != StatusEmpty {
		t.Errorf("shot[0].Status = %s, want empty", p.Shots[0].Status)
	}
	shot0, shot1 := p.Shots[0].ID, p.Shots[1].ID

	clipA := addClip(t, e, shot0, "a.mp4", 3)
	if err := e.MarkVideoAsUsed(ctx, shot0, clipA.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}
	checkInvariants(t, e)
	p, _ = e.Project()
	if p.Shots[0].Status != StatusUsed {
		t.Errorf("shot[0].Status = %s, want used", p.Shots[0].Status)
	}
	if !reflect.DeepEqual(p.TimelineOrder, []string{shot0}) {
		t.Errorf("TimelineOrder = %v, want [shot0]", p.TimelineOrder)
	}

	clipB := addClip(t, e, shot1, "b.mp4", 5)
	if err := e.MarkVideoAsUsed(ctx, shot1, clipB.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}
	checkInvariants(t, e)
	p, _ = e.Project()
	if !reflect.DeepEqual(p.TimelineOrder, []string{shot0, shot1}) {
		t.Errorf("TimelineOrder = %v, want [shot0 shot1]", p.TimelineOrder)
	}

	if err := e.DeleteVideo(ctx, clipA.ID); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}
	p, _ = e.Project()
	if p.Shots[0].Status != StatusEmpty {
		t.Errorf("shot[0].Status = %s, want empty", p.Shots[0].Status)
	}
	if !reflect.DeepEqual(p.TimelineOrder, []string{shot0, shot1}) {
		t.Errorf("TimelineOrder = %v, want stale [shot0 shot1]", p.TimelineOrder)
	}

	segments := e.PlaybackSegments()
	if len(segments) != 1 || segments[0].Shot.ID != shot1 {
		t.Fatalf("PlaybackSegments() = %+v, want only shot1", segments)
	}
	inputs := e.ExportInputs()
	if len(inputs) != 1 || inputs[0].ID != clipB.ID {
		t.Fatalf("ExportInputs() = %+v, want only clipB", inputs)
	}
}

func TestEngine_DeleteVideoOnlyClip(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 1)
	shotID := p.Shots[0].ID

	clip := addClip(t, e, shotID, "only.mp4", 2)
	if err := e.MarkVideoAsUsed(ctx, shotID, clip.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}
	if err := e.DeleteVideo(ctx, clip.ID); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}

	shot := shotByID(t, e, shotID)
	if shot.Status != StatusEmpty {
		t.Errorf("Status = %s, want empty", shot.Status)
	}
	if shot.UsedVideoID != "" {
		t.Errorf("UsedVideoID = %q, want empty", shot.UsedVideoID)
	}
	if got := e.ShotVideos(shotID); len(got) != 0 {
		t.Errorf("ShotVideos() = %d clips, want 0", len(got))
	}
	e.mu.Lock()
	_, present := e.clips[shotID]
	e.mu.Unlock()
	if present {
		t.Error("clip map entry should be dropped")
	}

	stored, err := store.GetClip(ctx, clip.ID)
	if err != nil {
		t.Fatalf("GetClip() error = %v", err)
	}
	if stored != nil {
		t.Error("clip still in store after DeleteVideo")
	}
}

func TestEngine_DeleteUsedVideoKeepsOtherCandidates(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 1)
	shotID := p.Shots[0].ID

	a := addClip(t, e, shotID, "a.mp4", 1)
	b := addClip(t, e, shotID, "b.mp4", 1)
	if err := e.MarkVideoAsUsed(ctx, shotID, a.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}
	if err := e.DeleteVideo(ctx, a.ID); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}
	checkInvariants(t, e)

	shot := shotByID(t, e, shotID)
	if shot.Status != StatusHasVideo || shot.UsedVideoID != "" {
		t.Errorf("shot = %s/%q, want has-video with no used clip", shot.Status, shot.UsedVideoID)
	}
	clips := e.ShotVideos(shotID)
	if len(clips) != 1 || clips[0].ID != b.ID || clips[0].IsUsed {
		t.Errorf("remaining clips = %+v, want only unused b", clips)
	}
}

func TestEngine_DuplicateShot(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 3)
	original := p.Shots[1]

	clip := addClip(t, e, original.ID, "x.mp4", 1)
	if err := e.MarkVideoAsUsed(ctx, original.ID, clip.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}

	if err := e.DuplicateShot(original.ID); err != nil {
		t.Fatalf("DuplicateShot() error = %v", err)
	}
	checkInvariants(t, e)

	p, _ = e.Project()
	if len(p.Shots) != 4 {
		t.Fatalf("len(Shots) = %d, want 4", len(p.Shots))
	}
	for i, s := range p.Shots {
		if s.Index != i {
			t.Errorf("Shots[%d].Index = %d", i, s.Index)
		}
	}
	dup := p.Shots[2]
	if dup.ID == original.ID {
		t.Error("duplicate reuses the original id")
	}
	if dup.Visual != original.Visual || dup.Camera != original.Camera || dup.Duration != original.Duration {
		t.Errorf("duplicate fields = %+v, want copy of %+v", dup, original)
	}
	if dup.Status != StatusEmpty || dup.UsedVideoID != "" || dup.LastFrameURL != "" {
		t.Errorf("duplicate carries clip state: %+v", dup)
	}
	if p.Shots[1].Status != StatusUsed {
		t.Errorf("original status = %s, want used", p.Shots[1].Status)
	}
}

func TestEngine_MarkVideoAsUsedIdempotent(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 2)
	shotID := p.Shots[1].ID
	clip := addClip(t, e, shotID, "c.mp4", 2)

	if err := e.MarkVideoAsUsed(ctx, shotID, clip.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}
	once, _ := e.Project()

	if err := e.MarkVideoAsUsed(ctx, shotID, clip.ID); err != nil {
		t.Fatalf("second MarkVideoAsUsed() error = %v", err)
	}
	twice, _ := e.Project()

	if !reflect.DeepEqual(once.TimelineOrder, twice.TimelineOrder) {
		t.Errorf("TimelineOrder changed: %v -> %v", once.TimelineOrder, twice.TimelineOrder)
	}
	a, b := once.Shots[1], twice.Shots[1]
	if a.Status != b.Status || a.UsedVideoID != b.UsedVideoID || a.LastFrameURL != b.LastFrameURL {
		t.Errorf("shot changed: %+v -> %+v", a, b)
	}
}

func TestEngine_MarkDifferentClipLeavesOneUsed(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 1)
	shotID := p.Shots[0].ID
	a := addClip(t, e, shotID, "a.mp4", 1)
	b := addClip(t, e, shotID, "b.mp4", 1)

	if err := e.MarkVideoAsUsed(ctx, shotID, a.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed(a) error = %v", err)
	}
	if err := e.MarkVideoAsUsed(ctx, shotID, b.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed(b) error = %v", err)
	}
	checkInvariants(t, e)

	for _, c := range e.ShotVideos(shotID) {
		if c.IsUsed != (c.ID == b.ID) {
			t.Errorf("clip %s IsUsed = %v", c.FileName, c.IsUsed)
		}
	}
	if shot := shotByID(t, e, shotID); shot.UsedVideoID != b.ID {
		t.Errorf("UsedVideoID = %s, want %s", shot.UsedVideoID, b.ID)
	}

	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	used, err := store.ListUsedClips(ctx)
	if err != nil {
		t.Fatalf("ListUsedClips() error = %v", err)
	}
	if len(used) != 1 || used[0].ID != b.ID {
		t.Errorf("stored used clips = %v, want only b", used)
	}
}

func TestEngine_MarkVideoAsUsedSortsTimelineByStory(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 3)

	for _, i := range []int{2, 0, 1} {
		id := p.Shots[i].ID
		clip := addClip(t, e, id, "clip.mp4", 1)
		if err := e.MarkVideoAsUsed(ctx, id, clip.ID); err != nil {
			t.Fatalf("MarkVideoAsUsed() error = %v", err)
		}
	}

	got, _ := e.Project()
	want := []string{p.Shots[0].ID, p.Shots[1].ID, p.Shots[2].ID}
	if !reflect.DeepEqual(got.TimelineOrder, want) {
		t.Errorf("TimelineOrder = %v, want story order %v", got.TimelineOrder, want)
	}
}

func TestEngine_MarkVideoAsUsedUnknownClip(t *testing.T) {
	e, _ := setupEngine(t)
	p := newProjectWithShots(t, e, 1)

	err := e.MarkVideoAsUsed(context.Background(), p.Shots[0].ID, "missing")
	if !errors.Is(err, ErrClipNotFound) {
		t.Fatalf("error = %v, want ErrClipNotFound", err)
	}
	after, _ := e.Project()
	if after.Shots[0].Status != StatusEmpty || len(after.TimelineOrder) != 0 {
		t.Errorf("state changed on failed mark: %+v", after)
	}
}

func TestEngine_ContinuityStill(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()

	t.Run("patched in on success", func(t *testing.T) {
		ex := &fakeExtractor{still: "data:image/jpeg;base64,STILL"}
		e := newTestEnv(t, store, ex)
		p := newProjectWithShots(t, e, 1)
		clip := addClip(t, e, p.Shots[0].ID, "a.mp4", 1)

		if err := e.MarkVideoAsUsed(ctx, p.Shots[0].ID, clip.ID); err != nil {
			t.Fatalf("MarkVideoAsUsed() error = %v", err)
		}
		if got := shotByID(t, e, p.Shots[0].ID).LastFrameURL; got != ex.still {
			t.Errorf("LastFrameURL = %q, want %q", got, ex.still)
		}

		if err := e.MarkVideoAsUsed(ctx, p.Shots[0].ID, clip.ID); err != nil {
			t.Fatalf("second MarkVideoAsUsed() error = %v", err)
		}
		if n := ex.calls.Load(); n != 1 {
			t.Errorf("extractor calls = %d, want 1", n)
		}
	})

	t.Run("failure leaves no still", func(t *testing.T) {
		ex := &fakeExtractor{err: errors.New("ffmpeg exploded")}
		e := newTestEnv(t, store, ex)
		p := newProjectWithShots(t, e, 1)
		clip := addClip(t, e, p.Shots[0].ID, "a.mp4", 1)

		if err := e.MarkVideoAsUsed(ctx, p.Shots[0].ID, clip.ID); err != nil {
			t.Fatalf("MarkVideoAsUsed() error = %v, extraction failure must not fail the call", err)
		}
		shot := shotByID(t, e, p.Shots[0].ID)
		if shot.Status != StatusUsed || shot.UsedVideoID != clip.ID {
			t.Errorf("shot = %s/%s, want used/%s", shot.Status, shot.UsedVideoID, clip.ID)
		}
		if shot.LastFrameURL != "" {
			t.Errorf("LastFrameURL = %q, want empty", shot.LastFrameURL)
		}
	})

	t.Run("no extractor", func(t *testing.T) {
		e := newTestEnv(t, store, nil)
		p := newProjectWithShots(t, e, 1)
		clip := addClip(t, e, p.Shots[0].ID, "a.mp4", 1)
		if err := e.MarkVideoAsUsed(ctx, p.Shots[0].ID, clip.ID); err != nil {
			t.Fatalf("MarkVideoAsUsed() error = %v", err)
		}
		checkInvariants(t, e)
	})
}

func TestEngine_ReorderShotsIndexMatchesPosition(t *testing.T) {
	e, _ := setupEngine(t)
	p := newProjectWithShots(t, e, 4)
	n := len(p.Shots)

	for from := 0; from < n; from++ {
		for to := 0; to < n; to++ {
			before, _ := e.Project()
			if err := e.ReorderShots(from, to); err != nil {
				t.Fatalf("ReorderShots(%d, %d) error = %v", from, to, err)
			}
			after, _ := e.Project()

			for i, s := range after.Shots {
				if s.Index != i {
					t.Errorf("after ReorderShots(%d, %d): Shots[%d].Index = %d", from, to, i, s.Index)
				}
			}
			if after.Shots[to].ID != before.Shots[from].ID {
				t.Errorf("ReorderShots(%d, %d) did not move the shot to %d", from, to, to)
			}
		}
	}
}

func TestEngine_ReorderShotsMovesSingleElement(t *testing.T) {
	e, _ := setupEngine(t)
	p := newProjectWithShots(t, e, 4)
	ids := []string{p.Shots[0].ID, p.Shots[1].ID, p.Shots[2].ID, p.Shots[3].ID}

	if err := e.ReorderShots(0, 2); err != nil {
		t.Fatalf("ReorderShots() error = %v", err)
	}
	after, _ := e.Project()
	got := []string{after.Shots[0].ID, after.Shots[1].ID, after.Shots[2].ID, after.Shots[3].ID}
	want := []string{ids[1], ids[2], ids[0], ids[3]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestEngine_ReorderShotsOutOfRangeIsNoop(t *testing.T) {
	e, _ := setupEngine(t)
	before := newProjectWithShots(t, e, 3)

	tests := [][2]int{{-1, 0}, {0, 3}, {3, 0}, {0, -2}, {5, 5}}
	for _, tt := range tests {
		err := e.ReorderShots(tt[0], tt[1])
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("ReorderShots(%d, %d) error = %v, want ErrIndexOutOfRange", tt[0], tt[1], err)
		}
	}
	after, _ := e.Project()
	for i := range before.Shots {
		if after.Shots[i].ID != before.Shots[i].ID || after.Shots[i].Index != i {
			t.Fatalf("shots changed after out-of-range reorder")
		}
	}
}

// Deleting a shot leaves the Index of the remaining shots untouched.
func TestEngine_DeleteShotDoesNotRenumber(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 3)
	victim := p.Shots[1]

	clip := addClip(t, e, victim.ID, "v.mp4", 1)
	if err := e.MarkVideoAsUsed(ctx, victim.ID, clip.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}
	e.SelectShot(victim.ID)

	if err := e.DeleteShot(victim.ID); err != nil {
		t.Fatalf("DeleteShot() error = %v", err)
	}
	after, _ := e.Project()
	if len(after.Shots) != 2 {
		t.Fatalf("len(Shots) = %d, want 2", len(after.Shots))
	}
	if after.Shots[0].Index != 0 || after.Shots[1].Index != 2 {
		t.Errorf("indices = [%d %d], want [0 2]", after.Shots[0].Index, after.Shots[1].Index)
	}
	if containsID(after.TimelineOrder, victim.ID) {
		t.Error("deleted shot still on the timeline")
	}
	if _, ok := e.SelectedShot(); ok {
		t.Error("selection should not resolve to a deleted shot")
	}

	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	clips, err := store.ListClipsByShot(ctx, victim.ID)
	if err != nil {
		t.Fatalf("ListClipsByShot() error = %v", err)
	}
	if len(clips) != 0 {
		t.Errorf("stored clips for deleted shot = %d, want 0", len(clips))
	}
}

// Adding a candidate to a shot that already has a chosen take keeps it used.
func TestEngine_AddVideoToUsedShotStaysUsed(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 1)
	shotID := p.Shots[0].ID

	chosen := addClip(t, e, shotID, "chosen.mp4", 1)
	if err := e.MarkVideoAsUsed(ctx, shotID, chosen.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}

	extra := NewClip(shotID, "extra.mp4", "video/mp4", []byte("x"))
	extra.IsUsed = true
	if err := e.AddVideo(ctx, shotID, extra); err != nil {
		t.Fatalf("AddVideo() error = %v", err)
	}
	checkInvariants(t, e)

	shot := shotByID(t, e, shotID)
	if shot.Status != StatusUsed || shot.UsedVideoID != chosen.ID {
		t.Errorf("shot = %s/%s, want used/%s", shot.Status, shot.UsedVideoID, chosen.ID)
	}
	clips := e.ShotVideos(shotID)
	if len(clips) != 2 || clips[1].IsUsed {
		t.Errorf("new candidate should be stored unused: %+v", clips)
	}
}

func TestEngine_AddVideoStoreFailure(t *testing.T) {
	_, store := setupTestDB(t)
	e := newTestEnv(t, &failingStore{SQLiteStore: store, addClipErr: errors.New("disk full")}, nil)
	p := newProjectWithShots(t, e, 1)

	clip := NewClip(p.Shots[0].ID, "a.mp4", "video/mp4", []byte("a"))
	if err := e.AddVideo(context.Background(), p.Shots[0].ID, clip); err == nil {
		t.Fatal("AddVideo() should return the store error")
	}
	if got := e.ShotVideos(p.Shots[0].ID); len(got) != 0 {
		t.Errorf("ShotVideos() = %d, want 0 after failed add", len(got))
	}
	if s := shotByID(t, e, p.Shots[0].ID); s.Status != StatusEmpty {
		t.Errorf("Status = %s, want empty", s.Status)
	}
}

func TestEngine_UpdateTimelineOrderIsNotValidated(t *testing.T) {
	e, _ := setupEngine(t)
	p := newProjectWithShots(t, e, 2)

	order := []string{p.Shots[1].ID, "not-a-shot", p.Shots[0].ID}
	if err := e.UpdateTimelineOrder(order); err != nil {
		t.Fatalf("UpdateTimelineOrder() error = %v", err)
	}
	after, _ := e.Project()
	if !reflect.DeepEqual(after.TimelineOrder, order) {
		t.Errorf("TimelineOrder = %v, want %v as given", after.TimelineOrder, order)
	}
	if segs := e.PlaybackSegments(); len(segs) != 0 {
		t.Errorf("PlaybackSegments() = %d, want 0 with no used shots", len(segs))
	}
}

func TestEngine_ManualTimelineOrderWinsOverStoryOrder(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 2)

	var clips []VideoClip
	for _, s := range p.Shots {
		c := addClip(t, e, s.ID, s.Visual+".mp4", 2)
		if err := e.MarkVideoAsUsed(ctx, s.ID, c.ID); err != nil {
			t.Fatalf("MarkVideoAsUsed() error = %v", err)
		}
		clips = append(clips, c)
	}
	if err := e.UpdateTimelineOrder([]string{p.Shots[1].ID, p.Shots[0].ID}); err != nil {
		t.Fatalf("UpdateTimelineOrder() error = %v", err)
	}

	inputs := e.ExportInputs()
	if len(inputs) != 2 || inputs[0].ID != clips[1].ID || inputs[1].ID != clips[0].ID {
		t.Errorf("ExportInputs() not in timeline order: %+v", inputs)
	}
	segs := e.PlaybackSegments()
	if segs[0].Shot.ID != p.Shots[1].ID || segs[0].StartTime != 0 || segs[1].StartTime != 2 {
		t.Errorf("PlaybackSegments() = %+v", segs)
	}
}

func TestEngine_UpdateShot(t *testing.T) {
	e, _ := setupEngine(t)
	p := newProjectWithShots(t, e, 1)
	shotID := p.Shots[0].ID

	visual := "New visual"
	duration := 7.5
	err := e.UpdateShot(shotID, ShotPatch{
		Visual:   &visual,
		Duration: &duration,
		Extras:   map[string]string{"mood": "calm", "status": "used", "id": "hijack"},
	})
	if err != nil {
		t.Fatalf("UpdateShot() error = %v", err)
	}

	shot := shotByID(t, e, shotID)
	if shot.Visual != visual || shot.Duration != duration {
		t.Errorf("shot = %+v", shot)
	}
	if shot.Status != StatusEmpty || shot.ID != shotID {
		t.Error("patch must not touch engine-managed fields")
	}
	if v, _ := shot.Extras.Get("mood"); v != "calm" {
		t.Errorf("mood = %q", v)
	}
	if _, ok := shot.Extras.Get("status"); ok {
		t.Error("reserved key leaked into extras")
	}

	if err := e.UpdateShot("missing", ShotPatch{Visual: &visual}); !errors.Is(err, ErrShotNotFound) {
		t.Errorf("UpdateShot(missing) error = %v, want ErrShotNotFound", err)
	}
}

func TestEngine_ExtrasRoundTrip(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()
	if err := e.CreateProject(ctx, "Extras", DefaultSettings()); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	s := mustScript(t, `{"title": "With extras", "shots": [
		{"duration": 2, "visual": "v", "camera": "c", "transition": "t",
		 "mood": "tense", "lighting": "neon", "index": 99, "usedVideoId": "fake", "sfx": "whoosh"}
	]}`)
	if err := e.LoadStoryScript(s); err != nil {
		t.Fatalf("LoadStoryScript() error = %v", err)
	}

	want := script.Extras{{Key: "mood", Value: "tense"}, {Key: "lighting", Value: "neon"}, {Key: "sfx", Value: "whoosh"}}
	p, _ := e.Project()
	if !reflect.DeepEqual(p.Shots[0].Extras, want) {
		t.Errorf("Extras = %v, want %v", p.Shots[0].Extras, want)
	}
	if p.Shots[0].Index != 0 || p.Shots[0].UsedVideoID != "" {
		t.Error("reserved keys from the script must not override engine fields")
	}

	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	reloaded := newTestEnv(t, store, nil)
	if err := reloaded.LoadProject(ctx, p.ID); err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	rp, _ := reloaded.Project()
	if rp.Title != "With extras" {
		t.Errorf("Title = %q", rp.Title)
	}
	if !reflect.DeepEqual(rp.Shots[0].Extras, want) {
		t.Errorf("reloaded Extras = %v, want %v", rp.Shots[0].Extras, want)
	}
}

func TestEngine_LoadStoryScriptResetsClips(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 2)
	clip := addClip(t, e, p.Shots[0].ID, "a.mp4", 1)
	if err := e.MarkVideoAsUsed(ctx, p.Shots[0].ID, clip.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}

	if err := e.LoadStoryScript(scriptWithShots(t, 3)); err != nil {
		t.Fatalf("LoadStoryScript() error = %v", err)
	}
	after, _ := e.Project()
	if len(after.Shots) != 3 || len(after.TimelineOrder) != 0 {
		t.Errorf("shots=%d timeline=%v, want 3 shots and empty timeline", len(after.Shots), after.TimelineOrder)
	}
	if _, ok := e.Clip(clip.ID); ok {
		t.Error("clip associations should be reset")
	}
	checkInvariants(t, e)
}

func TestEngine_LoadProjectNotFound(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	before := newProjectWithShots(t, e, 1)

	err := e.LoadProject(ctx, "does-not-exist")
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("LoadProject() error = %v, want ErrProjectNotFound", err)
	}
	after, ok := e.Project()
	if !ok || after.ID != before.ID {
		t.Error("failed load must not change the open project")
	}
}

func TestEngine_LoadProjectRehydratesClips(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 2)
	a := addClip(t, e, p.Shots[0].ID, "a.mp4", 1.5)
	addClip(t, e, p.Shots[0].ID, "b.mp4", 2)
	if err := e.MarkVideoAsUsed(ctx, p.Shots[0].ID, a.ID); err != nil {
		t.Fatalf("MarkVideoAsUsed() error = %v", err)
	}
	e.SelectShot(p.Shots[0].ID)
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	fresh := newTestEnv(t, store, nil)
	if err := fresh.LoadLatestProject(ctx); err != nil {
		t.Fatalf("LoadLatestProject() error = %v", err)
	}
	checkInvariants(t, fresh)

	clips := fresh.ShotVideos(p.Shots[0].ID)
	if len(clips) != 2 || clips[0].ID != a.ID || !clips[0].IsUsed {
		t.Fatalf("rehydrated clips = %+v", clips)
	}
	if string(clips[0].Data) != "bytes of a.mp4" {
		t.Errorf("clip data = %q", clips[0].Data)
	}
	fresh.mu.Lock()
	_, hasEmpty := fresh.clips[p.Shots[1].ID]
	fresh.mu.Unlock()
	if hasEmpty {
		t.Error("shot without clips should have no map entry")
	}
	if _, ok := fresh.SelectedShot(); ok {
		t.Error("selection should be cleared on load")
	}
	if segs := fresh.PlaybackSegments(); len(segs) != 1 || segs[0].Clip.ID != a.ID {
		t.Errorf("PlaybackSegments() = %+v", segs)
	}
}

func TestEngine_LoadLatestProjectEmptyStore(t *testing.T) {
	e, _ := setupEngine(t)
	if err := e.LoadLatestProject(context.Background()); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("LoadLatestProject() error = %v, want ErrProjectNotFound", err)
	}
}

func TestEngine_SaveProject(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	if err := e.SaveProject(ctx); err != nil {
		t.Fatalf("SaveProject() with no project error = %v", err)
	}

	p := newProjectWithShots(t, e, 1)
	if err := e.SaveProject(ctx); err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}
	mem, _ := e.Project()
	if mem.UpdatedAt.Before(p.UpdatedAt) {
		t.Error("UpdatedAt went backwards")
	}

	stored, err := store.GetProject(ctx, p.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetProject() = %v, %v", stored, err)
	}
	if !stored.UpdatedAt.Equal(mem.UpdatedAt) {
		t.Errorf("stored UpdatedAt = %v, memory = %v", stored.UpdatedAt, mem.UpdatedAt)
	}
}

func TestEngine_PersistenceFailureIsNotUnwound(t *testing.T) {
	_, store := setupTestDB(t)
	e := newTestEnv(t, &failingStore{SQLiteStore: store, putErr: errors.New("database is locked")}, nil)
	ctx := context.Background()
	p := newProjectWithShots(t, e, 1)

	visual := "edited"
	if err := e.UpdateShot(p.Shots[0].ID, ShotPatch{Visual: &visual}); err != nil {
		t.Fatalf("UpdateShot() error = %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := shotByID(t, e, p.Shots[0].ID).Visual; got != "edited" {
		t.Errorf("Visual = %q, in-memory edit was rolled back", got)
	}
	h := e.PersistenceHealth()
	if !h.Degraded || h.Failures == 0 || h.LastError == "" {
		t.Errorf("PersistenceHealth() = %+v, want degraded", h)
	}
}

func TestEngine_NoProject(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	checks := map[string]error{
		"LoadStoryScript":     e.LoadStoryScript(scriptWithShots(t, 1)),
		"UpdateShot":          e.UpdateShot("x", ShotPatch{}),
		"ReorderShots":        e.ReorderShots(0, 0),
		"DeleteShot":          e.DeleteShot("x"),
		"DuplicateShot":       e.DuplicateShot("x"),
		"AddVideo":            e.AddVideo(ctx, "x", VideoClip{}),
		"MarkVideoAsUsed":     e.MarkVideoAsUsed(ctx, "x", "y"),
		"DeleteVideo":         e.DeleteVideo(ctx, "y"),
		"UpdateTimelineOrder": e.UpdateTimelineOrder(nil),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrNoProject) {
			t.Errorf("%s error = %v, want ErrNoProject", name, err)
		}
	}
	if _, ok := e.Project(); ok {
		t.Error("Project() should report no project")
	}
	if e.PlaybackSegments() != nil || e.ExportInputs() != nil {
		t.Error("views should be empty with no project")
	}
}

func TestEngine_SelectShot(t *testing.T) {
	e, _ := setupEngine(t)
	p := newProjectWithShots(t, e, 2)

	e.SelectShot(p.Shots[1].ID)
	got, ok := e.SelectedShot()
	if !ok || got.ID != p.Shots[1].ID {
		t.Errorf("SelectedShot() = %v, %v", got.ID, ok)
	}
	e.SelectShot("")
	if _, ok := e.SelectedShot(); ok {
		t.Error("empty id should clear the selection")
	}
}

func TestEngine_Reset(t *testing.T) {
	e, _ := setupEngine(t)
	newProjectWithShots(t, e, 1)
	e.Reset()
	if _, ok := e.Project(); ok {
		t.Error("Reset() should drop the project")
	}
}

type failingStore struct {
	*SQLiteStore
	putErr     error
	addClipErr error
}

func (f *failingStore) PutProject(ctx context.Context, p *Project) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.SQLiteStore.PutProject(ctx, p)
}

func (f *failingStore) AddClip(ctx context.Context, c *VideoClip) error {
	if f.addClipErr != nil {
		return f.addClipErr
	}
	return f.SQLiteStore.AddClip(ctx, c)
}

// gatedStore holds every PutProject until release is closed.
type gatedStore struct {
	*SQLiteStore
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(store *SQLiteStore) *gatedStore {
	return &gatedStore{
		SQLiteStore: store,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) PutProject(ctx context.Context, p *Project) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.SQLiteStore.PutProject(ctx, p)
}

func TestEngine_LoadProjectWaitsForQueuedWrites(t *testing.T) {
	_, store := setupTestDB(t)
	gated := newGatedStore(store)
	e := newTestEnv(t, gated, nil)
	var once sync.Once
	open := func() { once.Do(func() { close(gated.release) }) }
	t.Cleanup(open)
	ctx := context.Background()

	if err := e.CreateProject(ctx, "A", DefaultSettings()); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if err := e.LoadStoryScript(scriptWithShots(t, 2)); err != nil {
		t.Fatalf("LoadStoryScript() error = %v", err)
	}
	p, _ := e.Project()

	select {
	case <-gated.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("queued save never reached the store")
	}

	done := make(chan error, 1)
	go func() { done <- e.LoadProject(ctx, p.ID) }()

	select {
	case err := <-done:
		t.Fatalf("LoadProject() returned %v before the queued save landed", err)
	case <-time.After(50 * time.Millisecond):
	}
	open()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("LoadProject() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("LoadProject() did not return after the save landed")
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mem, _ := e.Project()
	stored, err := store.GetProject(ctx, p.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetProject() = %v, %v", stored, err)
	}
	if len(mem.Shots) != 2 || mem.Title != "Generated" {
		t.Errorf("in-memory shots = %d, title = %q; want 2, Generated", len(mem.Shots), mem.Title)
	}
	if len(stored.Shots) != len(mem.Shots) || stored.Title != mem.Title {
		t.Errorf("stored shots = %d, title = %q; memory has %d, %q",
			len(stored.Shots), stored.Title, len(mem.Shots), mem.Title)
	}
}

func TestEngine_ListProjectsSeesQueuedWrites(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()
	newProjectWithShots(t, e, 3)

	list, err := e.ListProjects(ctx, 10)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(list) != 1 || list[0].ShotCount != 3 {
		t.Errorf("ListProjects() = %+v, want one project with 3 shots", list)
	}
}
