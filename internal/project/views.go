package project

// ClipLookup resolves a clip of a shot by id.
type ClipLookup func(shotID, clipID string) (VideoClip, bool)

// MapLookup resolves clips from a shot id keyed candidate map.
func MapLookup(clips map[string][]VideoClip) ClipLookup {
	return func(shotID, clipID string) (VideoClip, bool) {
		for _, c := range clips[shotID] {
			if c.ID == clipID {
				return c, true
			}
		}
		return VideoClip{}, false
	}
}

// Segment is the stretch of the assembled timeline played by one chosen take.
type Segment struct {
	Shot      Shot      `json:"shot"`
	Clip      VideoClip `json:"clip"`
	StartTime float64   `json:"startTime"`
	EndTime   float64   `json:"endTime"`
}

// BuildPlaybackSegments lays the chosen takes end to end in timeline order,
// starting at zero. Timeline entries without a resolvable chosen take are
// skipped.
func BuildPlaybackSegments(p Project, lookup ClipLookup) []Segment {
	var segments []Segment
	var t float64
	for _, e := range resolveTimeline(p, lookup) {
		segments = append(segments, Segment{
			Shot:      e.shot,
			Clip:      e.clip,
			StartTime: t,
			EndTime:   t + e.clip.Duration,
		})
		t += e.clip.Duration
	}
	return segments
}

// BuildExportInputs returns the chosen takes in the order they are to be
// concatenated.
func BuildExportInputs(p Project, lookup ClipLookup) []VideoClip {
	var inputs []VideoClip
	for _, e := range resolveTimeline(p, lookup) {
		inputs = append(inputs, e.clip)
	}
	return inputs
}

func TotalDuration(segments []Segment) float64 {
	var total float64
	for _, s := range segments {
		total += s.Clip.Duration
	}
	return total
}

type timelineEntry struct {
	shot Shot
	clip VideoClip
}

func resolveTimeline(p Project, lookup ClipLookup) []timelineEntry {
	shots := make(map[string]Shot, len(p.Shots))
	for _, s := range p.Shots {
		shots[s.ID] = s
	}

	var entries []timelineEntry
	for _, id := range p.TimelineOrder {
		shot, ok := shots[id]
		if !ok || shot.Status != StatusUsed || shot.UsedVideoID == "" {
			continue
		}
		clip, ok := lookup(shot.ID, shot.UsedVideoID)
		if !ok {
			continue
		}
		entries = append(entries, timelineEntry{shot: shot.Clone(), clip: clip})
	}
	return entries
}
