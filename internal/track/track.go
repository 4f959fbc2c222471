// Package track maintains the derived text tracks fed from demuxed
// segments: one caption track per CEA-608 channel plus an in-band metadata
// track. Tracks hold timed cues in presentation seconds; the buffer's
// remove operation evicts cues by range.
package track

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/zsiec/flashmse/media"
)

// Cue is one timed entry on a text track. Caption cues carry Text; metadata
// cues carry the raw in-band payload.
type Cue struct {
	Start float64
	End   float64
	Text  string
	Data  []byte
}

// Track is an ordered list of cues for a single caption channel or the
// metadata track.
type Track struct {
	Label string
	cues  []Cue
}

// Cues returns a copy of the track's cues in start order.
func (tr *Track) Cues() []Cue {
	out := make([]Cue, len(tr.cues))
	copy(out, tr.cues)
	return out
}

func (tr *Track) add(c Cue) {
	tr.cues = append(tr.cues, c)
	// Captions can arrive slightly out of order around segment boundaries.
	sort.SliceStable(tr.cues, func(i, j int) bool {
		return tr.cues[i].Start < tr.cues[j].Start
	})
}

func (tr *Track) removeRange(start, end float64) int {
	kept := tr.cues[:0]
	removed := 0
	for _, c := range tr.cues {
		if c.Start >= start && c.Start < end {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	tr.cues = kept
	return removed
}

// Set owns all text tracks derived from one source buffer's stream.
type Set struct {
	log *slog.Logger

	mu       sync.Mutex
	captions map[int]*Track // keyed by CEA-608 channel
	metadata *Track
}

// NewSet creates an empty track set. If log is nil, slog.Default() is used.
func NewSet(log *slog.Logger) *Set {
	if log == nil {
		log = slog.Default()
	}
	return &Set{
		log:      log.With("component", "tracks"),
		captions: make(map[int]*Track),
	}
}

// EnsureTracks creates any tracks the segment needs before cues are added:
// one caption track per channel seen and the metadata track on first use.
func (s *Set) EnsureTracks(seg *media.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range seg.Captions {
		if _, ok := s.captions[f.Channel]; !ok {
			s.captions[f.Channel] = &Track{Label: captionLabel(f.Channel)}
			s.log.Debug("caption track created", "channel", f.Channel)
		}
	}
	if len(seg.Metadata) > 0 && s.metadata == nil {
		s.metadata = &Track{Label: "metadata"}
	}
}

// AddCues converts the segment's caption and metadata entries into cues at
// timeline positions shifted by offset (seconds) and appends them to their
// tracks. EnsureTracks must have run for the same segment first.
func (s *Set) AddCues(seg *media.Segment, offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range seg.Captions {
		tr := s.captions[f.Channel]
		if tr == nil {
			continue
		}
		start := float64(f.PTS)/1000 + offset
		tr.add(Cue{
			Start: start,
			End:   start + media.CaptionCueDuration.Seconds(),
			Text:  f.Text,
		})
	}

	for _, m := range seg.Metadata {
		if s.metadata == nil {
			continue
		}
		start := float64(m.PTS)/1000 + offset
		s.metadata.add(Cue{Start: start, End: start, Data: m.Data})
	}
}

// RemoveCuesInRange evicts every cue starting in [start, end) from all
// tracks and returns the number removed.
func (s *Set) RemoveCuesInRange(start, end float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, tr := range s.captions {
		removed += tr.removeRange(start, end)
	}
	if s.metadata != nil {
		removed += s.metadata.removeRange(start, end)
	}
	return removed
}

// CaptionCues returns the cues for one CEA-608 channel, or nil if that
// track was never created.
func (s *Set) CaptionCues(channel int) []Cue {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.captions[channel]
	if tr == nil {
		return nil
	}
	return tr.Cues()
}

// MetadataCues returns the metadata track's cues, or nil if none exist.
func (s *Set) MetadataCues() []Cue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.metadata == nil {
		return nil
	}
	return s.metadata.Cues()
}

func captionLabel(channel int) string {
	switch channel {
	case 1:
		return "CC1"
	case 2:
		return "CC2"
	case 3:
		return "CC3"
	case 4:
		return "CC4"
	default:
		return "CC"
	}
}
