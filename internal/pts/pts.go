// Package pts anchors the demuxer's millisecond PTS domain (arbitrary epoch)
// to the caller's media timeline. The baseline is established once per
// append/reset cycle, by the first segment that actually carries samples,
// and holds until an explicit reset; recomputing it per append would
// misalign every append after the first.
package pts

import "math"

// Synchronizer tracks the PTS baseline and derives the target PTS used to
// trim already-passed tags out of the demuxer's pending data.
type Synchronizer struct {
	basePTS int64
	set     bool
}

// New creates a Synchronizer with an unset baseline.
func New() *Synchronizer {
	return &Synchronizer{}
}

// Reset clears the baseline. The next nonempty segment re-anchors it. Called
// on timestamp-offset changes and other timeline discontinuities.
func (s *Synchronizer) Reset() {
	s.basePTS = 0
	s.set = false
}

// BasePTS returns the current baseline and whether it has been established.
func (s *Synchronizer) BasePTS() (int64, bool) {
	return s.basePTS, s.set
}

// TargetPTS establishes the baseline from the segment if needed and returns
// the demuxer-domain PTS below which already-parsed tags should be dropped.
//
// basePTS and the result are demuxer milliseconds; playhead and offset are
// timeline seconds. A segment with zero samples never sets the baseline.
// When the playback position is mid-seek, the target trims to the seek point
// so data the user skipped past is not re-delivered.
func (s *Synchronizer) TargetPTS(basePTS int64, sampleCount int, playhead, offset float64, seeking bool) int64 {
	if !s.set && sampleCount > 0 {
		s.basePTS = basePTS
		s.set = true
	}

	target := 0.0
	if seeking {
		target = math.Max(0, playhead-offset)
	}

	return int64(target*1000) + s.basePTS
}
