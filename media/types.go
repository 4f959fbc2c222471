// Package media defines the value types that flow through the flashmse
// bridge, from demuxing through paced chunk delivery.
package media

import (
	"math"
	"time"

	"github.com/zsiec/ccx"
)

// Tuning constants shared by the demux engine (producer) and the delivery
// loop (consumer).
const (
	// MaxChunkSize caps the number of base64 characters handed to the sink
	// in a single delivery. The legacy sink's call interface rejects larger
	// payloads.
	MaxChunkSize = 32 << 10

	// ChunkInterval is the minimum delay between consecutive chunk
	// deliveries. The sink cannot absorb data faster than this cadence.
	ChunkInterval = 4 * time.Millisecond

	// MessageBufferSize sizes the demux worker's output channel, decoupling
	// parsing from delivery without unbounded memory growth.
	MessageBufferSize = 32

	// CaptionCueDuration is the display window assigned to a caption cue
	// when the stream carries no explicit clear timing.
	CaptionCueDuration = 2 * time.Second
)

// Segment is one demuxer-parsed unit: the base presentation timestamp of its
// first sample plus the caption and metadata entries extracted from it.
// Segments are immutable once emitted.
type Segment struct {
	// BasePTS is the timeline position of the segment's first sample, in
	// the demuxer's millisecond PTS domain (arbitrary epoch).
	BasePTS int64

	// SampleCount is the number of audio and video samples in the segment.
	// A zero-sample segment carries only captions or metadata and must not
	// anchor the PTS baseline.
	SampleCount int

	Captions []*ccx.CaptionFrame
	Metadata []MetadataCue
}

// MetadataCue is a timed in-band metadata entry (e.g. an FLV script tag
// payload) attached to a segment.
type MetadataCue struct {
	PTS  int64 // demuxer milliseconds
	Data []byte
}

// Chunk is one sink-ready delivery unit: a bounded slice of encoded
// container data, already text-encoded for the sink's call interface.
// Chunks are opaque to everything between the demux engine and the sink
// and are delivered whole, in order, exactly once.
type Chunk []byte

// TimeRange is a single buffered interval in presentation seconds.
type TimeRange struct {
	Start float64
	End   float64
}

// TimeRanges is an ordered set of buffered intervals, mirroring the
// range-set shape of a standard streaming buffer's buffered attribute.
type TimeRanges []TimeRange

// Round3 rounds v to three decimal places. The legacy sink reports buffered
// bounds with floating point jitter; rounding stabilizes them for callers
// that compare ranges across polls.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
