// Package buffer implements the chunked delivery and timestamp
// synchronization core: a streaming source buffer that forwards appended
// container bytes to the demux worker, re-anchors demuxer PTS values
// against the media timeline, and drains the resulting sink-ready chunks
// through a paced, single-outstanding-update delivery loop.
//
// The central type is [SourceBuffer]. It exposes the standard streaming
// buffer append/abort/remove contract and is the sole writer of the
// updating flag.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/flashmse/internal/demux"
	"github.com/zsiec/flashmse/internal/pace"
	"github.com/zsiec/flashmse/internal/pts"
	"github.com/zsiec/flashmse/internal/queue"
	"github.com/zsiec/flashmse/internal/sink"
	"github.com/zsiec/flashmse/internal/track"
	"github.com/zsiec/flashmse/media"
)

// Config holds the collaborators a SourceBuffer is constructed with. The
// sink is a borrowed handle: the buffer checks it on every access and never
// assumes it outlives a call.
type Config struct {
	// Sink is the legacy rendering target. May be nil; reads then degrade
	// (Buffered returns empty) and writes fail with ErrNoSink.
	Sink sink.Sink

	// Registry is the one-shot callback registry shared with the sink.
	// Created internally when nil.
	Registry *sink.Registry

	// Engine overrides the demux engine; defaults to the FLV engine.
	Engine demux.Engine

	// Playhead reports the current playback position (seconds) and whether
	// a user-initiated seek is in progress. May be nil.
	Playhead func() (position float64, seeking bool)

	// OnReady is invoked once, on the first settled update.
	OnReady func()

	Log *slog.Logger
}

// Stats is a point-in-time snapshot of buffer throughput counters.
type Stats struct {
	Appends         int64 `json:"appends"`
	Segments        int64 `json:"segments"`
	ChunksQueued    int64 `json:"chunksQueued"`
	ChunksDelivered int64 `json:"chunksDelivered"`
	BytesDelivered  int64 `json:"bytesDelivered"`
	QueueLen        int   `json:"queueLen"`
	QueueBytes      int64 `json:"queueBytes"`
}

// SourceBuffer bridges appended bytes to the sink. All demuxer responses
// are marshalled onto one dispatch goroutine and all mutable state sits
// behind one mutex, so the queue, the PTS baseline, and the updating flag
// each have a single logical writer.
type SourceBuffer struct {
	log    *slog.Logger
	worker *demux.Worker
	pacer  *pace.Pacer
	tracks *track.Set
	reg    *sink.Registry

	playhead func() (float64, bool)
	onReady  func()

	mu           sync.Mutex
	snk          sink.Sink
	updating     bool
	awaitingSink bool
	pending      string // name of this buffer's outstanding registry handle
	closed       bool
	queue        *queue.Queue
	ptsSync      *pts.Synchronizer
	offset       float64
	listeners    []func(Event)
	readySent    bool

	appends         atomic.Int64
	segments        atomic.Int64
	chunksQueued    atomic.Int64
	chunksDelivered atomic.Int64
	bytesDelivered  atomic.Int64
}

// New creates a SourceBuffer from cfg. Run must be started before appends
// produce deliveries.
func New(cfg Config) *SourceBuffer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sourcebuffer")

	engine := cfg.Engine
	if engine == nil {
		engine = demux.NewFLVEngine()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = sink.NewRegistry()
	}

	return &SourceBuffer{
		log:      log,
		worker:   demux.NewWorker(engine, log),
		pacer:    pace.New(media.ChunkInterval),
		tracks:   track.NewSet(log),
		reg:      reg,
		playhead: cfg.Playhead,
		onReady:  cfg.OnReady,
		snk:      cfg.Sink,
		queue:    queue.New(),
		ptsSync:  pts.New(),
	}
}

// Registry returns the callback registry the sink must invoke handles on.
func (sb *SourceBuffer) Registry() *sink.Registry {
	return sb.reg
}

// Tracks returns the derived text tracks.
func (sb *SourceBuffer) Tracks() *track.Set {
	return sb.tracks
}

// Run drives the demux worker and the response dispatch loop until ctx is
// cancelled. It blocks; callers supervise it alongside the rest of the
// session.
func (sb *SourceBuffer) Run(ctx context.Context) error {
	sb.worker.Init(demux.InitOptions{Captions: true})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sb.worker.Run(ctx) })
	g.Go(func() error {
		for msg := range sb.worker.Output() {
			if msg.Segment != nil {
				sb.handleSegment(msg.Segment)
			} else if msg.Data {
				sb.handleData(msg.Chunks)
			}
		}
		return nil
	})

	err := g.Wait()
	sb.pacer.Stop()
	return err
}

// AppendBuffer accepts raw container bytes for demuxing and delivery.
// Ownership of p transfers to the async boundary; the caller must not reuse
// it. Fails with ErrUpdating while a previous update is in flight.
func (sb *SourceBuffer) AppendBuffer(p []byte) error {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return fmt.Errorf("appendBuffer: %w", ErrClosed)
	}
	if sb.updating {
		sb.mu.Unlock()
		return fmt.Errorf("appendBuffer: %w", ErrUpdating)
	}
	sb.updating = true
	sb.mu.Unlock()

	sb.appends.Add(1)
	sb.log.Debug("append accepted", "bytes", len(p))
	sb.emit(EventUpdate)

	sb.worker.Push(p)
	sb.worker.Flush()
	return nil
}

// Abort clears all queued (undelivered) chunks, forwards the abort to the
// sink, and settles any in-flight update. Callable at any time; data
// already handed to the sink or in flight inside the demuxer cannot be
// retracted.
func (sb *SourceBuffer) Abort() error {
	sb.mu.Lock()
	sb.queue.Clear()
	sb.pacer.Stop()
	sb.awaitingSink = false
	pending := sb.pending
	sb.pending = ""
	wasUpdating := sb.updating
	sb.updating = false
	snk := sb.snk
	sb.mu.Unlock()

	// Release only this buffer's outstanding handle; a sibling buffer
	// sharing the registry keeps its own.
	sb.reg.Release(pending)

	var err error
	if snk != nil {
		snk.Abort()
	} else {
		err = fmt.Errorf("abort: %w", ErrNoSink)
	}

	if wasUpdating {
		sb.emit(EventUpdateEnd)
		sb.maybeReady()
	}
	sb.log.Info("aborted", "update_in_flight", wasUpdating)
	return err
}

// Remove evicts caption and metadata cues starting in [start, end). The
// chunk queue is untouched: the legacy sink cannot selectively evict
// buffered data, so removal is a cues-only contract. Signals one update
// and one updateend, synchronously.
func (sb *SourceBuffer) Remove(start, end float64) {
	removed := sb.tracks.RemoveCuesInRange(start, end)
	sb.log.Debug("cues removed", "start", start, "end", end, "count", removed)

	sb.emit(EventUpdate)
	sb.emit(EventUpdateEnd)
	sb.maybeReady()
}

// SetTimestampOffset accepts a non-negative timeline shift. Negative or NaN
// values are silently ignored — the calling pipeline supplies this
// speculatively, and liveness beats strictness here. Acceptance clears the
// PTS baseline, signals a sink discontinuity, and resets the demuxer.
func (sb *SourceBuffer) SetTimestampOffset(v float64) {
	if math.IsNaN(v) || v < 0 {
		return
	}

	sb.mu.Lock()
	sb.offset = v
	sb.ptsSync.Reset()
	snk := sb.snk
	sb.mu.Unlock()

	if snk != nil {
		snk.Discontinuity()
	}
	sb.worker.Reset()
	sb.log.Info("timestamp offset set", "offset", v)
}

// TimestampOffset returns the last accepted offset.
func (sb *SourceBuffer) TimestampOffset() float64 {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.offset
}

// Updating reports whether an append, abort, or remove operation is in
// flight.
func (sb *SourceBuffer) Updating() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.updating
}

// Buffered returns the sink's first buffered range with bounds rounded to
// three decimals, or an empty range-set when no sink is attached.
func (sb *SourceBuffer) Buffered() media.TimeRanges {
	sb.mu.Lock()
	snk := sb.snk
	sb.mu.Unlock()

	if snk == nil {
		return media.TimeRanges{}
	}
	ranges := snk.Buffered()
	if len(ranges) == 0 {
		return media.TimeRanges{}
	}
	return media.TimeRanges{{
		Start: media.Round3(ranges[0][0]),
		End:   media.Round3(ranges[0][1]),
	}}
}

// Stats returns a snapshot of throughput counters.
func (sb *SourceBuffer) Stats() Stats {
	sb.mu.Lock()
	qlen, qbytes := sb.queue.Len(), sb.queue.Bytes()
	sb.mu.Unlock()

	return Stats{
		Appends:         sb.appends.Load(),
		Segments:        sb.segments.Load(),
		ChunksQueued:    sb.chunksQueued.Load(),
		ChunksDelivered: sb.chunksDelivered.Load(),
		BytesDelivered:  sb.bytesDelivered.Load(),
		QueueLen:        qlen,
		QueueBytes:      qbytes,
	}
}

// Close marks the buffer unusable and cancels pending delivery work. The
// demux worker itself stops when Run's context is cancelled.
func (sb *SourceBuffer) Close() {
	sb.mu.Lock()
	sb.closed = true
	sb.queue.Clear()
	pending := sb.pending
	sb.pending = ""
	sb.mu.Unlock()

	sb.pacer.Stop()
	sb.reg.Release(pending)
}

// handleSegment processes one metadata-class demuxer response: derived
// tracks are created before any cue lands, cues are added at the current
// offset, and the demuxer is asked to convert its buffered tags targeted at
// the synchronizer's trim point.
func (sb *SourceBuffer) handleSegment(seg *media.Segment) {
	sb.segments.Add(1)

	sb.tracks.EnsureTracks(seg)

	sb.mu.Lock()
	offset := sb.offset
	sb.mu.Unlock()
	sb.tracks.AddCues(seg, offset)

	var position float64
	var seeking bool
	if sb.playhead != nil {
		position, seeking = sb.playhead()
	}

	sb.mu.Lock()
	target := sb.ptsSync.TargetPTS(seg.BasePTS, seg.SampleCount, position, offset, seeking)
	sb.mu.Unlock()

	sb.worker.ConvertTags(target)
}

// handleData enqueues one data-class response and schedules the drain
// unless a chunk is already outstanding at the sink (its ready signal
// re-arms the pacer itself).
func (sb *SourceBuffer) handleData(chunks []media.Chunk) {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return
	}
	for _, c := range chunks {
		sb.queue.Push(c)
	}
	sb.chunksQueued.Add(int64(len(chunks)))
	arm := !sb.awaitingSink
	sb.mu.Unlock()

	if arm {
		sb.pacer.Arm(sb.drainStep)
	}
}

// drainStep is one tick of the delivery loop: hand the head chunk to the
// sink, or settle the update when the queue has drained.
func (sb *SourceBuffer) drainStep() {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return
	}

	c, ok := sb.queue.Pop()
	if !ok {
		ended := sb.updating
		sb.updating = false
		sb.mu.Unlock()

		if ended {
			sb.emit(EventUpdateEnd)
			sb.maybeReady()
		}
		return
	}

	sb.awaitingSink = true
	snk := sb.snk
	sb.mu.Unlock()

	if snk == nil {
		// The sink vanished mid-drain. There is no retry: drop the queued
		// remainder and settle the update so the caller can recover.
		sb.log.Error("sink unavailable mid-drain, dropping queued chunks")
		sb.mu.Lock()
		sb.queue.Clear()
		sb.awaitingSink = false
		ended := sb.updating
		sb.updating = false
		sb.mu.Unlock()

		if ended {
			sb.emit(EventUpdateEnd)
			sb.maybeReady()
		}
		return
	}

	size := int64(len(c))
	name, err := sb.reg.Register(c, func() {
		// Counted only here: a chunk is delivered when the sink pulls it,
		// not when the handle is announced.
		sb.chunksDelivered.Add(1)
		sb.bytesDelivered.Add(size)
		sb.sinkReady()
	})
	if err != nil {
		// A sibling buffer's chunk occupies the shared registry. Put the
		// head back and resume once that handle is consumed or released.
		sb.log.Debug("registry busy, requeueing head chunk", "error", err)
		sb.mu.Lock()
		if sb.closed {
			sb.mu.Unlock()
			return
		}
		sb.queue.PushFront(c)
		sb.awaitingSink = false
		sb.mu.Unlock()
		sb.reg.AwaitIdle(func() { sb.pacer.Arm(sb.drainStep) })
		return
	}

	sb.mu.Lock()
	if sb.awaitingSink {
		sb.pending = name
	}
	sb.mu.Unlock()

	snk.AppendChunkReady(name)
}

// sinkReady runs when the sink consumes the outstanding handle. Re-arms the
// pacer while chunks remain; otherwise the update is settled.
func (sb *SourceBuffer) sinkReady() {
	sb.mu.Lock()
	sb.pending = ""
	sb.awaitingSink = false
	if sb.queue.Len() > 0 {
		sb.mu.Unlock()
		sb.pacer.Arm(sb.drainStep)
		return
	}
	ended := sb.updating
	sb.updating = false
	sb.mu.Unlock()

	if ended {
		sb.emit(EventUpdateEnd)
		sb.maybeReady()
	}
}
