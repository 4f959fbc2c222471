// Package demux runs the container demuxer off the caller's goroutine and
// bridges it through a typed message protocol: Init, Push, Flush, Reset, and
// ConvertTags requests in; Segment and Chunks responses out, in strict emit
// order on a single channel.
//
// The central type is [Worker], which owns one [Engine] and confines it to
// a single goroutine — the engine itself carries no locking. [FLVEngine] is
// the production engine.
package demux

import (
	"context"
	"log/slog"

	"github.com/zsiec/flashmse/media"
)

// InitOptions configures an engine before the first push.
type InitOptions struct {
	// Captions enables CEA-608 caption extraction from video tags.
	Captions bool
}

// Engine parses pushed container bytes into segments and sink-ready chunks.
// Engines run confined to the worker goroutine and need no internal locking.
// Push transfers ownership of its buffer to the engine.
type Engine interface {
	Init(opts InitOptions)
	Push(p []byte)

	// Flush completes parsing of everything pushed so far and returns the
	// segments assembled from it. Parsed tags stay buffered inside the
	// engine until ConvertTags collects them.
	Flush() []*media.Segment

	// ConvertTags encodes the buffered tags into sink-ready chunks,
	// dropping tags below targetPTS (demuxer milliseconds). The buffer of
	// parsed tags is consumed.
	ConvertTags(targetPTS int64) []media.Chunk

	// Reset discards all buffered bytes, tags, and decoder state.
	Reset()
}

// Message is one demuxer response. Exactly one class is populated: Segment
// for a metadata-class response, Chunks (with Data true) for a data-class
// response. A data-class response may carry zero chunks.
type Message struct {
	Segment *media.Segment
	Chunks  []media.Chunk
	Data    bool
}

type reqKind int

const (
	reqInit reqKind = iota
	reqPush
	reqFlush
	reqReset
	reqConvert
)

type request struct {
	kind      reqKind
	buf       []byte
	targetPTS int64
	opts      InitOptions
}

// Worker drives an Engine on its own goroutine, turning the engine's
// synchronous parse calls into the asynchronous request/response protocol
// the source buffer consumes. Responses for one request stream are emitted
// in the order the engine produces them.
type Worker struct {
	log     *slog.Logger
	engine  Engine
	reqCh   chan request
	out     chan Message
	stopped chan struct{}
}

// NewWorker creates a Worker around engine. If log is nil, slog.Default()
// is used. Run must be called before requests produce responses.
func NewWorker(engine Engine, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		log:     log.With("component", "demux-worker"),
		engine:  engine,
		reqCh:   make(chan request, 64),
		out:     make(chan Message, media.MessageBufferSize),
		stopped: make(chan struct{}),
	}
}

// Output returns the response channel. It is closed when Run exits.
func (w *Worker) Output() <-chan Message {
	return w.out
}

// Run processes requests until ctx is cancelled. Requests still queued at
// cancellation are dropped; there is no way to retract work already handed
// to the engine.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.out)
	defer close(w.stopped)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.reqCh:
			w.handle(ctx, req)
		}
	}
}

func (w *Worker) handle(ctx context.Context, req request) {
	switch req.kind {
	case reqInit:
		w.engine.Init(req.opts)

	case reqPush:
		w.engine.Push(req.buf)

	case reqFlush:
		segs := w.engine.Flush()
		if len(segs) == 0 {
			// No segment completed, so no conversion will follow. Emit an
			// empty data-class response so the append still settles.
			w.emit(ctx, Message{Data: true})
			return
		}
		for _, seg := range segs {
			w.log.Debug("segment parsed",
				"base_pts", seg.BasePTS,
				"samples", seg.SampleCount,
				"captions", len(seg.Captions),
			)
			w.emit(ctx, Message{Segment: seg})
		}

	case reqReset:
		w.engine.Reset()

	case reqConvert:
		chunks := w.engine.ConvertTags(req.targetPTS)
		w.log.Debug("tags converted", "target_pts", req.targetPTS, "chunks", len(chunks))
		w.emit(ctx, Message{Chunks: chunks, Data: true})
	}
}

func (w *Worker) emit(ctx context.Context, msg Message) {
	select {
	case w.out <- msg:
	case <-ctx.Done():
	}
}

// Init queues an init request.
func (w *Worker) Init(opts InitOptions) {
	w.send(request{kind: reqInit, opts: opts})
}

// Push queues raw container bytes for parsing. Ownership of p transfers to
// the worker; the caller must not reuse it.
func (w *Worker) Push(p []byte) {
	w.send(request{kind: reqPush, buf: p})
}

// Flush queues a flush request; each completed segment produces one
// metadata-class response. A flush completing no segment produces one
// empty data-class response instead.
func (w *Worker) Flush() {
	w.send(request{kind: reqFlush})
}

// Reset queues a reset, discarding the engine's buffered state.
func (w *Worker) Reset() {
	w.send(request{kind: reqReset})
}

// ConvertTags queues a conversion of buffered tags into sink-ready chunks,
// trimmed to targetPTS. Always produces exactly one data-class response.
func (w *Worker) ConvertTags(targetPTS int64) {
	w.send(request{kind: reqConvert, targetPTS: targetPTS})
}

func (w *Worker) send(req request) {
	select {
	case w.reqCh <- req:
	case <-w.stopped:
		w.log.Debug("request dropped, worker stopped", "kind", int(req.kind))
	}
}
