package sink

import (
	"log/slog"
	"sync"
)

// LogSink is a stand-in rendering target for the demo binary and local
// debugging. It pulls each announced chunk on its own goroutine, logs the
// delivery, and tracks a synthetic buffered range growing with bytes
// ingested.
type LogSink struct {
	log *slog.Logger

	mu          sync.Mutex
	inv         Invoker
	bytes       int64
	chunks      int64
	start       float64
	bytesPerSec float64
}

// NewLogSink creates a LogSink pulling chunks from inv. bytesPerSec scales
// the synthetic buffered range; zero disables it. If log is nil,
// slog.Default() is used.
func NewLogSink(inv Invoker, bytesPerSec float64, log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{
		log:         log.With("component", "logsink"),
		inv:         inv,
		bytesPerSec: bytesPerSec,
	}
}

// SetInvoker late-binds the registry to pull from. The session owning this
// sink creates the registry, so the sink is constructed first and bound
// here.
func (s *LogSink) SetInvoker(inv Invoker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inv = inv
}

// AppendChunkReady pulls the announced chunk asynchronously, the way the
// real sink consumes handles at its leisure.
func (s *LogSink) AppendChunkReady(callback string) {
	s.mu.Lock()
	inv := s.inv
	s.mu.Unlock()
	if inv == nil {
		s.log.Warn("chunk announced with no registry bound", "callback", callback)
		return
	}

	go func() {
		payload, err := inv.Invoke(callback)
		if err != nil {
			s.log.Warn("chunk handle gone before pull", "callback", callback, "error", err)
			return
		}

		s.mu.Lock()
		s.bytes += int64(len(payload))
		s.chunks++
		chunks, bytes := s.chunks, s.bytes
		s.mu.Unlock()

		s.log.Debug("chunk ingested", "size", len(payload), "chunks", chunks, "bytes", bytes)
	}()
}

// Abort drops append state. Ingested data stays buffered; the legacy sink
// cannot evict.
func (s *LogSink) Abort() {
	s.log.Info("abort")
}

// Discontinuity resets the synthetic buffered range.
func (s *LogSink) Discontinuity() {
	s.mu.Lock()
	s.start = s.bufferedEndLocked()
	s.mu.Unlock()
	s.log.Info("discontinuity")
}

// Buffered reports a single synthetic range derived from bytes ingested.
func (s *LogSink) Buffered() [][2]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.bufferedEndLocked()
	if end <= s.start {
		return nil
	}
	return [][2]float64{{s.start, end}}
}

func (s *LogSink) bufferedEndLocked() float64 {
	if s.bytesPerSec <= 0 {
		return 0
	}
	return float64(s.bytes) / s.bytesPerSec
}
