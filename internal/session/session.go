// Package session owns the lifetime of media-source sessions: each session
// holds the shared sink handle, its source buffers, and the playhead state
// the buffers consult for seek trimming. A Manager tracks active sessions
// by key for the hosting process.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/flashmse/internal/buffer"
	"github.com/zsiec/flashmse/internal/demux"
	"github.com/zsiec/flashmse/internal/sink"
)

// ErrSessionClosed reports buffer creation on a closed session.
var ErrSessionClosed = errors.New("session: closed")

// MediaSource is one media-source session. It owns its source buffers and
// is destroyed with them; buffers borrow the session's sink handle and feed
// from its playhead.
type MediaSource struct {
	ID        string
	StartedAt time.Time

	log      *slog.Logger
	snk      sink.Sink
	registry *sink.Registry

	mu      sync.Mutex
	buffers []*buffer.SourceBuffer
	closed  bool

	playhead atomic.Uint64 // float64 bits, seconds
	seeking  atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a session around the given sink handle. If log is nil,
// slog.Default() is used.
func New(snk sink.Sink, log *slog.Logger) *MediaSource {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &MediaSource{
		ID:        id,
		StartedAt: time.Now(),
		log:       log.With("component", "mediasource", "session", id),
		snk:       snk,
		registry:  sink.NewRegistry(),
		ready:     make(chan struct{}),
	}
}

// Registry returns the callback registry the sink invokes chunk handles on.
// All buffers of a session share it: the sink is a single externally-owned
// resource and only one chunk may be in flight across the session.
func (ms *MediaSource) Registry() *sink.Registry {
	return ms.registry
}

// AddSourceBuffer creates a source buffer bound to this session. engine may
// be nil for the default FLV engine.
func (ms *MediaSource) AddSourceBuffer(engine demux.Engine) (*buffer.SourceBuffer, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return nil, ErrSessionClosed
	}

	sb := buffer.New(buffer.Config{
		Sink:     ms.snk,
		Registry: ms.registry,
		Engine:   engine,
		Playhead: ms.Playhead,
		OnReady:  ms.markReady,
		Log:      ms.log,
	})
	ms.buffers = append(ms.buffers, sb)
	ms.log.Info("source buffer added", "buffers", len(ms.buffers))
	return sb, nil
}

// SetPlayhead records the playback position and whether a user-initiated
// seek is in progress. Fed by the hosting player; read by the buffers when
// computing trim targets.
func (ms *MediaSource) SetPlayhead(position float64, seeking bool) {
	ms.playhead.Store(math.Float64bits(position))
	ms.seeking.Store(seeking)
}

// Playhead returns the last recorded position and seek state.
func (ms *MediaSource) Playhead() (float64, bool) {
	return math.Float64frombits(ms.playhead.Load()), ms.seeking.Load()
}

// Ready is closed when the first update of any buffer settles — the
// loadedmetadata-equivalent signal to the hosting player.
func (ms *MediaSource) Ready() <-chan struct{} {
	return ms.ready
}

func (ms *MediaSource) markReady() {
	ms.readyOnce.Do(func() {
		ms.log.Info("session ready")
		close(ms.ready)
	})
}

// Run supervises the session's buffers until ctx is cancelled. Buffers
// added after Run starts are not supervised; create them first.
func (ms *MediaSource) Run(ctx context.Context) error {
	ms.mu.Lock()
	buffers := make([]*buffer.SourceBuffer, len(ms.buffers))
	copy(buffers, ms.buffers)
	ms.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, sb := range buffers {
		g.Go(func() error { return sb.Run(ctx) })
	}

	err := g.Wait()
	ms.Close()
	return err
}

// Close tears down all buffers. Idempotent.
func (ms *MediaSource) Close() {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return
	}
	ms.closed = true
	buffers := ms.buffers
	ms.mu.Unlock()

	for _, sb := range buffers {
		sb.Close()
	}
	ms.registry.Clear()
	ms.log.Info("session closed")
}

// Manager tracks active sessions by key.
type Manager struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*MediaSource
}

// NewManager creates an empty Manager. If log is nil, slog.Default() is
// used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sessions: make(map[string]*MediaSource),
	}
}

// Create registers a new session under key with the given sink. Returns
// nil and false if the key is taken.
func (m *Manager) Create(key string, snk sink.Sink) (*MediaSource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	ms := New(snk, m.log)
	m.sessions[key] = ms
	m.log.Info("session created", "key", key, "id", ms.ID)
	return ms, true
}

// Get returns the session for key, or nil.
func (m *Manager) Get(key string) *MediaSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key]
}

// Remove closes and unregisters the session for key.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	ms, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		ms.Close()
		m.log.Info("session removed", "key", key)
	}
}

// List returns all active sessions.
func (m *Manager) List() []*MediaSource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*MediaSource, 0, len(m.sessions))
	for _, ms := range m.sessions {
		out = append(out, ms)
	}
	return out
}
