package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/flashmse/internal/demux"
	"github.com/zsiec/flashmse/media"
)

// nullEngine parses nothing; sessions under test never need real FLV.
type nullEngine struct{}

func (nullEngine) Init(demux.InitOptions)          {}
func (nullEngine) Push([]byte)                     {}
func (nullEngine) Flush() []*media.Segment         { return nil }
func (nullEngine) ConvertTags(int64) []media.Chunk { return nil }
func (nullEngine) Reset()                          {}

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	ms, ok := m.Create("test-session", nil)
	if !ok {
		t.Fatal("Create returned not-ok for new session")
	}
	if ms == nil {
		t.Fatal("Create returned nil")
	}
	if ms.ID == "" {
		t.Error("session ID should not be empty")
	}
	if ms.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	if got := m.Get("test-session"); got != ms {
		t.Error("Get should return the created session")
	}
	if len(m.List()) != 1 {
		t.Error("List should return the created session")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if _, ok := m.Create("test", nil); !ok {
		t.Fatal("first Create should succeed")
	}
	ms2, ok2 := m.Create("test", nil)

	if ok2 {
		t.Error("duplicate Create should return false")
	}
	if ms2 != nil {
		t.Error("duplicate Create should return nil session")
	}
}

func TestManagerRemoveClosesSession(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	ms, _ := m.Create("test", nil)
	m.Remove("test")

	if len(m.List()) != 0 {
		t.Errorf("count after remove: got %d, want 0", len(m.List()))
	}
	if _, err := ms.AddSourceBuffer(nullEngine{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("AddSourceBuffer after remove: error = %v, want ErrSessionClosed", err)
	}

	m.Remove("test") // second remove is a no-op
}

func TestPlayheadRoundTrip(t *testing.T) {
	t.Parallel()

	ms := New(nil, nil)
	defer ms.Close()

	pos, seeking := ms.Playhead()
	if pos != 0 || seeking {
		t.Errorf("initial playhead = %v,%v, want 0,false", pos, seeking)
	}

	ms.SetPlayhead(12.5, true)
	pos, seeking = ms.Playhead()
	if pos != 12.5 || !seeking {
		t.Errorf("playhead = %v,%v, want 12.5,true", pos, seeking)
	}
}

func TestReadySignalsOnFirstSettledUpdate(t *testing.T) {
	t.Parallel()

	ms := New(nil, nil)
	sb, err := ms.AddSourceBuffer(nullEngine{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ms.Run(ctx)

	select {
	case <-ms.Ready():
		t.Fatal("ready before any update settled")
	default:
	}

	// A remove settles synchronously and is the first updateend.
	sb.Remove(0, 1)

	select {
	case <-ms.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready never signalled")
	}

	// Further settled updates do not panic the once-closed channel.
	sb.Remove(1, 2)
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	ms := New(nil, nil)
	if _, err := ms.AddSourceBuffer(nullEngine{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ms.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancel")
	}

	// Run closes the session on exit.
	if _, err := ms.AddSourceBuffer(nullEngine{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("error = %v, want ErrSessionClosed", err)
	}
}
