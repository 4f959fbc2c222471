package demux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/flashmse/media"
)

// stubEngine scripts Flush and ConvertTags responses and records calls.
// The worker goroutine writes and the test reads, so access is locked.
type stubEngine struct {
	mu       sync.Mutex
	pushes   [][]byte
	resets   int
	inits    []InitOptions
	segments []*media.Segment
	chunks   []media.Chunk
	targets  []int64
}

func (s *stubEngine) Init(opts InitOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits = append(s.inits, opts)
}

func (s *stubEngine) Push(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, p)
}

func (s *stubEngine) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *stubEngine) Flush() []*media.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := s.segments
	s.segments = nil
	return segs
}

func (s *stubEngine) ConvertTags(targetPTS int64) []media.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, targetPTS)
	chunks := s.chunks
	s.chunks = nil
	return chunks
}

func (s *stubEngine) snapshot() (resets int, inits []InitOptions, targets []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets, append([]InitOptions{}, s.inits...), append([]int64{}, s.targets...)
}

func startWorker(t *testing.T, engine Engine) *Worker {
	t.Helper()
	w := NewWorker(engine, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w
}

func recvMessage(t *testing.T, w *Worker) Message {
	t.Helper()
	select {
	case msg, ok := <-w.Output():
		if !ok {
			t.Fatal("output channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message within deadline")
	}
	return Message{}
}

func TestFlushEmitsSegmentsInOrder(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{segments: []*media.Segment{
		{BasePTS: 1000, SampleCount: 10},
		{BasePTS: 2000, SampleCount: 5},
	}}
	w := startWorker(t, engine)

	w.Push([]byte{1, 2, 3})
	w.Flush()

	first := recvMessage(t, w)
	if first.Segment == nil || first.Segment.BasePTS != 1000 {
		t.Fatalf("first message = %+v, want segment 1000", first)
	}
	second := recvMessage(t, w)
	if second.Segment == nil || second.Segment.BasePTS != 2000 {
		t.Fatalf("second message = %+v, want segment 2000", second)
	}
}

func TestFlushWithoutSegmentsEmitsEmptyData(t *testing.T) {
	t.Parallel()

	w := startWorker(t, &stubEngine{})

	w.Push([]byte("incomplete"))
	w.Flush()

	msg := recvMessage(t, w)
	if !msg.Data || msg.Segment != nil || len(msg.Chunks) != 0 {
		t.Fatalf("message = %+v, want empty data-class response", msg)
	}
}

func TestConvertAlwaysEmitsDataMessage(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{} // no chunks scripted
	w := startWorker(t, engine)

	w.ConvertTags(1234)
	msg := recvMessage(t, w)
	if !msg.Data {
		t.Fatalf("message = %+v, want data-class", msg)
	}
	if len(msg.Chunks) != 0 {
		t.Errorf("chunks = %d, want 0", len(msg.Chunks))
	}
	if _, _, targets := engine.snapshot(); len(targets) != 1 || targets[0] != 1234 {
		t.Errorf("targets = %v, want [1234]", targets)
	}
}

func TestSegmentThenDataOrdering(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{
		segments: []*media.Segment{{BasePTS: 1000, SampleCount: 10}},
		chunks:   []media.Chunk{media.Chunk("C1"), media.Chunk("C2")},
	}
	w := startWorker(t, engine)

	w.Push([]byte("bytes"))
	w.Flush()
	w.ConvertTags(1000)

	if msg := recvMessage(t, w); msg.Segment == nil {
		t.Fatalf("first message = %+v, want segment", msg)
	}
	msg := recvMessage(t, w)
	if !msg.Data || len(msg.Chunks) != 2 {
		t.Fatalf("second message = %+v, want 2 chunks", msg)
	}
	if string(msg.Chunks[0]) != "C1" || string(msg.Chunks[1]) != "C2" {
		t.Error("chunk order not preserved")
	}
}

func TestResetReachesEngine(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	w := startWorker(t, engine)

	w.Init(InitOptions{Captions: true})
	w.Reset()
	w.Flush() // emits nothing, but proves the queue drained past reset

	// Flush produced no message; give the worker a moment then check state.
	time.Sleep(20 * time.Millisecond)
	resets, inits, _ := engine.snapshot()
	if resets != 1 {
		t.Errorf("resets = %d, want 1", resets)
	}
	if len(inits) != 1 || !inits[0].Captions {
		t.Errorf("inits = %v", inits)
	}
}

func TestCancelClosesOutput(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	w := NewWorker(engine, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}

	if _, ok := <-w.Output(); ok {
		t.Error("output channel still open after Run exit")
	}

	// Requests after stop are dropped, not deadlocked.
	w.Push([]byte("late"))
}
