package pace

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestArmFiresAfterInterval(t *testing.T) {
	t.Parallel()

	p := New(5 * time.Millisecond)
	fired := make(chan time.Time, 1)

	start := time.Now()
	p.Arm(func() { fired <- time.Now() })

	select {
	case at := <-fired:
		if elapsed := at.Sub(start); elapsed < 5*time.Millisecond {
			t.Errorf("fired after %v, want >= 5ms", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestArmReplacesPending(t *testing.T) {
	t.Parallel()

	p := New(10 * time.Millisecond)
	var fires atomic.Int32

	p.Arm(func() { fires.Add(1) })
	p.Arm(func() { fires.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Errorf("fires = %d, want 1 (second Arm should replace the first)", got)
	}
}

func TestStopCancelsPending(t *testing.T) {
	t.Parallel()

	p := New(10 * time.Millisecond)
	var fires atomic.Int32

	p.Arm(func() { fires.Add(1) })
	p.Stop()

	time.Sleep(50 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Errorf("fires = %d, want 0 after Stop", got)
	}
}

func TestStopWithoutArm(t *testing.T) {
	t.Parallel()

	p := New(time.Millisecond)
	p.Stop() // must not panic
}
