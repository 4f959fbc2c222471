// Package sink defines the boundary to the legacy rendering target: the
// narrow synchronous surface the target exposes, and the one-shot callback
// registry through which chunk payloads are handed over.
//
// The original bridge reached the target through uniquely named,
// self-deleting global functions that threw their payload to escape the
// call stack. [Registry] keeps the shape of that protocol — the sink pulls
// a named handle at its leisure, each handle delivers exactly one payload
// and then ceases to exist — as an explicit request/response object, never
// as control-flow exceptions.
package sink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/flashmse/media"
)

// Sentinel errors for sink and callback handling, distinguishable with
// errors.Is.
var (
	// ErrCallbackOutstanding reports a protocol violation: a second chunk
	// handle was registered before the sink consumed the first.
	ErrCallbackOutstanding = errors.New("sink: callback already outstanding")

	// ErrUnknownCallback reports an invocation of a handle that was never
	// registered or was already consumed.
	ErrUnknownCallback = errors.New("sink: unknown callback")
)

// Sink is the capability-limited legacy rendering target. Implementations
// accept data only through the registry indirection: AppendChunkReady hands
// the sink a handle name, and the sink invokes that handle when it is ready
// to ingest the next chunk.
type Sink interface {
	// AppendChunkReady announces that a chunk is available under the given
	// registry handle name.
	AppendChunkReady(callback string)

	// Abort discards the sink's in-progress append state.
	Abort()

	// Discontinuity signals a break in timeline continuity (seek or
	// timestamp-offset change).
	Discontinuity()

	// Buffered reports the sink's buffered intervals as [start, end] pairs
	// in presentation seconds.
	Buffered() [][2]float64
}

// Invoker is the pull side of the registry, the only part visible to a
// Sink implementation.
type Invoker interface {
	Invoke(name string) (media.Chunk, error)
}

// Registry holds at most one outstanding chunk handle. Registering binds a
// payload to a fresh unique name; invoking that name consumes the handle,
// returns the payload, and signals the delivery loop that the sink is ready
// for more.
type Registry struct {
	mu      sync.Mutex
	name    string
	payload media.Chunk
	onTaken func()
	waiters []func()
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds payload to a new one-shot handle and returns its name.
// onTaken runs after the sink consumes the handle, outside the registry
// lock. Registering while a handle is outstanding returns
// ErrCallbackOutstanding — no two chunks may be in flight at once.
func (r *Registry) Register(payload media.Chunk, onTaken func()) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.name != "" {
		return "", fmt.Errorf("register handle: %w", ErrCallbackOutstanding)
	}

	r.name = "flashmse_" + uuid.NewString()
	r.payload = payload
	r.onTaken = onTaken
	return r.name, nil
}

// Invoke consumes the handle with the given name, returning its payload.
// The handle self-deletes before the payload is returned; a second
// invocation of the same name fails with ErrUnknownCallback.
func (r *Registry) Invoke(name string) (media.Chunk, error) {
	r.mu.Lock()
	if name == "" || name != r.name {
		r.mu.Unlock()
		return nil, fmt.Errorf("invoke %q: %w", name, ErrUnknownCallback)
	}

	payload := r.payload
	onTaken := r.onTaken
	waiters := r.waiters
	r.name = ""
	r.payload = nil
	r.onTaken = nil
	r.waiters = nil
	r.mu.Unlock()

	if onTaken != nil {
		onTaken()
	}
	for _, fn := range waiters {
		fn()
	}
	return payload, nil
}

// Release drops the handle with the given name without delivering it, then
// wakes any idle waiters. A name that is not the outstanding handle is a
// no-op, so a registrant can only discard its own handle, never a sibling's.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	if name == "" || name != r.name {
		r.mu.Unlock()
		return
	}
	waiters := r.waiters
	r.name = ""
	r.payload = nil
	r.onTaken = nil
	r.waiters = nil
	r.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}

// AwaitIdle runs fn once no handle is outstanding: immediately when the
// registry is already idle, otherwise after the current handle is consumed
// or released. fn runs outside the registry lock.
func (r *Registry) AwaitIdle(fn func()) {
	r.mu.Lock()
	if r.name == "" {
		r.mu.Unlock()
		fn()
		return
	}
	r.waiters = append(r.waiters, fn)
	r.mu.Unlock()
}

// Clear drops any outstanding handle without delivering it and wakes idle
// waiters. Used on session teardown; a single registrant discarding its own
// work uses Release.
func (r *Registry) Clear() {
	r.mu.Lock()
	waiters := r.waiters
	r.name = ""
	r.payload = nil
	r.onTaken = nil
	r.waiters = nil
	r.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}

// Outstanding reports whether a handle is currently registered and
// unconsumed.
func (r *Registry) Outstanding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name != ""
}
