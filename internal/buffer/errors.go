package buffer

import "errors"

// Sentinel errors for the source buffer surface, distinguishable with
// errors.Is.
var (
	// ErrUpdating reports an append while a previous update is still in
	// flight — the InvalidStateError of the streaming-buffer contract. The
	// caller must wait for the update to end.
	ErrUpdating = errors.New("buffer: update in progress")

	// ErrNoSink reports a write that requires the rendering sink while no
	// sink handle is attached.
	ErrNoSink = errors.New("buffer: sink unavailable")

	// ErrClosed reports use of a source buffer after Close.
	ErrClosed = errors.New("buffer: closed")
)
