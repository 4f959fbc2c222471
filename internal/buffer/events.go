package buffer

// Event is a typed update-lifecycle notification. EventUpdate marks the
// start of an accepted operation; EventUpdateEnd marks an operation fully
// settled (queue drained, or remove completed, or abort forced).
type Event int

// Update-lifecycle events, in emission order for a successful append.
const (
	EventUpdate Event = iota
	EventUpdateEnd
)

// String implements fmt.Stringer for log output.
func (e Event) String() string {
	switch e {
	case EventUpdate:
		return "update"
	case EventUpdateEnd:
		return "updateend"
	default:
		return "unknown"
	}
}

// OnEvent registers fn for update-lifecycle notifications. Listeners are
// invoked synchronously, possibly from the delivery loop's or the sink's
// goroutine, and must not call back into the buffer's blocking surface.
func (sb *SourceBuffer) OnEvent(fn func(Event)) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.listeners = append(sb.listeners, fn)
}

func (sb *SourceBuffer) emit(e Event) {
	sb.mu.Lock()
	listeners := make([]func(Event), len(sb.listeners))
	copy(listeners, sb.listeners)
	sb.mu.Unlock()

	sb.log.Debug("event", "type", e.String())
	for _, fn := range listeners {
		fn(e)
	}
}

// maybeReady fires the owning session's ready notification on the first
// settled update, exactly once.
func (sb *SourceBuffer) maybeReady() {
	sb.mu.Lock()
	if sb.readySent || sb.onReady == nil {
		sb.mu.Unlock()
		return
	}
	sb.readySent = true
	onReady := sb.onReady
	sb.mu.Unlock()

	onReady()
}
