package events

// Event represents a structured state change emitted by the staking program.
type Event interface {
	EventType() string
}

// Emitter broadcasts committed events to downstream subscribers (preview
// streams, log sinks, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
