package events

import "p2plend/core/types"

// Event is the interface implemented by every typed ledger event.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter receives events produced while applying an instruction.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events. Engines default to it so event wiring is
// always optional.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
