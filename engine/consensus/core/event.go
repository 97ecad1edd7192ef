// Package core implements the deterministic Event System that drives the
// Order/Sync/Round consensus layers (spec §4.1). It is a single-consumer
// cooperative dispatcher in the style of the teacher's
// engine/simulation/coldstuff.Engine: one goroutine owns all consensus
// state, external submissions are queued and drained in FIFO order, and no
// locking is needed inside a processing step.
package core

import "fmt"

// Kind identifies the concrete type of an Event for handler dispatch and
// for the record log (spec §6).
type Kind string

const (
	KindInitialize   Kind = "Initialize"
	KindReceiveData  Kind = "ReceiveData"
	KindReceiveVote  Kind = "ReceiveVote"
	KindBroadcastData Kind = "BroadcastData"
	KindBroadcastVote Kind = "BroadcastVote"
	KindRoundStart   Kind = "RoundStart"
	KindRoundEnd     Kind = "RoundEnd"
)

// Event is the unit the dispatcher queues and delivers. Every event carries
// a Deterministic flag: non-deterministic events (bootstrap, externally
// delayed deliveries) are omitted from the record log (spec §4.1).
type Event interface {
	Kind() Kind
	Deterministic() bool
	SetDeterministic(bool)
}

// base is embedded by every concrete event and supplies the Deterministic
// bookkeeping so individual event types don't repeat it.
type base struct {
	deterministic bool
}

func (b *base) Deterministic() bool     { return b.deterministic }
func (b *base) SetDeterministic(v bool) { b.deterministic = v }

func newBase() base { return base{deterministic: true} }

// Handler processes one event. Returning an error from a handler aborts the
// dispatch loop (spec §7: fatal invariant violations must fail loudly); a
// handler that only wants to drop expected admission/authorization traffic
// must recover from it internally, as the Sync layer does.
type Handler func(Event) error

// unknownKindError describes an event whose Kind has no registered handler.
// Nothing returns it: EventSystem.dispatch logs such an event at Warn level
// and drops it (the node Engine, for one, registers no RoundStart handler).
type unknownKindError struct{ kind Kind }

func (e *unknownKindError) Error() string {
	return fmt.Sprintf("no handler registered for event kind %q", e.kind)
}
