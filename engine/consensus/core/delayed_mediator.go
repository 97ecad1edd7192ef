package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Executor is the pluggable strategy behind DelayedEventMediator.Execute
// (spec §4.1): Instant uses a live timer, Recorder additionally appends to
// the record log, and Replayer reads the next recorded delivery time from
// the log and advances a virtual clock instead of waiting in real time.
type Executor interface {
	Execute(delay time.Duration, e Event) error
	Close()
}

// DelayedEventMediator schedules an event for delivery after some delay.
// The concrete Executor is a property of the run mode (spec §6), not of the
// layer requesting the delay, so Sync/Round code never branches on mode.
type DelayedEventMediator struct {
	exec Executor
}

func NewDelayedEventMediator(exec Executor) *DelayedEventMediator {
	return &DelayedEventMediator{exec: exec}
}

// Execute schedules event for delivery after delay.
func (m *DelayedEventMediator) Execute(delay time.Duration, e Event) error {
	return m.exec.Execute(delay, e)
}

func (m *DelayedEventMediator) Close() { m.exec.Close() }

// InstantExecutor schedules a real time.Timer and re-raises the event on
// the owning EventSystem when it fires. Used by instant and record modes.
type pendingTimer struct {
	timer       *time.Timer
	event       Event
	scheduledAt time.Time
	delay       time.Duration
	fired       bool
}

type InstantExecutor struct {
	system *EventSystem

	mu      sync.Mutex
	pending []*pendingTimer
	closed  bool
}

func NewInstantExecutor(system *EventSystem) *InstantExecutor {
	return &InstantExecutor{system: system}
}

func (x *InstantExecutor) Execute(delay time.Duration, e Event) error {
	e.SetDeterministic(false) // spec §4.3.4: synthetic timer deliveries are non-deterministic
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	p := &pendingTimer{event: e, scheduledAt: time.Now(), delay: delay}
	p.timer = time.AfterFunc(delay, func() {
		x.markFired(p)
		x.system.RaiseEvent(e)
	})
	x.pending = append(x.pending, p)
	return nil
}

func (x *InstantExecutor) markFired(p *pendingTimer) {
	x.mu.Lock()
	defer x.mu.Unlock()
	p.fired = true
}

// Rebase cancels every outstanding timer and reschedules it with its
// original *remaining* delay relative to now. This is the console-attach
// contract of spec §4.1: pausing for interactive inspection must not
// disturb relative timer ordering.
func (x *InstantExecutor) Rebase() {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := time.Now()
	live := x.pending[:0]
	for _, p := range x.pending {
		if p.fired {
			continue
		}
		p.timer.Stop()
		elapsed := now.Sub(p.scheduledAt)
		remaining := p.delay - elapsed
		if remaining < 0 {
			remaining = 0
		}
		event := p.event
		np := &pendingTimer{event: event, scheduledAt: now, delay: remaining}
		np.timer = time.AfterFunc(remaining, func() {
			x.markFired(np)
			x.system.RaiseEvent(event)
		})
		live = append(live, np)
	}
	x.pending = live
}

func (x *InstantExecutor) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	for _, p := range x.pending {
		p.timer.Stop()
	}
}

// RecorderExecutor behaves exactly like InstantExecutor but additionally
// appends every scheduled delivery to the record log before the timer
// fires, so a later replay can reproduce the same delays bit-for-bit.
type RecorderExecutor struct {
	inner  *InstantExecutor
	writer *RecordWriter
}

func NewRecorderExecutor(system *EventSystem, writer *RecordWriter) *RecorderExecutor {
	return &RecorderExecutor{inner: NewInstantExecutor(system), writer: writer}
}

func (x *RecorderExecutor) Execute(delay time.Duration, e Event) error {
	if e.Deterministic() {
		if err := x.writer.Append(delay, e); err != nil {
			return err
		}
	}
	return x.inner.Execute(delay, e)
}

func (x *RecorderExecutor) Close() { x.inner.Close() }

// Decoder reconstructs a concrete Event from a record-log entry. The node
// package's Decoders supplies one decoder per Kind a record log can hold;
// Data/Vote payloads are decoded with encoding/json, not rebuilt through
// the Data/Vote factories.
type Decoder func(payload json.RawMessage) (Event, error)

// ReplayExecutor reads the next recorded delivery from the log instead of
// waiting on a real timer, advancing a virtual clock to the log's own
// timestamps so execution is bit-reproducible (spec §5 "Ordering
// guarantees").
type ReplayExecutor struct {
	system   *EventSystem
	reader   *RecordReader
	decoders map[Kind]Decoder

	mu          sync.Mutex
	virtualTime time.Duration
}

func NewReplayExecutor(system *EventSystem, reader *RecordReader, decoders map[Kind]Decoder) *ReplayExecutor {
	return &ReplayExecutor{system: system, reader: reader, decoders: decoders}
}

// Execute ignores delay and e entirely: in replay mode the log is the
// sole source of truth for what was scheduled and when, not the live call
// site (which is re-deriving the same schedule deterministically, but may
// not agree bit-for-bit on float delays without this).
func (x *ReplayExecutor) Execute(_ time.Duration, _ Event) error {
	entry, err := x.reader.Next()
	if err != nil {
		return errors.Wrap(err, "replay: could not read next delayed event")
	}
	decode, ok := x.decoders[entry.Kind]
	if !ok {
		return errors.Errorf("replay: no decoder registered for kind %q", entry.Kind)
	}
	event, err := decode(entry.Payload)
	if err != nil {
		return errors.Wrapf(err, "replay: could not decode %q payload", entry.Kind)
	}
	event.SetDeterministic(false)

	x.mu.Lock()
	x.virtualTime += time.Duration(entry.DelaySeconds * float64(time.Second))
	x.mu.Unlock()

	x.system.RaiseEvent(event)
	return nil
}

// VirtualTime returns the cumulative delay the replay has advanced through.
func (x *ReplayExecutor) VirtualTime() time.Duration {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.virtualTime
}

func (x *ReplayExecutor) Close() {}
