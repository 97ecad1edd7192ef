package core

import (
	"reflect"
	"sync"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// EventSystem is the single-consumer cooperative dispatcher of spec §4.1:
// handlers register for concrete event kinds, events are enqueued, and the
// loop drains them in FIFO order on one logical task. A gammazero/deque
// backs the queue because it gives O(1) push-back/pop-front without the
// reallocation churn of a growing slice, which matters once replay is
// driving thousands of synthetic timer events through it.
type EventSystem struct {
	log zerolog.Logger

	mu       sync.Mutex // guards queue/handlers/wake; RaiseEvent may be called from outside the loop goroutine
	queue    deque.Deque
	handlers map[Kind][]Handler
	wake     chan struct{}

	mediators map[reflect.Type]Mediator

	delivered atomic.Uint64

	quit chan struct{}
	done chan struct{}

	// fatal carries the error that aborted Run, if any (spec §7: fatal
	// invariant violations must fail loudly, never be swallowed).
	fatal error
}

// NewEventSystem builds an EventSystem with no handlers or mediators
// registered yet; call On and RegisterMediator before Run.
func NewEventSystem(log zerolog.Logger) *EventSystem {
	return &EventSystem{
		log:       log.With().Str("component", "event_system").Logger(),
		handlers:  make(map[Kind][]Handler),
		mediators: make(map[reflect.Type]Mediator),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// On registers a handler for the given event Kind. Handlers for the same
// Kind are invoked in registration order.
func (s *EventSystem) On(kind Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], h)
}

// RaiseEvent enqueues an event for delivery. Safe to call from any
// goroutine; delivery itself always happens on the Run loop's goroutine
// (spec §5: "there is no parallelism inside the engine").
func (s *EventSystem) RaiseEvent(e Event) {
	s.mu.Lock()
	s.queue.PushBack(e)
	if s.wake != nil {
		close(s.wake)
		s.wake = nil
	}
	s.mu.Unlock()
}

// Delivered returns the number of events handed to a handler so far.
func (s *EventSystem) Delivered() uint64 {
	return s.delivered.Load()
}

// Mediator is a stateful helper registered by concrete type, hosting a
// side-effectful capability (delayed events, message pools) so it can be
// recorded and replayed identically (spec §4.1).
type Mediator interface {
	// Close releases any resources (timers, file handles) the mediator
	// owns. Called once, when the EventSystem shuts down.
	Close()
}

// RegisterMediator attaches m under its own concrete type, so later code
// can call GetMediator[T](s) to retrieve it.
func RegisterMediator(s *EventSystem, m Mediator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediators[reflect.TypeOf(m)] = m
}

// GetMediator retrieves a previously-registered mediator of type T. It
// panics if none was registered — a wiring bug, not a runtime condition.
func GetMediator[T Mediator](s *EventSystem) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	t := reflect.TypeOf(zero)
	m, ok := s.mediators[t]
	if !ok {
		panic(errors.Errorf("no mediator of type %s registered", t))
	}
	return m.(T)
}

// Run drains the queue until Stop is called or a handler reports a fatal
// error. It blocks; callers typically run it in its own goroutine (the
// teacher's engine.Unit.Launch idiom).
func (s *EventSystem) Run() {
	defer close(s.done)
	for {
		e, ok := s.pop()
		if !ok {
			if s.waitForWork() {
				return
			}
			continue
		}
		if err := s.dispatch(e); err != nil {
			s.mu.Lock()
			s.fatal = err
			s.mu.Unlock()
			return
		}
	}
}

func (s *EventSystem) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil, false
	}
	return s.queue.PopFront().(Event), true
}

// waitForWork blocks until either more work has arrived or quit closes; it
// reports true if the loop should stop.
func (s *EventSystem) waitForWork() bool {
	s.mu.Lock()
	if s.wake == nil {
		s.wake = make(chan struct{})
	}
	wake := s.wake
	s.mu.Unlock()

	select {
	case <-wake:
		return false
	case <-s.quit:
		return true
	}
}

func (s *EventSystem) dispatch(e Event) error {
	s.mu.Lock()
	hs := s.handlers[e.Kind()]
	s.mu.Unlock()

	if len(hs) == 0 {
		s.log.Warn().Str("kind", string(e.Kind())).Msg("no handler for event kind")
		return nil
	}
	for _, h := range hs {
		if err := h(e); err != nil {
			s.log.Error().Err(err).Str("kind", string(e.Kind())).Msg("handler returned a fatal error; stopping dispatch loop")
			return errors.Wrapf(err, "handling %s event", e.Kind())
		}
	}
	s.delivered.Inc()
	return nil
}

// Stop cancels the dispatch loop and closes every registered mediator,
// which cancels the DelayedEventMediator's outstanding timers (spec §5
// Cancellation). Calls after the first do nothing.
func (s *EventSystem) Stop() {
	select {
	case <-s.quit:
		return // already stopped
	default:
		close(s.quit)
	}
	s.mu.Lock()
	if s.wake != nil {
		close(s.wake)
		s.wake = nil
	}
	mediators := make([]Mediator, 0, len(s.mediators))
	for _, m := range s.mediators {
		mediators = append(mediators, m)
	}
	s.mu.Unlock()
	for _, m := range mediators {
		m.Close()
	}
}

// Done returns a channel closed once Run has returned.
func (s *EventSystem) Done() <-chan struct{} { return s.done }

// FatalErr returns the error that aborted Run, if Run stopped because of a
// fatal invariant violation rather than a clean Stop.
func (s *EventSystem) FatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}
