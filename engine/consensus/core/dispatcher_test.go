package core_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconloop/LFT2/engine/consensus/core"
)

const kindTestA core.Kind = "test.A"

type testEvent struct {
	id            int
	deterministic bool
}

func (e *testEvent) Kind() core.Kind        { return kindTestA }
func (e *testEvent) Deterministic() bool    { return e.deterministic }
func (e *testEvent) SetDeterministic(v bool) { e.deterministic = v }

func TestEventSystemDispatchesInFIFOOrder(t *testing.T) {
	system := core.NewEventSystem(zerolog.Nop())

	var mu sync.Mutex
	var seen []int
	system.On(kindTestA, func(e core.Event) error {
		mu.Lock()
		seen = append(seen, e.(*testEvent).id)
		mu.Unlock()
		return nil
	})

	go system.Run()
	defer system.Stop()

	for i := 0; i < 5; i++ {
		system.RaiseEvent(&testEvent{id: i, deterministic: true})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestEventSystemMultipleHandlersRunInRegistrationOrder(t *testing.T) {
	system := core.NewEventSystem(zerolog.Nop())

	var mu sync.Mutex
	var order []string
	system.On(kindTestA, func(e core.Event) error {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil
	})
	system.On(kindTestA, func(e core.Event) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	})

	go system.Run()
	defer system.Stop()

	system.RaiseEvent(&testEvent{id: 1, deterministic: true})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventSystemHandlerErrorStopsLoopAndRecordsFatal(t *testing.T) {
	system := core.NewEventSystem(zerolog.Nop())

	boom := assert.AnError
	system.On(kindTestA, func(e core.Event) error {
		return boom
	})

	go system.Run()
	system.RaiseEvent(&testEvent{id: 1, deterministic: true})

	select {
	case <-system.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after a handler error")
	}

	require.Error(t, system.FatalErr())
}

func TestEventSystemRaiseBeforeRunIsQueuedNotLost(t *testing.T) {
	system := core.NewEventSystem(zerolog.Nop())

	var mu sync.Mutex
	var seen int
	system.On(kindTestA, func(e core.Event) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	// Raise before Run is ever called: the event must sit in the queue and
	// be delivered once the loop starts, not be dropped.
	system.RaiseEvent(&testEvent{id: 1, deterministic: true})

	go system.Run()
	defer system.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 1
	}, time.Second, time.Millisecond)
}

func TestEventSystemStopIsIdempotentAndClosesMediators(t *testing.T) {
	system := core.NewEventSystem(zerolog.Nop())
	closed := make(chan struct{}, 1)
	core.RegisterMediator(system, &closeTrackingMediator{closed: closed})

	go system.Run()
	system.Stop()
	system.Stop() // must not panic or block on a second call

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Stop did not close registered mediators")
	}
}

type closeTrackingMediator struct {
	closed chan struct{}
}

func (m *closeTrackingMediator) Close() { m.closed <- struct{}{} }
