// Package node wires the Order/Sync/Round layers, the Event System and its
// mediators into a single per-replica Engine, in the shape of the
// teacher's engine/simulation/coldstuff.Engine: a Submit/Process API that
// queues work for a single consuming goroutine, plus Ready/Done lifecycle
// channels. Transport (how Submit's caller actually received the message)
// and cryptography (how Data.Verify resolves) are both out of scope per
// spec.md §1; this package only owns the event contract and the three
// consensus layers that sit behind it.
package node

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/core/notifications"
	"github.com/iconloop/LFT2/engine/consensus/core/order"
	"github.com/iconloop/LFT2/model/consensus"
	"github.com/iconloop/LFT2/module/mempool"
)

// Engine is the consensus root for one replica.
type Engine struct {
	unit *unit
	log  zerolog.Logger

	system *core.EventSystem
	order  *order.Layer
	pool   *mempool.Pool

	broadcastData []func(*consensus.Data)
	broadcastVote []func(*consensus.Vote)
}

// Config bundles an Engine's construction-time dependencies. Exec selects
// the DelayedEventMediator's strategy (Instant/Recorder/Replayer), which is
// a property of the run mode, not of any consensus layer (spec §4.1/§6).
type Config struct {
	Log         zerolog.Logger
	Self        consensus.NodeID
	DataFactory consensus.DataFactory
	VoteFactory consensus.VoteFactory
	Consumer    notifications.Consumer
	NextTerm    order.NextTermFunc
	NewExecutor func(system *core.EventSystem) core.Executor
}

// New constructs an Engine with its Order layer and mediators wired, but
// not yet bootstrapped: call Submit with an InitializeEvent (or call
// Order().Bootstrap directly) before Start.
func New(cfg Config) *Engine {
	log := cfg.Log.With().Str("engine", "consensus").Logger()
	system := core.NewEventSystem(log)
	pool := mempool.New()

	consumer := cfg.Consumer
	if consumer == nil {
		consumer = notifications.NewPubSub()
	}

	// Registered before order.New, which resolves the pool through this
	// mediator rather than taking it as a constructor argument.
	core.RegisterMediator(system, core.NewMessagePoolMediator(pool))
	exec := cfg.NewExecutor(system)
	core.RegisterMediator(system, core.NewDelayedEventMediator(exec))

	o := order.New(log, system, cfg.Self, cfg.DataFactory, cfg.VoteFactory, consumer, cfg.NextTerm)

	e := &Engine{
		unit:   newUnit(),
		log:    log,
		system: system,
		order:  o,
		pool:   pool,
	}

	system.On(core.KindInitialize, e.handleInitialize)
	system.On(core.KindReceiveData, e.handleReceiveData)
	system.On(core.KindReceiveVote, e.handleReceiveVote)
	system.On(core.KindRoundEnd, e.handleRoundEnd)
	system.On(core.KindBroadcastData, e.handleBroadcastData)
	system.On(core.KindBroadcastVote, e.handleBroadcastVote)

	return e
}

// Submit enqueues an event for processing. Safe to call from any
// goroutine; actual handling always happens on the Engine's own loop
// (spec §5).
func (e *Engine) Submit(ev core.Event) {
	e.system.RaiseEvent(ev)
}

// Start launches the dispatch loop.
func (e *Engine) Start() {
	e.unit.Launch(e.system.Run)
}

// Ready returns a channel that closes once Start has launched the loop.
func (e *Engine) Ready() <-chan struct{} { return e.unit.Ready() }

// Done returns a channel that closes once the loop has stopped.
func (e *Engine) Done() <-chan struct{} { return e.unit.Done() }

// Stop cancels the dispatch loop and every outstanding timer.
func (e *Engine) Stop() {
	e.unit.Stop()
	e.system.Stop()
}

// FatalErr reports the error that aborted the dispatch loop, if any
// (spec §7: fatal invariant violations must fail loudly).
func (e *Engine) FatalErr() error { return e.system.FatalErr() }

// Order exposes the Order layer for read-only inspection (tests, metrics).
func (e *Engine) Order() *order.Layer { return e.order }

// Pool exposes the message pool, mainly so a host can assemble a proposal's
// prev_votes bundle from the previous round's winning votes (spec §4.6).
func (e *Engine) Pool() *mempool.Pool { return e.pool }

// OnBroadcastData subscribes a handler for the engine's own Data broadcast
// output; the host is expected to rebroadcast to peers and echo the
// message back in as a ReceiveDataEvent (spec §6).
func (e *Engine) OnBroadcastData(h func(*consensus.Data)) {
	e.broadcastData = append(e.broadcastData, h)
}

// OnBroadcastVote is the Vote counterpart of OnBroadcastData.
func (e *Engine) OnBroadcastVote(h func(*consensus.Vote)) {
	e.broadcastVote = append(e.broadcastVote, h)
}

func (e *Engine) handleInitialize(ev core.Event) error {
	init, ok := ev.(*core.InitializeEvent)
	if !ok {
		return errors.New("handleInitialize: unexpected event type")
	}
	term := consensus.NewTerm(init.EpochNum, init.VoterIDs, 1)
	return e.order.Bootstrap(term, init.RoundNum, init.GenesisData)
}

func (e *Engine) handleReceiveData(ev core.Event) error {
	rd, ok := ev.(*core.ReceiveDataEvent)
	if !ok {
		return errors.New("handleReceiveData: unexpected event type")
	}
	if !rd.Data.Verify() {
		e.log.Debug().Msg("dropped data: signature verification failed")
		return nil
	}
	return e.order.ReceiveData(rd.Data)
}

func (e *Engine) handleReceiveVote(ev core.Event) error {
	rv, ok := ev.(*core.ReceiveVoteEvent)
	if !ok {
		return errors.New("handleReceiveVote: unexpected event type")
	}
	if !rv.Vote.Verify() {
		e.log.Debug().Msg("dropped vote: signature verification failed")
		return nil
	}
	return e.order.ReceiveVote(rv.Vote)
}

func (e *Engine) handleRoundEnd(ev core.Event) error {
	re, ok := ev.(*core.RoundEndEvent)
	if !ok {
		return errors.New("handleRoundEnd: unexpected event type")
	}
	return e.order.OnRoundEnd(re)
}

func (e *Engine) handleBroadcastData(ev core.Event) error {
	bd, ok := ev.(*core.BroadcastDataEvent)
	if !ok {
		return errors.New("handleBroadcastData: unexpected event type")
	}
	for _, h := range e.broadcastData {
		h(bd.Data)
	}
	return nil
}

func (e *Engine) handleBroadcastVote(ev core.Event) error {
	bv, ok := ev.(*core.BroadcastVoteEvent)
	if !ok {
		return errors.New("handleBroadcastVote: unexpected event type")
	}
	for _, h := range e.broadcastVote {
		h(bv.Vote)
	}
	return nil
}

// Decoders returns the record-log Kind->Decoder table needed to construct a
// ReplayExecutor for this engine (spec §6 replay mode). Only ReceiveData
// and ReceiveVote ever travel through the DelayedEventMediator, so those
// are the only two kinds a replay log can contain.
func Decoders() map[core.Kind]core.Decoder {
	return map[core.Kind]core.Decoder{
		core.KindReceiveData: func(payload json.RawMessage) (core.Event, error) {
			var wrapper struct {
				Data *consensus.Data
			}
			if err := json.Unmarshal(payload, &wrapper); err != nil {
				return nil, err
			}
			return core.NewReceiveDataEvent(wrapper.Data), nil
		},
		core.KindReceiveVote: func(payload json.RawMessage) (core.Event, error) {
			var wrapper struct {
				Vote *consensus.Vote
			}
			if err := json.Unmarshal(payload, &wrapper); err != nil {
				return nil, err
			}
			return core.NewReceiveVoteEvent(wrapper.Vote), nil
		},
	}
}
