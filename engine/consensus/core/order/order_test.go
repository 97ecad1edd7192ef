package order_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/core/order"
	"github.com/iconloop/LFT2/model/consensus"
	"github.com/iconloop/LFT2/module/mempool"
)

type noopConsumer struct{}

func (noopConsumer) OnRoundStart(epochNum, roundNum uint64) {}
func (noopConsumer) OnRoundEnd(isSuccess bool, epochNum, roundNum uint64, candidate *consensus.Data) {
}
func (noopConsumer) OnProposeTimeoutStarted(epochNum, roundNum uint64)    {}
func (noopConsumer) OnVoteTimeoutStarted(epochNum, roundNum uint64)       {}
func (noopConsumer) OnCommit(candidate *consensus.Data)                   {}
func (noopConsumer) OnEquivocationDetected(first, second *consensus.Data) {}

func newVoters(n int) []consensus.NodeID {
	voters := make([]consensus.NodeID, n)
	for i := range voters {
		voters[i] = consensus.NewNodeID()
	}
	return voters
}

func newTestOrder(t *testing.T, voters []consensus.NodeID, self consensus.NodeID) (*order.Layer, *core.EventSystem) {
	t.Helper()
	system := core.NewEventSystem(zerolog.Nop())
	core.RegisterMediator(system, core.NewMessagePoolMediator(mempool.New()))
	core.RegisterMediator(system, core.NewDelayedEventMediator(core.NewInstantExecutor(system)))
	l := order.New(zerolog.Nop(), system, self, consensus.DefaultDataFactory{}, consensus.DefaultVoteFactory{Voter: self}, noopConsumer{}, nil)
	return l, system
}

func TestOrderBootstrapOpensGenesisRound(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)
	l, _ := newTestOrder(t, voters, voters[0])

	require.NoError(t, l.Bootstrap(term, 0, nil))
	assert.Equal(t, uint64(0), l.CurrentRound())
	assert.Nil(t, l.Candidate())
}

func TestOrderReceiveDataFutureRoundIsBuffered(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)
	l, _ := newTestOrder(t, voters, voters[0])
	require.NoError(t, l.Bootstrap(term, 0, nil))

	future := &consensus.Data{ID: consensus.DataID{9}, EpochNum: 0, RoundNum: 3, ProposerID: voters[3], Real: true}
	require.NoError(t, l.ReceiveData(future), "a future-round data must be buffered, not dropped or routed live")
	assert.Equal(t, uint64(0), l.CurrentRound(), "buffering a future data must not itself advance the round")
}

func TestOrderReceiveDataForeignEpochDropped(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)
	l, _ := newTestOrder(t, voters, voters[0])
	require.NoError(t, l.Bootstrap(term, 0, nil))

	foreign := &consensus.Data{ID: consensus.DataID{9}, EpochNum: 7, RoundNum: 0, ProposerID: voters[0], Real: true}
	require.NoError(t, l.ReceiveData(foreign))
}

func TestOrderPastRoundAcceptsOnlyPreviousRound(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)
	l, system := newTestOrder(t, voters, voters[0])
	require.NoError(t, l.Bootstrap(term, 0, nil))
	pool := core.GetMediator[*core.MessagePoolMediator](system).Pool()

	// Advance to round 2 by feeding OnRoundEnd directly: this is what the
	// node Engine's dispatcher does once a round's RoundEndEvent drains off
	// the queue, and exercising it directly keeps this test independent of
	// the event loop's scheduling.
	number := uint64(1)
	for round := uint64(0); round < 2; round++ {
		candidate := &consensus.Data{ID: consensus.DataID{byte(round + 1)}, Number: number}
		number++
		require.NoError(t, l.OnRoundEnd(core.NewRoundEndEvent(true, 0, round, candidate)))
	}
	require.Equal(t, uint64(2), l.CurrentRound())

	// round 0 is now two rounds behind the current round: unacceptable.
	pastVote, err := consensus.DefaultVoteFactory{Voter: voters[1]}.CreateVote(consensus.DataID{1}, consensus.DataID{}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, l.ReceiveVote(pastVote), "round 0 is too far in the past to accept")
	assert.False(t, pool.HasVote(0, 0, consensus.DataID{1}, pastVote.ID), "round 0 is too far in the past to accept")

	// round 1 is the previous round: acceptable.
	prevVote, err := consensus.DefaultVoteFactory{Voter: voters[1]}.CreateVote(consensus.DataID{2}, consensus.DataID{}, 0, 1)
	require.NoError(t, err)
	require.NoError(t, l.ReceiveVote(prevVote))
	assert.True(t, pool.HasVote(0, 1, consensus.DataID{2}, prevVote.ID), "a previous-round vote must be admitted into the pool")
}

func TestOrderRoundEndFatalOnNonMonotonicCandidate(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)
	l, _ := newTestOrder(t, voters, voters[0])

	genesis := &consensus.Data{ID: consensus.DataID{1}, Number: 5}
	require.NoError(t, l.Bootstrap(term, 0, genesis))

	stale := &consensus.Data{ID: consensus.DataID{2}, Number: 5}
	ev := core.NewRoundEndEvent(true, 0, 0, stale)
	err := l.OnRoundEnd(ev)
	require.Error(t, err)
	var fatal *consensus.FatalInvariant
	require.ErrorAs(t, err, &fatal)
}

func TestOrderRoundEndFatalOnNilCandidateForSuccess(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)
	l, _ := newTestOrder(t, voters, voters[0])
	require.NoError(t, l.Bootstrap(term, 0, nil))

	ev := core.NewRoundEndEvent(true, 0, 0, nil)
	err := l.OnRoundEnd(ev)
	require.Error(t, err)
	var fatal *consensus.FatalInvariant
	require.ErrorAs(t, err, &fatal)
}

func TestOrderRoundEndStaleEventIgnored(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)
	l, _ := newTestOrder(t, voters, voters[0])
	require.NoError(t, l.Bootstrap(term, 0, nil))

	// A RoundEnd for a round that is no longer current (e.g. a straggler
	// event from before the round advanced) must be a no-op, not an error.
	stale := core.NewRoundEndEvent(true, 0, 5, &consensus.Data{ID: consensus.DataID{1}, Number: 1})
	require.NoError(t, l.OnRoundEnd(stale))
	assert.Equal(t, uint64(0), l.CurrentRound())
}
