package sync_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/core/sync"
	"github.com/iconloop/LFT2/model/consensus"
	"github.com/iconloop/LFT2/module/mempool"
)

// fakeRoundLayer stands in for round.Layer so these tests exercise only the
// Sync layer's admission, late-vote drain, and lazy-timeout logic.
type fakeRoundLayer struct {
	data  []*consensus.Data
	votes []*consensus.Vote
}

func (f *fakeRoundLayer) ReceiveData(d *consensus.Data) error {
	f.data = append(f.data, d)
	return nil
}

func (f *fakeRoundLayer) ReceiveVote(v *consensus.Vote) error {
	f.votes = append(f.votes, v)
	return nil
}

// captureExecutor records every scheduled delay/event instead of starting a
// real timer, so tests don't wait out spec's 2s propose/vote timeouts.
type captureExecutor struct {
	scheduled []core.Event
}

func (c *captureExecutor) Execute(_ time.Duration, e core.Event) error {
	c.scheduled = append(c.scheduled, e)
	return nil
}

func (c *captureExecutor) Close() {}

func newTestSync(t *testing.T, voters []consensus.NodeID) (*sync.Layer, *fakeRoundLayer, *mempool.Pool, *captureExecutor) {
	t.Helper()
	system := core.NewEventSystem(zerolog.Nop())
	exec := &captureExecutor{}
	core.RegisterMediator(system, core.NewDelayedEventMediator(exec))

	pool := mempool.New()
	term := consensus.NewTerm(0, voters, 1)
	round := &fakeRoundLayer{}

	l := sync.New(zerolog.Nop(), system, pool, term, 0, 0,
		consensus.DefaultDataFactory{}, consensus.DefaultVoteFactory{}, round, noopConsumer{})
	return l, round, pool, exec
}

func newVoters(n int) []consensus.NodeID {
	voters := make([]consensus.NodeID, n)
	for i := range voters {
		voters[i] = consensus.NewNodeID()
	}
	return voters
}

type noopConsumer struct{}

func (noopConsumer) OnRoundStart(epochNum, roundNum uint64) {}
func (noopConsumer) OnRoundEnd(isSuccess bool, epochNum, roundNum uint64, candidate *consensus.Data) {
}
func (noopConsumer) OnProposeTimeoutStarted(epochNum, roundNum uint64)    {}
func (noopConsumer) OnVoteTimeoutStarted(epochNum, roundNum uint64)       {}
func (noopConsumer) OnCommit(candidate *consensus.Data)                   {}
func (noopConsumer) OnEquivocationDetected(first, second *consensus.Data) {}

func TestSyncRoundStartFabricatesNoneDataAndSchedulesLazyFallback(t *testing.T) {
	voters := newVoters(4)
	l, round, pool, exec := newTestSync(t, voters)

	require.NoError(t, l.RoundStart())

	require.Len(t, round.data, 1, "round layer must see the none-data immediately")
	assert.True(t, pool.HasData(0, 0, round.data[0].ID))
	assert.Len(t, exec.scheduled, 1, "propose-timeout lazy-data fallback must be scheduled")
}

func TestSyncReceiveDataRejectsWrongTermAndRound(t *testing.T) {
	voters := newVoters(4)
	l, round, _, _ := newTestSync(t, voters)

	wrongEpoch := &consensus.Data{ID: consensus.DataID{1}, EpochNum: 1, RoundNum: 0, Real: true}
	require.NoError(t, l.ReceiveData(wrongEpoch), "admission errors are dropped, not propagated")
	assert.Len(t, round.data, 0)

	wrongRound := &consensus.Data{ID: consensus.DataID{2}, EpochNum: 0, RoundNum: 5, Real: true}
	require.NoError(t, l.ReceiveData(wrongRound))
	assert.Len(t, round.data, 0)
}

func TestSyncReceiveDataDropsDuplicate(t *testing.T) {
	voters := newVoters(4)
	l, round, _, _ := newTestSync(t, voters)

	d := &consensus.Data{ID: consensus.DataID{1}, EpochNum: 0, RoundNum: 0, ProposerID: voters[0], Real: true}
	require.NoError(t, l.ReceiveData(d))
	require.NoError(t, l.ReceiveData(d), "a duplicate data id must be silently dropped, not fatal")
	assert.Len(t, round.data, 1)
}

func TestSyncReceiveVoteDrainsLateVotesOnDataArrival(t *testing.T) {
	voters := newVoters(4)
	l, round, _, _ := newTestSync(t, voters)

	dataID := consensus.DataID{1}
	// A vote for data that has not yet arrived must be pooled but not yet
	// handed to the round layer.
	vote, err := consensus.DefaultVoteFactory{Voter: voters[1]}.CreateVote(dataID, consensus.DataID{}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, l.ReceiveVote(vote))
	assert.Len(t, round.votes, 0, "vote for unknown data must not reach the round layer yet")

	d := &consensus.Data{ID: dataID, EpochNum: 0, RoundNum: 0, ProposerID: voters[0], Real: true}
	require.NoError(t, l.ReceiveData(d))

	require.Len(t, round.votes, 1, "late-vote drain must deliver the pooled vote once its data arrives")
	assert.Equal(t, vote.ID, round.votes[0].ID)
}

func TestSyncReceiveVoteRejectsUnknownVoter(t *testing.T) {
	voters := newVoters(4)
	l, round, _, _ := newTestSync(t, voters)

	vote, err := consensus.DefaultVoteFactory{Voter: consensus.NewNodeID()}.CreateVote(consensus.DataID{1}, consensus.DataID{}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, l.ReceiveVote(vote), "authorization errors are dropped, not propagated")
	assert.Len(t, round.votes, 0)
}

func TestSyncVoteTimeoutFiresOnceOnFragmentedQuorum(t *testing.T) {
	voters := newVoters(4)
	l, _, pool, exec := newTestSync(t, voters)
	require.NoError(t, l.RoundStart())

	dataA := consensus.DataID{0xa}
	dataB := consensus.DataID{0xb}

	cast := func(voter consensus.NodeID, dataID consensus.DataID) {
		v, err := consensus.DefaultVoteFactory{Voter: voter}.CreateVote(dataID, consensus.DataID{}, 0, 0)
		require.NoError(t, err)
		require.NoError(t, l.ReceiveVote(v))
	}

	// 2+2 split across 4 voters: quorum is 3, so no single data id reaches
	// it even once all votes are in (spec §8 S3).
	cast(voters[0], dataA)
	cast(voters[1], dataA)
	assert.Len(t, exec.scheduled, 1, "only 2 real votes in: below quorum, no vote-timeout scheduled yet (RoundStart already scheduled the propose-timeout)")

	cast(voters[2], dataB)
	cast(voters[3], dataB)

	require.Len(t, exec.scheduled, 1+len(voters), "one lazy vote per voter must be scheduled, in addition to RoundStart's propose-timeout")

	// The bug this guards against: a lazy vote whose DataID does not match
	// any Data actually in the pool can never resolve a round (it would
	// never be forwarded to the Round layer in production, and never
	// "known" there even if it were). Every scheduled lazy vote must name
	// the same sentinel id as the round's own lazy-data, which RoundStart
	// scheduled as its propose-timeout fallback (captured here, so only the
	// none-data is actually in the pool).
	noneID := consensus.NoneDataID(0, 0, voters[0])
	lazyID := consensus.LazyDataID(0, 0, voters[0])
	require.True(t, pool.HasData(0, 0, noneID))
	for _, ev := range exec.scheduled[1:] {
		rv, ok := ev.(*core.ReceiveVoteEvent)
		require.True(t, ok)
		assert.Equal(t, lazyID, rv.Vote.DataID, "a scheduled lazy vote must match the round's own lazy data id")
	}
}

func TestSyncVoteTimeoutDoesNotFireWhenQuorumReached(t *testing.T) {
	voters := newVoters(4)
	l, _, _, exec := newTestSync(t, voters)

	dataID := consensus.DataID{1}
	cast := func(voter consensus.NodeID) {
		v, err := consensus.DefaultVoteFactory{Voter: voter}.CreateVote(dataID, consensus.DataID{}, 0, 0)
		require.NoError(t, err)
		require.NoError(t, l.ReceiveVote(v))
	}
	cast(voters[0])
	cast(voters[1])
	cast(voters[2])

	assert.Len(t, exec.scheduled, 0, "a data id reaching quorum is not a fragmented round")
}
