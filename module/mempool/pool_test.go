package mempool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconloop/LFT2/model/consensus"
	"github.com/iconloop/LFT2/module/mempool"
)

func newData(epoch, round uint64, id consensus.DataID) *consensus.Data {
	return &consensus.Data{ID: id, EpochNum: epoch, RoundNum: round}
}

func newVote(epoch, round uint64, dataID consensus.DataID, id consensus.VoteID) *consensus.Vote {
	return &consensus.Vote{ID: id, DataID: dataID, EpochNum: epoch, RoundNum: round}
}

func TestPoolAddDataDedup(t *testing.T) {
	p := mempool.New()
	id := consensus.DataID{1}
	d := newData(0, 1, id)

	assert.True(t, p.AddData(d))
	assert.False(t, p.AddData(d), "second insert of same id must be rejected")
	assert.True(t, p.HasData(0, 1, id))
}

func TestPoolAddVoteDedupByID(t *testing.T) {
	p := mempool.New()
	dataID := consensus.DataID{1}
	voteID := consensus.VoteID{1}
	v := newVote(0, 1, dataID, voteID)

	require.True(t, p.AddVote(v))
	require.False(t, p.AddVote(v))

	other := newVote(0, 1, dataID, consensus.VoteID{2})
	require.True(t, p.AddVote(other))

	votes := p.VotesByDataID(0, 1, dataID)
	assert.Len(t, votes, 2)
}

func TestPoolPruneToRoundKeepsPreviousOnly(t *testing.T) {
	p := mempool.New()
	for r := uint64(0); r <= 3; r++ {
		p.AddData(newData(0, r, consensus.DataID{byte(r)}))
	}

	p.PruneToRound(0, 3)

	assert.False(t, p.HasData(0, 0, consensus.DataID{0}))
	assert.False(t, p.HasData(0, 1, consensus.DataID{1}))
	assert.True(t, p.HasData(0, 2, consensus.DataID{2}), "round-1 must survive")
	assert.True(t, p.HasData(0, 3, consensus.DataID{3}), "current round must survive")
}

func TestPoolPruneEpochFlushesOtherEpochs(t *testing.T) {
	p := mempool.New()
	p.AddData(newData(0, 5, consensus.DataID{1}))
	p.AddData(newData(1, 0, consensus.DataID{2}))

	p.PruneEpoch(1)

	assert.False(t, p.HasData(0, 5, consensus.DataID{1}))
	assert.True(t, p.HasData(1, 0, consensus.DataID{2}))
}

func TestPoolVotesForRoundAcrossDataIDs(t *testing.T) {
	p := mempool.New()
	p.AddVote(newVote(0, 1, consensus.DataID{1}, consensus.VoteID{1}))
	p.AddVote(newVote(0, 1, consensus.DataID{2}, consensus.VoteID{2}))
	p.AddVote(newVote(0, 2, consensus.DataID{1}, consensus.VoteID{3}))

	votes := p.VotesForRound(0, 1)
	assert.Len(t, votes, 2)
}
