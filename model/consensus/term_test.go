package consensus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconloop/LFT2/model/consensus"
)

func newVoters(n int) []consensus.NodeID {
	voters := make([]consensus.NodeID, n)
	for i := range voters {
		voters[i] = consensus.NewNodeID()
	}
	return voters
}

func TestTermQuorumNum(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{n: 1, want: 1},
		{n: 4, want: 3},
		{n: 7, want: 5},
		{n: 10, want: 7},
	}
	for _, c := range cases {
		term := consensus.NewTerm(0, newVoters(c.n), 1)
		assert.Equal(t, c.want, term.QuorumNum(), "n=%d", c.n)
	}
}

func TestTermProposerRotation(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)

	for round := uint64(0); round < 8; round++ {
		want := voters[round%4]
		assert.Equal(t, want, term.ProposerID(round), "round=%d", round)
	}
}

func TestTermProposerRotationBound(t *testing.T) {
	voters := newVoters(3)
	term := consensus.NewTerm(0, voters, 2)

	assert.Equal(t, voters[0], term.ProposerID(0))
	assert.Equal(t, voters[0], term.ProposerID(1))
	assert.Equal(t, voters[1], term.ProposerID(2))
	assert.Equal(t, voters[1], term.ProposerID(3))
	assert.Equal(t, voters[2], term.ProposerID(4))
}

func TestTermVerifyProposer(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)

	require.NoError(t, term.VerifyProposer(voters[0], 0))
	err := term.VerifyProposer(voters[1], 0)
	require.Error(t, err)
	var cErr *consensus.Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, consensus.KindInvalidProposer, cErr.Kind())
	assert.True(t, consensus.IsAuthorization(err))
}

func TestTermVerifyVoterPositional(t *testing.T) {
	voters := newVoters(4)
	term := consensus.NewTerm(0, voters, 1)

	require.NoError(t, term.VerifyVoter(voters[2], 2))
	require.Error(t, term.VerifyVoter(voters[2], 0))
	require.NoError(t, term.VerifyVoter(voters[2], -1))
	require.Error(t, term.VerifyVoter(consensus.NewNodeID(), -1))
}

func TestTermVerifyDataPrevVotes(t *testing.T) {
	voters := newVoters(3)
	term := consensus.NewTerm(0, voters, 1)

	factory := consensus.DefaultVoteFactory{}
	goodVotes := make([]*consensus.Vote, 3)
	for i, voter := range voters {
		v, err := consensus.DefaultVoteFactory{Voter: voter}.CreateVote(consensus.DataID{}, consensus.DataID{}, 0, 0)
		require.NoError(t, err)
		goodVotes[i] = v
	}
	_ = factory

	data := &consensus.Data{ProposerID: voters[0], RoundNum: 0, PrevVotes: goodVotes}
	assert.NoError(t, term.VerifyData(data))

	// swap positions 0 and 1: now prev_votes[0].voter_id != voters[0]
	badVotes := []*consensus.Vote{goodVotes[1], goodVotes[0], goodVotes[2]}
	data.PrevVotes = badVotes
	err := term.VerifyData(data)
	require.Error(t, err)
	assert.True(t, consensus.IsAuthorization(err))
}
