// Package round implements the Round Layer of spec §4.4: it drives the
// vote decision for one (epoch, round), holding the current candidate data
// and deciding when the round has concluded. It is grounded on the
// teacher's engine/simulation/coldstuff/round.Round (candidate/vote
// tallying) generalized from stake-weighted majority to the spec's
// quorum-of-voters rule, and on consensus/hotstuff/voter.Voter for the
// "only ever vote once, track last action" shape.
package round

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/core/notifications"
	"github.com/iconloop/LFT2/model/consensus"
)

// Layer is the per-round instance of the Round Layer. States:
// Proposing -> Voting -> (Committed | Failed). Transitions are triggered
// exclusively by incoming data/vote events; there are no self-driven ticks
// here (timers live in the Sync layer).
type Layer struct {
	log zerolog.Logger

	system       *core.EventSystem
	consumer     notifications.Consumer
	term         *consensus.Term
	epochNum     uint64
	roundNum     uint64
	self         consensus.NodeID
	voteFactory  consensus.VoteFactory
	prevCommitID consensus.DataID
	selfVoteSink func(*consensus.Vote) error

	candidate *consensus.Data
	sawReal   bool
	voted     bool

	dataByID       map[consensus.DataID]*consensus.Data
	realByProposer map[consensus.NodeID]*consensus.Data
	votesByData    map[consensus.DataID]map[consensus.NodeID]*consensus.Vote

	done bool // committed or failed; stops accepting further input
}

// New constructs a Round Layer for (epochNum, roundNum). prevCommitID is
// the id of the most recently committed Candidate, embedded into any real
// vote this layer casts so votes carry the chain's causal link (spec §3
// Vote.commit_id).
func New(
	log zerolog.Logger,
	system *core.EventSystem,
	consumer notifications.Consumer,
	term *consensus.Term,
	epochNum, roundNum uint64,
	self consensus.NodeID,
	voteFactory consensus.VoteFactory,
	prevCommitID consensus.DataID,
	selfVoteSink func(*consensus.Vote) error,
) *Layer {
	return &Layer{
		log:          log.With().Uint64("epoch", epochNum).Uint64("round", roundNum).Logger(),
		system:       system,
		consumer:     consumer,
		term:         term,
		epochNum:     epochNum,
		roundNum:     roundNum,
		self:         self,
		voteFactory:  voteFactory,
		prevCommitID: prevCommitID,
		selfVoteSink:   selfVoteSink,
		dataByID:       make(map[consensus.DataID]*consensus.Data),
		realByProposer: make(map[consensus.NodeID]*consensus.Data),
		votesByData:    make(map[consensus.DataID]map[consensus.NodeID]*consensus.Vote),
	}
}

// Candidate returns the data currently being voted on.
func (l *Layer) Candidate() *consensus.Data { return l.candidate }

// Done reports whether this round has already committed or failed.
func (l *Layer) Done() bool { return l.done }

// ReceiveData handles an admitted Data for this round (spec §4.4).
func (l *Layer) ReceiveData(d *consensus.Data) error {
	if l.done {
		return nil
	}
	l.dataByID[d.ID] = d

	if d.Real {
		if first, ok := l.realByProposer[d.ProposerID]; ok && first.ID != d.ID {
			l.consumer.OnEquivocationDetected(first, d)
			return &consensus.FatalInvariant{
				Reason: fmt.Sprintf("proposer %s equivocated in round %d", d.ProposerID, l.roundNum),
			}
		}
		l.realByProposer[d.ProposerID] = d

		if l.candidate == nil || !l.sawReal {
			l.adopt(d)
			return l.castVote(d)
		}
		return nil
	}

	// none/lazy data: only adopt when no real candidate has ever been seen.
	// A later lazy-data delivery must still be able to replace the
	// round-start none-data, so this does not also require l.candidate to
	// be nil.
	if l.sawReal {
		return nil
	}
	l.adopt(d)

	// The none-data installed at round_start never carries a vote: it is a
	// placeholder candidate, not a proposal, and a vote on it would make
	// every round announce a fragmented-quorum tally before a real proposal
	// even has a chance to arrive. The lazy-data propose-timeout fallback
	// (spec §4.3.2) is different: once it is adopted, this replica has
	// given up on the real proposer for the round, and casts a lazy vote so
	// that every honest replica's independent propose-timeout converges on
	// the same sentinel data id and the round can still reach
	// RoundEndEvent(success=false) (spec §8 S2).
	if d.Lazy {
		return l.castLazyVote()
	}
	return nil
}

func (l *Layer) adopt(d *consensus.Data) {
	l.candidate = d
	if d.Real {
		l.sawReal = true
	}
	l.log.Debug().Bool("real", d.Real).Bool("lazy", d.Lazy).Bool("none", d.None).Msg("adopted candidate")
}

func (l *Layer) castVote(d *consensus.Data) error {
	if l.voted {
		return nil
	}
	vote, err := l.voteFactory.CreateVote(d.ID, l.prevCommitID, l.epochNum, l.roundNum)
	if err != nil {
		return errors.Wrap(err, "could not create vote")
	}
	l.voted = true
	l.system.RaiseEvent(core.NewBroadcastVoteEvent(vote))
	// feed our own vote through the same Sync admission path a peer's echo
	// would take, so it lands in the pool (vote-timeout counting needs it
	// there, not just in votesByData).
	return l.selfVoteSink(vote)
}

func (l *Layer) castLazyVote() error {
	if l.voted {
		return nil
	}
	proposer := l.term.ProposerID(l.roundNum)
	vote, err := l.voteFactory.CreateLazyVote(l.self, l.epochNum, l.roundNum, proposer)
	if err != nil {
		return errors.Wrap(err, "could not create lazy vote")
	}
	l.voted = true
	l.system.RaiseEvent(core.NewBroadcastVoteEvent(vote))
	return l.selfVoteSink(vote)
}

// ReceiveVote handles an admitted Vote for this round (spec §4.4).
func (l *Layer) ReceiveVote(v *consensus.Vote) error {
	if l.done {
		return nil
	}

	bucket, ok := l.votesByData[v.DataID]
	if !ok {
		bucket = make(map[consensus.NodeID]*consensus.Vote)
		l.votesByData[v.DataID] = bucket
	}
	if _, dup := bucket[v.VoterID]; dup {
		return nil
	}
	bucket[v.VoterID] = v

	quorum := l.term.QuorumNum()
	if len(bucket) < quorum {
		return nil
	}

	data, known := l.dataByID[v.DataID]
	if known && data.Real {
		return l.commit(data)
	}

	// fragmented quorum resolved onto a known lazy/none data id: round fails.
	if known {
		return l.fail()
	}
	return nil
}

func (l *Layer) commit(candidate *consensus.Data) error {
	l.done = true
	l.log.Info().Str("candidate", candidate.ID.String()).Msg("round committed")
	l.consumer.OnCommit(candidate)
	l.consumer.OnRoundEnd(true, l.epochNum, l.roundNum, candidate)
	l.system.RaiseEvent(core.NewRoundEndEvent(true, l.epochNum, l.roundNum, candidate))
	return nil
}

func (l *Layer) fail() error {
	l.done = true
	l.log.Info().Msg("round failed")
	l.consumer.OnRoundEnd(false, l.epochNum, l.roundNum, nil)
	l.system.RaiseEvent(core.NewRoundEndEvent(false, l.epochNum, l.roundNum, nil))
	return nil
}
