// Package sync implements the Sync Layer of spec §4.3: the "reliability
// shim" that injects synthetic none-data and lazy-data/lazy-vote messages
// so missing proposals and hung votes become ordinary, observable message
// receipts after a bounded delay. Grounded on
// engine/consensus/hotstuff.PaceMaker's "timeout produces an event, not a
// side channel" idiom, and on the teacher's coldstuff engine's
// timeout-via-time.After pattern generalized to the deferred-event
// mediator of spec §4.1.
package sync

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/core/notifications"
	"github.com/iconloop/LFT2/model/consensus"
	"github.com/iconloop/LFT2/module/mempool"
)

const (
	// TimeoutPropose is the delay after which a round's lazy-data fallback
	// becomes the round's candidate if no real proposal has arrived
	// (spec §4.3.2).
	TimeoutPropose = 2 * time.Second
	// TimeoutVote is the delay after which lazy votes are injected once a
	// fragmented quorum is detected (spec §4.3.3).
	TimeoutVote = 2 * time.Second
)

// roundLayer is the inward dependency the Sync Layer drives; it is the
// Round Layer's public surface, not the concrete type, so sync stays
// testable without constructing a full round.Layer.
type roundLayer interface {
	ReceiveData(d *consensus.Data) error
	ReceiveVote(v *consensus.Vote) error
}

// Layer is the per-round instance of the Sync Layer (spec §4.3:
// "constructed when a round begins").
type Layer struct {
	log zerolog.Logger

	system *core.EventSystem
	pool   *mempool.Pool

	term     *consensus.Term
	epochNum uint64
	roundNum uint64

	dataFactory consensus.DataFactory
	voteFactory consensus.VoteFactory

	roundLayer roundLayer
	consumer   notifications.Consumer

	voteTimeoutStarted bool
}

// New constructs a Sync Layer instance for (epochNum, roundNum). It does
// not itself call RoundStart; callers (the Order layer) do that once the
// Round Layer it wraps is also ready.
func New(
	log zerolog.Logger,
	system *core.EventSystem,
	pool *mempool.Pool,
	term *consensus.Term,
	epochNum, roundNum uint64,
	dataFactory consensus.DataFactory,
	voteFactory consensus.VoteFactory,
	round roundLayer,
	consumer notifications.Consumer,
) *Layer {
	return &Layer{
		log:         log.With().Uint64("epoch", epochNum).Uint64("round", roundNum).Logger(),
		system:      system,
		pool:        pool,
		term:        term,
		epochNum:    epochNum,
		roundNum:    roundNum,
		dataFactory: dataFactory,
		voteFactory: voteFactory,
		roundLayer:  round,
		consumer:    consumer,
	}
}

// RoundStart fabricates the round's none-data genesis and schedules its
// lazy-data propose-timeout fallback, then announces the round by raising
// a RoundStartEvent and notifying the consumer (spec §4.3.1/4.3.2).
func (l *Layer) RoundStart() error {
	proposer := l.term.ProposerID(l.roundNum)

	none, err := l.dataFactory.CreateNoneData(l.epochNum, l.roundNum, proposer)
	if err != nil {
		return err
	}
	// NoneData must be received before the round is considered started, so
	// every round always has at least one candidate to vote on.
	if err := l.ReceiveData(none); err != nil {
		return err
	}

	lazy, err := l.dataFactory.CreateLazyData(l.epochNum, l.roundNum, proposer)
	if err != nil {
		return err
	}
	if err := l.scheduleReceiveData(TimeoutPropose, lazy); err != nil {
		return err
	}
	l.consumer.OnProposeTimeoutStarted(l.epochNum, l.roundNum)

	l.system.RaiseEvent(core.NewRoundStartEvent(l.epochNum, l.roundNum))
	l.consumer.OnRoundStart(l.epochNum, l.roundNum)
	return nil
}

// ReceiveData admits a Data message (spec §4.3.4). Admission and
// authorization errors are caught here and silently dropped — they
// represent normal out-of-band traffic, not faults (spec §7). Anything else
// (in particular a *consensus.FatalInvariant from the Round layer) is
// propagated up so it aborts the engine.
func (l *Layer) ReceiveData(d *consensus.Data) error {
	err := l.receiveData(d)
	if err != nil && (consensus.IsAdmission(err) || consensus.IsAuthorization(err)) {
		l.log.Debug().Err(err).Msg("dropped data at sync admission")
		return nil
	}
	return err
}

func (l *Layer) receiveData(d *consensus.Data) error {
	if err := l.verifyAcceptableData(d); err != nil {
		return err
	}
	if !l.pool.AddData(d) {
		return consensus.ErrAlreadyProposed(d.ID.String())
	}
	if err := l.roundLayer.ReceiveData(d); err != nil {
		return err
	}
	// late-vote drain: anything already in the pool for this data id.
	for _, v := range l.pool.VotesByDataID(l.epochNum, l.roundNum, d.ID) {
		if err := l.roundLayer.ReceiveVote(v); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveVote admits a Vote message (spec §4.3.5). Admission and
// authorization errors are caught here and silently dropped.
func (l *Layer) ReceiveVote(v *consensus.Vote) error {
	err := l.receiveVote(v)
	if err != nil && (consensus.IsAdmission(err) || consensus.IsAuthorization(err)) {
		l.log.Debug().Err(err).Msg("dropped vote at sync admission")
		return nil
	}
	return err
}

func (l *Layer) receiveVote(v *consensus.Vote) error {
	if err := l.verifyAcceptableVote(v); err != nil {
		return err
	}
	if !l.pool.AddVote(v) {
		return consensus.ErrAlreadyVoted(v.ID.String())
	}
	if _, ok := l.pool.GetData(l.epochNum, l.roundNum, v.DataID); ok {
		if err := l.roundLayer.ReceiveVote(v); err != nil {
			return err
		}
	}
	return l.raiseLazyVotesIfAvailable()
}

// raiseLazyVotesIfAvailable implements the vote-timeout rule of spec
// §4.3.3: once total received votes first reach quorum without any single
// data_id also reaching quorum, inject one lazy vote per voter. Guarded by
// voteTimeoutStarted so this fires at most once per round.
func (l *Layer) raiseLazyVotesIfAvailable() error {
	if l.voteTimeoutStarted {
		return nil
	}
	votes := l.pool.VotesForRound(l.epochNum, l.roundNum)
	quorum := l.term.QuorumNum()
	if len(votes) < quorum {
		return nil
	}

	byData := make(map[consensus.DataID]int)
	for _, v := range votes {
		byData[v.DataID]++
		if byData[v.DataID] >= quorum {
			return nil // some data id already reached quorum: not fragmented
		}
	}

	l.voteTimeoutStarted = true
	l.consumer.OnVoteTimeoutStarted(l.epochNum, l.roundNum)
	proposer := l.term.ProposerID(l.roundNum)
	for _, voter := range l.term.VotersID() {
		vote, err := l.voteFactory.CreateLazyVote(voter, l.epochNum, l.roundNum, proposer)
		if err != nil {
			return err
		}
		if err := l.scheduleReceiveVote(TimeoutVote, vote); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layer) scheduleReceiveData(delay time.Duration, d *consensus.Data) error {
	event := core.NewReceiveDataEvent(d)
	mediator := core.GetMediator[*core.DelayedEventMediator](l.system)
	return mediator.Execute(delay, event)
}

func (l *Layer) scheduleReceiveVote(delay time.Duration, v *consensus.Vote) error {
	event := core.NewReceiveVoteEvent(v)
	mediator := core.GetMediator[*core.DelayedEventMediator](l.system)
	return mediator.Execute(delay, event)
}

func (l *Layer) verifyAcceptableData(d *consensus.Data) error {
	if d.EpochNum != l.epochNum {
		return consensus.ErrInvalidTerm(d.EpochNum, l.epochNum)
	}
	if d.RoundNum != l.roundNum {
		return consensus.ErrInvalidRound(l.epochNum, d.RoundNum, l.roundNum)
	}
	if l.pool.HasData(l.epochNum, l.roundNum, d.ID) {
		return consensus.ErrAlreadyProposed(d.ID.String())
	}
	// Deliberately no proposer-rotation check here: spec §8 scenario S3
	// (fragmented quorum across two distinct real data in one round) and
	// equivocation (spec §7/§9, two real data from the *same* proposer) are
	// both "two real data in one round" at this layer and are disambiguated
	// downstream, in round.Layer.ReceiveData, by comparing ProposerID: same
	// proposer with a different data id is equivocation (fatal); different
	// proposers is the ordinary fragmented-quorum case. Rejecting a
	// non-rotation-scheduled proposer here would make S3 unreachable.
	return nil
}

func (l *Layer) verifyAcceptableVote(v *consensus.Vote) error {
	if v.EpochNum != l.epochNum {
		return consensus.ErrInvalidTerm(v.EpochNum, l.epochNum)
	}
	if v.RoundNum != l.roundNum {
		return consensus.ErrInvalidRound(l.epochNum, v.RoundNum, l.roundNum)
	}
	if l.pool.HasVote(l.epochNum, l.roundNum, v.DataID, v.ID) {
		return consensus.ErrAlreadyVoted(v.ID.String())
	}
	if err := l.term.VerifyVoter(v.VoterID, -1); err != nil {
		return err
	}
	return nil
}
