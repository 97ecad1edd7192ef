// Package order implements the Order Layer of spec §4.5: the outermost
// admission filter. It classifies incoming Data/Vote by (epoch, round)
// relative to the currently active round, dropping, buffering, or routing
// them, and advances the active round on RoundEndEvent. Grounded on the
// teacher's engine/simulation/coldstuff.Engine consent loop (one round at a
// time, fresh round state each iteration) generalized from a single-shot
// loop into an event-driven admission filter with future/past buffering.
package order

import (
	"github.com/rs/zerolog"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/core/notifications"
	"github.com/iconloop/LFT2/engine/consensus/core/round"
	"github.com/iconloop/LFT2/engine/consensus/core/sync"
	"github.com/iconloop/LFT2/model/consensus"
	"github.com/iconloop/LFT2/module/mempool"
)

// NextTermFunc decides whether a just-committed candidate closes the
// current epoch and, if so, supplies the Term for the epoch that follows.
// The core spec treats epoch transition as host policy (view-change,
// dynamic membership, and stake weighting are explicit non-goals, spec
// §1/§2); the default (nil) NextTermFunc never closes an epoch, so a
// single Term drives every round, matching every scenario in spec §8.
type NextTermFunc func(committed *consensus.Data) (*consensus.Term, bool)

// Layer is the Order Layer: there is exactly one per running node, for its
// whole lifetime (unlike Sync/Round, which are per-round).
type Layer struct {
	log zerolog.Logger

	system   *core.EventSystem
	pool     *mempool.Pool
	consumer notifications.Consumer

	self        consensus.NodeID
	dataFactory consensus.DataFactory
	voteFactory consensus.VoteFactory
	nextTerm    NextTermFunc

	term         *consensus.Term
	epochNum     uint64
	currentRound uint64

	currentSync *sync.Layer
	round       *round.Layer

	candidate *consensus.Data // most recently committed real Data

	futureData map[uint64][]*consensus.Data
	futureVote map[uint64][]*consensus.Vote
}

// New constructs an Order Layer. Call Bootstrap once an InitializeEvent has
// been received to open the genesis round.
func New(
	log zerolog.Logger,
	system *core.EventSystem,
	self consensus.NodeID,
	dataFactory consensus.DataFactory,
	voteFactory consensus.VoteFactory,
	consumer notifications.Consumer,
	nextTerm NextTermFunc,
) *Layer {
	// The shared MessagePool is reached through the same GetMediator[T]
	// seam every DelayedEventMediator lookup uses (sync.go), rather than
	// threaded in as a second constructor argument: the Order layer is the
	// one place that needs to resolve it once, up front.
	pool := core.GetMediator[*core.MessagePoolMediator](system).Pool()
	return &Layer{
		log:         log.With().Str("component", "order").Logger(),
		system:      system,
		pool:        pool,
		consumer:    consumer,
		self:        self,
		dataFactory: dataFactory,
		voteFactory: voteFactory,
		nextTerm:    nextTerm,
		futureData:  make(map[uint64][]*consensus.Data),
		futureVote:  make(map[uint64][]*consensus.Vote),
	}
}

// Bootstrap opens the genesis round for the given term, round number and
// already-committed genesis candidate (spec §6 InitializeEvent).
func (l *Layer) Bootstrap(term *consensus.Term, roundNum uint64, genesis *consensus.Data) error {
	l.term = term
	l.epochNum = term.Num()
	l.currentRound = roundNum
	l.candidate = genesis
	return l.openRound(roundNum)
}

func (l *Layer) openRound(roundNum uint64) error {
	l.currentRound = roundNum
	l.pool.PruneToRound(l.epochNum, roundNum)

	prevCommitID := consensus.DataID{}
	if l.candidate != nil {
		prevCommitID = l.candidate.ID
	}

	// syncLayer is captured by the closure below before it exists; castVote
	// never fires before RoundStart, by which point syncLayer is assigned.
	var syncLayer *sync.Layer
	roundLayer := round.New(l.log, l.system, l.consumer, l.term, l.epochNum, roundNum, l.self, l.voteFactory, prevCommitID,
		func(v *consensus.Vote) error { return syncLayer.ReceiveVote(v) })
	syncLayer = sync.New(l.log, l.system, l.pool, l.term, l.epochNum, roundNum, l.dataFactory, l.voteFactory, roundLayer, l.consumer)

	l.round = roundLayer
	l.currentSync = syncLayer

	if err := syncLayer.RoundStart(); err != nil {
		return err
	}
	return l.drainFuture(roundNum)
}

// drainFuture replays anything buffered for roundNum now that it is live.
func (l *Layer) drainFuture(roundNum uint64) error {
	datas := l.futureData[roundNum]
	delete(l.futureData, roundNum)
	for _, d := range datas {
		if err := l.currentSync.ReceiveData(d); err != nil {
			return err
		}
	}

	votes := l.futureVote[roundNum]
	delete(l.futureVote, roundNum)
	for _, v := range votes {
		if err := l.currentSync.ReceiveVote(v); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveData classifies and routes an incoming Data (spec §4.5 table).
func (l *Layer) ReceiveData(d *consensus.Data) error {
	if d.EpochNum != l.epochNum {
		l.log.Debug().Uint64("got_epoch", d.EpochNum).Msg("dropped data from foreign epoch")
		return nil
	}
	switch {
	case d.RoundNum == l.currentRound:
		return l.currentSync.ReceiveData(d)
	case d.RoundNum > l.currentRound:
		l.futureData[d.RoundNum] = append(l.futureData[d.RoundNum], d)
		return nil
	case l.isPastAcceptable(d.RoundNum):
		return l.verifyPastData(d)
	default:
		l.log.Debug().Uint64("round", d.RoundNum).Msg("dropped data from unacceptable past round")
		return nil
	}
}

// ReceiveVote classifies and routes an incoming Vote (spec §4.5 table).
func (l *Layer) ReceiveVote(v *consensus.Vote) error {
	if v.EpochNum != l.epochNum {
		l.log.Debug().Uint64("got_epoch", v.EpochNum).Msg("dropped vote from foreign epoch")
		return nil
	}
	switch {
	case v.RoundNum == l.currentRound:
		return l.currentSync.ReceiveVote(v)
	case v.RoundNum > l.currentRound:
		l.futureVote[v.RoundNum] = append(l.futureVote[v.RoundNum], v)
		return nil
	case l.isPastAcceptable(v.RoundNum):
		return l.verifyPastVote(v)
	default:
		l.log.Debug().Uint64("round", v.RoundNum).Msg("dropped vote from unacceptable past round")
		return nil
	}
}

// isPastAcceptable implements spec §9's resolution of the past-round
// acceptance window: the previous round only, needed to harvest prev_votes
// for chain verification.
func (l *Layer) isPastAcceptable(roundNum uint64) bool {
	return l.currentRound > 0 && roundNum == l.currentRound-1
}

// verifyPastData admits d into the pool for prev_votes reconstruction
// without ever routing it to a (long gone) Round instance: past rounds
// never re-commit (spec §4.5).
func (l *Layer) verifyPastData(d *consensus.Data) error {
	if err := l.term.VerifyProposer(d.ProposerID, d.RoundNum); err != nil {
		l.log.Debug().Err(err).Msg("dropped past data: bad proposer")
		return nil
	}
	if !d.Verify() {
		l.log.Debug().Msg("dropped past data: signature verification failed")
		return nil
	}
	l.pool.AddData(d)
	return nil
}

func (l *Layer) verifyPastVote(v *consensus.Vote) error {
	if err := l.term.VerifyVoter(v.VoterID, -1); err != nil {
		l.log.Debug().Err(err).Msg("dropped past vote: bad voter")
		return nil
	}
	if !v.Verify() {
		l.log.Debug().Msg("dropped past vote: signature verification failed")
		return nil
	}
	l.pool.AddVote(v)
	return nil
}

// OnRoundEnd advances r* (and, if the commit closed the epoch, opens the
// next Term) per spec §4.5.
func (l *Layer) OnRoundEnd(ev *core.RoundEndEvent) error {
	if ev.EpochNum != l.epochNum || ev.RoundNum != l.currentRound {
		// a stale RoundEnd from an already-superseded round; ignore.
		return nil
	}

	if ev.IsSuccess {
		if ev.Candidate == nil {
			return &consensus.FatalInvariant{Reason: "successful RoundEnd carried a nil candidate"}
		}
		if l.candidate != nil && ev.Candidate.Number <= l.candidate.Number {
			return &consensus.FatalInvariant{Reason: "candidate did not advance monotonically in Number"}
		}
		l.candidate = ev.Candidate

		if l.nextTerm != nil {
			if term, closed := l.nextTerm(ev.Candidate); closed {
				l.term = term
				l.epochNum = term.Num()
				l.pool.PruneEpoch(l.epochNum)
				return l.openRound(0)
			}
		}
	}

	return l.openRound(l.currentRound + 1)
}

// Candidate returns the most recently committed real Data.
func (l *Layer) Candidate() *consensus.Data { return l.candidate }

// CurrentRound returns the currently open round number.
func (l *Layer) CurrentRound() uint64 { return l.currentRound }

// Term returns the currently active epoch descriptor.
func (l *Layer) Term() *consensus.Term { return l.term }
