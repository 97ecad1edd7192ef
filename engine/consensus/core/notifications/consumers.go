// Package notifications defines the observer interfaces a host can
// subscribe to for visibility into the consensus engine, in the style of
// the teacher's engine/consensus/hotstuff/examples/notifications package.
// None of these notifications change engine state directly; they let a host
// (metrics, logging, test harnesses) watch rounds happen without coupling
// to the Order/Round/Sync layers. A host may act on them: app.Node uses
// OnRoundStart to decide when to propose.
package notifications

import "github.com/iconloop/LFT2/model/consensus"

// Prerequisites shared by every consumer interface below: implementations
// must be concurrency-safe, non-blocking, and tolerate repeated delivery of
// the same notification.

// RoundStartConsumer consumes notifications that a new (epoch, round) has
// opened.
type RoundStartConsumer interface {
	OnRoundStart(epochNum, roundNum uint64)
}

// RoundEndConsumer consumes notifications that a round concluded, either by
// commit or by failure/timeout.
type RoundEndConsumer interface {
	OnRoundEnd(isSuccess bool, epochNum, roundNum uint64, candidate *consensus.Data)
}

// ProposeTimeoutConsumer consumes notifications that the Sync layer
// scheduled a lazy-data fallback for a round (spec §4.3.2).
type ProposeTimeoutConsumer interface {
	OnProposeTimeoutStarted(epochNum, roundNum uint64)
}

// VoteTimeoutConsumer consumes notifications that the Sync layer detected a
// fragmented quorum and scheduled lazy votes (spec §4.3.3).
type VoteTimeoutConsumer interface {
	OnVoteTimeoutStarted(epochNum, roundNum uint64)
}

// CommitConsumer consumes notifications that a new Candidate was
// committed.
type CommitConsumer interface {
	OnCommit(candidate *consensus.Data)
}

// EquivocationConsumer consumes notifications that two distinct real Data
// were observed from the same proposer in the same (epoch, round) — a
// fatal invariant violation per spec §7/§9, surfaced here so the host can
// log/alert before the engine aborts.
type EquivocationConsumer interface {
	OnEquivocationDetected(first, second *consensus.Data)
}
