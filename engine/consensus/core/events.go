package core

import "github.com/iconloop/LFT2/model/consensus"

// InitializeEvent bootstraps a node with the genesis epoch and data
// (spec §6). It is always non-deterministic: every node constructs it
// locally from static genesis parameters rather than receiving it over the
// wire, so it never belongs in the record log.
type InitializeEvent struct {
	base
	EpochNum     uint64
	RoundNum     uint64
	GenesisData  *consensus.Data
	GenesisVotes []*consensus.Vote
	VoterIDs     []consensus.NodeID
}

func NewInitializeEvent(epochNum, roundNum uint64, genesis *consensus.Data, votes []*consensus.Vote, voters []consensus.NodeID) *InitializeEvent {
	e := &InitializeEvent{base: newBase(), EpochNum: epochNum, RoundNum: roundNum, GenesisData: genesis, GenesisVotes: votes, VoterIDs: voters}
	e.SetDeterministic(false)
	return e
}

func (*InitializeEvent) Kind() Kind { return KindInitialize }

// ReceiveDataEvent carries a Data message into the engine, whether it
// arrived from the network or was synthesized by the Sync layer.
type ReceiveDataEvent struct {
	base
	Data *consensus.Data
}

func NewReceiveDataEvent(d *consensus.Data) *ReceiveDataEvent {
	return &ReceiveDataEvent{base: newBase(), Data: d}
}

func (*ReceiveDataEvent) Kind() Kind { return KindReceiveData }

// ReceiveVoteEvent carries a Vote message into the engine.
type ReceiveVoteEvent struct {
	base
	Vote *consensus.Vote
}

func NewReceiveVoteEvent(v *consensus.Vote) *ReceiveVoteEvent {
	return &ReceiveVoteEvent{base: newBase(), Vote: v}
}

func (*ReceiveVoteEvent) Kind() Kind { return KindReceiveVote }

// BroadcastDataEvent is emitted by the engine when it wants a Data
// rebroadcast to peers; the host subscribes and re-sends over the network,
// echoing it back in as a ReceiveDataEvent (spec §6).
type BroadcastDataEvent struct {
	base
	Data *consensus.Data
}

func NewBroadcastDataEvent(d *consensus.Data) *BroadcastDataEvent {
	return &BroadcastDataEvent{base: newBase(), Data: d}
}

func (*BroadcastDataEvent) Kind() Kind { return KindBroadcastData }

// BroadcastVoteEvent is the Vote counterpart of BroadcastDataEvent.
type BroadcastVoteEvent struct {
	base
	Vote *consensus.Vote
}

func NewBroadcastVoteEvent(v *consensus.Vote) *BroadcastVoteEvent {
	return &BroadcastVoteEvent{base: newBase(), Vote: v}
}

func (*BroadcastVoteEvent) Kind() Kind { return KindBroadcastVote }

// RoundStartEvent announces the opening of a new (epoch, round).
type RoundStartEvent struct {
	base
	EpochNum uint64
	RoundNum uint64
}

func NewRoundStartEvent(epochNum, roundNum uint64) *RoundStartEvent {
	return &RoundStartEvent{base: newBase(), EpochNum: epochNum, RoundNum: roundNum}
}

func (*RoundStartEvent) Kind() Kind { return KindRoundStart }

// RoundEndEvent announces the conclusion of a round, successfully
// (committed) or not (failed/timed out). The Order layer listens for this
// to advance r* (spec §4.5).
type RoundEndEvent struct {
	base
	IsSuccess bool
	EpochNum  uint64
	RoundNum  uint64
	Candidate *consensus.Data
}

func NewRoundEndEvent(isSuccess bool, epochNum, roundNum uint64, candidate *consensus.Data) *RoundEndEvent {
	return &RoundEndEvent{base: newBase(), IsSuccess: isSuccess, EpochNum: epochNum, RoundNum: roundNum, Candidate: candidate}
}

func (*RoundEndEvent) Kind() Kind { return KindRoundEnd }
