// Package app assembles a set of Engines into a running simulation, in the
// shape of the original lft/app package: an App owns a fixed set of Nodes,
// wires their broadcast outputs to each other in-process, and drives one of
// three run modes (instant, record, replay). Grounded on
// original_source/lft/app/app.py's App/InstantApp/RecordApp/ReplayApp split,
// reworked onto this engine's Go Config/Executor seam instead of Python's
// constructor-time executor swap.
package app

import (
	"github.com/rs/zerolog"

	"github.com/iconloop/LFT2/engine/consensus/core"
	"github.com/iconloop/LFT2/engine/consensus/core/notifications"
	"github.com/iconloop/LFT2/engine/consensus/node"
	"github.com/iconloop/LFT2/model/consensus"
)

// Node is one replica: an Engine plus the in-process peer links that stand
// in for a real network transport (out of scope per spec.md §1). Node also
// plays proposer: on every round start where it is the expected proposer
// for that round, it assembles a real Data and submits it to its own
// engine and to every registered peer (spec §4.6).
type Node struct {
	ID  consensus.NodeID
	log zerolog.Logger

	engine *node.Engine
	peers  []*Node
}

// NewNode constructs a Node with a fresh Engine. newExecutor selects the
// run mode's DelayedEventMediator strategy (Instant/Recorder/Replayer).
func NewNode(id consensus.NodeID, log zerolog.Logger, newExecutor func(*core.EventSystem) core.Executor) *Node {
	n := &Node{ID: id, log: log.With().Str("node", id.String()).Logger()}

	pubsub := notifications.NewPubSub()
	pubsub.AddRoundStartConsumer(n)

	n.engine = node.New(node.Config{
		Log:         n.log,
		Self:        id,
		DataFactory: consensus.DefaultDataFactory{},
		VoteFactory: consensus.DefaultVoteFactory{Voter: id},
		Consumer:    pubsub,
		NewExecutor: newExecutor,
	})
	n.engine.OnBroadcastData(n.onBroadcastData)
	n.engine.OnBroadcastVote(n.onBroadcastVote)
	return n
}

// RegisterPeer links n to peer for in-process broadcast fan-out. Mirrors
// app.py's App.start loop registering every node with every other node.
func (n *Node) RegisterPeer(peer *Node) {
	n.peers = append(n.peers, peer)
}

// Engine exposes the underlying Engine for Start/Ready/Done/Submit.
func (n *Node) Engine() *node.Engine { return n.engine }

// Genesis submits the InitializeEvent that opens epoch 0, round 0 with the
// given genesis candidate and voter set (spec §6). Every replica must be
// given an identical genesis Data; callers typically build one with
// DefaultDataFactory and pass it to every Node in the simulation.
func (n *Node) Genesis(genesis *consensus.Data, voters []consensus.NodeID) {
	n.engine.Submit(core.NewInitializeEvent(0, 0, genesis, nil, voters))
}

func (n *Node) onBroadcastData(d *consensus.Data) {
	n.engine.Submit(core.NewReceiveDataEvent(d))
	for _, p := range n.peers {
		p.engine.Submit(core.NewReceiveDataEvent(d))
	}
}

func (n *Node) onBroadcastVote(v *consensus.Vote) {
	n.engine.Submit(core.NewReceiveVoteEvent(v))
	for _, p := range n.peers {
		p.engine.Submit(core.NewReceiveVoteEvent(v))
	}
}

// OnRoundStart implements notifications.RoundStartConsumer: when n is the
// round's expected proposer, it builds and submits a real Data. Non-leaders
// do nothing and simply wait on the Sync layer's none/lazy fallbacks.
func (n *Node) OnRoundStart(epochNum, roundNum uint64) {
	term := n.engine.Order().Term()
	if term.ProposerID(roundNum) != n.ID {
		return
	}

	candidate := n.engine.Order().Candidate()
	var prevID consensus.DataID
	var number uint64
	var prevVotes []*consensus.Vote
	if candidate != nil {
		prevID = candidate.ID
		number = candidate.Number + 1
		if roundNum > 0 {
			prevVotes = n.engine.Pool().VotesByDataID(epochNum, roundNum-1, candidate.ID)
		}
	}

	data, err := consensus.DefaultDataFactory{}.CreateData(prevID, n.ID, number, epochNum, roundNum, prevVotes)
	if err != nil {
		n.log.Error().Err(err).Msg("could not assemble proposal")
		return
	}
	n.onBroadcastData(data)
}
