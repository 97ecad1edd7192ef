package notifications

import (
	"sync"

	"github.com/iconloop/LFT2/model/consensus"
)

// Consumer is the union of every notification interface; the PubSub
// distributor itself implements it so it can be handed to engine
// constructors wherever a single consumer is expected.
type Consumer interface {
	RoundStartConsumer
	RoundEndConsumer
	ProposeTimeoutConsumer
	VoteTimeoutConsumer
	CommitConsumer
	EquivocationConsumer
}

// PubSub distributes notifications to any number of subscribers,
// thread-safe for concurrent Add*/On* calls, mirroring the teacher's
// PubSubDistributor.
type PubSub struct {
	lock sync.RWMutex

	roundStart      []RoundStartConsumer
	roundEnd        []RoundEndConsumer
	proposeTimeout  []ProposeTimeoutConsumer
	voteTimeout     []VoteTimeoutConsumer
	commit          []CommitConsumer
	equivocation    []EquivocationConsumer
}

func NewPubSub() *PubSub {
	return &PubSub{}
}

func (p *PubSub) OnRoundStart(epochNum, roundNum uint64) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, c := range p.roundStart {
		c.OnRoundStart(epochNum, roundNum)
	}
}

func (p *PubSub) OnRoundEnd(isSuccess bool, epochNum, roundNum uint64, candidate *consensus.Data) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, c := range p.roundEnd {
		c.OnRoundEnd(isSuccess, epochNum, roundNum, candidate)
	}
}

func (p *PubSub) OnProposeTimeoutStarted(epochNum, roundNum uint64) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, c := range p.proposeTimeout {
		c.OnProposeTimeoutStarted(epochNum, roundNum)
	}
}

func (p *PubSub) OnVoteTimeoutStarted(epochNum, roundNum uint64) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, c := range p.voteTimeout {
		c.OnVoteTimeoutStarted(epochNum, roundNum)
	}
}

func (p *PubSub) OnCommit(candidate *consensus.Data) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, c := range p.commit {
		c.OnCommit(candidate)
	}
}

func (p *PubSub) OnEquivocationDetected(first, second *consensus.Data) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, c := range p.equivocation {
		c.OnEquivocationDetected(first, second)
	}
}

// AddRoundStartConsumer subscribes c; returns self-reference for chaining.
func (p *PubSub) AddRoundStartConsumer(c RoundStartConsumer) *PubSub {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.roundStart = append(p.roundStart, c)
	return p
}

func (p *PubSub) AddRoundEndConsumer(c RoundEndConsumer) *PubSub {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.roundEnd = append(p.roundEnd, c)
	return p
}

func (p *PubSub) AddProposeTimeoutConsumer(c ProposeTimeoutConsumer) *PubSub {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.proposeTimeout = append(p.proposeTimeout, c)
	return p
}

func (p *PubSub) AddVoteTimeoutConsumer(c VoteTimeoutConsumer) *PubSub {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.voteTimeout = append(p.voteTimeout, c)
	return p
}

func (p *PubSub) AddCommitConsumer(c CommitConsumer) *PubSub {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.commit = append(p.commit, c)
	return p
}

func (p *PubSub) AddEquivocationConsumer(c EquivocationConsumer) *PubSub {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.equivocation = append(p.equivocation, c)
	return p
}
