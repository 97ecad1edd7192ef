// Package mempool implements the MessagePool entity of spec §3: the set of
// Data and Vote messages across rounds, sharded by (epoch, round) and, for
// votes, additionally indexed by data_id. It is referenced (not owned) by
// both the Order and Sync layers; ownership sits with the consensus
// root, mirroring the teacher's module/mempool packages (e.g.
// pending_receipts.go), which likewise hand out a shared, unowned
// collection to whichever engine needs to look something up.
package mempool

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/iconloop/LFT2/model/consensus"
)

// maxShards bounds how many (epoch, round) shards the underlying LRU keeps
// before it starts evicting the oldest. PruneToRound/PruneEpoch are the
// actual, deterministic pruning policy the spec requires; the LRU cap is
// only a backstop against unbounded growth if a caller ever forgets to
// prune (spec §5 "the pool is the only unbounded container").
const maxShards = 256

type roundKey struct {
	epoch uint64
	round uint64
}

type shard struct {
	data  map[consensus.DataID]*consensus.Data
	votes map[consensus.DataID]map[consensus.VoteID]*consensus.Vote
}

func newShard() *shard {
	return &shard{
		data:  make(map[consensus.DataID]*consensus.Data),
		votes: make(map[consensus.DataID]map[consensus.VoteID]*consensus.Vote),
	}
}

// Pool is the concurrency-safe (though the engine itself is single
// threaded; the lock only guards against host-side inspection/metrics
// goroutines) MessagePool.
type Pool struct {
	mu    sync.RWMutex
	cache *lru.Cache // roundKey -> *shard
}

// New creates an empty MessagePool.
func New() *Pool {
	c, err := lru.New(maxShards)
	if err != nil {
		// lru.New only errors on a non-positive size, which maxShards never is.
		panic(err)
	}
	return &Pool{cache: c}
}

func (p *Pool) shard(epoch, round uint64, create bool) *shard {
	key := roundKey{epoch, round}
	if v, ok := p.cache.Get(key); ok {
		return v.(*shard)
	}
	if !create {
		return nil
	}
	s := newShard()
	p.cache.Add(key, s)
	return s
}

// AddData inserts d into its (epoch, round) shard. It reports false if a
// Data with the same id was already present (spec §4.3.4 AlreadyProposed).
func (p *Pool) AddData(d *consensus.Data) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.shard(d.EpochNum, d.RoundNum, true)
	if _, ok := s.data[d.ID]; ok {
		return false
	}
	s.data[d.ID] = d
	return true
}

// AddVote inserts v into its (epoch, round) shard, additionally indexed by
// data_id. It reports false if a Vote with the same id was already present
// (spec §4.3.5 AlreadyVoted).
func (p *Pool) AddVote(v *consensus.Vote) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.shard(v.EpochNum, v.RoundNum, true)
	byData, ok := s.votes[v.DataID]
	if !ok {
		byData = make(map[consensus.VoteID]*consensus.Vote)
		s.votes[v.DataID] = byData
	} else if _, exists := byData[v.ID]; exists {
		return false
	}
	byData[v.ID] = v
	return true
}

// HasData reports whether a Data with id is already in the (epoch, round)
// shard.
func (p *Pool) HasData(epoch, round uint64, id consensus.DataID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.shard(epoch, round, false)
	if s == nil {
		return false
	}
	_, ok := s.data[id]
	return ok
}

// HasVote reports whether a Vote with id is already in the (epoch, round)
// shard, under the given data id bucket.
func (p *Pool) HasVote(epoch, round uint64, dataID consensus.DataID, id consensus.VoteID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.shard(epoch, round, false)
	if s == nil {
		return false
	}
	byData, ok := s.votes[dataID]
	if !ok {
		return false
	}
	_, ok = byData[id]
	return ok
}

// GetData looks up a Data by id within an (epoch, round) shard.
func (p *Pool) GetData(epoch, round uint64, id consensus.DataID) (*consensus.Data, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.shard(epoch, round, false)
	if s == nil {
		return nil, false
	}
	d, ok := s.data[id]
	return d, ok
}

// DataForRound returns every Data known for (epoch, round).
func (p *Pool) DataForRound(epoch, round uint64) []*consensus.Data {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.shard(epoch, round, false)
	if s == nil {
		return nil
	}
	out := make([]*consensus.Data, 0, len(s.data))
	for _, d := range s.data {
		out = append(out, d)
	}
	return out
}

// VotesByDataID returns every vote cast for a specific data id within
// (epoch, round); this backs the Sync layer's late-vote drain (spec
// §4.3.4: "any votes already in the pool keyed by d.id are forwarded").
func (p *Pool) VotesByDataID(epoch, round uint64, dataID consensus.DataID) []*consensus.Vote {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.shard(epoch, round, false)
	if s == nil {
		return nil
	}
	byData := s.votes[dataID]
	out := make([]*consensus.Vote, 0, len(byData))
	for _, v := range byData {
		out = append(out, v)
	}
	return out
}

// VotesForRound returns every vote known for (epoch, round), across all
// data ids; this backs the Sync layer's vote-timeout fragmented-quorum
// check (spec §4.3.3).
func (p *Pool) VotesForRound(epoch, round uint64) []*consensus.Vote {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.shard(epoch, round, false)
	if s == nil {
		return nil
	}
	var out []*consensus.Vote
	for _, byData := range s.votes {
		for _, v := range byData {
			out = append(out, v)
		}
	}
	return out
}

// PruneToRound discards every shard for epoch whose round is older than
// round-1: spec §9 fixes the past-acceptable window at "previous round
// only", so keep(round) and keep(round-1), drop everything else in epoch.
func (p *Pool) PruneToRound(epoch, round uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var oldest uint64
	if round >= 1 {
		oldest = round - 1
	}
	for _, key := range p.cache.Keys() {
		rk := key.(roundKey)
		if rk.epoch != epoch {
			continue
		}
		if rk.round < oldest {
			p.cache.Remove(key)
		}
	}
}

// PruneEpoch discards every shard belonging to a different epoch than the
// one passed in (spec §3: "pruned on new epoch... full flush").
func (p *Pool) PruneEpoch(currentEpoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range p.cache.Keys() {
		rk := key.(roundKey)
		if rk.epoch != currentEpoch {
			p.cache.Remove(key)
		}
	}
}
