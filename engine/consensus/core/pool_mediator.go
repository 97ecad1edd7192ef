package core

import (
	"github.com/iconloop/LFT2/model/consensus"
	"github.com/iconloop/LFT2/module/mempool"
)

// MessagePoolMediator exposes the shared MessagePool as a side-effect-free
// capability attached to the EventSystem (spec §4.1), so layers reach it
// via GetMediator instead of holding a direct pointer passed down through
// every constructor.
type MessagePoolMediator struct {
	pool *mempool.Pool
}

func NewMessagePoolMediator(pool *mempool.Pool) *MessagePoolMediator {
	return &MessagePoolMediator{pool: pool}
}

func (m *MessagePoolMediator) Pool() *mempool.Pool { return m.pool }

func (m *MessagePoolMediator) AddData(d *consensus.Data) bool { return m.pool.AddData(d) }
func (m *MessagePoolMediator) AddVote(v *consensus.Vote) bool { return m.pool.AddVote(v) }

func (m *MessagePoolMediator) Close() {}
