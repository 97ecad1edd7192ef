package consensus

import "time"

// Data is a candidate block (spec §3). number = prev.number + 1 for real
// data; none/lazy/not data carry sentinel ids, and genesis has an empty
// prev id and number 0.
type Data struct {
	ID         DataID
	PrevID     DataID
	ProposerID NodeID
	Number     uint64
	EpochNum   uint64
	RoundNum   uint64
	PrevVotes  []*Vote
	Timestamp  time.Time

	Real bool
	None bool
	Lazy bool
	Not  bool

	verify func() bool
}

// IsNone reports whether this is a none-data sentinel (spec §4.3.1).
func (d *Data) IsNone() bool { return d.None }

// IsLazy reports whether this is a lazy-data sentinel (spec §4.3.2).
func (d *Data) IsLazy() bool { return d.Lazy }

// IsNot reports whether this is a not-data sentinel.
func (d *Data) IsNot() bool { return d.Not }

// IsGenesis reports whether d is the genesis data (empty prev id, number 0).
func (d *Data) IsGenesis() bool { return d.Number == 0 && d.PrevID.IsZero() }

// Verify runs the application-supplied signature/payload check. None/lazy
// sentinels must verify trivially (spec §4.6).
func (d *Data) Verify() bool {
	if d.verify == nil {
		return true
	}
	return d.verify()
}

// DataFactory constructs Data messages with application-pluggable
// identities, payloads and signatures (spec §4.6).
type DataFactory interface {
	CreateData(prevID DataID, proposerID NodeID, number, epochNum, roundNum uint64, prevVotes []*Vote) (*Data, error)
	CreateNoneData(epochNum, roundNum uint64, proposerID NodeID) (*Data, error)
	CreateLazyData(epochNum, roundNum uint64, proposerID NodeID) (*Data, error)
}
