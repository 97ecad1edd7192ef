package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// DefaultDataFactory is a minimal, deterministic DataFactory suitable for
// simulation/instant mode and tests, where the application has no real
// signature scheme. Ids are content hashes, so two calls with identical
// arguments produce the same id (needed for none-data, which every replica
// must construct identically without coordination).
type DefaultDataFactory struct{}

func (DefaultDataFactory) CreateData(prevID DataID, proposerID NodeID, number, epochNum, roundNum uint64, prevVotes []*Vote) (*Data, error) {
	d := &Data{
		PrevID:     prevID,
		ProposerID: proposerID,
		Number:     number,
		EpochNum:   epochNum,
		RoundNum:   roundNum,
		PrevVotes:  prevVotes,
		Timestamp:  time.Now().UTC(),
		Real:       true,
	}
	d.ID = hashData(d)
	return d, nil
}

func (DefaultDataFactory) CreateNoneData(epochNum, roundNum uint64, proposerID NodeID) (*Data, error) {
	d := &Data{
		ProposerID: proposerID,
		EpochNum:   epochNum,
		RoundNum:   roundNum,
		None:       true,
	}
	d.ID = NoneDataID(epochNum, roundNum, proposerID)
	return d, nil
}

func (DefaultDataFactory) CreateLazyData(epochNum, roundNum uint64, proposerID NodeID) (*Data, error) {
	d := &Data{
		ProposerID: proposerID,
		EpochNum:   epochNum,
		RoundNum:   roundNum,
		Lazy:       true,
	}
	d.ID = LazyDataID(epochNum, roundNum, proposerID)
	return d, nil
}

// NoneDataID derives the sentinel id a none-data for (epochNum, roundNum,
// proposerID) hashes to. Every replica's Sync layer fabricates its own
// none-data independently at round_start, so this must be a pure function
// of round identity, not a freshly-minted id: the Round layer's quorum
// tally keys votes by data id, and lazy/none votes (spec §4.3.3) only
// converge if they all name the same id their round's none/lazy Data
// actually carries.
func NoneDataID(epochNum, roundNum uint64, proposerID NodeID) DataID {
	return hashData(&Data{ProposerID: proposerID, EpochNum: epochNum, RoundNum: roundNum, None: true})
}

// LazyDataID is the CreateLazyData counterpart of NoneDataID.
func LazyDataID(epochNum, roundNum uint64, proposerID NodeID) DataID {
	return hashData(&Data{ProposerID: proposerID, EpochNum: epochNum, RoundNum: roundNum, Lazy: true})
}

func hashData(d *Data) DataID {
	h := sha256.New()
	h.Write(d.PrevID[:])
	h.Write(d.ProposerID[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], d.Number)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], d.EpochNum)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], d.RoundNum)
	h.Write(buf[:])
	switch {
	case d.None:
		h.Write([]byte("none"))
	case d.Lazy:
		h.Write([]byte("lazy"))
	case d.Not:
		h.Write([]byte("not"))
	default:
		h.Write([]byte("real"))
		h.Write([]byte(d.Timestamp.String()))
	}
	var id DataID
	copy(id[:], h.Sum(nil))
	return id
}

// DefaultVoteFactory is the Vote-side counterpart of DefaultDataFactory.
type DefaultVoteFactory struct {
	Voter NodeID
}

func (f DefaultVoteFactory) CreateVote(dataID, commitID DataID, epochNum, roundNum uint64) (*Vote, error) {
	v := &Vote{
		DataID:   dataID,
		CommitID: commitID,
		VoterID:  f.Voter,
		EpochNum: epochNum,
		RoundNum: roundNum,
		Real:     true,
	}
	v.ID = hashVote(v)
	return v, nil
}

func (f DefaultVoteFactory) CreateLazyVote(voter NodeID, epochNum, roundNum uint64, proposerID NodeID) (*Vote, error) {
	v := &Vote{
		DataID:   LazyDataID(epochNum, roundNum, proposerID),
		VoterID:  voter,
		EpochNum: epochNum,
		RoundNum: roundNum,
		Lazy:     true,
	}
	v.ID = hashVote(v)
	return v, nil
}

func (f DefaultVoteFactory) CreateNoneVote(epochNum, roundNum uint64, voter NodeID, proposerID NodeID) (*Vote, error) {
	v := &Vote{
		DataID:   NoneDataID(epochNum, roundNum, proposerID),
		VoterID:  voter,
		EpochNum: epochNum,
		RoundNum: roundNum,
		None:     true,
	}
	v.ID = hashVote(v)
	return v, nil
}

func hashVote(v *Vote) VoteID {
	h := sha256.New()
	h.Write(v.DataID[:])
	h.Write(v.VoterID[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v.EpochNum)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], v.RoundNum)
	h.Write(buf[:])
	switch {
	case v.None:
		h.Write([]byte("none"))
	case v.Lazy:
		h.Write([]byte("lazy"))
	case v.Not:
		h.Write([]byte("not"))
	default:
		h.Write([]byte("real"))
	}
	var id VoteID
	copy(id[:], h.Sum(nil))
	return id
}
