package consensus

import (
	"encoding/hex"
	"encoding/json"
)

// VoteID is the opaque identity of a Vote message.
type VoteID [32]byte

func (v VoteID) String() string { return hex.EncodeToString(v[:]) }

// IsZero reports the sentinel "no id" value.
func (v VoteID) IsZero() bool { return v == VoteID{} }

func (v VoteID) MarshalJSON() ([]byte, error) { return json.Marshal(v.String()) }

func (v *VoteID) UnmarshalJSON(data []byte) error {
	return unmarshalHexID(data, v[:])
}

// DataID is the opaque identity of a Data (candidate block) message.
type DataID [32]byte

func (d DataID) String() string { return hex.EncodeToString(d[:]) }

func (d DataID) IsZero() bool { return d == DataID{} }

func (d DataID) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *DataID) UnmarshalJSON(data []byte) error {
	return unmarshalHexID(data, d[:])
}

func unmarshalHexID(data []byte, out []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(out) {
		return ErrStructural("id must decode to %d bytes, got %d", len(out), len(b))
	}
	copy(out, b)
	return nil
}

// Vote is an attestation of a voter for a data id (spec §3).
//
// A voter contributes at most one real vote per (epoch, round); lazy/none
// votes are sentinels the Sync layer may inject on its own, not signed
// endorsements of an actual proposal.
type Vote struct {
	ID       VoteID
	DataID   DataID
	CommitID DataID
	VoterID  NodeID
	EpochNum uint64
	RoundNum uint64

	Real bool
	None bool
	Lazy bool
	Not  bool

	verify func() bool
}

// IsNone reports whether this is a none-vote sentinel.
func (v *Vote) IsNone() bool { return v.None }

// IsLazy reports whether this is a lazy-vote sentinel.
func (v *Vote) IsLazy() bool { return v.Lazy }

// IsNot reports whether this is a not-vote sentinel (never produced in the
// current rule set; kept because Data/Vote share the four-way flag shape
// per spec §3).
func (v *Vote) IsNot() bool { return v.Not }

// Verify runs the application-supplied signature/payload check. None/lazy
// sentinels must verify trivially (spec §4.6).
func (v *Vote) Verify() bool {
	if v.verify == nil {
		return true
	}
	return v.verify()
}

// VoteFactory constructs Vote messages with application-pluggable
// identities and signatures (spec §4.6).
type VoteFactory interface {
	CreateVote(dataID, commitID DataID, epochNum, roundNum uint64) (*Vote, error)
	// CreateLazyVote and CreateNoneVote take the round's proposer id so the
	// returned Vote's DataID can be derived the same way as the matching
	// none/lazy Data's id (see NoneDataID/LazyDataID): without it, a lazy or
	// none vote could never be matched against the round's own sentinel
	// candidate.
	CreateLazyVote(voter NodeID, epochNum, roundNum uint64, proposerID NodeID) (*Vote, error)
	CreateNoneVote(epochNum, roundNum uint64, voter NodeID, proposerID NodeID) (*Vote, error)
}
