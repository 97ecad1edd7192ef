package consensus

// Term (a.k.a. Epoch) is an immutable descriptor of a voter set for a
// contiguous span of rounds (spec §2, §3, §4.2).
//
// Proposer rotation is deterministic and does not involve any view-change
// messaging: proposer(r) = voters[(r / rotate_bound) mod n].
type Term struct {
	num         uint64
	voters      []NodeID
	rotateBound uint64
}

// NewTerm builds a Term for the given epoch number and ordered voter list.
// rotateBound must be >= 1; voters must be non-empty (spec §3 invariant).
func NewTerm(num uint64, voters []NodeID, rotateBound uint64) *Term {
	if rotateBound == 0 {
		rotateBound = 1
	}
	cp := make([]NodeID, len(voters))
	copy(cp, voters)
	return &Term{num: num, voters: cp, rotateBound: rotateBound}
}

// Num returns the epoch number.
func (t *Term) Num() uint64 { return t.num }

// QuorumNum returns ceil(2/3 * n), the number of votes needed for BFT quorum.
func (t *Term) QuorumNum() int {
	n := len(t.voters)
	return (2*n + 2) / 3
}

// Size returns the number of voters in the epoch.
func (t *Term) Size() int { return len(t.voters) }

// ProposerID returns the expected proposer for round.
func (t *Term) ProposerID(round uint64) NodeID {
	return t.voters[(round/t.rotateBound)%uint64(len(t.voters))]
}

// VoterID returns the voter at the given position in the ordered voter list.
func (t *Term) VoterID(index int) NodeID {
	return t.voters[index]
}

// VotersID returns the full ordered voter list.
func (t *Term) VotersID() []NodeID {
	out := make([]NodeID, len(t.voters))
	copy(out, t.voters)
	return out
}

// VerifyProposer checks that id is the expected proposer for round.
func (t *Term) VerifyProposer(id NodeID, round uint64) error {
	expected := t.ProposerID(round)
	if id != expected {
		return ErrInvalidProposer(id, expected)
	}
	return nil
}

// VerifyVoter checks membership of id in the voter set. When index >= 0 it
// enforces a positional match against the voter at that index (used when
// verifying the prev_votes bundle embedded in a Data, spec §4.2); when
// index < 0 it accepts any voter in the set.
func (t *Term) VerifyVoter(id NodeID, index int) error {
	if index >= 0 {
		if index >= len(t.voters) {
			return ErrInvalidVoterAt(id, NodeID{}, index)
		}
		expected := t.voters[index]
		if id != expected {
			return ErrInvalidVoterAt(id, expected, index)
		}
		return nil
	}
	for _, v := range t.voters {
		if v == id {
			return nil
		}
	}
	return ErrInvalidVoter(id)
}

// VerifyVote verifies a vote's voter_id, optionally by position (see
// VerifyVoter).
func (t *Term) VerifyVote(v *Vote, voteIndex int) error {
	return t.VerifyVoter(v.VoterID, voteIndex)
}

// VerifyData verifies a data's proposer and, if it carries a prev_votes
// bundle, each contained vote's voter position. prev_votes is treated as an
// ordered list indexed by voter position: prev_votes[i].voter_id must equal
// voters[i] (spec §9 Open Question, resolved per original_source).
func (t *Term) VerifyData(d *Data) error {
	if err := t.VerifyProposer(d.ProposerID, d.RoundNum); err != nil {
		return err
	}
	for i, v := range d.PrevVotes {
		if err := t.VerifyVoter(v.VoterID, i); err != nil {
			return err
		}
	}
	return nil
}
