package consensus

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the error taxonomy of the consensus engine (spec §7).
// Admission and authorization errors are expected traffic and are recovered
// at the Sync layer edge; structural and fatal kinds are never swallowed.
type Kind int

const (
	// KindInvalidTerm: message belongs to a different epoch than the one
	// currently open.
	KindInvalidTerm Kind = iota
	// KindInvalidRound: message belongs to a different round than the one
	// currently open (for layers that only ever see the live round).
	KindInvalidRound
	// KindAlreadyProposed: a Data with this id is already in the pool.
	KindAlreadyProposed
	// KindAlreadyVoted: a Vote with this id is already in the pool.
	KindAlreadyVoted
	// KindInvalidProposer: proposer_id does not match the rotation schedule.
	KindInvalidProposer
	// KindInvalidVoter: voter_id is not a member of the epoch's voter list,
	// or not at the expected position.
	KindInvalidVoter
	// KindInvalidSignature: Data/Vote.Verify() returned false.
	KindInvalidSignature
	// KindStructural: malformed message (missing prev_votes, number gap).
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindInvalidTerm:
		return "invalid_term"
	case KindInvalidRound:
		return "invalid_round"
	case KindAlreadyProposed:
		return "already_proposed"
	case KindAlreadyVoted:
		return "already_voted"
	case KindInvalidProposer:
		return "invalid_proposer"
	case KindInvalidVoter:
		return "invalid_voter"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// Error is the concrete type behind every admission/authorization/structural
// error the engine raises. It carries a Kind so callers can type-switch
// without string matching, mirroring the Python original's distinct
// exception classes (InvalidTerm, InvalidRound, AlreadyProposed, ...).
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }

// Kind reports which bucket of §7's taxonomy this error belongs to.
func (e *Error) Kind() Kind { return e.kind }

// IsAdmission reports whether err is one of the four admission errors that
// the Sync layer recovers from silently (spec §4.3.4/4.3.5, §7).
func IsAdmission(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.kind {
	case KindInvalidTerm, KindInvalidRound, KindAlreadyProposed, KindAlreadyVoted:
		return true
	default:
		return false
	}
}

// IsAuthorization reports whether err is an authorization error (dropped,
// optionally logged, never escalated).
func IsAuthorization(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.kind {
	case KindInvalidProposer, KindInvalidVoter, KindInvalidSignature:
		return true
	default:
		return false
	}
}

func ErrInvalidTerm(got, want uint64) error {
	return newError(KindInvalidTerm, "invalid epoch: got %d, want %d", got, want)
}

func ErrInvalidRound(epoch, gotRound, wantRound uint64) error {
	return newError(KindInvalidRound, "invalid round in epoch %d: got %d, want %d", epoch, gotRound, wantRound)
}

func ErrAlreadyProposed(dataID string) error {
	return newError(KindAlreadyProposed, "data %s already proposed", dataID)
}

func ErrAlreadyVoted(voteID string) error {
	return newError(KindAlreadyVoted, "vote %s already cast", voteID)
}

func ErrInvalidProposer(got, want NodeID) error {
	return newError(KindInvalidProposer, "invalid proposer: got %s, want %s", got, want)
}

func ErrInvalidVoter(got NodeID) error {
	return newError(KindInvalidVoter, "invalid voter: %s is not a member of the epoch's voter list", got)
}

func ErrInvalidVoterAt(got, want NodeID, index int) error {
	return newError(KindInvalidVoter, "invalid voter at index %d: got %s, want %s", index, got, want)
}

func ErrInvalidSignature(msgID string) error {
	return newError(KindInvalidSignature, "signature verification failed for %s", msgID)
}

func ErrStructural(format string, args ...interface{}) error {
	return newError(KindStructural, format, args...)
}

// FatalInvariant is returned by the root consensus engine when it detects a
// safety violation (spec §7: "Abort the engine; this indicates a safety bug
// and must fail loudly"). It is never caught internally.
type FatalInvariant struct {
	Reason string
}

func (f *FatalInvariant) Error() string {
	return fmt.Sprintf("fatal invariant violation: %s", f.Reason)
}
