package consensus

import (
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// NodeID is an opaque replica identity: 16 random bytes, unique within an
// epoch's voter list (spec §3).
type NodeID [16]byte

// NewNodeID generates a fresh random node identity.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// String renders the hex form used in logs and record-log file names.
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// IsZero reports whether n is the zero value.
func (n NodeID) IsZero() bool {
	return n == NodeID{}
}

// NodeIDFromHex parses the hex form produced by String, e.g. a replay
// directory's per-node folder name.
func NodeIDFromHex(s string) (NodeID, error) {
	var n NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, err
	}
	if len(b) != len(n) {
		return n, ErrStructural("node id must decode to %d bytes, got %d", len(n), len(b))
	}
	copy(n[:], b)
	return n, nil
}

// MarshalJSON renders a NodeID as a hex string instead of encoding/json's
// default byte-array-of-numbers form, so record logs and genesis files stay
// readable.
func (n NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

func (n *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := NodeIDFromHex(s)
	if err != nil {
		return err
	}
	*n = id
	return nil
}
