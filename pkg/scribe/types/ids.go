// Package types holds the data model shared by every THE CORE component:
// peer and item identifiers, the peer-matrix row types, the ordered-list
// item, the message log entry, and the wire-level message shapes.
package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// PeerID is a 256-bit identifier assigned once per peer instance and never
// reused. Two peers are the same iff their PeerIDs are equal.
type PeerID [32]byte

// NewPeerID generates a fresh, globally unique PeerID. The first 16 bytes
// are a random UUIDv4 (so the value is trivially printable and debuggable);
// the remaining 16 bytes are independent crypto/rand output, giving the
// full 256 bits of entropy the wire format assumes.
func NewPeerID() (PeerID, error) {
	var id PeerID
	u := uuid.New()
	copy(id[:16], u[:])
	if _, err := rand.Read(id[16:]); err != nil {
		return PeerID{}, fmt.Errorf("generating peer id: %w", err)
	}
	return id, nil
}

func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalText renders p as hex, making PeerID usable as a JSON object key
// (encoding/json only accepts string/integer keys or a TextMarshaler) — the
// persisted cursor map is keyed by PeerID.
func (p PeerID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (p *PeerID) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding peer id: %w", err)
	}
	if len(decoded) != len(p) {
		return fmt.Errorf("peer id must be %d bytes, got %d", len(p), len(decoded))
	}
	copy(p[:], decoded)
	return nil
}

// Less orders PeerIDs lexicographically on their byte representation. Used
// as the tie-break component of ItemID's total order.
func (p PeerID) Less(other PeerID) bool {
	for i := range p {
		if p[i] != other[i] {
			return p[i] < other[i]
		}
	}
	return false
}

func (p PeerID) Equal(other PeerID) bool {
	return p == other
}

// IsZero reports whether p is the zero value, used as a sentinel for "no
// such peer" in translation tables.
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// ChannelID is a 128-bit identifier for a shared document.
type ChannelID [16]byte

// NewChannelID generates a fresh random ChannelID.
func NewChannelID() (ChannelID, error) {
	var id ChannelID
	u := uuid.New()
	copy(id[:], u[:])
	return id, nil
}

func (c ChannelID) String() string {
	return hex.EncodeToString(c[:])
}

func (c ChannelID) Equal(other ChannelID) bool {
	return c == other
}

// ItemID totally orders every insertion and every schema declaration in the
// system. Two ItemIDs compare first on LogicalTS, then on PeerID — this
// resolves ties between concurrent inserts deterministically on every
// replica without further coordination.
type ItemID struct {
	LogicalTS uint64
	PeerID    PeerID
}

// ZeroItemID is the zero value, used to mean "no reference" (e.g. an insert
// at the head of the list, or "never deleted").
var ZeroItemID = ItemID{}

func (id ItemID) IsZero() bool {
	return id == ZeroItemID
}

// Less implements the ItemID total order: (LogicalTS, PeerID) ascending.
func (id ItemID) Less(other ItemID) bool {
	if id.LogicalTS != other.LogicalTS {
		return id.LogicalTS < other.LogicalTS
	}
	return id.PeerID.Less(other.PeerID)
}

// Greater is the strict converse of Less, used by the RGA integration
// algorithm which compares descending.
func (id ItemID) Greater(other ItemID) bool {
	return other.Less(id)
}

// LessOrEqual is used by the RGA skip condition, which compares a
// candidate's reference id against the new item's reference id.
func (id ItemID) LessOrEqual(other ItemID) bool {
	return id == other || id.Less(other)
}

func (id ItemID) Equal(other ItemID) bool {
	return id == other
}

func (id ItemID) String() string {
	return fmt.Sprintf("(%d,%s)", id.LogicalTS, id.PeerID.String()[:8])
}
