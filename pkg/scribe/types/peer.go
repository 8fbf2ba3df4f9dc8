package types

// PeerVClockEntry is one row of a PeerEntry's vector clock: "this peer has
// observed messages from PeerID up to LastSeqNo". PeerIndex is the local
// index (from the reporting peer's own point of view) of the referenced
// peer.
type PeerVClockEntry struct {
	PeerID    PeerID
	PeerIndex uint64
	LastSeqNo uint64
}

// PeerEntry is a row of the peer matrix: peer PeerID's own view of the
// system, as it last reported it. Entry 0 of Vector is always the peer's
// view of itself.
type PeerEntry struct {
	PeerID PeerID
	NextTS uint64
	Vector []PeerVClockEntry
}

// Clone deep-copies a PeerEntry so callers can safely keep snapshots
// around (used by the peer matrix when handing out or restoring rows).
func (e PeerEntry) Clone() PeerEntry {
	vector := make([]PeerVClockEntry, len(e.Vector))
	copy(vector, e.Vector)
	return PeerEntry{PeerID: e.PeerID, NextTS: e.NextTS, Vector: vector}
}
