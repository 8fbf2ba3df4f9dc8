package types

// OperationKind tags the union of operations that can appear in a Message's
// operation list. Replaces the teacher-observed "structural variant
// dispatch" wart (distinguishing variants by which field is populated) with
// an explicit tag, per the redesign flagged in the specification - while
// still preserving the legacy placeholder booleans on InsertOp/DeleteOp so
// the wire codec stays bit-compatible with a historical structural decoder.
type OperationKind uint8

const (
	OpClockUpdate OperationKind = iota
	OpSchemaUpdate
	OpInsert
	OpDelete
	OpPutCursor
)

// ClockUpdate reports the sender's observed progress for some set of peers,
// and introduces any new peer-index mappings the sender will use in the
// operations that follow it in the same message.
type ClockUpdate struct {
	NextTS  uint64
	Entries []PeerClockUpdateEntry
}

// PeerClockUpdateEntry is one row of a ClockUpdate. HasPeerID is true only
// the first time the sender introduces PeerIndex to the recipient; on
// subsequent updates that merely bump LastSeqNo for an already-known index
// the wire form omits the PeerID, and decoding fills PeerID in from the
// mapping the earlier introduction registered.
type PeerClockUpdateEntry struct {
	PeerID    PeerID
	HasPeerID bool
	PeerIndex uint64
	LastSeqNo uint64
}

// SchemaUpdate declares a schema for the channel. A schema is fixed once
// declared (no migration), identified by the ItemID of the declaring
// update.
type SchemaUpdate struct {
	ID     ItemID
	Schema []byte
}

// InsertOp inserts a new item into the ordered list just after ReferenceID
// (or at the head if ReferenceID is zero). IsSetCursor is the legacy
// placeholder boolean: InsertOp and PutCursorOp were historically
// distinguished by a decoder that matched on field presence, and must carry
// it to remain wire-compatible (see the codec's tagInsert branch).
type InsertOp struct {
	ReferenceID  ItemID
	NewID        ItemID
	Value        rune
	IsSetCursor  bool // legacy placeholder, always false for InsertOp
}

// DeleteOp tombstones the item at DeleteID. IsDeleteCharacter is the legacy
// placeholder boolean preserved for the same reason as InsertOp's
// IsSetCursor.
type DeleteOp struct {
	DeleteID         ItemID
	DeleteTS         ItemID
	IsDeleteCharacter bool // legacy placeholder, always true for DeleteOp
}

// PutCursorOp is the cursor-map mutation: peer Key's cursor register is set
// to Value as of UpdateTS.
type PutCursorOp struct {
	Key      PeerID
	Value    uint64
	UpdateTS ItemID
}

// Operation is the tagged union of everything that can appear in a
// Message's operation list.
type Operation struct {
	Kind         OperationKind
	ClockUpdate  *ClockUpdate
	SchemaUpdate *SchemaUpdate
	Insert       *InsertOp
	Delete       *DeleteOp
	PutCursor    *PutCursorOp
}

// Message is the unit of replication: an ordered list of operations
// produced by OriginPeerID, to be applied strictly in order.
type Message struct {
	OriginPeerID PeerID
	SchemaID     ItemID
	Timestamp    int64 // informational only, not used for correctness
	MsgCount     uint64
	Operations   []Operation
}

// MessageLogEntry records one message this peer has sent or applied from
// another peer, for replay on restart. Offset is -1 until the relay server
// acknowledges the message with a channel offset.
type MessageLogEntry struct {
	SenderPeerIndex uint64
	SenderSeqNo     uint64
	Offset          int64
	Payload         []byte
}

const UnacknowledgedOffset int64 = -1

// PeerState is the persisted, whole-file snapshot of a peer's durable
// state. Loading it replays the entire message log to reconstruct the CRDT
// deterministically; Data is a copy of the CRDT content at save time and
// is not read back on load.
type PeerState struct {
	ChannelID        ChannelID
	ChannelOffset    int64
	SecretKey        []byte // optional, 32 bytes when present
	DefaultSchemaID  ItemID
	CursorsItemID    ItemID
	CharactersItemID ItemID
	Peers            []PeerEntry
	MessageLog       []MessageLogEntry
	Data             TextDocumentState
}

// TextDocumentState is the CRDT payload persisted alongside the peer
// bookkeeping: the characters list and the cursor map.
type TextDocumentState struct {
	Characters []OrderedListItem
	Cursors    map[PeerID]CursorEntry
}

// CursorEntry is one LWW register value in the persisted cursor map.
type CursorEntry struct {
	Value    uint64
	UpdateTS ItemID
}
