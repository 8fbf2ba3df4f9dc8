package core

import (
	"github.com/jabolina/go-scribe/pkg/scribe/definition"
	"github.com/jabolina/go-scribe/pkg/scribe/scribeerr"
	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

// pendingMessage is a message that arrived before it was causally ready,
// held until the peers it depends on catch up.
type pendingMessage struct {
	origin types.PeerID
	seqNo  uint64
	msg    types.Message
	sealed []byte
}

// Engine is the peer engine: the single logical owner of one peer's view of
// one channel. It owns the operation log, the CRDT state (list, cursors,
// schemas), the peer matrix and codec, and the seal boundary. Every public
// method runs to completion without suspending except at the two I/O
// boundaries the specification names: EncodeMessage/ReceiveMessage (wire)
// and Save/Load (persisted state).
//
// Grounded on the teacher's pkg/mcast/core engine type: one struct holding
// every collaborator, constructed once by NewPeer, mutated only through its
// own methods.
type Engine struct {
	self      types.PeerID
	channelID types.ChannelID
	logger    definition.Logger

	matrix  *PeerMatrix
	list    *OrderedList
	cursors *CursorMap
	schemas *SchemaCache
	codec   *Codec
	sealer  Sealer

	logicalTS uint64

	defaultSchemaID  types.ItemID
	charactersItemID types.ItemID
	cursorsItemID    types.ItemID

	localSeqNo uint64
	msgCount   uint64
	outgoing   []types.Operation
	pending    []pendingMessage

	// introducedPeers tracks which peers this engine has ever declared a
	// PeerID for in an outgoing ClockUpdate. A peer only needs to be
	// introduced once; afterwards, updates referencing it can drop the
	// PeerID and use its index alone (§4.4).
	introducedPeers map[types.PeerID]bool

	messageLog []types.MessageLogEntry
}

// NewPeer creates a brand-new Engine for self on channelID, with an empty
// document and no known peers besides itself. schema declares the document
// schema this peer will advertise in its first message.
func NewPeer(self types.PeerID, channelID types.ChannelID, schema []byte, logger definition.Logger, sealer Sealer) *Engine {
	if logger == nil {
		logger = definition.NoopLogger{}
	}
	if sealer == nil {
		sealer = NoopSealer{}
	}

	matrix := NewPeerMatrix(self)
	e := &Engine{
		self:            self,
		channelID:       channelID,
		logger:          logger,
		matrix:          matrix,
		list:            NewOrderedList(),
		cursors:         NewCursorMap(),
		schemas:         NewSchemaCache(),
		codec:           NewCodec(matrix),
		sealer:          sealer,
		logicalTS:       1,
		introducedPeers: map[types.PeerID]bool{},
	}

	e.defaultSchemaID = e.nextItemID()
	e.schemas.RegisterSchema(e.defaultSchemaID, schema)
	e.queueLocked(types.Operation{
		Kind:         types.OpSchemaUpdate,
		SchemaUpdate: &types.SchemaUpdate{ID: e.defaultSchemaID, Schema: schema},
	})
	e.logger.Infof("new peer %s on channel %s", self.String(), channelID.String())
	return e
}

// nextItemID mints the next ItemID owned by self, advancing logicalTS.
func (e *Engine) nextItemID() types.ItemID {
	id := types.ItemID{LogicalTS: e.logicalTS, PeerID: e.self}
	e.logicalTS++
	return id
}

// InsertChar inserts value into the document immediately after the item
// currently at visibleIndex-1 (or at the head if visibleIndex is 0),
// queuing an Insert operation for the next EncodeMessage call.
func (e *Engine) InsertChar(visibleIndex int, value rune) types.ItemID {
	reference := e.list.VisibleIndexToReference(visibleIndex)
	newID := e.nextItemID()
	e.list.Insert(reference, newID, value)

	e.queueLocked(types.Operation{
		Kind: types.OpInsert,
		Insert: &types.InsertOp{
			ReferenceID: reference,
			NewID:       newID,
			Value:       value,
			IsSetCursor: false,
		},
	})
	return newID
}

// DeleteChar tombstones the item currently at visibleIndex. Returns false
// if visibleIndex is out of range (no-op, nothing queued).
func (e *Engine) DeleteChar(visibleIndex int) bool {
	itemID, ok := e.list.VisibleIndexToItemID(visibleIndex)
	if !ok {
		return false
	}
	deleteTS := e.nextItemID()
	e.list.Delete(itemID, deleteTS)

	e.queueLocked(types.Operation{
		Kind: types.OpDelete,
		Delete: &types.DeleteOp{
			DeleteID:          itemID,
			DeleteTS:          deleteTS,
			IsDeleteCharacter: true,
		},
	})
	return true
}

// SetCursor records self's own cursor position and queues a PutCursor
// operation for the next EncodeMessage call.
func (e *Engine) SetCursor(position uint64) {
	updateTS := e.nextItemID()
	e.cursors.Put(e.self, position, updateTS)

	e.queueLocked(types.Operation{
		Kind: types.OpPutCursor,
		PutCursor: &types.PutCursorOp{
			Key:      e.self,
			Value:    position,
			UpdateTS: updateTS,
		},
	})
}

// queueLocked appends op to the set of operations awaiting the next
// EncodeMessage call. Engine has a single logical owner, so no locking is
// required beyond the component-level mutexes already held by list/cursors.
func (e *Engine) queueLocked(op types.Operation) {
	e.outgoing = append(e.outgoing, op)
}

// EncodeMessage builds a Message from every operation queued since the last
// call (via InsertChar/DeleteChar/SetCursor), prefixes it with a
// ClockUpdate reporting self's observed progress, seals it, and returns the
// sealed bytes ready for the transport. Returns (nil, nil) if nothing is
// queued.
func (e *Engine) EncodeMessage() ([]byte, error) {
	if len(e.outgoing) == 0 {
		return nil, nil
	}

	clockUpdate := e.buildClockUpdateLocked()
	ops := make([]types.Operation, 0, len(e.outgoing)+1)
	ops = append(ops, types.Operation{Kind: types.OpClockUpdate, ClockUpdate: clockUpdate})
	ops = append(ops, e.outgoing...)

	msg := types.Message{
		OriginPeerID: e.self,
		SchemaID:     e.defaultSchemaID,
		MsgCount:     e.msgCount,
		Operations:   ops,
	}

	plain, err := e.codec.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	sealed, err := e.sealer.Seal(plain)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.SealOpen, err, "sealing outgoing message")
	}

	e.localSeqNo++
	e.msgCount++
	e.matrix.SetSelfNextTS(e.logicalTS + 1)
	e.messageLog = append(e.messageLog, types.MessageLogEntry{
		SenderPeerIndex: 0,
		SenderSeqNo:     e.localSeqNo,
		Offset:          types.UnacknowledgedOffset,
		Payload:         sealed,
	})
	e.outgoing = nil

	return sealed, nil
}

// buildClockUpdateLocked reports self's current observed progress for every
// peer it has applied messages from, introducing (with a PeerID) any peer
// referenced that has never been introduced to recipients before.
func (e *Engine) buildClockUpdateLocked() *types.ClockUpdate {
	vector := e.matrix.SelfVectorSnapshot()
	entries := make([]types.PeerClockUpdateEntry, 0, len(vector))
	for _, v := range vector {
		hasPeerID := !e.introducedPeers[v.PeerID]
		entries = append(entries, types.PeerClockUpdateEntry{
			PeerID:    v.PeerID,
			HasPeerID: hasPeerID,
			PeerIndex: v.PeerIndex,
			LastSeqNo: v.LastSeqNo,
		})
		if hasPeerID {
			e.introducedPeers[v.PeerID] = true
		}
	}
	return &types.ClockUpdate{NextTS: e.logicalTS + 1, Entries: entries}
}

// ReceiveMessage opens and decodes a sealed message from origin carrying
// senderSeqNo (the transport's own delivery sequence number for origin, used
// for the out-of-order-arrival check), and applies it if causally ready.
// A message that is not yet ready is buffered and retried whenever a later
// apply succeeds, since that may be exactly the dependency it was waiting
// on.
func (e *Engine) ReceiveMessage(origin types.PeerID, senderSeqNo uint64, sealed []byte) error {
	plain, err := e.sealer.Open(sealed)
	if err != nil {
		return sealOpenErr(err)
	}

	msg, err := e.codec.DecodeMessage(origin, plain)
	if err != nil {
		return err
	}

	observed := e.matrix.SelfObserved(origin)
	if senderSeqNo != observed+1 {
		return scribeerr.New(scribeerr.OutOfOrderSeqNo, "message from "+origin.String()+" arrived out of sequence")
	}

	if !e.readyLocked(msg) {
		e.pending = append(e.pending, pendingMessage{origin: origin, seqNo: senderSeqNo, msg: msg, sealed: sealed})
		e.logger.Debugf("buffering message from %s: not yet causally ready", origin.String())
		return nil
	}

	if err := e.applyLocked(msg); err != nil {
		return err
	}
	e.matrix.RecordObservation(origin, senderSeqNo)
	e.appendRemoteLogEntryLocked(origin, senderSeqNo, sealed)
	e.drainPendingLocked()
	return nil
}

// appendRemoteLogEntryLocked records a just-applied remote message in the
// operation log, the received-message counterpart to the entry
// EncodeMessage appends for self-authored ones, so ReplayLog sees the exact
// same sequence of applications a fresh Load replays against an empty
// matrix/list/cursor set.
func (e *Engine) appendRemoteLogEntryLocked(origin types.PeerID, seqNo uint64, sealed []byte) {
	e.messageLog = append(e.messageLog, types.MessageLogEntry{
		SenderPeerIndex: e.matrix.PeerIDToIndex(origin),
		SenderSeqNo:     seqNo,
		Offset:          types.UnacknowledgedOffset,
		Payload:         sealed,
	})
}

// readyLocked reports whether msg's leading ClockUpdate (if any) describes
// dependencies this engine has already applied. A dependency on self is
// always satisfied: whatever the sender observed from self can only be
// something self produced itself, so self's own running sequence number
// (never tracked in its own matrix row, which only records what it has
// observed from others) stands in for "applied" there.
func (e *Engine) readyLocked(msg types.Message) bool {
	lastApplied := func(peerID types.PeerID) uint64 {
		if peerID == e.self {
			return e.localSeqNo
		}
		return e.matrix.SelfObserved(peerID)
	}
	for _, op := range msg.Operations {
		if op.Kind != types.OpClockUpdate {
			continue
		}
		clock := make([]types.PeerVClockEntry, 0, len(op.ClockUpdate.Entries))
		for _, entry := range op.ClockUpdate.Entries {
			clock = append(clock, types.PeerVClockEntry{PeerID: entry.PeerID, PeerIndex: entry.PeerIndex, LastSeqNo: entry.LastSeqNo})
		}
		return e.matrix.CausallyReady(clock, lastApplied)
	}
	return true
}

// drainPendingLocked retries every buffered message, applying whichever are
// now ready. Because applying a message can only ever make other peers'
// preconditions more satisfied (never less), a single linear pass, repeated
// until it makes no progress, finds every message that has become ready.
func (e *Engine) drainPendingLocked() {
	for {
		progressed := false
		remaining := e.pending[:0]
		for _, p := range e.pending {
			if e.readyLocked(p.msg) {
				if err := e.applyLocked(p.msg); err != nil {
					e.logger.Warnf("dropping buffered message from %s: %v", p.origin.String(), err)
					continue
				}
				e.matrix.RecordObservation(p.origin, p.seqNo)
				e.appendRemoteLogEntryLocked(p.origin, p.seqNo, p.sealed)
				progressed = true
				continue
			}
			remaining = append(remaining, p)
		}
		e.pending = remaining
		if !progressed {
			return
		}
	}
}

// applyLocked applies every operation in msg to the relevant CRDT
// component, in order.
func (e *Engine) applyLocked(msg types.Message) error {
	for _, op := range msg.Operations {
		switch op.Kind {
		case types.OpClockUpdate:
			if err := e.matrix.ApplyClockUpdate(msg.OriginPeerID, *op.ClockUpdate); err != nil {
				return err
			}
		case types.OpSchemaUpdate:
			if !e.schemas.RegisterSchema(op.SchemaUpdate.ID, op.SchemaUpdate.Schema) {
				return scribeerr.New(scribeerr.UnknownOperationVariant, "conflicting schema redeclaration")
			}
		case types.OpInsert:
			e.list.Insert(op.Insert.ReferenceID, op.Insert.NewID, op.Insert.Value)
		case types.OpDelete:
			e.list.Delete(op.Delete.DeleteID, op.Delete.DeleteTS)
		case types.OpPutCursor:
			e.cursors.Put(op.PutCursor.Key, op.PutCursor.Value, op.PutCursor.UpdateTS)
		default:
			return scribeerr.New(scribeerr.UnknownOperationVariant, "apply: unknown operation kind")
		}
		if ts := operationTimestamp(op); ts >= e.logicalTS {
			e.logicalTS = ts + 1
		}
	}
	return nil
}

// operationTimestamp extracts the highest LogicalTS an operation
// introduces, used to advance the engine's own logical clock past anything
// it has observed from remote peers (so locally minted ItemIDs never
// collide with replayed ones).
func operationTimestamp(op types.Operation) uint64 {
	switch op.Kind {
	case types.OpSchemaUpdate:
		return op.SchemaUpdate.ID.LogicalTS
	case types.OpInsert:
		return op.Insert.NewID.LogicalTS
	case types.OpDelete:
		return op.Delete.DeleteTS.LogicalTS
	case types.OpPutCursor:
		return op.PutCursor.UpdateTS.LogicalTS
	default:
		return 0
	}
}

// Document returns the current visible text.
func (e *Engine) Document() string {
	return e.list.Document()
}

// CursorOf returns peerID's last-known cursor position, and whether one has
// ever been recorded.
func (e *Engine) CursorOf(peerID types.PeerID) (uint64, bool) {
	return e.cursors.Get(peerID)
}

// Self returns the engine's own PeerID.
func (e *Engine) Self() types.PeerID {
	return e.self
}

// ChannelID returns the channel this engine is serving.
func (e *Engine) ChannelID() types.ChannelID {
	return e.channelID
}

// Save produces a PeerState snapshot. Per §4.3, Load does not trust this
// snapshot's CRDT data or clock values directly — it replays the message
// log carried alongside it to reconstruct the CRDT deterministically — so
// state.Data is informational only (e.g. for external inspection) and
// state.Peers is used only for its stable PeerID<->index identity mapping.
func (e *Engine) Save() types.PeerState {
	return types.PeerState{
		ChannelID:        e.channelID,
		ChannelOffset:    e.lastOffsetLocked(),
		DefaultSchemaID:  e.defaultSchemaID,
		CursorsItemID:    e.cursorsItemID,
		CharactersItemID: e.charactersItemID,
		Peers:            e.matrix.Entries(),
		MessageLog:       e.messageLog,
		Data: types.TextDocumentState{
			Characters: e.list.Snapshot(),
			Cursors:    e.cursors.Snapshot(),
		},
	}
}

func (e *Engine) lastOffsetLocked() int64 {
	if len(e.messageLog) == 0 {
		return types.UnacknowledgedOffset
	}
	return e.messageLog[len(e.messageLog)-1].Offset
}

// Load reconstructs an Engine from a previously Saved PeerState. Per §4.3,
// the persisted CRDT snapshot (state.Data) and clock values (state.Peers'
// Vector/NextTS) are never trusted directly — only the message log is: the
// matrix is restored far enough to know which PeerID owns which index (that
// assignment is stable and safe to trust), then its clocks are reset to the
// same empty state a brand-new peer starts from, and the list/cursor
// components are built fresh. ReplayLog then re-derives every other piece
// of state by re-applying the log in its original order, so loading can
// never diverge from what building the peer up message-by-message would
// have produced. self must match Peers[0].
func Load(self types.PeerID, state types.PeerState, schema []byte, logger definition.Logger, sealer Sealer) (*Engine, error) {
	if logger == nil {
		logger = definition.NoopLogger{}
	}
	if sealer == nil {
		sealer = NoopSealer{}
	}

	matrix := NewPeerMatrix(self)
	if err := matrix.RestoreEntries(self, state.Peers); err != nil {
		return nil, err
	}
	matrix.ResetClocksForReplay()

	e := &Engine{
		self:             self,
		channelID:        state.ChannelID,
		logger:           logger,
		matrix:           matrix,
		list:             NewOrderedList(),
		cursors:          NewCursorMap(),
		schemas:          NewSchemaCache(),
		codec:            NewCodec(matrix),
		sealer:           sealer,
		logicalTS:        1,
		defaultSchemaID:  state.DefaultSchemaID,
		cursorsItemID:    state.CursorsItemID,
		charactersItemID: state.CharactersItemID,
		introducedPeers:  map[types.PeerID]bool{},
	}
	e.schemas.RegisterSchema(state.DefaultSchemaID, schema)

	if err := e.ReplayLog(state.MessageLog); err != nil {
		return nil, err
	}

	e.logger.Infof("loaded peer %s on channel %s from %d log entries", self.String(), state.ChannelID.String(), len(state.MessageLog))
	return e, nil
}

// markIntroducedLocked records, from one of this engine's own past outgoing
// messages, which peers it had already declared a PeerID for, so Load does
// not redundantly re-introduce them in the next ClockUpdate it builds.
func (e *Engine) markIntroducedLocked(msg types.Message) {
	for _, op := range msg.Operations {
		if op.Kind != types.OpClockUpdate {
			continue
		}
		for _, entry := range op.ClockUpdate.Entries {
			if entry.HasPeerID {
				e.introducedPeers[entry.PeerID] = true
			}
		}
	}
}

// ReplayLog re-applies every entry of a persisted message log, in order,
// against this engine's own components, used by Load to deterministically
// reconstruct state rather than trusting a persisted CRDT snapshot outright.
// Entries in the log whose SenderPeerIndex is 0 are this engine's own past
// outgoing messages and are replayed through the decode path exactly like a
// remote one (self-addressed), since the wire codec has no special case for
// "message I sent". Only received entries are recorded as observations in
// row 0; for its own messages the engine restores its send sequence number
// instead, as it did when it first sent them.
func (e *Engine) ReplayLog(log []types.MessageLogEntry) error {
	for _, entry := range log {
		peer, ok := e.matrix.Entry(entry.SenderPeerIndex)
		if !ok {
			return scribeerr.New(scribeerr.IndexMismatch, "replay: unknown sender peer index in message log")
		}

		plain, err := e.sealer.Open(entry.Payload)
		if err != nil {
			return sealOpenErr(err)
		}
		msg, err := e.codec.DecodeMessage(peer.PeerID, plain)
		if err != nil {
			return err
		}
		if err := e.applyLocked(msg); err != nil {
			return err
		}
		e.messageLog = append(e.messageLog, entry)
		if entry.SenderPeerIndex == 0 {
			e.localSeqNo = entry.SenderSeqNo
			e.msgCount++
			e.markIntroducedLocked(msg)
		} else {
			e.matrix.RecordObservation(peer.PeerID, entry.SenderSeqNo)
		}
	}
	return nil
}
