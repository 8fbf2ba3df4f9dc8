package core

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/jabolina/go-scribe/pkg/scribe/scribeerr"
	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

// Codec translates between in-memory operations (carrying full PeerIDs) and
// wire records (carrying compact per-sender peer indices), and frames
// messages into a deterministic binary encoding. It holds a reference to
// the owning engine's PeerMatrix for index translation, per the
// "Engine value + Codec value" redesign flagged in the specification
// (replacing a mixin that attached codec behavior directly to the engine).
type Codec struct {
	matrix *PeerMatrix
}

// NewCodec builds a Codec bound to matrix.
func NewCodec(matrix *PeerMatrix) *Codec {
	return &Codec{matrix: matrix}
}

const (
	tagClockUpdate  byte = 0
	tagSchemaUpdate byte = 1
	tagInsert       byte = 2
	tagDelete       byte = 3
	tagPutCursor    byte = 4
)

// EncodeMessage serializes msg to its deterministic binary wire form. The
// OriginPeerID and MsgCount fields are not part of the wire format (§6):
// the former travels out-of-band as the transport's sender identity, the
// latter is local bookkeeping.
func (c *Codec) EncodeMessage(msg types.Message) ([]byte, error) {
	var buf bytes.Buffer

	if err := c.encodeItemID(&buf, msg.SchemaID); err != nil {
		return nil, err
	}
	writeInt64(&buf, msg.Timestamp)
	writeUint32(&buf, uint32(len(msg.Operations)))

	for _, op := range msg.Operations {
		if err := c.encodeOperation(&buf, op); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (c *Codec) encodeOperation(buf *bytes.Buffer, op types.Operation) error {
	switch op.Kind {
	case types.OpClockUpdate:
		buf.WriteByte(tagClockUpdate)
		return c.encodeClockUpdate(buf, op.ClockUpdate)
	case types.OpSchemaUpdate:
		buf.WriteByte(tagSchemaUpdate)
		return c.encodeSchemaUpdate(buf, op.SchemaUpdate)
	case types.OpInsert:
		buf.WriteByte(tagInsert)
		return c.encodeInsert(buf, op.Insert)
	case types.OpDelete:
		buf.WriteByte(tagDelete)
		return c.encodeDelete(buf, op.Delete)
	case types.OpPutCursor:
		buf.WriteByte(tagPutCursor)
		return c.encodePutCursor(buf, op.PutCursor)
	default:
		return scribeerr.New(scribeerr.UnknownOperationVariant, "encode: unknown operation kind")
	}
}

func (c *Codec) encodeClockUpdate(buf *bytes.Buffer, update *types.ClockUpdate) error {
	writeUint64(buf, update.NextTS)
	entries := make([]types.PeerClockUpdateEntry, len(update.Entries))
	copy(entries, update.Entries)
	sortEntriesByPeerIndex(entries)

	writeUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		if e.HasPeerID {
			buf.WriteByte(1)
			buf.Write(e.PeerID[:])
		} else {
			buf.WriteByte(0)
		}
		writeUint64(buf, e.PeerIndex)
		writeUint64(buf, e.LastSeqNo)
	}
	return nil
}

func (c *Codec) encodeSchemaUpdate(buf *bytes.Buffer, update *types.SchemaUpdate) error {
	if err := c.encodeItemID(buf, update.ID); err != nil {
		return err
	}
	writeUint32(buf, uint32(len(update.Schema)))
	buf.Write(update.Schema)
	return nil
}

func (c *Codec) encodeInsert(buf *bytes.Buffer, op *types.InsertOp) error {
	if err := c.encodeOptionalItemID(buf, op.ReferenceID); err != nil {
		return err
	}
	if err := c.encodeItemID(buf, op.NewID); err != nil {
		return err
	}
	writeInt32(buf, int32(op.Value))
	writeBool(buf, op.IsSetCursor)
	return nil
}

func (c *Codec) encodeDelete(buf *bytes.Buffer, op *types.DeleteOp) error {
	if err := c.encodeItemID(buf, op.DeleteID); err != nil {
		return err
	}
	if err := c.encodeItemID(buf, op.DeleteTS); err != nil {
		return err
	}
	writeBool(buf, op.IsDeleteCharacter)
	return nil
}

func (c *Codec) encodePutCursor(buf *bytes.Buffer, op *types.PutCursorOp) error {
	idx := c.matrix.PeerIDToIndex(op.Key)
	writeUint64(buf, idx)
	writeUint64(buf, op.Value)
	return c.encodeItemID(buf, op.UpdateTS)
}

// encodeItemID writes (logicalTS, peerIndex), translating id.PeerID to the
// local matrix's index for it (assigning one if this is the first time the
// local engine references that peer).
func (c *Codec) encodeItemID(buf *bytes.Buffer, id types.ItemID) error {
	writeUint64(buf, id.LogicalTS)
	writeUint64(buf, c.matrix.PeerIDToIndex(id.PeerID))
	return nil
}

// encodeOptionalItemID writes a presence byte followed by the ItemID when
// present, used for InsertOp.ReferenceID which may be "none" (head of
// list).
func (c *Codec) encodeOptionalItemID(buf *bytes.Buffer, id types.ItemID) error {
	if id.IsZero() {
		buf.WriteByte(0)
		return nil
	}
	buf.WriteByte(1)
	return c.encodeItemID(buf, id)
}

// DecodeMessage parses data, sent by origin, into a Message. Per §4.3,
// decoding is single-pass: ClockUpdate operations register their peer-index
// mappings on c.matrix immediately, before any later operation in the same
// message is decoded, since those later operations may reference indices
// the ClockUpdate just introduced.
func (c *Codec) DecodeMessage(origin types.PeerID, data []byte) (types.Message, error) {
	// The sender always denotes itself as wire index 0 without needing an
	// explicit ClockUpdate entry for it: the transport already tells us
	// who sent this, so that mapping can never be ambiguous.
	if err := c.matrix.PeerIndexMapping(origin, true, origin, 0); err != nil {
		return types.Message{}, err
	}

	r := bytes.NewReader(data)

	schemaID, err := c.decodeItemID(r, origin)
	if err != nil {
		return types.Message{}, err
	}
	timestamp, err := readInt64(r)
	if err != nil {
		return types.Message{}, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: timestamp")
	}
	count, err := readUint32(r)
	if err != nil {
		return types.Message{}, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: operation count")
	}

	msg := types.Message{
		OriginPeerID: origin,
		SchemaID:     schemaID,
		Timestamp:    timestamp,
		Operations:   make([]types.Operation, 0, count),
	}

	for i := uint32(0); i < count; i++ {
		op, err := c.decodeOperation(r, origin)
		if err != nil {
			return types.Message{}, err
		}
		msg.Operations = append(msg.Operations, op)
	}

	return msg, nil
}

func (c *Codec) decodeOperation(r *bytes.Reader, origin types.PeerID) (types.Operation, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return types.Operation{}, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: operation tag")
	}

	switch tag {
	case tagClockUpdate:
		update, err := c.decodeClockUpdate(r, origin)
		if err != nil {
			return types.Operation{}, err
		}
		return types.Operation{Kind: types.OpClockUpdate, ClockUpdate: update}, nil
	case tagSchemaUpdate:
		update, err := c.decodeSchemaUpdate(r, origin)
		if err != nil {
			return types.Operation{}, err
		}
		return types.Operation{Kind: types.OpSchemaUpdate, SchemaUpdate: update}, nil
	case tagInsert:
		op, err := c.decodeInsert(r, origin)
		if err != nil {
			return types.Operation{}, err
		}
		return types.Operation{Kind: types.OpInsert, Insert: op}, nil
	case tagDelete:
		op, err := c.decodeDelete(r, origin)
		if err != nil {
			return types.Operation{}, err
		}
		return types.Operation{Kind: types.OpDelete, Delete: op}, nil
	case tagPutCursor:
		op, err := c.decodePutCursor(r, origin)
		if err != nil {
			return types.Operation{}, err
		}
		return types.Operation{Kind: types.OpPutCursor, PutCursor: op}, nil
	default:
		return types.Operation{}, scribeerr.New(scribeerr.UnknownOperationVariant, "decode: unrecognized operation tag")
	}
}

func (c *Codec) decodeClockUpdate(r *bytes.Reader, origin types.PeerID) (*types.ClockUpdate, error) {
	nextTS, err := readUint64(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ClockRegression, err, "decode: clock update nextTS")
	}
	count, err := readUint32(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ClockRegression, err, "decode: clock update entry count")
	}

	entries := make([]types.PeerClockUpdateEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		hasPeerIDByte, err := r.ReadByte()
		if err != nil {
			return nil, scribeerr.Wrap(scribeerr.UnknownPeerIndex, err, "decode: clock update entry presence")
		}
		hasPeerID := hasPeerIDByte == 1

		var peerID types.PeerID
		if hasPeerID {
			if _, err := io.ReadFull(r, peerID[:]); err != nil {
				return nil, scribeerr.Wrap(scribeerr.UnknownPeerIndex, err, "decode: clock update peer id")
			}
		}

		peerIndex, err := readUint64(r)
		if err != nil {
			return nil, scribeerr.Wrap(scribeerr.UnknownPeerIndex, err, "decode: clock update peer index")
		}
		lastSeqNo, err := readUint64(r)
		if err != nil {
			return nil, scribeerr.Wrap(scribeerr.ClockRegression, err, "decode: clock update last seq no")
		}

		// Register the mapping immediately, before any later
		// operation in this message is decoded (§4.3 step 3).
		if err := c.matrix.PeerIndexMapping(origin, hasPeerID, peerID, peerIndex); err != nil {
			return nil, err
		}
		if !hasPeerID {
			// Resolve for in-memory convenience even though the
			// wire form omitted it: the mapping above (or an
			// earlier message) already taught the matrix this
			// index.
			resolved, err := c.matrix.RemoteIndexToPeerID(origin, peerIndex)
			if err != nil {
				return nil, err
			}
			peerID = resolved
		}

		entries = append(entries, types.PeerClockUpdateEntry{
			PeerID:    peerID,
			HasPeerID: hasPeerID,
			PeerIndex: peerIndex,
			LastSeqNo: lastSeqNo,
		})
	}

	return &types.ClockUpdate{NextTS: nextTS, Entries: entries}, nil
}

func (c *Codec) decodeSchemaUpdate(r *bytes.Reader, origin types.PeerID) (*types.SchemaUpdate, error) {
	id, err := c.decodeItemID(r, origin)
	if err != nil {
		return nil, err
	}
	length, err := readUint32(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: schema length")
	}
	schema := make([]byte, length)
	if _, err := io.ReadFull(r, schema); err != nil {
		return nil, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: schema bytes")
	}
	return &types.SchemaUpdate{ID: id, Schema: schema}, nil
}

func (c *Codec) decodeInsert(r *bytes.Reader, origin types.PeerID) (*types.InsertOp, error) {
	reference, err := c.decodeOptionalItemID(r, origin)
	if err != nil {
		return nil, err
	}
	newID, err := c.decodeItemID(r, origin)
	if err != nil {
		return nil, err
	}
	value, err := readInt32(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: insert value")
	}
	isSetCursor, err := readBool(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: insert placeholder")
	}
	return &types.InsertOp{ReferenceID: reference, NewID: newID, Value: rune(value), IsSetCursor: isSetCursor}, nil
}

func (c *Codec) decodeDelete(r *bytes.Reader, origin types.PeerID) (*types.DeleteOp, error) {
	deleteID, err := c.decodeItemID(r, origin)
	if err != nil {
		return nil, err
	}
	deleteTS, err := c.decodeItemID(r, origin)
	if err != nil {
		return nil, err
	}
	isDeleteCharacter, err := readBool(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: delete placeholder")
	}
	return &types.DeleteOp{DeleteID: deleteID, DeleteTS: deleteTS, IsDeleteCharacter: isDeleteCharacter}, nil
}

func (c *Codec) decodePutCursor(r *bytes.Reader, origin types.PeerID) (*types.PutCursorOp, error) {
	peerIndex, err := readUint64(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.UnknownPeerIndex, err, "decode: put cursor key index")
	}
	key, err := c.matrix.RemoteIndexToPeerID(origin, peerIndex)
	if err != nil {
		return nil, err
	}
	value, err := readUint64(r)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: put cursor value")
	}
	updateTS, err := c.decodeItemID(r, origin)
	if err != nil {
		return nil, err
	}
	return &types.PutCursorOp{Key: key, Value: value, UpdateTS: updateTS}, nil
}

func (c *Codec) decodeItemID(r *bytes.Reader, origin types.PeerID) (types.ItemID, error) {
	logicalTS, err := readUint64(r)
	if err != nil {
		return types.ItemID{}, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: item id timestamp")
	}
	peerIndex, err := readUint64(r)
	if err != nil {
		return types.ItemID{}, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: item id peer index")
	}
	peerID, err := c.matrix.RemoteIndexToPeerID(origin, peerIndex)
	if err != nil {
		return types.ItemID{}, err
	}
	return types.ItemID{LogicalTS: logicalTS, PeerID: peerID}, nil
}

func (c *Codec) decodeOptionalItemID(r *bytes.Reader, origin types.PeerID) (types.ItemID, error) {
	present, err := r.ReadByte()
	if err != nil {
		return types.ItemID{}, scribeerr.Wrap(scribeerr.UnknownOperationVariant, err, "decode: optional item id presence")
	}
	if present == 0 {
		return types.ZeroItemID, nil
	}
	return c.decodeItemID(r, origin)
}

func sortEntriesByPeerIndex(entries []types.PeerClockUpdateEntry) {
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && entries[j-1].PeerIndex > entries[j].PeerIndex {
			entries[j-1], entries[j] = entries[j], entries[j-1]
			j--
		}
	}
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	writeUint32(buf, uint32(v))
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b == 1, nil
}
