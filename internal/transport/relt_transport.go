// Package transport is the ambient adapter between an Engine and the wire:
// it owns the actual network connection and hands sealed message bytes to
// ReceiveMessage, and takes sealed bytes from EncodeMessage out onto the
// network. THE CORE never imports this package; this package imports THE
// CORE only for the types it needs to shape a Delivery.
//
// Grounded on the teacher's pkg/mcast/core/transport.go ReliableTransport:
// same relt-backed broadcast/poll/consume shape, generalized from
// partition-addressed unicast/broadcast to single shared-channel broadcast
// (the specification's relay server is a star topology, not a partition
// mesh), and carrying sealed binary payloads instead of JSON-marshaled
// protocol messages.
package transport

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/jabolina/go-scribe/pkg/scribe/definition"
	"github.com/jabolina/go-scribe/pkg/scribe/scribeerr"
	"github.com/jabolina/go-scribe/pkg/scribe/types"
	"github.com/jabolina/relt/pkg/relt"
)

// parsePeerID decodes the hex string a relt group member name carries back
// into a PeerID, the reverse of PeerID.String(). Every member name on a
// scribe channel is a peer's own String() form, since NewReltTransport sets
// conf.Name to self.String().
func parsePeerID(s string) (types.PeerID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return types.PeerID{}, scribeerr.Wrap(scribeerr.Unknown, err, "decoding peer id from transport origin")
	}
	var id types.PeerID
	if len(raw) != len(id) {
		return types.PeerID{}, scribeerr.New(scribeerr.Unknown, "transport origin has wrong length for a peer id")
	}
	copy(id[:], raw)
	return id, nil
}

// Delivery is one inbound sealed message, tagged with the sender's identity
// and the transport's own delivery sequence number for that sender (used by
// Engine.ReceiveMessage's out-of-order check).
type Delivery struct {
	Origin types.PeerID
	SeqNo  uint64
	Sealed []byte
}

// Transport is the minimal surface an Engine's owner needs: broadcast a
// sealed message to every peer on the channel, and listen for deliveries.
type Transport interface {
	Broadcast(sealed []byte) error
	Listen() <-chan Delivery
	Close() error
}

// ReltTransport implements Transport over a single relt group address per
// channel, exactly as the teacher addresses one relt group per partition.
type ReltTransport struct {
	log definition.Logger

	relt *relt.Relt

	self    types.PeerID
	channel types.ChannelID

	producer chan Delivery
	seqNo    map[types.PeerID]uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReltTransport opens a relt connection scoped to channel, publishing
// under self's own group address.
func NewReltTransport(self types.PeerID, channel types.ChannelID, log definition.Logger) (*ReltTransport, error) {
	conf := relt.DefaultReltConfiguration()
	conf.Name = self.String()
	conf.Exchange = relt.GroupAddress(channel.String())
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &ReltTransport{
		log:      log,
		relt:     r,
		self:     self,
		channel:  channel,
		producer: make(chan Delivery, 256),
		seqNo:    map[types.PeerID]uint64{},
		ctx:      ctx,
		cancel:   cancel,
	}
	go t.poll()
	return t, nil
}

// Broadcast sends a sealed message to every peer subscribed to the channel's
// group address. Ordering and reliability are whatever the underlying relt
// group delivers; THE CORE's causal-readiness buffering is what tolerates
// reordering, not this layer.
func (t *ReltTransport) Broadcast(sealed []byte) error {
	return t.relt.Broadcast(t.ctx, relt.Send{
		Address: relt.GroupAddress(t.channel.String()),
		Data:    sealed,
	})
}

// Listen returns the channel new deliveries are published on.
func (t *ReltTransport) Listen() <-chan Delivery {
	return t.producer
}

// Close tears down the underlying relt connection and stops the poll loop.
func (t *ReltTransport) Close() error {
	t.cancel()
	return t.relt.Close()
}

// poll drains the relt consumer loop until the transport is closed,
// publishing each raw delivery onto the producer channel after tagging it
// with a per-origin sequence number.
func (t *ReltTransport) poll() {
	listener, err := t.relt.Consume()
	if err != nil {
		t.log.Errorf("relt transport for %s failed to start consuming: %v", t.self.String(), err)
		return
	}
	for {
		select {
		case <-t.ctx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			t.consume(recv.Origin, recv.Data, recv.Error)
		}
	}
}

// consume turns one raw relt.Recv into a Delivery and publishes it, dropping
// it (with a log line, never silently) if the producer channel is full for
// too long.
func (t *ReltTransport) consume(origin string, data []byte, recvErr error) {
	if recvErr != nil {
		t.log.Errorf("relt transport for %s: delivery error from %s: %v", t.self.String(), origin, recvErr)
		return
	}
	if data == nil {
		t.log.Warnf("relt transport for %s: empty delivery from %s", t.self.String(), origin)
		return
	}

	peerID, err := parsePeerID(origin)
	if err != nil {
		t.log.Errorf("relt transport for %s: unparseable origin %q: %v", t.self.String(), origin, err)
		return
	}

	t.seqNo[peerID]++
	delivery := Delivery{Origin: peerID, SeqNo: t.seqNo[peerID], Sealed: data}

	timeout, cancel := context.WithTimeout(t.ctx, 250*time.Millisecond)
	defer cancel()
	select {
	case <-timeout.Done():
		t.log.Warnf("relt transport for %s: dropped delivery from %s, consumer too slow", t.self.String(), origin)
	case t.producer <- delivery:
	}
}
