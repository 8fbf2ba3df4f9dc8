// Package scribe is the public entry point of THE CORE: construct a Peer
// for a channel, feed it local edits and inbound wire messages, and persist
// its state between runs. Everything CRDT-specific lives in pkg/scribe/core;
// this package only wires together sane defaults (a logrus logger, a
// no-op sealer) for callers that don't need to override them.
package scribe

import (
	"encoding/json"

	"github.com/jabolina/go-scribe/pkg/scribe/core"
	"github.com/jabolina/go-scribe/pkg/scribe/definition"
	"github.com/jabolina/go-scribe/pkg/scribe/scribeerr"
	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

// Peer is the handle an application holds: one engine, one channel, one
// identity.
type Peer = core.Engine

// Sealer is re-exported so callers configuring a real symmetric-encryption
// boundary don't need to import pkg/scribe/core directly.
type Sealer = core.Sealer

// Configuration bundles everything NewPeer needs beyond identity.
type Configuration struct {
	ChannelID types.ChannelID
	Schema    []byte
	Logger    definition.Logger
	Sealer    Sealer
}

// DefaultConfiguration returns a Configuration for a brand-new channel: a
// fresh random ChannelID, an empty schema, a logrus-backed logger tagged
// with peer and channel, and the identity (no-op) sealer.
func DefaultConfiguration(peerID types.PeerID) (Configuration, error) {
	channelID, err := types.NewChannelID()
	if err != nil {
		return Configuration{}, err
	}
	return Configuration{
		ChannelID: channelID,
		Schema:    nil,
		Logger:    definition.NewDefaultLogger(peerID.String(), channelID.String()),
		Sealer:    core.NoopSealer{},
	}, nil
}

// NewPeer constructs a brand-new Peer for self, configured by cfg.
func NewPeer(self types.PeerID, cfg Configuration) *Peer {
	logger := cfg.Logger
	if logger == nil {
		logger = definition.NewDefaultLogger(self.String(), cfg.ChannelID.String())
	}
	return core.NewPeer(self, cfg.ChannelID, cfg.Schema, logger, cfg.Sealer)
}

// Save serializes peer's durable state to bytes (JSON: this is ambient
// bookkeeping persistence, distinct from the deterministic binary wire
// format EncodeMessage/ReceiveMessage use for inter-peer messages).
func Save(peer *Peer) ([]byte, error) {
	state := peer.Save()
	data, err := json.Marshal(state)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.Unknown, err, "marshaling peer state")
	}
	return data, nil
}

// Load reconstructs a Peer from bytes previously produced by Save, replaying
// its message log to deterministically rebuild the CRDT state.
func Load(self types.PeerID, data []byte, schema []byte, logger definition.Logger, sealer Sealer) (*Peer, error) {
	var state types.PeerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, scribeerr.Wrap(scribeerr.Unknown, err, "unmarshaling peer state")
	}
	return core.Load(self, state, schema, logger, sealer)
}
