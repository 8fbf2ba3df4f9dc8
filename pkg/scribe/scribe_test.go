package scribe

import (
	"testing"

	"github.com/jabolina/go-scribe/pkg/scribe/definition"
	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

// Test_SaveLoad_RoundTripsThroughJSON exercises the public Save/Load path
// end to end, including a cursor entry: PeerState.Data.Cursors is keyed by
// PeerID, and PeerID must marshal as a JSON object key or this fails with
// "unsupported map key type" before Load is ever reached.
func Test_SaveLoad_RoundTripsThroughJSON(t *testing.T) {
	self, err := types.NewPeerID()
	if err != nil {
		t.Fatalf("generating peer id: %v", err)
	}

	cfg, err := DefaultConfiguration(self)
	if err != nil {
		t.Fatalf("unexpected error building default configuration: %v", err)
	}
	cfg.Logger = definition.NoopLogger{}
	cfg.Schema = []byte("text")

	peer := NewPeer(self, cfg)
	peer.InsertChar(0, 'h')
	peer.InsertChar(1, 'i')
	peer.SetCursor(2)
	if _, err := peer.EncodeMessage(); err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	data, err := Save(peer)
	if err != nil {
		t.Fatalf("unexpected error saving peer: %v", err)
	}

	restored, err := Load(self, data, cfg.Schema, definition.NoopLogger{}, nil)
	if err != nil {
		t.Fatalf("unexpected error loading peer: %v", err)
	}

	if restored.Document() != peer.Document() {
		t.Fatalf("document mismatch after reload: got %q want %q", restored.Document(), peer.Document())
	}
	gotCursor, ok := restored.CursorOf(self)
	if !ok || gotCursor != 2 {
		t.Fatalf("expected restored cursor 2, got %d (ok=%v)", gotCursor, ok)
	}
}
