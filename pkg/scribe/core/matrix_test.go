package core

import (
	"testing"

	"github.com/jabolina/go-scribe/pkg/scribe/scribeerr"
	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

func mustPeerID(t *testing.T) types.PeerID {
	t.Helper()
	id, err := types.NewPeerID()
	if err != nil {
		t.Fatalf("generating peer id: %v", err)
	}
	return id
}

func Test_NewPeerMatrix_SelfIsIndexZero(t *testing.T) {
	self := mustPeerID(t)
	m := NewPeerMatrix(self)

	if got := m.PeerIDToIndex(self); got != 0 {
		t.Fatalf("expected self at index 0, got %d", got)
	}
	if m.Len() != 1 {
		t.Fatalf("expected a single known peer, got %d", m.Len())
	}
}

func Test_PeerIDToIndex_AssignsDenseIndices(t *testing.T) {
	m := NewPeerMatrix(mustPeerID(t))
	a := mustPeerID(t)
	b := mustPeerID(t)

	if idx := m.PeerIDToIndex(a); idx != 1 {
		t.Fatalf("expected first new peer at index 1, got %d", idx)
	}
	if idx := m.PeerIDToIndex(b); idx != 2 {
		t.Fatalf("expected second new peer at index 2, got %d", idx)
	}
	// Re-querying the same peer must return the same index.
	if idx := m.PeerIDToIndex(a); idx != 1 {
		t.Fatalf("expected stable index for a, got %d", idx)
	}
}

func Test_PeerIndexMapping_UnknownIndexWithoutPeerID(t *testing.T) {
	m := NewPeerMatrix(mustPeerID(t))
	origin := mustPeerID(t)

	err := m.PeerIndexMapping(origin, false, types.PeerID{}, 3)
	if scribeerr.KindOf(err) != scribeerr.UnknownPeerIndex {
		t.Fatalf("expected UnknownPeerIndex, got %v", err)
	}
}

func Test_PeerIndexMapping_ThenRemoteIndexToPeerID(t *testing.T) {
	m := NewPeerMatrix(mustPeerID(t))
	origin := mustPeerID(t)
	subject := mustPeerID(t)

	if err := m.PeerIndexMapping(origin, true, subject, 7); err != nil {
		t.Fatalf("unexpected error introducing mapping: %v", err)
	}

	got, err := m.RemoteIndexToPeerID(origin, 7)
	if err != nil {
		t.Fatalf("unexpected error resolving mapping: %v", err)
	}
	if got != subject {
		t.Fatalf("resolved wrong peer id")
	}

	// A later update with hasSubject=false for the same index must now
	// succeed, since the mapping already exists.
	if err := m.PeerIndexMapping(origin, false, types.PeerID{}, 7); err != nil {
		t.Fatalf("unexpected error on known index: %v", err)
	}
}

func Test_ApplyClockUpdate_RejectsNextTSRegression(t *testing.T) {
	m := NewPeerMatrix(mustPeerID(t))
	origin := mustPeerID(t)

	if err := m.ApplyClockUpdate(origin, types.ClockUpdate{NextTS: 5}); err != nil {
		t.Fatalf("unexpected error on first update: %v", err)
	}
	err := m.ApplyClockUpdate(origin, types.ClockUpdate{NextTS: 5})
	if scribeerr.KindOf(err) != scribeerr.ClockRegression {
		t.Fatalf("expected ClockRegression, got %v", err)
	}
}

func Test_ApplyClockUpdate_RejectsLastSeqNoRegression(t *testing.T) {
	m := NewPeerMatrix(mustPeerID(t))
	origin := mustPeerID(t)
	subject := mustPeerID(t)

	first := types.ClockUpdate{
		NextTS: 2,
		Entries: []types.PeerClockUpdateEntry{
			{PeerID: subject, HasPeerID: true, PeerIndex: 1, LastSeqNo: 5},
		},
	}
	if err := m.ApplyClockUpdate(origin, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	regressed := types.ClockUpdate{
		NextTS: 3,
		Entries: []types.PeerClockUpdateEntry{
			{PeerID: subject, HasPeerID: true, PeerIndex: 1, LastSeqNo: 2},
		},
	}
	err := m.ApplyClockUpdate(origin, regressed)
	if scribeerr.KindOf(err) != scribeerr.ClockRegression {
		t.Fatalf("expected ClockRegression, got %v", err)
	}
}

func Test_CausallyReady(t *testing.T) {
	m := NewPeerMatrix(mustPeerID(t))
	a := mustPeerID(t)
	b := mustPeerID(t)

	applied := map[types.PeerID]uint64{a: 3, b: 1}
	lastApplied := func(p types.PeerID) uint64 { return applied[p] }

	ready := []types.PeerVClockEntry{{PeerID: a, LastSeqNo: 3}, {PeerID: b, LastSeqNo: 1}}
	if !m.CausallyReady(ready, lastApplied) {
		t.Fatalf("expected ready clock to be causally ready")
	}

	notReady := []types.PeerVClockEntry{{PeerID: a, LastSeqNo: 4}}
	if m.CausallyReady(notReady, lastApplied) {
		t.Fatalf("expected not-yet-applied dependency to block readiness")
	}
}

func Test_SelfObservedAndRecordObservation(t *testing.T) {
	m := NewPeerMatrix(mustPeerID(t))
	peer := mustPeerID(t)

	if got := m.SelfObserved(peer); got != 0 {
		t.Fatalf("expected 0 observed before any record, got %d", got)
	}

	m.RecordObservation(peer, 4)
	if got := m.SelfObserved(peer); got != 4 {
		t.Fatalf("expected 4 observed, got %d", got)
	}

	// A regression is ignored, not applied.
	m.RecordObservation(peer, 2)
	if got := m.SelfObserved(peer); got != 4 {
		t.Fatalf("expected observation to stay at 4 after a lower report, got %d", got)
	}
}

func Test_RestoreEntries_RejectsWrongSelf(t *testing.T) {
	self := mustPeerID(t)
	m := NewPeerMatrix(self)
	other := mustPeerID(t)

	err := m.RestoreEntries(self, []types.PeerEntry{{PeerID: other}})
	if scribeerr.KindOf(err) != scribeerr.IndexMismatch {
		t.Fatalf("expected IndexMismatch, got %v", err)
	}
}
