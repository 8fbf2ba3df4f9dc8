package core

import (
	"sync"

	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

// OrderedList is the RGA-ordered-list CRDT: a deterministically linearized
// sequence of items, each carrying the ItemID of its insertion-time left
// neighbor. Tombstones are retained forever (no garbage collection is a
// stated non-goal).
type OrderedList struct {
	mutex sync.RWMutex
	items []types.OrderedListItem
	index map[types.ItemID]int // ItemID -> position in items
}

// NewOrderedList creates an empty list.
func NewOrderedList() *OrderedList {
	return &OrderedList{index: map[types.ItemID]int{}}
}

// Insert applies the RGA integration algorithm for a new item identified by
// newID, inserted immediately after referenceID (or at the head if
// referenceID is zero), carrying value.
//
// Algorithm (verbatim from the specification): locate the position just
// after referenceID (or position 0 for head); then, while the item
// currently at that position has a strictly greater ID (descending compare)
// AND that item's own reference compares <= referenceID, advance one
// position. This skips over items inserted, concurrently, against the same
// or an earlier reference, that must sort ahead of newID.
func (l *OrderedList) Insert(referenceID, newID types.ItemID, value rune) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	pos := 0
	if !referenceID.IsZero() {
		refPos, ok := l.index[referenceID]
		if !ok {
			// Reference missing: the caller (engine) is responsible
			// for causal buffering, so this should not happen for
			// ready messages. Insert at head defensively.
			pos = 0
		} else {
			pos = refPos + 1
		}
	}

	for pos < len(l.items) {
		candidate := l.items[pos]
		if candidate.ID.Greater(newID) && candidate.ReferenceID.LessOrEqual(referenceID) {
			pos++
			continue
		}
		break
	}

	v := value
	item := types.OrderedListItem{ID: newID, ReferenceID: referenceID, Value: &v}
	l.insertAtLocked(pos, item)
}

func (l *OrderedList) insertAtLocked(pos int, item types.OrderedListItem) {
	l.items = append(l.items, types.OrderedListItem{})
	copy(l.items[pos+1:], l.items[pos:])
	l.items[pos] = item
	for i := pos; i < len(l.items); i++ {
		l.index[l.items[i].ID] = i
	}
}

// Delete tombstones the item identified by deleteID, recording deleteTS.
// Idempotent: if the item is already deleted, the tombstone with the lower
// (LogicalTS, PeerID) wins, so replaying the same or a different deletion
// twice never regresses the recorded tombstone.
func (l *OrderedList) Delete(deleteID, deleteTS types.ItemID) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	pos, ok := l.index[deleteID]
	if !ok {
		return false
	}
	item := l.items[pos]
	if item.Deleted() {
		if deleteTS.Less(item.DeleteTS) {
			item.DeleteTS = deleteTS
			l.items[pos] = item
		}
		return true
	}
	item.DeleteTS = deleteTS
	item.Value = nil
	l.items[pos] = item
	return true
}

// VisibleIndexToReference returns the ItemID of the visible predecessor of
// visibleIndex (i.e. the reference a local insert at that position should
// use), or the zero ItemID if visibleIndex is 0 (insert at head).
func (l *OrderedList) VisibleIndexToReference(visibleIndex int) types.ItemID {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if visibleIndex <= 0 {
		return types.ZeroItemID
	}
	seen := 0
	for _, item := range l.items {
		if item.Deleted() {
			continue
		}
		seen++
		if seen == visibleIndex {
			return item.ID
		}
	}
	return types.ZeroItemID
}

// VisibleIndexToItemID returns the ItemID of the item currently at
// visibleIndex in the visible (non-tombstoned) document, used by
// delete_at. ok is false if visibleIndex is out of range.
func (l *OrderedList) VisibleIndexToItemID(visibleIndex int) (types.ItemID, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	seen := -1
	for _, item := range l.items {
		if item.Deleted() {
			continue
		}
		seen++
		if seen == visibleIndex {
			return item.ID, true
		}
	}
	return types.ItemID{}, false
}

// Document returns the current visible text: tombstoned items are skipped.
func (l *OrderedList) Document() string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	runes := make([]rune, 0, len(l.items))
	for _, item := range l.items {
		if item.Deleted() {
			continue
		}
		runes = append(runes, *item.Value)
	}
	return string(runes)
}

// Len returns the number of items in storage, tombstones included. Used to
// verify the tombstone-persistence invariant (list length only grows).
func (l *OrderedList) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.items)
}

// Snapshot returns a copy of the item slice, for persistence.
func (l *OrderedList) Snapshot() []types.OrderedListItem {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make([]types.OrderedListItem, len(l.items))
	copy(out, l.items)
	return out
}

// Restore replaces the list content wholesale with a previously persisted
// snapshot, as done when loading a PeerState. Items must already be in
// linearized order (as Snapshot produces them).
func (l *OrderedList) Restore(items []types.OrderedListItem) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.items = make([]types.OrderedListItem, len(items))
	copy(l.items, items)
	l.index = make(map[types.ItemID]int, len(items))
	for i, item := range l.items {
		l.index[item.ID] = i
	}
}

// Has reports whether id is present in storage (inserted, tombstoned or
// not).
func (l *OrderedList) Has(id types.ItemID) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	_, ok := l.index[id]
	return ok
}
