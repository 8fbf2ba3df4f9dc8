package core

import (
	"sync"

	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

// CursorMap is a map keyed by PeerID with last-writer-wins register values:
// each peer's cursor position, along with the ItemID that ordered the
// write producing it. A write wins over a prior write iff its UpdateTS
// compares greater than the previous one. In the single-writer-per-key
// usage (each peer only ever writes its own entry) conflicts never arise,
// but the general merge rule below is what makes that safe under
// concurrent delivery of PutCursor operations for the same key.
type CursorMap struct {
	mutex   sync.RWMutex
	entries map[types.PeerID]types.CursorEntry
}

// NewCursorMap creates an empty cursor map.
func NewCursorMap() *CursorMap {
	return &CursorMap{entries: map[types.PeerID]types.CursorEntry{}}
}

// Put applies a PutCursor(key, value) write with the given UpdateTS,
// keeping whichever of the new and existing entry has the greater
// UpdateTS.
func (c *CursorMap) Put(key types.PeerID, value uint64, updateTS types.ItemID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	existing, ok := c.entries[key]
	if ok && !updateTS.Greater(existing.UpdateTS) {
		return
	}
	c.entries[key] = types.CursorEntry{Value: value, UpdateTS: updateTS}
}

// Get returns the cursor position for key, and whether one is recorded.
func (c *CursorMap) Get(key types.PeerID) (uint64, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, ok := c.entries[key]
	return entry.Value, ok
}

// Snapshot returns a copy of the map content, for persistence.
func (c *CursorMap) Snapshot() map[types.PeerID]types.CursorEntry {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make(map[types.PeerID]types.CursorEntry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Restore replaces the map content wholesale, as done when loading a
// persisted PeerState.
func (c *CursorMap) Restore(entries map[types.PeerID]types.CursorEntry) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[types.PeerID]types.CursorEntry, len(entries))
	for k, v := range entries {
		c.entries[k] = v
	}
}
