// Package textdoc is a thin convenience layer over an Engine for the
// specification's worked example application: a plain-text document edited
// by characters. Nothing here is part of THE CORE; it exists because every
// caller of InsertChar/DeleteChar ends up writing the same loop to apply a
// whole string or range, so it is written once here instead of in every
// caller.
package textdoc

import "github.com/jabolina/go-scribe/pkg/scribe/core"

// InsertString inserts s into peer's document starting at visibleIndex, one
// InsertChar call per rune so each character gets its own ItemID and
// participates independently in concurrent merges (inserting it as a single
// multi-rune operation would make the whole string atomic, contradicting
// the per-character granularity the ordered-list CRDT assumes).
func InsertString(peer *core.Engine, visibleIndex int, s string) {
	i := visibleIndex
	for _, r := range s {
		peer.InsertChar(i, r)
		i++
	}
}

// DeleteRange tombstones the count characters starting at visibleIndex.
// Every call targets the same visibleIndex: once a character there is
// tombstoned, the next visible character shifts down into that position, so
// repeating the same index deletes a contiguous run.
func DeleteRange(peer *core.Engine, visibleIndex int, count int) int {
	deleted := 0
	for i := 0; i < count; i++ {
		if !peer.DeleteChar(visibleIndex) {
			break
		}
		deleted++
	}
	return deleted
}
