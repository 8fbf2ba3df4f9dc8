package types

// OrderedListItem is one slot of the RGA-ordered sequence. Value is nil iff
// DeleteTS is set (a tombstone). ID never changes once assigned; ReferenceID
// records the ItemID this item was inserted immediately after, at the time
// of insertion, and is retained because the RGA integration algorithm needs
// it to correctly place later concurrent inserts against the same
// reference.
type OrderedListItem struct {
	ID          ItemID
	ReferenceID ItemID // ZeroItemID means "inserted at the head"
	Value       *rune
	DeleteTS    ItemID // ZeroItemID means "not deleted"
}

func (item OrderedListItem) Deleted() bool {
	return !item.DeleteTS.IsZero()
}
