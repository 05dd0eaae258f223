// Package editlog records version-stamped buffer mutations so that
// positions taken at an older version can be translated to the current one.
//
// Edits are appended in strictly increasing version order, which lets
// lookups and pruning use binary search. The log is truncated only from
// the head.
package editlog

import "fmt"

// Kind is the type of a recorded mutation.
type Kind uint8

const (
	Insert Kind = iota // bytes were inserted
	Delete             // bytes were removed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Edit is an immutable record of one successful mutation.
type Edit struct {
	Version uint64
	Kind    Kind
	Offset  int64
	Len     int64
}

// NewInsert records n bytes inserted at offset.
func NewInsert(version uint64, offset, n int64) Edit {
	return Edit{Version: version, Kind: Insert, Offset: offset, Len: n}
}

// NewDelete records n bytes removed starting at offset.
func NewDelete(version uint64, offset, n int64) Edit {
	return Edit{Version: version, Kind: Delete, Offset: offset, Len: n}
}

// String returns a human-readable representation of the edit.
func (e Edit) String() string {
	return fmt.Sprintf("v%d %s(%d, %d)", e.Version, e.Kind, e.Offset, e.Len)
}

// Transform maps a position taken before e to the position after it.
//
// An edit whose offset equals pos is treated as happening before pos: an
// insertion at pos moves pos past the inserted bytes, and a deletion
// starting at pos pulls pos back by the deleted length. Edits after pos do
// not move it. Results saturate at zero.
func (e Edit) Transform(pos int64) int64 {
	if e.Offset > pos {
		return pos
	}
	switch e.Kind {
	case Insert:
		return pos + e.Len
	case Delete:
		if e.Len >= pos {
			return 0
		}
		return pos - e.Len
	}
	return pos
}

// Transform replays edits over pos in order.
func Transform(pos int64, edits []Edit) int64 {
	for _, e := range edits {
		pos = e.Transform(pos)
	}
	return pos
}
