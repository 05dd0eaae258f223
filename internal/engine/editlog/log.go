package editlog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrVersionOrder is returned when an appended edit does not advance the
// log's version.
var ErrVersionOrder = errors.New("edit version not after log tail")

// Log is an append-only sequence of edits ordered by version.
// A Log is not safe for concurrent use; callers guard it.
type Log struct {
	edits []Edit
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds e at the tail.
func (l *Log) Append(e Edit) error {
	if n := len(l.edits); n > 0 && e.Version <= l.edits[n-1].Version {
		return fmt.Errorf("%w: v%d after v%d", ErrVersionOrder, e.Version, l.edits[n-1].Version)
	}
	l.edits = append(l.edits, e)
	return nil
}

// Len returns the number of retained edits.
func (l *Log) Len() int {
	return len(l.edits)
}

// First returns the oldest retained edit.
func (l *Log) First() (Edit, bool) {
	if len(l.edits) == 0 {
		return Edit{}, false
	}
	return l.edits[0], true
}

// Last returns the newest edit.
func (l *Log) Last() (Edit, bool) {
	if len(l.edits) == 0 {
		return Edit{}, false
	}
	return l.edits[len(l.edits)-1], true
}

// Since returns a copy of every edit with version > v, oldest first.
func (l *Log) Since(v uint64) []Edit {
	i := l.after(v)
	out := make([]Edit, len(l.edits)-i)
	copy(out, l.edits[i:])
	return out
}

// Between returns a copy of every edit with version in (from, to].
func (l *Log) Between(from, to uint64) []Edit {
	if to <= from {
		return nil
	}
	i, j := l.after(from), l.after(to)
	out := make([]Edit, j-i)
	copy(out, l.edits[i:j])
	return out
}

// PruneThrough drops every edit with version <= v and returns how many
// were removed.
func (l *Log) PruneThrough(v uint64) int {
	return l.dropHead(l.after(v))
}

// PruneBefore drops every edit with version < v and returns how many were
// removed. The edit stamped v itself is kept.
func (l *Log) PruneBefore(v uint64) int {
	if v == 0 {
		return 0
	}
	return l.PruneThrough(v - 1)
}

// TrimTo keeps only the newest keep edits and returns how many were removed.
// A negative keep is treated as zero.
func (l *Log) TrimTo(keep int) int {
	if keep < 0 {
		keep = 0
	}
	if len(l.edits) <= keep {
		return 0
	}
	return l.dropHead(len(l.edits) - keep)
}

// after returns the index of the first edit with version > v.
func (l *Log) after(v uint64) int {
	return sort.Search(len(l.edits), func(i int) bool {
		return l.edits[i].Version > v
	})
}

// dropHead removes the first n edits. The tail is copied into a fresh
// slice so the pruned prefix can be collected.
func (l *Log) dropHead(n int) int {
	if n <= 0 {
		return 0
	}
	rest := make([]Edit, len(l.edits)-n)
	copy(rest, l.edits[n:])
	l.edits = rest
	return n
}
