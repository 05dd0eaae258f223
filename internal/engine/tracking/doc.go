// Package tracking provides the version clock and the active-cursor
// registry a virtual buffer uses to decide how much edit history to keep.
//
// # Core Components
//
//   - [Clock]: a lock-free monotonic counter, one tick per successful mutation
//   - [Registry]: a reference-counted multiset of the versions live cursors
//     were last reconciled to
//
// # Low-Water Mark
//
// The smallest version held in the registry is the low-water mark. Edits at
// or below it are no longer needed by any cursor and may be pruned:
//
//	clock := &tracking.Clock{}
//	reg := tracking.NewRegistry()
//
//	reg.Add(clock.Current())      // cursor created at v0
//	v := clock.Tick()             // mutation claims v1
//	reg.Move(0, v)                // cursor reconciled to v1
//	mark, ok := reg.Min()         // 1, true
//
// Several cursors may share a version, so entries are counted rather than
// stored once; removing one cursor leaves its siblings' entries in place.
//
// # Thread Safety
//
// Clock is safe for concurrent use without locking. Registry guards its
// state with an internal mutex.
package tracking
