// Package vbuf provides a mutable byte buffer backed by a pluggable
// persist.Store, fronted by a read cache, and traversable by byte cursors
// that stay coherent while the buffer is being edited.
//
// Basic usage:
//
//	buf := vbuf.New(persist.NewMemoryStoreString("hello world"))
//	defer buf.Close()
//
//	cur := buf.IterAt(6)           // on 'w'
//	defer cur.Close()
//
//	buf.Insert(5, []byte(" beautiful"))
//	b, _ := cur.Next()             // 'w': the cursor moved to 16 first
//
// # Consistency
//
// Every successful mutation runs in one exclusive critical section that
// writes the store, clears the cache, claims the next version from the
// clock and appends an edit record to the log. Version order therefore
// equals the order in which mutations reached the store. A failed store
// write consumes no version and records nothing.
//
// Cursors remember the version they were last reconciled to. Before each
// navigation a cursor replays the edits recorded since then over its
// position (see editlog.Edit.Transform) and moves its registry entry to the
// current version. Reads and reconciliations share the critical section
// with each other but never overlap a mutation.
//
// # History
//
// After each mutation the log is pruned through the oldest version any
// live cursor still holds. When no cursor is live, edits recorded since the
// last cursor was released are retained, optionally capped with
// WithMaxRetainedEdits.
//
// # Ownership
//
// Buffer handles returned by Clone and every live cursor share one
// underlying state. The store is closed (if it implements io.Closer) when
// the last handle and the last cursor have been closed or collected.
package vbuf
