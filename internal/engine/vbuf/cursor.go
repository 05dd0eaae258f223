package vbuf

import (
	"runtime"
	"sync/atomic"

	"github.com/dshills/vbuf/internal/engine/editlog"
)

// ticket is a cursor's registry membership. It lives apart from the cursor
// so a collected cursor can still be deregistered.
type ticket struct {
	version  uint64 // version the cursor was last reconciled to
	released atomic.Bool
}

// Cursor is a bidirectional byte cursor over a Buffer.
//
// Before every navigation (Next, Prev, Peek, Seek, Position) the cursor
// replays the edits made since it last looked, so its position keeps
// referring to the same logical content. An edit at exactly the cursor's
// position counts as before it: an insertion there moves the cursor past
// the inserted bytes.
//
// A Cursor must not be used from multiple goroutines at once; distinct
// cursors may be used concurrently with each other and with mutations.
type Cursor struct {
	s       *state
	pos     int64
	ticket  *ticket
	cleanup runtime.Cleanup
	err     error

	// closedErr is reported by steps once the ticket is released.
	// Nil means ErrCursorClosed.
	closedErr error
}

// Next returns the byte at the cursor and advances past it.
// It reports false at the end of the buffer or on a read error (see Err).
func (c *Cursor) Next() (byte, bool) {
	if !c.begin() {
		return 0, false
	}
	s := c.s
	s.txn.RLock()
	defer s.txn.RUnlock()

	c.reconcileLocked()
	if c.pos < 0 || c.pos >= s.length() {
		return 0, false
	}

	b, err := s.byteAt(c.pos)
	if err != nil {
		c.err = err
		return 0, false
	}
	c.pos++
	return b, true
}

// Prev steps back one byte and returns it.
// It reports false at the start of the buffer or on a read error (see Err).
func (c *Cursor) Prev() (byte, bool) {
	if !c.begin() {
		return 0, false
	}
	s := c.s
	s.txn.RLock()
	defer s.txn.RUnlock()

	c.reconcileLocked()
	if c.pos <= 0 || c.pos > s.length() {
		return 0, false
	}

	b, err := s.byteAt(c.pos - 1)
	if err != nil {
		c.err = err
		return 0, false
	}
	c.pos--
	return b, true
}

// Peek returns the byte at the cursor without moving.
// Like the navigation methods it reconciles first, so the byte returned is
// the one Next would return.
func (c *Cursor) Peek() (byte, bool) {
	if !c.begin() {
		return 0, false
	}
	s := c.s
	s.txn.RLock()
	defer s.txn.RUnlock()

	c.reconcileLocked()
	if c.pos < 0 || c.pos >= s.length() {
		return 0, false
	}

	b, err := s.byteAt(c.pos)
	if err != nil {
		c.err = err
		return 0, false
	}
	return b, true
}

// Seek moves the cursor to position. The position is not bounds-checked.
func (c *Cursor) Seek(position int64) {
	if !c.begin() {
		return
	}
	c.s.txn.RLock()
	defer c.s.txn.RUnlock()

	c.reconcileLocked()
	c.pos = position
}

// Position returns the cursor position in the current version of the buffer.
func (c *Cursor) Position() int64 {
	if c.ticket.released.Load() {
		return c.pos
	}
	c.s.txn.RLock()
	defer c.s.txn.RUnlock()

	c.reconcileLocked()
	return c.pos
}

// Version returns the buffer version the cursor was last reconciled to.
func (c *Cursor) Version() uint64 {
	return c.ticket.version
}

// BufferLen returns the current buffer length.
func (c *Cursor) BufferLen() int64 {
	c.s.txn.RLock()
	defer c.s.txn.RUnlock()
	return c.s.length()
}

// Err returns the error that ended the most recent step, or nil if that
// step succeeded or stopped at a buffer boundary.
func (c *Cursor) Err() error {
	return c.err
}

// Close deregisters the cursor, allowing history it pinned to be pruned.
// Closing more than once is a no-op.
func (c *Cursor) Close() error {
	if c.ticket.released.Load() {
		return nil
	}
	c.cleanup.Stop()
	c.s.releaseTicket(c.ticket)
	return nil
}

// begin resets the step error and reports whether the cursor is usable.
func (c *Cursor) begin() bool {
	if c.ticket.released.Load() {
		c.err = c.closedErr
		if c.err == nil {
			c.err = ErrCursorClosed
		}
		return false
	}
	c.err = nil
	return true
}

// reconcileLocked brings pos up to the current version.
// Must be called with txn held.
func (c *Cursor) reconcileLocked() {
	s := c.s
	current := s.clock.Current()
	from := c.ticket.version
	if from == current {
		return
	}

	s.logMu.RLock()
	edits := s.log.Between(from, current)
	s.logMu.RUnlock()

	c.pos = editlog.Transform(c.pos, edits)
	s.cursors.Move(from, current)
	c.ticket.version = current
}
