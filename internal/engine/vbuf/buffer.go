package vbuf

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/vbuf/internal/engine/cache"
	"github.com/dshills/vbuf/internal/engine/editlog"
	"github.com/dshills/vbuf/internal/engine/persist"
	"github.com/dshills/vbuf/internal/engine/tracking"
	"github.com/dshills/vbuf/internal/logging"
)

// Errors returned by buffer and cursor operations.
var (
	// ErrClosed indicates the buffer handle has been closed.
	ErrClosed = errors.New("buffer closed")

	// ErrCursorClosed indicates the cursor has been closed.
	ErrCursorClosed = errors.New("cursor closed")

	// ErrRangeInvalid indicates a delete range whose start is after its end.
	ErrRangeInvalid = persist.ErrRangeInvalid
)

// state is shared by every Buffer handle and cursor of one buffer.
type state struct {
	id     string
	logger *logging.Logger

	// txn is held exclusively for a whole mutation and shared by reads,
	// cursor creation and cursor steps.
	txn sync.RWMutex

	storeMu sync.Mutex
	store   persist.Store

	cacheMu sync.Mutex
	cache   *cache.Cache

	logMu sync.RWMutex
	log   *editlog.Log

	clock   tracking.Clock
	cursors *tracking.Registry

	// idleMark is the clock value when the registry last became empty.
	idleMark    atomic.Uint64
	maxRetained int

	refs atomic.Int64
}

// Buffer is a handle on a virtual buffer. All methods are thread-safe.
type Buffer struct {
	s       *state
	closed  atomic.Bool
	cleanup runtime.Cleanup
}

// Stats is a point-in-time view of a buffer's bookkeeping.
type Stats struct {
	Version       uint64
	LogLen        int
	ActiveCursors int
	Watermark     uint64 // oldest version held by a live cursor
	HasWatermark  bool
	Cache         cache.Stats
}

// New creates a buffer over store. The buffer takes ownership of the store.
func New(store persist.Store, opts ...Option) *Buffer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}

	s := &state{
		id:          o.id,
		logger:      o.logger.WithComponent("vbuf").WithField("buffer", o.id),
		store:       store,
		cache:       cache.New(o.cacheCapacity, cache.WithBlockSize(o.blockSize)),
		log:         editlog.NewLog(),
		cursors:     tracking.NewRegistry(),
		maxRetained: o.maxRetained,
	}

	return s.newHandle()
}

func (s *state) newHandle() *Buffer {
	s.refs.Add(1)
	b := &Buffer{s: s}
	b.cleanup = runtime.AddCleanup(b, func(s *state) { _ = s.release() }, s)
	return b
}

// Clone returns another handle sharing this buffer's state.
func (b *Buffer) Clone() (*Buffer, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.s.newHandle(), nil
}

// Close releases this handle. The store is closed once the last handle
// and the last cursor are gone.
func (b *Buffer) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cleanup.Stop()
	return b.s.release()
}

// release drops one reference and tears the state down on the last one.
func (s *state) release() error {
	if s.refs.Add(-1) != 0 {
		return nil
	}
	s.logger.Debug("releasing buffer state", "log_len", s.log.Len())
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("closing store: %w", err)
		}
	}
	return nil
}

// ID returns the buffer identifier.
func (b *Buffer) ID() string {
	return b.s.id
}

// Read returns n bytes starting at offset, from the cache when resident and
// from the store otherwise. Store errors are returned unchanged.
func (b *Buffer) Read(offset, n int64) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	s := b.s
	s.txn.RLock()
	defer s.txn.RUnlock()
	return s.read(offset, n)
}

func (s *state) read(offset, n int64) ([]byte, error) {
	s.cacheMu.Lock()
	data, ok := s.cache.Read(offset, n)
	s.cacheMu.Unlock()
	if ok {
		return data, nil
	}

	s.storeMu.Lock()
	data, err := s.store.Read(offset, n)
	s.storeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		s.cacheMu.Lock()
		s.cache.Write(offset, data)
		s.cacheMu.Unlock()
	}
	return data, nil
}

// Insert places data at offset. Inserting nothing is a no-op.
func (b *Buffer) Insert(offset int64, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if len(data) == 0 {
		return nil
	}

	s := b.s
	s.txn.Lock()
	defer s.txn.Unlock()

	s.storeMu.Lock()
	err := s.store.Insert(offset, data)
	s.storeMu.Unlock()
	if err != nil {
		s.logger.Debug("insert rejected by store", "offset", offset, "len", len(data), "error", err)
		return err
	}

	s.commitLocked(editlog.Insert, offset, int64(len(data)))
	return nil
}

// Delete removes the bytes in [start, end). An empty range is a no-op.
func (b *Buffer) Delete(start, end int64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if start > end {
		return ErrRangeInvalid
	}
	if start == end {
		return nil
	}

	s := b.s
	s.txn.Lock()
	defer s.txn.Unlock()

	s.storeMu.Lock()
	err := s.store.Delete(start, end)
	s.storeMu.Unlock()
	if err != nil {
		s.logger.Debug("delete rejected by store", "start", start, "end", end, "error", err)
		return err
	}

	s.commitLocked(editlog.Delete, start, end-start)
	return nil
}

// commitLocked records a mutation the store has already applied.
// Must be called with txn held exclusively.
func (s *state) commitLocked(kind editlog.Kind, offset, n int64) {
	s.cacheMu.Lock()
	s.cache.Clear()
	s.cacheMu.Unlock()

	v := s.clock.Tick()
	edit := editlog.Edit{Version: v, Kind: kind, Offset: offset, Len: n}

	s.logMu.Lock()
	if err := s.log.Append(edit); err != nil {
		// Versions are claimed under txn, so the tail is always older.
		s.logMu.Unlock()
		panic(fmt.Sprintf("vbuf: %v", err))
	}
	pruned := s.pruneLocked()
	logLen := s.log.Len()
	s.logMu.Unlock()

	s.logger.Debug("mutation", "edit", edit.String(), "pruned", pruned, "log_len", logLen)
}

// pruneLocked drops history no live cursor can still need. While cursors
// are live the edit stamped with the oldest cursor version is kept.
// Must be called with txn held exclusively and logMu held.
func (s *state) pruneLocked() int {
	if mark, ok := s.cursors.Min(); ok {
		return s.log.PruneBefore(mark)
	}

	pruned := s.log.PruneThrough(s.idleMark.Load())
	if s.maxRetained > 0 {
		pruned += s.log.TrimTo(s.maxRetained)
	}
	return pruned
}

// Len returns the buffer length as reported by the store.
func (b *Buffer) Len() int64 {
	s := b.s
	s.txn.RLock()
	defer s.txn.RUnlock()
	return s.length()
}

func (s *state) length() int64 {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	return s.store.Len()
}

// IsEmpty reports whether the buffer holds no bytes.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Version returns the number of successful mutations so far.
func (b *Buffer) Version() uint64 {
	return b.s.clock.Current()
}

// Stats returns the buffer's current bookkeeping.
func (b *Buffer) Stats() Stats {
	s := b.s
	s.txn.RLock()
	defer s.txn.RUnlock()

	st := Stats{
		Version:       s.clock.Current(),
		ActiveCursors: s.cursors.Len(),
	}
	st.Watermark, st.HasWatermark = s.cursors.Min()

	s.logMu.RLock()
	st.LogLen = s.log.Len()
	s.logMu.RUnlock()

	s.cacheMu.Lock()
	st.Cache = s.cache.Stats()
	s.cacheMu.Unlock()

	return st
}

// IterAt returns a cursor at position. The position is not checked against
// the buffer length; traversal reports the boundary instead. On a closed
// handle the cursor is returned already released and every step fails
// with ErrClosed.
func (b *Buffer) IterAt(position int64) *Cursor {
	s := b.s
	if b.closed.Load() {
		t := &ticket{version: s.clock.Current()}
		t.released.Store(true)
		return &Cursor{s: s, pos: position, ticket: t, closedErr: ErrClosed}
	}

	s.txn.RLock()
	v := s.clock.Current()
	s.cursors.Add(v)
	s.txn.RUnlock()

	s.refs.Add(1)
	c := &Cursor{
		s:      s,
		pos:    position,
		ticket: &ticket{version: v},
	}
	c.cleanup = runtime.AddCleanup(c, s.releaseTicket, c.ticket)
	return c
}

// releaseTicket deregisters a cursor. It is safe to call more than once.
func (s *state) releaseTicket(t *ticket) {
	if !t.released.CompareAndSwap(false, true) {
		return
	}

	s.txn.RLock()
	s.cursors.Remove(t.version)
	if s.cursors.Len() == 0 {
		s.idleMark.Store(s.clock.Current())
	}
	s.txn.RUnlock()

	_ = s.release()
}

// byteAt reads one byte through the cache.
// Must be called with txn held.
func (s *state) byteAt(pos int64) (byte, error) {
	s.cacheMu.Lock()
	data, ok := s.cache.Read(pos, 1)
	s.cacheMu.Unlock()
	if ok {
		return data[0], nil
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if err := s.cache.EnsureCached(s.store, pos, 1); err != nil {
		return 0, err
	}
	if data, ok := s.cache.Read(pos, 1); ok {
		return data[0], nil
	}

	// The region was not retained (caching disabled or too small).
	data, err := s.store.Read(pos, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}
