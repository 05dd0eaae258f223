// Package cache provides a bounded read-through cache of byte regions
// sitting in front of a persist.Store.
//
// The cache only ever holds bytes the store also has; it is not a write
// buffer. Regions never overlap: writing a region drops every resident
// region it intersects. When resident bytes exceed the capacity, least
// recently used regions are evicted.
//
// A Cache is not safe for concurrent use; callers serialize access.
package cache

import (
	"container/list"
	"sort"
	"sync/atomic"

	"github.com/dshills/vbuf/internal/engine/persist"
)

// DefaultBlockSize is the fill alignment used by EnsureCached.
const DefaultBlockSize = 4096

// Stats reports cache effectiveness.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Resident  int64 // bytes currently held
	Regions   int
	Capacity  int64
}

// region is one resident byte range.
type region struct {
	start int64
	data  []byte
}

func (r *region) end() int64 {
	return r.start + int64(len(r.data))
}

// Cache is a bounded LRU cache of non-overlapping byte regions.
type Cache struct {
	capacity  int64
	blockSize int64
	resident  int64

	// starts is sorted ascending; byStart maps each start to its LRU element.
	starts  []int64
	byStart map[int64]*list.Element
	lru     *list.List

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithBlockSize sets the alignment of regions loaded by EnsureCached.
func WithBlockSize(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.blockSize = n
		}
	}
}

// New creates a cache holding at most capacityBytes bytes.
// A non-positive capacity disables caching: every Read misses.
func New(capacityBytes int64, opts ...Option) *Cache {
	c := &Cache{
		capacity:  capacityBytes,
		blockSize: DefaultBlockSize,
		byStart:   make(map[int64]*list.Element),
		lru:       list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read returns a copy of [offset, offset+n) if a single resident region
// covers it.
func (c *Cache) Read(offset, n int64) ([]byte, bool) {
	elem := c.covering(offset, n)
	if elem == nil {
		c.misses.Add(1)
		return nil, false
	}

	c.lru.MoveToFront(elem)
	c.hits.Add(1)

	r := elem.Value.(*region) //nolint:errcheck // list only contains *region
	rel := offset - r.start
	out := make([]byte, n)
	copy(out, r.data[rel:rel+n])
	return out, true
}

// Write makes a copy of data resident at offset, replacing any regions it
// overlaps. Empty writes and regions larger than the capacity are ignored.
func (c *Cache) Write(offset int64, data []byte) {
	n := int64(len(data))
	if n == 0 || n > c.capacity {
		return
	}

	c.dropOverlapping(offset, offset+n)

	r := &region{start: offset, data: make([]byte, n)}
	copy(r.data, data)

	elem := c.lru.PushFront(r)
	c.byStart[offset] = elem
	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] >= offset })
	c.starts = append(c.starts, 0)
	copy(c.starts[i+1:], c.starts[i:])
	c.starts[i] = offset
	c.resident += n

	for c.resident > c.capacity {
		c.evictOldest()
	}
}

// Clear drops every resident region. Counters are kept.
func (c *Cache) Clear() {
	c.starts = c.starts[:0]
	c.byStart = make(map[int64]*list.Element)
	c.lru.Init()
	c.resident = 0
}

// EnsureCached makes [offset, offset+n) resident, loading the surrounding
// block-aligned window from store on a miss. On a store error the cache is
// left unmodified and the error is returned.
func (c *Cache) EnsureCached(store persist.Reader, offset, n int64) error {
	if c.covering(offset, n) != nil {
		return nil
	}

	size := store.Len()
	if offset < 0 || n < 0 || offset > size || n > size-offset {
		// Let the store report the range error.
		_, err := store.Read(offset, n)
		return err
	}

	start, end := offset-offset%c.blockSize, offset+n
	end = min(roundUp(end, c.blockSize), size)
	if end-start > c.capacity {
		start, end = offset, offset+n
	}

	data, err := store.Read(start, end-start)
	if err != nil {
		return err
	}
	c.Write(start, data)
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Resident:  c.resident,
		Regions:   c.lru.Len(),
		Capacity:  c.capacity,
	}
}

// Len returns the number of resident regions.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// covering returns the region containing [offset, offset+n), or nil.
func (c *Cache) covering(offset, n int64) *list.Element {
	if n < 0 || offset < 0 {
		return nil
	}
	// Last region starting at or before offset.
	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > offset }) - 1
	if i < 0 {
		return nil
	}
	elem := c.byStart[c.starts[i]]
	r := elem.Value.(*region) //nolint:errcheck // list only contains *region
	if n > r.end()-offset || (n == 0 && offset >= r.end()) {
		return nil
	}
	return elem
}

// dropOverlapping removes every region intersecting [start, end).
func (c *Cache) dropOverlapping(start, end int64) {
	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > start }) - 1
	if i < 0 {
		i = 0
	}
	for i < len(c.starts) && c.starts[i] < end {
		elem := c.byStart[c.starts[i]]
		r := elem.Value.(*region) //nolint:errcheck // list only contains *region
		if r.end() > start {
			c.remove(elem)
			continue
		}
		i++
	}
}

// evictOldest removes the least recently used region.
func (c *Cache) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.remove(elem)
		c.evictions.Add(1)
	}
}

// remove deletes a region from every index.
func (c *Cache) remove(elem *list.Element) {
	r := elem.Value.(*region) //nolint:errcheck // list only contains *region
	c.lru.Remove(elem)
	delete(c.byStart, r.start)
	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] >= r.start })
	c.starts = append(c.starts[:i], c.starts[i+1:]...)
	c.resident -= int64(len(r.data))
}

func roundUp(v, block int64) int64 {
	if rem := v % block; rem != 0 {
		return v + block - rem
	}
	return v
}
