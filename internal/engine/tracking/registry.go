package tracking

import (
	"sort"
	"sync"
)

// Registry is a multiset of cursor versions.
// All methods are thread-safe.
type Registry struct {
	mu       sync.Mutex
	counts   map[uint64]int
	versions []uint64 // distinct versions, ascending
	total    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counts: make(map[uint64]int)}
}

// Add registers one entry at v.
func (r *Registry) Add(v uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(v)
}

// Remove drops one entry at v. It reports false if v held no entries.
func (r *Registry) Remove(v uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(v)
}

// Move transfers one entry from one version to another atomically.
// If from holds no entries, nothing is added.
func (r *Registry) Move(from, to uint64) bool {
	if from == to {
		return r.Count(from) > 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeLocked(from) {
		return false
	}
	r.addLocked(to)
	return true
}

// Min returns the smallest registered version.
func (r *Registry) Min() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.versions) == 0 {
		return 0, false
	}
	return r.versions[0], true
}

// Count returns how many entries v holds.
func (r *Registry) Count(v uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[v]
}

// Len returns the total number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Snapshot returns a copy of the version counts.
func (r *Registry) Snapshot() map[uint64]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uint64]int, len(r.counts))
	for v, n := range r.counts {
		out[v] = n
	}
	return out
}

func (r *Registry) addLocked(v uint64) {
	if r.counts[v] == 0 {
		i := sort.Search(len(r.versions), func(i int) bool { return r.versions[i] >= v })
		r.versions = append(r.versions, 0)
		copy(r.versions[i+1:], r.versions[i:])
		r.versions[i] = v
	}
	r.counts[v]++
	r.total++
}

func (r *Registry) removeLocked(v uint64) bool {
	n := r.counts[v]
	if n == 0 {
		return false
	}
	r.total--
	if n > 1 {
		r.counts[v] = n - 1
		return true
	}

	delete(r.counts, v)
	i := sort.Search(len(r.versions), func(i int) bool { return r.versions[i] >= v })
	r.versions = append(r.versions[:i], r.versions[i+1:]...)
	return true
}
