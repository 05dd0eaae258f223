package persist

import "sync"

// MemoryStore is an in-memory Store holding content as an ordered list of
// chunks. Edits rewrite only the chunks they touch.
// All methods are thread-safe.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks [][]byte
	size   int64

	target  int
	maxSize int
}

// NewMemoryStore creates a store seeded with a copy of data.
func NewMemoryStore(data []byte) *MemoryStore {
	return newMemoryStore(data, TargetChunkSize, MaxChunkSize)
}

// NewMemoryStoreString creates a store seeded with s.
func NewMemoryStoreString(s string) *MemoryStore {
	return NewMemoryStore([]byte(s))
}

func newMemoryStore(data []byte, target, maxSize int) *MemoryStore {
	return &MemoryStore{
		chunks:  splitIntoChunks(data, target, maxSize),
		size:    int64(len(data)),
		target:  target,
		maxSize: maxSize,
	}
}

// Len returns the content length.
func (s *MemoryStore) Len() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// ChunkCount returns the number of chunks currently held.
func (s *MemoryStore) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Bytes returns a copy of the entire content.
func (s *MemoryStore) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

// Read returns a copy of [offset, offset+n).
func (s *MemoryStore) Read(offset, n int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := checkRange("read", offset, n, s.size); err != nil {
		return nil, err
	}

	out := make([]byte, 0, n)
	idx, rel := s.locate(offset)
	for idx < len(s.chunks) && int64(len(out)) < n {
		c := s.chunks[idx][rel:]
		want := n - int64(len(out))
		if int64(len(c)) > want {
			c = c[:want]
		}
		out = append(out, c...)
		idx++
		rel = 0
	}
	return out, nil
}

// Insert places a copy of data at offset.
func (s *MemoryStore) Insert(offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkRange("insert", offset, 0, s.size); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if len(s.chunks) == 0 {
		s.chunks = splitIntoChunks(data, s.target, s.maxSize)
		s.size = int64(len(data))
		return nil
	}

	idx, rel := s.locate(offset)
	if idx == len(s.chunks) {
		// Appending: extend the last chunk.
		idx = len(s.chunks) - 1
		rel = int64(len(s.chunks[idx]))
	}

	old := s.chunks[idx]
	combined := make([]byte, 0, len(old)+len(data))
	combined = append(combined, old[:rel]...)
	combined = append(combined, data...)
	combined = append(combined, old[rel:]...)

	s.replace(idx, idx+1, splitIntoChunks(combined, s.target, s.maxSize))
	s.size += int64(len(data))
	return nil
}

// Delete removes [start, end).
func (s *MemoryStore) Delete(start, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start > end {
		return ErrRangeInvalid
	}
	if err := checkRange("delete", start, end-start, s.size); err != nil {
		return err
	}
	if start == end {
		return nil
	}

	first, relStart := s.locate(start)
	last, relEnd := s.locate(end)
	if last == len(s.chunks) {
		last = len(s.chunks) - 1
		relEnd = int64(len(s.chunks[last]))
	}

	merged := make([]byte, 0, relStart+int64(len(s.chunks[last]))-relEnd)
	merged = append(merged, s.chunks[first][:relStart]...)
	merged = append(merged, s.chunks[last][relEnd:]...)

	// Fold an undersized remainder into its successor.
	if len(merged) < MinChunkSize && last+1 < len(s.chunks) {
		last++
		merged = append(merged, s.chunks[last]...)
	}

	s.replace(first, last+1, splitIntoChunks(merged, s.target, s.maxSize))
	s.size -= end - start
	return nil
}

// locate returns the chunk index containing offset and the offset relative
// to that chunk. An offset equal to the store length maps to len(chunks).
// Must be called with lock held.
func (s *MemoryStore) locate(offset int64) (int, int64) {
	for i, c := range s.chunks {
		n := int64(len(c))
		if offset < n {
			return i, offset
		}
		offset -= n
	}
	return len(s.chunks), 0
}

// replace swaps chunks[from:to] for repl.
// Must be called with lock held.
func (s *MemoryStore) replace(from, to int, repl [][]byte) {
	out := make([][]byte, 0, len(s.chunks)-(to-from)+len(repl))
	out = append(out, s.chunks[:from]...)
	out = append(out, repl...)
	out = append(out, s.chunks[to:]...)
	s.chunks = out
}
