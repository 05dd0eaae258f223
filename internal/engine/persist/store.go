// Package persist defines the byte-range store a virtual buffer is backed by,
// together with the backends shipped with vbuf.
//
// A Store is the authoritative source of content and length. It is byte
// oriented and knows nothing about encodings, lines or cursors. Offsets and
// ranges outside [0, Len()] fail with an error wrapping ErrOffsetOutOfRange.
//
// Backends:
//
//   - MemoryStore keeps content as a list of bounded chunks in memory.
//   - SQLiteStore keeps checksummed chunks in a SQLite database.
//
// Backends that hold external resources also implement io.Closer.
package persist

// Store is the persistence capability a virtual buffer needs.
type Store interface {
	// Read returns a copy of the n bytes starting at offset.
	Read(offset, n int64) ([]byte, error)

	// Insert places data at offset, shifting later content right.
	Insert(offset int64, data []byte) error

	// Delete removes the bytes in [start, end).
	Delete(start, end int64) error

	// Len returns the current content length in bytes.
	Len() int64
}

// Reader is the read-only subset of Store.
type Reader interface {
	Read(offset, n int64) ([]byte, error)
	Len() int64
}

// Chunk size constants shared by the chunked backends.
const (
	// MinChunkSize is the size below which a chunk is merged with its neighbor.
	MinChunkSize = 1024

	// MaxChunkSize is the largest chunk a backend will store.
	MaxChunkSize = 8192

	// TargetChunkSize is the preferred chunk size when splitting.
	TargetChunkSize = (MinChunkSize + MaxChunkSize) / 2
)

// splitIntoChunks splits data into pieces of at most maxSize bytes, cutting
// at target-sized boundaries. The returned chunks do not alias data.
func splitIntoChunks(data []byte, target, maxSize int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) <= maxSize {
		return [][]byte{clone(data)}
	}

	var chunks [][]byte
	remaining := data
	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, clone(remaining))
			break
		}
		chunks = append(chunks, clone(remaining[:target]))
		remaining = remaining[target:]
	}
	return chunks
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
