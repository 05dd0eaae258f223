package persist

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	seq  INTEGER NOT NULL,
	data BLOB    NOT NULL,
	sum  BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS chunks_seq ON chunks(seq);
`

// chunkRef locates one stored chunk. The position of a ref in the index
// equals the chunk's seq column.
type chunkRef struct {
	id int64
	n  int64
}

// SQLiteStore is a durable Store keeping content as checksummed chunks in a
// SQLite database. Every mutation runs in a single transaction and the
// in-memory chunk index is only updated after the transaction commits.
// All methods are thread-safe.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	index  []chunkRef
	size   int64
	closed bool

	chunkSize int
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	chunkSize int
	initial   []byte
}

// WithChunkSize sets the maximum bytes per stored chunk.
func WithChunkSize(n int) SQLiteOption {
	return func(o *sqliteOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithInitialContent seeds a database that holds no content yet.
// It is ignored when the database already has chunks.
func WithInitialContent(data []byte) SQLiteOption {
	return func(o *sqliteOptions) {
		o.initial = data
	}
}

// OpenSQLite opens (or creates) a store at path. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	o := sqliteOptions{chunkSize: MaxChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %s: %w", path, err)
	}
	// One connection: SQLite serializes writers and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", path, err)
	}

	s := &SQLiteStore{
		db:        db,
		path:      path,
		chunkSize: o.chunkSize,
	}
	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}

	if len(s.index) == 0 && len(o.initial) > 0 {
		if err := s.Insert(0, o.initial); err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding sqlite store %s: %w", path, err)
		}
	}

	return s, nil
}

// loadIndex rebuilds the chunk index from the database.
func (s *SQLiteStore) loadIndex() error {
	rows, err := s.db.Query(`SELECT id, length(data) FROM chunks ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("loading chunk index: %w", err)
	}
	defer rows.Close()

	var index []chunkRef
	var size int64
	for rows.Next() {
		var ref chunkRef
		if err := rows.Scan(&ref.id, &ref.n); err != nil {
			return fmt.Errorf("loading chunk index: %w", err)
		}
		index = append(index, ref)
		size += ref.n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading chunk index: %w", err)
	}

	s.index = index
	s.size = size
	return nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Len returns the content length.
func (s *SQLiteStore) Len() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// ChunkCount returns the number of stored chunks.
func (s *SQLiteStore) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Read returns a copy of [offset, offset+n).
func (s *SQLiteStore) Read(offset, n int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if err := checkRange("read", offset, n, s.size); err != nil {
		return nil, err
	}

	out := make([]byte, 0, n)
	idx, rel := s.locate(offset)
	for idx < len(s.index) && int64(len(out)) < n {
		data, err := s.loadChunk(context.Background(), s.db, s.index[idx].id)
		if err != nil {
			return nil, err
		}
		data = data[rel:]
		want := n - int64(len(out))
		if int64(len(data)) > want {
			data = data[:want]
		}
		out = append(out, data...)
		idx++
		rel = 0
	}
	return out, nil
}

// Insert places data at offset.
func (s *SQLiteStore) Insert(offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := checkRange("insert", offset, 0, s.size); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	ctx := context.Background()

	if len(s.index) == 0 {
		return s.rewrite(ctx, 0, -1, data)
	}

	idx, rel := s.locate(offset)
	if idx == len(s.index) {
		idx = len(s.index) - 1
		rel = s.index[idx].n
	}

	old, err := s.loadChunk(ctx, s.db, s.index[idx].id)
	if err != nil {
		return err
	}

	combined := make([]byte, 0, len(old)+len(data))
	combined = append(combined, old[:rel]...)
	combined = append(combined, data...)
	combined = append(combined, old[rel:]...)

	return s.rewrite(ctx, idx, idx, combined)
}

// Delete removes [start, end).
func (s *SQLiteStore) Delete(start, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if start > end {
		return ErrRangeInvalid
	}
	if err := checkRange("delete", start, end-start, s.size); err != nil {
		return err
	}
	if start == end {
		return nil
	}

	ctx := context.Background()

	first, relStart := s.locate(start)
	last, relEnd := s.locate(end)
	if last == len(s.index) {
		last = len(s.index) - 1
		relEnd = s.index[last].n
	}

	head, err := s.loadChunk(ctx, s.db, s.index[first].id)
	if err != nil {
		return err
	}
	tail := head
	if last != first {
		if tail, err = s.loadChunk(ctx, s.db, s.index[last].id); err != nil {
			return err
		}
	}

	merged := make([]byte, 0, relStart+int64(len(tail))-relEnd)
	merged = append(merged, head[:relStart]...)
	merged = append(merged, tail[relEnd:]...)

	if len(merged) < MinChunkSize && last+1 < len(s.index) {
		next, err := s.loadChunk(ctx, s.db, s.index[last+1].id)
		if err != nil {
			return err
		}
		last++
		merged = append(merged, next...)
	}

	return s.rewrite(ctx, first, last, merged)
}

// rewrite replaces the chunks at positions [first, last] with content split
// into new chunks, in one transaction. last < first means pure insertion at
// position first.
// Must be called with lock held.
func (s *SQLiteStore) rewrite(ctx context.Context, first, last int, content []byte) (err error) {
	pieces := splitIntoChunks(content, s.chunkSize/2+1, s.chunkSize)
	removed := 0
	if last >= first {
		removed = last - first + 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if removed > 0 {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE seq BETWEEN ? AND ?`, first, last); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}
	}
	if shift := len(pieces) - removed; shift != 0 {
		if _, err = tx.ExecContext(ctx,
			`UPDATE chunks SET seq = seq + ? WHERE seq >= ?`, shift, first+removed); err != nil {
			return fmt.Errorf("renumbering chunks: %w", err)
		}
	}

	refs := make([]chunkRef, 0, len(pieces))
	for i, p := range pieces {
		sum := blake3.Sum256(p)
		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO chunks (seq, data, sum) VALUES (?, ?, ?)`, first+i, p, sum[:])
		if execErr != nil {
			err = fmt.Errorf("writing chunk: %w", execErr)
			return err
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			err = fmt.Errorf("writing chunk: %w", idErr)
			return err
		}
		refs = append(refs, chunkRef{id: id, n: int64(len(p))})
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	var oldBytes int64
	for _, ref := range s.index[first : first+removed] {
		oldBytes += ref.n
	}
	next := make([]chunkRef, 0, len(s.index)-removed+len(refs))
	next = append(next, s.index[:first]...)
	next = append(next, refs...)
	next = append(next, s.index[first+removed:]...)
	s.index = next
	s.size += int64(len(content)) - oldBytes
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadChunk reads one chunk and verifies its checksum.
func (s *SQLiteStore) loadChunk(ctx context.Context, q queryer, id int64) ([]byte, error) {
	var data, sum []byte
	err := q.QueryRowContext(ctx, `SELECT data, sum FROM chunks WHERE id = ?`, id).Scan(&data, &sum)
	if err != nil {
		return nil, fmt.Errorf("reading chunk %d: %w", id, err)
	}
	want := blake3.Sum256(data)
	if !bytes.Equal(sum, want[:]) {
		return nil, fmt.Errorf("chunk %d: %w", id, ErrCorruptChunk)
	}
	return data, nil
}

// locate returns the index position containing offset and the offset
// relative to that chunk. An offset equal to the length maps to len(index).
// Must be called with lock held.
func (s *SQLiteStore) locate(offset int64) (int, int64) {
	for i, ref := range s.index {
		if offset < ref.n {
			return i, offset
		}
		offset -= ref.n
	}
	return len(s.index), 0
}

// Close closes the database. Further operations return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
