package vbuf

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/vbuf/internal/engine/persist"
)

// faultyStore wraps a MemoryStore with injectable failures.
type faultyStore struct {
	*persist.MemoryStore
	failInsert error
	failDelete error
	failRead   error
	closed     int
}

func newFaultyStore(s string) *faultyStore {
	return &faultyStore{MemoryStore: persist.NewMemoryStoreString(s)}
}

func (f *faultyStore) Read(offset, n int64) ([]byte, error) {
	if f.failRead != nil {
		return nil, f.failRead
	}
	return f.MemoryStore.Read(offset, n)
}

func (f *faultyStore) Insert(offset int64, data []byte) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	return f.MemoryStore.Insert(offset, data)
}

func (f *faultyStore) Delete(start, end int64) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.MemoryStore.Delete(start, end)
}

func (f *faultyStore) Close() error {
	f.closed++
	return nil
}

func newTestBuffer(t *testing.T, content string, opts ...Option) *Buffer {
	t.Helper()
	b := New(persist.NewMemoryStoreString(content), opts...)
	t.Cleanup(func() { b.Close() })
	return b
}

func contents(t *testing.T, b *Buffer) string {
	t.Helper()
	data, err := b.Read(0, b.Len())
	if err != nil {
		t.Fatalf("Read(0, Len): %v", err)
	}
	return string(data)
}

func TestBufferRead(t *testing.T) {
	b := newTestBuffer(t, "hello world")

	got, err := b.Read(0, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Read(0, 5) = %q, want hello", got)
	}
	if b.Len() != 11 {
		t.Errorf("Len = %d, want 11", b.Len())
	}
	if b.IsEmpty() {
		t.Error("IsEmpty = true for non-empty buffer")
	}

	// Second read is served from the cache.
	if _, err := b.Read(0, 5); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if hits := b.Stats().Cache.Hits; hits != 1 {
		t.Errorf("cache hits = %d, want 1", hits)
	}
}

func TestBufferReadOutOfRange(t *testing.T) {
	b := newTestBuffer(t, "hello")

	_, err := b.Read(3, 10)
	if !errors.Is(err, persist.ErrOffsetOutOfRange) {
		t.Errorf("Read past end = %v, want ErrOffsetOutOfRange", err)
	}
}

func TestBufferReadHugeLength(t *testing.T) {
	b := newTestBuffer(t, "hello world")

	// Once from the store, once with the whole buffer resident.
	for _, step := range []string{"uncached", "cached"} {
		if _, err := b.Read(5, math.MaxInt64); !errors.Is(err, persist.ErrOffsetOutOfRange) {
			t.Errorf("%s: Read(5, MaxInt64) = %v, want ErrOffsetOutOfRange", step, err)
		}
		if _, err := b.Read(0, 11); err != nil {
			t.Fatalf("%s: Read(0, 11): %v", step, err)
		}
	}
	if hits := b.Stats().Cache.Hits; hits == 0 {
		t.Error("whole-buffer read never hit the cache")
	}
}

func TestBufferInsert(t *testing.T) {
	b := newTestBuffer(t, "hello world")

	if err := b.Insert(5, []byte(" beautiful")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := contents(t, b); got != "hello beautiful world" {
		t.Errorf("content = %q, want %q", got, "hello beautiful world")
	}
	if b.Len() != 21 {
		t.Errorf("Len = %d, want 21", b.Len())
	}
	if b.Version() != 1 {
		t.Errorf("Version = %d, want 1", b.Version())
	}
}

func TestBufferDelete(t *testing.T) {
	b := newTestBuffer(t, "hello world")

	if err := b.Delete(5, 11); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := contents(t, b); got != "hello" {
		t.Errorf("content = %q, want hello", got)
	}
	if b.Len() != 5 {
		t.Errorf("Len = %d, want 5", b.Len())
	}
}

func TestBufferEmptyMutationsAreNoOps(t *testing.T) {
	b := newTestBuffer(t, "abc")

	if err := b.Insert(1, nil); err != nil {
		t.Errorf("empty Insert: %v", err)
	}
	if err := b.Delete(2, 2); err != nil {
		t.Errorf("empty Delete: %v", err)
	}
	if b.Version() != 0 || b.Stats().LogLen != 0 {
		t.Errorf("no-op mutations consumed versions: version=%d log=%d", b.Version(), b.Stats().LogLen)
	}
	if err := b.Delete(2, 1); !errors.Is(err, ErrRangeInvalid) {
		t.Errorf("Delete(2, 1) = %v, want ErrRangeInvalid", err)
	}
}

func TestBufferMutationFailureIsAtomic(t *testing.T) {
	store := newFaultyStore("hello")
	b := New(store)
	defer b.Close()

	boom := errors.New("write failed")
	store.failInsert = boom
	store.failDelete = boom

	if err := b.Insert(0, []byte("x")); !errors.Is(err, boom) {
		t.Errorf("Insert = %v, want %v", err, boom)
	}
	if err := b.Delete(0, 2); !errors.Is(err, boom) {
		t.Errorf("Delete = %v, want %v", err, boom)
	}
	if err := b.Insert(99, []byte("x")); err == nil {
		t.Error("out of range Insert succeeded")
	}

	st := b.Stats()
	if st.Version != 0 || st.LogLen != 0 {
		t.Errorf("failed mutations recorded: version=%d log=%d", st.Version, st.LogLen)
	}

	store.failInsert = nil
	if err := b.Insert(0, []byte("x")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if b.Version() != 1 {
		t.Errorf("Version = %d, want 1 after first successful mutation", b.Version())
	}
}

func TestBufferMutationInvalidatesCache(t *testing.T) {
	b := newTestBuffer(t, "hello world")

	if _, err := b.Read(0, 11); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.Stats().Cache.Resident == 0 {
		t.Fatal("read did not populate the cache")
	}

	if err := b.Delete(0, 6); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res := b.Stats().Cache.Resident; res != 0 {
		t.Errorf("cache holds %d bytes after mutation, want 0", res)
	}
	if got := contents(t, b); got != "world" {
		t.Errorf("content = %q, want world", got)
	}
}

func TestBufferMatchesOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := newTestBuffer(t, "", WithCacheCapacity(64), WithCacheBlockSize(8))
	var oracle []byte

	for i := 0; i < 500; i++ {
		if len(oracle) == 0 || rng.Intn(5) < 3 {
			off := rng.Intn(len(oracle) + 1)
			data := []byte(randomWord(rng))
			if err := b.Insert(int64(off), data); err != nil {
				t.Fatalf("step %d: Insert(%d): %v", i, off, err)
			}
			oracle = append(oracle[:off], append(append([]byte{}, data...), oracle[off:]...)...)
		} else {
			start := rng.Intn(len(oracle))
			end := start + rng.Intn(len(oracle)-start) + 1
			if err := b.Delete(int64(start), int64(end)); err != nil {
				t.Fatalf("step %d: Delete(%d, %d): %v", i, start, end, err)
			}
			oracle = append(oracle[:start], oracle[end:]...)
		}

		// Interleave reads so the cache is exercised between edits.
		if len(oracle) > 0 {
			off := rng.Intn(len(oracle))
			n := rng.Intn(len(oracle)-off) + 1
			got, err := b.Read(int64(off), int64(n))
			if err != nil {
				t.Fatalf("step %d: Read(%d, %d): %v", i, off, n, err)
			}
			if diff := cmp.Diff(string(oracle[off:off+n]), string(got)); diff != "" {
				t.Fatalf("step %d: Read(%d, %d) mismatch (-want +got):\n%s", i, off, n, diff)
			}
		}
	}

	if diff := cmp.Diff(string(oracle), contents(t, b)); diff != "" {
		t.Errorf("final content mismatch (-want +got):\n%s", diff)
	}
}

func randomWord(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	n := rng.Intn(6) + 1
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[rng.Intn(len(letters))]
	}
	return string(out)
}

func TestBufferRetainsHistoryWithoutCursors(t *testing.T) {
	b := newTestBuffer(t, "")
	for i := 0; i < 5; i++ {
		if err := b.Insert(0, []byte("x")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if got := b.Stats().LogLen; got != 5 {
		t.Errorf("LogLen = %d, want 5", got)
	}
}

func TestBufferMaxRetainedEdits(t *testing.T) {
	b := newTestBuffer(t, "", WithMaxRetainedEdits(2))
	for i := 0; i < 5; i++ {
		if err := b.Insert(0, []byte("x")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if got := b.Stats().LogLen; got != 2 {
		t.Errorf("LogLen = %d, want 2", got)
	}

	// The cap never applies while a cursor pins history.
	c := b.IterAt(0)
	defer c.Close()
	for i := 0; i < 4; i++ {
		if err := b.Insert(0, []byte("y")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	// The cursor holds v5, so v5..v9 stay.
	if got := b.Stats().LogLen; got != 5 {
		t.Errorf("LogLen with pinned cursor = %d, want 5", got)
	}
	if got := c.Position(); got != 4 {
		t.Errorf("Position = %d, want 4", got)
	}
}

func TestBufferCloneSharesState(t *testing.T) {
	store := newFaultyStore("abc")
	b := New(store)

	clone, err := b.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone.ID() != b.ID() {
		t.Errorf("clone ID %q differs from %q", clone.ID(), b.ID())
	}

	if err := clone.Insert(3, []byte("d")); err != nil {
		t.Fatalf("Insert via clone: %v", err)
	}
	if got := contents(t, b); got != "abcd" {
		t.Errorf("original sees %q, want abcd", got)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := b.Read(0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Read on closed handle = %v, want ErrClosed", err)
	}
	if _, err := b.Clone(); !errors.Is(err, ErrClosed) {
		t.Errorf("Clone on closed handle = %v, want ErrClosed", err)
	}
	if store.closed != 0 {
		t.Fatal("store closed while a clone is still open")
	}

	if got := contents(t, clone); got != "abcd" {
		t.Errorf("clone sees %q after original closed", got)
	}
	if err := clone.Close(); err != nil {
		t.Fatalf("Close clone: %v", err)
	}
	if store.closed != 1 {
		t.Errorf("store closed %d times, want 1", store.closed)
	}
}

func TestBufferCursorKeepsStateAlive(t *testing.T) {
	store := newFaultyStore("abc")
	b := New(store)
	c := b.IterAt(0)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.closed != 0 {
		t.Fatal("store closed while a cursor is live")
	}
	if got, ok := c.Next(); !ok || got != 'a' {
		t.Errorf("Next = %q, %v, want 'a'", got, ok)
	}

	c.Close()
	if store.closed != 1 {
		t.Errorf("store closed %d times after last cursor, want 1", store.closed)
	}
}

func TestBufferClosedHandle(t *testing.T) {
	store := newFaultyStore("abc")
	b := New(store)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := b.Read(0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Read = %v, want ErrClosed", err)
	}
	if err := b.Insert(0, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert = %v, want ErrClosed", err)
	}
	if err := b.Delete(0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Delete = %v, want ErrClosed", err)
	}
	if _, err := b.Clone(); !errors.Is(err, ErrClosed) {
		t.Errorf("Clone = %v, want ErrClosed", err)
	}

	c := b.IterAt(1)
	if _, ok := c.Next(); ok {
		t.Error("Next on a cursor from a closed handle succeeded")
	}
	if !errors.Is(c.Err(), ErrClosed) {
		t.Errorf("Err = %v, want ErrClosed", c.Err())
	}
	if _, ok := c.Peek(); ok || !errors.Is(c.Err(), ErrClosed) {
		t.Errorf("Peek = %v, Err %v, want ErrClosed", ok, c.Err())
	}
	if got := c.Position(); got != 1 {
		t.Errorf("Position = %d, want 1", got)
	}
	if err := c.Close(); err != nil {
		t.Errorf("cursor Close: %v", err)
	}

	if store.closed != 1 {
		t.Errorf("store closed %d times, want 1", store.closed)
	}
	if got := b.Stats().ActiveCursors; got != 0 {
		t.Errorf("ActiveCursors = %d, want 0", got)
	}
}

func TestBufferWithID(t *testing.T) {
	b := newTestBuffer(t, "", WithID("buf-1"))
	if b.ID() != "buf-1" {
		t.Errorf("ID = %q, want buf-1", b.ID())
	}
	if newTestBuffer(t, "").ID() == "" {
		t.Error("default ID is empty")
	}
}
