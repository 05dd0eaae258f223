package vbuf

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/vbuf/internal/engine/editlog"
)

func TestCursorFollowsInsertBefore(t *testing.T) {
	b := newTestBuffer(t, "hello world")
	c := b.IterAt(6)
	defer c.Close()

	if err := b.Insert(5, []byte(" beautiful")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok := c.Next()
	if !ok || got != 'w' {
		t.Fatalf("Next = %q, %v, want 'w'", got, ok)
	}
	if pos := c.Position(); pos != 17 {
		t.Errorf("Position = %d, want 17", pos)
	}
	if c.Version() != 1 {
		t.Errorf("Version = %d, want 1", c.Version())
	}
}

func TestCursorBidirectional(t *testing.T) {
	b := newTestBuffer(t, "hello")
	c := b.IterAt(2)
	defer c.Close()

	if got, ok := c.Next(); !ok || got != 'l' {
		t.Fatalf("Next = %q, %v, want 'l'", got, ok)
	}

	for _, want := range []byte("leh") {
		got, ok := c.Prev()
		if !ok || got != want {
			t.Fatalf("Prev = %q, %v, want %q", got, ok, want)
		}
	}
	if got, ok := c.Prev(); ok {
		t.Errorf("Prev at start = %q, want nothing", got)
	}
	if c.Err() != nil {
		t.Errorf("Err at boundary = %v, want nil", c.Err())
	}
	if c.Position() != 0 {
		t.Errorf("Position = %d, want 0", c.Position())
	}
}

func TestCursorNextAtEnd(t *testing.T) {
	b := newTestBuffer(t, "ab")
	c := b.IterAt(0)
	defer c.Close()

	var got []byte
	for {
		ch, ok := c.Next()
		if !ok {
			break
		}
		got = append(got, ch)
	}
	if string(got) != "ab" {
		t.Errorf("traversal = %q, want ab", got)
	}
	if c.Position() != 2 {
		t.Errorf("Position = %d, want 2", c.Position())
	}
	if c.Err() != nil {
		t.Errorf("Err = %v, want nil", c.Err())
	}
}

func TestCursorReconcile(t *testing.T) {
	tests := []struct {
		name   string
		start  int64
		mutate func(*Buffer) error
		want   int64
	}{
		{
			name:   "insert before",
			start:  5,
			mutate: func(b *Buffer) error { return b.Insert(2, []byte("xyz")) },
			want:   8,
		},
		{
			name:   "insert at position",
			start:  5,
			mutate: func(b *Buffer) error { return b.Insert(5, []byte("xyz")) },
			want:   8,
		},
		{
			name:   "insert after",
			start:  5,
			mutate: func(b *Buffer) error { return b.Insert(6, []byte("xyz")) },
			want:   5,
		},
		{
			name:   "delete before",
			start:  5,
			mutate: func(b *Buffer) error { return b.Delete(0, 2) },
			want:   3,
		},
		{
			name:   "delete at position",
			start:  5,
			mutate: func(b *Buffer) error { return b.Delete(5, 7) },
			want:   3,
		},
		{
			name:   "delete after",
			start:  5,
			mutate: func(b *Buffer) error { return b.Delete(6, 9) },
			want:   5,
		},
		{
			name:   "delete clamps at zero",
			start:  3,
			mutate: func(b *Buffer) error { return b.Delete(1, 9) },
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuffer(t, "hello world")
			c := b.IterAt(tt.start)
			defer c.Close()

			if err := tt.mutate(b); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if got := c.Position(); got != tt.want {
				t.Errorf("Position = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCursorPeekReconciles(t *testing.T) {
	b := newTestBuffer(t, "hello world")
	c := b.IterAt(6)
	defer c.Close()

	if got, ok := c.Peek(); !ok || got != 'w' {
		t.Fatalf("Peek = %q, %v, want 'w'", got, ok)
	}
	if err := b.Insert(0, []byte(">> ")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got, ok := c.Peek(); !ok || got != 'w' {
		t.Errorf("Peek after insert = %q, %v, want 'w'", got, ok)
	}
	if c.Position() != 9 {
		t.Errorf("Position = %d, want 9 (Peek must not move)", c.Position())
	}
}

func TestCursorSeek(t *testing.T) {
	b := newTestBuffer(t, "hello world")
	c := b.IterAt(0)
	defer c.Close()

	if err := b.Insert(0, []byte("A")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	c.Seek(7)
	if c.Version() != 1 {
		t.Errorf("Version after Seek = %d, want 1", c.Version())
	}
	if got, ok := c.Next(); !ok || got != 'w' {
		t.Errorf("Next after Seek = %q, %v, want 'w'", got, ok)
	}

	// Seeking past the end is allowed; traversal reports the boundary.
	c.Seek(100)
	if _, ok := c.Next(); ok {
		t.Error("Next past end succeeded")
	}
	if got, ok := c.Prev(); ok {
		t.Errorf("Prev from past end = %q, want nothing", got)
	}
	if c.Err() != nil {
		t.Errorf("Err past end = %v, want nil", c.Err())
	}
}

func TestCursorIterPastEnd(t *testing.T) {
	b := newTestBuffer(t, "abc")
	c := b.IterAt(10)
	defer c.Close()

	if _, ok := c.Next(); ok {
		t.Error("Next beyond length succeeded")
	}
	if c.BufferLen() != 3 {
		t.Errorf("BufferLen = %d, want 3", c.BufferLen())
	}
}

func TestCursorReadError(t *testing.T) {
	store := newFaultyStore("hello")
	b := New(store, WithCacheCapacity(0))
	defer b.Close()
	c := b.IterAt(1)
	defer c.Close()

	boom := errors.New("read failed")
	store.failRead = boom

	if _, ok := c.Next(); ok {
		t.Fatal("Next succeeded on failing store")
	}
	if !errors.Is(c.Err(), boom) {
		t.Errorf("Err = %v, want %v", c.Err(), boom)
	}
	if c.Position() != 1 {
		t.Errorf("Position = %d, want 1 after failed step", c.Position())
	}

	store.failRead = nil
	if got, ok := c.Next(); !ok || got != 'e' {
		t.Errorf("Next = %q, %v, want 'e'", got, ok)
	}
	if c.Err() != nil {
		t.Errorf("Err = %v, want nil after successful step", c.Err())
	}
}

func TestCursorClose(t *testing.T) {
	b := newTestBuffer(t, "abc")
	c := b.IterAt(0)

	if n := b.Stats().ActiveCursors; n != 1 {
		t.Fatalf("ActiveCursors = %d, want 1", n)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if n := b.Stats().ActiveCursors; n != 0 {
		t.Errorf("ActiveCursors = %d, want 0", n)
	}

	if _, ok := c.Next(); ok {
		t.Error("Next on closed cursor succeeded")
	}
	if !errors.Is(c.Err(), ErrCursorClosed) {
		t.Errorf("Err = %v, want ErrCursorClosed", c.Err())
	}
}

func TestPruneRespectsOldestCursor(t *testing.T) {
	b := newTestBuffer(t, "hello")

	c1 := b.IterAt(0) // v0
	defer c1.Close()
	if err := b.Insert(0, []byte("a")); err != nil { // v1
		t.Fatal(err)
	}
	c2 := b.IterAt(3) // v1
	defer c2.Close()
	if err := b.Insert(0, []byte("b")); err != nil { // v2
		t.Fatal(err)
	}

	if got := b.Stats().LogLen; got != 2 {
		t.Fatalf("LogLen = %d, want 2 while c1 holds v0", got)
	}

	// c1 catches up; c2 still needs v2.
	if _, ok := c1.Next(); !ok {
		t.Fatal("c1.Next failed")
	}
	if err := b.Insert(0, []byte("c")); err != nil { // v3
		t.Fatal(err)
	}

	st := b.Stats()
	if st.LogLen != 3 {
		t.Errorf("LogLen = %d, want 3", st.LogLen)
	}
	if !st.HasWatermark || st.Watermark != 1 {
		t.Errorf("Watermark = %d, %v, want 1", st.Watermark, st.HasWatermark)
	}
	if got := c2.Position(); got != 5 {
		t.Errorf("c2 Position = %d, want 5", got)
	}
}

func TestPruneKeepsEditAtOldestCursorVersion(t *testing.T) {
	b := newTestBuffer(t, "hello")

	if err := b.Insert(0, []byte("a")); err != nil { // v1
		t.Fatal(err)
	}
	c := b.IterAt(0) // v1
	defer c.Close()
	if err := b.Insert(0, []byte("b")); err != nil { // v2
		t.Fatal(err)
	}

	s := b.s
	s.logMu.RLock()
	got := s.log.Since(0)
	s.logMu.RUnlock()

	want := []editlog.Edit{
		editlog.NewInsert(1, 0, 1),
		editlog.NewInsert(2, 0, 1),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("log while a cursor holds v1 (-want +got):\n%s", diff)
	}
	if got := c.Position(); got != 1 {
		t.Errorf("Position = %d, want 1", got)
	}
}

func TestPruneCursorMultiplicity(t *testing.T) {
	b := newTestBuffer(t, "hello")

	c1 := b.IterAt(0)
	c2 := b.IterAt(2)
	defer c2.Close()

	if err := b.Insert(0, []byte("x")); err != nil {
		t.Fatal(err)
	}
	c1.Close()
	if err := b.Insert(0, []byte("y")); err != nil {
		t.Fatal(err)
	}

	if got := b.Stats().LogLen; got != 2 {
		t.Errorf("LogLen = %d, want 2 while c2 still holds v0", got)
	}
	if got := c2.Position(); got != 4 {
		t.Errorf("c2 Position = %d, want 4", got)
	}
}

func TestPruneAfterLastCursorLeaves(t *testing.T) {
	b := newTestBuffer(t, "")

	c := b.IterAt(0)
	for i := 0; i < 3; i++ {
		if err := b.Insert(0, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	if got := b.Stats().LogLen; got != 3 {
		t.Fatalf("LogLen = %d, want 3", got)
	}

	c.Close()
	if err := b.Insert(0, []byte("y")); err != nil {
		t.Fatal(err)
	}

	st := b.Stats()
	if st.LogLen != 1 {
		t.Errorf("LogLen = %d, want 1 after the last cursor left", st.LogLen)
	}
	if st.HasWatermark {
		t.Errorf("HasWatermark = true with no cursors")
	}
}

func TestCursorCreatedAfterEditsSeesCurrentContent(t *testing.T) {
	b := newTestBuffer(t, "world")
	if err := b.Insert(0, []byte("hello ")); err != nil {
		t.Fatal(err)
	}

	c := b.IterAt(6)
	defer c.Close()
	if c.Version() != 1 {
		t.Errorf("Version = %d, want 1", c.Version())
	}
	if got, ok := c.Next(); !ok || got != 'w' {
		t.Errorf("Next = %q, %v, want 'w'", got, ok)
	}
}
