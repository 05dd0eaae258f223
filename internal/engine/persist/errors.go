package persist

import (
	"errors"
	"fmt"
)

// Errors returned by stores.
var (
	// ErrOffsetOutOfRange indicates an offset or range outside [0, Len()].
	ErrOffsetOutOfRange = errors.New("offset out of range")

	// ErrRangeInvalid indicates a range whose start is after its end.
	ErrRangeInvalid = errors.New("invalid range")

	// ErrCorruptChunk indicates stored bytes no longer match their checksum.
	ErrCorruptChunk = errors.New("corrupt chunk")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// OutOfRangeError describes an access outside the stored content.
type OutOfRangeError struct {
	Op     string // "read", "insert" or "delete"
	Offset int64
	Len    int64
	Size   int64 // store length at the time of the access
}

// Error implements the error interface.
func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s of %d bytes at %d beyond length %d: %v",
		e.Op, e.Len, e.Offset, e.Size, ErrOffsetOutOfRange)
}

// Unwrap returns ErrOffsetOutOfRange.
func (e *OutOfRangeError) Unwrap() error {
	return ErrOffsetOutOfRange
}

// checkRange validates [offset, offset+n) against size. The end is never
// computed, so a huge n cannot overflow past the check.
func checkRange(op string, offset, n, size int64) error {
	if offset < 0 || n < 0 || offset > size || n > size-offset {
		return &OutOfRangeError{Op: op, Offset: offset, Len: n, Size: size}
	}
	return nil
}
