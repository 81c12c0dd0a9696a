package archive

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// RootPos returns the position of a T root in buf.
func RootPos[T any](buf []byte) int {
	var zero T
	return len(buf) - int(unsafe.Sizeof(zero))
}

// Root returns the root object of an archive after checking that buf is
// long enough and that the root is aligned for T.
func Root[T any](buf []byte) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(buf) < size {
		return nil, errors.Wrapf(ErrShortBuffer, "%T root needs %d bytes, have %d", zero, size, len(buf))
	}
	if !IsAligned(buf[len(buf)-size:], int(unsafe.Alignof(zero))) {
		return nil, errors.Wrapf(ErrMisaligned, "%T root at %d", zero, len(buf)-size)
	}
	return RootUnchecked[T](buf), nil
}

// RootUnchecked returns the root object without validation.
func RootUnchecked[T any](buf []byte) *T {
	return At[T](buf[RootPos[T](buf):])
}
