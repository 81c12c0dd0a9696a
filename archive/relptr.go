package archive

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// RelPtr locates a byte range relative to the address of the RelPtr itself.
// Targets are always written before the pointer, so a resolved RelPtr has a
// negative offset. A zero RelPtr is unresolved.
type RelPtr struct {
	Off int32
	Len uint32
}

const relPtrSize = int(unsafe.Sizeof(RelPtr{}))

// Resolve points r, stored at fieldPos, to n bytes at targetPos.
func (r *RelPtr) Resolve(fieldPos, targetPos, n int) {
	if n == 0 {
		r.Off, r.Len = -1, 0
		return
	}
	off := targetPos - fieldPos
	if off >= 0 || targetPos+n > fieldPos || off < math.MinInt32 || uint64(n) > math.MaxUint32 {
		panic(errors.AssertionFailedf("archive: cannot point from %d to [%d, %d)", fieldPos, targetPos, targetPos+n))
	}
	r.Off, r.Len = int32(off), uint32(n)
}

// IsResolved reports whether r was written by Resolve.
func (r *RelPtr) IsResolved() bool { return r.Off < 0 }

// Bytes returns the target range. r must live inside the archive it was
// resolved in.
func (r *RelPtr) Bytes() []byte {
	if r.Len == 0 {
		return []byte{}
	}
	p := unsafe.Add(unsafe.Pointer(r), int(r.Off))
	return unsafe.Slice((*byte)(p), int(r.Len))
}

// ResolveRelPtr writes a RelPtr into out, which sits at fieldPos.
func ResolveRelPtr(out []byte, fieldPos, targetPos, n int) {
	At[RelPtr](out).Resolve(fieldPos, targetPos, n)
}

// CheckRelPtr validates the RelPtr stored at fieldPos in buf.
func CheckRelPtr(buf []byte, fieldPos int) error {
	if fieldPos < 0 || fieldPos+relPtrSize > len(buf) {
		return errors.Wrapf(ErrShortBuffer, "relative pointer at %d in %d bytes", fieldPos, len(buf))
	}
	if !IsAligned(buf[fieldPos:], int(unsafe.Alignof(RelPtr{}))) {
		return errors.Wrapf(ErrMisaligned, "relative pointer at %d", fieldPos)
	}
	r := At[RelPtr](buf[fieldPos:])
	if !r.IsResolved() {
		return errors.Wrapf(ErrOutOfBounds, "relative pointer at %d is unresolved", fieldPos)
	}
	if r.Len == 0 {
		return nil
	}
	start := fieldPos + int(r.Off)
	if start < 0 || start+int(r.Len) > fieldPos {
		return errors.Wrapf(ErrOutOfBounds, "relative pointer at %d targets [%d, %d)", fieldPos, start, start+int(r.Len))
	}
	return nil
}
