// Package archive is a small zero-copy archive format: values are appended to
// an aligned buffer, children before parents, and the root object occupies
// the final bytes of the buffer.
package archive

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/internal/common"
)

// MaxAlign is the largest alignment an archived value may require. Every
// buffer produced by this package starts on a MaxAlign boundary.
const MaxAlign = 8

var (
	ErrShortBuffer = errors.New("archive: buffer too short")
	ErrMisaligned  = errors.New("archive: misaligned data")
	ErrOutOfBounds = errors.New("archive: relative pointer out of bounds")
)

// Serializer accumulates archived bytes. The backing store is a []uint64 so
// offsets aligned within the archive are aligned in memory too.
type Serializer struct {
	words []uint64
	n     int
}

func NewSerializer(capHint int) *Serializer {
	s := &Serializer{}
	s.grow(capHint)
	return s
}

func (s *Serializer) buf() []byte {
	if len(s.words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s.words[0])), len(s.words)*8)
}

func (s *Serializer) grow(need int) {
	if need <= len(s.words)*8 {
		return
	}
	words := (need + 7) / 8
	if words < 2*len(s.words) {
		words = 2 * len(s.words)
	}
	if words < 8 {
		words = 8
	}
	w := make([]uint64, words)
	copy(w, s.words)
	s.words = w
}

// Pos returns the number of bytes written so far.
func (s *Serializer) Pos() int { return s.n }

// Pad zero-fills up to the next multiple of align.
func (s *Serializer) Pad(align int) {
	checkAlign(align)
	n := common.AlignUp(s.n, align)
	s.grow(n)
	s.n = n
}

// Reserve pads to align and claims size bytes. out is only valid until the
// next write.
func (s *Serializer) Reserve(size, align int) (pos int, out []byte) {
	s.Pad(align)
	pos = s.n
	s.grow(pos + size)
	s.n = pos + size
	return pos, s.buf()[pos : pos+size : pos+size]
}

// WriteBytes copies b into the archive at the given alignment.
func (s *Serializer) WriteBytes(b []byte, align int) int {
	pos, out := s.Reserve(len(b), align)
	copy(out, b)
	return pos
}

// Bytes returns the archive written so far. The slice aliases the
// serializer and starts on a MaxAlign boundary.
func (s *Serializer) Bytes() []byte {
	if s.n == 0 {
		return nil
	}
	return s.buf()[:s.n:s.n]
}

// Reset empties the serializer, keeping its storage.
func (s *Serializer) Reset() {
	clear(s.words)
	s.n = 0
}

func checkAlign(align int) {
	if !common.IsPow2(align) || align > MaxAlign {
		panic(errors.AssertionFailedf("archive: alignment %d is not a power of two up to %d", align, MaxAlign))
	}
}

// Archiver is implemented by values that archive in two phases: Serialize
// writes dependencies and returns what Resolve needs to fill the value's own
// fixed-size representation at pos.
type Archiver[R any] interface {
	Serialize(s *Serializer) (R, error)
	Resolve(pos int, r R, out []byte)
}

// SerializeValue runs both phases of v and returns the position of its
// fixed-size part.
func SerializeValue[R any](s *Serializer, v Archiver[R], size, align int) (int, error) {
	r, err := v.Serialize(s)
	if err != nil {
		return 0, err
	}
	pos, out := s.Reserve(size, align)
	v.Resolve(pos, r, out)
	return pos, nil
}

// WritePlain copies the bytes of a pointer-free value into the archive.
func WritePlain[T any](s *Serializer, v *T) int {
	return s.WriteBytes(common.BytesOf(v), int(unsafe.Alignof(*v)))
}

// At reinterprets the start of out as a *T. out must be at least Sizeof(T)
// bytes and suitably aligned.
func At[T any](out []byte) *T {
	var zero T
	if uintptr(len(out)) < unsafe.Sizeof(zero) || !common.IsAligned(out, int(unsafe.Alignof(zero))) {
		panic(errors.AssertionFailedf("archive: %d bytes cannot hold %T", len(out), zero))
	}
	if unsafe.Sizeof(zero) == 0 {
		return new(T)
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(out)))
}

// IsAligned reports whether b starts on an align boundary.
func IsAligned(b []byte, align int) bool {
	return common.IsAligned(b, align)
}

// NewAligned allocates n zeroed bytes starting on a MaxAlign boundary. It
// returns nil for n == 0.
func NewAligned(n int) []byte {
	if n == 0 {
		return nil
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// Aligned returns buf itself when it starts on a MaxAlign boundary and an
// aligned copy otherwise.
func Aligned(buf []byte) []byte {
	if IsAligned(buf, MaxAlign) {
		return buf
	}
	out := NewAligned(len(buf))
	copy(out, buf)
	return out
}
