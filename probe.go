package evolv

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/archive"
)

// Probe is a read-only view of some evolution of E whose version is not
// known statically. The length of the viewed bytes decides which versions
// can be read from it.
type Probe[E Evolving] struct {
	data []byte
}

// NewProbe views data as an evolution of E. data must be aligned for the
// line; an empty slice is a valid probe that no evolution can be read from.
func NewProbe[E Evolving](data []byte) (Probe[E], error) {
	l := lineOf[E]()
	if !archive.IsAligned(data, l.align) {
		return Probe[E]{}, errors.Wrapf(ErrMisaligned, "probe of %s needs %d byte alignment", l.name, l.align)
	}
	return Probe[E]{data: data}, nil
}

// Len returns the number of bytes behind the probe.
func (p Probe[E]) Len() int { return len(p.data) }

// Bytes returns the bytes behind the probe. They must not be modified.
func (p Probe[E]) Bytes() []byte { return p.data }

func (p Probe[E]) Line() *Line { return lineOf[E]() }

// Version reports which evolution the probe holds exactly. It returns false
// for data written by a newer binary whose size this line does not know.
func (p Probe[E]) Version() (Version, bool) {
	return lineOf[E]().VersionForSize(len(p.data))
}

// Any drops the line binding.
func (p Probe[E]) Any() AnyProbe { return AnyProbe{data: p.data} }

func (p Probe[E]) String() string {
	l := lineOf[E]()
	if v, ok := l.VersionForSize(len(p.data)); ok {
		return fmt.Sprintf("Probe[%s](%s, %d bytes)", l.name, v, len(p.data))
	}
	return fmt.Sprintf("Probe[%s](unknown, %d bytes)", l.name, len(p.data))
}

// ProbeAs returns the prefix of p as evolution V, or false when p is too
// short to contain it.
func ProbeAs[V Evolution[E], E Evolving](p Probe[E]) (*V, bool) {
	if len(p.data) < SizeOf[V]() {
		return nil, false
	}
	return castPrefix[V](p.data), true
}

// AsVersionUnchecked is ProbeAs without the length check. The caller must
// know that p holds at least SizeOf[V]() bytes.
func AsVersionUnchecked[V Evolution[E], E Evolving](p Probe[E]) *V {
	return castPrefix[V](p.data)
}

// castPrefix is the only place bytes become a typed evolution.
func castPrefix[V any](data []byte) *V {
	var zero V
	if unsafe.Sizeof(zero) == 0 {
		return new(V)
	}
	return (*V)(unsafe.Pointer(unsafe.SliceData(data)))
}

// AnyProbe is a probe with no line attached.
type AnyProbe struct {
	data []byte
}

// NewAnyProbe checks data against the archive alignment.
func NewAnyProbe(data []byte) (AnyProbe, error) {
	if !archive.IsAligned(data, archive.MaxAlign) {
		return AnyProbe{}, errors.Wrap(ErrMisaligned, "any probe")
	}
	return AnyProbe{data: data}, nil
}

func (p AnyProbe) Len() int      { return len(p.data) }
func (p AnyProbe) Bytes() []byte { return p.data }

// Bind attaches the line of E to p. It fails like NewProbe when the bytes
// are not aligned for E.
func Bind[E Evolving](p AnyProbe) (Probe[E], error) { return NewProbe[E](p.data) }

// Rebind reinterprets a probe of E as a probe of F. It is sound for the
// evolutions both lines share, see Line.SharedPrefix. F may need a larger
// alignment than E, so the bytes are checked again.
func Rebind[F, E Evolving](p Probe[E]) (Probe[F], error) { return NewProbe[F](p.data) }
