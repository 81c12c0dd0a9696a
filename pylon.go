package evolv

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/archive"
	"github.com/rawbytedev/evolv/internal/common"
)

// Pylon holds any evolution of E up to S in storage sized for S, remembering
// which version it actually holds.
type Pylon[E Evolving, S Evolution[E]] struct {
	storage S
	size    uintptr
	version Version
	moved   bool
}

// NewPylon places v in storage of type S. It fails when v is newer or larger
// than S.
func NewPylon[E Evolving, S Evolution[E], V Evolution[E]](v V) (*Pylon[E, S], error) {
	var s S
	l := lineOf[E]()
	if v.Version() > s.Version() || unsafe.Sizeof(v) > unsafe.Sizeof(s) {
		return nil, errors.Wrapf(ErrStorageVersionOverflow, "%T (%s) does not fit %T (%s)", v, v.Version(), s, s.Version())
	}
	size, err := l.ProbeMetadata(v.Version())
	if err != nil {
		return nil, err
	}
	if size != int(unsafe.Sizeof(v)) {
		return nil, errors.Wrapf(ErrBuilderFieldMismatch, "%T is %d bytes, %s is registered with %d", v, unsafe.Sizeof(v), v.Version(), size)
	}
	p := &Pylon[E, S]{size: uintptr(size), version: v.Version()}
	*(*V)(unsafe.Pointer(&p.storage)) = v
	return p, nil
}

// NewPylonUnchecked wraps storage that already holds version v.
func NewPylonUnchecked[E Evolving, S Evolution[E]](storage S, v Version) *Pylon[E, S] {
	size, err := lineOf[E]().ProbeMetadata(v)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "evolv: pylon of %T", storage))
	}
	return &Pylon[E, S]{storage: storage, size: uintptr(size), version: v}
}

func (p *Pylon[E, S]) live() {
	if p.moved {
		panic(moved(p))
	}
}

// Version returns the version held by the pylon.
func (p *Pylon[E, S]) Version() Version {
	p.live()
	return p.version
}

// Probe views the held evolution. The probe aliases the pylon.
func (p *Pylon[E, S]) Probe() Probe[E] {
	p.live()
	return Probe[E]{data: p.bytes()}
}

func (p *Pylon[E, S]) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&p.storage)), p.size)
}

// IsComplete reports whether the pylon holds its storage version.
func (p *Pylon[E, S]) IsComplete() bool {
	p.live()
	return p.version == p.storage.Version()
}

// TryUnwrap returns the storage when it holds the storage version. On
// success the pylon is moved.
func (p *Pylon[E, S]) TryUnwrap() (S, bool) {
	if !p.IsComplete() {
		var zero S
		return zero, false
	}
	s := p.storage
	p.invalidate()
	return s, true
}

func (p *Pylon[E, S]) Unwrap() S {
	s, ok := p.TryUnwrap()
	if !ok {
		panic(errors.AssertionFailedf("evolv: unwrap of %T holding %s", p, p.version))
	}
	return s
}

// IntoBoxedProbe copies exactly the held bytes to the heap and moves the
// pylon. A zero-size evolution allocates nothing.
func (p *Pylon[E, S]) IntoBoxedProbe() Probe[E] {
	p.live()
	data := archive.NewAligned(int(p.size))
	copy(data, p.bytes())
	p.invalidate()
	return Probe[E]{data: data}
}

func (p *Pylon[E, S]) invalidate() {
	var zero S
	p.storage = zero
	p.moved = true
}

func (p *Pylon[E, S]) String() string {
	if p.moved {
		return fmt.Sprintf("Pylon[%s](moved)", lineOf[E]().name)
	}
	return fmt.Sprintf("Pylon[%s](%s, %d of %d bytes)", lineOf[E]().name, p.version, p.size, len(common.BytesOf(&p.storage)))
}
