package evolv

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/archive"
	"github.com/rawbytedev/evolv/layout"
)

// noCopy lets go vet's copylocks check flag copies of an envelope.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// ArchivedEvolution is the in-archive envelope of some evolution of E. It
// only exists inside archive memory: obtain it with AccessEvolution or
// CheckEvolution and use it through its pointer.
//
// The payload is located relative to the envelope's own address. A zero
// envelope panics on use, but a copy (x := *ae) does not: it reads memory
// relative to wherever the copy lives. Such copies are only caught by
// go vet's copylocks check, so packages handling envelopes should be vetted.
type ArchivedEvolution[E Evolving] struct {
	noCopy noCopy
	_      [0]*E
	probe  archive.RelPtr
}

func (ae *ArchivedEvolution[E]) payload() []byte {
	if !ae.probe.IsResolved() {
		panic(errors.AssertionFailedf("evolv: %T used outside of archive memory", ae))
	}
	return ae.probe.Bytes()
}

// Len returns the payload size in bytes.
func (ae *ArchivedEvolution[E]) Len() int { return len(ae.payload()) }

// Version returns the version of the payload, or false when it was written
// by a newer evolution this binary does not know.
func (ae *ArchivedEvolution[E]) Version() (Version, bool) {
	return ae.Probe().Version()
}

func (ae *ArchivedEvolution[E]) Probe() Probe[E] { return Probe[E]{data: ae.payload()} }

func (ae *ArchivedEvolution[E]) AnyProbe() AnyProbe { return AnyProbe{data: ae.payload()} }

func (ae *ArchivedEvolution[E]) String() string {
	return fmt.Sprintf("ArchivedEvolution(%s)", ae.Probe())
}

// ProbeAsVersion reads the payload as evolution V.
func ProbeAsVersion[V Evolution[E], E Evolving](ae *ArchivedEvolution[E]) (*V, bool) {
	return ProbeAs[V](ae.Probe())
}

// ProbeVersion narrows the payload to the bytes of version v. It reports
// false when the payload predates v and fails for versions the line does
// not register.
func ProbeVersion[E Evolving](ae *ArchivedEvolution[E], v Version) (AnyProbe, bool, error) {
	size, err := lineOf[E]().ProbeMetadata(v)
	if err != nil {
		return AnyProbe{}, false, err
	}
	data := ae.payload()
	if len(data) < size {
		return AnyProbe{}, false, nil
	}
	return AnyProbe{data: data[:size:size]}, true, nil
}

// AsSpecificProbe rebinds the payload to the line of F. The payload was
// aligned for E only, so it fails with ErrMisaligned when F needs more.
func AsSpecificProbe[F, E Evolving](ae *ArchivedEvolution[E]) (Probe[F], error) {
	return Rebind[F](ae.Probe())
}

// EvolutionResolver carries the position and length of a serialized
// payload until its envelope is written.
type EvolutionResolver struct {
	pos int
	len int
}

func (r EvolutionResolver) Pos() int { return r.pos }
func (r EvolutionResolver) Len() int { return r.len }

// SerializeEvolution writes the payload of v.
func SerializeEvolution[E Evolving, V Evolution[E]](s *archive.Serializer, v *V) (EvolutionResolver, error) {
	l := lineOf[E]()
	ver := (*v).Version()
	size, err := l.ProbeMetadata(ver)
	if err != nil {
		return EvolutionResolver{}, err
	}
	if size != SizeOf[V]() {
		return EvolutionResolver{}, errors.Wrapf(ErrBuilderFieldMismatch,
			"%T is %d bytes, %s is registered with %d", *v, SizeOf[V](), ver, size)
	}
	// payloads sit at the line's alignment so any evolution can be read from them
	s.Pad(l.align)
	return EvolutionResolver{pos: archive.WritePlain(s, v), len: size}, nil
}

// SerializeParts writes the initialized prefix of pointer-free parts as the
// payload of an evolution of E.
func SerializeParts[E Evolving, T any](s *archive.Serializer, p Parts[T]) (EvolutionResolver, error) {
	b := p.live()
	cplan, err := b.comp.Plan()
	if err != nil {
		return EvolutionResolver{}, err
	}
	l := lineOf[E]()
	ver, ok := l.VersionForSize(int(b.size))
	if !ok {
		return EvolutionResolver{}, errors.Wrapf(ErrBuilderFieldMismatch,
			"%d bytes of %s are not an evolution of %s", b.size, b.comp.Type, l.name)
	}
	i, _ := l.index(ver)
	if !layout.SharedPrefix(l.plans[i], cplan) {
		return EvolutionResolver{}, errors.Wrapf(layout.ErrPrefixMismatch,
			"%s does not lay out %s like %s", b.comp.Type, ver, l.entries[i].typ)
	}
	pos := s.WriteBytes(b.bytes(), l.align)
	return EvolutionResolver{pos: pos, len: int(b.size)}, nil
}

// ResolveEvolution writes the envelope for r into out, which sits at pos.
func ResolveEvolution[E Evolving](pos int, r EvolutionResolver, out []byte) {
	var ae ArchivedEvolution[E]
	off := int(unsafe.Offsetof(ae.probe))
	archive.ResolveRelPtr(out[off:], pos+off, r.pos, r.len)
}

// EnvelopeLayout returns the archived size and alignment of
// ArchivedEvolution[E], for values that reserve room for one.
func EnvelopeLayout[E Evolving]() (size, align int) {
	var ae ArchivedEvolution[E]
	return int(unsafe.Sizeof(ae)), int(unsafe.Alignof(ae))
}

// WriteEvolution appends the envelope for r and returns its position.
func WriteEvolution[E Evolving](s *archive.Serializer, r EvolutionResolver) int {
	pos, out := s.Reserve(EnvelopeLayout[E]())
	ResolveEvolution[E](pos, r, out)
	return pos
}

// Evolve archives an evolution as a field of a larger archived value: the
// parent serializes it first and later resolves it at the field's position,
// where it reads back as an ArchivedEvolution[E].
type Evolve[E Evolving, V Evolution[E]] struct {
	Value *V
}

func (f Evolve[E, V]) Serialize(s *archive.Serializer) (EvolutionResolver, error) {
	return SerializeEvolution[E](s, f.Value)
}

func (f Evolve[E, V]) Resolve(pos int, r EvolutionResolver, out []byte) {
	ResolveEvolution[E](pos, r, out)
}

// EvolveParts is Evolve for the initialized prefix of composite parts.
type EvolveParts[E Evolving, T any] struct {
	Parts Parts[T]
}

func (f EvolveParts[E, T]) Serialize(s *archive.Serializer) (EvolutionResolver, error) {
	return SerializeParts[E](s, f.Parts)
}

func (f EvolveParts[E, T]) Resolve(pos int, r EvolutionResolver, out []byte) {
	ResolveEvolution[E](pos, r, out)
}

// Archive serializes v into a fresh archive whose root is its envelope.
// The result is MaxAlign aligned.
func Archive[E Evolving, V Evolution[E]](v *V) ([]byte, error) {
	return archiveRoot[E](Evolve[E, V]{Value: v}, SizeOf[V]())
}

// ArchiveParts is Archive for composite parts.
func ArchiveParts[E Evolving, T any](p Parts[T]) ([]byte, error) {
	return archiveRoot[E](EvolveParts[E, T]{Parts: p}, int(p.Size()))
}

func archiveRoot[E Evolving](v archive.Archiver[EvolutionResolver], hint int) ([]byte, error) {
	size, align := EnvelopeLayout[E]()
	s := archive.NewSerializer(hint + archive.MaxAlign + size)
	if _, err := archive.SerializeValue(s, v, size, align); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

// AccessEvolution returns the envelope at the root of buf after checking
// its bounds and the alignment of its payload.
func AccessEvolution[E Evolving](buf []byte) (*ArchivedEvolution[E], error) {
	if _, err := archive.Root[ArchivedEvolution[E]](buf); err != nil {
		return nil, err
	}
	return CheckEvolution[E](buf, archive.RootPos[ArchivedEvolution[E]](buf))
}

// CheckEvolution validates the envelope stored at pos in buf, typically a
// field of some larger archived root, and returns it.
func CheckEvolution[E Evolving](buf []byte, pos int) (*ArchivedEvolution[E], error) {
	size, align := EnvelopeLayout[E]()
	if pos < 0 || pos+size > len(buf) {
		return nil, errors.Wrapf(archive.ErrShortBuffer, "envelope at %d in %d bytes", pos, len(buf))
	}
	if !archive.IsAligned(buf[pos:], align) {
		return nil, errors.Wrapf(ErrMisaligned, "envelope at %d", pos)
	}
	ae := archive.At[ArchivedEvolution[E]](buf[pos:])
	if err := archive.CheckRelPtr(buf, pos+int(unsafe.Offsetof(ae.probe))); err != nil {
		return nil, err
	}
	l := lineOf[E]()
	if !archive.IsAligned(ae.probe.Bytes(), l.align) {
		return nil, errors.Wrapf(ErrMisaligned, "payload of %s", l.name)
	}
	return ae, nil
}

// AccessEvolutionUnchecked returns the envelope at the root of buf without
// validation. buf must come from a trusted writer.
func AccessEvolutionUnchecked[E Evolving](buf []byte) *ArchivedEvolution[E] {
	return archive.RootUnchecked[ArchivedEvolution[E]](buf)
}

// AccessAny returns the payload of the envelope at the root of buf without
// binding it to a line.
func AccessAny(buf []byte) (AnyProbe, error) {
	var r archive.RelPtr
	root, err := archive.Root[archive.RelPtr](buf)
	if err != nil {
		return AnyProbe{}, err
	}
	if err := archive.CheckRelPtr(buf, len(buf)-int(unsafe.Sizeof(r))); err != nil {
		return AnyProbe{}, err
	}
	return AnyProbe{data: root.Bytes()}, nil
}
