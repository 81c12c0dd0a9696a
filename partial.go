package evolv

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/layout"
)

// Releaser is implemented by fields that own something which must be given
// back when the partial value holding them is discarded.
type Releaser interface {
	Release()
}

var releaserType = reflect.TypeFor[Releaser]()

// Partial is a composite T of which only the first few groups are
// initialized. Groups past Size are absent: they are never read, copied out
// or released.
type Partial[T any] struct {
	value T
	size  uintptr
	comp  *layout.Composite
	moved bool
}

// NewPartial wraps value with size initialized bytes. size must be the end
// of one of T's groups; later groups of value are zeroed.
func NewPartial[T any](value T, size uintptr) (*Partial[T], error) {
	c, err := layout.CompositeOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	n, ok := c.GroupsFor(size)
	if !ok {
		return nil, errors.Wrapf(ErrBuilderFieldMismatch, "%d bytes do not end a group of %s", size, c.Type)
	}
	p := &Partial[T]{value: value, size: size, comp: c}
	base := unsafe.Pointer(&p.value)
	for _, g := range c.Groups[n:] {
		groupAt(base, g).SetZero()
	}
	return p, nil
}

// NewPartialGroups is NewPartial counting groups instead of bytes.
func NewPartialGroups[T any](value T, groups int) (*Partial[T], error) {
	c, err := layout.CompositeOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if groups < 1 || groups > len(c.Groups) {
		return nil, errors.Wrapf(ErrBuilderFieldMismatch, "%s has %d groups, not %d", c.Type, len(c.Groups), groups)
	}
	return NewPartial(value, c.Boundary(groups))
}

// Complete wraps a fully initialized composite.
func Complete[T any](value T) (*Partial[T], error) {
	c, err := layout.CompositeOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return &Partial[T]{value: value, size: c.Size, comp: c}, nil
}

func (p *Partial[T]) live() {
	if p.moved {
		panic(moved(p))
	}
}

// Size returns the number of initialized bytes.
func (p *Partial[T]) Size() uintptr {
	p.live()
	return p.size
}

// Groups returns the number of initialized groups.
func (p *Partial[T]) Groups() int {
	p.live()
	n, _ := p.comp.GroupsFor(p.size)
	return n
}

func (p *Partial[T]) IsComplete() bool {
	p.live()
	return p.size == p.comp.Size
}

// TryUnwrap returns the composite when every group is initialized. On
// success p is moved; on failure p is left as it was.
func (p *Partial[T]) TryUnwrap() (T, bool) {
	if !p.IsComplete() {
		var zero T
		return zero, false
	}
	v := p.value
	p.invalidate()
	return v, true
}

// Unwrap is TryUnwrap for callers that know p is complete.
func (p *Partial[T]) Unwrap() T {
	v, ok := p.TryUnwrap()
	if !ok {
		panic(errors.AssertionFailedf("evolv: unwrap of incomplete %s (%d of %d bytes)", p.comp.Type, p.size, p.comp.Size))
	}
	return v
}

// Parts returns a view of p's groups. The view borrows p: releasing it is
// a no-op and it must not outlive p.
func (p *Partial[T]) Parts() Parts[T] {
	p.live()
	return Parts[T]{box: &partsBox{base: unsafe.Pointer(&p.value), comp: p.comp, size: p.size, borrowed: true}}
}

// IntoBoxedParts moves p's value to the heap and returns it as parts.
func (p *Partial[T]) IntoBoxedParts() Parts[T] {
	p.live()
	heap := new(T)
	*heap = p.value
	b := &partsBox{base: unsafe.Pointer(heap), comp: p.comp, size: p.size}
	p.invalidate()
	return Parts[T]{box: b}
}

// Release releases the initialized groups of p. Moved partials have nothing
// left to release.
func (p *Partial[T]) Release() {
	if p.moved {
		return
	}
	releaseGroups(unsafe.Pointer(&p.value), p.comp, p.size)
	p.invalidate()
}

func (p *Partial[T]) invalidate() {
	var zero T
	p.value = zero
	p.moved = true
}

func (p *Partial[T]) String() string {
	if p.moved {
		return fmt.Sprintf("Partial[%s](moved)", reflect.TypeFor[T]())
	}
	return fmt.Sprintf("Partial[%s](%d/%d groups)", p.comp.Type, p.Groups(), len(p.comp.Groups))
}

type partsBox struct {
	base     unsafe.Pointer
	comp     *layout.Composite
	size     uintptr
	borrowed bool
	released bool
}

func (b *partsBox) bytes() []byte {
	return unsafe.Slice((*byte)(b.base), b.size)
}

// Parts is a length-tagged view over the groups of a composite. Views made
// with View share the same storage and release state.
type Parts[T any] struct {
	box *partsBox
}

func (p Parts[T]) live() *partsBox {
	if p.box == nil || p.box.released {
		panic(moved(p))
	}
	return p.box
}

// Size returns the number of initialized bytes.
func (p Parts[T]) Size() uintptr { return p.live().size }

// Groups returns the number of initialized groups.
func (p Parts[T]) Groups() int {
	b := p.live()
	n, _ := b.comp.GroupsFor(b.size)
	return n
}

// IsReleased reports whether the storage behind p was released or moved.
func (p Parts[T]) IsReleased() bool { return p.box == nil || p.box.released }

// Release releases the initialized groups. It is idempotent and affects
// every view of the same storage.
func (p Parts[T]) Release() {
	b := p.box
	if b == nil || b.borrowed || b.released {
		return
	}
	releaseGroups(b.base, b.comp, b.size)
	b.released = true
}

func (p Parts[T]) String() string {
	if p.IsReleased() {
		return fmt.Sprintf("Parts[%s](released)", reflect.TypeFor[T]())
	}
	return fmt.Sprintf("Parts[%s](%d bytes)", reflect.TypeFor[T](), p.box.size)
}

// Group returns group i of the parts when it is initialized. G must be the
// group's type.
func Group[G, T any](p Parts[T], i int) (*G, bool) {
	b := p.live()
	if i < 0 || i >= len(b.comp.Groups) {
		return nil, false
	}
	g := b.comp.Groups[i]
	if g.End > b.size {
		return nil, false
	}
	if want := reflect.TypeFor[G](); g.Type != want {
		panic(errors.AssertionFailedf("evolv: group %d of %s is %s, not %s", i, b.comp.Type, g.Type, want))
	}
	return (*G)(unsafe.Add(b.base, g.Offset)), true
}

// View reinterprets parts of T as parts of U. Both composites must agree on
// the groups they have in common.
func View[U, T any](p Parts[T]) (Parts[U], error) {
	b := p.live()
	cu, err := layout.CompositeOf(reflect.TypeFor[U]())
	if err != nil {
		return Parts[U]{}, err
	}
	if err := samePrefix(cu, b.comp); err != nil {
		return Parts[U]{}, err
	}
	return Parts[U]{box: b}, nil
}

// FromBoxedParts moves boxed parts into a partial of T. When the parts do
// not fit T the error is ErrOversizedParts and p is left untouched.
func FromBoxedParts[T any](p Parts[T]) (*Partial[T], error) {
	b := p.live()
	if b.borrowed {
		return nil, errors.AssertionFailedf("evolv: parts of %s are borrowed from a partial", b.comp.Type)
	}
	c, err := layout.CompositeOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if b.size > c.Size {
		return nil, errors.Wrapf(ErrOversizedParts, "%d bytes do not fit %s (%d bytes)", b.size, c.Type, c.Size)
	}
	n, ok := c.GroupsFor(b.size)
	if !ok {
		return nil, errors.Wrapf(ErrBuilderFieldMismatch, "%d bytes do not end a group of %s", b.size, c.Type)
	}
	if err := samePrefix(c, b.comp); err != nil {
		return nil, err
	}
	out := &Partial[T]{size: b.size, comp: c}
	dst := unsafe.Pointer(&out.value)
	for i, g := range c.Groups[:n] {
		groupAt(dst, g).Set(groupAt(b.base, b.comp.Groups[i]))
	}
	b.released = true
	return out, nil
}

func samePrefix(a, b *layout.Composite) error {
	for i := range min(len(a.Groups), len(b.Groups)) {
		ga, gb := a.Groups[i], b.Groups[i]
		if ga.Type != gb.Type || ga.Offset != gb.Offset {
			return errors.Wrapf(layout.ErrPrefixMismatch, "group %d is %s in %s but %s in %s",
				i, ga.Type, a.Type, gb.Type, b.Type)
		}
	}
	return nil
}

// groupAt returns a settable value for group g of the composite at base.
// Going through NewAt keeps unexported group fields usable.
func groupAt(base unsafe.Pointer, g layout.Group) reflect.Value {
	return reflect.NewAt(g.Type, unsafe.Add(base, g.Offset)).Elem()
}

// releaseGroups stops at the first group that is not fully initialized.
func releaseGroups(base unsafe.Pointer, c *layout.Composite, size uintptr) {
	for _, g := range c.Groups {
		if g.End > size {
			return
		}
		releaseValue(groupAt(base, g))
	}
}

func releaseValue(v reflect.Value) {
	t := v.Type()
	switch {
	case t.Implements(releaserType):
		if (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && v.IsNil() {
			return
		}
		v.Interface().(Releaser).Release()
	case reflect.PointerTo(t).Implements(releaserType):
		v.Addr().Interface().(Releaser).Release()
	case t.Kind() == reflect.Struct:
		base := v.Addr().UnsafePointer()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			releaseValue(reflect.NewAt(sf.Type, unsafe.Add(base, sf.Offset)).Elem())
		}
	case t.Kind() == reflect.Array:
		for i := 0; i < v.Len(); i++ {
			releaseValue(v.Index(i))
		}
	}
}
