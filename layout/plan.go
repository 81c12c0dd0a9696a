// Package layout inspects and verifies the memory layout of evolution
// structs so that every version of a type is a byte prefix of the next.
package layout

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/internal/common"
)

var (
	ErrNotStruct        = errors.New("layout: expected a struct type")
	ErrNotFixedLayout   = errors.New("layout: type is not a fixed pointer-free layout")
	ErrNotMonotonic     = errors.New("layout: size does not strictly grow")
	ErrAlignmentShrinks = errors.New("layout: alignment shrinks")
	ErrPrefixMismatch   = errors.New("layout: predecessor is not a prefix")
)

// Boundary is a zero-size marker. As the last field of an evolution it makes
// the compiler pad the struct, so an evolution that appends nothing else is
// still strictly larger than its predecessor.
type Boundary [0]uint64

// Leaf is one primitive (or primitive array) inside a flattened struct.
type Leaf struct {
	Path   string
	Offset uintptr
	Size   uintptr
	Kind   reflect.Kind
	Elem   reflect.Kind // element kind for arrays
}

func (l Leaf) sameShape(o Leaf) bool {
	return l.Offset == o.Offset && l.Size == o.Size && l.Kind == o.Kind && l.Elem == o.Elem
}

// Plan is the flattened layout of a pointer-free struct.
type Plan struct {
	Type   reflect.Type
	Size   uintptr
	Align  uintptr
	Leaves []Leaf
}

func (p *Plan) String() string {
	return fmt.Sprintf("%s{size=%d align=%d leaves=%d}", p.Type, p.Size, p.Align, len(p.Leaves))
}

type planCache struct {
	mu    sync.RWMutex
	plans map[reflect.Type]*Plan
}

var plans = planCache{plans: make(map[reflect.Type]*Plan)}

// PlanOf returns the cached plan for t, building it on first use.
func PlanOf(t reflect.Type) (*Plan, error) {
	plans.mu.RLock()
	if plan, ok := plans.plans[t]; ok {
		plans.mu.RUnlock()
		return plan, nil
	}
	plans.mu.RUnlock()

	plans.mu.Lock()
	defer plans.mu.Unlock()

	// Double-check
	if plan, ok := plans.plans[t]; ok {
		return plan, nil
	}
	plan, err := buildPlan(t)
	if err != nil {
		return nil, err
	}
	plans.plans[t] = plan
	return plan, nil
}

// PlanFor is PlanOf for a static type.
func PlanFor[T any]() (*Plan, error) {
	return PlanOf(reflect.TypeFor[T]())
}

func buildPlan(t reflect.Type) (*Plan, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrNotStruct, "%s is a %s", t, t.Kind())
	}
	plan := &Plan{Type: t, Size: t.Size(), Align: uintptr(t.Align())}
	if err := flatten(t, 0, t.Name(), &plan.Leaves); err != nil {
		return nil, err
	}
	return plan, nil
}

func flatten(t reflect.Type, base uintptr, path string, leaves *[]Leaf) error {
	k := t.Kind()
	switch {
	case common.IsFixedKind(k):
		*leaves = append(*leaves, Leaf{Path: path, Offset: base, Size: t.Size(), Kind: k})
		return nil
	case k == reflect.Array:
		if t.Len() == 0 {
			// zero-length arrays occupy no bytes, whatever their element
			return nil
		}
		elem := t.Elem()
		if common.IsFixedKind(elem.Kind()) {
			*leaves = append(*leaves, Leaf{Path: path, Offset: base, Size: t.Size(), Kind: k, Elem: elem.Kind()})
			return nil
		}
		for i := 0; i < t.Len(); i++ {
			err := flatten(elem, base+uintptr(i)*elem.Size(), fmt.Sprintf("%s[%d]", path, i), leaves)
			if err != nil {
				return err
			}
		}
		return nil
	case k == reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if err := flatten(sf.Type, base+sf.Offset, path+"."+sf.Name, leaves); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Wrapf(ErrNotFixedLayout, "%s has type %s", path, t)
	}
}

// VerifySuccessor checks that next extends prev without disturbing any of
// prev's bytes.
func VerifySuccessor(prev, next *Plan) error {
	if next.Size <= prev.Size {
		return errors.Wrapf(ErrNotMonotonic, "%s is %d bytes, %s is %d bytes", next.Type, next.Size, prev.Type, prev.Size)
	}
	if next.Align < prev.Align {
		return errors.Wrapf(ErrAlignmentShrinks, "%s aligns to %d, %s to %d", next.Type, next.Align, prev.Type, prev.Align)
	}
	return checkPrefix(prev, next)
}

// SharedPrefix reports whether a is a byte-identical prefix of b.
func SharedPrefix(a, b *Plan) bool {
	return a.Size <= b.Size && checkPrefix(a, b) == nil
}

func checkPrefix(prev, next *Plan) error {
	covered := 0
	for _, nl := range next.Leaves {
		if nl.Offset >= prev.Size {
			continue
		}
		if covered >= len(prev.Leaves) || !prev.Leaves[covered].sameShape(nl) {
			return errors.Wrapf(ErrPrefixMismatch, "%s: %s at offset %d does not match %s", next.Type, nl.Path, nl.Offset, prev.Type)
		}
		covered++
	}
	if covered != len(prev.Leaves) {
		missing := prev.Leaves[covered]
		return errors.Wrapf(ErrPrefixMismatch, "%s: %s at offset %d is missing", next.Type, missing.Path, missing.Offset)
	}
	return nil
}

// AssertGrowth verifies at runtime what generated code asserts at compile
// time: Next is a valid successor of Prev.
func AssertGrowth[Prev, Next any]() error {
	prev, err := PlanFor[Prev]()
	if err != nil {
		return err
	}
	next, err := PlanFor[Next]()
	if err != nil {
		return err
	}
	return VerifySuccessor(prev, next)
}
