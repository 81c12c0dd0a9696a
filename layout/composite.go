package layout

import (
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
)

// Group is one version's worth of fields inside a composite.
type Group struct {
	Index  int
	Name   string
	Type   reflect.Type
	Offset uintptr
	Size   uintptr
	End    uintptr // Offset+Size, the composite's size once this group is present
}

// Composite is the owned-side layout of a builder struct whose top-level
// fields are per-version groups, oldest first. Unlike a Plan it may hold
// pointers; PointerFree records whether its bytes can be archived as is.
type Composite struct {
	Type        reflect.Type
	Size        uintptr
	Groups      []Group
	PointerFree bool
}

var composites sync.Map // reflect.Type -> *Composite

// CompositeOf returns the cached composite layout of t.
func CompositeOf(t reflect.Type) (*Composite, error) {
	if c, ok := composites.Load(t); ok {
		return c.(*Composite), nil
	}
	c, err := buildComposite(t)
	if err != nil {
		return nil, err
	}
	actual, _ := composites.LoadOrStore(t, c)
	return actual.(*Composite), nil
}

func buildComposite(t reflect.Type) (*Composite, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrNotStruct, "composite %s is a %s", t, t.Kind())
	}
	if t.NumField() == 0 {
		return nil, errors.Wrapf(ErrNotStruct, "composite %s has no groups", t)
	}
	c := &Composite{Type: t, PointerFree: true}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Type.Kind() != reflect.Struct {
			return nil, errors.Wrapf(ErrNotStruct, "group %s of %s is a %s", sf.Name, t, sf.Type.Kind())
		}
		g := Group{Index: i, Name: sf.Name, Type: sf.Type, Offset: sf.Offset, Size: sf.Type.Size()}
		g.End = g.Offset + g.Size
		if i > 0 && g.End <= c.Groups[i-1].End {
			return nil, errors.Wrapf(ErrNotMonotonic, "group %s of %s ends at %d, previous group at %d",
				sf.Name, t, g.End, c.Groups[i-1].End)
		}
		if _, err := PlanOf(sf.Type); err != nil {
			c.PointerFree = false
		}
		c.Groups = append(c.Groups, g)
	}
	c.Size = c.Groups[len(c.Groups)-1].End
	return c, nil
}

// Boundary returns the initialized size of a composite holding its first n
// groups.
func (c *Composite) Boundary(n int) uintptr {
	if n <= 0 {
		return 0
	}
	return c.Groups[n-1].End
}

// GroupsFor returns how many groups make up exactly size bytes.
func (c *Composite) GroupsFor(size uintptr) (int, bool) {
	for i, g := range c.Groups {
		if g.End == size {
			return i + 1, true
		}
		if g.End > size {
			break
		}
	}
	return 0, false
}

// Plan returns the flattened layout of the composite. It fails for
// composites that hold pointers.
func (c *Composite) Plan() (*Plan, error) {
	if !c.PointerFree {
		return nil, errors.Wrapf(ErrNotFixedLayout, "composite %s holds pointers", c.Type)
	}
	return PlanOf(c.Type)
}
