package layout

import (
	"reflect"
	"sync"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pointV0 struct {
	X uint32
	Y uint8
}

type pointV1 struct {
	pointV0
	Z uint32
}

type pointV2 struct {
	pointV1
	_ Boundary
}

type pointV3 struct {
	pointV2
	Tag [3]byte
	W   float64
}

// same size as pointV1 but Z is reinterpreted
type pointV1Float struct {
	pointV0
	Z float32
}

type withString struct {
	pointV0
	Name string
}

type withInt struct {
	N int
}

type nested struct {
	Inner [2]pointV0
	Flag  bool
}

func TestPlanFlattens(t *testing.T) {
	plan, err := PlanFor[pointV3]()
	require.NoError(t, err)
	assert.Equal(t, unsafe.Sizeof(pointV3{}), plan.Size)
	assert.Equal(t, unsafe.Alignof(pointV3{}), plan.Align)
	require.Len(t, plan.Leaves, 5)
	assert.Equal(t, unsafe.Offsetof(pointV3{}.Tag), plan.Leaves[3].Offset)
	assert.Equal(t, reflect.Array, plan.Leaves[3].Kind)
	assert.Equal(t, reflect.Uint8, plan.Leaves[3].Elem)
	assert.Equal(t, reflect.Float64, plan.Leaves[4].Kind)

	plan, err = PlanFor[nested]()
	require.NoError(t, err)
	assert.Len(t, plan.Leaves, 5)
	assert.Equal(t, "nested.Inner[1].Y", plan.Leaves[3].Path)
}

func TestPlanRejectsPointers(t *testing.T) {
	_, err := PlanFor[withString]()
	require.ErrorIs(t, err, ErrNotFixedLayout)
	_, err = PlanFor[withInt]()
	require.ErrorIs(t, err, ErrNotFixedLayout)
	_, err = PlanFor[uint32]()
	require.ErrorIs(t, err, ErrNotStruct)
}

func TestPlanCacheConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	got := make([]*Plan, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := PlanFor[pointV1]()
			assert.NoError(t, err)
			got[i] = p
		}(i)
	}
	wg.Wait()
	for _, p := range got[1:] {
		assert.Same(t, got[0], p)
	}
}

func TestBoundaryForcesGrowth(t *testing.T) {
	assert.Greater(t, unsafe.Sizeof(pointV2{}), unsafe.Sizeof(pointV1{}))
	assert.Equal(t, uintptr(8), unsafe.Alignof(pointV2{}))
	require.NoError(t, AssertGrowth[pointV1, pointV2]())
	require.NoError(t, AssertGrowth[pointV2, pointV3]())
}

func TestVerifySuccessor(t *testing.T) {
	require.NoError(t, AssertGrowth[pointV0, pointV1]())

	err := AssertGrowth[pointV1, pointV0]()
	require.ErrorIs(t, err, ErrNotMonotonic)

	err = AssertGrowth[pointV1, pointV1Float]()
	require.ErrorIs(t, err, ErrNotMonotonic)

	type shrinking struct {
		A [16]byte
	}
	type grown struct {
		A [17]byte
	}
	type aligned struct {
		A uint64
		B uint64
	}
	err = AssertGrowth[aligned, grown]()
	require.ErrorIs(t, err, ErrAlignmentShrinks)

	err = AssertGrowth[shrinking, grown]()
	require.ErrorIs(t, err, ErrPrefixMismatch)

	type reordered struct {
		Y uint8
		X uint32
		Z uint32
	}
	err = AssertGrowth[pointV0, reordered]()
	require.ErrorIs(t, err, ErrPrefixMismatch)
}

func TestSharedPrefix(t *testing.T) {
	v0, err := PlanFor[pointV0]()
	require.NoError(t, err)
	v1, err := PlanFor[pointV1]()
	require.NoError(t, err)
	v1f, err := PlanFor[pointV1Float]()
	require.NoError(t, err)

	assert.True(t, SharedPrefix(v0, v1))
	assert.True(t, SharedPrefix(v0, v1f))
	assert.True(t, SharedPrefix(v1, v1))
	assert.False(t, SharedPrefix(v1, v0))
	assert.False(t, SharedPrefix(v1, v1f))
}

type pointParts struct {
	V0 pointV0
	V1 struct{ Z uint32 }
	V2 struct{ Label *string }
}

func TestComposite(t *testing.T) {
	c, err := CompositeOf(reflect.TypeFor[pointParts]())
	require.NoError(t, err)
	require.Len(t, c.Groups, 3)
	assert.False(t, c.PointerFree)
	assert.Equal(t, uintptr(8), c.Boundary(1))
	assert.Equal(t, uintptr(12), c.Boundary(2))
	assert.Equal(t, unsafe.Sizeof(pointParts{}), c.Size)

	n, ok := c.GroupsFor(12)
	require.True(t, ok)
	assert.Equal(t, 2, n)
	_, ok = c.GroupsFor(10)
	assert.False(t, ok)

	_, err = c.Plan()
	require.ErrorIs(t, err, ErrNotFixedLayout)

	again, err := CompositeOf(reflect.TypeFor[pointParts]())
	require.NoError(t, err)
	assert.Same(t, c, again)
}

func TestCompositeRejects(t *testing.T) {
	type flat struct{ A, B uint32 }
	_, err := CompositeOf(reflect.TypeFor[flat]())
	require.ErrorIs(t, err, ErrNotStruct)

	type empty struct{}
	_, err = CompositeOf(reflect.TypeFor[empty]())
	require.ErrorIs(t, err, ErrNotStruct)

	type zeroGroup struct {
		A pointV0
		B struct{}
	}
	_, err = CompositeOf(reflect.TypeFor[zeroGroup]())
	require.True(t, errors.Is(err, ErrNotMonotonic))
}
