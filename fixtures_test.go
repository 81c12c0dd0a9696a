package evolv

// Example is the line most tests use. Sizes: v0 8, v1 16, v2 24, v3 32.
type Example struct{}

func (Example) EvolutionLine() *Line { return exampleLine }

type ExampleV0 struct {
	A uint32
	B uint8
}

func (ExampleV0) Version() Version { return 0 }
func (ExampleV0) Base() Example    { return Example{} }

type ExampleV1 struct {
	ExampleV0
	C uint32
	D uint8
}

func (ExampleV1) Version() Version { return 1 }
func (ExampleV1) Base() Example    { return Example{} }

type ExampleV2 struct {
	ExampleV1
	E uint32
	F uint8
}

func (ExampleV2) Version() Version { return 2 }
func (ExampleV2) Base() Example    { return Example{} }

type ExampleV3 struct {
	ExampleV2
	G uint64
}

func (ExampleV3) Version() Version { return 3 }
func (ExampleV3) Base() Example    { return Example{} }

var exampleLine = MustLine("Example",
	Register[Example, ExampleV0](),
	Register[Example, ExampleV1](),
	Register[Example, ExampleV2](),
	Register[Example, ExampleV3](),
)

// Next is Example as a newer binary knows it, with one more evolution.
type Next struct{}

func (Next) EvolutionLine() *Line { return nextLine }

type nextV0 struct{ ExampleV0 }

func (nextV0) Version() Version { return 0 }
func (nextV0) Base() Next       { return Next{} }

type nextV1 struct{ ExampleV1 }

func (nextV1) Version() Version { return 1 }
func (nextV1) Base() Next       { return Next{} }

type nextV2 struct{ ExampleV2 }

func (nextV2) Version() Version { return 2 }
func (nextV2) Base() Next       { return Next{} }

type nextV3 struct{ ExampleV3 }

func (nextV3) Version() Version { return 3 }
func (nextV3) Base() Next       { return Next{} }

type nextV4 struct {
	ExampleV3
	H uint64
}

func (nextV4) Version() Version { return 4 }
func (nextV4) Base() Next       { return Next{} }

var nextLine = MustLine("Next",
	Register[Next, nextV0](),
	Register[Next, nextV1](),
	Register[Next, nextV2](),
	Register[Next, nextV3](),
	Register[Next, nextV4](),
)

// Lines A and B agree on v0 and v1 and diverge at v2.
type LineA struct{}

func (LineA) EvolutionLine() *Line { return lineA }

type a0 struct{ P uint32 }

func (a0) Version() Version { return 0 }
func (a0) Base() LineA      { return LineA{} }

type a1 struct {
	a0
	Q uint32
}

func (a1) Version() Version { return 1 }
func (a1) Base() LineA      { return LineA{} }

type a2 struct {
	a1
	R uint8
}

func (a2) Version() Version { return 2 }
func (a2) Base() LineA      { return LineA{} }

var lineA = MustLine("A", Register[LineA, a0](), Register[LineA, a1](), Register[LineA, a2]())

type LineB struct{}

func (LineB) EvolutionLine() *Line { return lineB }

type b0 struct{ P uint32 }

func (b0) Version() Version { return 0 }
func (b0) Base() LineB      { return LineB{} }

type b1 struct {
	b0
	Q uint32
}

func (b1) Version() Version { return 1 }
func (b1) Base() LineB      { return LineB{} }

type b2 struct {
	b1
	S uint64
}

func (b2) Version() Version { return 2 }
func (b2) Base() LineB      { return LineB{} }

var lineB = MustLine("B", Register[LineB, b0](), Register[LineB, b1](), Register[LineB, b2]())

func exampleV3(seed uint32) ExampleV3 {
	var v ExampleV3
	v.A, v.B = seed, uint8(seed)
	v.C, v.D = seed+1, uint8(seed+1)
	v.E, v.F = seed+2, uint8(seed+2)
	v.G = uint64(seed) << 32
	return v
}

// exampleParts lays its groups out exactly like the Example evolutions.
type exampleParts struct {
	V0 ExampleV0
	V1 struct {
		C uint32
		D uint8
	}
	V2 struct {
		E uint32
		F uint8
	}
	V3 struct{ G uint64 }
}

type counter struct{ live int }

func (c *counter) acquire() handle {
	c.live++
	return handle{c: c}
}

// handle is a counted reference; zero handles release nothing.
type handle struct{ c *counter }

func (h handle) Release() {
	if h.c != nil {
		h.c.live--
	}
}

type ownedV0 struct {
	A uint32
	H handle
}

type ownedV1 struct {
	B uint32
	H handle
}

type ownedV2 struct {
	C uint32
	H handle
}

type ownedParts struct {
	V0 ownedV0
	V1 ownedV1
	V2 ownedV2
}

type ownedPartsV1 struct {
	V0 ownedV0
	V1 ownedV1
}
