package gen

import (
	"bytes"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"strings"
	"testing"

	"github.com/rawbytedev/evolv/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src []byte) *ast.File {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "gen.go", src, parser.ParseComments)
	require.NoError(t, err, string(src))
	return f
}

func imports(f *ast.File) []string {
	var out []string
	for _, imp := range f.Imports {
		out = append(out, strings.Trim(imp.Path.Value, `"`))
	}
	return out
}

func TestGenerateSensor(t *testing.T) {
	m, err := manifest.LoadFile("../../manifest/testdata/sensor.yaml")
	require.NoError(t, err)
	src, err := Generate(m)
	require.NoError(t, err)
	f := parse(t, src)
	code := string(src)

	assert.True(t, strings.HasPrefix(code, header))
	assert.Equal(t, "sensor", f.Name.Name)
	assert.Equal(t, []string{"unsafe", "github.com/rawbytedev/evolv", "github.com/rawbytedev/evolv/layout"}, imports(f))

	for _, want := range []string{
		"type Reading struct{}",
		"func (Reading) EvolutionLine() *evolv.Line { return readingLine }",
		"evolv.Register[Reading, ReadingV2](),",
		"type ReadingV1 struct {\n\tReadingV0\n\tHumidity uint8\n}",
		"Station  [6]byte",
		"type ReadingV3 struct {\n\tReadingV2\n\t_ layout.Boundary\n}",
		"func (ReadingV3) Version() evolv.Version { return 3 }",
		"_ [unsafe.Sizeof(ReadingV3{}) - unsafe.Sizeof(ReadingV2{}) - 1]struct{}",
		"_ [unsafe.Alignof(StatusV4{}) - unsafe.Alignof(StatusV0{})]struct{}",
		"type ReadingProbe struct{ evolv.Probe[Reading] }",
		"func (p ReadingProbe) Pressure() (v float64, ok bool) {",
		"e, ok := evolv.ProbeAs[ReadingV2](p.Probe)",
		"func (StatusV4) Version() evolv.Version { return 4 }",
	} {
		assert.Contains(t, code, want)
	}
}

// decls prints every top-level declaration on its own, so layout choices
// that span declarations do not matter.
func decls(t *testing.T, src []byte) []string {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "decls.go", src, 0)
	require.NoError(t, err)
	var out []string
	for _, d := range f.Decls {
		var buf bytes.Buffer
		require.NoError(t, format.Node(&buf, fset, d))
		out = append(out, buf.String())
	}
	return out
}

// The checked-in sensor example is what the generator produces for its
// manifest, so its tests exercise generated accessors.
func TestGenerateMatchesSensorExample(t *testing.T) {
	m, err := manifest.LoadFile("../../examples/sensor/evolv.yaml")
	require.NoError(t, err)
	src, err := Generate(m)
	require.NoError(t, err)
	committed, err := os.ReadFile("../../examples/sensor/main_evolv.go")
	require.NoError(t, err)

	assert.Equal(t, imports(parse(t, committed)), imports(parse(t, src)))
	assert.Equal(t, decls(t, committed), decls(t, src))
}

func TestGenerateSingleEvolution(t *testing.T) {
	m, err := manifest.Load(strings.NewReader(`
package: flags
lines:
  - name: Flags
    evolutions:
      - version: 0
        fields:
          - {name: Bits, type: uint32}
`))
	require.NoError(t, err)
	src, err := Generate(m)
	require.NoError(t, err)
	f := parse(t, src)
	assert.Equal(t, []string{"github.com/rawbytedev/evolv"}, imports(f))
	assert.NotContains(t, string(src), "unsafe.Sizeof")
	assert.Equal(t, "flags_evolv.go", FileName(m))
}

func TestGenerateRejectsInvalid(t *testing.T) {
	_, err := Generate(&manifest.Manifest{Package: "p"})
	require.ErrorIs(t, err, manifest.ErrInvalid)
}
