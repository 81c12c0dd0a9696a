// Package gen turns a manifest into Go source for its evolution lines.
package gen

import (
	"bytes"
	"go/format"
	"strings"
	"text/template"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/manifest"
)

const header = "// Code generated by evolvctl gen. DO NOT EDIT.\n"

type evolution struct {
	Type     string
	Prev     string
	Version  uint16
	Fields   []manifest.Field
	Boundary bool
}

type field struct {
	manifest.Field
	Owner string
}

type line struct {
	Name       string
	Var        string
	Evolutions []evolution
	Accessors  []field
}

type file struct {
	Header     string
	Package    string
	Lines      []line
	NeedUnsafe bool
	NeedLayout bool
}

var tmpl = template.Must(template.New("evolv").Parse(`{{.Header}}
package {{.Package}}

import (
{{- if .NeedUnsafe}}
	"unsafe"
{{end}}
	"github.com/rawbytedev/evolv"
{{- if .NeedLayout}}
	"github.com/rawbytedev/evolv/layout"
{{- end}}
)
{{range $l := .Lines}}
// {{.Name}} is the base type of the {{.Name}} evolution line.
type {{.Name}} struct{}

// EvolutionLine implements evolv.Evolving.
func ({{.Name}}) EvolutionLine() *evolv.Line { return {{.Var}} }

var {{.Var}} = evolv.MustLine("{{.Name}}",
{{- range .Evolutions}}
	evolv.Register[{{$l.Name}}, {{.Type}}](),
{{- end}}
)
{{range .Evolutions}}
// {{.Type}} is version {{.Version}} of {{$l.Name}}.
type {{.Type}} struct {
{{- if .Prev}}
	{{.Prev}}
{{- end}}
{{- range .Fields}}
	{{.Name}} {{.Type}}
{{- end}}
{{- if .Boundary}}
	_ layout.Boundary
{{- end}}
}

func ({{.Type}}) Version() evolv.Version { return {{.Version}} }
func ({{.Type}}) Base() {{$l.Name}} { return {{$l.Name}}{} }
{{end}}
{{- if gt (len .Evolutions) 1}}
// Every evolution is strictly larger and at least as aligned as the one before.
var (
{{- range .Evolutions}}{{if .Prev}}
	_ [unsafe.Sizeof({{.Type}}{}) - unsafe.Sizeof({{.Prev}}{}) - 1]struct{}
	_ [unsafe.Alignof({{.Type}}{}) - unsafe.Alignof({{.Prev}}{})]struct{}
{{- end}}{{end}}
)
{{end}}
// {{.Name}}Probe reads fields of any evolution of {{.Name}}.
type {{.Name}}Probe struct{ evolv.Probe[{{.Name}}] }

// New{{.Name}}Probe views data as some evolution of {{.Name}}.
func New{{.Name}}Probe(data []byte) ({{.Name}}Probe, error) {
	p, err := evolv.NewProbe[{{.Name}}](data)
	return {{.Name}}Probe{p}, err
}
{{range .Accessors}}
// {{.Name}} returns the field when the probed evolution has it.
func (p {{$l.Name}}Probe) {{.Name}}() (v {{.Type}}, ok bool) {
	e, ok := evolv.ProbeAs[{{.Owner}}](p.Probe)
	if ok {
		v = e.{{.Name}}
	}
	return v, ok
}
{{end}}{{end}}`))

// Generate renders the Go source for every line of m.
func Generate(m *manifest.Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	f := file{Package: m.Package, Header: header}
	for _, ml := range m.Lines {
		l := line{Name: ml.Name, Var: lowerFirst(ml.Name) + "Line"}
		sizes := ml.Layout()
		for i, e := range ml.Evolutions {
			ev := evolution{Type: ml.TypeName(e), Version: e.Version, Fields: e.Fields, Boundary: sizes[i].Boundary}
			if i > 0 {
				ev.Prev = ml.TypeName(ml.Evolutions[i-1])
				f.NeedUnsafe = true
			}
			if ev.Boundary {
				f.NeedLayout = true
			}
			for _, fd := range e.Fields {
				l.Accessors = append(l.Accessors, field{Field: fd, Owner: ev.Type})
			}
			l.Evolutions = append(l.Evolutions, ev)
		}
		f.Lines = append(f.Lines, l)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, f); err != nil {
		return nil, errors.Wrap(err, "gen: render")
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, errors.Wrapf(err, "gen: format\n%s", buf.String())
	}
	return out, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// FileName suggests an output file name for a manifest.
func FileName(m *manifest.Manifest) string {
	return strings.ToLower(m.Package) + "_evolv.go"
}
