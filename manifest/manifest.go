// Package manifest describes evolution lines in YAML so their Go types can
// be generated and their layouts checked without compiling them.
package manifest

import (
	"go/token"
	"io"
	"os"
	"reflect"
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/internal/common"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("manifest: invalid")

// Manifest is the root of a manifest file.
type Manifest struct {
	Package string `yaml:"package"`
	Lines   []Line `yaml:"lines"`
}

// Line is one evolving type.
type Line struct {
	Name       string      `yaml:"name"`
	Evolutions []Evolution `yaml:"evolutions"`
}

// Evolution lists the fields a version appends to its predecessor.
type Evolution struct {
	Version uint16  `yaml:"version"`
	Fields  []Field `yaml:"fields"`
}

type Field struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// reserved names collide with evolution or probe methods
var reserved = map[string]bool{
	"Version": true, "Base": true, "EvolutionLine": true,
	"Len": true, "Bytes": true, "Line": true, "Any": true, "String": true, "Probe": true,
}

var arrayType = regexp.MustCompile(`^\[([0-9]+)\]([a-z0-9]+)$`)

// Load decodes and validates a manifest.
func Load(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "manifest: decode")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile is Load for a file on disk.
func LoadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return m, nil
}

// Validate checks names, version order and field types.
func (m *Manifest) Validate() error {
	if !token.IsIdentifier(m.Package) {
		return errors.Wrapf(ErrInvalid, "package %q is not an identifier", m.Package)
	}
	if len(m.Lines) == 0 {
		return errors.Wrap(ErrInvalid, "no lines")
	}
	types := map[string]bool{}
	for _, l := range m.Lines {
		if !token.IsExported(l.Name) || !token.IsIdentifier(l.Name) {
			return errors.Wrapf(ErrInvalid, "line %q is not an exported identifier", l.Name)
		}
		if len(l.Evolutions) == 0 {
			return errors.Wrapf(ErrInvalid, "line %s has no evolutions", l.Name)
		}
		for _, name := range append([]string{l.Name, l.Name + "Probe"}, l.TypeNames()...) {
			if types[name] {
				return errors.Wrapf(ErrInvalid, "type %s is declared twice", name)
			}
			types[name] = true
		}
		fields := map[string]bool{}
		for i, e := range l.Evolutions {
			if i > 0 && e.Version <= l.Evolutions[i-1].Version {
				return errors.Wrapf(ErrInvalid, "line %s: v%d does not follow v%d", l.Name, e.Version, l.Evolutions[i-1].Version)
			}
			for _, f := range e.Fields {
				if !token.IsExported(f.Name) || !token.IsIdentifier(f.Name) || reserved[f.Name] {
					return errors.Wrapf(ErrInvalid, "line %s: field %q is not usable", l.Name, f.Name)
				}
				if fields[f.Name] {
					return errors.Wrapf(ErrInvalid, "line %s: field %s is declared twice", l.Name, f.Name)
				}
				fields[f.Name] = true
				if _, _, err := fieldLayout(f.Type); err != nil {
					return errors.Wrapf(err, "line %s: field %s", l.Name, f.Name)
				}
			}
		}
		sizes := l.Layout()
		for i := 1; i < len(sizes); i++ {
			if sizes[i].Size <= sizes[i-1].Size {
				return errors.Wrapf(ErrInvalid, "line %s: %s is %d bytes, not larger than %s",
					l.Name, sizes[i].TypeName, sizes[i].Size, sizes[i-1].TypeName)
			}
		}
	}
	for _, l := range m.Lines {
		for _, e := range l.Evolutions {
			for _, f := range e.Fields {
				if types[f.Name] {
					return errors.Wrapf(ErrInvalid, "field %s of %s shadows a type", f.Name, l.Name)
				}
			}
		}
	}
	return nil
}

// TypeName is the Go type name of evolution e of l.
func (l Line) TypeName(e Evolution) string {
	return l.Name + "V" + strconv.Itoa(int(e.Version))
}

// TypeNames lists the Go type names of every evolution of l.
func (l Line) TypeNames() []string {
	out := make([]string, len(l.Evolutions))
	for i, e := range l.Evolutions {
		out[i] = l.TypeName(e)
	}
	return out
}

// fieldLayout returns the size and alignment of a manifest field type.
func fieldLayout(typ string) (size, align int, err error) {
	if k, ok := common.KindByName(typ); ok {
		return common.FixedSize(k), common.Alignment(k), nil
	}
	if m := arrayType.FindStringSubmatch(typ); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n == 0 {
			return 0, 0, errors.Wrapf(ErrInvalid, "array length in %q", typ)
		}
		k, ok := common.KindByName(m[2])
		if !ok {
			return 0, 0, errors.Wrapf(ErrInvalid, "element type in %q", typ)
		}
		return n * common.FixedSize(k), common.Alignment(k), nil
	}
	return 0, 0, errors.Wrapf(ErrInvalid, "type %q is not a fixed-size type", typ)
}

// Kind returns the reflect kind of a field type; arrays report reflect.Array.
func (f Field) Kind() reflect.Kind {
	if k, ok := common.KindByName(f.Type); ok {
		return k
	}
	return reflect.Array
}
