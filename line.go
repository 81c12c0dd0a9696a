package evolv

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/archive"
	"github.com/rawbytedev/evolv/layout"
)

// Entry describes one registered evolution of a line.
type Entry struct {
	version Version
	size    int
	align   int
	typ     reflect.Type
	base    reflect.Type
}

// Register captures the metadata of evolution V of line E.
func Register[E Evolving, V Evolution[E]]() Entry {
	var v V
	t := reflect.TypeFor[V]()
	return Entry{
		version: v.Version(),
		size:    int(t.Size()),
		align:   t.Align(),
		typ:     t,
		base:    reflect.TypeFor[E](),
	}
}

func (e Entry) Version() Version   { return e.version }
func (e Entry) Size() int          { return e.size }
func (e Entry) Type() reflect.Type { return e.typ }

// Line is the immutable registry of every evolution of one base type,
// ordered oldest first.
type Line struct {
	name    string
	base    reflect.Type
	align   int
	entries []Entry
	plans   []*layout.Plan
}

// NewLine validates entries and builds a line from them.
func NewLine(name string, entries ...Entry) (*Line, error) {
	if len(entries) == 0 {
		return nil, errors.Wrapf(ErrInvalidLine, "line %q has no evolutions", name)
	}
	l := &Line{name: name, base: entries[0].base, entries: slices.Clone(entries)}
	for i, e := range l.entries {
		if e.base != l.base {
			return nil, errors.Wrapf(ErrInvalidLine, "line %q: %s evolves %s, not %s", name, e.typ, e.base, l.base)
		}
		if e.align > archive.MaxAlign {
			return nil, errors.Wrapf(ErrInvalidLine, "line %q: %s aligns to %d, more than %d", name, e.typ, e.align, archive.MaxAlign)
		}
		plan, err := layout.PlanOf(e.typ)
		if err != nil {
			return nil, errors.Wrapf(errors.Mark(err, ErrInvalidLine), "line %q", name)
		}
		if i > 0 {
			prev := l.entries[i-1]
			if e.version <= prev.version {
				return nil, errors.Wrapf(ErrInvalidLine, "line %q: %s (%s) does not follow %s (%s)",
					name, e.typ, e.version, prev.typ, prev.version)
			}
			if err := layout.VerifySuccessor(l.plans[i-1], plan); err != nil {
				return nil, errors.Wrapf(errors.Mark(err, ErrInvalidLine), "line %q", name)
			}
		}
		l.align = max(l.align, e.align)
		l.plans = append(l.plans, plan)
	}
	return l, nil
}

// MustLine is NewLine for package-level registrations; it panics on error.
func MustLine(name string, entries ...Entry) *Line {
	l, err := NewLine(name, entries...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Line) Name() string { return l.name }

// Latest returns the newest version this binary knows about.
func (l *Line) Latest() Version { return l.entries[len(l.entries)-1].version }

// Versions lists the registered versions, oldest first.
func (l *Line) Versions() []Version {
	out := make([]Version, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.version
	}
	return out
}

// Entries returns a copy of the line's registrations.
func (l *Line) Entries() []Entry { return slices.Clone(l.entries) }

// Align is the largest alignment of any evolution in the line.
func (l *Line) Align() int { return l.align }

func (l *Line) index(v Version) (int, bool) {
	return slices.BinarySearchFunc(l.entries, v, func(e Entry, v Version) int {
		return cmp.Compare(e.version, v)
	})
}

// ProbeMetadata returns the byte size of version v.
func (l *Line) ProbeMetadata(v Version) (int, error) {
	i, ok := l.index(v)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownVersion, "line %q has no %s", l.name, v)
	}
	return l.entries[i].size, nil
}

// Size is ProbeMetadata without the error; unknown versions report false.
func (l *Line) Size(v Version) (int, bool) {
	i, ok := l.index(v)
	if !ok {
		return 0, false
	}
	return l.entries[i].size, true
}

// VersionForSize returns the version whose size is exactly n bytes.
func (l *Line) VersionForSize(n int) (Version, bool) {
	i, ok := slices.BinarySearchFunc(l.entries, n, func(e Entry, n int) int {
		return cmp.Compare(e.size, n)
	})
	if !ok {
		return 0, false
	}
	return l.entries[i].version, true
}

// SharedPrefix counts the leading evolutions that are layout-identical in
// both lines. A probe of one line can be rebound to the other up to that
// point.
func (l *Line) SharedPrefix(other *Line) int {
	n := 0
	for i := range min(len(l.plans), len(other.plans)) {
		a, b := l.plans[i], other.plans[i]
		if a.Size != b.Size || !layout.SharedPrefix(a, b) {
			break
		}
		n++
	}
	return n
}

func (l *Line) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[", l.name)
	for i, e := range l.entries {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s:%d", e.version, e.size)
	}
	b.WriteString("]")
	return b.String()
}
