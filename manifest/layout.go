package manifest

import "github.com/rawbytedev/evolv/internal/common"

// boundaryAlign is the alignment of layout.Boundary.
const boundaryAlign = 8

// Sizing is the computed layout of one evolution.
type Sizing struct {
	Version  uint16
	TypeName string
	Size     int
	Align    int
	Offsets  map[string]int
	Boundary bool // ends with a layout.Boundary marker
}

// Layout computes the size and alignment the gc toolchain gives each
// evolution of l on 64-bit targets. An evolution that adds no fields ends
// with a Boundary marker so it still grows.
func (l Line) Layout() []Sizing {
	out := make([]Sizing, 0, len(l.Evolutions))
	size, align := 0, 1
	for _, e := range l.Evolutions {
		s := Sizing{Version: e.Version, TypeName: l.TypeName(e), Offsets: map[string]int{}}
		cur := size
		for _, f := range e.Fields {
			fs, fa, _ := fieldLayout(f.Type)
			off := common.AlignUp(cur, fa)
			s.Offsets[f.Name] = off
			cur = off + fs
			align = max(align, fa)
		}
		if len(e.Fields) == 0 {
			align = max(align, boundaryAlign)
			cur = common.AlignUp(cur, boundaryAlign)
			// a trailing zero-size field pads a non-empty struct by one byte
			if cur > 0 {
				cur++
			}
			s.Boundary = true
		}
		size = common.AlignUp(cur, align)
		s.Size, s.Align = size, align
		out = append(out, s)
	}
	return out
}
