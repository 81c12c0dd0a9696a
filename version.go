package evolv

import (
	"strconv"
	"unsafe"
)

// Version identifies one evolution within a line. Versions of a line are
// strictly increasing in both number and size.
type Version uint16

func (v Version) String() string {
	return "v" + strconv.Itoa(int(v))
}

// Evolving is implemented by the marker type that names a line of
// evolutions. Implementations must use a value receiver.
type Evolving interface {
	EvolutionLine() *Line
}

// Evolution is implemented by every version struct of the line E.
// Each evolution embeds its predecessor as its first field and must
// define its own Version method.
type Evolution[E Evolving] interface {
	Version() Version
	Base() E
}

// SizeOf returns the byte size of an evolution.
func SizeOf[V any]() int {
	var v V
	return int(unsafe.Sizeof(v))
}

func lineOf[E Evolving]() *Line {
	var e E
	return e.EvolutionLine()
}
