package common

import (
	"reflect"
	"unsafe"
)

// IsFixedKind reports whether k is a fixed-size primitive kind.
// Platform sized integers are excluded so layouts do not depend on GOARCH.
func IsFixedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	default:
		return false
	}
}

// FixedSize returns the byte width for fixed-size primitive kinds.
func FixedSize(k reflect.Kind) int {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Float64, reflect.Complex64:
		return 8
	case reflect.Complex128:
		return 16
	default:
		return -1
	}
}

// Alignment returns the alignment the gc toolchain uses for a fixed kind
// on 64-bit targets.
func Alignment(k reflect.Kind) int {
	switch k {
	case reflect.Int8, reflect.Uint8, reflect.Bool:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32, reflect.Complex64:
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Float64, reflect.Complex128:
		return 8
	default:
		return 1
	}
}

var kindNames = map[string]reflect.Kind{
	"bool":       reflect.Bool,
	"int8":       reflect.Int8,
	"int16":      reflect.Int16,
	"int32":      reflect.Int32,
	"int64":      reflect.Int64,
	"uint8":      reflect.Uint8,
	"byte":       reflect.Uint8,
	"uint16":     reflect.Uint16,
	"uint32":     reflect.Uint32,
	"uint64":     reflect.Uint64,
	"float32":    reflect.Float32,
	"float64":    reflect.Float64,
	"complex64":  reflect.Complex64,
	"complex128": reflect.Complex128,
}

// KindByName maps a Go predeclared type name to its fixed kind.
func KindByName(name string) (reflect.Kind, bool) {
	k, ok := kindNames[name]
	return k, ok
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// BytesOf returns the memory of *v as a byte slice without copying.
// T must not contain pointers.
func BytesOf[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// IsAligned reports whether the first byte of b sits on an align boundary.
// Empty slices are always aligned.
func IsAligned(b []byte, align int) bool {
	if len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))%uintptr(align) == 0
}
