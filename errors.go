package evolv

import (
	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/archive"
)

var (
	// ErrUnknownVersion is returned when a version is not registered in a line.
	ErrUnknownVersion = errors.New("evolv: unknown version")
	// ErrBuilderFieldMismatch is returned when a byte count does not end on
	// an evolution boundary.
	ErrBuilderFieldMismatch = errors.New("evolv: size does not match an evolution boundary")
	// ErrOversizedParts is returned when parts do not fit the target composite.
	ErrOversizedParts = errors.New("evolv: parts are larger than the target composite")
	// ErrStorageVersionOverflow is returned when a pylon's storage is older
	// than the evolution placed in it.
	ErrStorageVersionOverflow = errors.New("evolv: evolution is newer than pylon storage")
	ErrInvalidLine            = errors.New("evolv: invalid evolution line")
	ErrMoved                  = errors.New("evolv: value used after move")

	ErrMisaligned = archive.ErrMisaligned
)

func moved(what any) error {
	return errors.WithAssertionFailure(errors.Wrapf(ErrMoved, "%T", what))
}
