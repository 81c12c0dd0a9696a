package archive

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cockroachdb/errors"
)

const (
	FrameMagic       = 0x314C5645 // "EVL1"
	FrameVersion     = 1
	FrameHeaderSize  = 16
	FrameTrailerSize = 4

	// FlagEvolutionRoot marks a payload whose root is an archived evolution.
	FlagEvolutionRoot = 0x0001
)

var (
	ErrBadMagic = errors.New("archive: bad frame magic")
	ErrChecksum = errors.New("archive: frame checksum mismatch")
)

// FrameHeader precedes an archive stored outside of memory.
type FrameHeader struct {
	Magic   uint32 // 4B
	Version uint16 // 2B
	Flags   uint16 // 2B
	Length  uint64 // 8B payload length
}

func putHeader(buf []byte, h FrameHeader) {
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:], h.Version)
	binary.LittleEndian.PutUint16(buf[6:], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:], h.Length)
}

// ParseFrameHeader decodes the header at the start of data.
func ParseFrameHeader(data []byte) (FrameHeader, error) {
	var h FrameHeader
	if len(data) < FrameHeaderSize {
		return h, errors.Wrapf(ErrShortBuffer, "frame header needs %d bytes, have %d", FrameHeaderSize, len(data))
	}
	h.Magic = binary.LittleEndian.Uint32(data[0:])
	h.Version = binary.LittleEndian.Uint16(data[4:])
	h.Flags = binary.LittleEndian.Uint16(data[6:])
	h.Length = binary.LittleEndian.Uint64(data[8:])
	if h.Magic != FrameMagic {
		return h, errors.Wrapf(ErrBadMagic, "got %#08x", h.Magic)
	}
	if h.Version != FrameVersion {
		return h, errors.Newf("archive: unsupported frame version %d", h.Version)
	}
	return h, nil
}

// EncodeFrame wraps payload in a header and a crc32 trailer. The result is
// MaxAlign aligned, so the payload inside it is too.
func EncodeFrame(payload []byte, flags uint16) []byte {
	out := NewAligned(FrameHeaderSize + len(payload) + FrameTrailerSize)
	putHeader(out, FrameHeader{Magic: FrameMagic, Version: FrameVersion, Flags: flags, Length: uint64(len(payload))})
	end := FrameHeaderSize + copy(out[FrameHeaderSize:], payload)
	// CRC over header and payload
	binary.LittleEndian.PutUint32(out[end:], crc32.ChecksumIEEE(out[:end]))
	return out
}

// DecodeFrame validates a frame and returns its payload. The payload aliases
// data when it is already aligned and is an aligned copy otherwise.
func DecodeFrame(data []byte) ([]byte, FrameHeader, error) {
	h, err := ParseFrameHeader(data)
	if err != nil {
		return nil, h, err
	}
	want := uint64(FrameHeaderSize + FrameTrailerSize)
	if uint64(len(data)) < want || uint64(len(data))-want != h.Length {
		return nil, h, errors.Wrapf(ErrShortBuffer, "frame of %d bytes declares %d payload bytes", len(data), h.Length)
	}
	end := len(data) - FrameTrailerSize
	if crc32.ChecksumIEEE(data[:end]) != binary.LittleEndian.Uint32(data[end:]) {
		return nil, h, ErrChecksum
	}
	return Aligned(data[FrameHeaderSize:end:end]), h, nil
}
