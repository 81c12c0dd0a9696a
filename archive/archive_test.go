package archive

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob []byte

type blobRoot struct {
	Data RelPtr
}

func (b blob) Serialize(s *Serializer) (int, error) {
	return s.WriteBytes(b, 1), nil
}

func (b blob) Resolve(pos int, target int, out []byte) {
	ResolveRelPtr(out, pos, target, len(b))
}

func archiveBlob(t *testing.T, b blob) []byte {
	t.Helper()
	s := NewSerializer(0)
	_, err := SerializeValue[int](s, b, int(unsafe.Sizeof(blobRoot{})), int(unsafe.Alignof(blobRoot{})))
	require.NoError(t, err)
	return s.Bytes()
}

func TestSerializerAlignment(t *testing.T) {
	s := NewSerializer(0)
	assert.Nil(t, s.Bytes())
	pos := s.WriteBytes([]byte{1, 2, 3}, 1)
	assert.Equal(t, 0, pos)
	v := uint64(42)
	pos = WritePlain(s, &v)
	assert.Equal(t, 8, pos)
	assert.Equal(t, 16, s.Pos())

	buf := s.Bytes()
	assert.True(t, IsAligned(buf, MaxAlign))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, buf[:8])
	assert.Equal(t, uint64(42), *At[uint64](buf[8:]))

	s.Reset()
	assert.Equal(t, 0, s.Pos())
	s.Pad(8)
	assert.Equal(t, 0, s.Pos())
}

func TestSerializerGrowKeepsData(t *testing.T) {
	s := NewSerializer(1)
	want := make([]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		s.WriteBytes([]byte{byte(i)}, 1)
		want = append(want, byte(i))
	}
	assert.Equal(t, want, s.Bytes())
	assert.True(t, IsAligned(s.Bytes(), MaxAlign))
}

func TestSerializerRejectsAlignment(t *testing.T) {
	s := NewSerializer(0)
	assert.Panics(t, func() { s.Pad(3) })
	assert.Panics(t, func() { s.Pad(16) })
}

func TestRelPtrRoundTrip(t *testing.T) {
	buf := archiveBlob(t, blob("hello evolution"))
	root, err := Root[blobRoot](buf)
	require.NoError(t, err)
	assert.True(t, root.Data.IsResolved())
	assert.Equal(t, []byte("hello evolution"), root.Data.Bytes())
	require.NoError(t, CheckRelPtr(buf, RootPos[blobRoot](buf)))
}

func TestRelPtrEmpty(t *testing.T) {
	buf := archiveBlob(t, blob(nil))
	root, err := Root[blobRoot](buf)
	require.NoError(t, err)
	assert.True(t, root.Data.IsResolved())
	assert.Empty(t, root.Data.Bytes())
	require.NoError(t, CheckRelPtr(buf, RootPos[blobRoot](buf)))
}

func TestCheckRelPtr(t *testing.T) {
	buf := archiveBlob(t, blob("abc"))
	pos := RootPos[blobRoot](buf)

	bad := Aligned(append([]byte(nil), buf...))
	At[RelPtr](bad[pos:]).Off = -int32(pos) - 8
	require.ErrorIs(t, CheckRelPtr(bad, pos), ErrOutOfBounds)

	zero := NewAligned(8)
	require.ErrorIs(t, CheckRelPtr(zero, 0), ErrOutOfBounds)
	require.ErrorIs(t, CheckRelPtr(zero, 4), ErrShortBuffer)

	var r RelPtr
	assert.Panics(t, func() { r.Resolve(0, 8, 4) })
}

func TestRootErrors(t *testing.T) {
	_, err := Root[blobRoot](make([]byte, 4))
	require.ErrorIs(t, err, ErrShortBuffer)

	buf := NewAligned(24)
	_, err = Root[uint64](buf[1:17])
	require.ErrorIs(t, err, ErrMisaligned)
}

func TestAligned(t *testing.T) {
	buf := NewAligned(17)
	assert.Same(t, &buf[0], &Aligned(buf)[0])

	shifted := buf[1:]
	shifted[0] = 7
	out := Aligned(shifted)
	assert.True(t, IsAligned(out, MaxAlign))
	assert.Equal(t, shifted, out)
	assert.Nil(t, NewAligned(0))
}

func TestFrame(t *testing.T) {
	payload := archiveBlob(t, blob("framed"))
	frame := EncodeFrame(payload, FlagEvolutionRoot)
	require.Len(t, frame, FrameHeaderSize+len(payload)+FrameTrailerSize)

	got, h, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, uint16(FlagEvolutionRoot), h.Flags)
	assert.Equal(t, payload, got)
	assert.Same(t, &frame[FrameHeaderSize], &got[0])

	// misaligned input still yields an aligned payload
	shifted := make([]byte, len(frame)+1)
	copy(shifted[1:], frame)
	got, _, err = DecodeFrame(shifted[1:])
	require.NoError(t, err)
	assert.True(t, IsAligned(got, MaxAlign))
	root, err := Root[blobRoot](got)
	require.NoError(t, err)
	assert.Equal(t, []byte("framed"), root.Data.Bytes())
}

func TestFrameErrors(t *testing.T) {
	frame := EncodeFrame([]byte("payload!"), 0)

	_, _, err := DecodeFrame(frame[:10])
	require.ErrorIs(t, err, ErrShortBuffer)

	_, _, err = DecodeFrame(frame[:len(frame)-1])
	require.ErrorIs(t, err, ErrShortBuffer)

	corrupt := append([]byte(nil), frame...)
	corrupt[FrameHeaderSize] ^= 0xFF
	_, _, err = DecodeFrame(corrupt)
	require.ErrorIs(t, err, ErrChecksum)

	corrupt = append([]byte(nil), frame...)
	corrupt[0] = 'X'
	_, _, err = DecodeFrame(corrupt)
	require.ErrorIs(t, err, ErrBadMagic)
}
