package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteBitsRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBool(true)
	w.WriteBits(0x1A, 5)
	w.WriteUint16(0xBEEF)
	w.WriteString("hello")
	w.WriteVarint(300)

	r := NewReader(w.Bytes())

	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	bits, err := r.ReadBits(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1A), bits)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), u16)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	v, err := r.ReadVarint()
	require.NoError(t, err)
	assert.Equal(t, uint64(300), v)
}

func TestReadBitsUnalignedOffset(t *testing.T) {
	// 3 bits, then a varint — exercises the "cursor may be off by a
	// non-multiple of 8" requirement for varint reads.
	w := NewWriter()
	w.WriteBits(0x5, 3)
	w.WriteVarint(128)

	r := NewReader(w.Bytes())
	_, err := r.ReadBits(3)
	require.NoError(t, err)

	v, err := r.ReadVarint()
	require.NoError(t, err)
	assert.Equal(t, uint64(128), v)
}

func TestReadInt32ReinterpretsWithoutSignExtension(t *testing.T) {
	w := NewWriter()
	w.WriteUint32(0xFFFFFFFF)
	r := NewReader(w.Bytes())

	v, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)
}

func TestReadSignedBitsSignExtends(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0x1F, 5) // all 1s in 5 bits == -1 signed
	r := NewReader(w.Bytes())

	v, err := r.ReadSignedBits(5)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)
}

func TestShortBufferErrors(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadBits(32)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestValveChecksum(t *testing.T) {
	// Known-zero case: an empty payload's CRC32/IEEE is 0, so the fold is 0.
	assert.Equal(t, uint16(0), ValveChecksum(nil))

	sum1 := ValveChecksum([]byte("breadpudding"))
	sum2 := ValveChecksum([]byte("breadpudding"))
	assert.Equal(t, sum1, sum2)

	sum3 := ValveChecksum([]byte("matchmaking"))
	assert.NotEqual(t, sum1, sum3)
}
