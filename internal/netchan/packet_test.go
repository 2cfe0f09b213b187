package netchan

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breadpudding/matchmaking/internal/bitstream"
	"github.com/breadpudding/matchmaking/internal/message"
)

func TestBuildPacketLayout(t *testing.T) {
	c := NewClient(time.Now())
	c.Flip(2)

	packet, err := BuildPacket(c, 7, 0xCAFEBABE, []message.Message{message.SvcPrint{Text: "hi"}})
	require.NoError(t, err)

	seq := binary.LittleEndian.Uint32(packet[0:4])
	ack := binary.LittleEndian.Uint32(packet[4:8])
	flags := packet[8]
	checksum := binary.LittleEndian.Uint16(packet[9:11])
	body := packet[11:]

	assert.Equal(t, uint32(1), seq)
	assert.Equal(t, uint32(7), ack)
	assert.Equal(t, byte(0x20), flags)
	assert.Equal(t, bitstream.ValveChecksum(body), checksum)

	assert.Equal(t, byte(1<<2), body[0])
	challenge := binary.LittleEndian.Uint32(body[1:5])
	assert.Equal(t, uint32(0xCAFEBABE), challenge)
}

func TestBuildPacketIncrementsSeqEachCall(t *testing.T) {
	c := NewClient(time.Now())
	p1, err := BuildPacket(c, 0, 0, nil)
	require.NoError(t, err)
	p2, err := BuildPacket(c, 0, 0, nil)
	require.NoError(t, err)

	seq1 := binary.LittleEndian.Uint32(p1[0:4])
	seq2 := binary.LittleEndian.Uint32(p2[0:4])
	assert.Less(t, seq1, seq2)
}
