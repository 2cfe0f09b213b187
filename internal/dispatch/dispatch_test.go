package dispatch

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breadpudding/matchmaking/internal/bitstream"
	"github.com/breadpudding/matchmaking/internal/config"
	"github.com/breadpudding/matchmaking/internal/message"
	"github.com/breadpudding/matchmaking/internal/netchan"
)

func testDispatcher() *Dispatcher {
	cfg := &config.Matchmaking{Address: "127.0.0.1", Port: 27015, Hostname: "breadpudding"}
	return New(cfg)
}

// buildStatefulDatagram assembles a minimal well-formed stateful datagram
// carrying the given bit-stream body (already past the reliable/challenge
// header fields) as unreliable content.
func buildStatefulDatagram(t *testing.T, seq, ack, challenge uint32, unreliable []byte) []byte {
	t.Helper()
	body := make([]byte, 0, 1+4+len(unreliable))
	body = append(body, 0) // reliable snapshot
	var chal [4]byte
	binary.LittleEndian.PutUint32(chal[:], challenge)
	body = append(body, chal[:]...)
	body = append(body, unreliable...)

	checksum := bitstream.ValveChecksum(body)

	packet := make([]byte, 0, 11+len(body))
	var seqB, ackB [4]byte
	binary.LittleEndian.PutUint32(seqB[:], seq)
	binary.LittleEndian.PutUint32(ackB[:], ack)
	packet = append(packet, seqB[:]...)
	packet = append(packet, ackB[:]...)
	packet = append(packet, 0x20) // flags: challenge only, no reliable data
	var csum [2]byte
	binary.LittleEndian.PutUint16(csum[:], checksum)
	packet = append(packet, csum[:]...)
	packet = append(packet, body...)
	return packet
}

func encodeMessages(t *testing.T, msgs []message.Message) []byte {
	t.Helper()
	w := bitstream.NewWriter()
	for _, m := range msgs {
		switch v := m.(type) {
		case message.NetSetConVars:
			w.WriteBits(uint32(message.TagNetSetConVars), 6)
			w.WriteByte(byte(len(v.ConVars)))
			for k, val := range v.ConVars {
				w.WriteString(k)
				w.WriteString(val)
			}
		default:
			t.Fatalf("unsupported test message type %T", m)
		}
	}
	return w.Bytes()
}

func TestSplitPacketHeaderProducesNoReply(t *testing.T) {
	d := testDispatcher()
	reply := d.Handle("peer:1", []byte{0xFE, 0xFF, 0xFF, 0xFF, 0x00}, time.Now())
	assert.Nil(t, reply)
	assert.Empty(t, d.clients)
}

func TestShortDatagramDropped(t *testing.T) {
	d := testDispatcher()
	reply := d.Handle("peer:1", []byte{0x01, 0x02}, time.Now())
	assert.Nil(t, reply)
}

func TestFirstStatefulContactSendsWelcomeAndCreatesClient(t *testing.T) {
	d := testDispatcher()
	datagram := buildStatefulDatagram(t, 1, 0, 0xABCDEF01, nil)

	reply := d.Handle("peer:1", datagram, time.Now())
	require.Len(t, reply, 2)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x42}, reply[0][:5])
	assert.Len(t, d.clients, 1)
}

func TestChecksumMismatchDropsWithoutStateChange(t *testing.T) {
	d := testDispatcher()
	datagram := buildStatefulDatagram(t, 1, 0, 1, nil)
	datagram[9] ^= 0xFF // corrupt checksum

	reply := d.Handle("peer:1", datagram, time.Now())
	// Still get the welcome frame from first contact, but no further progress.
	require.Len(t, reply, 1)
	assert.Len(t, reply[0], 5+14+1)
}

func TestFavoritesJoinConfirmsClient(t *testing.T) {
	d := testDispatcher()
	body := encodeMessages(t, []message.Message{message.NetSetConVars{ConVars: map[string]string{
		"name":             "alice",
		"cl_connectmethod": "serverbrowser_favorites",
	}}})
	datagram := buildStatefulDatagram(t, 1, 0, 1, body)

	d.Handle("peer:1", datagram, time.Now())
	client := d.clients["peer:1"]
	require.NotNil(t, client)
	assert.Equal(t, netchan.Confirmed, client.State)
}

func TestWrongJoinSourceYieldsDisconnect(t *testing.T) {
	d := testDispatcher()
	body := encodeMessages(t, []message.Message{message.NetSetConVars{ConVars: map[string]string{
		"cl_connectmethod": "quickplay",
	}}})
	datagram := buildStatefulDatagram(t, 1, 0, 1, body)

	reply := d.Handle("peer:1", datagram, time.Now())
	require.NotNil(t, reply)

	client := d.clients["peer:1"]
	require.NotNil(t, client)
	assert.Equal(t, netchan.Fresh, client.State)
}

func TestRedirectIsDeliveredOnNextDatagram(t *testing.T) {
	d := testDispatcher()
	first := buildStatefulDatagram(t, 1, 0, 1, nil)
	d.Handle("peer:1", first, time.Now())

	client := d.clients["peer:1"]
	require.NotNil(t, client)
	client.Advance(netchan.Confirmed)
	client.Enqueue(message.SvcStringCmd{Command: "redirect 10.0.0.1:27016"})

	second := buildStatefulDatagram(t, 2, 1, 1, nil)
	reply := d.Handle("peer:1", second, time.Now())
	require.Len(t, reply, 1)

	// The reply body starts with reliable byte + 4-byte challenge echo;
	// decoding the remainder should surface the queued redirect command.
	r := bitstream.NewReader(reply[0][11+1+4:])
	msgs := message.Decode(r)
	require.Len(t, msgs, 1)
	assert.Equal(t, message.SvcStringCmd{Command: "redirect 10.0.0.1:27016"}, msgs[0])
}

// buildReliableStatefulDatagram assembles a stateful datagram with the
// reliable flag set. reliableBits is the already bit-packed stream
// covering the 3-bit reliable selector followed by both subchannels'
// frames: it must be built as one contiguous bitstream.Writer, since the
// subchannel reader never re-aligns to a byte boundary between channels,
// and padding a separately-packed buffer out to a whole byte before
// concatenating would desync the second subchannel's frame.
func buildReliableStatefulDatagram(t *testing.T, seq, ack, challenge uint32, reliableBits []byte) []byte {
	t.Helper()
	body := make([]byte, 0, 1+4+len(reliableBits))
	body = append(body, 0) // reliable snapshot
	var chal [4]byte
	binary.LittleEndian.PutUint32(chal[:], challenge)
	body = append(body, chal[:]...)
	body = append(body, reliableBits...)

	checksum := bitstream.ValveChecksum(body)

	packet := make([]byte, 0, 11+len(body))
	var seqB, ackB [4]byte
	binary.LittleEndian.PutUint32(seqB[:], seq)
	binary.LittleEndian.PutUint32(ackB[:], ack)
	packet = append(packet, seqB[:]...)
	packet = append(packet, ackB[:]...)
	packet = append(packet, 0x21) // flags: reliable + challenge
	var csum [2]byte
	binary.LittleEndian.PutUint16(csum[:], checksum)
	packet = append(packet, csum[:]...)
	packet = append(packet, body...)
	return packet
}

func TestCompressedSubchannelYieldsDisconnectReply(t *testing.T) {
	d := testDispatcher()

	w := bitstream.NewWriter()
	w.WriteBits(0, 3) // reliable selector

	// Subchannel 0: present, not multi-block, declares compressed.
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteBool(true)
	w.WriteBits(123, 26)

	// Subchannel 1: not present.
	w.WriteBool(false)

	datagram := buildReliableStatefulDatagram(t, 1, 0, 1, w.Bytes())

	reply := d.Handle("peer:1", datagram, time.Now())
	require.Len(t, reply, 2) // welcome frame + stateful reply

	statefulReply := reply[1]
	r := bitstream.NewReader(statefulReply[11+1+4:])
	msgs := message.Decode(r)
	require.Len(t, msgs, 1)
	disconnect, ok := msgs[0].(message.NetDisconnect)
	require.True(t, ok)
	assert.Equal(t, netchan.CompressedRefusalReason, disconnect.Reason)
}

func TestEvictIdleDropsOnlyStaleClients(t *testing.T) {
	d := testDispatcher()
	base := time.Now()

	d.Handle("stale:1", buildStatefulDatagram(t, 1, 0, 1, nil), base)
	d.Handle("fresh:1", buildStatefulDatagram(t, 1, 0, 1, nil), base.Add(50*time.Second))
	require.Len(t, d.clients, 2)

	d.EvictIdle(base.Add(time.Minute), 30*time.Second)

	assert.NotContains(t, d.clients, "stale:1")
	assert.Contains(t, d.clients, "fresh:1")
}

func TestEvictIdleDisabledByZeroTimeout(t *testing.T) {
	d := testDispatcher()
	base := time.Now()
	d.Handle("peer:1", buildStatefulDatagram(t, 1, 0, 1, nil), base)

	d.EvictIdle(base.Add(24*time.Hour), 0)

	assert.Contains(t, d.clients, "peer:1")
}
