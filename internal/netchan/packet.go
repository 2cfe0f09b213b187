package netchan

import (
	"encoding/binary"
	"fmt"

	"github.com/breadpudding/matchmaking/internal/bitstream"
	"github.com/breadpudding/matchmaking/internal/message"
)

const flagsChallengeOnly = 0x20

// BuildPacket encodes messages into a reply datagram for client, advancing
// its outbound sequence counter. ack is the peer's last-seen sequence;
// challenge is echoed back so the peer can match the reply to its request.
// The flags byte is always 0x20 (challenge only): this server never emits
// reliable subchannel frames.
func BuildPacket(client *Client, ack, challenge uint32, messages []message.Message) ([]byte, error) {
	seq := client.NextSeq()

	w := bitstream.NewWriter()
	if err := message.Encode(w, messages); err != nil {
		return nil, fmt.Errorf("netchan: encoding reply messages: %w", err)
	}
	payload := w.Bytes()

	body := make([]byte, 0, 1+4+len(payload))
	body = append(body, client.Reliable())
	body = appendUint32(body, challenge)
	body = append(body, payload...)

	checksum := bitstream.ValveChecksum(body)

	packet := make([]byte, 0, 4+4+1+2+len(body))
	packet = appendUint32(packet, seq)
	packet = appendUint32(packet, ack)
	packet = append(packet, flagsChallengeOnly)
	packet = appendUint16(packet, checksum)
	packet = append(packet, body...)

	return packet, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}
