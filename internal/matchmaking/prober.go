package matchmaking

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const probeTimeout = 2 * time.Second

var a2sInfoRequest = append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x54}, append([]byte("Source Engine Query"), 0)...)

// A2SProber is the production Prober: it sends a real A2S_INFO query to a
// backend over UDP and parses the players, max_players and bots fields of
// the standard reply.
type A2SProber struct{}

// Info implements Prober.
func (A2SProber) Info(ctx context.Context, addr string, port uint16) (Info, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(probeTimeout)
	}

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return Info{}, fmt.Errorf("matchmaking: dialing %s:%d: %w", addr, port, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return Info{}, fmt.Errorf("matchmaking: setting probe deadline: %w", err)
	}
	if _, err := conn.Write(a2sInfoRequest); err != nil {
		return Info{}, fmt.Errorf("matchmaking: sending A2S_INFO: %w", err)
	}

	buf := make([]byte, 1400)
	n, err := conn.Read(buf)
	if err != nil {
		return Info{}, fmt.Errorf("matchmaking: reading A2S_INFO reply: %w", err)
	}

	return parseA2SInfoReply(buf[:n])
}

// parseA2SInfoReply decodes the standard A2S_INFO response body:
// header, reply type, protocol, then name/map/folder/game strings, app id,
// players, max_players, bots.
func parseA2SInfoReply(data []byte) (Info, error) {
	if len(data) < 6 || binary.LittleEndian.Uint32(data[0:4]) != 0xFFFFFFFF || data[4] != 0x49 {
		return Info{}, fmt.Errorf("matchmaking: malformed A2S_INFO reply")
	}

	cursor := 6 // past header, reply type, protocol byte
	for i := 0; i < 4; i++ {
		idx := bytes.IndexByte(data[cursor:], 0)
		if idx < 0 {
			return Info{}, fmt.Errorf("matchmaking: truncated A2S_INFO reply string field")
		}
		cursor += idx + 1
	}

	if cursor+5 > len(data) {
		return Info{}, fmt.Errorf("matchmaking: truncated A2S_INFO reply player fields")
	}
	cursor += 2 // app id (u16)
	players := data[cursor]
	maxPlayers := data[cursor+1]
	bots := data[cursor+2]

	return Info{Players: players, MaxPlayers: maxPlayers, Bots: bots}, nil
}
