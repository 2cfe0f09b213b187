// Package message implements the netchannel's tagged union of net/svc
// messages: a 6-bit type tag followed by a tag-specific body, as carried
// inside a subchannel payload once reassembled.
package message

import (
	"fmt"
	"math"

	"github.com/breadpudding/matchmaking/internal/bitstream"
)

func bitsToFloat32(bits uint32) float32 {
	return math.Float32frombits(bits)
}

// Tag is the 6-bit message type discriminator.
type Tag byte

const (
	TagNetNop               Tag = 0
	TagNetDisconnect        Tag = 1
	TagNetTick              Tag = 3
	TagSvcStringCmd         Tag = 4
	TagNetSetConVars        Tag = 5
	TagNetSignonState       Tag = 6
	TagSvcPrint             Tag = 7
	TagSvcServerInfo        Tag = 8
	TagSvcCreateStringTable Tag = 12
	TagClcCmdKeyValues      Tag = 16
)

// Message is any decoded or encodable net/svc message.
type Message interface {
	Tag() Tag
}

// NetNop is the sentinel "progress but no output" message, and also the
// zero-cost keepalive/no-op on the wire. Encoding it writes nothing beyond
// the tag.
type NetNop struct{}

func (NetNop) Tag() Tag { return TagNetNop }

// NetDisconnect carries a human-readable disconnect reason.
type NetDisconnect struct {
	Reason string
}

func (NetDisconnect) Tag() Tag { return TagNetDisconnect }

// NetTick carries the server tick count and two frame-time scalars.
type NetTick struct {
	Tick                uint32
	HostFrameTime       float64
	HostFrameTimeStdDev float64
}

func (NetTick) Tag() Tag { return TagNetTick }

// SvcStringCmd carries a console command string, e.g. a redirect.
type SvcStringCmd struct {
	Command string
}

func (SvcStringCmd) Tag() Tag { return TagSvcStringCmd }

// NetSetConVars carries a set of client console-variable key/value pairs.
type NetSetConVars struct {
	ConVars map[string]string
}

func (NetSetConVars) Tag() Tag { return TagNetSetConVars }

// NetSignonState carries the client's signon state and spawn count.
type NetSignonState struct {
	State      uint8
	SpawnCount int32
}

func (NetSignonState) Tag() Tag { return TagNetSignonState }

// SvcPrint carries a string printed to the client's console.
type SvcPrint struct {
	Text string
}

func (SvcPrint) Tag() Tag { return TagSvcPrint }

// SvcServerInfo carries the full server description block. This server
// never emits one (it is not in the required-outbound set), but decoding
// support is kept for completeness of the known tag set.
type SvcServerInfo struct {
	Protocol     uint8
	ServerCount  int32
	IsHLTV       bool
	IsDedicated  bool
	MaxClasses   uint16
	MD5          [16]byte
	PlayerSlot   uint8
	MaxClients   uint8
	TickInterval float32
	OS           byte
	GameDir      string
	MapName      string
	SkyName      string
	HostName     string
	IsReplay     bool
}

func (SvcServerInfo) Tag() Tag { return TagSvcServerInfo }

// SvcCreateStringTable and ClcCmdKeyValues are known tags whose body layout
// this spec does not commit to (see package-level doc on Decode). Seeing
// either mid-stream aborts decoding of the remaining stream.
type SvcCreateStringTable struct{}

func (SvcCreateStringTable) Tag() Tag { return TagSvcCreateStringTable }

type ClcCmdKeyValues struct{}

func (ClcCmdKeyValues) Tag() Tag { return TagClcCmdKeyValues }

// Decode reads messages from r until fewer than 6 bits remain. Encountering
// a tag with no known or fully-specified body layout (an unrecognized tag,
// or SVC_CREATE_STRING_TABLE / CLC_CmdKeyValues, whose real wire layout
// this spec treats as unspecified) aborts decoding and returns whatever was
// accumulated so far — there is no way to know where the next tag begins
// without knowing how many bits the unparsed body occupies.
func Decode(r *bitstream.Reader) []Message {
	var out []Message
	for r.BitsLeft() >= 6 {
		tagBits, err := r.ReadBits(6)
		if err != nil {
			break
		}
		msg, ok := decodeOne(Tag(tagBits), r)
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

func decodeOne(tag Tag, r *bitstream.Reader) (Message, bool) {
	switch tag {
	case TagNetNop:
		return NetNop{}, true
	case TagNetDisconnect:
		reason, err := r.ReadString()
		if err != nil {
			return nil, false
		}
		return NetDisconnect{Reason: reason}, true
	case TagNetTick:
		tick, err := r.ReadUint32()
		if err != nil {
			return nil, false
		}
		ft, err := r.ReadUint16()
		if err != nil {
			return nil, false
		}
		ftStdDev, err := r.ReadUint16()
		if err != nil {
			return nil, false
		}
		return NetTick{
			Tick:                tick,
			HostFrameTime:       float64(ft) / 100000,
			HostFrameTimeStdDev: float64(ftStdDev) / 100000,
		}, true
	case TagSvcStringCmd:
		cmd, err := r.ReadString()
		if err != nil {
			return nil, false
		}
		return SvcStringCmd{Command: cmd}, true
	case TagNetSetConVars:
		num, err := r.ReadByte()
		if err != nil {
			return nil, false
		}
		convars := make(map[string]string, num)
		for i := 0; i < int(num); i++ {
			key, err := r.ReadString()
			if err != nil {
				return nil, false
			}
			value, err := r.ReadString()
			if err != nil {
				return nil, false
			}
			convars[key] = value
		}
		return NetSetConVars{ConVars: convars}, true
	case TagNetSignonState:
		state, err := r.ReadByte()
		if err != nil {
			return nil, false
		}
		spawnCount, err := r.ReadInt32()
		if err != nil {
			return nil, false
		}
		return NetSignonState{State: state, SpawnCount: spawnCount}, true
	case TagSvcPrint:
		text, err := r.ReadString()
		if err != nil {
			return nil, false
		}
		return SvcPrint{Text: text}, true
	case TagSvcServerInfo:
		return decodeServerInfo(r)
	default:
		// Includes TagSvcCreateStringTable, TagClcCmdKeyValues, and any
		// truly unrecognized tag value.
		return nil, false
	}
}

func decodeServerInfo(r *bitstream.Reader) (Message, bool) {
	read := func(n int) (uint32, bool) {
		v, err := r.ReadBits(n)
		return v, err == nil
	}
	protocol, ok := read(8)
	if !ok {
		return nil, false
	}
	serverCount, err := r.ReadInt32()
	if err != nil {
		return nil, false
	}
	hltv, ok := read(8)
	if !ok {
		return nil, false
	}
	dedicated, ok := read(8)
	if !ok {
		return nil, false
	}
	if _, ok := read(32); !ok { // deprecated CRC, skipped
		return nil, false
	}
	maxClasses, ok := read(16)
	if !ok {
		return nil, false
	}
	md5Bytes, err := r.ReadBytes(16)
	if err != nil {
		return nil, false
	}
	playerSlot, ok := read(8)
	if !ok {
		return nil, false
	}
	maxClients, ok := read(8)
	if !ok {
		return nil, false
	}
	tickIntervalBits, ok := read(32)
	if !ok {
		return nil, false
	}
	osByte, ok := read(8)
	if !ok {
		return nil, false
	}
	gameDir, err := r.ReadString()
	if err != nil {
		return nil, false
	}
	mapName, err := r.ReadString()
	if err != nil {
		return nil, false
	}
	skyName, err := r.ReadString()
	if err != nil {
		return nil, false
	}
	hostName, err := r.ReadString()
	if err != nil {
		return nil, false
	}
	replay, ok := read(8)
	if !ok {
		return nil, false
	}

	var md5 [16]byte
	copy(md5[:], md5Bytes)

	return SvcServerInfo{
		Protocol:     uint8(protocol),
		ServerCount:  serverCount,
		IsHLTV:       hltv != 0,
		IsDedicated:  dedicated != 0,
		MaxClasses:   uint16(maxClasses),
		MD5:          md5,
		PlayerSlot:   uint8(playerSlot),
		MaxClients:   uint8(maxClients),
		TickInterval: bitsToFloat32(tickIntervalBits),
		OS:           byte(osByte),
		GameDir:      gameDir,
		MapName:      mapName,
		SkyName:      skyName,
		HostName:     hostName,
		IsReplay:     replay != 0,
	}, true
}

// Encode writes messages in order to w. Only NET_DISCONNECT, SVC_PRINT,
// SVC_STRING_CMD, and NET_NOP are ever produced by this server (the
// required outbound set); any other message reaching Encode is a
// programming error.
func Encode(w *bitstream.Writer, messages []Message) error {
	for _, m := range messages {
		w.WriteBits(uint32(m.Tag()), 6)
		switch v := m.(type) {
		case NetNop:
			// no body
		case NetDisconnect:
			w.WriteString(v.Reason)
		case SvcPrint:
			w.WriteString(v.Text)
		case SvcStringCmd:
			w.WriteString(v.Command)
		default:
			return fmt.Errorf("message: encoding not supported for tag %d", m.Tag())
		}
	}
	return nil
}
