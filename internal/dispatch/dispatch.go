// Package dispatch routes inbound UDP datagrams to the connectionless or
// stateful handler and drives the per-peer session through a full
// parse -> handle -> build -> send cycle.
package dispatch

import (
	"encoding/binary"
	"time"

	"github.com/klauspost/compress/s2"

	"github.com/breadpudding/matchmaking/internal/bitstream"
	"github.com/breadpudding/matchmaking/internal/config"
	"github.com/breadpudding/matchmaking/internal/logging"
	"github.com/breadpudding/matchmaking/internal/message"
	"github.com/breadpudding/matchmaking/internal/netchan"
	"github.com/breadpudding/matchmaking/internal/wire"
)

const (
	headerStateless          = 0xFFFFFFFF
	headerStatefulCompressed = 0xFFFFFFFD
	headerSplitPacket        = 0xFFFFFFFE

	flagReliable  = 0x01
	flagChoked    = 0x10
	flagChallenge = 0x20

	statefulHeaderMinLength = 16

	disconnectNotFavorites = "You must join this server from the favorites tab!"
)

// Recorder observes dispatcher activity for audit purposes. Its methods are
// called synchronously on the event loop; internal/audit's sqlite-backed
// Recorder is the production implementation, and a no-op Recorder is used
// when audit logging is disabled.
type Recorder interface {
	RecordRequest(kind string, elapsed time.Duration)
	RecordJoin(addr, name string, accepted bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordRequest(string, time.Duration) {}
func (noopRecorder) RecordJoin(string, string, bool)      {}

// Dispatcher owns the client table and routes datagrams to the
// connectionless or stateful handler.
type Dispatcher struct {
	cfg      *config.Matchmaking
	clients  map[string]*netchan.Client
	log      *logging.Logger
	recorder Recorder
}

// New returns a Dispatcher for the given matchmaking identity config.
func New(cfg *config.Matchmaking) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		clients:  make(map[string]*netchan.Client),
		log:      logging.New("dispatch"),
		recorder: noopRecorder{},
	}
}

// SetRecorder installs an audit recorder. Pass nil to disable auditing.
func (d *Dispatcher) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	d.recorder = r
}

// Clients returns the live client table, keyed by "address:port". Callers
// (e.g. the matchmaking controller and admin console) must treat it as
// read-mostly: only the dispatcher's own goroutine mutates it, consistent
// with the single-threaded event loop model.
func (d *Dispatcher) Clients() map[string]*netchan.Client {
	return d.clients
}

// Handle processes one inbound datagram from addr and returns zero, one, or
// two reply datagrams to send back, each as its own UDP write: a brand new
// peer's first stateful datagram yields the connectionless welcome frame as
// a datagram of its own, separate from the stateful reply that follows it,
// rather than one concatenated buffer. now is the wall-clock time of
// receipt.
func (d *Dispatcher) Handle(addr string, datagram []byte, now time.Time) [][]byte {
	start := time.Now()
	reply, kind := d.dispatch(addr, datagram, now)
	d.recorder.RecordRequest(kind, time.Since(start))
	return reply
}

func (d *Dispatcher) dispatch(addr string, datagram []byte, now time.Time) ([][]byte, string) {
	if len(datagram) <= 4 {
		return nil, "dropped-short"
	}
	header := binary.LittleEndian.Uint32(datagram[0:4])

	switch header {
	case headerStateless:
		reply, err := wire.Handle(d.cfg, datagram)
		if err != nil {
			d.log.Warnf("stateless handler: %v", err)
			return nil, "stateless-error"
		}
		return datagrams(reply), "stateless"
	case headerSplitPacket:
		return nil, "dropped-split"
	case headerStatefulCompressed:
		if len(datagram) < 8 {
			d.log.Warnf("compressed stateful datagram too short")
			return nil, "dropped-short"
		}
		decompressed, err := s2.Decode(nil, datagram[8:])
		if err != nil {
			d.log.Warnf("decompressing stateful datagram: %v", err)
			return nil, "stateful-decompress-error"
		}
		return d.handleStateful(addr, decompressed, now), "stateful"
	default:
		return d.handleStateful(addr, datagram, now), "stateful"
	}
}

// datagrams wraps a single possibly-nil reply as the zero-or-one-element
// form Handle's callers iterate over.
func datagrams(reply []byte) [][]byte {
	if reply == nil {
		return nil
	}
	return [][]byte{reply}
}

func (d *Dispatcher) handleStateful(addr string, data []byte, now time.Time) [][]byte {
	client, isNew := d.clientFor(addr, now)
	client.Touch(now)

	var out [][]byte
	if isNew {
		out = append(out, wire.WelcomeFrame)
	}

	if len(data) < statefulHeaderMinLength {
		d.log.Warnf("%s: stateful datagram too short", addr)
		return out
	}

	seq := binary.LittleEndian.Uint32(data[0:4])
	flagsByte := data[8]
	checksum := binary.LittleEndian.Uint16(data[9:11])

	if bitstream.ValveChecksum(data[11:]) != checksum {
		d.log.Warnf("%s: checksum mismatch", addr)
		return out
	}

	cursor := 12 // byte 11 is the reliable snapshot, skipped without being read

	if flagsByte&flagChoked != 0 {
		cursor++ // choked byte: consumed, no further handling defined
	}

	if flagsByte&flagChallenge == 0 {
		d.log.Warnf("%s: stateful datagram missing required challenge flag", addr)
		return out
	}
	if cursor+4 > len(data) {
		d.log.Warnf("%s: truncated challenge field", addr)
		return out
	}
	challenge := binary.LittleEndian.Uint32(data[cursor : cursor+4])
	cursor += 4

	r := bitstream.NewReader(data[cursor:])
	var inbound []message.Message

	if flagsByte&flagReliable != 0 {
		selector, err := r.ReadBits(3)
		if err != nil {
			d.log.Warnf("%s: reading reliable selector: %v", addr, err)
			return out
		}
		client.Flip(int(selector))

		for i := range client.Channels {
			msgs, err := netchan.ParseSubchannel(&client.Channels[i], r)
			if err != nil {
				d.log.Warnf("%s: subchannel %d: %v", addr, i, err)
				return out
			}
			if reason, refused := subchannelRefusal(msgs); refused {
				// A policy disconnect synthesized by the subchannel
				// reassembler itself, not a client-originated NET_DISCONNECT:
				// it must reach the peer as the reply, so it bypasses
				// handleMessages entirely rather than being routed through
				// the generic inbound-message switch (which only logs and
				// tears down client-originated disconnects).
				d.log.Warnf("%s: refusing compressed subchannel payload", addr)
				packet, err := netchan.BuildPacket(client, seq, challenge, []message.Message{message.NetDisconnect{Reason: reason}})
				if err != nil {
					d.log.Errorf("%s: building reply packet: %v", addr, err)
					return out
				}
				return append(out, packet)
			}
			inbound = append(inbound, msgs...)
		}
	}

	inbound = append(inbound, message.Decode(r)...)

	reply := d.handleMessages(addr, client, inbound)

	packet, err := netchan.BuildPacket(client, seq, challenge, reply)
	if err != nil {
		d.log.Errorf("%s: building reply packet: %v", addr, err)
		return out
	}
	return append(out, packet)
}

// subchannelRefusal reports whether msgs is the single NET_DISCONNECT a
// subchannel reassembler synthesizes when its peer declares a compressed
// payload, which this protocol always refuses.
func subchannelRefusal(msgs []message.Message) (string, bool) {
	for _, m := range msgs {
		if nd, ok := m.(message.NetDisconnect); ok && nd.Reason == netchan.CompressedRefusalReason {
			return nd.Reason, true
		}
	}
	return "", false
}

func (d *Dispatcher) clientFor(addr string, now time.Time) (*netchan.Client, bool) {
	if c, ok := d.clients[addr]; ok {
		return c, false
	}
	c := netchan.NewClient(now)
	d.clients[addr] = c
	return c, true
}

func (d *Dispatcher) deleteClient(addr string) {
	delete(d.clients, addr)
}

// EvictIdle drops clients that have gone silent for longer than the
// configured idle timeout. A zero or negative timeout disables eviction.
// Intended to be called once per matchmaking tick.
func (d *Dispatcher) EvictIdle(now time.Time, timeout time.Duration) {
	for addr, c := range d.clients {
		if c.Idle(now, timeout) {
			d.log.Printf("%s: evicting idle client (last seen %s ago)", addr, now.Sub(c.LastSeen))
			delete(d.clients, addr)
		}
	}
}
