package netchan

import (
	"errors"
	"fmt"

	"github.com/breadpudding/matchmaking/internal/bitstream"
	"github.com/breadpudding/matchmaking/internal/message"
)

// errCompressedRefused signals that the peer declared a compressed
// payload, which this protocol always refuses. It is handled specially by
// parseMultiBlock rather than surfaced as a framing error.
var errCompressedRefused = errors.New("netchan: compressed subchannel refused")

const fragmentSize = 256

// CompressedRefusalReason is the NET_DISCONNECT reason text sent when a
// peer declares a compressed subchannel payload, which this protocol
// always refuses. Exported so callers (internal/dispatch) can recognize
// this specific disconnect and route it directly to the peer as the
// packet's sole reply, rather than through the generic inbound-message
// handling a client-originated NET_DISCONNECT receives.
const CompressedRefusalReason = "Your client sent data we couldn't understand. We will try to fix this soon!"

// NetChannel is one of a client's two parallel subchannel reassembly
// streams. Fragments holds one slot per expected 256-byte block; a slot is
// filled once its length is nonzero.
type NetChannel struct {
	Fragments    [][]byte
	NumFragments int
	Length       int
	Compressed   bool

	TransferID uint32
	FileName   string
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// reset reinitializes the channel for a new multi-block transfer.
func (nc *NetChannel) reset(totalLength int) {
	nc.Length = totalLength
	nc.NumFragments = ceilDiv(totalLength, fragmentSize)
	nc.Fragments = make([][]byte, nc.NumFragments)
}

func (nc *NetChannel) complete() bool {
	if len(nc.Fragments) == 0 {
		return false
	}
	for _, f := range nc.Fragments {
		if len(f) == 0 {
			return false
		}
	}
	return true
}

func (nc *NetChannel) concat() []byte {
	out := make([]byte, 0, nc.Length)
	for _, f := range nc.Fragments {
		out = append(out, f...)
	}
	return out
}

// ParseSubchannel reads one subchannel frame from r, per the "present /
// multi-block / single-block" layout. It returns the messages decoded from
// a completed payload, a single NET_NOP when a multi-block transfer is
// still in progress, or a single NET_DISCONNECT when the peer declared a
// compressed payload (refused per protocol policy, with no fragment
// buffer mutation). A non-nil error indicates a framing error: the caller
// should log it and abort processing of the current datagram without
// mutating further state.
func ParseSubchannel(nc *NetChannel, r *bitstream.Reader) ([]message.Message, error) {
	present, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("netchan: reading present bit: %w", err)
	}
	if !present {
		return nil, nil
	}

	multiBlock, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("netchan: reading multi-block bit: %w", err)
	}

	if !multiBlock {
		return parseSingleBlock(r)
	}
	return parseMultiBlock(nc, r)
}

func parseSingleBlock(r *bitstream.Reader) ([]message.Message, error) {
	compressed, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("netchan: reading single-block compressed bit: %w", err)
	}
	if compressed {
		if _, err := r.ReadBits(26); err != nil {
			return nil, fmt.Errorf("netchan: reading declared uncompressed length: %w", err)
		}
		return []message.Message{message.NetDisconnect{Reason: CompressedRefusalReason}}, nil
	}

	length, err := r.ReadVarint()
	if err != nil {
		return nil, fmt.Errorf("netchan: reading single-block length: %w", err)
	}
	payload, err := r.ReadBytes(int(length))
	if err != nil {
		return nil, fmt.Errorf("netchan: reading single-block payload: %w", err)
	}
	return message.Decode(bitstream.NewReader(payload)), nil
}

func parseMultiBlock(nc *NetChannel, r *bitstream.Reader) ([]message.Message, error) {
	startFragment, err := r.ReadBits(18)
	if err != nil {
		return nil, fmt.Errorf("netchan: reading start_fragment: %w", err)
	}
	numFragments, err := r.ReadBits(3)
	if err != nil {
		return nil, fmt.Errorf("netchan: reading num_fragments: %w", err)
	}

	switch {
	case startFragment == 0:
		if err := parseMultiBlockHeader(nc, r, int(numFragments)); err != nil {
			if errors.Is(err, errCompressedRefused) {
				return []message.Message{message.NetDisconnect{Reason: CompressedRefusalReason}}, nil
			}
			return nil, err
		}
		if err := readFragmentBlocks(nc, r, 0, int(numFragments)); err != nil {
			return nil, err
		}
	case int(startFragment)+int(numFragments) == nc.NumFragments:
		if err := readTailBlocks(nc, r, int(startFragment), int(numFragments)); err != nil {
			return nil, err
		}
	default:
		if int(startFragment)+int(numFragments) > nc.NumFragments {
			return nil, fmt.Errorf("netchan: fragment slot index out of range")
		}
		if err := readFragmentBlocks(nc, r, int(startFragment), int(numFragments)); err != nil {
			return nil, err
		}
	}

	if nc.complete() {
		payload := nc.concat()
		return message.Decode(bitstream.NewReader(payload)), nil
	}
	return []message.Message{message.NetNop{}}, nil
}

func parseMultiBlockHeader(nc *NetChannel, r *bitstream.Reader, numFragments int) error {
	isFile, err := r.ReadBool()
	if err != nil {
		return fmt.Errorf("netchan: reading is-file bit: %w", err)
	}
	if isFile {
		transferID, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("netchan: reading transfer id: %w", err)
		}
		fileName, err := r.ReadString()
		if err != nil {
			return fmt.Errorf("netchan: reading file name: %w", err)
		}
		nc.TransferID = transferID
		nc.FileName = fileName
	}

	compressed, err := r.ReadBool()
	if err != nil {
		return fmt.Errorf("netchan: reading multi-block compressed bit: %w", err)
	}
	if compressed {
		// Still must read the declared length to stay bit-aligned with the
		// sender's framing before refusing, mirroring the single-block path.
		if _, err := r.ReadBits(26); err != nil {
			return fmt.Errorf("netchan: reading declared compressed length: %w", err)
		}
		return errCompressedRefused
	}

	totalLength, err := r.ReadBits(26)
	if err != nil {
		return fmt.Errorf("netchan: reading total_length: %w", err)
	}

	totalFragments := ceilDiv(int(totalLength), fragmentSize)
	if totalFragments < numFragments {
		return fmt.Errorf("netchan: declared fragment count exceeds total fragments")
	}
	nc.reset(int(totalLength))
	return nil
}

func readFragmentBlocks(nc *NetChannel, r *bitstream.Reader, start, count int) error {
	for i := 0; i < count; i++ {
		block, err := r.ReadBytes(fragmentSize)
		if err != nil {
			return fmt.Errorf("netchan: reading fragment block: %w", err)
		}
		nc.Fragments[start+i] = block
	}
	return nil
}

func readTailBlocks(nc *NetChannel, r *bitstream.Reader, start, count int) error {
	for i := 0; i < count-1; i++ {
		block, err := r.ReadBytes(fragmentSize)
		if err != nil {
			return fmt.Errorf("netchan: reading tail fragment block: %w", err)
		}
		nc.Fragments[start+i] = block
	}
	finalSize := nc.Length % fragmentSize
	if finalSize == 0 {
		finalSize = fragmentSize
	}
	final, err := r.ReadBytes(finalSize)
	if err != nil {
		return fmt.Errorf("netchan: reading final fragment block: %w", err)
	}
	nc.Fragments[start+count-1] = final
	return nil
}
