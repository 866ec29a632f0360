package mnet

import (
	"encoding/binary"
	"fmt"
	"regexp"
)

// Broadcast is the destination addressing every host on the channel.
// It is only valid for unreliable sends.
const Broadcast = "*"

const MaxHostLength = 128

var invalidHostName = regexp.MustCompile(`[^A-Za-z0-9\-\.]+`)

// ValidateHostName reports whether name can identify a host on the mesh.
// The broadcast pseudo-host is not a valid host name.
func ValidateHostName(name string) bool {
	return name != "" &&
		len(name) <= MaxHostLength &&
		!invalidHostName.MatchString(name)
}

// Flag bits of the wire header.
const (
	flagSyn    uint8 = 1 << 0 // first packet of a fresh logical connection
	flagAck    uint8 = 1 << 1 // this frame is a cumulative acknowledgment
	flagReqAck uint8 = 1 << 2 // sender wants an acknowledgment
	flagMore   uint8 = 1 << 3 // payload is a non-terminal fragment
	flagLast   uint8 = 1 << 4 // fragment-count field is meaningful
)

// Flags is the decoded flag vocabulary of a packet. The markers are
// independent and combinable.
type Flags struct {
	// Syn marks the first packet of a fresh logical connection to a peer.
	Syn bool

	// Ack marks an acknowledgment frame: the payload is empty and the
	// sequence field carries the highest contiguous sequence accepted so
	// far (0 when nothing has been accepted in order yet).
	Ack bool

	// RequiresAck asks the receiver for a cumulative acknowledgment.
	RequiresAck bool

	// MoreFragments marks a non-terminal fragment of a larger message.
	MoreFragments bool

	// FragmentCount is non-zero on the terminal fragment of a chain and
	// holds the total number of fragments. Anchoring the count at the end
	// of the chain lets a receiver recover even when the first fragment
	// was the one lost.
	FragmentCount uint16
}

func (fl Flags) encode() (bits uint8) {
	if fl.Syn {
		bits |= flagSyn
	}
	if fl.Ack {
		bits |= flagAck
	}
	if fl.RequiresAck {
		bits |= flagReqAck
	}
	if fl.MoreFragments {
		bits |= flagMore
	}
	if fl.FragmentCount > 0 {
		bits |= flagLast
	}
	return bits
}

// packet is the unit transmitted on the medium.
type packet struct {
	// Channel models the shared hardware channel. Frames heard on another
	// channel are silently ignored.
	Channel uint16

	// ID is a random value used for flood deduplication only. It is NOT a
	// sequence number: a retransmission of the same sequence gets a fresh
	// ID.
	ID uint32

	// Seq lives in [1, maxSequence] and wraps back to 1. 0 is reserved for
	// "nothing accepted yet" in acknowledgments.
	Seq uint32

	Flags   Flags
	Dst     string
	Src     string
	Port    uint16
	Payload []byte
}

// forMe is the addressing rule: a frame is ours when it names us or the
// broadcast pseudo-host; everything else is a candidate for flood forwarding.
func (p *packet) forMe(self string) bool {
	return p.Dst == self || p.Dst == Broadcast
}

// headerSize is the fixed part of the wire frame:
// channel(2) id(4) seq(4) flags(1) fragCount(2) port(2) dstLen(1) srcLen(1).
const headerSize = 17

func encodePacket(p *packet) []byte {
	buf := make([]byte, headerSize+len(p.Dst)+len(p.Src)+len(p.Payload))
	binary.BigEndian.PutUint16(buf[0:2], p.Channel)
	binary.BigEndian.PutUint32(buf[2:6], p.ID)
	binary.BigEndian.PutUint32(buf[6:10], p.Seq)
	buf[10] = p.Flags.encode()
	binary.BigEndian.PutUint16(buf[11:13], p.Flags.FragmentCount)
	binary.BigEndian.PutUint16(buf[13:15], p.Port)
	buf[15] = uint8(len(p.Dst))
	buf[16] = uint8(len(p.Src))
	off := headerSize
	off += copy(buf[off:], p.Dst)
	off += copy(buf[off:], p.Src)
	copy(buf[off:], p.Payload)
	return buf
}

func decodePacket(data []byte) (*packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrFrameMalformed, len(data), headerSize)
	}
	bits := data[10]
	p := &packet{
		Channel: binary.BigEndian.Uint16(data[0:2]),
		ID:      binary.BigEndian.Uint32(data[2:6]),
		Seq:     binary.BigEndian.Uint32(data[6:10]),
		Flags: Flags{
			Syn:           bits&flagSyn != 0,
			Ack:           bits&flagAck != 0,
			RequiresAck:   bits&flagReqAck != 0,
			MoreFragments: bits&flagMore != 0,
		},
		Port: binary.BigEndian.Uint16(data[13:15]),
	}
	if bits&flagLast != 0 {
		p.Flags.FragmentCount = binary.BigEndian.Uint16(data[11:13])
		if p.Flags.FragmentCount == 0 {
			return nil, fmt.Errorf("%w: terminal fragment with zero count", ErrFrameMalformed)
		}
	}
	dstLen := int(data[15])
	srcLen := int(data[16])
	if len(data) < headerSize+dstLen+srcLen {
		return nil, fmt.Errorf("%w: truncated host names", ErrFrameMalformed)
	}
	off := headerSize
	p.Dst = string(data[off : off+dstLen])
	off += dstLen
	p.Src = string(data[off : off+srcLen])
	off += srcLen
	if len(data) > off {
		p.Payload = make([]byte, len(data)-off)
		copy(p.Payload, data[off:])
	}
	return p, nil
}
