// Package tcp implements the connection-oriented transport (spec.md §4.G):
// a per-connection control block driven by explicit calls from the
// scheduler rather than a goroutine per connection, since spec.md's
// architecture is a single cooperative network task operating under one
// global lock (spec.md §4.I), not gVisor's per-endpoint goroutine model.
package tcp

import (
	"encoding/binary"

	"github.com/nanostack-io/netstack/stackerr"
)

const minHeaderLen = 20

// Flag bits of the 6-bit TCP control field (RFC 793 §3.1). ECE/CWR are
// omitted: this stack never negotiates ECN.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
	FlagURG uint8 = 0x20
)

// Segment is the parsed or to-be-built form of a TCP segment.
type Segment struct {
	SrcPort       uint16
	DstPort       uint16
	Seq           uint32
	Ack           uint32
	Flags         uint8
	Window        uint16
	Checksum      uint16
	UrgentPointer uint16
	Options       []byte
	Payload       []byte
}

// Len returns the segment's sequence-space length: payload bytes plus one
// each for a SYN or FIN, the quantity RFC 793 calls SEG.LEN.
func (s Segment) Len() uint32 {
	n := uint32(len(s.Payload))
	if s.Flags&FlagSYN != 0 {
		n++
	}
	if s.Flags&FlagFIN != 0 {
		n++
	}
	return n
}

// ParseSegment decodes a TCP segment from b and validates it against the
// running pseudo-header checksum (initial must already fold in the IPv4
// or IPv6 pseudo-header per ipstack.PseudoHeaderChecksumIPv4/6).
func ParseSegment(b []byte, initial uint32) (*Segment, error) {
	if len(b) < minHeaderLen {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	dataOffset := int(b[12]>>4) * 4
	if dataOffset < minHeaderLen || dataOffset > len(b) {
		return nil, stackerr.Newf(stackerr.InvalidPacket, "tcp: bad data offset %d", dataOffset)
	}
	if foldChecksum(checksum(b, initial)) != 0 {
		return nil, stackerr.New(stackerr.InvalidChecksum)
	}
	s := &Segment{
		SrcPort:       binary.BigEndian.Uint16(b[0:2]),
		DstPort:       binary.BigEndian.Uint16(b[2:4]),
		Seq:           binary.BigEndian.Uint32(b[4:8]),
		Ack:           binary.BigEndian.Uint32(b[8:12]),
		Flags:         b[13] & 0x3f,
		Window:        binary.BigEndian.Uint16(b[14:16]),
		Checksum:      binary.BigEndian.Uint16(b[16:18]),
		UrgentPointer: binary.BigEndian.Uint16(b[18:20]),
	}
	if dataOffset > minHeaderLen {
		s.Options = append([]byte(nil), b[minHeaderLen:dataOffset]...)
	}
	s.Payload = append([]byte(nil), b[dataOffset:]...)
	return s, nil
}

// BuildSegment encodes s into b, which must be exactly the on-wire
// length (20 + len(Options) + len(Payload)), and folds in initial (the
// pseudo-header checksum) to produce the final TCP checksum.
func BuildSegment(b []byte, s Segment, initial uint32) error {
	hl := minHeaderLen + len(s.Options)
	want := hl + len(s.Payload)
	if len(b) != want {
		return stackerr.Newf(stackerr.InvalidLength, "tcp: buffer %d, want %d", len(b), want)
	}
	binary.BigEndian.PutUint16(b[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], s.DstPort)
	binary.BigEndian.PutUint32(b[4:8], s.Seq)
	binary.BigEndian.PutUint32(b[8:12], s.Ack)
	b[12] = byte(hl/4) << 4
	b[13] = s.Flags & 0x3f
	binary.BigEndian.PutUint16(b[14:16], s.Window)
	binary.BigEndian.PutUint16(b[16:18], 0)
	binary.BigEndian.PutUint16(b[18:20], s.UrgentPointer)
	copy(b[minHeaderLen:hl], s.Options)
	copy(b[hl:], s.Payload)
	sum := foldChecksum(checksum(b, initial))
	binary.BigEndian.PutUint16(b[16:18], sum)
	return nil
}

// checksum and foldChecksum mirror buffer.Checksum/FoldChecksum; they are
// re-declared here (rather than imported) only to keep this file
// self-contained for the one-'s-complement sum used during parse
// validation, where no buffer.Buffer exists yet.
func checksum(b []byte, initial uint32) uint32 {
	sum := initial
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return sum
}

func foldChecksum(sum uint32) uint16 {
	return ^uint16(sum)
}
