package ipstack

import (
	"encoding/binary"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/stackerr"
)

const (
	ipv6HeaderLen = 40
	ipv6Version   = 6

	// Extension header "next header" values this stack understands well
	// enough to skip over.
	ExtHopByHop  = 0
	ExtRouting   = 43
	ExtFragment  = 44
	ExtDestOpts  = 60
	ExtNoNext    = 59
)

// IPv6Header is the parsed/constructed fixed 40-byte IPv6 header. Unlike
// IPv4 it carries no checksum of its own — RFC 6724 source-address
// selection and the pseudo-header checksum make up for it at the upper
// layers (spec.md §4.E).
type IPv6Header struct {
	TrafficClass uint8
	FlowLabel    uint32 // low 20 bits significant
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          addr.IPv6
	Dst          addr.IPv6
}

// ParseIPv6 validates and decodes a fixed IPv6 header, returning the
// header and the remaining bytes (next-header chain and payload).
func ParseIPv6(b []byte) (*IPv6Header, []byte, error) {
	if len(b) < ipv6HeaderLen {
		return nil, nil, stackerr.New(stackerr.InvalidLength)
	}
	version := b[0] >> 4
	if version != ipv6Version {
		return nil, nil, stackerr.Newf(stackerr.InvalidPacket, "ipv6: version %d", version)
	}
	vtf := binary.BigEndian.Uint32(b[0:4])
	h := &IPv6Header{
		TrafficClass: uint8((vtf >> 20) & 0xff),
		FlowLabel:    vtf & 0x000fffff,
		PayloadLen:   binary.BigEndian.Uint16(b[4:6]),
		NextHeader:   b[6],
		HopLimit:     b[7],
	}
	copy(h.Src[:], b[8:24])
	copy(h.Dst[:], b[24:40])
	end := ipv6HeaderLen + int(h.PayloadLen)
	if end > len(b) {
		return nil, nil, stackerr.Newf(stackerr.InvalidLength, "ipv6: payload length %d", h.PayloadLen)
	}
	return h, b[ipv6HeaderLen:end], nil
}

// BuildIPv6 pushes a fixed IPv6 header into buf's headroom.
func BuildIPv6(buf *buffer.Buffer, h IPv6Header) error {
	region, err := buf.Push(ipv6HeaderLen)
	if err != nil {
		return err
	}
	vtf := uint32(ipv6Version)<<28 | uint32(h.TrafficClass)<<20 | (h.FlowLabel & 0x000fffff)
	binary.BigEndian.PutUint32(region[0:4], vtf)
	binary.BigEndian.PutUint16(region[4:6], h.PayloadLen)
	region[6] = h.NextHeader
	region[7] = h.HopLimit
	copy(region[8:24], h.Src[:])
	copy(region[24:40], h.Dst[:])
	return nil
}

// PseudoHeaderChecksumIPv6 returns the running checksum of the IPv6
// pseudo-header (RFC 8200 §8.1), to be used as the initial value passed
// to buffer.ChecksumEx over the upper-layer segment.
func PseudoHeaderChecksumIPv6(src, dst addr.IPv6, nextHeader uint8, length uint32) uint32 {
	var b [40]byte
	copy(b[0:16], src[:])
	copy(b[16:32], dst[:])
	binary.BigEndian.PutUint32(b[32:36], length)
	b[39] = nextHeader
	return Checksum(b[:])
}

// ExtensionHeader is one parsed IPv6 extension header in the next-header
// chain (hop-by-hop options, routing, destination options — fragment
// headers are handled separately by the reassembly path).
type ExtensionHeader struct {
	Type       uint8
	NextHeader uint8
	Data       []byte // header-specific data, excluding the 2-byte type/len/nexthdr prefix
}

// WalkExtensionHeaders strips the chain of extension headers rooted at
// nextHeader/b, returning them in order plus the first next-header value
// that this stack treats as a final upper-layer protocol (or ExtFragment,
// left for the caller's reassembly path to handle).
func WalkExtensionHeaders(nextHeader uint8, b []byte) ([]ExtensionHeader, uint8, []byte, error) {
	var exts []ExtensionHeader
	for {
		switch nextHeader {
		case ExtHopByHop, ExtRouting, ExtDestOpts:
			if len(b) < 2 {
				return exts, nextHeader, b, stackerr.New(stackerr.InvalidLength)
			}
			hdrLen := (int(b[1]) + 1) * 8
			if hdrLen > len(b) {
				return exts, nextHeader, b, stackerr.New(stackerr.InvalidLength)
			}
			exts = append(exts, ExtensionHeader{Type: nextHeader, NextHeader: b[0], Data: b[2:hdrLen]})
			nextHeader = b[0]
			b = b[hdrLen:]
		default:
			return exts, nextHeader, b, nil
		}
	}
}
