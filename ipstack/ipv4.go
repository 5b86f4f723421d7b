// Package ipstack implements the IPv4/IPv6 network layer (spec.md §4.E):
// header validation and construction, fragmentation and reassembly, and
// the pseudo-header checksum shared by UDP/TCP/ICMP/ICMPv6.
package ipstack

import (
	"encoding/binary"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/stackerr"
)

const (
	ipv4MinHeaderLen = 20
	ipv4Version      = 4

	FlagMoreFragments uint16 = 0x2000
	FlagDontFragment  uint16 = 0x4000
	fragOffsetMask    uint16 = 0x1fff
)

// Protocol numbers this stack dispatches by (IANA assigned numbers).
const (
	ProtoICMPv4 = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

// IPv4Header is the parsed/constructed form of an IPv4 header (spec.md
// §4.E: "validate version, IHL, total length, header checksum").
type IPv4Header struct {
	TOS            uint8
	TotalLength    uint16
	ID             uint16
	DontFragment   bool
	MoreFragments  bool
	FragmentOffset uint16 // in 8-byte units, per RFC 791
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	Src            addr.IPv4
	Dst            addr.IPv4
	Options        []byte
}

// HeaderLen returns the header's on-wire length including options.
func (h IPv4Header) HeaderLen() int {
	return ipv4MinHeaderLen + len(h.Options)
}

// ParseIPv4 validates and decodes an IPv4 header (spec.md §4.E). Returns
// the header and the slice of b following it (the payload, which may
// itself be only a fragment of the original datagram).
func ParseIPv4(b []byte) (*IPv4Header, []byte, error) {
	if len(b) < ipv4MinHeaderLen {
		return nil, nil, stackerr.New(stackerr.InvalidLength)
	}
	version := b[0] >> 4
	if version != ipv4Version {
		return nil, nil, stackerr.Newf(stackerr.InvalidPacket, "ipv4: version %d", version)
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || ihl > len(b) {
		return nil, nil, stackerr.Newf(stackerr.InvalidPacket, "ipv4: bad IHL %d", ihl)
	}
	totalLength := binary.BigEndian.Uint16(b[2:4])
	if int(totalLength) > len(b) || int(totalLength) < ihl {
		return nil, nil, stackerr.Newf(stackerr.InvalidLength, "ipv4: total length %d", totalLength)
	}
	if FoldChecksum(Checksum(b[:ihl])) != 0 {
		return nil, nil, stackerr.New(stackerr.InvalidChecksum)
	}
	flagsFrag := binary.BigEndian.Uint16(b[6:8])
	h := &IPv4Header{
		TOS:            b[1],
		TotalLength:    totalLength,
		ID:             binary.BigEndian.Uint16(b[4:6]),
		DontFragment:   flagsFrag&FlagDontFragment != 0,
		MoreFragments:  flagsFrag&FlagMoreFragments != 0,
		FragmentOffset: flagsFrag & fragOffsetMask,
		TTL:            b[8],
		Protocol:       b[9],
		Checksum:       binary.BigEndian.Uint16(b[10:12]),
	}
	copy(h.Src[:], b[12:16])
	copy(h.Dst[:], b[16:20])
	if ihl > ipv4MinHeaderLen {
		h.Options = append([]byte(nil), b[ipv4MinHeaderLen:ihl]...)
	}
	return h, b[ihl:int(totalLength)], nil
}

// BuildIPv4 pushes an IPv4 header (with a freshly computed checksum) into
// buf's headroom ahead of its current payload.
func BuildIPv4(buf *buffer.Buffer, h IPv4Header) error {
	hl := h.HeaderLen()
	region, err := buf.Push(hl)
	if err != nil {
		return err
	}
	region[0] = (ipv4Version << 4) | byte(hl/4)
	region[1] = h.TOS
	binary.BigEndian.PutUint16(region[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(region[4:6], h.ID)
	flagsFrag := h.FragmentOffset & fragOffsetMask
	if h.DontFragment {
		flagsFrag |= FlagDontFragment
	}
	if h.MoreFragments {
		flagsFrag |= FlagMoreFragments
	}
	binary.BigEndian.PutUint16(region[6:8], flagsFrag)
	region[8] = h.TTL
	region[9] = h.Protocol
	binary.BigEndian.PutUint16(region[10:12], 0)
	copy(region[12:16], h.Src[:])
	copy(region[16:20], h.Dst[:])
	if len(h.Options) > 0 {
		copy(region[ipv4MinHeaderLen:], h.Options)
	}
	sum := FoldChecksum(Checksum(region))
	binary.BigEndian.PutUint16(region[10:12], sum)
	return nil
}

// Checksum computes a contiguous one's-complement sum (spec.md §4.A /
// buffer.Checksum); re-exported here since header validation operates on
// the raw wire bytes before a buffer.Buffer is constructed around them.
func Checksum(b []byte) uint32 { return buffer.Checksum(b, 0) }

// FoldChecksum folds a 32-bit accumulator into its final 16-bit
// one's-complement form.
func FoldChecksum(sum uint32) uint16 { return buffer.FoldChecksum(sum) }

// PseudoHeaderChecksumIPv4 returns the running checksum of the IPv4
// pseudo-header (spec.md §4.E: "computed over (pseudo-header ∥ payload)
// as one 16-bit one's-complement sum"), to be used as the initial value
// passed to buffer.ChecksumEx over the upper-layer segment.
func PseudoHeaderChecksumIPv4(src, dst addr.IPv4, protocol uint8, length uint16) uint32 {
	var b [12]byte
	copy(b[0:4], src[:])
	copy(b[4:8], dst[:])
	b[8] = 0
	b[9] = protocol
	binary.BigEndian.PutUint16(b[10:12], length)
	return Checksum(b[:])
}
