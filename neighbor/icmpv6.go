package neighbor

import (
	"encoding/binary"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/stackerr"
)

// ICMPv6 message types carrying neighbor discovery (RFC 4861 §4.3, §4.4).
const (
	ICMPv6TypeNeighborSolicit = 135
	ICMPv6TypeNeighborAdvert  = 136
)

const (
	optSourceLinkLayerAddr = 1
	optTargetLinkLayerAddr = 2
	llaOptionLen           = 8 // 1 type + 1 length + 6-byte MAC

	naFlagRouter    = 1 << 31
	naFlagSolicited = 1 << 30
	naFlagOverride  = 1 << 29
)

// Solicitation is a parsed or to-be-built RFC 4861 §4.3 Neighbor
// Solicitation. SourceLLA is nil when the sender has no address yet
// (DAD: RFC 4861 §7.2.2 requires omitting the option when the source
// address is unspecified).
type Solicitation struct {
	Target    addr.IPv6
	SourceLLA *addr.MAC
}

// BuildSolicitation encodes sol as an ICMPv6 message, computing the
// checksum over pseudoHeaderInitial (ipstack.PseudoHeaderChecksumIPv6)
// plus the message bytes.
func BuildSolicitation(sol Solicitation, pseudoHeaderInitial uint32) *buffer.Buffer {
	n := 24
	if sol.SourceLLA != nil {
		n += llaOptionLen
	}
	b := make([]byte, n)
	b[0] = ICMPv6TypeNeighborSolicit
	copy(b[8:24], sol.Target[:])
	if sol.SourceLLA != nil {
		putLLAOption(b[24:], optSourceLinkLayerAddr, *sol.SourceLLA)
	}
	putChecksum(b, pseudoHeaderInitial)
	buf := buffer.Allocate(n, buffer.MaxHeaderOverhead)
	buf.Write(0, b)
	return buf
}

// ParseSolicitation decodes an ICMPv6 Neighbor Solicitation, including
// the Source Link-Layer Address option if present.
func ParseSolicitation(b []byte) (*Solicitation, error) {
	if len(b) < 24 {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	if b[0] != ICMPv6TypeNeighborSolicit {
		return nil, stackerr.New(stackerr.InvalidPacket)
	}
	sol := &Solicitation{}
	copy(sol.Target[:], b[8:24])
	sol.SourceLLA = findLLAOption(b[24:], optSourceLinkLayerAddr)
	return sol, nil
}

// Advertisement is a parsed or to-be-built RFC 4861 §4.4 Neighbor
// Advertisement.
type Advertisement struct {
	Target    addr.IPv6
	Router    bool
	Solicited bool
	Override  bool
	TargetLLA *addr.MAC
}

// BuildAdvertisement encodes adv as an ICMPv6 message. TargetLLA is
// normally present (the Target Link-Layer Address option): RFC 4861
// §7.2.4 only omits it for an anycast target, which this stack does not
// originate.
func BuildAdvertisement(adv Advertisement, pseudoHeaderInitial uint32) *buffer.Buffer {
	n := 24
	if adv.TargetLLA != nil {
		n += llaOptionLen
	}
	b := make([]byte, n)
	b[0] = ICMPv6TypeNeighborAdvert
	var flags uint32
	if adv.Router {
		flags |= naFlagRouter
	}
	if adv.Solicited {
		flags |= naFlagSolicited
	}
	if adv.Override {
		flags |= naFlagOverride
	}
	binary.BigEndian.PutUint32(b[4:8], flags)
	copy(b[8:24], adv.Target[:])
	if adv.TargetLLA != nil {
		putLLAOption(b[24:], optTargetLinkLayerAddr, *adv.TargetLLA)
	}
	putChecksum(b, pseudoHeaderInitial)
	buf := buffer.Allocate(n, buffer.MaxHeaderOverhead)
	buf.Write(0, b)
	return buf
}

// ParseAdvertisement decodes an ICMPv6 Neighbor Advertisement, including
// the Target Link-Layer Address option if present.
func ParseAdvertisement(b []byte) (*Advertisement, error) {
	if len(b) < 24 {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	if b[0] != ICMPv6TypeNeighborAdvert {
		return nil, stackerr.New(stackerr.InvalidPacket)
	}
	flags := binary.BigEndian.Uint32(b[4:8])
	adv := &Advertisement{
		Router:    flags&naFlagRouter != 0,
		Solicited: flags&naFlagSolicited != 0,
		Override:  flags&naFlagOverride != 0,
	}
	copy(adv.Target[:], b[8:24])
	adv.TargetLLA = findLLAOption(b[24:], optTargetLinkLayerAddr)
	return adv, nil
}

func putLLAOption(dst []byte, optType byte, mac addr.MAC) {
	dst[0] = optType
	dst[1] = 1 // option length in units of 8 bytes
	copy(dst[2:8], mac[:])
}

// findLLAOption walks the TLV options trailing the fixed NS/NA header
// looking for optType, stopping at the first malformed (zero-length or
// overrunning) option rather than trusting the rest of the message.
func findLLAOption(b []byte, optType byte) *addr.MAC {
	for len(b) >= llaOptionLen {
		typ, lengthUnits := b[0], int(b[1])
		if lengthUnits == 0 {
			return nil
		}
		optLen := lengthUnits * 8
		if optLen > len(b) {
			return nil
		}
		if typ == optType && optLen >= llaOptionLen {
			var mac addr.MAC
			copy(mac[:], b[2:8])
			return &mac
		}
		b = b[optLen:]
	}
	return nil
}

// putChecksum fills in b's ICMPv6 checksum field (RFC 4443 §2.3), which
// must read as zero while being summed.
func putChecksum(b []byte, pseudoHeaderInitial uint32) {
	b[2], b[3] = 0, 0
	sum := buffer.Checksum(b, pseudoHeaderInitial)
	binary.BigEndian.PutUint16(b[2:4], buffer.FoldChecksum(sum))
}
