// Package link implements the Ethernet framing layer (spec.md §4.D):
// frame acceptance against the interface's MAC/filter table, 802.1Q/ad
// VLAN tag parsing, optional LLC/SNAP delinearization, and EtherType
// dispatch up to ARP/IPv4/IPv6. PPP framing (spec.md §4.D, "thin") lives
// alongside it in ppp.go.
package link

import (
	"encoding/binary"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/stackerr"
)

// EtherType is the 16-bit Ethernet II type/length field.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
	EtherTypeVLAN EtherType = 0x8100 // 802.1Q
	EtherTypeQinQ EtherType = 0x88A8 // 802.1ad
)

const (
	headerLen  = 12 // dst(6) + src(6)
	vlanTagLen = 4
	ethTypeLen = 2
)

// VLANTag is one 802.1Q/802.1ad tag (spec.md §6.2: "TPID 0x8100, 4
// bytes: PCP:3 DEI:1 VID:12").
type VLANTag struct {
	TPID EtherType
	PCP  uint8
	DEI  bool
	VID  uint16
}

func parseVLANTag(tpid EtherType, tci uint16) VLANTag {
	return VLANTag{
		TPID: tpid,
		PCP:  uint8(tci >> 13),
		DEI:  tci&0x1000 != 0,
		VID:  tci & 0x0FFF,
	}
}

// Frame is a parsed Ethernet II frame with any VLAN tags stripped and
// exposed separately, per spec.md §4.D: "if present, expose tag
// PCP/DEI/VID to the IP layer and strip."
type Frame struct {
	Dst, Src addr.MAC

	// OuterTag is the 802.1ad service-provider tag, if present.
	OuterTag *VLANTag
	// InnerTag is the 802.1Q customer tag, if present.
	InnerTag *VLANTag

	EtherType EtherType
	// LLC is set when EtherType was actually an 802.3 length field and
	// an LLC/SNAP header followed; EtherType is then the SNAP-derived
	// protocol type.
	LLC bool

	Payload []byte
}

// ParseEthernet parses frame per spec.md §6.2 (Ethernet II framing,
// optional 802.1Q/802.1ad tags) and §4.D (LLC/SNAP dispatch).
func ParseEthernet(frame []byte) (*Frame, error) {
	if len(frame) < headerLen+ethTypeLen {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	f := &Frame{}
	copy(f.Dst[:], frame[0:6])
	copy(f.Src[:], frame[6:12])
	pos := headerLen

	etype := EtherType(binary.BigEndian.Uint16(frame[pos : pos+2]))
	pos += ethTypeLen

	for etype == EtherTypeQinQ || etype == EtherTypeVLAN {
		if len(frame) < pos+vlanTagLen {
			return nil, stackerr.New(stackerr.InvalidLength)
		}
		tci := binary.BigEndian.Uint16(frame[pos : pos+2])
		tag := parseVLANTag(etype, tci)
		inner := EtherType(binary.BigEndian.Uint16(frame[pos+2 : pos+4]))
		pos += vlanTagLen
		if etype == EtherTypeQinQ {
			f.OuterTag = &tag
		} else {
			f.InnerTag = &tag
		}
		etype = inner
	}

	if etype <= 1500 {
		// 802.3: etype is actually a length field; an LLC header (and
		// possibly a SNAP header) follows.
		llcType, payload, err := parseLLC(frame[pos:])
		if err != nil {
			return nil, err
		}
		f.LLC = true
		f.EtherType = llcType
		f.Payload = payload
		return f, nil
	}

	f.EtherType = etype
	f.Payload = frame[pos:]
	return f, nil
}

// parseLLC parses an 802.2 LLC header, and a SNAP header if DSAP/SSAP
// are both 0xAA (spec.md §4.D: "optionally LLC/SNAP").
func parseLLC(b []byte) (EtherType, []byte, error) {
	if len(b) < 3 {
		return 0, nil, stackerr.New(stackerr.InvalidLength)
	}
	dsap, ssap, control := b[0], b[1], b[2]
	pos := 3
	if dsap == 0xAA && ssap == 0xAA {
		// SNAP: 3-byte OUI + 2-byte protocol ID.
		if len(b) < pos+5 {
			return 0, nil, stackerr.New(stackerr.InvalidLength)
		}
		pid := EtherType(binary.BigEndian.Uint16(b[pos+3 : pos+5]))
		return pid, b[pos+5:], nil
	}
	_ = control
	// Bare LLC with no SNAP: synthesize a pseudo EtherType from the DSAP
	// so callers can still dispatch, though the core protocols (IPv4,
	// IPv6, ARP) are always SNAP-encapsulated in practice.
	return EtherType(dsap), b[pos:], nil
}

// HeaderLen returns the on-wire length of the Ethernet + VLAN tag
// header this Frame was parsed from (used to size Push() for egress
// framing of a reply built from the same tag set).
func (f *Frame) HeaderLen() int {
	n := headerLen + ethTypeLen
	if f.OuterTag != nil {
		n += vlanTagLen
	}
	if f.InnerTag != nil {
		n += vlanTagLen
	}
	return n
}

// BuildHeader writes an Ethernet II header (with optional VLAN tags)
// into buf's reserved headroom via Push, in the same tag nesting order
// ParseEthernet expects: outer (802.1ad) first, then inner (802.1Q).
func BuildHeader(buf *buffer.Buffer, dst, src addr.MAC, outer, inner *VLANTag, etype EtherType) error {
	n := headerLen + ethTypeLen
	if outer != nil {
		n += vlanTagLen
	}
	if inner != nil {
		n += vlanTagLen
	}
	hdr, err := buf.Push(n)
	if err != nil {
		return err
	}
	copy(hdr[0:6], dst[:])
	copy(hdr[6:12], src[:])
	pos := 12
	if outer != nil {
		binary.BigEndian.PutUint16(hdr[pos:], uint16(outer.TPID))
		binary.BigEndian.PutUint16(hdr[pos+2:], tagTCI(*outer))
		pos += vlanTagLen
	}
	if inner != nil {
		binary.BigEndian.PutUint16(hdr[pos:], uint16(inner.TPID))
		binary.BigEndian.PutUint16(hdr[pos+2:], tagTCI(*inner))
		pos += vlanTagLen
	}
	binary.BigEndian.PutUint16(hdr[pos:], uint16(etype))
	return nil
}

func tagTCI(t VLANTag) uint16 {
	tci := uint16(t.PCP&0x7) << 13
	if t.DEI {
		tci |= 0x1000
	}
	tci |= t.VID & 0x0FFF
	return tci
}
