package link

import (
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/stackerr"
)

// PPP framing is intentionally thin (spec.md §2: "PPP framing (thin)") —
// just enough HDLC-like framing and protocol-field demultiplexing to
// hand IPv4/IPv6 payloads to the IP layer; LCP/IPCP negotiation is out
// of scope (spec.md §1: PPP's application logic is an external
// collaborator).
const (
	pppFlag   = 0x7E
	pppEscape = 0x7D
	pppXOR    = 0x20

	PPPProtoIPv4 uint16 = 0x0021
	PPPProtoIPv6 uint16 = 0x0057
)

// PPPUnescape removes HDLC byte-stuffing from a raw frame (flag bytes
// already stripped by the driver) and returns the 2-byte protocol field
// plus payload.
func PPPUnescape(raw []byte) (proto uint16, payload []byte, err error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b == pppEscape {
			i++
			if i >= len(raw) {
				return 0, nil, stackerr.New(stackerr.InvalidLength)
			}
			out = append(out, raw[i]^pppXOR)
			continue
		}
		out = append(out, b)
	}
	if len(out) < 2 {
		return 0, nil, stackerr.New(stackerr.InvalidLength)
	}
	proto = uint16(out[0])<<8 | uint16(out[1])
	return proto, out[2:], nil
}

// PPPBuildFrame escapes and frames a payload for transmission, returning
// a new Buffer bounded by HDLC flag bytes with the protocol field and
// byte-stuffed payload in between.
func PPPBuildFrame(proto uint16, payload []byte) *buffer.Buffer {
	raw := make([]byte, 0, len(payload)+2)
	raw = append(raw, byte(proto>>8), byte(proto))
	raw = append(raw, payload...)

	escaped := make([]byte, 0, len(raw)+2)
	escaped = append(escaped, pppFlag)
	for _, b := range raw {
		if b == pppFlag || b == pppEscape {
			escaped = append(escaped, pppEscape, b^pppXOR)
			continue
		}
		escaped = append(escaped, b)
	}
	escaped = append(escaped, pppFlag)
	return buffer.FromBytes(escaped)
}

// PPPHandlers routes a PPP frame's protocol field to the IP layer,
// mirroring link.Handlers for Ethernet.
type PPPHandlers struct {
	IPv4 func(nicIndex int, payload []byte)
	IPv6 func(nicIndex int, payload []byte)
}

// HandlePPPFrame is the PPP entry point called from processPacket for a
// NIC of type PPP (spec.md §4.C).
func HandlePPPFrame(nicIndex int, raw []byte, h PPPHandlers) {
	proto, payload, err := PPPUnescape(raw)
	if err != nil {
		return
	}
	switch proto {
	case PPPProtoIPv4:
		if h.IPv4 != nil {
			h.IPv4(nicIndex, payload)
		}
	case PPPProtoIPv6:
		if h.IPv6 != nil {
			h.IPv6(nicIndex, payload)
		}
	}
}
