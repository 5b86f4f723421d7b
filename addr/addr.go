// Package addr defines the hardware and protocol address types shared
// across every layer of the stack (MAC, IPv4, IPv6), so that link, ARP,
// IP, neighbor discovery, transport, and socket packages all agree on one
// representation instead of each re-deriving [N]byte arrays.
package addr

import (
	"fmt"
	"net"
)

// MAC is a 48-bit Ethernet hardware address.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether m is the all-ones Ethernet broadcast
// address.
func (m MAC) IsBroadcast() bool {
	return m == MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// IsMulticast reports whether m has the multicast bit (the low bit of
// the first octet) set.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// EUI64 is a 64-bit extended unique identifier.
type EUI64 [8]byte

func (e EUI64) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x", e[0], e[1], e[2], e[3], e[4], e[5], e[6], e[7])
}

// EUI64FromMAC derives a modified EUI-64 from a 48-bit MAC using the
// standard FF:FE expansion (RFC 4291 appendix A), with the
// universal/local bit flipped.
func EUI64FromMAC(m MAC) EUI64 {
	var e EUI64
	e[0] = m[0] ^ 0x02
	e[1] = m[1]
	e[2] = m[2]
	e[3] = 0xff
	e[4] = 0xfe
	e[5] = m[3]
	e[6] = m[4]
	e[7] = m[5]
	return e
}

// IPv4 is a 32-bit IPv4 address, stored big-endian (network byte order).
type IPv4 [4]byte

func (a IPv4) String() string { return net.IP(a[:]).String() }

func (a IPv4) IsBroadcast() bool { return a == IPv4{0xff, 0xff, 0xff, 0xff} }

func (a IPv4) IsMulticast() bool { return a[0]&0xf0 == 0xe0 }

func (a IPv4) IsUnspecified() bool { return a == IPv4{} }

// Uint32 returns the address as a big-endian-interpreted uint32, useful
// for numeric subnet/mask arithmetic.
func (a IPv4) Uint32() uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}

func IPv4FromUint32(v uint32) IPv4 {
	return IPv4{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// IPv4FromSlice builds an IPv4 from the first 4 bytes of b. It does not
// panic: a shorter b leaves the trailing bytes zero, and bytes past the
// fourth are ignored.
func IPv4FromSlice(b []byte) IPv4 {
	var a IPv4
	copy(a[:], b)
	return a
}

// IPv6 is a 128-bit IPv6 address.
type IPv6 [16]byte

func (a IPv6) String() string { return net.IP(a[:]).String() }

func (a IPv6) IsUnspecified() bool { return a == IPv6{} }

func (a IPv6) IsMulticast() bool { return a[0] == 0xff }

// IsLinkLocal reports whether a is in fe80::/10.
func (a IPv6) IsLinkLocal() bool { return a[0] == 0xfe && a[1]&0xc0 == 0x80 }

func IPv6FromSlice(b []byte) IPv6 {
	var a IPv6
	copy(a[:], b)
	return a
}

// SolicitedNodeMulticast derives a's solicited-node multicast address
// (RFC 4291 2.7.1), used by NDP neighbor solicitation (spec.md §4.F).
func (a IPv6) SolicitedNodeMulticast() IPv6 {
	return IPv6{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff, a[13], a[14], a[15]}
}
