// Package udp implements the stateless datagram transport (spec.md
// §4.G: "UDP: stateless; demux by destination port (and optionally
// destination address/interface)"). There is no per-datagram state
// machine here, just header codec plus a demux table, mirroring how
// little machinery UDP actually needs next to transport/tcp's TCB.
package udp

import (
	"encoding/binary"

	"github.com/nanostack-io/netstack/stackerr"
)

const headerLen = 8

// Datagram is a parsed or to-be-built UDP datagram.
type Datagram struct {
	SrcPort  uint16
	DstPort  uint16
	Checksum uint16
	Payload  []byte
}

// Parse decodes a UDP datagram from b. If checksum is non-zero (UDP
// permits an all-zero checksum over IPv4, never over IPv6), it is
// validated against initial, the running pseudo-header sum.
func Parse(b []byte, initial uint32, checksumRequired bool) (*Datagram, error) {
	if len(b) < headerLen {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	length := binary.BigEndian.Uint16(b[4:6])
	if int(length) < headerLen || int(length) > len(b) {
		return nil, stackerr.Newf(stackerr.InvalidLength, "udp: length %d", length)
	}
	d := &Datagram{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Checksum: binary.BigEndian.Uint16(b[6:8]),
	}
	if d.Checksum != 0 || checksumRequired {
		if d.Checksum == 0 {
			return nil, stackerr.New(stackerr.InvalidChecksum)
		}
		if fold(sum(b[:length], initial)) != 0 {
			return nil, stackerr.New(stackerr.InvalidChecksum)
		}
	}
	d.Payload = append([]byte(nil), b[headerLen:length]...)
	return d, nil
}

// Build encodes d into b (len(b) must equal headerLen+len(d.Payload)).
// If genChecksum is false the checksum field is left zero, the
// traditional IPv4-only UDP optimization (spec.md §6.3's per-socket
// checksum-generation flag).
func Build(b []byte, d Datagram, initial uint32, genChecksum bool) error {
	want := headerLen + len(d.Payload)
	if len(b) != want {
		return stackerr.Newf(stackerr.InvalidLength, "udp: buffer %d, want %d", len(b), want)
	}
	binary.BigEndian.PutUint16(b[0:2], d.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], d.DstPort)
	binary.BigEndian.PutUint16(b[4:6], uint16(want))
	binary.BigEndian.PutUint16(b[6:8], 0)
	copy(b[headerLen:], d.Payload)
	if genChecksum {
		c := fold(sum(b, initial))
		if c == 0 {
			c = 0xffff // an all-zero computed checksum is transmitted as all-ones (RFC 768)
		}
		binary.BigEndian.PutUint16(b[6:8], c)
	}
	return nil
}

func sum(b []byte, initial uint32) uint32 {
	s := initial
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		s += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		s += uint32(b[n-1]) << 8
	}
	for s>>16 != 0 {
		s = (s & 0xffff) + (s >> 16)
	}
	return s
}

func fold(sum uint32) uint16 { return ^uint16(sum) }

// Key identifies one bound UDP socket: a local port and, optionally, a
// local address/interface restricting which datagrams reach it.
type Key struct {
	LocalPort   uint16
	LocalAddr   string // addr.IPv4/addr.IPv6.String(), or "" for wildcard
	Unspecified bool
}

// Table demuxes inbound datagrams to bound sockets by destination port
// (spec.md §4.G), preferring a specific local-address match over a
// wildcard one (the usual BSD socket bind precedence).
type Table struct {
	bound map[Key]chan *Datagram
}

// NewTable constructs an empty demux table.
func NewTable() *Table {
	return &Table{bound: make(map[Key]chan *Datagram)}
}

// Bind registers queue to receive datagrams matching key. queue should
// be buffered; Deliver drops a datagram rather than blocking the
// network task if the queue is full.
func (t *Table) Bind(key Key, queue chan *Datagram) error {
	if _, exists := t.bound[key]; exists {
		return stackerr.New(stackerr.WrongIdentifier)
	}
	t.bound[key] = queue
	return nil
}

// Unbind removes a previously bound key.
func (t *Table) Unbind(key Key) {
	delete(t.bound, key)
}

// Deliver routes an inbound datagram to the bound socket for dstAddr
// and d.DstPort, preferring an address-specific binding. It reports
// whether any socket accepted the datagram.
func (t *Table) Deliver(dstAddr string, d *Datagram) bool {
	if q, ok := t.bound[Key{LocalPort: d.DstPort, LocalAddr: dstAddr}]; ok {
		return enqueue(q, d)
	}
	if q, ok := t.bound[Key{LocalPort: d.DstPort, Unspecified: true}]; ok {
		return enqueue(q, d)
	}
	return false
}

func enqueue(q chan *Datagram, d *Datagram) bool {
	select {
	case q <- d:
		return true
	default:
		return false
	}
}
