// Package rawsocket implements the raw socket transport (spec.md §4.G:
// "Raw: pass received IP packets (or, for AF_PACKET-style sockets,
// whole link-layer frames) verbatim to a per-socket queue"). There is
// no header interpretation here at all; this is the thinnest of the
// three transports, a filtered fan-out rather than a protocol.
package rawsocket

import "github.com/nanostack-io/netstack/stackerr"

// Kind distinguishes an IP-protocol raw socket (receives the IP payload,
// as created with a (domain, SOCK_RAW, protocol) triple) from a
// link-layer one (receives whole frames including the Ethernet header).
type Kind int

const (
	KindIP Kind = iota
	KindLink
)

// Socket is one raw socket's delivery queue and the filter selecting
// what reaches it.
type Socket struct {
	Kind     Kind
	Protocol uint8 // IP protocol number; ignored for KindLink
	NIC      int   // 0 means "any interface"
	Queue    chan []byte
}

// Table fans inbound packets out to every raw socket whose filter
// matches, since unlike UDP/TCP a raw socket's match isn't exclusive:
// more than one raw socket can legitimately observe the same packet.
type Table struct {
	sockets []*Socket
}

// NewTable constructs an empty raw-socket table.
func NewTable() *Table { return &Table{} }

// Open registers a new raw socket and returns it; the caller reads
// s.Queue to receive matching packets.
func (t *Table) Open(kind Kind, protocol uint8, nic int, depth int) *Socket {
	s := &Socket{Kind: kind, Protocol: protocol, NIC: nic, Queue: make(chan []byte, depth)}
	t.sockets = append(t.sockets, s)
	return s
}

// Close unregisters s. Closing s.Queue is the caller's responsibility
// only once no further Deliver calls are in flight for it.
func (t *Table) Close(s *Socket) error {
	for i, cand := range t.sockets {
		if cand == s {
			t.sockets = append(t.sockets[:i], t.sockets[i+1:]...)
			return nil
		}
	}
	return stackerr.New(stackerr.WrongIdentifier)
}

// Deliver fans an inbound packet (an IP datagram for KindIP, a whole
// frame for KindLink) out to every matching socket. A full queue drops
// the packet for that socket rather than blocking the network task,
// the same non-blocking-fan-out contract as udp.Table.Deliver.
func (t *Table) Deliver(kind Kind, protocol uint8, nic int, packet []byte) int {
	delivered := 0
	for _, s := range t.sockets {
		if s.Kind != kind {
			continue
		}
		if s.Kind == KindIP && s.Protocol != protocol {
			continue
		}
		if s.NIC != 0 && s.NIC != nic {
			continue
		}
		select {
		case s.Queue <- packet:
			delivered++
		default:
		}
	}
	return delivered
}
