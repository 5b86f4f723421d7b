// Package socket implements the shared socket table of spec.md §4.H: a
// fixed-size array of descriptors, each referenced by its index, backing
// a BSD-shaped blocking API over the TCP, UDP and raw transports. Like
// iface.Registry, every Table method assumes the caller holds the owning
// Stack's single mutex (spec.md §5); the blocking calls in events.go are
// the one place that mutex is released, via a sync.Cond built on it.
package socket

import (
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/stackerr"
	"github.com/nanostack-io/netstack/transport/rawsocket"
	"github.com/nanostack-io/netstack/transport/tcp"
	"github.com/nanostack-io/netstack/transport/udp"
)

// Type is the transport a descriptor was opened against.
type Type int

const (
	TypeTCP Type = iota
	TypeUDP
	TypeRaw
)

func (t Type) String() string {
	switch t {
	case TypeTCP:
		return "tcp"
	case TypeUDP:
		return "udp"
	case TypeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// State is a coarse socket lifecycle state, independent of (and coarser
// than) transport/tcp.State: UDP and raw sockets only ever occupy
// StateClosed/StateBound/StateConnected.
type State int

const (
	StateClosed State = iota
	StateBound
	StateConnecting
	StateConnected
	StateListening
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateBound:
		return "bound"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}

// Event is a bitmask of the conditions spec.md §4.H's event model raises:
// "RX-ready, TX-ready, connection-established, closed, error".
type Event uint32

const (
	EventReadable Event = 1 << iota
	EventWritable
	EventConnected
	EventClosed
	EventError
	EventAcceptable
)

// Transmitter is the IP-layer boundary the socket layer hands fully-built
// transport segments to (spec.md §5: "dispatched through D→E→F→G→H");
// depending on an interface here rather than ipstack.Stack directly keeps
// this package usable without pulling in link/driver wiring.
type Transmitter interface {
	SendIPv4(nic int, src, dst addr.IPv4, protocol uint8, payload []byte) error
	SendIPv6(nic int, src, dst addr.IPv6, nextHeader uint8, payload []byte) error
}

// Socket is one descriptor in the table (spec.md §4.H: "sockets are
// referenced by their index").
type Socket struct {
	Index int
	Type  Type
	State State

	EventMask  Event
	EventFlags Event

	IsIPv6    bool
	LocalV4   addr.IPv4
	RemoteV4  addr.IPv4
	LocalV6   addr.IPv6
	RemoteV6  addr.IPv6
	LocalPort uint16
	RemotePort uint16
	NIC       int

	TCB *tcp.TCB

	udpKey   udp.Key
	udpQueue chan *udp.Datagram
	udpBound bool

	raw *rawsocket.Socket

	// parent is the listening socket's index that spawned this one via an
	// incoming SYN, or -1 for a socket opened directly by the user
	// (spec.md §4.H accept()).
	parent int

	// backlog holds descriptors of connections accepted by a listening
	// TCP socket (spec.md §4.H accept), FIFO.
	backlog []int
}

// Table is the fixed-size socket table plus the shared state the event
// model and the UDP/raw demuxers need: a condition variable for blocking
// calls, the UDP port demux table, and the raw-socket fan-out table.
type Table struct {
	mu   *sync.Mutex
	cond *sync.Cond

	sockets []*Socket
	free    []int

	udp *udp.Table
	raw *rawsocket.Table

	tx        Transmitter
	isn       func(nic int) uint32
	now       func() time.Time
	tcpConfig func() tcp.Config // base Config, Send/DataAvailable/etc filled per-socket

	canceled bool
}

// NewTable preallocates capacity descriptors. mu is the Stack's single
// mutex (spec.md §5); the caller must hold it across every Table method
// except Poll, which releases it while waiting.
func NewTable(capacity int, mu *sync.Mutex, tx Transmitter, isn func(nic int) uint32, now func() time.Time, tcpConfig func() tcp.Config) *Table {
	if now == nil {
		now = time.Now
	}
	t := &Table{
		mu:        mu,
		cond:      sync.NewCond(mu),
		sockets:   make([]*Socket, capacity),
		udp:       udp.NewTable(),
		raw:       rawsocket.NewTable(),
		tx:        tx,
		isn:       isn,
		now:       now,
		tcpConfig: tcpConfig,
	}
	for i := 0; i < capacity; i++ {
		t.free = append(t.free, capacity-1-i)
	}
	return t
}

// Count returns the table's fixed capacity.
func (t *Table) Count() int { return len(t.sockets) }

// Info is a read-only snapshot of one open descriptor, for inspection
// tooling (cmd/netstat, the Prometheus exporter) that must not reach
// into Socket's transport-internal fields directly.
type Info struct {
	Index      int
	Type       Type
	State      State
	TCPState   tcp.State
	IsIPv6     bool
	LocalV4    addr.IPv4
	RemoteV4   addr.IPv4
	LocalV6    addr.IPv6
	RemoteV6   addr.IPv6
	LocalPort  uint16
	RemotePort uint16
	NIC        int
}

// Snapshot lists every currently-open descriptor, mirroring the
// cache-inspection Entries() pattern used by arp.Cache and neighbor.Cache.
func (t *Table) Snapshot() []Info {
	out := make([]Info, 0, len(t.sockets))
	for _, s := range t.sockets {
		if s == nil {
			continue
		}
		info := Info{
			Index:      s.Index,
			Type:       s.Type,
			State:      s.State,
			IsIPv6:     s.IsIPv6,
			LocalV4:    s.LocalV4,
			RemoteV4:   s.RemoteV4,
			LocalV6:    s.LocalV6,
			RemoteV6:   s.RemoteV6,
			LocalPort:  s.LocalPort,
			RemotePort: s.RemotePort,
			NIC:        s.NIC,
		}
		if s.TCB != nil {
			info.TCPState = s.TCB.State()
		}
		out = append(out, info)
	}
	return out
}

// Open allocates a descriptor of the given type (spec.md §6.4 socket()).
func (t *Table) Open(typ Type) (*Socket, error) {
	if len(t.free) == 0 {
		return nil, stackerr.New(stackerr.OutOfResources)
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	s := &Socket{Index: idx, Type: typ, EventMask: ^Event(0), parent: -1}
	t.sockets[idx] = s
	return s, nil
}

// Get returns the socket at idx.
func (t *Table) Get(idx int) (*Socket, error) {
	if idx < 0 || idx >= len(t.sockets) || t.sockets[idx] == nil {
		return nil, stackerr.Newf(stackerr.WrongIdentifier, "socket %d", idx)
	}
	return t.sockets[idx], nil
}

// Close tears down idx's transport state and releases it back to the
// free list (spec.md §6.4 close()).
func (t *Table) Close(idx int) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	var errs error
	switch {
	case s.Type == TypeTCP && s.TCB != nil:
		// Sends a FIN if one hasn't gone out yet; idempotent on an
		// already-terminal TCB. The descriptor is reclaimed immediately
		// regardless (spec.md §3's fixed-table resource model does not
		// keep a TCB alive past its owning descriptor to finish
		// TIME-WAIT in the background).
		s.TCB.Close()
	case s.Type == TypeUDP && s.udpBound:
		t.udp.Unbind(s.udpKey)
	case s.Type == TypeRaw && s.raw != nil:
		errs = multierr.Append(errs, t.raw.Close(s.raw))
	}
	t.sockets[idx] = nil
	t.free = append(t.free, idx)
	t.cond.Broadcast()
	return errs
}
