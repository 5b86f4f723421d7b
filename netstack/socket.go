package netstack

import (
	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/socket"
	"github.com/nanostack-io/netstack/transport/rawsocket"
	"github.com/nanostack-io/netstack/transport/udp"
)

// Socket opens a new descriptor of the given transport type (spec.md
// §4.H / §6.4 socket()). The returned index is what every other method
// here is keyed on.
func (s *Stack) Socket(typ socket.Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, err := s.sockets.Open(typ)
	if err != nil {
		return 0, err
	}
	return sk.Index, nil
}

// Bind assigns idx's local endpoint. For TCP and raw sockets this is
// socket.Table.Bind/OpenRaw; UDP binds through BindUDP with wildcard
// matching disabled, so the socket receives only datagrams whose
// destination address and port equal its local ones (the remote address
// and port are not matched), the common BSD
// bind()-then-connect()-or-recvfrom() path.
func (s *Stack) Bind(idx int, nic int, isIPv6 bool, localV4 addr.IPv4, localV6 addr.IPv6, localPort uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, err := s.sockets.Get(idx)
	if err != nil {
		return err
	}
	switch sk.Type {
	case socket.TypeTCP:
		return s.sockets.Bind(idx, nic, isIPv6, localV4, localV6, localPort)
	case socket.TypeUDP:
		return s.sockets.BindUDP(idx, nic, isIPv6, localV4, localV6, localPort, false)
	default:
		return s.sockets.OpenRaw(idx, rawsocket.KindIP, 0, nic)
	}
}

// OpenRaw binds idx as a raw socket filtering on protocol (spec.md
// §4.H raw sockets); unlike Bind's zero-protocol default this lets a
// caller select which IP protocol number it wants fed to it.
func (s *Stack) OpenRaw(idx int, protocol uint8, nic int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.OpenRaw(idx, rawsocket.KindIP, protocol, nic)
}

// Connect initiates (TCP) or associates (UDP) idx toward a remote peer
// (spec.md §4.H connect()).
func (s *Stack) Connect(idx int, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, err := s.sockets.Get(idx)
	if err != nil {
		return err
	}
	if sk.Type == socket.TypeUDP {
		return s.sockets.ConnectUDP(idx, remoteV4, remoteV6, remotePort)
	}
	return s.sockets.Connect(idx, remoteV4, remoteV6, remotePort)
}

// Listen marks idx as a passive-open TCP socket with room for backlog
// pending connections (spec.md §4.H listen()).
func (s *Stack) Listen(idx int, backlog int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.Listen(idx, backlog)
}

// Accept pops one completed connection off idx's backlog, returning its
// own descriptor index (spec.md §4.H accept()).
func (s *Stack) Accept(idx int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, err := s.sockets.Accept(idx)
	if err != nil {
		return 0, err
	}
	return child.Index, nil
}

// Send writes data to a connected TCP socket or a connected UDP socket's
// associated peer (spec.md §4.H send()).
func (s *Stack) Send(idx int, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, err := s.sockets.Get(idx)
	if err != nil {
		return 0, err
	}
	if sk.Type == socket.TypeUDP {
		return len(data), s.sockets.SendUDP(idx, data, true)
	}
	return s.sockets.Send(idx, data)
}

// Recv reads buffered data off a TCP socket into p (spec.md §4.H recv()).
func (s *Stack) Recv(idx int, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.Recv(idx, p)
}

// SendTo writes a single UDP datagram to an explicit peer without
// requiring a prior Connect. Only UDP sockets are accepted; any other
// socket type, raw ones included, gets an invalid-parameter error.
func (s *Stack) SendTo(idx int, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.SendToUDP(idx, remoteV4, remoteV6, remotePort, payload, true)
}

// RecvFrom pops one buffered UDP datagram (spec.md §4.H recvfrom()); for
// a raw socket use RecvRaw instead; there is no per-packet source
// address attached to a raw queue entry.
func (s *Stack) RecvFrom(idx int) (*udp.Datagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.RecvFromUDP(idx)
}

// RecvRaw pops one buffered raw packet (spec.md §4.H raw sockets).
func (s *Stack) RecvRaw(idx int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.RecvRaw(idx)
}

// Close tears down idx and reclaims its descriptor (spec.md §4.H
// close()).
func (s *Stack) Close(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.Close(idx)
}

// SetEventMask installs idx's user-requested event mask (spec.md §4.H
// "a user-supplied event-mask").
func (s *Stack) SetEventMask(idx int, mask socket.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.SetEventMask(idx, mask)
}

// Sockets returns a snapshot of every open descriptor, for inspection
// tooling (cmd/netstat, the Prometheus exporter) rather than I/O.
func (s *Stack) Sockets() []socket.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.Snapshot()
}

// Poll blocks until any of idxs raises one of mask's bits, the deadline
// passes, or the stack is shut down (spec.md §4.H socketPoll()). Unlike
// every other method here, Poll releases the stack's mutex internally
// while waiting so RX/scheduler processing can continue to make
// progress.
func (s *Stack) Poll(idxs []int, mask socket.Event, deadline socket.Deadline) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets.Poll(idxs, mask, deadline)
}
