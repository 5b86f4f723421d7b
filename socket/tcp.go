package socket

import (
	"time"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/ipstack"
	"github.com/nanostack-io/netstack/stackerr"
	"github.com/nanostack-io/netstack/transport/tcp"
)

// Bind records idx's local endpoint (spec.md §6.4 bind(local)). For TCP
// this only records the tuple; the TCB itself is created by Connect or
// Listen since tcp.NewTCB needs the wire-transmission callbacks wired up
// front.
func (t *Table) Bind(idx int, nic int, isIPv6 bool, localV4 addr.IPv4, localV6 addr.IPv6, localPort uint16) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.State != StateClosed {
		return stackerr.New(stackerr.InvalidParameter)
	}
	s.NIC, s.IsIPv6, s.LocalV4, s.LocalV6, s.LocalPort = nic, isIPv6, localV4, localV6, localPort
	s.State = StateBound
	return nil
}

// newTCB builds a TCB wired to s, filling in the protocol-transition
// callbacks spec.md §4.H's event model depends on.
func (t *Table) newTCB(s *Socket) *tcp.TCB {
	cfg := t.tcpConfig()
	cfg.Now = t.now
	cfg.ISN = func() uint32 { return t.isn(s.NIC) }
	cfg.Send = func(seg tcp.Segment) { t.sendTCPSegment(s, seg) }
	cfg.DataAvailable = func() { t.UpdateEvents(s.Index, EventReadable) }
	cfg.RemoteClosed = func() { t.UpdateEvents(s.Index, EventReadable|EventClosed) }
	cfg.Closed = func() {
		s.State = StateClosed
		t.UpdateEvents(s.Index, EventClosed)
	}
	cfg.Established = func() {
		s.State = StateConnected
		t.UpdateEvents(s.Index, EventConnected|EventWritable)
		if s.parent >= 0 {
			t.UpdateEvents(s.parent, EventAcceptable)
		}
	}
	return tcp.NewTCB(cfg)
}

// sendTCPSegment builds and transmits one outbound segment for s
// (spec.md §4.G's Send callback), computing the pseudo-header checksum
// from s's bound/peer addresses the way ipstack.PseudoHeaderChecksumIPv4
// / IPv6 expect.
func (t *Table) sendTCPSegment(s *Socket, seg tcp.Segment) {
	wireLen := 20 + len(seg.Options) + len(seg.Payload)
	buf := make([]byte, wireLen)
	var initial uint32
	if s.IsIPv6 {
		initial = ipstack.PseudoHeaderChecksumIPv6(s.LocalV6, s.RemoteV6, ipstack.ProtoTCP, uint32(wireLen))
	} else {
		initial = ipstack.PseudoHeaderChecksumIPv4(s.LocalV4, s.RemoteV4, ipstack.ProtoTCP, uint16(wireLen))
	}
	if err := tcp.BuildSegment(buf, seg, initial); err != nil {
		return
	}
	if s.IsIPv6 {
		t.tx.SendIPv6(s.NIC, s.LocalV6, s.RemoteV6, ipstack.ProtoTCP, buf)
	} else {
		t.tx.SendIPv4(s.NIC, s.LocalV4, s.RemoteV4, ipstack.ProtoTCP, buf)
	}
}

// Connect performs an active open (spec.md §6.4 connect(remote)).
func (t *Table) Connect(idx int, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.Type != TypeTCP {
		return stackerr.New(stackerr.InvalidParameter)
	}
	if s.State != StateBound {
		return stackerr.New(stackerr.InvalidParameter)
	}
	s.RemoteV4, s.RemoteV6, s.RemotePort = remoteV4, remoteV6, remotePort
	s.TCB = t.newTCB(s)
	s.TCB.Connect()
	s.State = StateConnecting
	return nil
}

// Listen marks idx passive-open (spec.md §6.4 listen). backlog bounds
// the accept queue s.backlog.
func (t *Table) Listen(idx int, backlog int) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.Type != TypeTCP || s.State != StateBound {
		return stackerr.New(stackerr.InvalidParameter)
	}
	s.TCB = t.newTCB(s)
	s.TCB.Listen()
	s.State = StateListening
	s.backlog = make([]int, 0, backlog)
	return nil
}

// DeliverIncomingSYN is called by the IP/TCP demux glue when a SYN
// arrives for a listening socket with no matching established
// connection: it spawns a child socket whose TCB starts in LISTEN and
// queues it for Accept once the handshake completes. Returns the child so
// the caller can route the SYN and the rest of the three-way handshake's
// segments to it; the SYN moves the child to SYN-RECEIVED.
func (t *Table) DeliverIncomingSYN(listenIdx int, nic int, isIPv6 bool, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16) (*Socket, error) {
	listener, err := t.Get(listenIdx)
	if err != nil {
		return nil, err
	}
	if listener.State != StateListening {
		return nil, stackerr.New(stackerr.InvalidParameter)
	}
	if len(listener.backlog) >= cap(listener.backlog) {
		return nil, stackerr.New(stackerr.OutOfResources)
	}
	child, err := t.Open(TypeTCP)
	if err != nil {
		return nil, err
	}
	child.NIC, child.IsIPv6 = nic, isIPv6
	child.LocalV4, child.LocalV6, child.LocalPort = listener.LocalV4, listener.LocalV6, listener.LocalPort
	child.RemoteV4, child.RemoteV6, child.RemotePort = remoteV4, remoteV6, remotePort
	child.parent = listenIdx
	child.TCB = t.newTCB(child)
	child.TCB.Listen()
	child.State = StateConnecting
	listener.backlog = append(listener.backlog, child.Index)
	return child, nil
}

// Accept pops one completed connection off idx's backlog (spec.md §6.4
// accept()), or reports BufferEmpty if none are ready yet; callers that
// want to block compose Accept with Poll(EventAcceptable).
func (t *Table) Accept(idx int) (*Socket, error) {
	s, err := t.Get(idx)
	if err != nil {
		return nil, err
	}
	if s.Type != TypeTCP || s.State != StateListening {
		return nil, stackerr.New(stackerr.InvalidParameter)
	}
	// Entries stay queued (rather than being popped and discarded) until
	// their handshake actually completes, since a not-yet-established
	// child must not block later, already-established ones behind it.
	remaining := s.backlog[:0]
	var accepted *Socket
	for _, childIdx := range s.backlog {
		child, err := t.Get(childIdx)
		if err != nil {
			continue // closed before being accepted
		}
		if accepted == nil && child.TCB.State() == tcp.StateEstablished {
			accepted = child
			continue
		}
		remaining = append(remaining, childIdx)
	}
	s.backlog = remaining
	if accepted == nil {
		return nil, stackerr.New(stackerr.BufferEmpty)
	}
	if len(s.backlog) == 0 {
		t.ClearEvents(idx, EventAcceptable)
	}
	return accepted, nil
}

// Send queues user data on a connected TCP socket (spec.md §6.4 send()).
func (t *Table) Send(idx int, data []byte) (int, error) {
	s, err := t.Get(idx)
	if err != nil {
		return 0, err
	}
	if s.Type != TypeTCP || s.TCB == nil {
		return 0, stackerr.New(stackerr.InvalidParameter)
	}
	n, err := s.TCB.Send(data)
	if s.TCB.State() == tcp.StateEstablished || s.TCB.State() == tcp.StateCloseWait {
		s.State = StateConnected
	}
	return n, err
}

// Recv drains up to len(p) bytes received on idx (spec.md §6.4 recv()).
func (t *Table) Recv(idx int, p []byte) (int, error) {
	s, err := t.Get(idx)
	if err != nil {
		return 0, err
	}
	if s.Type != TypeTCP || s.TCB == nil {
		return 0, stackerr.New(stackerr.InvalidParameter)
	}
	n := s.TCB.Recv(p)
	if n == 0 {
		t.ClearEvents(idx, EventReadable)
	}
	return n, nil
}

// Shutdown half-closes idx's send direction (spec.md §6.4 shutdown()).
func (t *Table) Shutdown(idx int) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.Type != TypeTCP || s.TCB == nil {
		return stackerr.New(stackerr.InvalidParameter)
	}
	s.TCB.Close()
	return nil
}

// FindTCP resolves which socket an inbound segment's four-tuple belongs
// to: an exact match against an already-connecting/connected socket
// first, falling back to a listening socket bound to the local endpoint
// (spec.md §4.G demux; unspecified local address on a listener matches
// any destination). ok is false if neither kind of match exists, in
// which case the IP-layer demux's only recourse is to RST or drop.
func (t *Table) FindTCP(isIPv6 bool, localV4 addr.IPv4, localV6 addr.IPv6, localPort uint16, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16) (idx int, isListener bool, ok bool) {
	for _, s := range t.sockets {
		if s == nil || s.Type != TypeTCP || s.IsIPv6 != isIPv6 || s.LocalPort != localPort {
			continue
		}
		if s.State != StateConnecting && s.State != StateConnected {
			continue
		}
		if s.RemotePort != remotePort {
			continue
		}
		if isIPv6 {
			if s.LocalV6 != localV6 || s.RemoteV6 != remoteV6 {
				continue
			}
		} else if s.LocalV4 != localV4 || s.RemoteV4 != remoteV4 {
			continue
		}
		return s.Index, false, true
	}
	for _, s := range t.sockets {
		if s == nil || s.Type != TypeTCP || s.State != StateListening || s.IsIPv6 != isIPv6 || s.LocalPort != localPort {
			continue
		}
		if isIPv6 {
			if !s.LocalV6.IsUnspecified() && s.LocalV6 != localV6 {
				continue
			}
		} else if !s.LocalV4.IsUnspecified() && s.LocalV4 != localV4 {
			continue
		}
		return s.Index, true, true
	}
	return 0, false, false
}

// HandleSegment routes an inbound TCP segment to idx's TCB and, if idx
// is a freshly-accepted child whose handshake just completed, signals
// its parent listener's EventAcceptable. The IP-layer demux (matching a
// segment to a socket by address/port tuple, or to a listening socket
// when no exact match exists) lives outside this package.
func (t *Table) HandleSegment(idx int, seg *tcp.Segment) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.TCB == nil {
		return stackerr.New(stackerr.NoBinding)
	}
	return s.TCB.HandleSegment(seg)
}

// Tick advances idx's TCP timers (spec.md §4.I: "TCP" fires every
// NET_TICK_INTERVAL via the scheduler's accumulator).
func (t *Table) Tick(idx int, now time.Time) {
	s, err := t.Get(idx)
	if err != nil || s.TCB == nil {
		return
	}
	s.TCB.Tick(now)
}
