package socket

import (
	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/ipstack"
	"github.com/nanostack-io/netstack/stackerr"
	"github.com/nanostack-io/netstack/transport/udp"
)

const udpRecvQueueDepth = 16

// BindUDP binds idx to a local port (and, unless wildcard, a local
// address), registering it in the shared udp.Table demux (spec.md §4.G:
// "demux by destination port (and optionally destination address,
// interface)").
func (t *Table) BindUDP(idx int, nic int, isIPv6 bool, localV4 addr.IPv4, localV6 addr.IPv6, localPort uint16, wildcard bool) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.Type != TypeUDP || s.State != StateClosed {
		return stackerr.New(stackerr.InvalidParameter)
	}
	localAddr := localV4.String()
	if isIPv6 {
		localAddr = localV6.String()
	}
	key := udp.Key{LocalPort: localPort, LocalAddr: localAddr, Unspecified: wildcard}
	queue := make(chan *udp.Datagram, udpRecvQueueDepth)
	if err := t.udp.Bind(key, queue); err != nil {
		return err
	}
	s.NIC, s.IsIPv6, s.LocalV4, s.LocalV6, s.LocalPort = nic, isIPv6, localV4, localV6, localPort
	s.udpKey, s.udpQueue, s.udpBound = key, queue, true
	s.State = StateBound
	t.UpdateEvents(idx, EventWritable)
	return nil
}

// ConnectUDP fixes idx's default destination for SendTo/RecvFrom-less
// Send/Recv (spec.md §6.4 connect() applied to a datagram socket — it
// filters, it does not establish state).
func (t *Table) ConnectUDP(idx int, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.Type != TypeUDP {
		return stackerr.New(stackerr.InvalidParameter)
	}
	s.RemoteV4, s.RemoteV6, s.RemotePort = remoteV4, remoteV6, remotePort
	s.State = StateConnected
	return nil
}

// SendToUDP builds and transmits one datagram from idx, with genChecksum
// false only ever allowed over IPv4 (spec.md §6.3's optional-checksum
// flag; UDP/IPv6 checksums are mandatory).
func (t *Table) SendToUDP(idx int, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16, payload []byte, genChecksum bool) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.Type != TypeUDP {
		return stackerr.New(stackerr.InvalidParameter)
	}
	d := udp.Datagram{SrcPort: s.LocalPort, DstPort: remotePort, Payload: payload}
	buf := make([]byte, 8+len(payload))
	wireLen := len(buf)
	if s.IsIPv6 {
		genChecksum = true // RFC 768/8200: mandatory over IPv6
		initial := ipstack.PseudoHeaderChecksumIPv6(s.LocalV6, remoteV6, ipstack.ProtoUDP, uint32(wireLen))
		if err := udp.Build(buf, d, initial, true); err != nil {
			return err
		}
		return t.tx.SendIPv6(s.NIC, s.LocalV6, remoteV6, ipstack.ProtoUDP, buf)
	}
	initial := ipstack.PseudoHeaderChecksumIPv4(s.LocalV4, remoteV4, ipstack.ProtoUDP, uint16(wireLen))
	if err := udp.Build(buf, d, initial, genChecksum); err != nil {
		return err
	}
	return t.tx.SendIPv4(s.NIC, s.LocalV4, remoteV4, ipstack.ProtoUDP, buf)
}

// SendUDP transmits to idx's connected remote (set by ConnectUDP).
func (t *Table) SendUDP(idx int, payload []byte, genChecksum bool) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.State != StateConnected {
		return stackerr.New(stackerr.NoBinding)
	}
	return t.SendToUDP(idx, s.RemoteV4, s.RemoteV6, s.RemotePort, payload, genChecksum)
}

// DeliverUDP is called by the IP-layer demux with an already-parsed
// datagram destined for dstAddr, routing it to the bound socket whose key
// matches (spec.md §4.G), specific local-address binds preferred over a
// wildcard one. t.udp itself stays the source of truth for rejecting a
// duplicate Bind; delivery is resolved here, against the sockets slice,
// so that the Socket (and hence its event flags) that accepted the
// datagram is known without adding a reverse channel->Socket index.
func (t *Table) DeliverUDP(dstAddr string, d *udp.Datagram) bool {
	var specific, wildcard *Socket
	for _, s := range t.sockets {
		if s == nil || s.Type != TypeUDP || !s.udpBound || s.LocalPort != d.DstPort {
			continue
		}
		if s.udpKey.Unspecified {
			wildcard = s
		} else if s.udpKey.LocalAddr == dstAddr {
			specific = s
		}
	}
	target := specific
	if target == nil {
		target = wildcard
	}
	if target == nil {
		return false
	}
	select {
	case target.udpQueue <- d:
		t.UpdateEvents(target.Index, EventReadable)
		return true
	default:
		return false
	}
}

// RecvFromUDP pops one datagram off idx's queue, non-blocking (spec.md
// §6.4 recv()); callers wanting to block compose with
// Poll(EventReadable).
func (t *Table) RecvFromUDP(idx int) (*udp.Datagram, error) {
	s, err := t.Get(idx)
	if err != nil {
		return nil, err
	}
	if s.Type != TypeUDP || !s.udpBound {
		return nil, stackerr.New(stackerr.InvalidParameter)
	}
	select {
	case d := <-s.udpQueue:
		if len(s.udpQueue) == 0 {
			t.ClearEvents(idx, EventReadable)
		}
		return d, nil
	default:
		return nil, stackerr.New(stackerr.BufferEmpty)
	}
}
