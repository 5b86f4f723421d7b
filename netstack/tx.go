package netstack

import (
	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/iface"
	"github.com/nanostack-io/netstack/ipstack"
	"github.com/nanostack-io/netstack/link"
	"github.com/nanostack-io/netstack/link/arp"
	"github.com/nanostack-io/netstack/neighbor"
	"github.com/nanostack-io/netstack/routes"
	"github.com/nanostack-io/netstack/slog"
	"github.com/nanostack-io/netstack/stackerr"
)

// nextHop answers "what link-layer destination does a packet for dst on
// nic resolve to": the matched route's Gateway for an off-link route, or
// dst itself for an on-link one. routes.RouteTable.FindNIC deliberately
// excludes default routes (it answers interface ownership, not
// forwarding), so the longest-match walk is done by hand here over the
// table's already-priority-sorted entries.
func (s *Stack) nextHop(nic int, dst []byte) ([]byte, error) {
	for _, er := range s.routes.GetExtendedRouteTable() {
		if !er.Enabled || int(er.Route.NIC) != nic {
			continue
		}
		if !er.Route.Match(dst) {
			continue
		}
		if len(er.Route.Gateway) > 0 {
			return er.Route.Gateway, nil
		}
		return dst, nil
	}
	return nil, &routes.ErrNoRoute{IP: dst}
}

// SendIPv4 implements socket.Transmitter (spec.md §4.H). The outgoing NIC
// is already decided by the socket layer (by Bind/the route used to reach
// a remote peer); this only resolves the next hop's MAC and hands the
// datagram to the driver.
func (s *Stack) SendIPv4(nic int, src, dst addr.IPv4, protocol uint8, payload []byte) error {
	if _, err := s.registry.Get(nic); err != nil {
		return err
	}
	hop, err := s.nextHop(nic, dst[:])
	if err != nil {
		return err
	}
	var hopAddr addr.IPv4
	copy(hopAddr[:], hop)

	n := s.nics[nic]
	buf := buffer.Allocate(len(payload), buffer.MaxHeaderOverhead)
	buf.Write(0, payload)
	n.ipID++
	if err := ipstack.BuildIPv4(buf, ipstack.IPv4Header{
		TotalLength: uint16(20 + len(payload)),
		ID:          n.ipID,
		TTL:         defaultIPv4TTL,
		Protocol:    protocol,
		Src:         src,
		Dst:         dst,
	}); err != nil {
		return err
	}

	mac, ok := n.arpCache.ResolveOrQueue(hopAddr, buf)
	if !ok {
		return nil // queued; arp.Config.Flush sends it once resolved
	}
	return s.sendEthernet(nic, mac, link.EtherTypeIPv4, buf)
}

// SendIPv6 mirrors SendIPv4 using the IPv6 neighbor cache in place of
// ARP (spec.md §4.F/§4.H).
func (s *Stack) SendIPv6(nic int, src, dst addr.IPv6, nextHeader uint8, payload []byte) error {
	if _, err := s.registry.Get(nic); err != nil {
		return err
	}
	hop, err := s.nextHop(nic, dst[:])
	if err != nil {
		return err
	}
	var hopAddr addr.IPv6
	copy(hopAddr[:], hop)

	buf := buffer.Allocate(len(payload), buffer.MaxHeaderOverhead)
	buf.Write(0, payload)
	if err := ipstack.BuildIPv6(buf, ipstack.IPv6Header{
		PayloadLen: uint16(len(payload)),
		NextHeader: nextHeader,
		HopLimit:   defaultIPv6HopLimit,
		Src:        src,
		Dst:        dst,
	}); err != nil {
		return err
	}

	n := s.nics[nic]
	mac, ok := n.ndp.ResolveOrQueue(hopAddr, buf)
	if !ok {
		return nil // queued; neighbor.NDPConfig.Flush sends it once resolved
	}
	return s.sendEthernet(nic, mac, link.EtherTypeIPv6, buf)
}

// sendEthernet prepends an Ethernet II header addressed to dst and hands
// buf to the attached driver (spec.md §4.C/§4.D). It is the common tail
// of every outbound path, including ARP/NDP's deferred Flush callback.
func (s *Stack) sendEthernet(nicIndex int, dst addr.MAC, etype link.EtherType, buf *buffer.Buffer) error {
	ifc, err := s.registry.Get(nicIndex)
	if err != nil {
		return err
	}
	if ifc.Handle == nil || ifc.LinkState != iface.LinkUp {
		return stackerr.New(stackerr.NotOnLink)
	}
	if err := link.BuildHeader(buf, dst, addr.MAC(ifc.OwnMAC()), nil, nil, etype); err != nil {
		return err
	}
	if err := ifc.Handle.SendPacket(buf); err != nil {
		ifc.MIB.OutErrors++
		return err
	}
	ifc.MIB.OutOctets += uint64(len(buf.Bytes()))
	return nil
}

// sendARPRequest emits an ARP request for target: broadcast when
// unicastTo is nil (fresh resolution), unicast to a known MAC when
// reprobing a stale entry (spec.md §4.D).
func (s *Stack) sendARPRequest(nicIndex int, target addr.IPv4, unicastTo *addr.MAC) {
	ifc, err := s.registry.Get(nicIndex)
	if err != nil {
		return
	}
	var spa addr.IPv4
	if n := s.nics[nicIndex]; len(n.addrsV4) > 0 {
		spa = n.addrsV4[0]
	}
	buf := arp.Build(arp.Message{
		Operation: arp.OpRequest,
		SHA:       addr.MAC(ifc.OwnMAC()),
		SPA:       spa,
		TPA:       target,
	})
	dst := addr.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if unicastTo != nil {
		dst = *unicastTo
	}
	if err := s.sendEthernet(nicIndex, dst, link.EtherTypeARP, buf); err != nil {
		slog.Tracef("netstack: nic %d: arp request: %v", nicIndex, err)
	}
}

// sendNeighborSolicit emits an ICMPv6 Neighbor Solicitation for target:
// multicast to its solicited-node address when unicastTo is nil (fresh
// resolution or DAD), unicast otherwise (RFC 4861 §7.2.2/§7.2.5).
func (s *Stack) sendNeighborSolicit(nicIndex int, target addr.IPv6, unicastTo *addr.MAC) {
	ifc, err := s.registry.Get(nicIndex)
	if err != nil {
		return
	}
	n := s.nics[nicIndex]
	var src addr.IPv6
	var srcLLA *addr.MAC
	if len(n.addrsV6) > 0 {
		src = n.addrsV6[0]
		mac := addr.MAC(ifc.OwnMAC())
		srcLLA = &mac
	}
	initial := ipstack.PseudoHeaderChecksumIPv6(src, target, ipstack.ProtoICMPv6, 24)
	buf := neighbor.BuildSolicitation(neighbor.Solicitation{
		Target:    target,
		SourceLLA: srcLLA,
	}, initial)

	dstIP := target.SolicitedNodeMulticast()
	dstMAC := addr.MAC{0x33, 0x33, dstIP[12], dstIP[13], dstIP[14], dstIP[15]}
	if unicastTo != nil {
		dstMAC = *unicastTo
	}
	if err := ipstack.BuildIPv6(buf, ipstack.IPv6Header{
		PayloadLen: uint16(len(buf.Bytes())),
		NextHeader: ipstack.ProtoICMPv6,
		HopLimit:   255,
		Src:        src,
		Dst:        dstIP,
	}); err != nil {
		return
	}
	if err := s.sendEthernet(nicIndex, dstMAC, link.EtherTypeIPv6, buf); err != nil {
		slog.Tracef("netstack: nic %d: neighbor solicitation: %v", nicIndex, err)
	}
}
