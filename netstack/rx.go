package netstack

import (
	"github.com/rs/xid"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/driver"
	"github.com/nanostack-io/netstack/ipstack"
	"github.com/nanostack-io/netstack/link"
	"github.com/nanostack-io/netstack/link/arp"
	"github.com/nanostack-io/netstack/neighbor"
	"github.com/nanostack-io/netstack/slog"
	"github.com/nanostack-io/netstack/transport/rawsocket"
	"github.com/nanostack-io/netstack/transport/tcp"
	"github.com/nanostack-io/netstack/transport/udp"
)

// processPacket is the driver.ReceiveFunc wired in at AttachDriver time
// (spec.md §4.C): "dispatches by NIC type to ethernet frame processing,
// PPP frame processing, direct IPv6 (6LoWPAN), or (loopback) to IPv4/IPv6
// based on the first nibble of the payload." Only Ethernet and loopback
// framing are implemented; PPP/6LoWPAN have no driver in this tree to
// exercise them yet.
//
// Every frame is tagged with a short correlation id (spec.md §7's debug
// trace requirement) so the handful of slog.Tracef call sites a single
// frame can pass through — fragment reassembly, TCP/UDP demux, neighbor
// discovery replies — can be grepped back into one RX event.
func (s *Stack) processPacket(nicIndex int, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ifc, err := s.registry.Get(nicIndex)
	if err != nil || ifc.Handle == nil {
		return
	}
	ifc.MIB.InOctets += uint64(len(frame))
	switch ifc.Handle.Contract.Type {
	case driver.Ethernet:
		s.dispatch.HandleFrame(nicIndex, addr.MAC(ifc.OwnMAC()), frame)
	case driver.Loopback:
		if len(frame) == 0 {
			return
		}
		switch frame[0] >> 4 {
		case 4:
			s.handleIPv4Frame(nicIndex, nil, nil, frame)
		case 6:
			s.handleIPv6Frame(nicIndex, nil, nil, frame)
		}
	default:
		slog.Tracef("netstack: nic %d: no frame processing wired for %v", nicIndex, ifc.Handle.Contract.Type)
	}
}

// handleARPFrame, handleIPv4Frame and handleIPv6Frame are the three entry
// points link.Dispatcher/processPacket hand frames to; each mints its own
// rx correlation id (spec.md §7's debug trace requirement) and threads it
// through whatever demux/reassembly/delivery calls that one frame triggers,
// so every slog.Tracef line it can reach is grep-able back to one RX event.
func (s *Stack) handleARPFrame(nicIndex int, payload []byte) {
	rxID := xid.New().String()
	msg, err := arp.Parse(payload)
	if err != nil {
		slog.Tracef("netstack: rx %s: nic %d: dropping arp packet: %v", rxID, nicIndex, err)
		return
	}
	n := s.nics[nicIndex]

	switch msg.Operation {
	case arp.OpRequest:
		for _, ip := range n.addrsV4 {
			if ip != msg.TPA {
				continue
			}
			ifc, err := s.registry.Get(nicIndex)
			if err != nil {
				return
			}
			reply := arp.Build(arp.Message{
				Operation: arp.OpReply,
				SHA:       addr.MAC(ifc.OwnMAC()),
				SPA:       msg.TPA,
				THA:       msg.SHA,
				TPA:       msg.SPA,
			})
			if err := s.sendEthernet(nicIndex, msg.SHA, link.EtherTypeARP, reply); err != nil {
				slog.Tracef("netstack: rx %s: nic %d: arp reply: %v", rxID, nicIndex, err)
			}
			return
		}
	case arp.OpReply:
		n.arpCache.HandleReply(msg.SPA, msg.SHA)
	}
}

func (s *Stack) handleIPv4Frame(nicIndex int, outerTag, innerTag *link.VLANTag, payload []byte) {
	rxID := xid.New().String()
	h, body, err := ipstack.ParseIPv4(payload)
	if err != nil {
		if ifc, gerr := s.registry.Get(nicIndex); gerr == nil {
			ifc.MIB.InErrors++
		}
		slog.Tracef("netstack: rx %s: nic %d: dropping ipv4 packet: %v", rxID, nicIndex, err)
		return
	}

	if h.MoreFragments || h.FragmentOffset != 0 {
		n := s.nics[nicIndex]
		key := ipstack.ReassemblyKey{
			Src:      string(h.Src[:]),
			Dst:      string(h.Dst[:]),
			ID:       uint32(h.ID),
			Protocol: h.Protocol,
		}
		buf, ok := n.frag4.Insert(key, ipstack.Fragment{
			Offset:        int(h.FragmentOffset) * 8,
			Data:          body,
			MoreFragments: h.MoreFragments,
		})
		if !ok {
			return
		}
		body = buf.Bytes()
	}

	switch h.Protocol {
	case ipstack.ProtoTCP:
		s.handleTCPv4(rxID, nicIndex, h.Src, h.Dst, body)
	case ipstack.ProtoUDP:
		s.handleUDPv4(rxID, nicIndex, h.Src, h.Dst, body)
	default:
		s.sockets.DeliverRaw(rawsocket.KindIP, h.Protocol, nicIndex, body)
	}
}

func (s *Stack) handleIPv6Frame(nicIndex int, outerTag, innerTag *link.VLANTag, payload []byte) {
	rxID := xid.New().String()
	h, body, err := ipstack.ParseIPv6(payload)
	if err != nil {
		if ifc, gerr := s.registry.Get(nicIndex); gerr == nil {
			ifc.MIB.InErrors++
		}
		slog.Tracef("netstack: rx %s: nic %d: dropping ipv6 packet: %v", rxID, nicIndex, err)
		return
	}

	_, nextHeader, rest, err := ipstack.WalkExtensionHeaders(h.NextHeader, body)
	if err != nil {
		slog.Tracef("netstack: rx %s: nic %d: dropping ipv6 packet: %v", rxID, nicIndex, err)
		return
	}
	body = rest

	if nextHeader == ipstack.ExtFragment {
		if len(body) < 8 {
			return
		}
		// RFC 8200 §4.5: next-header, reserved, 13-bit offset + 2
		// reserved bits + M flag, then a 32-bit identification.
		realNextHeader := body[0]
		fragOffset := (uint16(body[2])<<8 | uint16(body[3])) >> 3
		moreFragments := body[3]&0x1 != 0
		id := uint32(body[4])<<24 | uint32(body[5])<<16 | uint32(body[6])<<8 | uint32(body[7])
		data := body[8:]

		n := s.nics[nicIndex]
		key := ipstack.ReassemblyKey{
			Src:      string(h.Src[:]),
			Dst:      string(h.Dst[:]),
			ID:       id,
			Protocol: realNextHeader,
		}
		buf, ok := n.frag6.Insert(key, ipstack.Fragment{
			Offset:        int(fragOffset) * 8,
			Data:          data,
			MoreFragments: moreFragments,
		})
		if !ok {
			return
		}
		body = buf.Bytes()
		nextHeader = realNextHeader
	}

	switch nextHeader {
	case ipstack.ProtoICMPv6:
		s.handleICMPv6(rxID, nicIndex, h.Src, h.Dst, body)
	case ipstack.ProtoTCP:
		s.handleTCPv6(rxID, nicIndex, h.Src, h.Dst, body)
	case ipstack.ProtoUDP:
		s.handleUDPv6(rxID, nicIndex, h.Src, h.Dst, body)
	default:
		s.sockets.DeliverRaw(rawsocket.KindIP, nextHeader, nicIndex, body)
	}
}

func (s *Stack) handleTCPv4(rxID string, nicIndex int, src, dst addr.IPv4, body []byte) {
	initial := ipstack.PseudoHeaderChecksumIPv4(src, dst, ipstack.ProtoTCP, uint16(len(body)))
	seg, err := tcp.ParseSegment(body, initial)
	if err != nil {
		slog.Tracef("netstack: rx %s: nic %d: dropping tcp segment: %v", rxID, nicIndex, err)
		return
	}
	s.deliverTCP(rxID, nicIndex, false, dst, addr.IPv6{}, seg.DstPort, src, addr.IPv6{}, seg.SrcPort, seg)
}

func (s *Stack) handleTCPv6(rxID string, nicIndex int, src, dst addr.IPv6, body []byte) {
	initial := ipstack.PseudoHeaderChecksumIPv6(src, dst, ipstack.ProtoTCP, uint32(len(body)))
	seg, err := tcp.ParseSegment(body, initial)
	if err != nil {
		slog.Tracef("netstack: rx %s: nic %d: dropping tcp segment: %v", rxID, nicIndex, err)
		return
	}
	s.deliverTCP(rxID, nicIndex, true, addr.IPv4{}, dst, seg.DstPort, addr.IPv4{}, src, seg.SrcPort, seg)
}

// deliverTCP matches an inbound segment to a socket (spec.md §4.G demux)
// and either feeds an existing TCB or spawns a new one from a listener's
// backlog for a bare SYN.
func (s *Stack) deliverTCP(rxID string, nicIndex int, isIPv6 bool, localV4 addr.IPv4, localV6 addr.IPv6, localPort uint16, remoteV4 addr.IPv4, remoteV6 addr.IPv6, remotePort uint16, seg *tcp.Segment) {
	idx, isListener, ok := s.sockets.FindTCP(isIPv6, localV4, localV6, localPort, remoteV4, remoteV6, remotePort)
	if !ok {
		return // no RST generation yet: no listener/connection owns this tuple
	}
	if isListener {
		if seg.Flags != tcp.FlagSYN {
			return
		}
		child, err := s.sockets.DeliverIncomingSYN(idx, nicIndex, isIPv6, remoteV4, remoteV6, remotePort)
		if err != nil {
			return
		}
		idx = child.Index
	}
	if err := s.sockets.HandleSegment(idx, seg); err != nil {
		slog.Tracef("netstack: rx %s: nic %d: tcp segment delivery: %v", rxID, nicIndex, err)
	}
}

func (s *Stack) handleUDPv4(rxID string, nicIndex int, src, dst addr.IPv4, body []byte) {
	initial := ipstack.PseudoHeaderChecksumIPv4(src, dst, ipstack.ProtoUDP, uint16(len(body)))
	d, err := udp.Parse(body, initial, false)
	if err != nil {
		slog.Tracef("netstack: rx %s: nic %d: dropping udp datagram: %v", rxID, nicIndex, err)
		return
	}
	s.sockets.DeliverUDP(dst.String(), d)
}

func (s *Stack) handleUDPv6(rxID string, nicIndex int, src, dst addr.IPv6, body []byte) {
	initial := ipstack.PseudoHeaderChecksumIPv6(src, dst, ipstack.ProtoUDP, uint32(len(body)))
	d, err := udp.Parse(body, initial, true)
	if err != nil {
		slog.Tracef("netstack: rx %s: nic %d: dropping udp datagram: %v", rxID, nicIndex, err)
		return
	}
	s.sockets.DeliverUDP(dst.String(), d)
}

// handleICMPv6 intercepts Neighbor Solicitation/Advertisement traffic for
// the neighbor cache and DAD machinery (spec.md §4.F); everything else
// ICMPv6 carries (echo, MLD, router advertisements, ...) is handed to raw
// sockets rather than processed here (those sub-protocols have no driver
// in this tree to exercise them yet).
func (s *Stack) handleICMPv6(rxID string, nicIndex int, src, dst addr.IPv6, body []byte) {
	if len(body) == 0 {
		s.sockets.DeliverRaw(rawsocket.KindIP, ipstack.ProtoICMPv6, nicIndex, body)
		return
	}
	n := s.nics[nicIndex]
	switch body[0] {
	case neighbor.ICMPv6TypeNeighborSolicit:
		sol, err := neighbor.ParseSolicitation(body)
		if err != nil {
			return
		}
		for _, ip := range n.addrsV6 {
			if ip != sol.Target {
				continue
			}
			if sol.SourceLLA != nil {
				n.ndp.HandleAdvertisement(src, *sol.SourceLLA, false, false)
			}
			if n.dad.HasPending(sol.Target) {
				n.dad.HandleConflict(sol.Target)
				return
			}
			s.sendNeighborAdvertisement(rxID, nicIndex, sol.Target, src, sol.SourceLLA)
			return
		}
	case neighbor.ICMPv6TypeNeighborAdvert:
		adv, err := neighbor.ParseAdvertisement(body)
		if err != nil {
			return
		}
		if n.dad.HasPending(adv.Target) {
			n.dad.HandleConflict(adv.Target)
			return
		}
		if adv.TargetLLA != nil {
			n.ndp.HandleAdvertisement(adv.Target, *adv.TargetLLA, adv.Router, adv.Solicited)
		} else if adv.Solicited {
			n.ndp.ConfirmReachable(adv.Target)
		}
	default:
		s.sockets.DeliverRaw(rawsocket.KindIP, ipstack.ProtoICMPv6, nicIndex, body)
	}
}

// sendNeighborAdvertisement replies to a solicitation for one of this
// interface's own addresses (RFC 4861 §7.2.4). solicitorLLA is the
// solicitation's Source Link-Layer Address option when present; absent
// (an unspecified-source DAD probe), the reply goes to the all-nodes
// multicast address instead of unicast.
func (s *Stack) sendNeighborAdvertisement(rxID string, nicIndex int, target, solicitor addr.IPv6, solicitorLLA *addr.MAC) {
	ifc, err := s.registry.Get(nicIndex)
	if err != nil {
		return
	}
	ownMAC := addr.MAC(ifc.OwnMAC())

	dstIP := solicitor
	dstMAC := addr.MAC{0x33, 0x33, 0, 0, 0, 1}
	solicited := true
	if solicitorLLA != nil {
		dstMAC = *solicitorLLA
	} else {
		dstIP = addr.IPv6{0xff, 0x02, 15: 1} // all-nodes multicast (RFC 4861 §7.2.5)
		solicited = false
	}

	initial := ipstack.PseudoHeaderChecksumIPv6(target, dstIP, ipstack.ProtoICMPv6, 32)
	buf := neighbor.BuildAdvertisement(neighbor.Advertisement{
		Target:    target,
		Solicited: solicited,
		Override:  true,
		TargetLLA: &ownMAC,
	}, initial)
	if err := ipstack.BuildIPv6(buf, ipstack.IPv6Header{
		PayloadLen: uint16(len(buf.Bytes())),
		NextHeader: ipstack.ProtoICMPv6,
		HopLimit:   255,
		Src:        target,
		Dst:        dstIP,
	}); err != nil {
		return
	}
	if err := s.sendEthernet(nicIndex, dstMAC, link.EtherTypeIPv6, buf); err != nil {
		slog.Tracef("netstack: rx %s: nic %d: neighbor advertisement: %v", rxID, nicIndex, err)
	}
}
