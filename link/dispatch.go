package link

import (
	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/slog"
	"github.com/nanostack-io/netstack/stackerr"
)

// Handlers are the upward callbacks an Ethernet dispatcher hands parsed
// payloads to (spec.md §4.D: "Dispatch by EtherType: IPv4, IPv6, ARP,
// optionally LLC/SNAP").
type Handlers struct {
	IPv4 func(nicIndex int, outerTag, innerTag *VLANTag, payload []byte)
	IPv6 func(nicIndex int, outerTag, innerTag *VLANTag, payload []byte)
	ARP  func(nicIndex int, payload []byte)
}

// Dispatcher owns one FilterTable and AcceptPolicy per interface and
// routes accepted frames to Handlers by EtherType.
type Dispatcher struct {
	filters  map[int]*FilterTable
	policies map[int]AcceptPolicy
	handlers Handlers
}

func NewDispatcher(handlers Handlers) *Dispatcher {
	return &Dispatcher{
		filters:  make(map[int]*FilterTable),
		policies: make(map[int]AcceptPolicy),
		handlers: handlers,
	}
}

// FilterTable returns (creating if needed) the per-interface filter
// table, so callers (ARP/NDP joining a multicast MAC, sockets asking for
// promiscuous capture) can add/remove entries.
func (d *Dispatcher) FilterTable(nicIndex int) *FilterTable {
	ft, ok := d.filters[nicIndex]
	if !ok {
		ft = NewFilterTable()
		d.filters[nicIndex] = ft
	}
	return ft
}

// SetAcceptPolicy sets nicIndex's promiscuous/accept-all-multicast
// policy.
func (d *Dispatcher) SetAcceptPolicy(nicIndex int, policy AcceptPolicy) {
	d.policies[nicIndex] = policy
}

// HandleFrame is the Ethernet entry point called from processPacket
// (spec.md §4.C) for a NIC of type Ethernet. Parse errors and
// acceptance failures are silently dropped with a debug trace per
// spec.md §7 ("Parse-level errors on RX are always silently dropped
// with a debug trace — never surfaced").
func (d *Dispatcher) HandleFrame(nicIndex int, ownMAC addr.MAC, raw []byte) {
	f, err := ParseEthernet(raw)
	if err != nil {
		slog.Tracef("link: nic %d: dropping frame: %v", nicIndex, err)
		return
	}
	if !Accept(f.Dst, ownMAC, d.filters[nicIndex], d.policies[nicIndex]) {
		slog.Tracef("link: nic %d: frame for %v not accepted (own=%v)", nicIndex, f.Dst, ownMAC)
		return
	}
	switch f.EtherType {
	case EtherTypeIPv4:
		if d.handlers.IPv4 != nil {
			d.handlers.IPv4(nicIndex, f.OuterTag, f.InnerTag, f.Payload)
		}
	case EtherTypeIPv6:
		if d.handlers.IPv6 != nil {
			d.handlers.IPv6(nicIndex, f.OuterTag, f.InnerTag, f.Payload)
		}
	case EtherTypeARP:
		if d.handlers.ARP != nil {
			d.handlers.ARP(nicIndex, f.Payload)
		}
	default:
		slog.Tracef("link: nic %d: dropping frame: %v", nicIndex, stackerr.Newf(stackerr.InvalidPacket, "unhandled ethertype %#04x", f.EtherType))
	}
}
