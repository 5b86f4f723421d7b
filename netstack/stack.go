// Package netstack wires every layer built lower in the import graph —
// driver, link, ARP/NDP, IPv4/IPv6, transport, sockets, the scheduler —
// into the one object spec.md §5 describes: a single mutex, a single
// shared event, and a single cooperative network task. Nothing above
// this package exists; this is where "iface", "ipstack", "socket" and
// the rest stop being independent packages and start being one stack.
package netstack

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/config"
	"github.com/nanostack-io/netstack/driver"
	"github.com/nanostack-io/netstack/iface"
	"github.com/nanostack-io/netstack/ipstack"
	"github.com/nanostack-io/netstack/link"
	"github.com/nanostack-io/netstack/link/arp"
	"github.com/nanostack-io/netstack/neighbor"
	"github.com/nanostack-io/netstack/routes"
	"github.com/nanostack-io/netstack/sched"
	"github.com/nanostack-io/netstack/slog"
	"github.com/nanostack-io/netstack/socket"
	"github.com/nanostack-io/netstack/transport/tcp"
)

const (
	defaultIPv4TTL     = 64
	defaultIPv6HopLimit = 64
	socketTableCapacity = 256
)

// nicState is everything the stack owns per interface that doesn't
// already live on iface.Interface itself: the neighbor caches, DAD
// table, per-family fragment reassembly, assigned addresses, and the
// IPv4 identification counter (spec.md §4.E: "every outbound datagram
// gets a fresh, per-interface monotonic IP ID").
type nicState struct {
	arpCache *arp.Cache
	ndp      *neighbor.Cache
	dad      *neighbor.DADTable
	frag4    *ipstack.ReassemblyTable
	frag6    *ipstack.ReassemblyTable

	addrsV4 []addr.IPv4
	addrsV6 []addr.IPv6

	// pendingPrefix6 remembers the prefix length AssignAddressV6 was
	// called with, keyed by address, until DAD resolves it (or not) and
	// onDADResolved can install the route.
	pendingPrefix6 map[addr.IPv6]int

	ipID uint32
}

// Stack is the top-level netstack object. Every exported method locks
// mu for its duration (spec.md §5): there is no finer-grained locking
// anywhere below it, by design.
type Stack struct {
	mu sync.Mutex

	cfg      config.Settings
	registry *iface.Registry
	routes   *routes.RouteTable
	dispatch *link.Dispatcher
	sockets  *socket.Table
	sched    *sched.Scheduler

	nics map[int]*nicState
}

// New constructs a Stack sized per cfg (spec.md §6.3's NET_INTERFACE_COUNT
// and friends), wiring every sub-component's callbacks but attaching no
// drivers yet — AttachDriver does that per interface.
func New(cfg config.Settings) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Stack{
		cfg:      cfg,
		registry: iface.NewRegistry(cfg.InterfaceCount, cfg.MaxLinkChangeCallbacks),
		routes:   &routes.RouteTable{},
		nics:     make(map[int]*nicState, cfg.InterfaceCount),
	}
	s.sched = sched.New(cfg, s.registry, &s.mu, time.Now)
	s.dispatch = link.NewDispatcher(link.Handlers{
		IPv4: s.handleIPv4Frame,
		IPv6: s.handleIPv6Frame,
		ARP:  s.handleARPFrame,
	})
	s.sockets = socket.NewTable(socketTableCapacity, &s.mu, s, s.isn, time.Now, s.tcpConfig)
	s.registry.AddObserver(socketEventObserver{s})

	for i := 0; i < cfg.InterfaceCount; i++ {
		nic := &nicState{
			frag4:          ipstack.NewReassemblyTable(cfg.IPv4FragmentTimeout, time.Now),
			frag6:          ipstack.NewReassemblyTable(cfg.IPv6FragmentTimeout, time.Now),
			pendingPrefix6: make(map[addr.IPv6]int),
		}
		nicIndex := i
		nic.arpCache = arp.NewCache(arp.Config{
			MaxRetries:       cfg.ARPMaxRetries,
			ReachableTimeout: cfg.ARPReachableTimeout,
			RetryBackoff:     cfg.ARPStaleRetryBackoff,
			SendRequest: func(target addr.IPv4, unicastTo *addr.MAC) {
				s.sendARPRequest(nicIndex, target, unicastTo)
			},
			Flush: func(target addr.IPv4, mac addr.MAC, pkt *buffer.Buffer) {
				s.sendEthernet(nicIndex, mac, link.EtherTypeIPv4, pkt)
			},
		})
		nic.ndp = neighbor.NewCache(neighbor.NDPConfig{
			ReachableTime:       cfg.ARPReachableTimeout,
			RetransTimer:        cfg.ARPStaleRetryBackoff,
			DelayFirstProbeTime: 5 * time.Second,
			MaxUnicastSolicit:   cfg.ARPMaxRetries,
			SendSolicit: func(target addr.IPv6, unicastTo *addr.MAC) {
				s.sendNeighborSolicit(nicIndex, target, unicastTo)
			},
			Flush: func(target addr.IPv6, mac addr.MAC, pkt *buffer.Buffer) {
				s.sendEthernet(nicIndex, mac, link.EtherTypeIPv6, pkt)
			},
		})
		nic.dad = neighbor.NewDADTable(neighbor.DADConfig{
			Transmits: 1,
			Gap:       cfg.ARPStaleRetryBackoff,
			SendSolicit: func(target addr.IPv6) {
				s.sendNeighborSolicit(nicIndex, target, nil)
			},
			Resolved: func(target addr.IPv6, duplicate bool) {
				s.onDADResolved(nicIndex, target, duplicate)
			},
		})
		s.nics[i] = nic
	}

	s.sched.RegisterHandler(sched.SlotNIC, func(ifc *iface.Interface, now time.Time) {
		if ifc.Handle != nil {
			ifc.Handle.Tick()
		}
	})
	s.sched.RegisterHandler(sched.SlotARP, func(ifc *iface.Interface, now time.Time) {
		s.nics[ifc.Index].arpCache.Tick()
	})
	s.sched.RegisterHandler(sched.SlotIPv4Frag, func(ifc *iface.Interface, now time.Time) {
		s.nics[ifc.Index].frag4.Tick()
	})
	s.sched.RegisterHandler(sched.SlotIPv6Frag, func(ifc *iface.Interface, now time.Time) {
		s.nics[ifc.Index].frag6.Tick()
	})
	s.sched.RegisterHandler(sched.SlotNDP, func(ifc *iface.Interface, now time.Time) {
		n := s.nics[ifc.Index]
		n.ndp.Tick()
		n.dad.Tick()
	})
	s.sched.RegisterHandler(sched.SlotTCP, func(ifc *iface.Interface, now time.Time) {
		for idx := 0; idx < s.sockets.Count(); idx++ {
			sock, err := s.sockets.Get(idx)
			if err != nil || sock.NIC != ifc.Index {
				continue
			}
			s.sockets.Tick(idx, now)
		}
	})

	return s, nil
}

// socketEventObserver adapts socket.Table's event-update concern into
// an iface.LinkChangeObserver, registered ahead of any user-facing
// link-change callback so a socket's events always reflect a link flap
// before that flap's own callback fires (spec.md §5).
type socketEventObserver struct{ s *Stack }

func (o socketEventObserver) OnLinkChange(ifc *iface.Interface, up bool) {
	for idx := 0; idx < o.s.sockets.Count(); idx++ {
		sock, err := o.s.sockets.Get(idx)
		if err != nil || sock.NIC != ifc.Index {
			continue
		}
		if up {
			o.s.sockets.UpdateEvents(idx, socket.EventWritable)
		} else {
			o.s.sockets.UpdateEvents(idx, socket.EventError|socket.EventClosed)
		}
	}
}

// tcpConfig returns the base tcp.Config shared by every TCB; per-socket
// fields (Now, ISN, Send, DataAvailable, RemoteClosed, Closed,
// Established) are filled in by socket.Table.newTCB.
func (s *Stack) tcpConfig() tcp.Config {
	return tcp.Config{
		SMSS:             1460,
		InitialRTO:       s.cfg.TCPInitialRTO,
		MaxRTO:           s.cfg.TCPMaxRTO,
		MaxRetries:       s.cfg.TCPMaxRetries,
		MaxProbeInterval: s.cfg.TCPMaxProbeInterval,
		OverrideTimeout:  s.cfg.TCPOverrideTimeout,
		LossWindowSegs:   s.cfg.TCPLossWindowSegs,
		MSL:              s.cfg.TCPMSL,
	}
}

// isn derives a fresh initial sequence number from nic's own PRNG
// (spec.md §4.G: ISN generation is a per-interface PRNG draw, not a
// global counter, so two interfaces never correlate).
func (s *Stack) isn(nic int) uint32 {
	ifc, err := s.registry.Get(nic)
	if err != nil || ifc.PRNG == nil {
		return 0
	}
	return ifc.PRNG.U32()
}

// AttachDriver binds contract to nicIndex, wiring processPacket as its
// upward entry point (spec.md §4.C). The caller still must ConfigInterface
// and SetLinkState to bring the interface into service.
func (s *Stack) AttachDriver(nicIndex int, contract *driver.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ifc, err := s.registry.Get(nicIndex)
	if err != nil {
		return err
	}
	ifc.Handle = driver.NewHandle(nicIndex, contract, s.processPacket, s.sched.Signal)
	return ifc.Handle.Init()
}

// AssignAddressV4 adds ip as one of nic's local IPv4 addresses and
// installs an on-link route for ip's prefixLen subnet (the masked
// network address with a prefixLen-bit mask).
func (s *Stack) AssignAddressV4(nic int, ip addr.IPv4, prefixLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.registry.Get(nic); err != nil {
		return err
	}
	n := s.nics[nic]
	n.addrsV4 = append(n.addrsV4, ip)
	mask := cidrMaskV4(prefixLen)
	s.routes.AddRoute(routes.Route{
		Destination: maskedV4(ip, mask),
		Mask:        mask,
		NIC:         routes.NICID(nic),
	}, 0, false, false, true)
	return nil
}

// AssignAddressV6 begins Duplicate Address Detection for ip (RFC 4862)
// rather than installing its route immediately: the address only
// becomes usable once DAD resolves it as unique (spec.md §4.F).
func (s *Stack) AssignAddressV6(nic int, ip addr.IPv6, prefixLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.registry.Get(nic); err != nil {
		return err
	}
	n := s.nics[nic]
	n.pendingPrefix6[ip] = prefixLen

	solicited := ip.SolicitedNodeMulticast()
	mac := addr.MAC{0x33, 0x33, solicited[12], solicited[13], solicited[14], solicited[15]}
	s.dispatch.FilterTable(nic).Add(mac)

	n.dad.Start(ip)
	return nil
}

func (s *Stack) onDADResolved(nicIndex int, ip addr.IPv6, duplicate bool) {
	n := s.nics[nicIndex]
	prefixLen, ok := n.pendingPrefix6[ip]
	delete(n.pendingPrefix6, ip)
	if duplicate {
		slog.Warningf("netstack: nic %d: address %v failed duplicate address detection", nicIndex, ip)
		return
	}
	if !ok {
		prefixLen = 64
	}
	n.addrsV6 = append(n.addrsV6, ip)
	mask := cidrMaskV6(prefixLen)
	s.routes.AddRoute(routes.Route{
		Destination: maskedV6(ip, mask),
		Mask:        mask,
		NIC:         routes.NICID(nicIndex),
	}, 0, false, false, true)
}

// Run drives the scheduler's main loop until ctx is cancelled (spec.md
// §4.I).
func (s *Stack) Run(ctx context.Context) error {
	return s.sched.Run(ctx)
}

// Registry exposes the interface registry for configuration callers
// (cmd/ifconfig and friends) that need to set names, MACs, VLANs, and
// link state directly.
func (s *Stack) Registry() *iface.Registry { return s.registry }

// Routes exposes the forwarding table for configuration/inspection
// callers (cmd/netstat).
func (s *Stack) Routes() *routes.RouteTable { return s.routes }

// Addresses returns nic's currently assigned IPv4 and IPv6 addresses
// (spec.md §4.B/§4.F), for inspection tooling (cmd/ifconfig).
func (s *Stack) Addresses(nic int) ([]addr.IPv4, []addr.IPv6, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.registry.Get(nic); err != nil {
		return nil, nil, err
	}
	n := s.nics[nic]
	v4 := append([]addr.IPv4(nil), n.addrsV4...)
	v6 := append([]addr.IPv6(nil), n.addrsV6...)
	return v4, v6, nil
}

// StopInterface tears down nic's driver-facing state, neighbor caches
// and every socket still bound to it (spec.md §6.4 stopInterface:
// "driver + cache + sockets"), aggregating whichever of those
// subsystems fail rather than stopping at the first error (spec.md §7
// — errors are "aggregated where multiple subsystems fail together").
func (s *Stack) StopInterface(nic int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	errs = multierr.Append(errs, s.registry.StopInterface(nic))

	if n, ok := s.nics[nic]; ok {
		n.arpCache.Clear()
		n.ndp.Clear()
	}

	for _, info := range s.sockets.Snapshot() {
		if info.NIC != nic {
			continue
		}
		errs = multierr.Append(errs, s.sockets.Close(info.Index))
	}
	return errs
}

// Lock/Unlock expose the stack's single mutex to callers (config tools,
// tests) that need to batch several Registry/Routes calls atomically,
// mirroring how iface/routes/socket already assume one external owner
// of this lock (spec.md §5).
func (s *Stack) Lock()   { s.mu.Lock() }
func (s *Stack) Unlock() { s.mu.Unlock() }

func cidrMaskV4(prefixLen int) []byte {
	m := make([]byte, 4)
	for i := 0; i < prefixLen && i < 32; i++ {
		m[i/8] |= 0x80 >> uint(i%8)
	}
	return m
}

func cidrMaskV6(prefixLen int) []byte {
	m := make([]byte, 16)
	for i := 0; i < prefixLen && i < 128; i++ {
		m[i/8] |= 0x80 >> uint(i%8)
	}
	return m
}

func maskedV4(ip addr.IPv4, mask []byte) []byte {
	out := make([]byte, 4)
	for i := range out {
		out[i] = ip[i] & mask[i]
	}
	return out
}

func maskedV6(ip addr.IPv6, mask []byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = ip[i] & mask[i]
	}
	return out
}
