// Package sched implements the single cooperative network task of
// spec.md §4.I: one goroutine draining pending driver events and firing
// a fixed-order, accumulator-based tick across the sub-protocols, plus
// the user-registered timer-callback table. Every method here except
// Run, Start and Cancel (which take the mutex themselves) and Signal
// assumes the caller holds the owning Stack's mutex (spec.md §5), the
// same convention iface.Registry and socket.Table state.
package sched

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nanostack-io/netstack/config"
	"github.com/nanostack-io/netstack/iface"
	"github.com/nanostack-io/netstack/slog"
	"github.com/nanostack-io/netstack/stackerr"
)

// TickHandler is a sub-protocol's periodic handler, invoked once per
// configured interface when that sub-protocol's accumulator crosses its
// configured interval (spec.md §4.I tick()).
type TickHandler func(ifc *iface.Interface, now time.Time)

// Slot names one of the built-in sub-protocol tick positions, in the
// fixed dispatch order spec.md §4.I's "Ordering guarantees" mandates:
// "NIC -> PPP -> ARP -> IPv4-frag -> IGMP -> Auto-IP -> DHCP-client ->
// DHCP-server -> NAT -> IPv6-frag -> MLD -> NDP -> RA -> DHCPv6 -> TCP ->
// DNS -> mDNS -> DNS-SD -> user". A slot with no registered handler is
// simply skipped every tick ("fire only when feature compiled in"); the
// trailing "user" stage is the timer-callback table below, not a Slot.
type Slot int

const (
	SlotNIC Slot = iota
	SlotPPP
	SlotARP
	SlotIPv4Frag
	SlotIGMP
	SlotAutoIP
	SlotDHCPClient
	SlotDHCPServer
	SlotNAT
	SlotIPv6Frag
	SlotMLD
	SlotNDP
	SlotRA
	SlotDHCPv6
	SlotTCP
	SlotDNS
	SlotMDNS
	SlotDNSSD
	numSlots
)

func (s Slot) String() string {
	switch s {
	case SlotNIC:
		return "nic"
	case SlotPPP:
		return "ppp"
	case SlotARP:
		return "arp"
	case SlotIPv4Frag:
		return "ipv4-frag"
	case SlotIGMP:
		return "igmp"
	case SlotAutoIP:
		return "auto-ip"
	case SlotDHCPClient:
		return "dhcp-client"
	case SlotDHCPServer:
		return "dhcp-server"
	case SlotNAT:
		return "nat"
	case SlotIPv6Frag:
		return "ipv6-frag"
	case SlotMLD:
		return "mld"
	case SlotNDP:
		return "ndp"
	case SlotRA:
		return "ra"
	case SlotDHCPv6:
		return "dhcpv6"
	case SlotTCP:
		return "tcp"
	case SlotDNS:
		return "dns"
	case SlotMDNS:
		return "mdns"
	case SlotDNSSD:
		return "dns-sd"
	default:
		return "unknown"
	}
}

type subProtocol struct {
	interval    time.Duration
	accumulated time.Duration
	handler     TickHandler
}

// TimerCallback is a user-registered periodic callback (spec.md §4.I
// "User-registered timer callbacks. A fixed-size table of (period,
// value, callback, param)").
type TimerCallback func(param any)

type timerEntry struct {
	period   time.Duration
	value    time.Duration
	callback TimerCallback
	param    any
	inUse    bool
}

// Scheduler drives the main loop of spec.md §4.I. It holds no lock of
// its own: mu is the Stack's single mutex, shared with every other
// component, and Run's sync.Cond is built directly on it. An ISR (via
// driver.Handle.RaiseNICEvent/RaisePHYEvent) wakes Run through this
// cond. socket.Table builds a separate sync.Cond on the same mutex, so
// socket.Table.UpdateEvents wakes Poll waiters, not this loop.
type Scheduler struct {
	mu   *sync.Mutex
	cond *sync.Cond

	registry *iface.Registry
	now      func() time.Time

	tickInterval time.Duration
	nextDeadline time.Time

	protocols [numSlots]subProtocol
	timers    []timerEntry

	canceled bool
}

// New builds a Scheduler over registry, sized and timed per cfg. mu must
// be the same mutex passed to every other component's constructor.
func New(cfg config.Settings, registry *iface.Registry, mu *sync.Mutex, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		mu:           mu,
		cond:         sync.NewCond(mu),
		registry:     registry,
		now:          now,
		tickInterval: cfg.TickInterval,
		timers:       make([]timerEntry, cfg.MaxTimerCallbacks),
	}
	ti := cfg.TickIntervals
	s.protocols[SlotNIC] = subProtocol{interval: ti.NIC}
	s.protocols[SlotPPP] = subProtocol{interval: ti.PPP}
	s.protocols[SlotARP] = subProtocol{interval: ti.ARP}
	s.protocols[SlotIPv4Frag] = subProtocol{interval: ti.IPv4Frag}
	s.protocols[SlotIGMP] = subProtocol{interval: ti.IGMP}
	s.protocols[SlotAutoIP] = subProtocol{interval: ti.AutoIP}
	s.protocols[SlotDHCPClient] = subProtocol{interval: ti.DHCPClient}
	s.protocols[SlotDHCPServer] = subProtocol{interval: ti.DHCPServer}
	s.protocols[SlotNAT] = subProtocol{interval: ti.NAT}
	s.protocols[SlotIPv6Frag] = subProtocol{interval: ti.IPv6Frag}
	s.protocols[SlotMLD] = subProtocol{interval: ti.MLD}
	s.protocols[SlotNDP] = subProtocol{interval: ti.NDP}
	s.protocols[SlotRA] = subProtocol{interval: ti.RA}
	s.protocols[SlotDHCPv6] = subProtocol{interval: ti.DHCPv6Client}
	s.protocols[SlotTCP] = subProtocol{interval: ti.TCP}
	s.protocols[SlotDNS] = subProtocol{interval: ti.DNSCache}
	s.protocols[SlotMDNS] = subProtocol{interval: ti.MDNS}
	s.protocols[SlotDNSSD] = subProtocol{interval: ti.DNSSD}
	return s
}

// RegisterHandler installs slot's periodic handler. Registering a nil
// handler (the zero value) is equivalent to the feature not being
// compiled in: the slot's accumulator still advances but never fires.
func (s *Scheduler) RegisterHandler(slot Slot, handler TickHandler) {
	s.protocols[slot].handler = handler
}

// RegisterTimer installs a user timer callback (spec.md §6.3
// NET_MAX_TIMER_CALLBACKS), returning a handle for CancelTimer.
func (s *Scheduler) RegisterTimer(period time.Duration, cb TimerCallback, param any) (int, error) {
	for i := range s.timers {
		if !s.timers[i].inUse {
			s.timers[i] = timerEntry{period: period, callback: cb, param: param, inUse: true}
			return i, nil
		}
	}
	return 0, stackerr.New(stackerr.OutOfResources)
}

// CancelTimer removes a previously registered timer by handle.
func (s *Scheduler) CancelTimer(handle int) error {
	if handle < 0 || handle >= len(s.timers) || !s.timers[handle].inUse {
		return stackerr.New(stackerr.InvalidParameter)
	}
	s.timers[handle] = timerEntry{}
	return nil
}

// Signal wakes the main loop — the "shared event" of spec.md §4.I,
// wired as the signal callback driver.NewHandle takes so an ISR's
// RaiseNICEvent/RaisePHYEvent reaches here without touching the mutex
// itself.
func (s *Scheduler) Signal() {
	s.cond.Broadcast()
}

// Cancel stops Run at its next wakeup (spec.md §4.I "Cancellation": "(a)
// setting the shared event to break socketPoll").
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Start runs the main loop in its own goroutine and returns a stop
// function that cancels it and waits for it to exit. Task lifecycle is
// managed with golang.org/x/sync/errgroup (the teacher's dependency of
// choice for fanning a small group of goroutines in to one error),
// fanning in the loop itself and a context-cancellation watcher so Run
// never has to poll ctx from inside its locked wait.
func (s *Scheduler) Start(ctx context.Context) (stop func() error) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.Cancel()
		return nil
	})
	return eg.Wait
}

// Run is the main loop (spec.md §4.I): wait on the shared event bounded
// by nextTimerDeadline, drain any pending NIC/PHY events per interface,
// and tick() once the deadline has passed. It returns when Cancel is
// called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDeadline = s.now().Add(s.tickInterval)
	for {
		if s.canceled {
			return nil
		}
		s.waitForWorkOrDeadline()
		if s.canceled {
			return nil
		}
		s.drainDriverEvents()
		if !s.now().Before(s.nextDeadline) {
			s.tick(s.now())
			s.nextDeadline = s.now().Add(s.tickInterval)
		}
	}
}

// waitForWorkOrDeadline blocks until either a driver event is already
// outstanding, the shared event is signalled, or nextDeadline arrives —
// checking for already-outstanding work first so a raise that lands
// between one wake and the next is never missed (spec.md §5).
func (s *Scheduler) waitForWorkOrDeadline() {
	if s.hasPendingDriverEvents() || !s.now().Before(s.nextDeadline) {
		return
	}
	timer := time.AfterFunc(s.nextDeadline.Sub(s.now()), func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
}

func (s *Scheduler) hasPendingDriverEvents() bool {
	for i := 0; i < s.registry.Count(); i++ {
		ifc, err := s.registry.Get(i)
		if err != nil || ifc.Handle == nil {
			continue
		}
		if ifc.Handle.HasPendingEvent() {
			return true
		}
	}
	return false
}

// drainDriverEvents implements spec.md §4.I main-loop steps 1-2: for
// each interface with a pending NIC or PHY event flag, mask IRQs, run
// the driver's event handler, unmask, clear the flag — all of which
// driver.Handle.RunEventHandler/TakeNICEvent/TakePHYEvent already do.
func (s *Scheduler) drainDriverEvents() {
	for i := 0; i < s.registry.Count(); i++ {
		ifc, err := s.registry.Get(i)
		if err != nil || ifc.Handle == nil {
			continue
		}
		if ifc.Handle.TakeNICEvent() {
			ifc.Handle.RunEventHandler()
		}
		if ifc.Handle.TakePHYEvent() {
			ifc.Handle.RunEventHandler()
		}
	}
}

// tick implements spec.md §4.I's tick(): advance every sub-protocol's
// accumulator by tickInterval, firing (and resetting) any that crossed
// its interval for every configured interface, in the fixed order the
// Slot constants are declared in, then the user timer-callback table.
func (s *Scheduler) tick(now time.Time) {
	for slot := range s.protocols {
		p := &s.protocols[slot]
		if p.interval <= 0 {
			continue
		}
		p.accumulated += s.tickInterval
		if p.accumulated < p.interval {
			continue
		}
		p.accumulated = 0
		if p.handler == nil {
			continue
		}
		slog.Tracef("sched: firing %s tick", Slot(slot))
		for i := 0; i < s.registry.Count(); i++ {
			ifc, err := s.registry.Get(i)
			if err != nil || !ifc.Configured {
				continue
			}
			p.handler(ifc, now)
		}
	}
	s.tickTimers(now)
}

// tickTimers advances every in-use timer entry and fires (and resets)
// any that crossed its period, releasing the stack mutex around each
// invocation (spec.md §4.I: "Invocation releases the stack mutex around
// the callback").
func (s *Scheduler) tickTimers(now time.Time) {
	for i := range s.timers {
		e := &s.timers[i]
		if !e.inUse || e.callback == nil {
			continue
		}
		e.value += s.tickInterval
		if e.value < e.period {
			continue
		}
		e.value = 0
		cb, param := e.callback, e.param
		s.mu.Unlock()
		cb(param)
		s.mu.Lock()
	}
}
