// Package neighbor implements IPv6 neighbor discovery (NDP neighbor
// cache and Duplicate Address Detection) and the two multicast group
// membership protocols, MLD and IGMP (spec.md §4.F).
package neighbor

import (
	"time"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
)

// State is a neighbor cache entry's RFC 4861 §7.3.2 Neighbor
// Unreachability Detection state.
type State int

const (
	Incomplete State = iota
	Reachable
	Stale
	Delay
	Probe
)

func (s State) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Reachable:
		return "reachable"
	case Stale:
		return "stale"
	case Delay:
		return "delay"
	case Probe:
		return "probe"
	default:
		return "unknown"
	}
}

// Entry is one NDP neighbor cache entry (spec.md §3: "Analogous to ARP
// but with RFC 4861 states {incomplete, reachable, stale, delay, probe};
// also stores isRouter and default-router-list membership").
type Entry struct {
	IP        addr.IPv6
	MAC       addr.MAC
	State     State
	IsRouter  bool
	Timestamp time.Time
	Probes    int
	Pending   *buffer.Buffer
}

// NDPConfig bounds the neighbor cache's timers (spec.md §6.3; names
// follow RFC 4861 §10).
type NDPConfig struct {
	ReachableTime       time.Duration
	RetransTimer        time.Duration
	DelayFirstProbeTime time.Duration
	MaxUnicastSolicit   int
	Now                 func() time.Time

	// SendSolicit emits a neighbor solicitation: multicast (to the
	// solicited-node address) when unicastTo is nil, unicast otherwise.
	SendSolicit func(target addr.IPv6, unicastTo *addr.MAC)
	Flush       func(target addr.IPv6, mac addr.MAC, pkt *buffer.Buffer)
	// Unreachable is called once an entry exhausts MaxUnicastSolicit
	// probes without a confirming advertisement.
	Unreachable func(target addr.IPv6)
}

// Cache is the per-interface IPv6 neighbor cache.
type Cache struct {
	cfg     NDPConfig
	entries map[addr.IPv6]*Entry
}

func NewCache(cfg NDPConfig) *Cache {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{cfg: cfg, entries: make(map[addr.IPv6]*Entry)}
}

// Resolve returns ip's MAC on a cache hit in any state except
// INCOMPLETE.
func (c *Cache) Resolve(ip addr.IPv6) (addr.MAC, bool) {
	e, ok := c.entries[ip]
	if !ok || e.State == Incomplete {
		return addr.MAC{}, false
	}
	return e.MAC, true
}

// ResolveOrQueue mirrors arp.Cache.ResolveOrQueue: on a miss it creates an
// INCOMPLETE entry, queues pkt (replacing any older pending packet), and
// emits a multicast neighbor solicitation.
func (c *Cache) ResolveOrQueue(ip addr.IPv6, pkt *buffer.Buffer) (addr.MAC, bool) {
	if e, ok := c.entries[ip]; ok && e.State != Incomplete {
		if e.State == Stale {
			c.enterDelay(e)
		}
		return e.MAC, true
	}
	e, exists := c.entries[ip]
	if !exists {
		e = &Entry{IP: ip, State: Incomplete, Timestamp: c.cfg.Now()}
		c.entries[ip] = e
		if c.cfg.SendSolicit != nil {
			c.cfg.SendSolicit(ip, nil)
		}
	}
	e.Pending = pkt
	return addr.MAC{}, false
}

func (c *Cache) enterDelay(e *Entry) {
	e.State = Delay
	e.Timestamp = c.cfg.Now()
	e.Probes = 0
}

// HandleAdvertisement processes a received neighbor advertisement
// (solicited or unsolicited/gratuitous), per RFC 4861 §7.2.5.
func (c *Cache) HandleAdvertisement(ip addr.IPv6, mac addr.MAC, isRouter, solicited bool) {
	e, ok := c.entries[ip]
	if !ok {
		e = &Entry{IP: ip}
		c.entries[ip] = e
	}
	e.MAC = mac
	e.IsRouter = isRouter
	e.Timestamp = c.cfg.Now()
	if solicited {
		e.State = Reachable
		e.Probes = 0
	} else if e.State == Incomplete {
		e.State = Stale
	}
	if e.Pending != nil {
		pkt := e.Pending
		e.Pending = nil
		if c.cfg.Flush != nil {
			c.cfg.Flush(ip, mac, pkt)
		}
	}
}

// ConfirmReachable is called on an upper-layer hint of forward progress
// (e.g. a TCP ACK received from ip), short-circuiting straight back to
// REACHABLE per RFC 4861 §7.3.1.
func (c *Cache) ConfirmReachable(ip addr.IPv6) {
	e, ok := c.entries[ip]
	if !ok {
		return
	}
	e.State = Reachable
	e.Timestamp = c.cfg.Now()
	e.Probes = 0
}

// Tick drives REACHABLE -> STALE aging, DELAY -> PROBE promotion after
// DelayFirstProbeTime, and the PROBE unicast-retransmit / eviction
// sequence (RFC 4861 §7.3.3).
func (c *Cache) Tick() {
	now := c.cfg.Now()
	for ip, e := range c.entries {
		switch e.State {
		case Reachable:
			if now.Sub(e.Timestamp) >= c.cfg.ReachableTime {
				e.State = Stale
				e.Timestamp = now
			}
		case Delay:
			if now.Sub(e.Timestamp) >= c.cfg.DelayFirstProbeTime {
				e.State = Probe
				e.Timestamp = now
				e.Probes = 0
			}
		case Probe:
			if now.Sub(e.Timestamp) < c.cfg.RetransTimer {
				continue
			}
			if e.Probes >= c.cfg.MaxUnicastSolicit {
				delete(c.entries, ip)
				if c.cfg.Unreachable != nil {
					c.cfg.Unreachable(ip)
				}
				continue
			}
			e.Probes++
			e.Timestamp = now
			mac := e.MAC
			if c.cfg.SendSolicit != nil {
				c.cfg.SendSolicit(ip, &mac)
			}
		case Incomplete:
			// Resolution retransmission follows the same
			// RetransTimer/MaxUnicastSolicit shape as PROBE.
			if now.Sub(e.Timestamp) < c.cfg.RetransTimer {
				continue
			}
			if e.Probes >= c.cfg.MaxUnicastSolicit {
				delete(c.entries, ip)
				if c.cfg.Unreachable != nil {
					c.cfg.Unreachable(ip)
				}
				continue
			}
			e.Probes++
			e.Timestamp = now
			if c.cfg.SendSolicit != nil {
				c.cfg.SendSolicit(ip, nil)
			}
		}
	}
}

// Touch marks ip as in active use, promoting a STALE entry to DELAY so
// the next Tick begins unicast reachability confirmation (RFC 4861
// §7.3.1: "the first time a node sends a packet to a neighbor whose
// entry is STALE").
func (c *Cache) Touch(ip addr.IPv6) {
	if e, ok := c.entries[ip]; ok && e.State == Stale {
		c.enterDelay(e)
	}
}

// Entries returns a snapshot for inspection/testing.
func (c *Cache) Entries() map[addr.IPv6]Entry {
	out := make(map[addr.IPv6]Entry, len(c.entries))
	for ip, e := range c.entries {
		out[ip] = *e
	}
	return out
}

// Clear discards every entry. Used when an interface is stopped
// (spec.md §6.4 stopInterface): stale neighbor state must not survive
// a restart.
func (c *Cache) Clear() {
	c.entries = make(map[addr.IPv6]*Entry)
}

// DADEntry tracks one tentative address's Duplicate Address Detection
// run (spec.md §4.F: "send dupAddrDetectTransmits neighbor solicitations
// with gap retransTimer; if any solicited NS/NA for that address arrives
// from another host, mark duplicate and surface the event").
type DADEntry struct {
	IP        addr.IPv6
	Remaining int
	NextSend  time.Time
	Duplicate bool
	Done      bool
}

// DADConfig bounds one interface's DAD runs.
type DADConfig struct {
	Transmits   int
	Gap         time.Duration
	Now         func() time.Time
	SendSolicit func(target addr.IPv6)
	// Resolved is called exactly once per address, reporting whether DAD
	// found a duplicate.
	Resolved func(target addr.IPv6, duplicate bool)
}

// DADTable runs DAD for every tentative address on one interface.
type DADTable struct {
	cfg     DADConfig
	entries map[addr.IPv6]*DADEntry
}

func NewDADTable(cfg DADConfig) *DADTable {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DADTable{cfg: cfg, entries: make(map[addr.IPv6]*DADEntry)}
}

// Start begins DAD for ip: the address is tentative until Tick has sent
// Transmits solicitations with no conflict, or HandleConflict fires.
func (t *DADTable) Start(ip addr.IPv6) {
	e := &DADEntry{IP: ip, Remaining: t.cfg.Transmits}
	t.entries[ip] = e
	t.sendNext(e)
}

func (t *DADTable) sendNext(e *DADEntry) {
	e.Remaining--
	e.NextSend = t.cfg.Now().Add(t.cfg.Gap)
	if t.cfg.SendSolicit != nil {
		t.cfg.SendSolicit(e.IP)
	}
	if e.Remaining <= 0 {
		// The last solicitation was just sent; completion is reported
		// once its retransmission gap elapses with no conflict
		// (HandleConflict can still arrive up to NextSend).
	}
}

// Tick finishes entries whose final solicitation's gap has elapsed with
// no reported conflict, and retransmits the rest.
func (t *DADTable) Tick() {
	now := t.cfg.Now()
	for ip, e := range t.entries {
		if e.Done || now.Before(e.NextSend) {
			continue
		}
		if e.Remaining > 0 {
			t.sendNext(e)
			continue
		}
		e.Done = true
		delete(t.entries, ip)
		if t.cfg.Resolved != nil {
			t.cfg.Resolved(ip, false)
		}
	}
}

// HasPending reports whether ip is still tentative, awaiting DAD (spec.md
// §4.F) — used by a caller that has to decide whether an observed NS/NA
// for one of its own addresses is a DAD conflict or ordinary neighbor
// traffic.
func (t *DADTable) HasPending(ip addr.IPv6) bool {
	e, ok := t.entries[ip]
	return ok && !e.Done
}

// HandleConflict reports that a solicited NS or NA for ip arrived from
// another host, marking the address duplicate (spec.md §4.F).
func (t *DADTable) HandleConflict(ip addr.IPv6) {
	e, ok := t.entries[ip]
	if !ok || e.Done {
		return
	}
	e.Done = true
	e.Duplicate = true
	delete(t.entries, ip)
	if t.cfg.Resolved != nil {
		t.cfg.Resolved(ip, true)
	}
}
