// Package arp implements the ARP cache and resolution state machine
// (spec.md §4.D) and the RFC 826 wire format (spec.md §6.2: "hardware
// type 1, protocol type 0x0800").
package arp

import (
	"encoding/binary"
	"time"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/stackerr"
)

const (
	hardwareTypeEthernet = 1
	protocolTypeIPv4     = 0x0800

	OpRequest = 1
	OpReply   = 2

	wireLen = 28 // 8-byte header + 2*(6+4) addresses
)

// Message is a parsed ARP packet.
type Message struct {
	Operation uint16
	SHA       addr.MAC
	SPA       addr.IPv4
	THA       addr.MAC
	TPA       addr.IPv4
}

// Parse decodes an RFC 826 ARP packet for Ethernet/IPv4, the only
// hardware/protocol pair this stack speaks.
func Parse(b []byte) (*Message, error) {
	if len(b) < wireLen {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	if binary.BigEndian.Uint16(b[0:2]) != hardwareTypeEthernet {
		return nil, stackerr.New(stackerr.InvalidPacket)
	}
	if binary.BigEndian.Uint16(b[2:4]) != protocolTypeIPv4 {
		return nil, stackerr.New(stackerr.InvalidPacket)
	}
	if b[4] != 6 || b[5] != 4 {
		return nil, stackerr.New(stackerr.InvalidPacket)
	}
	m := &Message{Operation: binary.BigEndian.Uint16(b[6:8])}
	copy(m.SHA[:], b[8:14])
	m.SPA = addr.IPv4FromSlice(b[14:18])
	copy(m.THA[:], b[18:24])
	m.TPA = addr.IPv4FromSlice(b[24:28])
	return m, nil
}

// Build encodes m as an RFC 826 ARP packet.
func Build(m Message) *buffer.Buffer {
	buf := buffer.Allocate(wireLen, buffer.MaxHeaderOverhead)
	b := make([]byte, wireLen)
	binary.BigEndian.PutUint16(b[0:2], hardwareTypeEthernet)
	binary.BigEndian.PutUint16(b[2:4], protocolTypeIPv4)
	b[4], b[5] = 6, 4
	binary.BigEndian.PutUint16(b[6:8], m.Operation)
	copy(b[8:14], m.SHA[:])
	copy(b[14:18], m.SPA[:])
	copy(b[18:24], m.THA[:])
	copy(b[24:28], m.TPA[:])
	buf.Write(0, b)
	return buf
}

// State is an ARP cache entry's RFC 826-ish lifecycle state (spec.md
// §3).
type State int

const (
	Incomplete State = iota
	Reachable
	Stale
)

func (s State) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Reachable:
		return "reachable"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Entry is one ARP cache entry (spec.md §3: "(IPv4 address, MAC, state,
// timestamp, retry counter, waiting-packet pointer or nil)").
type Entry struct {
	IP        addr.IPv4
	MAC       addr.MAC
	State     State
	Timestamp time.Time
	Retries   int
	Pending   *buffer.Buffer
}

// Config bounds the cache's retry/aging behavior (spec.md §4.D, §6.3).
type Config struct {
	MaxRetries       int
	ReachableTimeout time.Duration
	RetryBackoff     time.Duration
	Now              func() time.Time

	// SendRequest emits an ARP request (broadcast for a fresh
	// resolution, unicast for a stale-entry reprobe).
	SendRequest func(target addr.IPv4, unicastTo *addr.MAC)
	// Flush hands a previously queued packet back down to the network
	// layer now that target has resolved to mac.
	Flush func(target addr.IPv4, mac addr.MAC, pkt *buffer.Buffer)
}

// Cache is the per-interface ARP cache (spec.md §4.D: "Cache keyed by
// (interface, IPv4 address)" — the interface key is implicit since one
// Cache is instantiated per interface).
type Cache struct {
	cfg     Config
	entries map[addr.IPv4]*Entry
}

func NewCache(cfg Config) *Cache {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{cfg: cfg, entries: make(map[addr.IPv4]*Entry)}
}

// Resolve returns ip's MAC immediately on a cache hit (spec.md §4.D:
// "resolve(ip) -> mac returns immediately on hit").
func (c *Cache) Resolve(ip addr.IPv4) (addr.MAC, bool) {
	e, ok := c.entries[ip]
	if !ok || e.State == Incomplete {
		return addr.MAC{}, false
	}
	return e.MAC, true
}

// ResolveOrQueue resolves ip, or on a miss creates an INCOMPLETE entry,
// queues pkt (dropping any older pending packet for that entry — spec.md
// §3 invariant: "at most one waiting packet per entry"), and emits a
// broadcast ARP request (spec.md §4.D).
func (c *Cache) ResolveOrQueue(ip addr.IPv4, pkt *buffer.Buffer) (addr.MAC, bool) {
	if mac, ok := c.Resolve(ip); ok {
		return mac, true
	}
	e, exists := c.entries[ip]
	if !exists {
		e = &Entry{IP: ip, State: Incomplete, Timestamp: c.cfg.Now()}
		c.entries[ip] = e
		if c.cfg.SendRequest != nil {
			c.cfg.SendRequest(ip, nil)
		}
	}
	e.Pending = pkt // replaces (drops) any prior pending packet
	return addr.MAC{}, false
}

// HandleReply processes an ARP reply (or gratuitous ARP) reporting that
// ip resolves to mac: the entry becomes REACHABLE and any queued packet
// is flushed (spec.md §4.D: "on reply the entry becomes REACHABLE and
// the queued packet is flushed").
func (c *Cache) HandleReply(ip addr.IPv4, mac addr.MAC) {
	e, ok := c.entries[ip]
	if !ok {
		e = &Entry{IP: ip}
		c.entries[ip] = e
	}
	e.MAC = mac
	e.State = Reachable
	e.Timestamp = c.cfg.Now()
	e.Retries = 0
	if e.Pending != nil {
		pkt := e.Pending
		e.Pending = nil
		if c.cfg.Flush != nil {
			c.cfg.Flush(ip, mac, pkt)
		}
	}
}

// Tick ages REACHABLE entries to STALE on timeout, and retransmits the
// broadcast request of each INCOMPLETE entry with exponential backoff
// (RetryBackoff << Retries), removing the entry and its pending packet
// once MaxRetries retransmissions have gone unanswered. STALE entries
// are left alone here; their unicast reprobe is Touch's job.
func (c *Cache) Tick() {
	now := c.cfg.Now()
	for ip, e := range c.entries {
		switch e.State {
		case Reachable:
			if now.Sub(e.Timestamp) >= c.cfg.ReachableTimeout {
				e.State = Stale
				e.Timestamp = now
				e.Retries = 0
			}
		case Incomplete:
			backoff := c.cfg.RetryBackoff << uint(e.Retries)
			if now.Sub(e.Timestamp) < backoff {
				continue
			}
			if e.Retries >= c.cfg.MaxRetries {
				delete(c.entries, ip)
				continue
			}
			e.Retries++
			e.Timestamp = now
			if c.cfg.SendRequest != nil {
				c.cfg.SendRequest(ip, nil)
			}
		case Stale:
			// STALE entries only reprobe when next used (Touch), not on
			// a bare tick; nothing to do here.
		}
	}
}

// Touch sends a unicast probe to a STALE entry's cached MAC and restarts
// its timestamp. The entry stays STALE and keeps resolving to that MAC:
// no retry count, backoff or eviction applies to STALE entries, so an
// unanswered probe never makes the entry fail.
func (c *Cache) Touch(ip addr.IPv4) {
	e, ok := c.entries[ip]
	if !ok || e.State != Stale {
		return
	}
	mac := e.MAC
	if c.cfg.SendRequest != nil {
		c.cfg.SendRequest(ip, &mac)
	}
	e.Timestamp = c.cfg.Now()
}

// Entries returns a snapshot of the cache for inspection/testing.
func (c *Cache) Entries() map[addr.IPv4]Entry {
	out := make(map[addr.IPv4]Entry, len(c.entries))
	for ip, e := range c.entries {
		out[ip] = *e
	}
	return out
}

// Clear discards every entry, dropping any packets still queued against
// an INCOMPLETE entry. Used when an interface is stopped (spec.md §6.4
// stopInterface): stale neighbor state must not survive a restart.
func (c *Cache) Clear() {
	c.entries = make(map[addr.IPv4]*Entry)
}
