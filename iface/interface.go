// Package iface implements the interface registry (spec.md §4.B): up to
// N logical interfaces, each with a parent pointer for VLAN/port tagging,
// link state, MAC/EUI-64, driver handle, and per-protocol contexts.
//
// Every exported method assumes the caller already holds the stack's one
// mutex (spec.md §9: "Global mutable state ... Reimplement as a single
// context struct owned by the task; all setters take (context, ...)") —
// the mutex itself lives on the top-level netstack.Stack, not here, so
// that iface stays a plain data-structure package with no lock of its
// own to get out of sync with the rest of the stack's state.
package iface

import (
	"github.com/nanostack-io/netstack/driver"
	"github.com/nanostack-io/netstack/prand"
)

// LinkState is up or down (spec.md §3).
type LinkState int

const (
	LinkDown LinkState = iota
	LinkUp
)

func (s LinkState) String() string {
	if s == LinkUp {
		return "up"
	}
	return "down"
}

// Duplex mirrors the MIB's ifMauType-adjacent duplex reporting.
type Duplex int

const (
	DuplexUnknown Duplex = iota
	DuplexHalf
	DuplexFull
)

// MIB holds the interface-MIB-ish counters and timestamps spec.md §4.B
// references ("updates the if-MIB's lastChange timestamp (in
// centiseconds)").
type MIB struct {
	LastChangeCentiseconds int64
	InOctets               uint64
	OutOctets              uint64
	InErrors               uint64
	OutErrors              uint64
}

// Protocol contexts are opaque to the registry: each is owned and typed
// by its own package (ipstack, neighbor, ...). The registry only carries
// a slot for each so that Interface has one stable identity per
// sub-protocol, matching spec.md §3's "per-protocol contexts (ARP cache,
// IPv4 ctx, IPv6 ctx, NDP ctx, MLD ctx, DHCP client/server ctx, ...)".
type Contexts struct {
	ARP   any
	IPv4  any
	IPv6  any
	NDP   any
	MLD   any
	IGMP  any
	DHCP4 any
	DHCP6 any
}

// Interface is one logical network endpoint (spec.md §3).
type Interface struct {
	Index int // stable for the life of the registry

	ID       string
	name     string
	hostname string

	mac   [6]byte
	hasMAC bool
	eui64 [8]byte

	LinkState  LinkState
	LinkSpeed  uint64 // bits/sec
	Duplex     Duplex
	Configured bool

	VlanID uint16
	VmanID uint16

	parent *Interface

	Handle *driver.Handle

	Contexts Contexts
	MIB      MIB
	PRNG     *prand.State

	// configCounter increments on every ConfigInterface call and is
	// folded into the PRNG's IV (spec.md §9 open question #1: the PRNG
	// is deliberately reseeded on every config-interface).
	configCounter uint16
}

// Name returns the interface's bounded-length name.
func (i *Interface) Name() string { return i.name }

// Hostname returns the interface's bounded-length hostname.
func (i *Interface) Hostname() string { return i.hostname }

// HasOwnMAC reports whether this interface stores a MAC directly, as
// opposed to inheriting one by walking its parent chain.
func (i *Interface) HasOwnMAC() bool { return i.hasMAC }

// OwnMAC returns the MAC stored directly on this interface, ignoring any
// parent.
func (i *Interface) OwnMAC() [6]byte { return i.mac }

// EUI64 returns the interface's own EUI-64 identifier.
func (i *Interface) EUI64() [8]byte { return i.eui64 }

// Parent returns the interface this one is layered over (VLAN/port
// tagging), or nil for a physical interface.
func (i *Interface) Parent() *Interface { return i.parent }
