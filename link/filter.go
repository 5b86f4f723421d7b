package link

import (
	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/driver"
)

// FilterTable is the per-interface MAC address filter (spec.md §4.C,
// §8 invariant 4: "Sum refCount>0 MAC-filter slots are exactly the
// entries programmed into hardware").
type FilterTable struct {
	entries map[addr.MAC]int // MAC -> refcount
}

func NewFilterTable() *FilterTable {
	return &FilterTable{entries: make(map[addr.MAC]int)}
}

// Add increments mac's refcount, adding a new zero-refcount slot if
// necessary. Multiple sockets/subsystems may reference the same
// multicast MAC; the slot is only removed from hardware once every
// reference is released.
func (t *FilterTable) Add(mac addr.MAC) {
	t.entries[mac]++
}

// Remove decrements mac's refcount, deleting the slot once it reaches
// zero.
func (t *FilterTable) Remove(mac addr.MAC) {
	if t.entries[mac] <= 1 {
		delete(t.entries, mac)
		return
	}
	t.entries[mac]--
}

// Contains reports whether mac has at least one reference in the table.
func (t *FilterTable) Contains(mac addr.MAC) bool {
	return t.entries[mac] > 0
}

// Snapshot returns the entries with refcount>0 exactly as
// updateMacAddrFilter should program them into hardware (spec.md §8
// invariant 4).
func (t *FilterTable) Snapshot() []driver.FilterEntry {
	out := make([]driver.FilterEntry, 0, len(t.entries))
	for mac, rc := range t.entries {
		if rc > 0 {
			out = append(out, driver.FilterEntry{MAC: mac, RefCount: rc})
		}
	}
	return out
}

// AcceptPolicy controls per-interface reception beyond exact MAC/filter
// match (spec.md §4.D).
type AcceptPolicy struct {
	Promiscuous        bool
	AcceptAllMulticast bool
}

// Accept reports whether a frame destined for dst should be accepted by
// an interface owning ownMAC with the given filter table and policy
// (spec.md §4.D: "Accept frame iff destination matches interface MAC, an
// entry in the MAC filter table with refCount>0, broadcast,
// accept-all-multicast, or promiscuous").
func Accept(dst, ownMAC addr.MAC, filter *FilterTable, policy AcceptPolicy) bool {
	if policy.Promiscuous {
		return true
	}
	if dst == ownMAC {
		return true
	}
	if dst.IsBroadcast() {
		return true
	}
	if dst.IsMulticast() {
		if policy.AcceptAllMulticast {
			return true
		}
		if filter != nil && filter.Contains(dst) {
			return true
		}
		return false
	}
	if filter != nil && filter.Contains(dst) {
		return true
	}
	return false
}
