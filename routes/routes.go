// Package routes implements the forwarding table (spec.md §4.E: "routing
// table with longest-prefix-match lookup, metric tie-breaking, and
// per-interface lifecycle actions on link state change"), grounded on the
// teacher's netstack/routes package.
//
// Routes are addressed by raw big-endian bytes (4 for IPv4, 16 for IPv6)
// rather than the addr package's fixed-size array types, so a single table
// can hold both families side by side exactly as the teacher's
// tcpip.Address-keyed table does.
package routes

import (
	"bytes"
	"fmt"
	"sort"
)

// NICID identifies an interface by its registry index (spec.md §4.B).
type NICID int

// Metric is a route's preference value; lower wins.
type Metric int32

// Route is the bare forwarding entry: destination/mask/gateway plus the
// outgoing interface.
type Route struct {
	Destination []byte
	Mask        []byte
	Gateway     []byte // nil/empty for an on-link route
	NIC         NICID
}

func (r Route) String() string {
	return fmt.Sprintf("Route{Dest: % x, Mask: % x, Gateway: % x, NIC: %d}", r.Destination, r.Mask, r.Gateway, r.NIC)
}

// prefixLen returns the number of leading one-bits in mask.
func prefixLen(mask []byte) int {
	n := 0
	for _, b := range mask {
		for i := 0; i < 8; i++ {
			if b&(0x80>>uint(i)) == 0 {
				return n
			}
			n++
		}
	}
	return n
}

// Match reports whether ip falls within r's destination/mask, per
// spec.md §4.E's longest-prefix-match semantics.
func (r Route) Match(ip []byte) bool {
	if len(ip) != len(r.Destination) {
		return false
	}
	for i := range ip {
		if ip[i]&r.Mask[i] != r.Destination[i] {
			return false
		}
	}
	return true
}

func isDefault(r Route) bool { return prefixLen(r.Mask) == 0 }

// IsSameRoute compares every field of two routes, used to detect an exact
// duplicate entry in table-equality checks (not to decide whether AddRoute
// should overwrite — see RouteTable.AddRoute).
func IsSameRoute(r1, r2 Route) bool {
	return r1.NIC == r2.NIC &&
		bytes.Equal(r1.Destination, r2.Destination) &&
		bytes.Equal(r1.Mask, r2.Mask) &&
		bytes.Equal(r1.Gateway, r2.Gateway)
}

func isSamePrefix(r1, r2 Route) bool {
	return r1.NIC == r2.NIC && bytes.Equal(r1.Destination, r2.Destination) && bytes.Equal(r1.Mask, r2.Mask)
}

// ExtendedRoute augments Route with the routing-table bookkeeping spec.md
// §4.E requires: metric (possibly tracking the owning interface's own
// metric), whether the route was installed dynamically (DHCP/RA, cleared
// on link down) or statically (disabled, not removed, on link down), and
// whether it currently participates in lookups.
type ExtendedRoute struct {
	Route                 Route
	Metric                Metric
	MetricTracksInterface bool
	Dynamic               bool
	Enabled               bool
}

func (er ExtendedRoute) String() string {
	return fmt.Sprintf("%s Metric:%d Tracks:%v Dynamic:%v Enabled:%v", er.Route, er.Metric, er.MetricTracksInterface, er.Dynamic, er.Enabled)
}

// Match reports whether addr is within this route's subnet.
func (er *ExtendedRoute) Match(addr []byte) bool { return er.Route.Match(addr) }

// Less orders two extended routes for longest-prefix-match lookup,
// grounded on the teacher's routes.Less: non-default routes before
// default, IPv4 before IPv6, longer prefix before shorter, lower metric
// before higher, then destination bytes and NIC as final tie-breakers.
func Less(ra, rb *ExtendedRoute) bool {
	a, b := ra.Route, rb.Route

	aDefault, bDefault := isDefault(a), isDefault(b)
	if aDefault != bDefault {
		return !aDefault
	}

	aIsV4, bIsV4 := len(a.Destination) == 4, len(b.Destination) == 4
	if aIsV4 != bIsV4 {
		return aIsV4
	}

	aLen, bLen := prefixLen(a.Mask), prefixLen(b.Mask)
	if aLen != bLen {
		return aLen > bLen
	}

	if ra.Metric != rb.Metric {
		return ra.Metric < rb.Metric
	}

	if c := bytes.Compare(a.Destination, b.Destination); c != 0 {
		return c < 0
	}

	return a.NIC < b.NIC
}

// InterfaceAction is a bulk operation applied to every route pointing at
// one interface on a link-state transition (spec.md §4.E).
type InterfaceAction int

const (
	// ActionDeleteDynamicDisableStatic is applied on link down: dynamic
	// routes (DHCP/RA-installed) are removed outright, static ones are
	// kept but disabled.
	ActionDeleteDynamicDisableStatic InterfaceAction = iota
	// ActionEnableStatic is applied on link up: previously-disabled
	// static routes are re-enabled.
	ActionEnableStatic
	// ActionDeleteAll is applied when the interface itself is removed.
	ActionDeleteAll
)

// RouteTable holds every route, kept sorted by Less after each mutation so
// lookup is a linear first-match scan (spec.md §4.E: "longest, most
// specific, lowest-metric route wins").
type RouteTable struct {
	routes []ExtendedRoute
}

func (t *RouteTable) sort() {
	sort.SliceStable(t.routes, func(i, j int) bool {
		return Less(&t.routes[i], &t.routes[j])
	})
}

// Set replaces the entire table, used by persistence/config load.
func (t *RouteTable) Set(rs []ExtendedRoute) {
	t.routes = append([]ExtendedRoute(nil), rs...)
	t.sort()
}

// AddRoute inserts a route, or, when an entry with the same (NIC,
// destination, mask) prefix already exists, overwrites that entry's
// gateway, metric, metric-tracking, dynamic and enabled attributes in
// place. Either way the table is re-sorted, so a changed metric moves
// the entry to its new lookup position.
func (t *RouteTable) AddRoute(r Route, metric Metric, metricTracksInterface, dynamic, enabled bool) {
	for i := range t.routes {
		if isSamePrefix(t.routes[i].Route, r) {
			t.routes[i].Route = r
			t.routes[i].Metric = metric
			t.routes[i].MetricTracksInterface = metricTracksInterface
			t.routes[i].Dynamic = dynamic
			t.routes[i].Enabled = enabled
			t.sort()
			return
		}
	}
	t.routes = append(t.routes, ExtendedRoute{
		Route:                 r,
		Metric:                metric,
		MetricTracksInterface: metricTracksInterface,
		Dynamic:               dynamic,
		Enabled:               enabled,
	})
	t.sort()
}

// DelRoute removes every entry matching r's (NIC, destination, mask)
// prefix.
func (t *RouteTable) DelRoute(r Route) {
	out := t.routes[:0]
	for _, er := range t.routes {
		if !isSamePrefix(er.Route, r) {
			out = append(out, er)
		}
	}
	t.routes = out
}

// GetExtendedRouteTable returns a copy of the table in lookup order.
func (t *RouteTable) GetExtendedRouteTable() []ExtendedRoute {
	return append([]ExtendedRoute(nil), t.routes...)
}

// GetNetstackTable returns the enabled routes' bare Route, in lookup
// order, the view exposed to a netstat-style consumer.
func (t *RouteTable) GetNetstackTable() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, er := range t.routes {
		if er.Enabled {
			out = append(out, er.Route)
		}
	}
	return out
}

// UpdateMetricByInterface rewrites the metric of every route tracking
// nic's interface metric, then re-sorts (spec.md §4.E: a metric change on
// one interface must be reflected immediately in route ordering).
func (t *RouteTable) UpdateMetricByInterface(nic NICID, metric Metric) {
	changed := false
	for i := range t.routes {
		if t.routes[i].Route.NIC == nic && t.routes[i].MetricTracksInterface {
			t.routes[i].Metric = metric
			changed = true
		}
	}
	if changed {
		t.sort()
	}
}

// UpdateRoutesByInterface applies a bulk InterfaceAction to every route
// pointing at nic (spec.md §4.E, driven by iface.Registry link-change
// notifications).
func (t *RouteTable) UpdateRoutesByInterface(nic NICID, action InterfaceAction) {
	switch action {
	case ActionDeleteAll:
		out := t.routes[:0]
		for _, er := range t.routes {
			if er.Route.NIC != nic {
				out = append(out, er)
			}
		}
		t.routes = out
	case ActionDeleteDynamicDisableStatic:
		out := t.routes[:0]
		for _, er := range t.routes {
			if er.Route.NIC == nic {
				if er.Dynamic {
					continue
				}
				er.Enabled = false
			}
			out = append(out, er)
		}
		t.routes = out
	case ActionEnableStatic:
		for i := range t.routes {
			if t.routes[i].Route.NIC == nic && !t.routes[i].Dynamic {
				t.routes[i].Enabled = true
			}
		}
	}
}

// ErrNoRoute is returned by FindNIC when no enabled route covers ip.
type ErrNoRoute struct{ IP []byte }

func (e *ErrNoRoute) Error() string { return fmt.Sprintf("no route to %x", e.IP) }

// FindNIC returns the outgoing interface of the first (i.e.
// highest-priority) enabled, non-default route matching ip. Default
// routes (0.0.0.0/0, ::/0) are deliberately excluded: FindNIC answers
// "which interface directly owns this prefix", not "how would a packet
// to this address be forwarded".
func (t *RouteTable) FindNIC(ip []byte) (NICID, error) {
	for _, er := range t.routes {
		if !er.Enabled || isDefault(er.Route) {
			continue
		}
		if er.Match(ip) {
			return er.Route.NIC, nil
		}
	}
	return 0, &ErrNoRoute{IP: ip}
}
