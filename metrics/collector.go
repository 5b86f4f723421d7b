// Package metrics exposes the stack's interface MIB counters and socket
// table as a Prometheus Collector (spec.md §11 domain stack), grounded on
// the teacher pack's own MIB-export Collector pattern
// (runZeroInc-conniver's pkg/exporter.TCPInfoCollector): one static
// *prometheus.Desc per metric, filled in on every scrape from the live
// Stack rather than cached between scrapes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nanostack-io/netstack/iface"
	"github.com/nanostack-io/netstack/netstack"
	"github.com/nanostack-io/netstack/socket"
	"github.com/nanostack-io/netstack/transport/tcp"
)

// Collector implements prometheus.Collector over one Stack's interface
// MIB counters (spec.md §4.B MIB) and socket table (spec.md §4.H).
type Collector struct {
	stack *netstack.Stack

	inOctets     *prometheus.Desc
	outOctets    *prometheus.Desc
	inErrors     *prometheus.Desc
	outErrors    *prometheus.Desc
	linkState    *prometheus.Desc
	socketsTotal *prometheus.Desc
	tcpState     *prometheus.Desc
	routesTotal  *prometheus.Desc
}

// New returns a Collector over stack. Register it with a
// prometheus.Registry to expose it (cmd/netstack-metrics does this over
// the standard promhttp handler).
func New(stack *netstack.Stack) *Collector {
	const ifLabel = "interface"
	return &Collector{
		stack:        stack,
		inOctets:     prometheus.NewDesc("netstack_if_in_octets_total", "Bytes received on this interface.", []string{ifLabel}, nil),
		outOctets:    prometheus.NewDesc("netstack_if_out_octets_total", "Bytes transmitted on this interface.", []string{ifLabel}, nil),
		inErrors:     prometheus.NewDesc("netstack_if_in_errors_total", "Packets dropped on receipt (parse/checksum failures).", []string{ifLabel}, nil),
		outErrors:    prometheus.NewDesc("netstack_if_out_errors_total", "Transmit failures (driver SendPacket errors).", []string{ifLabel}, nil),
		linkState:    prometheus.NewDesc("netstack_if_link_up", "1 if the interface's link state is up, 0 otherwise.", []string{ifLabel}, nil),
		socketsTotal: prometheus.NewDesc("netstack_sockets_total", "Open socket descriptors by transport type and state.", []string{"type", "state"}, nil),
		tcpState:     prometheus.NewDesc("netstack_tcp_connections", "TCP descriptors by RFC 793 connection state.", []string{"state"}, nil),
		routesTotal:  prometheus.NewDesc("netstack_routes_total", "Entries in the route table.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inOctets
	ch <- c.outOctets
	ch <- c.inErrors
	ch <- c.outErrors
	ch <- c.linkState
	ch <- c.socketsTotal
	ch <- c.tcpState
	ch <- c.routesTotal
}

// Collect implements prometheus.Collector, taking the Stack's mutex while
// it reads the interface and route tables (spec.md §5: every read of
// shared state requires the stack's single mutex). The socket snapshot
// is taken first through Stack.Sockets, which takes the mutex itself.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	sockets := c.stack.Sockets()

	c.stack.Lock()
	defer c.stack.Unlock()

	reg := c.stack.Registry()
	for i := 0; i < reg.Count(); i++ {
		ifc, err := reg.Get(i)
		if err != nil {
			continue
		}
		name := ifc.Name()
		ch <- prometheus.MustNewConstMetric(c.inOctets, prometheus.CounterValue, float64(ifc.MIB.InOctets), name)
		ch <- prometheus.MustNewConstMetric(c.outOctets, prometheus.CounterValue, float64(ifc.MIB.OutOctets), name)
		ch <- prometheus.MustNewConstMetric(c.inErrors, prometheus.CounterValue, float64(ifc.MIB.InErrors), name)
		ch <- prometheus.MustNewConstMetric(c.outErrors, prometheus.CounterValue, float64(ifc.MIB.OutErrors), name)
		up := 0.0
		if ifc.LinkState == iface.LinkUp {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.linkState, prometheus.GaugeValue, up, name)
	}

	bySocket := map[[2]string]int{}
	byTCPState := map[tcp.State]int{}
	for _, info := range sockets {
		bySocket[[2]string{info.Type.String(), info.State.String()}]++
		if info.Type == socket.TypeTCP {
			byTCPState[info.TCPState]++
		}
	}
	for k, v := range bySocket {
		ch <- prometheus.MustNewConstMetric(c.socketsTotal, prometheus.GaugeValue, float64(v), k[0], k[1])
	}
	for st, v := range byTCPState {
		ch <- prometheus.MustNewConstMetric(c.tcpState, prometheus.GaugeValue, float64(v), st.String())
	}

	ch <- prometheus.MustNewConstMetric(c.routesTotal, prometheus.GaugeValue, float64(len(c.stack.Routes().GetExtendedRouteTable())))
}
