// Command netstat prints the socket table and route table of a running
// Stack (spec.md §11, grounded on the teacher's netstat/ directory — as
// with cmd/ifconfig, this talks to an in-process Stack rather than a
// remote FIDL service).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/config"
	"github.com/nanostack-io/netstack/netstack"
	"github.com/nanostack-io/netstack/routes"
	"github.com/nanostack-io/netstack/socket"
)

func main() {
	showRoutes := flag.Bool("r", false, "show the route table instead of sockets")
	flag.Parse()

	stack, err := netstack.New(config.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "netstat: %v\n", err)
		os.Exit(1)
	}
	if *showRoutes {
		fmt.Print(formatRoutes(stack))
		return
	}
	fmt.Print(formatSockets(stack))
}

func formatSockets(stack *netstack.Stack) string {
	out := fmt.Sprintf("%-6s %-12s %-22s %-22s %s\n", "Proto", "State", "Local", "Remote", "NIC")
	for _, s := range stack.Sockets() {
		out += formatSocket(s)
	}
	return out
}

func formatSocket(s socket.Info) string {
	state := s.State.String()
	if s.Type == socket.TypeTCP {
		state = s.TCPState.String()
	}
	local := endpoint(s.IsIPv6, s.LocalV4, s.LocalV6, s.LocalPort)
	remote := endpoint(s.IsIPv6, s.RemoteV4, s.RemoteV6, s.RemotePort)
	return fmt.Sprintf("%-6s %-12s %-22s %-22s %d\n", s.Type, state, local, remote, s.NIC)
}

func endpoint(isIPv6 bool, v4 addr.IPv4, v6 addr.IPv6, port uint16) string {
	if isIPv6 {
		return fmt.Sprintf("[%s]:%d", v6.String(), port)
	}
	return fmt.Sprintf("%s:%d", v4.String(), port)
}

func formatRoutes(stack *netstack.Stack) string {
	out := fmt.Sprintf("%-20s %-18s %-4s %-8s %s\n", "Destination", "Gateway", "NIC", "Metric", "Flags")
	for _, er := range stack.Routes().GetExtendedRouteTable() {
		out += formatRoute(er)
	}
	return out
}

func formatRoute(er routes.ExtendedRoute) string {
	flags := "U"
	if er.Dynamic {
		flags += "D"
	}
	if !er.Enabled {
		flags = "disabled"
	}
	gw := "*"
	if len(er.Route.Gateway) > 0 {
		gw = net.IP(er.Route.Gateway).String()
	}
	dest := fmt.Sprintf("%s/%d", net.IP(er.Route.Destination), prefixBits(er.Route.Mask))
	return fmt.Sprintf("%-20s %-18s %-4d %-8d %s\n", dest, gw, er.Route.NIC, er.Metric, flags)
}

func prefixBits(mask []byte) int {
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
