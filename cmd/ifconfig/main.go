// Command ifconfig prints the interface table of a running Stack
// (spec.md §11, grounded on the teacher's ifconfig/ directory — its FIDL
// RPC transport has no equivalent here, so this talks to an in-process
// Stack directly rather than a remote netstack service).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nanostack-io/netstack/config"
	"github.com/nanostack-io/netstack/iface"
	"github.com/nanostack-io/netstack/netstack"
)

func main() {
	flag.Parse()

	stack, err := netstack.New(config.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ifconfig: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(formatInterfaces(stack))
}

func formatInterfaces(stack *netstack.Stack) string {
	stack.Lock()
	defer stack.Unlock()

	reg := stack.Registry()
	var out string
	for i := 0; i < reg.Count(); i++ {
		ifc, err := reg.Get(i)
		if err != nil {
			continue
		}
		out += formatOne(stack, ifc)
	}
	return out
}

func formatOne(stack *netstack.Stack, ifc *iface.Interface) string {
	mac := ifc.OwnMAC()
	line := fmt.Sprintf("%s: flags=%s mtu=?\n\tlink %02x:%02x:%02x:%02x:%02x:%02x state %s\n",
		ifc.Name(), linkFlags(ifc), mac[0], mac[1], mac[2], mac[3], mac[4], mac[5], ifc.LinkState)

	// Addresses takes the stack's mutex itself, so the lock held by
	// formatInterfaces is released around the call.
	stack.Unlock()
	v4, v6, err := stack.Addresses(ifc.Index)
	stack.Lock()
	if err == nil {
		for _, a := range v4 {
			line += fmt.Sprintf("\tinet %s\n", a.String())
		}
		for _, a := range v6 {
			line += fmt.Sprintf("\tinet6 %s\n", a.String())
		}
	}
	line += fmt.Sprintf("\tRX packets %d bytes  TX packets %d bytes  RX errors %d  TX errors %d\n",
		ifc.MIB.InOctets, ifc.MIB.OutOctets, ifc.MIB.InErrors, ifc.MIB.OutErrors)
	return line
}

func linkFlags(ifc *iface.Interface) string {
	if ifc.LinkState == iface.LinkUp {
		return "UP"
	}
	return "DOWN"
}
