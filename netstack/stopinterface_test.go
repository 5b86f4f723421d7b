package netstack

import (
	"testing"

	"github.com/nanostack-io/netstack/config"
	"github.com/nanostack-io/netstack/socket"
)

func TestStopInterfaceClearsCachesAndSockets(t *testing.T) {
	stack, err := New(config.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := stack.Registry().ConfigInterface(0, []byte("seed-bytes-16!!!")); err != nil {
		t.Fatalf("ConfigInterface() failed: %v", err)
	}
	if !stack.Registry().Configured(0) {
		t.Fatalf("setup: expected nic 0 to be configured")
	}

	idx, err := stack.Socket(socket.TypeTCP)
	if err != nil {
		t.Fatalf("Socket() failed: %v", err)
	}
	if err := stack.Bind(idx, 0, false, [4]byte{}, [16]byte{}, 8080); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}

	n := stack.nics[0]
	n.arpCache.HandleReply([4]byte{192, 168, 1, 1}, [6]byte{1, 2, 3, 4, 5, 6})
	if len(n.arpCache.Entries()) == 0 {
		t.Fatalf("setup: expected a seeded ARP entry")
	}

	if err := stack.StopInterface(0); err != nil {
		t.Fatalf("StopInterface() returned unexpected error: %v", err)
	}

	if len(n.arpCache.Entries()) != 0 {
		t.Errorf("StopInterface() left %d ARP entries, want 0", len(n.arpCache.Entries()))
	}
	for _, info := range stack.Sockets() {
		if info.NIC == 0 {
			t.Errorf("StopInterface() left socket %d still bound to nic 0", info.Index)
		}
	}
	if stack.Registry().Configured(0) {
		t.Errorf("StopInterface() left nic 0 configured")
	}
}

func TestStopInterfaceOnUnknownNICReturnsError(t *testing.T) {
	stack, err := New(config.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := stack.StopInterface(9999); err == nil {
		t.Errorf("StopInterface(9999) = nil error, want a failure")
	}
}
