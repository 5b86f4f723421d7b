// Package simdriver implements a driver.Contract backed by a real host
// raw IP socket (spec.md §11 domain stack, "host-backed reference NIC
// for integration tests"). It exists so the stack's IP/transport layers
// can be exercised against genuine kernel-delivered IPv4 traffic without
// any actual NIC hardware, grounded on the teacher's go.mod carrying
// golang.org/x/net and golang.org/x/sys as its host-integration
// dependencies.
//
// The driver is IPv4-only and loopback-typed (spec.md §6.1's Loopback
// framing, since a raw IP socket hands us already-de-encapsulated IP
// datagrams, not Ethernet frames) — it is meant for integration tests
// and local experimentation, not as a production NIC driver.
package simdriver

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/driver"
	"github.com/nanostack-io/netstack/slog"
)

// testProtocol is IANA-reserved "for experimentation and testing"
// (RFC 3692); using it as the raw socket's protocol keeps this driver
// from colliding with the host kernel's own TCP/UDP/ICMP stacks, which
// still own those protocol numbers on the same machine.
const testProtocol = 253

// Driver owns one raw IP socket bound to a host-visible address. Its
// exported Contract plugs into netstack.Stack.AttachDriver like any
// other NIC driver; everything else about it (reading the socket,
// queuing frames for EventHandler) is private machinery.
type Driver struct {
	mu      sync.Mutex
	conn    *ipv4.RawConn
	packets *frameQueue

	stopped chan struct{}
	closed  bool
}

// New opens a raw IPv4 socket on localAddr (an address already assigned
// to a host interface, e.g. "127.0.0.1") and returns the Contract to
// attach it with. The returned Driver must be Closed once the owning
// interface is torn down.
func New(localAddr string) (*Driver, *driver.Contract, error) {
	pc, err := net.ListenPacket("ip4:"+itoa(testProtocol), localAddr)
	if err != nil {
		return nil, nil, err
	}
	raw, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, nil, err
	}
	if sc, ok := pc.(interface {
		SyscallConn() (syscall.RawConn, error)
	}); ok {
		// Best-effort: IP_HDRINCL lets SendPacket hand the kernel an
		// already-built IP header (ipstack.BuildIPv4's output) instead of
		// having the kernel synthesize one; RawConn already implies this
		// on most platforms, but Linux needs it set explicitly in some
		// kernel versions.
		rc, cerr := sc.SyscallConn()
		if cerr == nil {
			_ = rc.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_HDRINCL, 1)
			})
		}
	}

	d := &Driver{
		conn:    raw,
		packets: newFrameQueue(64),
		stopped: make(chan struct{}),
	}
	contract := &driver.Contract{
		Type: driver.Loopback,
		MTU:  1500,
		Capabilities: driver.Capabilities{
			SupportsIRQ: true,
		},
		Init:         d.init,
		SendPacket:   d.sendPacket,
		EventHandler: d.drainQueue,
	}
	return d, contract, nil
}

// init starts the background read loop; the loop is the "hardware" side
// of the IRQ model (spec.md §5): it never touches protocol state, only
// enqueues raw bytes and calls Handle.RaiseNICEvent.
func (d *Driver) init(h *driver.Handle) error {
	go d.readLoop(h)
	return nil
}

func (d *Driver) readLoop(h *driver.Handle) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-d.stopped:
			return
		default:
		}
		hdr, payload, _, err := d.conn.ReadFrom(buf)
		if err != nil {
			continue
		}
		frame := reassembleIPv4(hdr, payload)
		d.packets.push(frame)
		h.RaiseNICEvent()
	}
}

// drainQueue is the Contract's EventHandler hook (spec.md §4.C: "Drain
// hardware queue -> call processPacket(if, bytes, len) once per frame"),
// invoked by Handle.RunEventHandler with IRQs already masked.
func (d *Driver) drainQueue(h *driver.Handle) {
	for {
		frame, ok := d.packets.pop()
		if !ok {
			return
		}
		h.Deliver(frame)
	}
}

// sendPacket writes buf (a complete, already-built IPv4 datagram per
// ipstack.BuildIPv4) to the raw socket, re-parsing just enough of it to
// populate the ipv4.Header RawConn.WriteTo wants.
func (d *Driver) sendPacket(h *driver.Handle, buf *buffer.Buffer) error {
	raw := buf.Bytes()
	hdr, err := ipv4.ParseHeader(raw)
	if err != nil {
		return err
	}
	hdrLen := hdr.Len
	if hdrLen <= 0 || hdrLen > len(raw) {
		hdrLen = 20
	}
	payload := raw[hdrLen:]
	if err := d.conn.WriteTo(hdr, payload, nil); err != nil {
		slog.Tracef("simdriver: WriteTo: %v", err)
		return err
	}
	return nil
}

// Close stops the read loop and releases the underlying socket.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.stopped)
	return d.conn.Close()
}

// reassembleIPv4 re-marshals hdr+payload into one contiguous buffer,
// since ReadFrom hands the header and payload back as separate values.
func reassembleIPv4(hdr *ipv4.Header, payload []byte) []byte {
	raw, err := hdr.Marshal()
	if err != nil {
		return payload
	}
	return append(raw, payload...)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
