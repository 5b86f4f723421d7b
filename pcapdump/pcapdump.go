// Package pcapdump is an optional capture tap for debugging the link
// layer (spec.md §11 domain stack), grounded on gVisor's link/sniffer
// wrap-the-endpoint pattern (seen in the gvisor reference files under
// other_examples/) but backed by the real third-party pcap writer
// github.com/google/gopacket/pcapgo rather than gVisor's own internal
// hex-dump logger.
package pcapdump

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/driver"
)

// Tap writes every frame it observes, in either direction, to a pcap
// file as they occur. It has no notion of NIC index beyond what it is
// told — attach it to as many Handles/Contracts as needed, sharing one
// underlying Writer.
type Tap struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	now    func() time.Time
	closed bool
}

// New wraps dst with a classic (libpcap-format) pcap writer and emits its file
// header for linkType (layers.LinkTypeEthernet for a real NIC,
// layers.LinkTypeRaw for a loopback/IP-only driver like simdriver).
func New(dst io.Writer, linkType layers.LinkType) (*Tap, error) {
	w := pcapgo.NewWriter(dst)
	if err := w.WriteFileHeader(65536, linkType); err != nil {
		return nil, err
	}
	return &Tap{w: w, now: time.Now}, nil
}

// AttachRX installs the tap as h's passive frame observer (spec.md §11:
// "optional sniffer tap"); h.Deliver calls it before the stack's own
// ingress dispatch.
func (t *Tap) AttachRX(h *driver.Handle) {
	h.Sniff = t.write
}

// WrapContract returns a shallow copy of c whose SendPacket also feeds
// the tap, capturing the transmit side alongside AttachRX's receive
// side. The original c is left untouched.
func (t *Tap) WrapContract(c *driver.Contract) *driver.Contract {
	wrapped := *c
	inner := c.SendPacket
	wrapped.SendPacket = func(h *driver.Handle, buf *buffer.Buffer) error {
		t.write(h.NICIndex, buf.Bytes())
		if inner == nil {
			return nil
		}
		return inner(h, buf)
	}
	return &wrapped
}

func (t *Tap) write(nicIndex int, frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     t.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	_ = t.w.WritePacket(ci, frame)
}

// Close marks the tap closed; further writes are silently dropped
// rather than racing the now-closed destination writer.
func (t *Tap) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
