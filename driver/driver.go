// Package driver defines the NIC/PHY/switch driver boundary (spec.md
// §4.C, §6.1): an abstract transmit/receive/interrupt contract that the
// core stack calls through, and that calls back into the core stack's
// ingress path. It intentionally depends on nothing above it in the
// component order (spec.md §2's dependency order, leaves first) — the
// upward call (processPacket) is wired as a callback set by the stack at
// attach time, not a static import, so driver stays a leaf package.
package driver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nanostack-io/netstack/buffer"
	"github.com/nanostack-io/netstack/stackerr"
)

// Type identifies the NIC's framing discipline (spec.md §6.1).
type Type int

const (
	Ethernet Type = iota + 1
	PPP
	SixLowPAN
	Loopback
)

func (t Type) String() string {
	switch t {
	case Ethernet:
		return "ethernet"
	case PPP:
		return "ppp"
	case SixLowPAN:
		return "6lowpan"
	case Loopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Capabilities are the three capability booleans spec.md §6.1 lists
// alongside the function-pointer table.
type Capabilities struct {
	SupportsIRQ      bool
	SupportsEthernet bool
	SupportsPadding  bool
}

// FilterEntry is one perfect-match or multicast-hash slot in the MAC
// address filter table (spec.md §4.C updateMacAddrFilter, §8 invariant 4:
// "Sum refCount>0 MAC-filter slots are exactly the entries programmed
// into hardware").
type FilterEntry struct {
	MAC      [6]byte
	RefCount int
}

// Contract is the NIC's function-pointer table (spec.md §6.1): "Driver
// registers with NIC-type, MTU, and nine function pointers ... plus
// three capability booleans." Any field may be nil for a capability the
// driver doesn't implement; the scheduler skips nil hooks.
type Contract struct {
	Type         Type
	MTU          int
	Capabilities Capabilities

	Init                func(h *Handle) error
	Tick                func(h *Handle)
	EnableIrq           func(h *Handle)
	DisableIrq          func(h *Handle)
	EventHandler        func(h *Handle)
	SendPacket          func(h *Handle, buf *buffer.Buffer) error
	UpdateMacAddrFilter func(h *Handle, entries []FilterEntry) error
	WritePhyReg         func(h *Handle, reg uint8, value uint16) error
	ReadPhyReg          func(h *Handle, reg uint8) (uint16, error)
}

// ReceiveFunc is the upward entry point (spec.md §4.C processPacket):
// "the upward entry point: it dispatches by NIC type to ethernet frame
// processing, PPP frame processing, direct IPv6 (6LoWPAN), or (loopback)
// to IPv4/IPv6 based on the first nibble of the payload." The core stack
// supplies one when it attaches a driver to an interface; Handle never
// imports the packages that implement it.
type ReceiveFunc func(nicIndex int, frame []byte)

// Handle is the per-interface binding between a Contract and the stack.
// ISR code is only ever allowed to touch the two event flags and call
// Signal (spec.md §5: "ISR code may only (a) toggle nicEvent/phyEvent
// flags ... (b) set the shared event — it never reads or writes protocol
// state").
type Handle struct {
	NICIndex int
	Contract *Contract

	receive ReceiveFunc
	signal  func()

	nicEvent atomic.Bool
	phyEvent atomic.Bool

	irqDepth atomic.Int32

	// NICMaxBlockingTime bounds how long SendPacket will wait for a
	// driver tx slot before returning TransmitterBusy (spec.md §4.C).
	NICMaxBlockingTime time.Duration

	// Sniff, when set, is called with every frame passed to Deliver
	// before it reaches the stack's ingress dispatch: a passive observer
	// only, never consulted for routing and never allowed to block or
	// mutate frame (spec.md §11's optional capture tap).
	Sniff func(nicIndex int, frame []byte)
}

// NewHandle binds a Contract to nicIndex. receive is the stack's
// ingress dispatch (ultimately link.Ethernet.HandleFrame or equivalent);
// signal wakes the scheduler's shared event (spec.md §4.I main loop).
func NewHandle(nicIndex int, contract *Contract, receive ReceiveFunc, signal func()) *Handle {
	return &Handle{
		NICIndex:           nicIndex,
		Contract:           contract,
		receive:            receive,
		signal:             signal,
		NICMaxBlockingTime: 100 * time.Millisecond,
	}
}

// Deliver is called by the driver's event handler once per received
// frame (spec.md §4.C: "Drain hardware queue -> call processPacket(if,
// bytes, len) once per frame").
func (h *Handle) Deliver(frame []byte) {
	if h.Sniff != nil {
		h.Sniff(h.NICIndex, frame)
	}
	if h.receive != nil {
		h.receive(h.NICIndex, frame)
	}
}

// RaiseNICEvent is the only thing an ISR may do on a hardware RX/TX
// interrupt: set the flag and signal the shared event. No protocol state
// is touched here (spec.md §5).
func (h *Handle) RaiseNICEvent() {
	h.nicEvent.Store(true)
	if h.signal != nil {
		h.signal()
	}
}

// RaisePHYEvent is the PHY/switch-interrupt analogue of RaiseNICEvent.
func (h *Handle) RaisePHYEvent() {
	h.phyEvent.Store(true)
	if h.signal != nil {
		h.signal()
	}
}

// TakeNICEvent atomically reads and clears the pending NIC-event flag;
// called by the scheduler main loop (spec.md §4.I step 1).
func (h *Handle) TakeNICEvent() bool { return h.nicEvent.Swap(false) }

// TakePHYEvent is the PHY-event analogue of TakeNICEvent (spec.md §4.I
// step 2).
func (h *Handle) TakePHYEvent() bool { return h.phyEvent.Swap(false) }

// HasPendingEvent reports a NIC or PHY event without clearing either
// flag, so the scheduler's main wait can tell whether work is already
// outstanding before it blocks (spec.md §4.I: a raise that lands between
// one wake and the next must not be missed).
func (h *Handle) HasPendingEvent() bool { return h.nicEvent.Load() || h.phyEvent.Load() }

// EnableIrq / DisableIrq must nest (spec.md §4.C: "Must be nestable
// around calls into the stack from the ISR path"); the depth counter
// only calls through to the driver's hooks on the outermost transition.
func (h *Handle) EnableIrq() {
	if h.irqDepth.Add(-1) == 0 && h.Contract.EnableIrq != nil {
		h.Contract.EnableIrq(h)
	}
}

func (h *Handle) DisableIrq() {
	if h.irqDepth.Add(1) == 1 && h.Contract.DisableIrq != nil {
		h.Contract.DisableIrq(h)
	}
}

// RunEventHandler masks IRQs, drains the driver's RX queue via its
// EventHandler hook, then unmasks (spec.md §4.I step 1/2).
func (h *Handle) RunEventHandler() {
	if h.Contract.EventHandler == nil {
		return
	}
	h.DisableIrq()
	h.Contract.EventHandler(h)
	h.EnableIrq()
}

// SendPacket hands a frame to the driver, applying the
// NIC_MAX_BLOCKING_TIME bound from spec.md §4.C: "may block up to
// NIC_MAX_BLOCKING_TIME waiting for a tx slot; returns TRANSMITTER_BUSY
// on timeout."
func (h *Handle) SendPacket(buf *buffer.Buffer) error {
	if h.Contract.SendPacket == nil {
		return stackerr.New(stackerr.NotImplemented)
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.NICMaxBlockingTime)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.Contract.SendPacket(h, buf) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return stackerr.New(stackerr.TransmitterBusy)
	}
}

// Init brings the hardware up without enabling IRQs (spec.md §4.C: "Bring
// hardware up; install MAC filter; enable DMA; do NOT enable IRQ").
func (h *Handle) Init() error {
	if h.Contract.Init == nil {
		return nil
	}
	return h.Contract.Init(h)
}

// Tick is the driver's own poll hook, invoked from the NIC sub-protocol
// tick slot (spec.md §4.I tick list, first entry: "NIC poll").
func (h *Handle) Tick() {
	if h.Contract.Tick != nil {
		h.Contract.Tick(h)
	}
}

// UpdateMacAddrFilter reprograms the hardware's perfect-match slots and
// multicast hash from the current filter table (spec.md §4.C).
func (h *Handle) UpdateMacAddrFilter(entries []FilterEntry) error {
	if h.Contract.UpdateMacAddrFilter == nil {
		return stackerr.New(stackerr.NotImplemented)
	}
	return h.Contract.UpdateMacAddrFilter(h, entries)
}
