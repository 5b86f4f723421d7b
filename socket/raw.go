package socket

import (
	"github.com/nanostack-io/netstack/stackerr"
	"github.com/nanostack-io/netstack/transport/rawsocket"
)

const rawRecvQueueDepth = 8

// OpenRaw opens idx as a raw socket against the rawsocket.Table fan-out
// (spec.md §4.G "pass received IP or raw-ethernet frames verbatim to a
// per-socket queue").
func (t *Table) OpenRaw(idx int, kind rawsocket.Kind, protocol uint8, nic int) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	if s.Type != TypeRaw || s.State != StateClosed {
		return stackerr.New(stackerr.InvalidParameter)
	}
	s.raw = t.raw.Open(kind, protocol, nic, rawRecvQueueDepth)
	s.NIC = nic
	s.State = StateBound
	return nil
}

// DeliverRaw fans packet out through the raw-socket table (non-exclusive:
// every matching socket gets its own copy, spec.md §4.G) and raises
// EventReadable on each socket left with a non-empty queue; that
// condition is idempotent to re-assert regardless of which delivery
// caused it, so no reverse packet->socket tracking is needed here.
func (t *Table) DeliverRaw(kind rawsocket.Kind, protocol uint8, nic int, packet []byte) int {
	n := t.raw.Deliver(kind, protocol, nic, packet)
	if n == 0 {
		return 0
	}
	for _, s := range t.sockets {
		if s != nil && s.Type == TypeRaw && s.raw != nil && len(s.raw.Queue) > 0 {
			t.UpdateEvents(s.Index, EventReadable)
		}
	}
	return n
}

// RecvRaw pops one packet off idx's raw queue, non-blocking.
func (t *Table) RecvRaw(idx int) ([]byte, error) {
	s, err := t.Get(idx)
	if err != nil {
		return nil, err
	}
	if s.Type != TypeRaw || s.raw == nil {
		return nil, stackerr.New(stackerr.InvalidParameter)
	}
	select {
	case p := <-s.raw.Queue:
		if len(s.raw.Queue) == 0 {
			t.ClearEvents(idx, EventReadable)
		}
		return p, nil
	default:
		return nil, stackerr.New(stackerr.BufferEmpty)
	}
}
