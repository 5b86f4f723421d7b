package socket

import (
	"time"

	"github.com/nanostack-io/netstack/stackerr"
)

// UpdateEvents ORs raised into idx's event-flag set, masked by the
// socket's user-supplied EventMask, and signals the shared event if the
// result is non-empty (spec.md §4.H: "update-events is called on every
// protocol transition that could raise an event ..., AND'd with the
// mask, and the shared event is signalled if non-empty"). It is called
// from every protocol callback (tcp.Config.DataAvailable, RemoteClosed,
// Closed; the UDP/raw delivery paths), never by user code directly.
func (t *Table) UpdateEvents(idx int, raised Event) {
	s, err := t.Get(idx)
	if err != nil {
		return
	}
	masked := raised & s.EventMask
	if masked == 0 {
		return
	}
	before := s.EventFlags
	s.EventFlags |= masked
	if s.EventFlags != before {
		t.cond.Broadcast()
	}
}

// ClearEvents drops bits from idx's flag set once the caller has
// consumed them (e.g. Recv draining the last buffered byte clears
// EventReadable until more data or EOF is observed).
func (t *Table) ClearEvents(idx int, bits Event) {
	s, err := t.Get(idx)
	if err != nil {
		return
	}
	s.EventFlags &^= bits
}

// SetEventMask installs idx's user-supplied mask (spec.md §4.H "(a) a
// user-supplied event-mask"); existing flags outside the new mask are
// dropped since they could never have been set going forward.
func (t *Table) SetEventMask(idx int, mask Event) error {
	s, err := t.Get(idx)
	if err != nil {
		return err
	}
	s.EventMask = mask
	s.EventFlags &= mask
	return nil
}

// Deadline distinguishes a non-blocking poll (Immediate) from one bounded
// by At (the zero Time blocks forever, matching spec.md §4.H's
// socketPoll(descriptors[], event, timeout)).
type Deadline struct {
	Immediate bool
	At        time.Time
}

// Poll blocks until any of idxs has one of the bits in mask raised, the
// deadline passes, or the shared event is cancelled, returning the subset
// of idxs that are ready.
func (t *Table) Poll(idxs []int, mask Event, deadline Deadline) ([]int, error) {
	for {
		if t.canceled {
			return nil, stackerr.New(stackerr.WaitCanceled)
		}
		var ready []int
		for _, i := range idxs {
			s, err := t.Get(i)
			if err != nil {
				continue
			}
			if s.EventFlags&mask != 0 {
				ready = append(ready, i)
			}
		}
		if len(ready) > 0 {
			return ready, nil
		}
		if deadline.Immediate {
			return nil, stackerr.New(stackerr.Timeout)
		}
		if !deadline.At.IsZero() && !t.now().Before(deadline.At) {
			return nil, stackerr.New(stackerr.Timeout)
		}
		t.waitOnce(deadline)
	}
}

// waitOnce blocks on the condition variable until either it is signalled
// or, if a deadline is set, the deadline arrives — mirroring "ISRs do not
// take the mutex; they only set event flags and signal the shared event"
// (spec.md §5) by using a timer to perform that same signal at the
// deadline rather than teaching every caller about time.
func (t *Table) waitOnce(deadline Deadline) {
	if deadline.At.IsZero() {
		t.cond.Wait()
		return
	}
	timer := time.AfterFunc(deadline.At.Sub(t.now()), func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()
	t.cond.Wait()
}

// Cancel breaks every blocked Poll/Recv/Send with WAIT_CANCELED (spec.md
// §5: "A pending socketPoll or recv is cancelled by setting the shared
// event"), used by stopInterface and stack shutdown. Reset re-arms the
// table for a subsequent start.
func (t *Table) Cancel() {
	t.canceled = true
	t.cond.Broadcast()
}

// Reset clears a prior Cancel, matching spec.md §6.4's startInterface
// re-enabling a previously stopped interface.
func (t *Table) Reset() {
	t.canceled = false
}
