package tcp

// Congestion control per RFC 5681: slow start while cwnd < ssthresh,
// congestion avoidance above it, and NewReno fast retransmit/recovery on
// three duplicate ACKs. No SACK: recovery retransmits one segment at a
// time, go-back-N style, the same simplification the corpus's embedded
// profile makes for everything else in this stack.

// onNewACK grows cwnd for acked bytes that are not part of fast recovery.
func (t *TCB) onNewACK(acked uint32) {
	smss := uint32(t.cfg.SMSS)
	if t.cwnd < t.ssthresh {
		inc := acked
		if inc > smss {
			inc = smss
		}
		t.cwnd += inc
		return
	}
	inc := smss * smss / t.cwnd
	if inc < 1 {
		inc = 1
	}
	t.cwnd += inc
}

// onDupACK records a duplicate ACK and, on the third, enters fast
// recovery: ssthresh drops to half the flight size (floored at 2*SMSS)
// and cwnd inflates to ssthresh+3*SMSS so three more segments' worth of
// data can leave during recovery.
func (t *TCB) onDupACK() {
	t.dupACKs++
	smss := uint32(t.cfg.SMSS)
	switch {
	case t.dupACKs == 3 && !t.inRecovery:
		t.recover = t.sndNXT - 1
		flight := t.sndNXT - t.sndUNA
		t.ssthresh = maxU32(flight/2, 2*smss)
		t.cwnd = t.ssthresh + 3*smss
		t.inRecovery = true
		t.retransmitOldest(true)
	case t.inRecovery && t.dupACKs > 3:
		t.cwnd += smss
	}
}

// exitRecovery deflates cwnd back to ssthresh once an ACK covers
// everything outstanding when fast recovery began (RFC 6582 NewReno
// "full acknowledgement").
func (t *TCB) exitRecovery() {
	t.cwnd = t.ssthresh
	t.inRecovery = false
	t.dupACKs = 0
}
