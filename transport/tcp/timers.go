package tcp

import "time"

// clockGranularity stands in for RFC 6298's "G", the clock's tick
// resolution, which floors how tight the retransmission timer may be.
const clockGranularity = 10 * time.Millisecond

// trySend pushes as much of sendQueue as the send window (min of the
// peer's advertised window and cwnd) currently allows, each segment
// capped at mss. A sub-MSS chunk while another segment is already in
// flight is held back (Nagle/SWS avoidance, spec.md's TCP_OVERRIDE_TIMEOUT)
// unless forceOverride was set by the override timer firing.
func (t *TCB) trySend() {
	for len(t.sendQueue) > 0 {
		flight := int(t.sndNXT - t.sndUNA)
		usable := minInt(int(t.sndWND), int(t.cwnd)) - flight
		if usable <= 0 {
			break
		}
		n := minInt(usable, int(t.mss))
		n = minInt(n, len(t.sendQueue))
		if n <= 0 {
			break
		}
		if n < int(t.mss) && flight > 0 && !t.forceOverride {
			if t.overrideDeadline.IsZero() {
				t.armOverride(t.cfg.Now())
			}
			break
		}
		t.forceOverride = false
		t.overrideDeadline = time.Time{}
		data := t.sendQueue[:n]
		t.sendQueue = t.sendQueue[n:]
		now := t.cfg.Now()
		seq := t.sndNXT
		t.sndNXT += uint32(n)
		t.retransmitQueue = append(t.retransmitQueue, txSegment{seq: seq, data: data, sentAt: now})
		t.cfg.Send(Segment{Seq: seq, Ack: t.rcvNXT, Flags: FlagACK, Window: t.rcvWND, Payload: data})
		if !t.rttMeasuring {
			t.rttMeasuring = true
			t.rttSeq = seq + uint32(n) - 1
			t.rttStart = now
		}
		t.armRetransmit(now)
	}
	if t.sndWND == 0 && (len(t.sendQueue) > 0 || len(t.retransmitQueue) > 0) && t.persistDeadline.IsZero() {
		t.armPersist(t.cfg.Now())
	}
}

func (t *TCB) armRetransmit(now time.Time) {
	if len(t.retransmitQueue) == 0 {
		t.retransmitDeadline = time.Time{}
		return
	}
	t.retransmitDeadline = now.Add(t.rto)
}

func (t *TCB) armPersist(now time.Time) {
	if t.probeInterval == 0 {
		t.probeInterval = t.cfg.InitialRTO
	}
	t.persistDeadline = now.Add(t.probeInterval)
}

func (t *TCB) armOverride(now time.Time) {
	t.overrideDeadline = now.Add(t.cfg.OverrideTimeout)
}

func (t *TCB) armFinWait2(now time.Time) {
	t.finWait2Deadline = now.Add(2 * t.cfg.MSL)
}

func (t *TCB) armTimeWait(now time.Time) {
	t.timeWaitDeadline = now.Add(2 * t.cfg.MSL)
}

// discardAcked drops fully-acknowledged entries from the front of
// retransmitQueue and, once SND.UNA passes rttSeq, takes an RTT sample
// from the segment being timed. Karn's algorithm holds because
// retransmitOldest stops timing a segment it resends, so a retransmitted
// segment never contributes a sample (RFC 6298 §3).
func (t *TCB) discardAcked() {
	for len(t.retransmitQueue) > 0 {
		seg := t.retransmitQueue[0]
		end := seg.seq + seg.len()
		if seqGT(end, t.sndUNA) {
			break
		}
		t.retransmitQueue = t.retransmitQueue[1:]
	}
	if t.rttMeasuring && seqGT(t.sndUNA, t.rttSeq) {
		t.rttMeasuring = false
		t.sampleRTT(t.cfg.Now().Sub(t.rttStart))
	}
}

func (s txSegment) len() uint32 {
	n := uint32(len(s.data))
	if s.flags&(FlagSYN|FlagFIN) != 0 {
		n++
	}
	return n
}

// sampleRTT applies the RFC 6298 §2 SRTT/RTTVAR estimator.
func (t *TCB) sampleRTT(sample time.Duration) {
	if t.srtt == 0 {
		t.srtt = sample
		t.rttvar = sample / 2
	} else {
		diff := t.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		t.rttvar = t.rttvar/4*3 + diff/4
		t.srtt = t.srtt/8*7 + sample/8
	}
	rto := t.srtt + maxDuration(clockGranularity, 4*t.rttvar)
	t.rto = clampDuration(rto, t.cfg.InitialRTO, t.cfg.MaxRTO)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// retransmitOldest resends the head of retransmitQueue unchanged
// (go-back-N, no SACK). fast is not read: a dup-ACK-triggered and an
// RTO-triggered retransmit send the same segment the same way.
func (t *TCB) retransmitOldest(fast bool) {
	if len(t.retransmitQueue) == 0 {
		return
	}
	seg := &t.retransmitQueue[0]
	seg.retransmitted = true
	seg.sentAt = t.cfg.Now()
	t.cfg.Send(Segment{Seq: seg.seq, Ack: t.rcvNXT, Flags: seg.flags | FlagACK, Window: t.rcvWND, Payload: seg.data})
	if t.rttSeq == seg.seq+seg.len()-1 {
		// Karn's algorithm: stop timing a segment once it's been
		// retransmitted; its eventual ACK cannot yield a clean sample.
		t.rttMeasuring = false
	}
}

// Tick advances every armed timer against now, firing whichever are due.
// Called once per scheduler tick (spec.md §4.I's TCP_TICK_INTERVAL).
func (t *TCB) Tick(now time.Time) {
	if !t.retransmitDeadline.IsZero() && !now.Before(t.retransmitDeadline) {
		t.onRTO(now)
	}
	if !t.persistDeadline.IsZero() && !now.Before(t.persistDeadline) {
		t.onPersist(now)
	}
	if !t.overrideDeadline.IsZero() && !now.Before(t.overrideDeadline) {
		t.forceOverride = true
		t.trySend()
	}
	if !t.finWait2Deadline.IsZero() && !now.Before(t.finWait2Deadline) {
		t.finWait2Deadline = time.Time{}
		t.abort()
	}
	if !t.timeWaitDeadline.IsZero() && !now.Before(t.timeWaitDeadline) {
		t.timeWaitDeadline = time.Time{}
		t.abort()
	}
}

// onRTO handles retransmission-timeout expiry (RFC 6298 §5): back off
// the timer exponentially, re-enter slow start, and resend the oldest
// unacked segment. Exhausting cfg.MaxRetries aborts the connection.
func (t *TCB) onRTO(now time.Time) {
	firstTimeout := t.retransmitCount == 0
	t.retransmitCount++
	if t.retransmitCount > t.cfg.MaxRetries {
		t.abort()
		return
	}
	if firstTimeout {
		smss := uint32(t.cfg.SMSS)
		flight := t.sndNXT - t.sndUNA
		t.ssthresh = maxU32(flight/2, 2*smss)
		t.cwnd = smss
		t.recover = t.sndNXT - 1
	}
	t.inRecovery = false
	t.dupACKs = 0
	t.rto = clampDuration(t.rto*2, t.cfg.InitialRTO, t.cfg.MaxRTO)
	t.retransmitOldest(false)
	t.armRetransmit(now)
}

// onPersist sends a 1-byte zero-window probe (RFC 1122 §4.2.2.17) and
// doubles the probe interval up to cfg.MaxProbeInterval.
func (t *TCB) onPersist(now time.Time) {
	t.persistCount++
	if t.persistCount > t.cfg.MaxRetries {
		t.abort()
		return
	}
	t.cfg.Send(Segment{Seq: t.sndNXT - 1, Ack: t.rcvNXT, Flags: FlagACK, Window: t.rcvWND, Payload: probeByte(t)})
	t.probeInterval = clampDuration(t.probeInterval*2, t.cfg.InitialRTO, t.cfg.MaxProbeInterval)
	t.armPersist(now)
}

func probeByte(t *TCB) []byte {
	if len(t.sendQueue) > 0 {
		return t.sendQueue[:1]
	}
	return nil
}
