package tcp

import "time"

// HandleSegment feeds one inbound segment through the state machine.
// Callers own demultiplexing to the right TCB (by local/remote
// port+address) and checksum validation before this point.
func (t *TCB) HandleSegment(seg *Segment) error {
	now := t.cfg.Now()
	switch t.state {
	case StateClosed:
		t.handleClosed(seg)
	case StateListen:
		t.handleListen(seg, now)
	case StateSynSent:
		t.handleSynSent(seg, now)
	default:
		t.processGeneral(seg, now)
	}
	return nil
}

// handleClosed answers an unexpected segment the way RFC 793 §3.9
// prescribes for a non-existent connection: RST, unless the segment
// itself carries RST.
func (t *TCB) handleClosed(seg *Segment) {
	if seg.Flags&FlagRST != 0 {
		return
	}
	if seg.Flags&FlagACK != 0 {
		t.cfg.Send(Segment{Seq: seg.Ack, Flags: FlagRST})
		return
	}
	t.cfg.Send(Segment{Ack: seg.Seq + seg.Len(), Flags: FlagRST | FlagACK})
}

func (t *TCB) handleListen(seg *Segment, now time.Time) {
	if seg.Flags&FlagRST != 0 {
		return
	}
	if seg.Flags&FlagACK != 0 {
		t.cfg.Send(Segment{Seq: seg.Ack, Flags: FlagRST})
		return
	}
	if seg.Flags&FlagSYN == 0 {
		return
	}
	t.irs = seg.Seq
	t.rcvNXT = seg.Seq + 1
	t.iss = t.cfg.ISN()
	t.sndUNA = t.iss
	t.sndNXT = t.iss + 1
	t.state = StateSynReceived
	t.mss = negotiateMSS(t.cfg.SMSS, seg.Options)
	t.sendRaw(txSegment{seq: t.iss, flags: FlagSYN | FlagACK, sentAt: now})
	t.armRetransmit(now)
}

func (t *TCB) handleSynSent(seg *Segment, now time.Time) {
	ackAcceptable := true
	if seg.Flags&FlagACK != 0 {
		if !seqGT(seg.Ack, t.iss) || seqGT(seg.Ack, t.sndNXT) {
			ackAcceptable = false
		}
	}
	if seg.Flags&FlagRST != 0 {
		if seg.Flags&FlagACK != 0 && ackAcceptable {
			t.abort()
		}
		return
	}
	if seg.Flags&FlagACK != 0 && !ackAcceptable {
		t.cfg.Send(Segment{Seq: seg.Ack, Flags: FlagRST})
		return
	}
	if seg.Flags&FlagSYN == 0 {
		return
	}
	t.irs = seg.Seq
	t.rcvNXT = seg.Seq + 1
	t.mss = negotiateMSS(t.cfg.SMSS, seg.Options)
	t.sndWND = seg.Window
	t.sndWL1 = seg.Seq
	t.sndWL2 = seg.Ack
	if seg.Flags&FlagACK != 0 {
		t.sndUNA = seg.Ack
		t.discardAcked()
	}
	if seqGT(t.sndUNA, t.iss) {
		t.state = StateEstablished
		t.cwnd = uint32(t.mss)
		t.cfg.Send(Segment{Seq: t.sndNXT, Ack: t.rcvNXT, Flags: FlagACK, Window: t.rcvWND})
		if t.cfg.Established != nil {
			t.cfg.Established()
		}
		t.trySend()
	} else {
		// Simultaneous open (RFC 793 §3.4 figure 8): both sides sent a
		// SYN before either saw the other's; re-send SYN-ACK and wait.
		t.state = StateSynReceived
		t.sendRaw(txSegment{seq: t.iss, flags: FlagSYN | FlagACK, sentAt: now})
		t.armRetransmit(now)
	}
}

// processGeneral implements the shared ACK/text/FIN processing RFC 793
// applies identically from SYN-RECEIVED through TIME-WAIT.
func (t *TCB) processGeneral(seg *Segment, now time.Time) {
	if seg.Flags&FlagRST != 0 {
		t.abort()
		return
	}
	if seg.Flags&FlagSYN != 0 {
		t.cfg.Send(Segment{Seq: seg.Ack, Flags: FlagRST})
		t.abort()
		return
	}
	if seg.Flags&FlagACK == 0 {
		return
	}

	if t.state == StateSynReceived && !(seqGT(seg.Ack, t.sndUNA) && seqLE(seg.Ack, t.sndNXT)) && seg.Ack != t.sndUNA {
		t.cfg.Send(Segment{Seq: seg.Ack, Flags: FlagRST})
		return
	}

	t.processACK(seg, now)
	t.processText(seg)
	t.processFIN(seg)

	if t.sndWND > 0 {
		t.persistDeadline = time.Time{}
		t.persistCount = 0
		t.probeInterval = 0
	}
	t.trySend()
}

func (t *TCB) processACK(seg *Segment, now time.Time) {
	if seqGT(seg.Ack, t.sndNXT) {
		// ACKs data never sent; answer with the current state (RFC
		// 793 §3.9 "if the ACK acks something not yet sent ... send an
		// ACK").
		t.cfg.Send(Segment{Seq: t.sndNXT, Ack: t.rcvNXT, Flags: FlagACK, Window: t.rcvWND})
		return
	}

	sameWindow := seg.Window == t.sndWND
	if seqLT(t.sndWL1, seg.Seq) || (t.sndWL1 == seg.Seq && seqLE(t.sndWL2, seg.Ack)) {
		t.sndWND = seg.Window
		t.sndWL1 = seg.Seq
		t.sndWL2 = seg.Ack
	}

	switch {
	case seqGT(seg.Ack, t.sndUNA):
		acked := seg.Ack - t.sndUNA
		t.sndUNA = seg.Ack
		t.discardAcked()
		if t.inRecovery {
			if seqGT(t.sndUNA, t.recover) {
				t.exitRecovery()
			} else {
				// Partial ACK within recovery (NewReno): the loss
				// episode isn't over, resend the new head.
				t.retransmitOldest(true)
			}
		} else {
			t.onNewACK(acked)
		}
		t.dupACKs = 0
		t.retransmitCount = 0
		if len(t.retransmitQueue) == 0 {
			t.retransmitDeadline = time.Time{}
		} else {
			t.armRetransmit(now)
		}
		t.afterFINAcked()
	case seg.Ack == t.sndUNA && len(seg.Payload) == 0 && sameWindow && len(t.retransmitQueue) > 0 && t.state != StateSynReceived:
		t.onDupACK()
	}

	if t.state == StateSynReceived && seqGT(t.sndUNA, t.iss) {
		t.state = StateEstablished
		t.cwnd = uint32(t.mss)
		if t.cfg.Established != nil {
			t.cfg.Established()
		}
	}
}

// afterFINAcked advances the half of the state machine gated on our own
// FIN being acknowledged.
func (t *TCB) afterFINAcked() {
	if !t.haveSentFIN || !seqGT(t.sndUNA, t.finSeq) {
		return
	}
	now := t.cfg.Now()
	switch t.state {
	case StateFinWait1:
		t.state = StateFinWait2
		t.armFinWait2(now)
	case StateClosing:
		t.state = StateTimeWait
		t.armTimeWait(now)
	case StateLastAck:
		t.abort()
	}
}

func (t *TCB) processText(seg *Segment) {
	switch t.state {
	case StateEstablished, StateFinWait1, StateFinWait2:
	default:
		return
	}
	if len(seg.Payload) == 0 {
		return
	}
	delivered := false
	if seg.Seq == t.rcvNXT {
		t.recvBuf = append(t.recvBuf, seg.Payload...)
		t.rcvNXT += uint32(len(seg.Payload))
		delivered = true
		t.mergeOutOfOrder()
	} else if seqGT(seg.Seq, t.rcvNXT) {
		t.storeOutOfOrder(seg.Seq, seg.Payload)
	}
	t.cfg.Send(Segment{Seq: t.sndNXT, Ack: t.rcvNXT, Flags: FlagACK, Window: t.rcvWND})
	if delivered && t.cfg.DataAvailable != nil {
		t.cfg.DataAvailable()
	}
}

// storeOutOfOrder keeps the reassembly queue sorted by sequence number
// and bounded to what rcvWND can hold.
func (t *TCB) storeOutOfOrder(seq uint32, data []byte) {
	if seq-t.rcvNXT+uint32(len(data)) > uint32(t.rcvWND) {
		return // ends beyond the receive window
	}
	for _, o := range t.outOfOrder {
		if o.seq == seq {
			return
		}
	}
	t.outOfOrder = append(t.outOfOrder, ofoSegment{seq: seq, data: append([]byte(nil), data...)})
	for i := len(t.outOfOrder) - 1; i > 0 && seqLT(t.outOfOrder[i].seq, t.outOfOrder[i-1].seq); i-- {
		t.outOfOrder[i], t.outOfOrder[i-1] = t.outOfOrder[i-1], t.outOfOrder[i]
	}
}

// mergeOutOfOrder folds any queued segments that rcvNXT has now caught
// up to into recvBuf, closing holes left by reordering.
func (t *TCB) mergeOutOfOrder() {
	for len(t.outOfOrder) > 0 && t.outOfOrder[0].seq == t.rcvNXT {
		seg := t.outOfOrder[0]
		t.outOfOrder = t.outOfOrder[1:]
		t.recvBuf = append(t.recvBuf, seg.data...)
		t.rcvNXT += uint32(len(seg.data))
	}
}

func (t *TCB) processFIN(seg *Segment) {
	if seg.Flags&FlagFIN == 0 {
		return
	}
	finSeq := seg.Seq + uint32(len(seg.Payload))
	if finSeq != t.rcvNXT {
		return // FIN arrived ahead of a hole; wait for the gap to fill
	}
	now := t.cfg.Now()
	switch t.state {
	case StateTimeWait:
		t.armTimeWait(now)
		return
	case StateCloseWait, StateClosing, StateLastAck:
		return // retransmitted FIN, already processed
	}
	t.rcvNXT++
	t.cfg.Send(Segment{Seq: t.sndNXT, Ack: t.rcvNXT, Flags: FlagACK, Window: t.rcvWND})
	if t.cfg.RemoteClosed != nil {
		t.cfg.RemoteClosed()
	}
	switch t.state {
	case StateEstablished:
		t.state = StateCloseWait
	case StateFinWait1:
		if t.haveSentFIN && seqGT(t.sndUNA, t.finSeq) {
			t.state = StateTimeWait
			t.armTimeWait(now)
		} else {
			t.state = StateClosing
		}
	case StateFinWait2:
		t.state = StateTimeWait
		t.finWait2Deadline = time.Time{}
		t.armTimeWait(now)
	}
}

// negotiateMSS picks the smaller of our SMSS and the peer's MSS option
// (kind 2, RFC 793 §3.1), defaulting to the peer's silence meaning 536.
func negotiateMSS(smss uint16, options []byte) uint16 {
	peer := uint16(defaultMSS)
	for i := 0; i+1 < len(options); {
		kind := options[i]
		switch kind {
		case 0:
			i = len(options)
		case 1:
			i++
		case 2:
			if i+4 <= len(options) {
				peer = uint16(options[i+2])<<8 | uint16(options[i+3])
			}
			i += 4
		default:
			if i+1 >= len(options) {
				i = len(options)
				break
			}
			length := int(options[i+1])
			if length < 2 {
				i = len(options)
				break
			}
			i += length
		}
	}
	if peer < smss {
		return peer
	}
	return smss
}
