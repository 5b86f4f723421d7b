package tcp

import "time"

// State is one node of the RFC 793 §3.2 connection state machine.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST-ACK"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}

// Config supplies a TCB with the tunables of spec.md §6.3's TCP_* family
// and the callbacks it uses to reach the IP layer and the owning socket.
type Config struct {
	SMSS             uint16
	InitialRTO       time.Duration
	MaxRTO           time.Duration
	MaxRetries       int
	MaxProbeInterval time.Duration
	OverrideTimeout  time.Duration
	LossWindowSegs   int
	MSL              time.Duration

	Now  func() time.Time
	ISN  func() uint32
	Send func(seg Segment)

	// DataAvailable is invoked whenever newly in-order data becomes
	// readable via Recv.
	DataAvailable func()
	// RemoteClosed is invoked exactly once, when the peer's FIN is
	// consumed (RCV.NXT advances past it).
	RemoteClosed func()
	// Closed is invoked when the TCB reaches CLOSED from any other
	// state, whether by handshake (graceful close) or abort (RST,
	// retransmit exhaustion, FIN-WAIT-2 idle timeout).
	Closed func()
	// Established is invoked exactly once, the moment the handshake
	// completes (SYN-SENT or SYN-RECEIVED reaching ESTABLISHED), for the
	// socket layer's "connection-established" event (spec.md §4.H).
	Established func()
}

type txSegment struct {
	seq           uint32
	flags         uint8
	data          []byte
	sentAt        time.Time
	retransmitted bool
}

type ofoSegment struct {
	seq  uint32
	data []byte
}

// TCB is one connection's transmission control block (RFC 793 §3.2),
// advanced only by explicit calls from the owning scheduler tick or
// socket call — never by its own goroutine (spec.md §4.G, §4.I).
type TCB struct {
	cfg   Config
	state State

	sndUNA uint32
	sndNXT uint32
	sndWND uint16
	sndWL1 uint32
	sndWL2 uint32
	iss    uint32

	rcvNXT uint32
	rcvWND uint16
	irs    uint32

	mss uint16 // min(cfg.SMSS, peer-advertised MSS)

	cwnd       uint32
	ssthresh   uint32
	recover    uint32
	dupACKs    int
	inRecovery bool

	srtt         time.Duration
	rttvar       time.Duration
	rto          time.Duration
	rttMeasuring bool
	rttSeq       uint32
	rttStart     time.Time

	retransmitCount int
	persistCount    int
	probeInterval   time.Duration

	retransmitDeadline time.Time
	persistDeadline    time.Time
	overrideDeadline   time.Time
	finWait2Deadline   time.Time
	timeWaitDeadline   time.Time

	sendQueue       []byte
	retransmitQueue []txSegment

	recvBuf    []byte
	outOfOrder []ofoSegment

	haveSentFIN bool
	finSeq      uint32

	forceOverride bool
}

const defaultMSS = 536

// NewTCB constructs a TCB in CLOSED state.
func NewTCB(cfg Config) *TCB {
	if cfg.SMSS == 0 {
		cfg.SMSS = defaultMSS
	}
	return &TCB{
		cfg:   cfg,
		state: StateClosed,
		mss:   cfg.SMSS,
		rto:   cfg.InitialRTO,
		cwnd:  uint32(cfg.SMSS),
		// ssthresh starts "arbitrarily high" per RFC 5681 §3.1.
		ssthresh: 1 << 30,
		rcvWND:   65535,
	}
}

func (t *TCB) State() State { return t.state }

// Listen moves a fresh TCB into LISTEN, awaiting an inbound SYN.
func (t *TCB) Listen() {
	t.state = StateListen
}

// Connect performs an active open: choose an ISN, send the initial SYN,
// and move to SYN-SENT.
func (t *TCB) Connect() {
	now := t.cfg.Now()
	t.iss = t.cfg.ISN()
	t.sndUNA = t.iss
	t.sndNXT = t.iss + 1
	t.state = StateSynSent
	t.sendRaw(txSegment{seq: t.iss, flags: FlagSYN, sentAt: now})
	t.armRetransmit(now)
}

// Send queues application data for transmission and pushes as much of it
// as the send window currently allows.
func (t *TCB) Send(data []byte) (int, error) {
	if t.state != StateEstablished && t.state != StateCloseWait {
		return 0, errNotConnected
	}
	t.sendQueue = append(t.sendQueue, data...)
	t.trySend()
	return len(data), nil
}

// Recv drains up to len(p) bytes of in-order received data.
func (t *TCB) Recv(p []byte) int {
	n := copy(p, t.recvBuf)
	t.recvBuf = t.recvBuf[n:]
	return n
}

// Close performs an application-initiated close: send FIN once all
// queued data has drained, per the half of RFC 793's state diagram
// reachable from ESTABLISHED or CLOSE-WAIT.
func (t *TCB) Close() {
	switch t.state {
	case StateEstablished:
		t.sendFIN()
		t.state = StateFinWait1
	case StateCloseWait:
		t.sendFIN()
		t.state = StateLastAck
	case StateSynSent, StateListen:
		t.abort()
	}
}

func (t *TCB) sendFIN() {
	now := t.cfg.Now()
	seg := txSegment{seq: t.sndNXT, flags: FlagFIN, sentAt: now}
	t.haveSentFIN = true
	t.finSeq = t.sndNXT
	t.sndNXT++
	t.retransmitQueue = append(t.retransmitQueue, seg)
	t.cfg.Send(Segment{Seq: seg.seq, Ack: t.rcvNXT, Flags: FlagFIN | FlagACK, Window: t.rcvWND})
	t.armRetransmit(now)
}

// abort forces the connection to CLOSED from any state, notifying the
// owner exactly once.
func (t *TCB) abort() {
	if t.state == StateClosed {
		return
	}
	t.state = StateClosed
	t.clearTimers()
	if t.cfg.Closed != nil {
		t.cfg.Closed()
	}
}

func (t *TCB) clearTimers() {
	var zero time.Time
	t.retransmitDeadline = zero
	t.persistDeadline = zero
	t.overrideDeadline = zero
	t.finWait2Deadline = zero
	t.timeWaitDeadline = zero
}

func (t *TCB) sendRaw(seg txSegment) {
	t.retransmitQueue = append(t.retransmitQueue, seg)
	t.cfg.Send(Segment{Seq: seg.seq, Ack: t.rcvNXT, Flags: seg.flags, Window: t.rcvWND})
}
