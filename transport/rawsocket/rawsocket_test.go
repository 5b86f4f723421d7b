package rawsocket

import "testing"

func TestDeliverMatchesProtocolAndNIC(t *testing.T) {
	tbl := NewTable()
	icmp := tbl.Open(KindIP, 1, 0, 4)
	tcpOnNIC2 := tbl.Open(KindIP, 6, 2, 4)

	n := tbl.Deliver(KindIP, 1, 1, []byte{0xde, 0xad})
	if n != 1 {
		t.Fatalf("delivered to %d sockets, want 1", n)
	}
	select {
	case <-icmp.Queue:
	default:
		t.Fatalf("expected the ICMP socket to receive the packet")
	}
	select {
	case <-tcpOnNIC2.Queue:
		t.Fatalf("TCP-filtered socket should not have matched")
	default:
	}

	n = tbl.Deliver(KindIP, 6, 1, []byte{1})
	if n != 0 {
		t.Fatalf("expected no delivery: protocol matches but NIC filter (2) doesn't (1), got %d", n)
	}
}

func TestDeliverToLinkSocketIgnoresProtocol(t *testing.T) {
	tbl := NewTable()
	sniffer := tbl.Open(KindLink, 0, 0, 1)
	if n := tbl.Deliver(KindLink, 99, 0, []byte{1, 2, 3}); n != 1 {
		t.Fatalf("delivered to %d sockets, want 1", n)
	}
	<-sniffer.Queue
}

func TestCloseRemovesSocket(t *testing.T) {
	tbl := NewTable()
	s := tbl.Open(KindIP, 17, 0, 1)
	if err := tbl.Close(s); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := tbl.Deliver(KindIP, 17, 0, []byte{1}); n != 0 {
		t.Fatalf("delivered %d packets to a closed socket", n)
	}
	if err := tbl.Close(s); err == nil {
		t.Fatalf("expected error closing an already-closed socket")
	}
}

func TestFullQueueDropsRatherThanBlocks(t *testing.T) {
	tbl := NewTable()
	s := tbl.Open(KindIP, 1, 0, 1)
	tbl.Deliver(KindIP, 1, 0, []byte{1})
	n := tbl.Deliver(KindIP, 1, 0, []byte{2}) // queue already full
	if n != 0 {
		t.Fatalf("expected the second delivery to be dropped, got n=%d", n)
	}
	if got := <-s.Queue; got[0] != 1 {
		t.Fatalf("queue held %v, want the first packet", got)
	}
}
