package ipstack

import (
	"bytes"
	"testing"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
)

func buildAndParseIPv4(t *testing.T, h IPv4Header, payload []byte) (*IPv4Header, []byte) {
	t.Helper()
	buf := buffer.Allocate(len(payload), buffer.MaxHeaderOverhead)
	if _, err := buf.Write(0, payload); err != nil {
		t.Fatalf("Write payload: %v", err)
	}
	h.TotalLength = uint16(h.HeaderLen() + len(payload))
	if err := BuildIPv4(buf, h); err != nil {
		t.Fatalf("BuildIPv4: %v", err)
	}
	got, rest, err := ParseIPv4(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	return got, rest
}

func TestIPv4RoundTrip(t *testing.T) {
	h := IPv4Header{
		TOS:      0,
		ID:       1234,
		TTL:      64,
		Protocol: ProtoUDP,
		Src:      addr.IPv4{192, 168, 1, 1},
		Dst:      addr.IPv4{192, 168, 1, 2},
	}
	payload := []byte("hello")
	got, rest := buildAndParseIPv4(t, h, payload)
	if got.Src != h.Src || got.Dst != h.Dst || got.TTL != h.TTL || got.Protocol != h.Protocol || got.ID != h.ID {
		t.Errorf("header mismatch: got %+v", got)
	}
	if !bytes.Equal(rest, payload) {
		t.Errorf("payload = %q, want %q", rest, payload)
	}
}

func TestIPv4ParseRejectsBadChecksum(t *testing.T) {
	h := IPv4Header{TTL: 64, Protocol: ProtoUDP, Src: addr.IPv4{1, 2, 3, 4}, Dst: addr.IPv4{5, 6, 7, 8}}
	buf := buffer.AllocateDefault(0)
	h.TotalLength = uint16(h.HeaderLen())
	if err := BuildIPv4(buf, h); err != nil {
		t.Fatalf("BuildIPv4: %v", err)
	}
	raw := buf.Bytes()
	raw[1] ^= 0xff // corrupt TOS byte without fixing checksum
	if _, _, err := ParseIPv4(raw); err == nil {
		t.Fatalf("expected checksum validation failure")
	}
}

func TestIPv4ParseRejectsBadVersion(t *testing.T) {
	raw := make([]byte, 20)
	raw[0] = 0x50 // version 5
	if _, _, err := ParseIPv4(raw); err == nil {
		t.Fatalf("expected version validation failure")
	}
}

func TestPseudoHeaderChecksumIPv4Deterministic(t *testing.T) {
	src := addr.IPv4{10, 0, 0, 1}
	dst := addr.IPv4{10, 0, 0, 2}
	a := PseudoHeaderChecksumIPv4(src, dst, ProtoUDP, 8)
	b := PseudoHeaderChecksumIPv4(src, dst, ProtoUDP, 8)
	if a != b {
		t.Errorf("pseudo-header checksum not deterministic: %d != %d", a, b)
	}
	c := PseudoHeaderChecksumIPv4(src, dst, ProtoTCP, 8)
	if a == c {
		t.Errorf("checksum did not vary with protocol")
	}
}
