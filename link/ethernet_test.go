package link

import (
	"bytes"
	"testing"

	"github.com/nanostack-io/netstack/addr"
	"github.com/nanostack-io/netstack/buffer"
)

func TestBuildThenParseRoundTrip(t *testing.T) {
	dst := addr.MAC{1, 2, 3, 4, 5, 6}
	src := addr.MAC{6, 5, 4, 3, 2, 1}
	inner := &VLANTag{TPID: EtherTypeVLAN, PCP: 3, DEI: true, VID: 42}

	buf := buffer.Allocate(4, buffer.MaxHeaderOverhead)
	if _, err := buf.Write(0, []byte{0xaa, 0xbb, 0xcc, 0xdd}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := BuildHeader(buf, dst, src, nil, inner, EtherTypeIPv4); err != nil {
		t.Fatalf("BuildHeader: %v", err)
	}

	f, err := ParseEthernet(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseEthernet: %v", err)
	}
	if f.Dst != dst || f.Src != src {
		t.Errorf("Dst/Src = %v/%v, want %v/%v", f.Dst, f.Src, dst, src)
	}
	if f.EtherType != EtherTypeIPv4 {
		t.Errorf("EtherType = %#04x, want IPv4", f.EtherType)
	}
	if f.InnerTag == nil || f.InnerTag.VID != 42 || f.InnerTag.PCP != 3 || !f.InnerTag.DEI {
		t.Errorf("InnerTag = %+v, want VID=42 PCP=3 DEI=true", f.InnerTag)
	}
	if !bytes.Equal(f.Payload, []byte{0xaa, 0xbb, 0xcc, 0xdd}) {
		t.Errorf("Payload = %v, want [aa bb cc dd]", f.Payload)
	}
}

func TestParseQinQThenDot1Q(t *testing.T) {
	dst := addr.MAC{1, 1, 1, 1, 1, 1}
	src := addr.MAC{2, 2, 2, 2, 2, 2}
	outer := &VLANTag{TPID: EtherTypeQinQ, VID: 100}
	inner := &VLANTag{TPID: EtherTypeVLAN, VID: 200}

	buf := buffer.Allocate(2, buffer.MaxHeaderOverhead)
	buf.Write(0, []byte{0x11, 0x22})
	if err := BuildHeader(buf, dst, src, outer, inner, EtherTypeIPv6); err != nil {
		t.Fatalf("BuildHeader: %v", err)
	}
	f, err := ParseEthernet(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseEthernet: %v", err)
	}
	if f.OuterTag == nil || f.OuterTag.VID != 100 {
		t.Errorf("OuterTag = %+v, want VID=100", f.OuterTag)
	}
	if f.InnerTag == nil || f.InnerTag.VID != 200 {
		t.Errorf("InnerTag = %+v, want VID=200", f.InnerTag)
	}
	if f.EtherType != EtherTypeIPv6 {
		t.Errorf("EtherType = %#04x, want IPv6", f.EtherType)
	}
}

func TestAcceptPolicy(t *testing.T) {
	own := addr.MAC{1, 2, 3, 4, 5, 6}
	ft := NewFilterTable()
	mcast := addr.MAC{0x01, 0x00, 0x5e, 0, 0, 1}
	ft.Add(mcast)

	cases := []struct {
		name   string
		dst    addr.MAC
		policy AcceptPolicy
		want   bool
	}{
		{"own mac", own, AcceptPolicy{}, true},
		{"broadcast", addr.MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, AcceptPolicy{}, true},
		{"filtered multicast", mcast, AcceptPolicy{}, true},
		{"unfiltered multicast", addr.MAC{0x01, 0x00, 0x5e, 0, 0, 2}, AcceptPolicy{}, false},
		{"unfiltered multicast with accept-all", addr.MAC{0x01, 0x00, 0x5e, 0, 0, 2}, AcceptPolicy{AcceptAllMulticast: true}, true},
		{"foreign unicast", addr.MAC{9, 9, 9, 9, 9, 9}, AcceptPolicy{}, false},
		{"foreign unicast promiscuous", addr.MAC{9, 9, 9, 9, 9, 9}, AcceptPolicy{Promiscuous: true}, true},
	}
	for _, tc := range cases {
		if got := Accept(tc.dst, own, ft, tc.policy); got != tc.want {
			t.Errorf("%s: Accept() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilterTableRefcounting(t *testing.T) {
	ft := NewFilterTable()
	mac := addr.MAC{1, 1, 1, 1, 1, 1}
	ft.Add(mac)
	ft.Add(mac)
	if !ft.Contains(mac) {
		t.Fatalf("Contains() = false after two Adds")
	}
	ft.Remove(mac)
	if !ft.Contains(mac) {
		t.Fatalf("Contains() = false after one Remove of two refs")
	}
	ft.Remove(mac)
	if ft.Contains(mac) {
		t.Fatalf("Contains() = true after removing both refs")
	}
}

func TestDispatcherRoutesByEtherType(t *testing.T) {
	var gotIPv4 bool
	d := NewDispatcher(Handlers{
		IPv4: func(nic int, outer, inner *VLANTag, payload []byte) { gotIPv4 = true },
	})
	own := addr.MAC{1, 2, 3, 4, 5, 6}
	buf := buffer.Allocate(1, buffer.MaxHeaderOverhead)
	buf.Write(0, []byte{0x00})
	BuildHeader(buf, own, addr.MAC{9, 9, 9, 9, 9, 9}, nil, nil, EtherTypeIPv4)
	d.HandleFrame(0, own, buf.Bytes())
	if !gotIPv4 {
		t.Errorf("IPv4 handler not invoked")
	}
}

func TestPPPRoundTrip(t *testing.T) {
	payload := []byte{0x7E, 0x01, 0x7D, 0x02, 0x03}
	buf := PPPBuildFrame(PPPProtoIPv4, payload)
	raw := buf.Bytes()
	if raw[0] != pppFlag || raw[len(raw)-1] != pppFlag {
		t.Fatalf("frame not bounded by flag bytes: %x", raw)
	}
	proto, got, err := PPPUnescape(raw[1 : len(raw)-1])
	if err != nil {
		t.Fatalf("PPPUnescape: %v", err)
	}
	if proto != PPPProtoIPv4 {
		t.Errorf("proto = %#04x, want IPv4", proto)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %x, want %x", got, payload)
	}
}
