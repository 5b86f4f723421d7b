package addr

import "testing"

func TestMACBroadcastAndMulticast(t *testing.T) {
	bcast := MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if !bcast.IsBroadcast() {
		t.Errorf("broadcast MAC not recognised")
	}
	mcast := MAC{0x01, 0x00, 0x5e, 0, 0, 1}
	if !mcast.IsMulticast() {
		t.Errorf("multicast MAC not recognised")
	}
	unicast := MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	if unicast.IsMulticast() || unicast.IsBroadcast() {
		t.Errorf("unicast MAC misclassified")
	}
}

func TestEUI64FromMAC(t *testing.T) {
	m := MAC{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	e := EUI64FromMAC(m)
	want := EUI64{0x00, 0x11, 0x22, 0xff, 0xfe, 0x33, 0x44, 0x55}
	if e != want {
		t.Errorf("EUI64FromMAC(%v) = %v, want %v", m, e, want)
	}
}

func TestIPv4Uint32RoundTrip(t *testing.T) {
	a := IPv4{192, 0, 2, 1}
	if got, want := IPv4FromUint32(a.Uint32()), a; got != want {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}

func TestIPv4Classification(t *testing.T) {
	if !(IPv4{255, 255, 255, 255}).IsBroadcast() {
		t.Errorf("255.255.255.255 not broadcast")
	}
	if !(IPv4{224, 0, 0, 1}).IsMulticast() {
		t.Errorf("224.0.0.1 not multicast")
	}
	if !(IPv4{}).IsUnspecified() {
		t.Errorf("0.0.0.0 not unspecified")
	}
}

func TestSolicitedNodeMulticast(t *testing.T) {
	a := IPv6FromSlice([]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x12, 0x34, 0x56})
	sn := a.SolicitedNodeMulticast()
	want := IPv6{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff, 0x12, 0x34, 0x56}
	if sn != want {
		t.Errorf("SolicitedNodeMulticast() = %v, want %v", sn, want)
	}
}
