package neighbor

import (
	"testing"

	"github.com/nanostack-io/netstack/addr"
)

func TestBuildThenParseSolicitationRoundTrip(t *testing.T) {
	mac := addr.MAC{1, 2, 3, 4, 5, 6}
	sol := Solicitation{
		Target:    addr.IPv6{0xfe, 0x80, 15: 1},
		SourceLLA: &mac,
	}
	buf := BuildSolicitation(sol, 0)
	got, err := ParseSolicitation(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseSolicitation: %v", err)
	}
	if got.Target != sol.Target {
		t.Errorf("Target = %v, want %v", got.Target, sol.Target)
	}
	if got.SourceLLA == nil || *got.SourceLLA != mac {
		t.Errorf("SourceLLA = %v, want %v", got.SourceLLA, mac)
	}
}

func TestBuildSolicitationOmitsSourceLLADuringDAD(t *testing.T) {
	sol := Solicitation{Target: addr.IPv6{0xfe, 0x80, 15: 1}}
	buf := BuildSolicitation(sol, 0)
	if len(buf.Bytes()) != 24 {
		t.Fatalf("len = %d, want 24 (no options)", len(buf.Bytes()))
	}
	got, err := ParseSolicitation(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseSolicitation: %v", err)
	}
	if got.SourceLLA != nil {
		t.Errorf("SourceLLA = %v, want nil", got.SourceLLA)
	}
}

func TestParseSolicitationRejectsWrongType(t *testing.T) {
	b := make([]byte, 24)
	b[0] = ICMPv6TypeNeighborAdvert
	if _, err := ParseSolicitation(b); err == nil {
		t.Fatalf("expected an error parsing a mistyped message")
	}
}

func TestParseSolicitationRejectsShortPacket(t *testing.T) {
	if _, err := ParseSolicitation(make([]byte, 10)); err == nil {
		t.Fatalf("expected an error on a short packet")
	}
}

func TestBuildThenParseAdvertisementRoundTrip(t *testing.T) {
	mac := addr.MAC{6, 5, 4, 3, 2, 1}
	adv := Advertisement{
		Target:    addr.IPv6{0xfe, 0x80, 15: 2},
		Router:    true,
		Solicited: true,
		Override:  true,
		TargetLLA: &mac,
	}
	buf := BuildAdvertisement(adv, 0)
	got, err := ParseAdvertisement(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseAdvertisement: %v", err)
	}
	if got.Target != adv.Target || got.Router != adv.Router || got.Solicited != adv.Solicited || got.Override != adv.Override {
		t.Errorf("got %+v, want %+v", *got, adv)
	}
	if got.TargetLLA == nil || *got.TargetLLA != mac {
		t.Errorf("TargetLLA = %v, want %v", got.TargetLLA, mac)
	}
}

func TestAdvertisementFlagsAreIndependentlyDecoded(t *testing.T) {
	adv := Advertisement{Target: addr.IPv6{0xfe, 0x80, 15: 3}, Solicited: true}
	buf := BuildAdvertisement(adv, 0)
	got, err := ParseAdvertisement(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseAdvertisement: %v", err)
	}
	if got.Router || got.Override {
		t.Errorf("got Router=%v Override=%v, want both false", got.Router, got.Override)
	}
	if !got.Solicited {
		t.Errorf("got Solicited=false, want true")
	}
}

func TestParseAdvertisementRejectsWrongType(t *testing.T) {
	b := make([]byte, 24)
	b[0] = ICMPv6TypeNeighborSolicit
	if _, err := ParseAdvertisement(b); err == nil {
		t.Fatalf("expected an error parsing a mistyped message")
	}
}

func TestFindLLAOptionSkipsUnrelatedOptionsAndStopsOnMalformed(t *testing.T) {
	// An unrelated option (a made-up type 9) precedes the real one.
	b := make([]byte, 16)
	b[0], b[1] = 9, 1
	copy(b[2:8], []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	b[8], b[9] = optTargetLinkLayerAddr, 1
	copy(b[10:16], []byte{1, 2, 3, 4, 5, 6})

	got := findLLAOption(b, optTargetLinkLayerAddr)
	if got == nil || *got != (addr.MAC{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("findLLAOption = %v, want {1 2 3 4 5 6}", got)
	}

	// A zero-length option must not spin forever or panic.
	zero := make([]byte, 16)
	if got := findLLAOption(zero, optTargetLinkLayerAddr); got != nil {
		t.Fatalf("findLLAOption on zero-length option = %v, want nil", got)
	}
}
