package ipstack

import (
	"bytes"
	"testing"
	"time"
)

func TestReassemblyInOrderFragments(t *testing.T) {
	now := time.Now()
	tbl := NewReassemblyTable(time.Minute, func() time.Time { return now })
	key := ReassemblyKey{Src: "a", Dst: "b", ID: 1, Protocol: ProtoUDP}

	if _, done := tbl.Insert(key, Fragment{Offset: 0, Data: []byte("0123"), MoreFragments: true}); done {
		t.Fatalf("reassembly complete too early")
	}
	buf, done := tbl.Insert(key, Fragment{Offset: 4, Data: []byte("4567"), MoreFragments: false})
	if !done {
		t.Fatalf("expected reassembly to complete")
	}
	if got := buf.Bytes(); !bytes.Equal(got, []byte("01234567")) {
		t.Errorf("reassembled = %q, want %q", got, "01234567")
	}
}

func TestReassemblyOutOfOrderFragments(t *testing.T) {
	now := time.Now()
	tbl := NewReassemblyTable(time.Minute, func() time.Time { return now })
	key := ReassemblyKey{Src: "a", Dst: "b", ID: 2, Protocol: ProtoUDP}

	// Last fragment arrives first, establishing total length early.
	if _, done := tbl.Insert(key, Fragment{Offset: 8, Data: []byte("89ab"), MoreFragments: false}); done {
		t.Fatalf("reassembly complete too early")
	}
	if _, done := tbl.Insert(key, Fragment{Offset: 4, Data: []byte("4567"), MoreFragments: true}); done {
		t.Fatalf("reassembly complete too early")
	}
	buf, done := tbl.Insert(key, Fragment{Offset: 0, Data: []byte("0123"), MoreFragments: true})
	if !done {
		t.Fatalf("expected reassembly to complete once first fragment fills the last hole")
	}
	if got := buf.Bytes(); !bytes.Equal(got, []byte("0123456789ab")) {
		t.Errorf("reassembled = %q, want %q", got, "0123456789ab")
	}
}

func TestReassemblyThreeWaySplit(t *testing.T) {
	now := time.Now()
	tbl := NewReassemblyTable(time.Minute, func() time.Time { return now })
	key := ReassemblyKey{Src: "a", Dst: "b", ID: 3, Protocol: ProtoUDP}

	// Middle fragment first splits the open hole into a left gap and a
	// right (still-open) gap.
	tbl.Insert(key, Fragment{Offset: 4, Data: []byte("4567"), MoreFragments: true})
	tbl.Insert(key, Fragment{Offset: 0, Data: []byte("0123"), MoreFragments: true})
	buf, done := tbl.Insert(key, Fragment{Offset: 8, Data: []byte("89"), MoreFragments: false})
	if !done {
		t.Fatalf("expected reassembly to complete")
	}
	if got := buf.Bytes(); !bytes.Equal(got, []byte("0123456789")) {
		t.Errorf("reassembled = %q, want %q", got, "0123456789")
	}
}

func TestReassemblyExpiresOnDeadline(t *testing.T) {
	now := time.Now()
	tbl := NewReassemblyTable(10*time.Second, func() time.Time { return now })
	key := ReassemblyKey{Src: "a", Dst: "b", ID: 4, Protocol: ProtoUDP}

	tbl.Insert(key, Fragment{Offset: 0, Data: []byte("0123"), MoreFragments: true})
	if tbl.Pending() != 1 {
		t.Fatalf("expected 1 pending entry")
	}
	now = now.Add(11 * time.Second)
	tbl.Tick()
	if tbl.Pending() != 0 {
		t.Fatalf("expected entry to be freed after its deadline")
	}
}
