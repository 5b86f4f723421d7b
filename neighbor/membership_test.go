package neighbor

import (
	"testing"
	"time"

	"github.com/nanostack-io/netstack/addr"
)

func TestReporterJoinSendsInitialReportAndRetransmits(t *testing.T) {
	now := time.Now()
	var reports []addr.IPv4
	r := NewIGMPReporter(IGMPConfig{
		UnsolicitedReportCount:    2,
		UnsolicitedReportInterval: time.Second,
		Now:                       func() time.Time { return now },
		SendReport:                func(g addr.IPv4) { reports = append(reports, g) },
	})
	group := addr.IPv4{224, 0, 0, 251}
	r.Join(group)
	if len(reports) != 1 {
		t.Fatalf("expected immediate report on join, got %d", len(reports))
	}
	if !r.IsMember(group) {
		t.Fatalf("expected group to be joined")
	}

	now = now.Add(time.Second)
	r.Tick()
	if len(reports) != 2 {
		t.Fatalf("expected retransmitted report, got %d", len(reports))
	}

	now = now.Add(time.Second)
	r.Tick()
	if len(reports) != 2 {
		t.Fatalf("expected no further reports once UnsolicitedReportCount is exhausted, got %d", len(reports))
	}
}

func TestReporterJoinIsIdempotent(t *testing.T) {
	now := time.Now()
	count := 0
	r := NewMLDReporter(MLDConfig{
		UnsolicitedReportCount:    1,
		UnsolicitedReportInterval: time.Second,
		Now:                       func() time.Time { return now },
		SendReport:                func(addr.IPv6) { count++ },
	})
	group := addr.IPv6{0xff, 0x02}
	r.Join(group)
	r.Join(group)
	if count != 1 {
		t.Fatalf("expected exactly one report across two Joins, got %d", count)
	}
}

func TestReporterLeaveSendsLeaveAndForgetsGroup(t *testing.T) {
	now := time.Now()
	var left []addr.IPv4
	r := NewIGMPReporter(IGMPConfig{
		UnsolicitedReportCount:    1,
		UnsolicitedReportInterval: time.Second,
		Now:                       func() time.Time { return now },
		SendReport:                func(addr.IPv4) {},
		SendLeave:                 func(g addr.IPv4) { left = append(left, g) },
	})
	group := addr.IPv4{224, 0, 0, 1}
	r.Join(group)
	r.Leave(group)
	if len(left) != 1 || left[0] != group {
		t.Fatalf("expected leave message for %v, got %v", group, left)
	}
	if r.IsMember(group) {
		t.Fatalf("expected group to be forgotten after Leave")
	}
}
