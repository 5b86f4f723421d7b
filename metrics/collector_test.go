package metrics_test

import (
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nanostack-io/netstack/config"
	"github.com/nanostack-io/netstack/metrics"
	"github.com/nanostack-io/netstack/netstack"
)

func newTestStack(t *testing.T) *netstack.Stack {
	t.Helper()
	s, err := netstack.New(config.Default())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func TestCollectorDescribeAndCollectComplete(t *testing.T) {
	s := newTestStack(t)
	c := metrics.New(s)

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)
	var wantDescs int
	for range descs {
		wantDescs++
	}
	if wantDescs == 0 {
		t.Fatal("Describe() sent no descriptors")
	}

	metricsCh := make(chan prometheus.Metric, 16)
	done := make(chan struct{})
	go func() {
		c.Collect(metricsCh)
		close(metricsCh)
		close(done)
	}()
	var got int
	for range metricsCh {
		got++
	}
	<-done
	if got != 0 {
		t.Logf("Collect() emitted %d metrics against a freshly constructed stack", got)
	}
}

func TestCollectorReflectsInterfaceMIB(t *testing.T) {
	s := newTestStack(t)
	reg := s.Registry()
	if reg.Count() == 0 {
		t.Skip("config.Default() provisioned no interfaces")
	}
	ifc, err := reg.Get(0)
	if err != nil {
		t.Fatalf("Get(0) failed: %v", err)
	}
	ifc.MIB.InOctets = 1234
	ifc.MIB.OutOctets = 5678

	c := metrics.New(s)
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()

	var sawIn, sawOut bool
	for m := range ch {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		desc := m.Desc().String()
		switch {
		case strings.Contains(desc, "netstack_if_in_octets_total") && out.GetCounter().GetValue() == 1234:
			sawIn = true
		case strings.Contains(desc, "netstack_if_out_octets_total") && out.GetCounter().GetValue() == 5678:
			sawOut = true
		}
	}
	if !sawIn || !sawOut {
		t.Errorf("Collect() missing expected MIB counters: sawIn=%v sawOut=%v", sawIn, sawOut)
	}
}
