// Command netstack-metrics serves the Prometheus MIB/socket exporter for
// a running Stack (spec.md §11, grounded on runZeroInc-conniver's
// exporter package). It provisions a loopback-only stack purely to give
// the exporter something to scrape; a real embedder wires metrics.New
// against its own already-running Stack instead of constructing one
// here.
package main

import (
	"flag"
	"net/http"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nanostack-io/netstack/config"
	"github.com/nanostack-io/netstack/metrics"
	"github.com/nanostack-io/netstack/netstack"
)

func main() {
	addr := flag.String("addr", ":9273", "address to serve /metrics on")
	flag.Parse()

	stack, err := netstack.New(config.Default())
	if err != nil {
		glog.Exitf("netstack.New: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.New(stack))

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	glog.Infof("serving netstack metrics on %s/metrics", *addr)
	glog.Exit(http.ListenAndServe(*addr, nil))
}
