package neighbor

import (
	"time"

	"github.com/nanostack-io/netstack/addr"
)

// IGMPConfig configures a host-side IGMP reporter for one interface
// (spec.md §4.F: "IGMP (host): analogous" to MLD).
type IGMPConfig struct {
	UnsolicitedReportCount    int
	UnsolicitedReportInterval time.Duration
	Now                       func() time.Time
	SendReport                func(group addr.IPv4)
	SendLeave                 func(group addr.IPv4)
}

// NewIGMPReporter builds the IPv4 specialization of Reporter.
func NewIGMPReporter(cfg IGMPConfig) *Reporter[addr.IPv4] {
	return NewReporter(ReporterConfig[addr.IPv4]{
		UnsolicitedReportCount:    cfg.UnsolicitedReportCount,
		UnsolicitedReportInterval: cfg.UnsolicitedReportInterval,
		Now:                       cfg.Now,
		SendReport:                cfg.SendReport,
		SendLeave:                 cfg.SendLeave,
	})
}
