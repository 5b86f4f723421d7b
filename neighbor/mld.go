package neighbor

import (
	"time"

	"github.com/nanostack-io/netstack/addr"
)

// MLDConfig configures a host-side MLD reporter for one interface
// (spec.md §4.F: "MLD (node): periodically report group memberships; on
// join/leave, emit initial reports (MLDv1 or v2)").
type MLDConfig struct {
	UnsolicitedReportCount    int
	UnsolicitedReportInterval time.Duration
	Now                       func() time.Time
	SendReport                func(group addr.IPv6)
	SendLeave                 func(group addr.IPv6)
}

// NewMLDReporter builds the IPv6 specialization of Reporter.
func NewMLDReporter(cfg MLDConfig) *Reporter[addr.IPv6] {
	return NewReporter(ReporterConfig[addr.IPv6]{
		UnsolicitedReportCount:    cfg.UnsolicitedReportCount,
		UnsolicitedReportInterval: cfg.UnsolicitedReportInterval,
		Now:                       cfg.Now,
		SendReport:                cfg.SendReport,
		SendLeave:                 cfg.SendLeave,
	})
}
