// Package config holds the configurable constants of spec.md §6.3 and the
// validation policy applied to them at initStack time (spec.md §7:
// "Configuration errors at init abort the affected operation").
package config

import (
	"time"

	"github.com/nanostack-io/netstack/stackerr"
)

// Settings collects every recognised option from spec.md §6.3. All
// durations are in the host's monotonic time scale; NET_TICK_INTERVAL and
// friends are expressed as time.Duration rather than raw millisecond
// integers, which is the Go-idiomatic rendering of the same constants.
type Settings struct {
	// NET_INTERFACE_COUNT (>= 1).
	InterfaceCount int
	// NET_RTOS_SUPPORT.
	RTOSSupport bool
	// NET_TICK_INTERVAL (>= 10ms, default 100ms).
	TickInterval time.Duration
	// NET_MAX_LINK_CHANGE_CALLBACKS.
	MaxLinkChangeCallbacks int
	// NET_MAX_TIMER_CALLBACKS.
	MaxTimerCallbacks int
	// NET_MAX_IF_NAME_LEN.
	MaxIfNameLen int
	// NET_MAX_HOSTNAME_LEN.
	MaxHostnameLen int
	// NET_RAND_SEED_SIZE (>= 10 bytes).
	RandSeedSize int

	// TCP tunables.
	TCPInitialRTO        time.Duration
	TCPMaxRTO            time.Duration
	TCPMaxRetries        int
	TCPMaxProbeInterval  time.Duration
	TCPOverrideTimeout   time.Duration
	TCPLossWindowSegs    int
	TCPMSL               time.Duration
	IPv4FragmentTimeout  time.Duration
	IPv6FragmentTimeout  time.Duration
	ARPMaxRetries        int
	ARPReachableTimeout  time.Duration
	ARPStaleRetryBackoff time.Duration

	// Per-sub-protocol tick intervals (spec.md §4.I exhaustive list).
	TickIntervals TickIntervals
}

// TickIntervals holds the per-sub-protocol period used by the scheduler's
// accumulator-based dispatch (spec.md §4.I).
type TickIntervals struct {
	NIC     time.Duration
	PPP     time.Duration
	ARP     time.Duration
	IPv4Frag time.Duration
	IGMP    time.Duration
	AutoIP  time.Duration
	DHCPClient time.Duration
	DHCPServer time.Duration
	NAT     time.Duration
	IPv6Frag time.Duration
	MLD     time.Duration
	NDP     time.Duration
	RA      time.Duration
	DHCPv6Client time.Duration
	TCP     time.Duration
	DNSCache time.Duration
	MDNS    time.Duration
	DNSSD   time.Duration
}

// Default returns the stack's default Settings, matching the defaults
// spelled out in spec.md §6.3.
func Default() Settings {
	return Settings{
		InterfaceCount:         4,
		RTOSSupport:            true,
		TickInterval:           100 * time.Millisecond,
		MaxLinkChangeCallbacks: 8,
		MaxTimerCallbacks:      16,
		MaxIfNameLen:           8,
		MaxHostnameLen:         24,
		RandSeedSize:           16,

		TCPInitialRTO:        1 * time.Second,
		TCPMaxRTO:            60 * time.Second,
		TCPMaxRetries:        5,
		TCPMaxProbeInterval:  60 * time.Second,
		TCPOverrideTimeout:   50 * time.Millisecond,
		TCPLossWindowSegs:    3,
		TCPMSL:               2 * time.Minute,
		IPv4FragmentTimeout:  30 * time.Second,
		IPv6FragmentTimeout:  60 * time.Second,
		ARPMaxRetries:        3,
		ARPReachableTimeout:  20 * time.Second,
		ARPStaleRetryBackoff: 1 * time.Second,

		TickIntervals: TickIntervals{
			NIC:          100 * time.Millisecond,
			PPP:          500 * time.Millisecond,
			ARP:          1 * time.Second,
			IPv4Frag:     1 * time.Second,
			IGMP:         1 * time.Second,
			AutoIP:       200 * time.Millisecond,
			DHCPClient:   200 * time.Millisecond,
			DHCPServer:   200 * time.Millisecond,
			NAT:          1 * time.Second,
			IPv6Frag:     1 * time.Second,
			MLD:          1 * time.Second,
			NDP:          1 * time.Second,
			RA:           1 * time.Second,
			DHCPv6Client: 200 * time.Millisecond,
			TCP:          100 * time.Millisecond,
			DNSCache:     1 * time.Second,
			MDNS:         1 * time.Second,
			DNSSD:        1 * time.Second,
		},
	}
}

// Validate checks the boundary conditions from spec.md §6.3 and §8
// ("VID 0xFFF rejected", "NET_TICK_INTERVAL >= 10ms", ...) that apply to
// Settings themselves (VLAN VID validity is per-call, not per-Settings,
// and lives in the iface package).
func (s Settings) Validate() error {
	if s.InterfaceCount < 1 {
		return stackerr.Newf(stackerr.InvalidParameter, "InterfaceCount must be >= 1, got %d", s.InterfaceCount)
	}
	if s.TickInterval < 10*time.Millisecond {
		return stackerr.Newf(stackerr.InvalidParameter, "TickInterval must be >= 10ms, got %s", s.TickInterval)
	}
	if s.RandSeedSize < 10 {
		return stackerr.Newf(stackerr.InvalidParameter, "RandSeedSize must be >= 10, got %d", s.RandSeedSize)
	}
	if s.MaxIfNameLen < 1 || s.MaxIfNameLen > 64 {
		return stackerr.Newf(stackerr.InvalidParameter, "MaxIfNameLen out of range: %d", s.MaxIfNameLen)
	}
	if s.MaxHostnameLen < 1 || s.MaxHostnameLen > 255 {
		return stackerr.Newf(stackerr.InvalidParameter, "MaxHostnameLen out of range: %d", s.MaxHostnameLen)
	}
	if s.TCPMaxRetries < 1 {
		return stackerr.Newf(stackerr.InvalidParameter, "TCPMaxRetries must be >= 1, got %d", s.TCPMaxRetries)
	}
	if s.ARPMaxRetries < 1 {
		return stackerr.Newf(stackerr.InvalidParameter, "ARPMaxRetries must be >= 1, got %d", s.ARPMaxRetries)
	}
	return nil
}
