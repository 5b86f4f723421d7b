package tcp

import "github.com/nanostack-io/netstack/stackerr"

var errNotConnected = stackerr.New(stackerr.Failure)

// Sequence number comparisons use signed 32-bit wraparound arithmetic
// (RFC 793 §3.3), since sequence space is a 32-bit ring, not a line.
func seqGT(a, b uint32) bool { return int32(a-b) > 0 }
func seqLT(a, b uint32) bool { return int32(a-b) < 0 }
func seqLE(a, b uint32) bool { return int32(a-b) <= 0 }

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
