package simdriver

import (
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// buildEchoRequest marshals an ICMPv4 echo request, used by integration
// tests to generate traffic the host kernel will route back to the raw
// socket above (a liveness probe for the driver itself, independent of
// anything the stack under test has sent).
func buildEchoRequest(id, seq int, payload []byte) ([]byte, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: payload,
		},
	}
	return msg.Marshal(nil)
}

// parseEchoReply reports whether raw is an ICMP echo reply matching id,
// and its sequence number.
func parseEchoReply(raw []byte, id int) (seq int, ok bool) {
	msg, err := icmp.ParseMessage(1, raw) // protocol 1 == ICMPv4
	if err != nil || msg.Type != ipv4.ICMPTypeEchoReply {
		return 0, false
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok || echo.ID != id {
		return 0, false
	}
	return echo.Seq, true
}
