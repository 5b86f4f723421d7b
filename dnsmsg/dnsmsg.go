// Package dnsmsg implements the DNS name codec of spec.md §4.J: encode,
// parse, and compare length-prefixed labels with 0xC0 compression-pointer
// support, depth-capped to bound work on a spoofed or malformed message.
// These are the primitives mDNS, DNS-SD, LLMNR, and NBNS responders share;
// the responders themselves are external collaborators (spec.md §1), not
// part of this package.
package dnsmsg

import (
	"strings"

	"github.com/nanostack-io/netstack/stackerr"
)

const (
	// MaxLabelLength is RFC 1035 §3.1's per-label limit.
	MaxLabelLength = 63
	// MaxNameLength is RFC 1035 §3.1's limit on an encoded name's total
	// length (labels + length octets + terminator).
	MaxNameLength = 255
	// DefaultMaxRecursion is DNS_NAME_MAX_RECURSION's default (spec.md
	// §4.J, §6.3): the depth cap on followed compression pointers.
	DefaultMaxRecursion = 4

	pointerFlag = 0xC0
)

// EncodeName appends name (a dotted "host.service.suffix" string, with or
// without a trailing dot) to dst as canonical length-prefixed labels
// terminated by a zero byte (spec.md §4.J encodeName). A root/empty name
// encodes as just the terminator.
func EncodeName(dst []byte, name string) ([]byte, error) {
	start := len(dst)
	name = strings.TrimSuffix(name, ".")
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			if len(label) == 0 {
				return nil, stackerr.Newf(stackerr.InvalidParameter, "dns name %q: empty label", name)
			}
			if len(label) > MaxLabelLength {
				return nil, stackerr.Newf(stackerr.MessageTooLong, "dns name %q: label %q exceeds %d bytes", name, label, MaxLabelLength)
			}
			dst = append(dst, byte(len(label)))
			dst = append(dst, label...)
		}
	}
	dst = append(dst, 0)
	if len(dst)-start > MaxNameLength {
		return nil, stackerr.Newf(stackerr.MessageTooLong, "dns name %q: encoded form exceeds %d bytes", name, MaxNameLength)
	}
	return dst, nil
}

// nextLabel reads one label, or follows a chain of one or more
// compression pointers until it finds a label or the terminator,
// starting at pos in msg and advancing *depth on every pointer followed.
// It is the one place compression-pointer resolution is implemented;
// ParseName, CompareName, and CompareEncodedName are all built on it so
// a malformed or spoofed message is rejected identically by every
// caller. firstJump is the byte offset right after the first pointer
// followed during this call (the boundary of the caller's own inline
// cursor), or -1 if pos itself was a label or the terminator.
func nextLabel(msg []byte, pos int, depth *int, maxRecursion int) (label []byte, next int, end bool, firstJump int, err error) {
	if maxRecursion <= 0 {
		maxRecursion = DefaultMaxRecursion
	}
	firstJump = -1
	for {
		if pos < 0 || pos >= len(msg) {
			return nil, 0, false, firstJump, stackerr.New(stackerr.InvalidPacket)
		}
		b := msg[pos]
		if b&pointerFlag == pointerFlag {
			if *depth >= maxRecursion {
				return nil, 0, false, firstJump, stackerr.Newf(stackerr.InvalidPacket, "dns name: compression recursion exceeds %d", maxRecursion)
			}
			if pos+1 >= len(msg) {
				return nil, 0, false, firstJump, stackerr.New(stackerr.InvalidPacket)
			}
			target := int(b&^pointerFlag)<<8 | int(msg[pos+1])
			if firstJump < 0 {
				firstJump = pos + 2
			}
			pos = target
			*depth++
			continue
		}
		if b == 0 {
			return nil, pos + 1, true, firstJump, nil
		}
		labelLen := int(b)
		if pos+1+labelLen > len(msg) {
			return nil, 0, false, firstJump, stackerr.New(stackerr.InvalidPacket)
		}
		return msg[pos+1 : pos+1+labelLen], pos + 1 + labelLen, false, firstJump, nil
	}
}

// ParseName decodes the name at pos in message, following compression
// pointers up to maxRecursion deep (0 means DefaultMaxRecursion), and
// returns the dotted name plus the number of bytes consumed from pos in
// the message's own linear layout — which stops at the first pointer
// encountered, since everything after a pointer lives elsewhere in the
// message (spec.md §4.J parseName: "→ bytesConsumed").
func ParseName(message []byte, pos int, maxRecursion int) (name string, bytesConsumed int, err error) {
	if maxRecursion <= 0 {
		maxRecursion = DefaultMaxRecursion
	}
	var labels []string
	depth := 0
	cur := pos
	consumed := -1
	for {
		label, next, end, firstJump, err := nextLabel(message, cur, &depth, maxRecursion)
		if err != nil {
			return "", 0, err
		}
		if consumed < 0 {
			if firstJump >= 0 {
				// The first pointer followed anywhere while decoding this
				// name fixes how much of the caller's own cursor it
				// occupies; labels resolved after the jump live elsewhere
				// in the message.
				consumed = firstJump - pos
			} else if end {
				consumed = next - pos
			}
		}
		if end {
			return strings.Join(labels, "."), consumed, nil
		}
		labels = append(labels, string(label))
		cur = next
	}
}

// CompareName reports whether the encoded name at pos in message matches
// candidate, walking message's labels and candidate's dot-separated
// components in parallel rather than fully decoding either side (spec.md
// §4.J compareName).
func CompareName(message []byte, pos int, candidate string, maxRecursion int) (bool, error) {
	remaining := strings.TrimSuffix(candidate, ".")
	depth := 0
	cur := pos
	for {
		label, next, end, _, err := nextLabel(message, cur, &depth, maxRecursion)
		if err != nil {
			return false, err
		}
		if end {
			return remaining == "", nil
		}
		var want string
		if i := strings.IndexByte(remaining, '.'); i >= 0 {
			want, remaining = remaining[:i], remaining[i+1:]
		} else {
			want, remaining = remaining, ""
		}
		if !strings.EqualFold(string(label), want) {
			return false, nil
		}
		cur = next
	}
}

// CompareEncodedName reports whether the encoded names at posA in msgA
// and posB in msgB are equal, walking both in parallel and resolving
// each message's own compression pointers independently (spec.md §4.J
// compareEncodedName).
func CompareEncodedName(msgA []byte, posA int, msgB []byte, posB int, maxRecursion int) (bool, error) {
	depthA, depthB := 0, 0
	curA, curB := posA, posB
	for {
		labelA, nextA, endA, _, err := nextLabel(msgA, curA, &depthA, maxRecursion)
		if err != nil {
			return false, err
		}
		labelB, nextB, endB, _, err := nextLabel(msgB, curB, &depthB, maxRecursion)
		if err != nil {
			return false, err
		}
		if endA != endB {
			return false, nil
		}
		if endA {
			return true, nil
		}
		if !strings.EqualFold(string(labelA), string(labelB)) {
			return false, nil
		}
		curA, curB = nextA, nextB
	}
}

// EncodeNBNSName half-ASCII encodes a 16-byte (space-padded) NetBIOS name
// per RFC 1001 §14.1: each of the name's 32 nibbles is mapped to a letter
// 'A'..'P' ('A' + the nibble value), yielding the 32-character label
// NBNS carries as its single DNS-style label (EncodeName still applies
// the length prefix and terminator around it).
func EncodeNBNSName(name [16]byte) string {
	var b strings.Builder
	b.Grow(32)
	for _, c := range name {
		b.WriteByte('A' + (c >> 4))
		b.WriteByte('A' + (c & 0x0f))
	}
	return b.String()
}

// DecodeNBNSName reverses EncodeNBNSName, rejecting any byte outside the
// 'A'..'P' half-ASCII range.
func DecodeNBNSName(encoded string) ([16]byte, error) {
	var out [16]byte
	if len(encoded) != 32 {
		return out, stackerr.Newf(stackerr.InvalidLength, "nbns name: want 32 encoded characters, got %d", len(encoded))
	}
	for i := 0; i < 16; i++ {
		hi, lo := encoded[2*i], encoded[2*i+1]
		if hi < 'A' || hi > 'P' || lo < 'A' || lo > 'P' {
			return out, stackerr.Newf(stackerr.InvalidParameter, "nbns name: byte %d outside half-ASCII range", i)
		}
		out[i] = (hi-'A')<<4 | (lo - 'A')
	}
	return out, nil
}
