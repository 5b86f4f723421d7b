// Package buffer implements the stack's packet buffer (spec.md §3, §4.A):
// an ordered sequence of chunks with a reserved header offset in the first
// chunt so that every protocol layer can prepend its header in place
// instead of copying the payload down a layer each time.
//
// The headroom/offset model is the same shape as a Linux sk_buff (Head /
// Data / Tail / End pointers around one backing allocation) but
// generalised to a *sequence* of such regions, since the stack needs to
// describe scatter-gather buffers handed up from a driver's receive ring
// as well as singly-allocated transmit buffers.
package buffer

import (
	"github.com/nanostack-io/netstack/stackerr"
)

// MaxHeaderOverhead reserves space for the worst-case header stack: a
// tagged Ethernet header, an IPv6 header, and an IPv6 fragment header
// (spec.md §4.A: "offset reserved for maximum header overhead (Ethernet +
// IPv6 + fragment header)").
const MaxHeaderOverhead = 18 /* Ethernet + 802.1Q/ad tag */ + 40 /* IPv6 */ + 8 /* fragment header */

// chunk is one contiguous region backed by a single allocation. off and
// length describe the valid data window within backing; bytes in
// backing[:off] are headroom available to Push, bytes in
// backing[off+length:] are tailroom available to Append-in-place.
type chunk struct {
	backing []byte
	off     int
	length  int
}

func (c *chunk) bytes() []byte { return c.backing[c.off : c.off+c.length] }

// Buffer is the stack's packet buffer: an ordered list of chunks with a
// single logical owner at any time (spec.md §3: "A buffer has exactly one
// owner at any time").
type Buffer struct {
	chunks []chunk
}

// Allocate reserves a buffer of length payload bytes with headroom bytes
// of header space ahead of it, matching spec.md §4.A's
// "allocate(length) -> buffer with offset reserved for maximum header
// overhead".
func Allocate(length, headroom int) *Buffer {
	if headroom < 0 {
		headroom = 0
	}
	backing := make([]byte, headroom+length)
	return &Buffer{chunks: []chunk{{backing: backing, off: headroom, length: length}}}
}

// AllocateDefault allocates length payload bytes behind MaxHeaderOverhead
// bytes of headroom, the common case for an outbound application buffer.
func AllocateDefault(length int) *Buffer {
	return Allocate(length, MaxHeaderOverhead)
}

// FromBytes wraps an existing slice as a single-chunk, zero-headroom
// buffer — used for driver receive queues, which hand over bytes with no
// prefix reserved.
func FromBytes(b []byte) *Buffer {
	return &Buffer{chunks: []chunk{{backing: b, off: 0, length: len(b)}}}
}

// Length returns the buffer's total length, the sum of every chunk's
// length (spec.md §3: "total length = sum chunk.length").
func (b *Buffer) Length() int {
	n := 0
	for _, c := range b.chunks {
		n += c.length
	}
	return n
}

// SetLength truncates or extends the buffer's logical length by adjusting
// the final chunk (extension requires tailroom; see Append for growth
// beyond the last chunk's backing array).
func (b *Buffer) SetLength(n int) error {
	if n < 0 {
		return stackerr.New(stackerr.InvalidLength)
	}
	cur := b.Length()
	if n == cur {
		return nil
	}
	if n < cur {
		// Trim from the tail, chunk by chunk.
		excess := cur - n
		for i := len(b.chunks) - 1; i >= 0 && excess > 0; i-- {
			c := &b.chunks[i]
			trim := excess
			if trim > c.length {
				trim = c.length
			}
			c.length -= trim
			excess -= trim
		}
		return nil
	}
	// Growing: only legal if the last chunk has tailroom.
	grow := n - cur
	last := &b.chunks[len(b.chunks)-1]
	room := len(last.backing) - (last.off + last.length)
	if room < grow {
		return stackerr.New(stackerr.InvalidLength)
	}
	last.length += grow
	return nil
}

// Push reserves n bytes of headroom ahead of the first chunk's current
// data and returns that region for the caller to write a header into.
// Layers "decrement an offset rather than copying" (spec.md §4.A).
func (b *Buffer) Push(n int) ([]byte, error) {
	if len(b.chunks) == 0 {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	first := &b.chunks[0]
	if first.off < n {
		return nil, stackerr.Newf(stackerr.OutOfResources, "push %d: only %d bytes headroom", n, first.off)
	}
	first.off -= n
	first.length += n
	return first.backing[first.off : first.off+n], nil
}

// Pop consumes n bytes from the front of the first chunk, the RX-side
// mirror of Push used as each layer strips its own header.
func (b *Buffer) Pop(n int) ([]byte, error) {
	if len(b.chunks) == 0 {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	first := &b.chunks[0]
	if first.length < n {
		return nil, stackerr.New(stackerr.InvalidLength)
	}
	hdr := first.backing[first.off : first.off+n]
	first.off += n
	first.length -= n
	return hdr, nil
}

// Append adds a further chunk of payload, used to describe scatter-gather
// data (e.g. reassembled fragments, or a driver's multi-descriptor
// receive ring) without copying it into one contiguous allocation.
func (b *Buffer) Append(data []byte) {
	b.chunks = append(b.chunks, chunk{backing: data, off: 0, length: len(data)})
}

// Read copies length bytes starting at logical offset into dst.
func (b *Buffer) Read(offset, length int, dst []byte) (int, error) {
	if length > len(dst) {
		length = len(dst)
	}
	return b.forEachRange(offset, length, func(src []byte, dstOff int) {
		copy(dst[dstOff:], src)
	})
}

// Write copies src into the buffer starting at logical offset. The
// region [offset, offset+len(src)) must already exist (via Allocate,
// Push, or SetLength) — Write never grows the buffer.
func (b *Buffer) Write(offset int, src []byte) (int, error) {
	return b.forEachRange(offset, len(src), func(dst []byte, srcOff int) {
		copy(dst, src[srcOff:srcOff+len(dst)])
	})
}

// forEachRange walks the chunk list, invoking fn(window, relOff) for each
// contiguous sub-slice of the logical [offset, offset+length) range that
// falls within one chunk. window aliases the backing chunk storage so
// callers can read from or write into it directly.
func (b *Buffer) forEachRange(offset, length int, fn func(window []byte, relOff int)) (int, error) {
	if offset < 0 || length < 0 {
		return 0, stackerr.New(stackerr.InvalidParameter)
	}
	remainingSkip := offset
	remainingLen := length
	copied := 0
	for _, c := range b.chunks {
		if remainingLen == 0 {
			break
		}
		if remainingSkip >= c.length {
			remainingSkip -= c.length
			continue
		}
		start := remainingSkip
		avail := c.length - start
		n := avail
		if n > remainingLen {
			n = remainingLen
		}
		fn(c.bytes()[start:start+n], copied)
		copied += n
		remainingLen -= n
		remainingSkip = 0
	}
	if copied < length {
		return copied, stackerr.New(stackerr.InvalidLength)
	}
	return copied, nil
}

// Bytes linearises the buffer into one contiguous slice. Used at the
// driver boundary, which only knows how to transmit a flat byte range.
func (b *Buffer) Bytes() []byte {
	n := b.Length()
	out := make([]byte, n)
	_, _ = b.Read(0, n, out)
	return out
}

// Clone returns a deep copy; used when a packet must be queued (e.g. ARP
// pending-packet, fragment reassembly) beyond the lifetime of the
// caller's own buffer ownership.
func (b *Buffer) Clone() *Buffer {
	return FromBytes(append([]byte(nil), b.Bytes()...))
}
