package ipstack

import (
	"time"

	"github.com/nanostack-io/netstack/buffer"
)

// maxDatagramLen bounds the accumulation buffer allocated per reassembly
// entry; 65535 covers the largest possible IPv4 total-length field and
// the largest IPv6 fragmentable datagram addressed by a 16-bit payload
// length.
const maxDatagramLen = 65535

// infinity marks a hole whose upper bound is not yet known because the
// final (more-fragments=0) fragment has not arrived (spec.md §4.E: "On
// more-fragments=0 for the highest-offset fragment the total length
// becomes known").
const infinity = 1 << 30

// hole is one still-missing byte range [first, last] in the
// reassembled datagram, per the classic RFC 815 fragment reassembly
// algorithm.
type hole struct{ first, last int }

// ReassemblyKey identifies one in-flight datagram (spec.md §4.E: "a
// per-interface table of reassembly entries keyed by (src, dst, id,
// protocol)"). Src/Dst are raw address bytes so the same table shape
// serves IPv4 (4 bytes, 16-bit id) and IPv6 (16 bytes, 32-bit id).
type ReassemblyKey struct {
	Src, Dst string // raw address bytes, used as a map key
	ID       uint32
	Protocol uint8
}

// Fragment is one arriving fragment's offset/data/more-fragments state,
// address-family agnostic.
type Fragment struct {
	Offset        int // byte offset of Data within the reassembled datagram
	Data          []byte
	MoreFragments bool
}

type reassemblyEntry struct {
	holes      []hole
	buf        *buffer.Buffer
	total      int // -1 until the final fragment sets it
	deadline   time.Time
}

// ReassemblyTable holds one interface's in-flight fragmented datagrams
// (spec.md §4.E). The reassembly deadline is absolute, set on the first
// fragment seen for a key; on expiry the entry is freed without ever
// being delivered.
type ReassemblyTable struct {
	entries map[ReassemblyKey]*reassemblyEntry
	timeout time.Duration
	now     func() time.Time
}

func NewReassemblyTable(timeout time.Duration, now func() time.Time) *ReassemblyTable {
	if now == nil {
		now = time.Now
	}
	return &ReassemblyTable{entries: make(map[ReassemblyKey]*reassemblyEntry), timeout: timeout, now: now}
}

// Insert processes one arriving fragment. It returns the reassembled
// datagram and true once every hole has been filled; otherwise it
// returns (nil, false) and the fragment has been absorbed into the
// entry's accumulation buffer.
func (t *ReassemblyTable) Insert(key ReassemblyKey, frag Fragment) (*buffer.Buffer, bool) {
	e, ok := t.entries[key]
	if !ok {
		e = &reassemblyEntry{
			holes:    []hole{{first: 0, last: infinity}},
			buf:      buffer.Allocate(maxDatagramLen, 0),
			total:    -1,
			deadline: t.now().Add(t.timeout),
		}
		t.entries[key] = e
	}

	first := frag.Offset
	last := frag.Offset + len(frag.Data) - 1

	var remaining []hole
	for _, h := range e.holes {
		if first > h.last || last < h.first {
			remaining = append(remaining, h)
			continue
		}
		if first > h.first {
			remaining = append(remaining, hole{first: h.first, last: first - 1})
		}
		if last < h.last && frag.MoreFragments {
			remaining = append(remaining, hole{first: last + 1, last: h.last})
		}
	}
	e.holes = remaining

	e.buf.Write(frag.Offset, frag.Data)

	if !frag.MoreFragments {
		e.total = frag.Offset + len(frag.Data)
	}

	if e.total == -1 || len(e.holes) != 0 {
		return nil, false
	}

	delete(t.entries, key)
	e.buf.SetLength(e.total)
	return e.buf, true
}

// Tick frees every entry whose absolute reassembly deadline has passed
// (spec.md §4.E: "on expiry the entry is freed").
func (t *ReassemblyTable) Tick() {
	now := t.now()
	for key, e := range t.entries {
		if !now.Before(e.deadline) {
			delete(t.entries, key)
		}
	}
}

// Pending reports how many datagrams are currently being reassembled,
// for MIB/metrics exposition.
func (t *ReassemblyTable) Pending() int { return len(t.entries) }
