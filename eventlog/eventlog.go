// Package eventlog implements the fixed-capacity event ring (§3 "Event/log
// ring"); the single-record crash snapshot lives in the storage package.
// The ring is adapted from the teacher's rfm69 debug buffer
// (dbgPush/dbgPrint), generalized from a plain slice of strings to a
// fixed-capacity ring of typed, timestamped, varint-packed events so it can
// live on a memory-constrained tracker.
package eventlog

import (
	"sync"

	"github.com/tve/vrlink/varint"
)

// Kind identifies what an event ring entry records.
type Kind byte

const (
	KindSyncLost Kind = iota
	KindResync
	KindChannelSwitch
	KindFullScan
	KindDeepSearch
	KindSlotOverrun
	KindAbort
	KindFusionReset
	KindBlacklist
	KindUnblacklist
	KindPaired
	KindUnpaired
	KindConnect
	KindDisconnect
	KindError
)

func (k Kind) String() string {
	names := [...]string{
		"sync-lost", "resync", "channel-switch", "full-scan", "deep-search",
		"slot-overrun", "abort", "fusion-reset", "blacklist", "unblacklist",
		"paired", "unpaired", "connect", "disconnect", "error",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// payloadCap is the number of bytes of varint-packed values an Entry carries.
const payloadCap = 8

// Entry is one record in the ring.
type Entry struct {
	TimestampMs uint32
	Kind        Kind
	Payload     [payloadCap]byte
	PayloadLen  byte
}

// Values unpacks the varint-encoded integers stored in the entry's payload.
func (e Entry) Values() []int {
	return varint.Decode(e.Payload[:e.PayloadLen])
}

// Ring is a fixed-capacity, oldest-discarded event ring. The zero value is
// not usable; construct with NewRing.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int // index the next Push will write to
	count   int // number of valid entries, saturates at len(entries)
}

// NewRing returns a ring that holds at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 50
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Push records an event, discarding the oldest entry if the ring is full.
// values is packed with varint; if the packed form exceeds payloadCap
// bytes, the entry is stored with no values at all rather than a partial
// payload.
func (r *Ring) Push(timestampMs uint32, kind Kind, values ...int) {
	packed := varint.Encode(values)
	if len(packed) > payloadCap {
		packed = nil // drop rather than store a truncated, unparsable payload
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := Entry{TimestampMs: timestampMs, Kind: kind, PayloadLen: byte(len(packed))}
	copy(e.Payload[:], packed)
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// Snapshot returns the ring's entries in oldest-to-newest order.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(start+i)%len(r.entries)]
	}
	return out
}

// Len reports how many entries are currently stored.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
