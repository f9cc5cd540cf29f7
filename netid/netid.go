// Package netid defines the identity types shared by tracker and receiver:
// the network key that seeds the hop sequence, the small per-tracker slot id,
// and the factory MAC address used during pairing.
package netid

import "fmt"

// Unpaired is the TrackerID value meaning "no slot assigned".
const Unpaired TrackerID = 0xFF

// MaxTrackers bounds the number of slots a single receiver superframe has
// room for. Changing it does not alter the wire format (§6).
const MaxTrackers = 16

// NetworkKey seeds the hop sequence and is shared between one receiver and
// all of its paired trackers.
type NetworkKey uint32

// TrackerID is a small integer 0..MaxTrackers-1 assigned by the receiver at
// pairing time; Unpaired (0xFF) means no slot has been assigned yet.
type TrackerID byte

// Valid reports whether id names an actual slot (as opposed to Unpaired).
func (id TrackerID) Valid() bool { return id != Unpaired && int(id) < MaxTrackers }

// MacAddress is a 6-byte factory-unique device identifier.
type MacAddress [6]byte

func (m MacAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether m is the zero MAC, used as a not-yet-set sentinel.
func (m MacAddress) IsZero() bool {
	return m == MacAddress{}
}
