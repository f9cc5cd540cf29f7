// Package receiver implements the receiver-side TDMA engine (C7) and HID
// aggregator (C9): it drives the superframe timer, assigns and tracks
// tracker slots, and fans incoming DATA frames into periodic HID reports.
package receiver

import (
	"github.com/tve/vrlink/netid"
)

// State is the receiver TDMA engine's state machine (§4.7).
type State byte

const (
	StateInit State = iota
	StateIdle
	StateRunning
	StatePairing
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePairing:
		return "PAIRING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SuperframeState is the receiver's per-superframe timing struct (§3
// "Superframe state"); the tracker keeps the same fields in tracker.Context.
type SuperframeState struct {
	FrameNumber     uint16
	SuperframeStart uint64 // µs
	CurrentChannel  byte
	HopMap          [5]byte
}

// TrackerView is the receiver's per-tracker runtime record (§3 "Runtime
// tracker view"). The aggregator exclusively owns this slice; the engine
// mutates it only through the methods below.
type TrackerView struct {
	Active     bool // slot assigned, whether or not currently connected
	Mac        netid.MacAddress
	Connected  bool
	LastSeq    byte
	LastSeenMs uint32
	Rssi       int8
	Battery    byte
	Flags      byte
	Quat       [4]int16
	AccelMg    [3]int16
	LossRatio  int // 0..100, moving average over the last 8 frames

	lossHistory [8]int
	lossIdx     int
	lossFilled  int
}

// recordLoss folds one frame into the 8-sample loss window: the sample is
// 100 if any frames were lost before it and 0 otherwise, and LossRatio is
// the plain mean of the samples held (a fixed-window moving average, not an
// exponentially weighted one).
func (v *TrackerView) recordLoss(lostThisFrame int) {
	sample := 0
	if lostThisFrame > 0 {
		sample = 100
	}
	v.lossHistory[v.lossIdx] = sample
	v.lossIdx = (v.lossIdx + 1) % len(v.lossHistory)
	if v.lossFilled < len(v.lossHistory) {
		v.lossFilled++
	}
	sum := 0
	for i := 0; i < v.lossFilled; i++ {
		sum += v.lossHistory[i]
	}
	v.LossRatio = sum / v.lossFilled
}

// IsConnected reports the derived connect flag (§3): heard recently and
// still holding a slot.
func (v *TrackerView) IsConnected(nowMs uint32, timeoutMs uint32) bool {
	return v.Active && nowMs-v.LastSeenMs < timeoutMs
}

// Registry is the fixed-size table of tracker slots a single receiver
// superframe has room for (§3 "Ownership in design terms": the aggregator
// exclusively owns the runtime tracker view).
type Registry struct {
	Trackers [netid.MaxTrackers]TrackerView
}

// ActiveMask returns the 16-bit bitmap of slots currently assigned, for the
// next sync beacon (§4.6 step1/§6 "active_mask").
func (r *Registry) ActiveMask() uint16 {
	var mask uint16
	for id, t := range r.Trackers {
		if t.Active {
			mask |= 1 << uint(id)
		}
	}
	return mask
}

// FreeSlot returns the lowest unassigned tracker id, or (netid.Unpaired,
// false) if every slot is taken.
func (r *Registry) FreeSlot() (netid.TrackerID, bool) {
	for id := range r.Trackers {
		if !r.Trackers[id].Active {
			return netid.TrackerID(id), true
		}
	}
	return netid.Unpaired, false
}

// SlotForMac returns the slot already assigned to mac, if any (§4.7
// "find free slot or matching MAC slot").
func (r *Registry) SlotForMac(mac netid.MacAddress) (netid.TrackerID, bool) {
	for id := range r.Trackers {
		if r.Trackers[id].Active && r.Trackers[id].Mac == mac {
			return netid.TrackerID(id), true
		}
	}
	return netid.Unpaired, false
}
