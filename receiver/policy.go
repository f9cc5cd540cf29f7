package receiver

import "github.com/tve/vrlink/netid"

const earlyStreakLimit = 10

// TimingPolicy is the receiver-side half of §9's slot-optimizer design note:
// it lets the superframe scheduler shrink a tracker's RX slot width below
// baseUs once that tracker has been transmitting with margin to spare,
// selected through config instead of a compile-time macro.
type TimingPolicy interface {
	SlotDuration(id netid.TrackerID, baseUs uint32) uint32
	NoteSlotOutcome(id netid.TrackerID, early bool)
}

// DefaultTimingPolicy always returns the configured slot width unchanged.
type DefaultTimingPolicy struct{}

func (DefaultTimingPolicy) SlotDuration(id netid.TrackerID, baseUs uint32) uint32 { return baseUs }
func (DefaultTimingPolicy) NoteSlotOutcome(netid.TrackerID, bool)                 {}

// ShrinkingTimingPolicy tracks an early-completion streak per tracker slot
// and shrinks that slot's width toward FloorUs once the streak passes
// earlyStreakLimit, mirroring tracker.ShrinkingTimingPolicy's shape on the
// receiver side of the same superframe.
type ShrinkingTimingPolicy struct {
	FloorUs uint32

	streaks [netid.MaxTrackers]int
}

func (p *ShrinkingTimingPolicy) SlotDuration(id netid.TrackerID, baseUs uint32) uint32 {
	if !id.Valid() {
		return baseUs
	}
	if p.streaks[id] > earlyStreakLimit && baseUs > p.FloorUs {
		return baseUs - (baseUs-p.FloorUs)/2
	}
	return baseUs
}

func (p *ShrinkingTimingPolicy) NoteSlotOutcome(id netid.TrackerID, early bool) {
	if !id.Valid() {
		return
	}
	if early {
		p.streaks[id]++
	} else {
		p.streaks[id] = 0
	}
}
