// Package hop implements the deterministic frame-to-channel mapping (C3):
// a pure function of frame number and network key, plus blacklist-aware
// selection of the next usable channel.
package hop

// NumChannels is the number of 2 MHz-spaced channels starting at 2402 MHz
// (§6 "set_channel(0..39)").
const NumChannels = 40

// BaseMHz and StepMHz describe the physical channel plan; callers that need
// an actual RF frequency use Frequency.
const (
	BaseMHz = 2402
	StepMHz = 2
)

// MinActive is the minimum number of non-blacklisted channels the hop table
// must retain; the quality monitor's blacklist is relaxed to restore it
// (§4.3).
const MinActive = 3

// maxSkipAttempts bounds how many blacklisted candidates NextGood will step
// past before giving up and returning the blacklisted channel anyway.
const maxSkipAttempts = 10

// Frequency returns the RF frequency in MHz for channel ch.
func Frequency(ch byte) int {
	return BaseMHz + int(ch)*StepMHz
}

// Hop is a pure, deterministic function of frame number and network key. It
// must not multiply by a variable on the hot path (§4.3), so it mixes the
// two inputs with shifts, xors, and one multiply by a compile-time odd
// constant, then folds the result into [0, NumChannels).
//
// Repeated calls with the same (frameNo, key) always return the same
// channel (tested in TestHopIsPure), and the same tracker/receiver pair
// always derives the same sequence since both sides compute Hop locally —
// the channel itself is never sent over the air except inside a beacon's
// NextChannels lookahead.
func Hop(frameNo uint16, key uint32) byte {
	// Splitmix-style mix: cheap, avalanches well enough to not produce long
	// runs on one channel, and the only multiply is against a compile-time
	// odd constant, not against frameNo or key directly.
	x := uint32(frameNo) ^ key
	x ^= x >> 16
	x *= 0x45d9f3b
	x ^= x >> 16
	return byte(x % NumChannels)
}

// IsBlacklisted reports whether ch appears in blacklist.
func IsBlacklisted(ch byte, blacklist []bool) bool {
	return int(ch) < len(blacklist) && blacklist[ch]
}

// NextGood returns the first channel reachable from Hop(frameNo, key) by
// stepping through successive frame numbers that is not blacklisted,
// trying at most maxSkipAttempts candidates before admitting the
// blacklisted result (§4.3). blacklist may be nil or shorter than
// NumChannels; channels past its end are treated as not blacklisted.
func NextGood(frameNo uint16, key uint32, blacklist []bool) byte {
	ch := Hop(frameNo, key)
	if !IsBlacklisted(ch, blacklist) {
		return ch
	}
	candidate := frameNo
	for attempt := 0; attempt < maxSkipAttempts; attempt++ {
		candidate++
		c := Hop(candidate, key)
		if !IsBlacklisted(c, blacklist) {
			return c
		}
	}
	return ch
}

// NextChannels fills out with the next n channels starting at frameNo+1,
// following blacklist-aware selection, for a beacon's lookahead table
// (§6 "Sync beacon ... next_channels [5]").
func NextChannels(frameNo uint16, key uint32, blacklist []bool, out []byte) {
	for i := range out {
		out[i] = NextGood(frameNo+uint16(i)+1, key, blacklist)
	}
}

// ActiveCount returns how many of the NumChannels channels are not
// blacklisted.
func ActiveCount(blacklist []bool) int {
	n := NumChannels
	for _, b := range blacklist {
		if b {
			n--
		}
	}
	return n
}

// EnforceMinActive clears blacklist entries, in ascending channel order,
// until at least MinActive channels remain usable. It returns the number of
// entries cleared. This is the "blacklist is relaxed to restore that
// minimum" rule in §4.3; the quality monitor calls it after blacklisting a
// channel.
func EnforceMinActive(blacklist []bool) int {
	cleared := 0
	for ActiveCount(blacklist) < MinActive {
		relaxedAny := false
		for ch := 0; ch < len(blacklist); ch++ {
			if blacklist[ch] {
				blacklist[ch] = false
				cleared++
				relaxedAny = true
				break
			}
		}
		if !relaxedAny {
			break
		}
	}
	return cleared
}
