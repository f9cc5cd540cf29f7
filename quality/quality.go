// Package quality implements the channel quality monitor (C4): per-channel
// TX/ACK/CRC/RSSI counters, periodic blacklist/recovery decisions, and the
// clear-channel-assessment helper used before a transmit.
package quality

import "github.com/tve/vrlink/hop"

// Tuning constants from §4.4.
const (
	UpdateIntervalMs = 1000
	RecoveryMs       = 30_000
	BlacklistLossPct = 50
	RecoverLossPct   = 25
	CCAThresholdDbm  = -65
	CCASettleUs      = 50
	CCAMaxRetries    = 3
)

// ChannelStats tracks one channel's recent TX/ACK/CRC/RSSI history.
type ChannelStats struct {
	TxCount          uint32
	AckCount         uint32
	CrcErrors        uint32
	RssiSum          int32
	RssiSamples      uint32
	LossRatePct      int
	Blacklisted      bool
	BlacklistTimeMs  uint32
	RecoveryAttempts uint32
}

// lossRatePct returns (tx-ack)*100/tx, or 0 when tx is 0.
func (s *ChannelStats) lossRatePct() int {
	if s.TxCount == 0 {
		return 0
	}
	lost := int(s.TxCount) - int(s.AckCount)
	if lost < 0 {
		lost = 0
	}
	return lost * 100 / int(s.TxCount)
}

// Monitor owns per-channel stats for hop.NumChannels channels and the
// blacklist hop.NextGood consults.
type Monitor struct {
	stats        [hop.NumChannels]ChannelStats
	blacklist    [hop.NumChannels]bool
	lastUpdateMs uint32
}

// New returns a Monitor with all channels clear and zeroed counters.
func New() *Monitor {
	return &Monitor{}
}

// RecordTx bumps ch's transmit counter, recording one attempted send.
func (m *Monitor) RecordTx(ch byte) {
	m.stats[ch].TxCount++
}

// RecordAck bumps ch's ack counter, recording a successful round trip.
func (m *Monitor) RecordAck(ch byte, rssi int8) {
	m.stats[ch].AckCount++
	m.recordRssi(ch, rssi)
}

// RecordCrcError bumps ch's CRC error counter, recording a corrupted
// receive.
func (m *Monitor) RecordCrcError(ch byte) {
	m.stats[ch].CrcErrors++
}

// RecordRx records a successful receive's RSSI without affecting the loss
// ratio (which is TX/ACK based, per §4.4).
func (m *Monitor) RecordRx(ch byte, rssi int8) {
	m.recordRssi(ch, rssi)
}

func (m *Monitor) recordRssi(ch byte, rssi int8) {
	s := &m.stats[ch]
	s.RssiSum += int32(rssi)
	s.RssiSamples++
}

// Blacklist exposes the current blacklist as a slice, for hop.NextGood and
// hop.NextChannels.
func (m *Monitor) Blacklist() []bool { return m.blacklist[:] }

// IsBlacklisted reports whether ch is currently blacklisted.
func (m *Monitor) IsBlacklisted(ch byte) bool { return m.blacklist[ch] }

// Update runs the periodic policy from §4.4: recompute loss rate, apply
// blacklist/recovery hysteresis, then halve all counters. nowMs is the
// caller's monotonic millisecond clock; Update is a no-op (loss rates
// included) if fewer than UpdateIntervalMs have elapsed since the previous
// call with a non-zero lastUpdateMs.
func (m *Monitor) Update(nowMs uint32) {
	if m.lastUpdateMs != 0 && nowMs-m.lastUpdateMs < UpdateIntervalMs {
		return
	}
	m.lastUpdateMs = nowMs

	for ch := range m.stats {
		s := &m.stats[ch]
		s.LossRatePct = s.lossRatePct()

		if !s.Blacklisted {
			if s.LossRatePct > BlacklistLossPct && hop.ActiveCount(m.blacklist[:]) > hop.MinActive {
				s.Blacklisted = true
				m.blacklist[ch] = true
				s.BlacklistTimeMs = nowMs
				s.RecoveryAttempts = 0
			}
		} else {
			elapsed := nowMs - s.BlacklistTimeMs
			if elapsed > RecoveryMs {
				if s.LossRatePct < RecoverLossPct {
					s.Blacklisted = false
					m.blacklist[ch] = false
				} else {
					s.BlacklistTimeMs = nowMs
					s.RecoveryAttempts++
				}
			}
		}

		s.TxCount /= 2
		s.AckCount /= 2
		s.CrcErrors /= 2
		s.RssiSum /= 2
		s.RssiSamples /= 2
	}

	hop.EnforceMinActive(m.blacklist[:])
}

// QualityScore returns 0..100, 100 minus the channel's current loss
// percentage. A blacklisted channel is floored below BlacklistLossPct even
// once its counters have decayed to zero traffic, so the score never climbs
// back above the blacklist threshold while still marked bad.
func (m *Monitor) QualityScore(ch byte) int {
	score := 100 - m.stats[ch].LossRatePct
	if score < 0 {
		score = 0
	}
	if m.blacklist[ch] && score >= BlacklistLossPct {
		score = BlacklistLossPct - 1
	}
	return score
}

// BestChannel returns the non-blacklisted channel with the highest quality
// score, breaking ties toward the lowest channel number.
func (m *Monitor) BestChannel() byte {
	best := byte(0)
	bestScore := -1
	for ch := 0; ch < hop.NumChannels; ch++ {
		if m.blacklist[ch] {
			continue
		}
		if score := m.QualityScore(byte(ch)); score > bestScore {
			bestScore = score
			best = byte(ch)
		}
	}
	return best
}

// WorstChannel returns the channel (blacklisted or not) with the lowest
// quality score, breaking ties toward the lowest channel number.
func (m *Monitor) WorstChannel() byte {
	worst := byte(0)
	worstScore := 101
	for ch := 0; ch < hop.NumChannels; ch++ {
		if score := m.QualityScore(byte(ch)); score < worstScore {
			worstScore = score
			worst = byte(ch)
		}
	}
	return worst
}

// HealthReport summarizes overall link health for diagnostics/telemetry.
type HealthReport struct {
	TotalLossPct int
	WorstChannel byte
	WorstLossPct int
}

// HealthReport aggregates loss across all channels with traffic.
func (m *Monitor) HealthReport() HealthReport {
	var totalTx, totalAck uint32
	worst := m.WorstChannel()
	for ch := range m.stats {
		totalTx += m.stats[ch].TxCount
		totalAck += m.stats[ch].AckCount
	}
	r := HealthReport{WorstChannel: worst, WorstLossPct: m.stats[worst].LossRatePct}
	if totalTx > 0 {
		lost := int(totalTx) - int(totalAck)
		if lost < 0 {
			lost = 0
		}
		r.TotalLossPct = lost * 100 / int(totalTx)
	}
	return r
}

// RssiReader is the minimal slice of phy.Radio that CCA needs: park on a
// channel and sample RSSI. Kept narrow so quality doesn't import phy.
type RssiReader interface {
	SetChannel(ch byte) error
	ReadRSSI() (int8, error)
}

// Sleeper abstracts the ~50µs settle delay so tests can run CCA without
// real time passing.
type Sleeper interface {
	SleepUs(us int)
}

// ClearChannelAssess parks on ch, waits CCASettleUs, and reads RSSI up to
// CCAMaxRetries times, returning true as soon as one reading is at or below
// CCAThresholdDbm (§4.4 CCA).
func ClearChannelAssess(radio RssiReader, sleep Sleeper, ch byte) (clear bool, err error) {
	if err := radio.SetChannel(ch); err != nil {
		return false, err
	}
	for attempt := 0; attempt < CCAMaxRetries; attempt++ {
		sleep.SleepUs(CCASettleUs)
		rssi, err := radio.ReadRSSI()
		if err != nil {
			return false, err
		}
		if int(rssi) <= CCAThresholdDbm {
			return true, nil
		}
	}
	return false, nil
}
