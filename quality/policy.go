package quality

import "github.com/tve/vrlink/hop"

// Policy is the blacklist/CCA on-vs-off design note from §9: the full
// Monitor, or a no-op that always reports every channel clear, selected
// through config instead of a compile-time macro (for constrained builds
// that can't afford the per-channel bookkeeping).
type Policy interface {
	RecordTx(ch byte)
	RecordAck(ch byte, rssi int8)
	RecordCrcError(ch byte)
	RecordRx(ch byte, rssi int8)
	Blacklist() []bool
	IsBlacklisted(ch byte) bool
	Update(nowMs uint32)
	QualityScore(ch byte) int
	BestChannel() byte
	WorstChannel() byte
	HealthReport() HealthReport
}

// Compile-time assertion that *Monitor satisfies Policy.
var _ Policy = (*Monitor)(nil)

// NoopPolicy disables blacklisting and CCA entirely: every channel always
// reports clear and no-op Update does nothing, for builds that can't afford
// the per-channel counters.
type NoopPolicy struct {
	clear [hop.NumChannels]bool
}

func (*NoopPolicy) RecordTx(byte)                {}
func (*NoopPolicy) RecordAck(byte, int8)         {}
func (*NoopPolicy) RecordCrcError(byte)          {}
func (*NoopPolicy) RecordRx(byte, int8)          {}
func (p *NoopPolicy) Blacklist() []bool          { return p.clear[:] }
func (*NoopPolicy) IsBlacklisted(byte) bool      { return false }
func (*NoopPolicy) Update(uint32)                {}
func (*NoopPolicy) QualityScore(byte) int        { return 100 }
func (*NoopPolicy) BestChannel() byte            { return 0 }
func (*NoopPolicy) WorstChannel() byte           { return 0 }
func (*NoopPolicy) HealthReport() HealthReport   { return HealthReport{} }

var _ Policy = (*NoopPolicy)(nil)
