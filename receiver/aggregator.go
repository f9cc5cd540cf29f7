package receiver

import "github.com/tve/vrlink/netid"

// HID report ids (§4.2 "Host USB HID"): byte 0 of every outbound report.
const (
	ReportIDBundle     = 0x01
	ReportIDDeviceInfo = 0x10
	ReportIDStatus     = 0x13

	ReportBytes      = 64
	MaxBundleEntries = 6 // (ReportBytes-2)/bundleEntryBytes, one report id + count byte
	bundleEntryBytes = 10
)

// Command is an inbound HID OUT report's request, byte 0 of the 64-byte
// buffer (§4.9 "ping, reset-state, enter-pairing, exit-pairing,
// enter-bootloader, version").
type Command byte

const (
	CmdPing Command = iota
	CmdResetState
	CmdEnterPairing
	CmdExitPairing
	CmdEnterBootloader
	CmdVersion
)

// BootloaderCallback is invoked when a CmdEnterBootloader report arrives;
// the aggregator has no notion of flash programming itself.
type BootloaderCallback func()

// WriteReportFunc hands a filled 64-byte report buffer to the USB HID IN
// endpoint. ReadReportFunc polls the OUT endpoint without blocking. These
// are the only two points where USB HID detail touches the aggregator
// (§4.9 "no USB HID details leak into the aggregator contract beyond two
// callbacks").
type WriteReportFunc func(payload []byte) error
type ReadReportFunc func() (payload []byte, ok bool)

// Aggregator is the receiver aggregator (C9): single-threaded cooperative
// fan-in from the runtime tracker view to HID reports, plus inbound command
// handling.
type Aggregator struct {
	Registry *Registry
	Engine   *Engine
	Version  [2]byte

	WriteReport WriteReportFunc
	ReadReport  ReadReportFunc
	OnBootloader BootloaderCallback
}

// NewAggregator wires an Aggregator against its registry/engine and the two
// HID endpoint callbacks.
func NewAggregator(reg *Registry, engine *Engine, version [2]byte, write WriteReportFunc, read ReadReportFunc) *Aggregator {
	return &Aggregator{Registry: reg, Engine: engine, Version: version, WriteReport: write, ReadReport: read}
}

// TickBundle runs the every-5ms bundle emission (§4.9): up to
// MaxBundleEntries active, connected entries, oldest-active-window entries
// omitted, as one HID report.
func (a *Aggregator) TickBundle(nowMs uint32, activeWindowMs uint32) error {
	buf := make([]byte, ReportBytes)
	buf[0] = ReportIDBundle
	count := 0
	for id := range a.Registry.Trackers {
		if count >= MaxBundleEntries {
			break
		}
		v := &a.Registry.Trackers[id]
		if !v.Active || !v.Connected || nowMs-v.LastSeenMs >= activeWindowMs {
			continue
		}
		off := 2 + count*bundleEntryBytes
		buf[off] = byte(id)
		status := byte(0)
		if v.Connected {
			status |= 0x01
		}
		buf[off+1] = status
		for i := 0; i < 3; i++ { // w, x, y only; z is dropped from the wire record
			putI16(buf[off+2+2*i:], v.Quat[i])
		}
		buf[off+8] = v.Battery
		buf[off+9] = byte(v.Rssi + 100) // offset so the wire byte stays unsigned
		count++
	}
	buf[1] = byte(count)
	return a.WriteReport(buf)
}

// TickStatus runs the ~5Hz per-tracker status emission (§4.9).
func (a *Aggregator) TickStatus(nowMs uint32) error {
	for id := range a.Registry.Trackers {
		v := &a.Registry.Trackers[id]
		if !v.Active {
			continue
		}
		buf := make([]byte, ReportBytes)
		buf[0] = ReportIDStatus
		buf[1] = byte(id)
		buf[2] = v.Battery
		buf[3] = byte(v.Rssi + 100) // offset so the wire byte stays unsigned
		buf[4] = byte(v.LossRatio)
		buf[5] = v.Flags
		if v.Connected {
			buf[6] = 1
		}
		if err := a.WriteReport(buf); err != nil {
			return err
		}
	}
	return nil
}

// TickDeviceInfo runs the ~1Hz per-tracker device-info emission (§4.9).
func (a *Aggregator) TickDeviceInfo(nowMs uint32) error {
	for id := range a.Registry.Trackers {
		v := &a.Registry.Trackers[id]
		if !v.Active {
			continue
		}
		buf := make([]byte, ReportBytes)
		buf[0] = ReportIDDeviceInfo
		buf[1] = byte(id)
		copy(buf[2:8], v.Mac[:])
		buf[8] = a.Version[0]
		buf[9] = a.Version[1]
		if err := a.WriteReport(buf); err != nil {
			return err
		}
	}
	return nil
}

// PollCommands drains every queued inbound report and dispatches it
// (§4.9). It never blocks.
func (a *Aggregator) PollCommands() {
	for {
		payload, ok := a.ReadReport()
		if !ok {
			return
		}
		a.handleCommand(payload)
	}
}

func (a *Aggregator) handleCommand(payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch Command(payload[0]) {
	case CmdPing:
		a.WriteReport(pingReply())
	case CmdResetState:
		*a.Registry = Registry{}
	case CmdEnterPairing:
		a.Engine.EnterPairing(0)
	case CmdExitPairing:
		a.Engine.ExitPairing()
	case CmdEnterBootloader:
		if a.OnBootloader != nil {
			a.OnBootloader()
		}
	case CmdVersion:
		buf := make([]byte, ReportBytes)
		buf[0] = ReportIDDeviceInfo
		buf[1] = byte(netid.Unpaired)
		buf[8] = a.Version[0]
		buf[9] = a.Version[1]
		a.WriteReport(buf)
	}
}

func pingReply() []byte {
	buf := make([]byte, ReportBytes)
	buf[0] = byte(CmdPing)
	return buf
}

func putI16(b []byte, v int16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
