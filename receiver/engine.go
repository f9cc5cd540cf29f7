package receiver

import (
	"errors"

	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/hop"
	"github.com/tve/vrlink/netid"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/phy"
	"github.com/tve/vrlink/quality"
)

// Timing constants from §4.2/§6.
const (
	SuperframeUs     = 5000
	SlotUs           = 400
	GuardUs          = 100
	TrackerTimeoutMs = 2_000
	PairingTimeoutMs = 30_000
	PairingBeaconMs  = 100
	PairingChannel   = hop.NumChannels - 1
)

// ErrPairingNotFound is returned by HandlePairConfirm when the PAIR_CONFIRM
// names an invalid tracker id. The confirm's MAC is not checked against the
// PAIR_RESPONSEs sent earlier.
var ErrPairingNotFound = errors.New("receiver: pairing not found")

// LogPrintf matches the teacher's logging seam (sx1231.LogPrintf).
type LogPrintf func(format string, v ...interface{})

// DataCallback is invoked on every successfully decoded DATA frame.
type DataCallback func(id netid.TrackerID, view TrackerView)

// ConnectCallback is invoked on a connected/disconnected rising edge.
type ConnectCallback func(id netid.TrackerID, connected bool)

// Engine is the receiver TDMA engine (C7): it drives the superframe tick,
// handles inbound frames, and owns the Registry the aggregator reads.
type Engine struct {
	Radio     phy.Radio
	Monitor   quality.Policy
	Registry  *Registry
	Events    *eventlog.Ring
	Timing    TimingPolicy
	Log       LogPrintf
	NetworkKey netid.NetworkKey

	State    State
	Super    SuperframeState
	pairingSince uint32

	OnData    DataCallback
	OnConnect ConnectCallback
}

// NewEngine wires an Engine against its collaborators. timing may be nil,
// in which case DefaultTimingPolicy is used.
func NewEngine(radio phy.Radio, monitor quality.Policy, reg *Registry, events *eventlog.Ring, timing TimingPolicy, logger LogPrintf) *Engine {
	if timing == nil {
		timing = DefaultTimingPolicy{}
	}
	e := &Engine{
		Radio: radio, Monitor: monitor, Registry: reg, Events: events, Timing: timing,
		Log: func(string, ...interface{}) {},
	}
	if logger != nil {
		e.Log = logger
	}
	return e
}

// Start moves INIT -> IDLE after the radio has been configured.
func (e *Engine) Start() {
	e.State = StateIdle
}

// BuildBeacon constructs the per-superframe sync beacon (§4.7 tick step 1),
// advancing the frame number and deriving the next channel plan.
func (e *Engine) BuildBeacon() packet.SyncBeacon {
	e.Super.FrameNumber++
	e.Super.CurrentChannel = hop.NextGood(e.Super.FrameNumber, uint32(e.NetworkKey), e.Monitor.Blacklist())
	hop.NextChannels(e.Super.FrameNumber, uint32(e.NetworkKey), e.Monitor.Blacklist(), e.Super.HopMap[:])

	return packet.SyncBeacon{
		FrameNo:      e.Super.FrameNumber,
		ActiveMask:   e.Registry.ActiveMask(),
		NextChannels: e.Super.HopMap,
	}
}

// SlotStartUs returns the wall-clock offset (from superframe start) at which
// slot n begins, honoring the timing policy's possibly-shrunk width for
// tracker id (§4.7 tick step 2, §9 slot-optimizer hook).
func (e *Engine) SlotStartUs(id netid.TrackerID, n int) uint32 {
	width := e.Timing.SlotDuration(id, SlotUs)
	return uint32(n) * width
}

// HandleData applies the RX packet handler's DATA branch (§4.7): verifies
// the tracker slot is active, computes loss, stamps RSSI, and updates the
// runtime tracker view, firing the connect callback on a rising edge.
func (e *Engine) HandleData(id netid.TrackerID, d packet.Data, rssi int8, nowMs uint32) {
	if !id.Valid() || !e.Registry.Trackers[id].Active {
		e.Monitor.RecordCrcError(e.Super.CurrentChannel)
		return
	}
	view := &e.Registry.Trackers[id]

	lost := int(d.Seq-view.LastSeq) - 1 // byte subtraction: wraps 255 -> 0 safely
	if view.LastSeenMs == 0 {
		lost = 0 // first frame from this tracker, nothing to compare against
	}
	view.recordLoss(lost)

	view.LastSeq = d.Seq
	view.LastSeenMs = nowMs
	view.Rssi = rssi
	view.Battery = d.Battery
	view.Flags = d.Flags
	view.Quat = d.Quat
	view.AccelMg = d.AccelMg

	e.Monitor.RecordAck(e.Super.CurrentChannel, rssi)

	wasConnected := view.Connected
	view.Connected = true
	if !wasConnected && e.OnConnect != nil {
		e.OnConnect(id, true)
		e.Events.Push(nowMs, eventlog.KindConnect, int(id))
	}
	if e.OnData != nil {
		e.OnData(id, *view)
	}
}

// HandlePairRequest applies the PAIRING-only PAIR_REQUEST branch (§4.7):
// assigns a free slot (or the MAC's existing slot) and returns the
// PAIR_RESPONSE to transmit, or ok=false if every slot is taken.
func (e *Engine) HandlePairRequest(req packet.PairRequest, receiverMac [6]byte) (packet.PairResponse, bool) {
	mac := netid.MacAddress(req.Mac)
	id, found := e.Registry.SlotForMac(mac)
	if !found {
		id, found = e.Registry.FreeSlot()
		if !found {
			return packet.PairResponse{}, false
		}
	}
	return packet.PairResponse{
		Mac: req.Mac, TrackerID: byte(id), ReceiverMac: receiverMac, NetworkKey: uint32(e.NetworkKey),
	}, true
}

// HandlePairConfirm applies the PAIR_CONFIRM branch (§4.7): activates the
// slot with the claimed MAC and resets its stats.
func (e *Engine) HandlePairConfirm(c packet.PairConfirm, nowMs uint32) error {
	id := netid.TrackerID(c.TrackerID)
	if !id.Valid() {
		return ErrPairingNotFound
	}
	e.Registry.Trackers[id] = TrackerView{Active: true, Mac: netid.MacAddress(c.Mac), LastSeenMs: nowMs}
	e.Events.Push(nowMs, eventlog.KindPaired, int(id))
	return nil
}

// EnterPairing switches to the PAIRING state, starting the faster pairing
// beacon cadence (§4.7 "In PAIRING, emit beacons at a faster cadence").
func (e *Engine) EnterPairing(nowMs uint32) {
	e.State = StatePairing
	e.pairingSince = nowMs
}

// ExitPairing returns to RUNNING.
func (e *Engine) ExitPairing() {
	e.State = StateRunning
}

// AgeOutAndCheckPairingTimeout runs the process-loop half of §4.7: drops
// connection status for trackers not heard within TrackerTimeoutMs, and
// falls back to RUNNING once a pairing window has been open too long.
func (e *Engine) AgeOutAndCheckPairingTimeout(nowMs uint32) {
	for id := range e.Registry.Trackers {
		v := &e.Registry.Trackers[id]
		if !v.Active || !v.Connected {
			continue
		}
		if nowMs-v.LastSeenMs >= TrackerTimeoutMs {
			v.Connected = false
			if e.OnConnect != nil {
				e.OnConnect(netid.TrackerID(id), false)
			}
			e.Events.Push(nowMs, eventlog.KindDisconnect, id)
		}
	}
	if e.State == StatePairing && nowMs-e.pairingSince >= PairingTimeoutMs {
		e.ExitPairing()
	}
}
