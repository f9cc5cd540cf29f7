package tracker

import (
	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/fusion"
	"github.com/tve/vrlink/hop"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/phy"
	"github.com/tve/vrlink/quality"
)

// Tuning constants from §4.6's superframe layout and recovery ladder.
const (
	SuperframeUs = 5000 // 5ms @ 200Hz, exactly
	SlotUs       = 400
	GuardTimeUs  = 100
	AckWaitUs    = 2 * RfAckTimeUs // §4.6 step 6: wait <= RF_ACK_TIME_US*2
	RfAckTimeUs  = 200

	RateDividerStationary = 4
	RateDividerMoving     = 2

	MaxSlotOverruns = 3

	// PairingChannel is the fixed channel used for the pairing handshake
	// and for the recovery ladder's full-scan rung (§4.6.1, §4.7); the
	// last channel in the hop plan, out of the way of normal hopping.
	PairingChannel byte = hop.NumChannels - 1
)

// Miss-sync recovery ladder thresholds (§4.6.1).
const (
	L1 = 4
	L2 = 8
	L3 = 16
	L4 = 32
)

// LogPrintf is this package's logging seam, matching the nil-means-no-op
// convention used throughout the module.
type LogPrintf func(format string, v ...interface{})

// Engine is the tracker TDMA engine (C6): the nine-step per-frame loop from
// §4.6 plus the miss-sync recovery ladder. It operates on a Context handed
// in by the caller (Supervisor or a test), so the same Engine can drive
// multiple contexts sequentially if ever needed, matching the teacher's
// habit of keeping drivers free of embedded identity state.
type Engine struct {
	Radio    phy.Radio
	Monitor  quality.Policy
	Fusion   *fusion.State
	Events   *eventlog.Ring
	Recovery RecoveryPolicy
	Timing   TimingPolicy
	Frame    packet.FramePolicy
	Log      LogPrintf

	missSync     int
	slotOverruns int
}

// NewEngine wires an Engine with the default "all enabled" policies
// (§9: composable policies default to all enabled), using the standard
// (non-Ultra) data frame encoding until the caller overrides Frame.
func NewEngine(radio phy.Radio, monitor quality.Policy, fus *fusion.State, events *eventlog.Ring, logger LogPrintf) *Engine {
	e := &Engine{
		Radio: radio, Monitor: monitor, Fusion: fus, Events: events,
		Recovery: DefaultRecoveryPolicy{}, Timing: DefaultTimingPolicy{},
		Frame: packet.StandardFramePolicy{},
		Log:   func(string, ...interface{}) {},
	}
	if logger != nil {
		e.Log = logger
	}
	return e
}

// MissSyncCount reports the current run of consecutive missed beacons, for
// the supervisor to compare against its own state-transition thresholds.
func (e *Engine) MissSyncCount() int { return e.missSync }

// WaitForBeacon is step 1: poll the radio's queued frames for a sync
// beacon. On success it updates frame_number/sync_time_us and resets the
// miss counter; on failure it bumps miss_sync and predicts the next sync
// time by adding one superframe, per §4.6 step 1.
func (e *Engine) WaitForBeacon(ctx *Context, nowMs uint32) (packet.SyncBeacon, bool) {
	for i := 0; i < 8; i++ {
		frame, ok := e.Radio.Receive()
		if !ok {
			break
		}
		t, err := packet.PeekType(frame.Payload)
		if err != nil || t != packet.TypeSyncBeacon {
			continue
		}
		b, err := packet.ParseSyncBeacon(frame.Payload)
		if err != nil {
			e.Monitor.RecordCrcError(ctx.CurrentChannel)
			continue
		}
		if e.missSync > 0 {
			e.Events.Push(nowMs, eventlog.KindResync, e.missSync)
		}
		e.missSync = 0
		ctx.FrameNumber = b.FrameNo
		ctx.SyncTimeUs += SuperframeUs
		ctx.LastSyncMs = nowMs
		return b, true
	}
	if e.missSync == 0 {
		e.Events.Push(nowMs, eventlog.KindSyncLost, int(ctx.FrameNumber))
	}
	e.missSync++
	ctx.SyncTimeUs += SuperframeUs
	return packet.SyncBeacon{}, false
}

// CheckActiveMask is step 2: if the tracker's id is no longer present in
// the beacon's active mask, it flips to UNPAIRED (§4.6 step 2).
func (e *Engine) CheckActiveMask(ctx *Context, beacon packet.SyncBeacon) {
	if !ctx.ID.Valid() {
		return
	}
	if beacon.ActiveMask&(1<<uint(ctx.ID)) == 0 {
		ctx.Paired = false
	}
}

// SlotStartUs returns the predicted start of ctx's slot within the current
// superframe: the sync slot occupies slot 0, so tracker i's slot begins
// one SlotUs later plus i more (§4.6 step 3 layout).
func SlotStartUs(ctx *Context) uint64 {
	return ctx.SyncTimeUs + SlotUs + uint64(ctx.ID)*SlotUs
}

// ShouldTransmit is step 4's rate half of "rate & power throttling": when
// stationary, only transmit on frames divisible by the stationary divider,
// otherwise always transmit (§4.6 step 4).
func ShouldTransmit(stationary bool, frameNo uint16) bool {
	if !stationary {
		return true
	}
	return frameNo%RateDividerStationary == 0
}

// ThrottleTxPower is step 4's power half: nudge power up when the last ACK
// RSSI was weak, down when comfortably strong, with a dead band in between
// to avoid flapping (§4.6 step 4 "hysteresis").
func ThrottleTxPower(lastAckRssi int8, currentDbm int8) int8 {
	switch {
	case lastAckRssi < -80 && currentDbm < 4:
		return currentDbm + 1
	case lastAckRssi > -50 && currentDbm > -20:
		return currentDbm - 1
	default:
		return currentDbm
	}
}

// SelectChannel is step 5: take the next channel from the beacon's
// lookahead table, substituting the hop sequencer's own next-good pick if
// that entry is locally blacklisted or (when sleeper is non-nil) fails a
// clear-channel assessment (§4.6 step 5).
func (e *Engine) SelectChannel(ctx *Context, beacon packet.SyncBeacon, slotIndex int, sleeper quality.Sleeper) byte {
	idx := slotIndex % len(beacon.NextChannels)
	ch := beacon.NextChannels[idx]
	if e.Monitor.IsBlacklisted(ch) {
		ch = hop.NextGood(ctx.FrameNumber, uint32(ctx.NetworkKey), e.Monitor.Blacklist())
	}
	if sleeper != nil {
		if clear, err := quality.ClearChannelAssess(e.Radio, sleeper, ch); err == nil && !clear {
			ch = hop.NextGood(ctx.FrameNumber, uint32(ctx.NetworkKey), e.Monitor.Blacklist())
		}
	}
	return ch
}

// TransmitData is step 6: switch to the chosen channel, build and send the
// standard data frame, and wait for the piggybacked ACK (§4.6 step 6).
func (e *Engine) TransmitData(ctx *Context, channel byte) (packet.Ack, bool, error) {
	if err := e.Radio.SetChannel(channel); err != nil {
		return packet.Ack{}, false, err
	}
	ctx.CurrentChannel = channel
	ctx.Sequence++
	ctx.PendingAck = true

	data := packet.Data{
		TrackerID: byte(ctx.ID), Seq: ctx.Sequence,
		Quat: ctx.Quat, AccelMg: ctx.Accel,
		Battery: ctx.Battery, Flags: ctx.Flags,
	}
	e.Monitor.RecordTx(channel)
	res, err := e.Radio.TransmitWithAck(e.Frame.Encode(data))
	if err != nil {
		return packet.Ack{}, false, err
	}
	if !res.Acked {
		return packet.Ack{}, false, nil
	}
	e.Monitor.RecordAck(channel, res.RSSI)
	if len(res.Payload) == 0 {
		ctx.PendingAck = false
		return packet.Ack{}, true, nil
	}
	ack, err := packet.ParseAck(res.Payload)
	if err != nil {
		e.Monitor.RecordCrcError(channel)
		return packet.Ack{}, true, err
	}
	return ack, true, nil
}

// HandleAck is step 7: clear pending_ack and apply any piggybacked command
// (§4.6 step 7, command list from ack.go).
func (e *Engine) HandleAck(ctx *Context, ack packet.Ack) {
	ctx.PendingAck = false
	ctx.RetryCount = 0
	switch ack.Command {
	case packet.CmdCalibrate:
		e.Fusion.Reset()
	case packet.CmdTare:
		e.Fusion.SetQuat(identityQuat[0], identityQuat[1], identityQuat[2], identityQuat[3])
	case packet.CmdSleep:
		ctx.SupervisorState = StateSleep
	case packet.CmdUnpair:
		ctx.Paired = false
	}
}

// HandleMiss is step 8: feed the quality monitor a negative outcome already
// happened via TransmitData's RecordTx with no matching RecordAck; this
// drives the recovery ladder and logs the rung reached (§4.6 step 8,
// §4.6.1).
func (e *Engine) HandleMiss(ctx *Context, nowMs uint32) RecoveryAction {
	ctx.RetryCount++
	action := e.Recovery.Escalate(e.missSync)
	switch action {
	case RecoverySoftResync:
		e.Events.Push(nowMs, eventlog.KindResync, e.missSync)
	case RecoveryChannelSwitch:
		ctx.CurrentChannel = (ctx.CurrentChannel + 1) % hop.NumChannels
		e.Events.Push(nowMs, eventlog.KindChannelSwitch, int(ctx.CurrentChannel))
	case RecoveryFullScan:
		ctx.CurrentChannel = PairingChannel
		e.Events.Push(nowMs, eventlog.KindFullScan, 0)
	case RecoveryDeepSearch:
		e.Events.Push(nowMs, eventlog.KindDeepSearch, 0)
	}
	return action
}

// RecordSlotOverrun is called when a slot ran past SlotUs-GuardTimeUs
// (§4.6.1 "any slot overrun ... is logged"). After MaxSlotOverruns
// consecutive overruns it forces an ABORT: flush both FIFOs and drop to
// standby, matching §4.6.1's "triggered after a few consecutive overruns".
func (e *Engine) RecordSlotOverrun(nowMs uint32) (aborted bool) {
	e.slotOverruns++
	e.Events.Push(nowMs, eventlog.KindSlotOverrun, e.slotOverruns)
	if e.slotOverruns < MaxSlotOverruns {
		return false
	}
	e.Events.Push(nowMs, eventlog.KindAbort, 0)
	e.Radio.FlushTx()
	e.Radio.FlushRx()
	e.Radio.SetMode(phy.ModeStandby)
	e.slotOverruns = 0
	return true
}

// ClearSlotOverruns resets the consecutive-overrun counter after a clean
// frame.
func (e *Engine) ClearSlotOverruns() { e.slotOverruns = 0 }

// FrameOutcome summarizes one superframe's per-frame loop for a caller
// (Supervisor, cmd/tracker-sim) that doesn't need the individual steps.
type FrameOutcome struct {
	BeaconHeard bool
	Transmitted bool
	Acked       bool
	Command     byte
	Recovery    RecoveryAction
}

// RunFrame drives steps 1-2 and 4-8 of §4.6 in order for one superframe.
// Of step 4 it applies only the rate half (ShouldTransmit); it does not call
// ThrottleTxPower. Step 3 (wait to my slot) is real wall-clock time and is
// the caller's responsibility via SlotStartUs; step 9 (standby) is simply
// returning.
func (e *Engine) RunFrame(ctx *Context, nowMs uint32, stationary bool, sleeper quality.Sleeper) FrameOutcome {
	var out FrameOutcome

	beacon, heard := e.WaitForBeacon(ctx, nowMs)
	out.BeaconHeard = heard
	if !heard {
		out.Recovery = e.HandleMiss(ctx, nowMs)
		return out
	}

	e.CheckActiveMask(ctx, beacon)
	if !ctx.Paired {
		return out
	}
	if !ShouldTransmit(stationary, ctx.FrameNumber) {
		return out
	}

	channel := e.SelectChannel(ctx, beacon, int(ctx.ID), sleeper)
	ack, acked, err := e.TransmitData(ctx, channel)
	out.Transmitted = true
	out.Acked = acked
	if err != nil {
		e.Monitor.RecordCrcError(channel)
	}
	if acked {
		e.HandleAck(ctx, ack)
		out.Command = ack.Command
		e.ClearSlotOverruns()
	} else {
		out.Recovery = e.HandleMiss(ctx, nowMs)
	}
	return out
}
