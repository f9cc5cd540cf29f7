package tracker

import (
	"testing"

	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/fusion"
	"github.com/tve/vrlink/hop"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/phy"
	"github.com/tve/vrlink/phy/simphy"
	"github.com/tve/vrlink/quality"
)

func newTestEngine(radio phy.Radio) *Engine {
	return NewEngine(radio, quality.New(), fusion.NewIdentity(), eventlog.NewRing(16), nil)
}

func TestWaitForBeaconUpdatesFrameNumber(t *testing.T) {
	_, trackerRadio, receiverRadio := simphy.NewLink()
	e := newTestEngine(trackerRadio)
	ctx := &Context{ID: 0, Paired: true}

	b := packet.SyncBeacon{FrameNo: 42, ActiveMask: 0x01, NextChannels: [packet.NumHopChannels]byte{1, 2, 3, 4, 5}}
	receiverRadio.SetChannel(0)
	trackerRadio.SetChannel(0)
	if err := receiverRadio.Transmit(b.Build()); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	beacon, ok := e.WaitForBeacon(ctx, 100)
	if !ok {
		t.Fatalf("WaitForBeacon: expected a beacon")
	}
	if beacon.FrameNo != 42 {
		t.Errorf("FrameNo = %d, want 42", beacon.FrameNo)
	}
	if ctx.FrameNumber != 42 {
		t.Errorf("ctx.FrameNumber = %d, want 42", ctx.FrameNumber)
	}
	if e.MissSyncCount() != 0 {
		t.Errorf("MissSyncCount = %d, want 0 after a good beacon", e.MissSyncCount())
	}
}

func TestWaitForBeaconIncrementsMissSyncWhenEmpty(t *testing.T) {
	_, trackerRadio, _ := simphy.NewLink()
	e := newTestEngine(trackerRadio)
	ctx := &Context{ID: 0, Paired: true}

	_, ok := e.WaitForBeacon(ctx, 100)
	if ok {
		t.Fatalf("WaitForBeacon: expected no beacon")
	}
	if e.MissSyncCount() != 1 {
		t.Errorf("MissSyncCount = %d, want 1", e.MissSyncCount())
	}
	if ctx.SyncTimeUs != SuperframeUs {
		t.Errorf("SyncTimeUs = %d, want %d", ctx.SyncTimeUs, SuperframeUs)
	}
}

func TestCheckActiveMaskUnpairsWhenIdDropped(t *testing.T) {
	e := newTestEngine(nil)
	ctx := &Context{ID: 3, Paired: true}
	beacon := packet.SyncBeacon{ActiveMask: 0x01} // bit 3 not set

	e.CheckActiveMask(ctx, beacon)
	if ctx.Paired {
		t.Errorf("Paired = true, want false once id drops out of the active mask")
	}
}

func TestCheckActiveMaskKeepsPairedWhenBitSet(t *testing.T) {
	e := newTestEngine(nil)
	ctx := &Context{ID: 3, Paired: true}
	beacon := packet.SyncBeacon{ActiveMask: 1 << 3}

	e.CheckActiveMask(ctx, beacon)
	if !ctx.Paired {
		t.Errorf("Paired = false, want true while id remains in the active mask")
	}
}

func TestShouldTransmitStationaryDivider(t *testing.T) {
	if !ShouldTransmit(false, 7) {
		t.Errorf("moving tracker should always transmit")
	}
	if !ShouldTransmit(true, 8) {
		t.Errorf("frame 8 (divisible by %d) should transmit while stationary", RateDividerStationary)
	}
	if ShouldTransmit(true, 7) {
		t.Errorf("frame 7 should skip transmit while stationary")
	}
}

func TestThrottleTxPowerRaisesOnWeakRssi(t *testing.T) {
	if got := ThrottleTxPower(-90, 0); got != 1 {
		t.Errorf("ThrottleTxPower weak rssi = %d, want 1", got)
	}
}

func TestThrottleTxPowerLowersOnStrongRssi(t *testing.T) {
	if got := ThrottleTxPower(-40, 0); got != -1 {
		t.Errorf("ThrottleTxPower strong rssi = %d, want -1", got)
	}
}

func TestThrottleTxPowerHoldsInDeadBand(t *testing.T) {
	if got := ThrottleTxPower(-65, 0); got != 0 {
		t.Errorf("ThrottleTxPower dead band = %d, want 0", got)
	}
}

func TestSelectChannelSubstitutesBlacklisted(t *testing.T) {
	_, trackerRadio, _ := simphy.NewLink()
	e := newTestEngine(trackerRadio)
	ctx := &Context{ID: 0, NetworkKey: 0xCAFEBABE}

	for ch := 0; ch < hop.NumChannels; ch++ {
		e.Monitor.RecordTx(byte(ch))
	}
	beacon := packet.SyncBeacon{NextChannels: [packet.NumHopChannels]byte{5, 5, 5, 5, 5}}
	e.Monitor.Blacklist()[5] = true // force via direct blacklist mutation for the test

	ch := e.SelectChannel(ctx, beacon, 0, nil)
	if ch == 5 {
		t.Errorf("SelectChannel returned blacklisted channel 5")
	}
}

func TestTransmitDataRoundTripWithAck(t *testing.T) {
	_, trackerRadio, receiverRadio := simphy.NewLink()
	e := newTestEngine(trackerRadio)
	ctx := &Context{ID: 2, Paired: true, Battery: 80}

	receiverRadio.SetChannel(7)
	trackerRadio.SetChannel(7)
	ack := packet.Ack{TrackerID: 2, AckSeq: 1, Command: packet.CmdTare}
	receiverRadio.SetAckPayload(ack.Build())

	gotAck, acked, err := e.TransmitData(ctx, 7)
	if err != nil {
		t.Fatalf("TransmitData: %v", err)
	}
	if !acked {
		t.Fatalf("TransmitData: expected an ack")
	}
	if gotAck.Command != packet.CmdTare {
		t.Errorf("ack.Command = %d, want CmdTare", gotAck.Command)
	}
	if ctx.Sequence != 1 {
		t.Errorf("ctx.Sequence = %d, want 1", ctx.Sequence)
	}

	frame, ok := receiverRadio.Receive()
	if !ok {
		t.Fatalf("receiver did not see the data frame")
	}
	data, err := packet.ParseData(frame.Payload)
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if data.TrackerID != 2 || data.Battery != 80 {
		t.Errorf("decoded data = %+v, want TrackerID=2 Battery=80", data)
	}
}

func TestHandleAckAppliesTareCommand(t *testing.T) {
	e := newTestEngine(nil)
	ctx := &Context{PendingAck: true}
	e.HandleAck(ctx, packet.Ack{Command: packet.CmdTare})
	if ctx.PendingAck {
		t.Errorf("PendingAck still true after HandleAck")
	}
	if e.Fusion.Quat != identityQuat {
		t.Errorf("Quat = %+v, want identity after CmdTare", e.Fusion.Quat)
	}
}

func TestHandleAckAppliesUnpairCommand(t *testing.T) {
	e := newTestEngine(nil)
	ctx := &Context{Paired: true}
	e.HandleAck(ctx, packet.Ack{Command: packet.CmdUnpair})
	if ctx.Paired {
		t.Errorf("Paired = true after CmdUnpair")
	}
}

func TestHandleMissEscalatesLadder(t *testing.T) {
	e := newTestEngine(nil)
	ctx := &Context{}

	var last RecoveryAction
	for i := 0; i < L4+1; i++ {
		e.missSync = i
		last = e.HandleMiss(ctx, uint32(i))
	}
	if last != RecoveryDeepSearch {
		t.Errorf("HandleMiss at miss=%d = %v, want RecoveryDeepSearch", L4, last)
	}
}

func TestHandleMissBelowL1DoesNothing(t *testing.T) {
	e := newTestEngine(nil)
	ctx := &Context{}
	e.missSync = L1 - 1
	if got := e.HandleMiss(ctx, 0); got != RecoveryNone {
		t.Errorf("HandleMiss below L1 = %v, want RecoveryNone", got)
	}
}

func TestRecordSlotOverrunAbortsAfterLimit(t *testing.T) {
	_, trackerRadio, _ := simphy.NewLink()
	e := newTestEngine(trackerRadio)
	for i := 0; i < MaxSlotOverruns-1; i++ {
		if e.RecordSlotOverrun(uint32(i)) {
			t.Fatalf("aborted too early at iteration %d", i)
		}
	}
	if !e.RecordSlotOverrun(uint32(MaxSlotOverruns)) {
		t.Errorf("expected abort at the %dth consecutive overrun", MaxSlotOverruns)
	}
}

func TestRunFrameNoBeaconReturnsRecoveryAction(t *testing.T) {
	_, trackerRadio, _ := simphy.NewLink()
	e := newTestEngine(trackerRadio)
	ctx := &Context{ID: 0, Paired: true}
	e.missSync = L1

	out := e.RunFrame(ctx, 0, false, nil)
	if out.BeaconHeard {
		t.Errorf("BeaconHeard = true, want false")
	}
	if out.Recovery != RecoverySoftResync {
		t.Errorf("Recovery = %v, want RecoverySoftResync", out.Recovery)
	}
}

func TestRunFrameTransmitsAndAcksWhenPaired(t *testing.T) {
	_, trackerRadio, receiverRadio := simphy.NewLink()
	e := newTestEngine(trackerRadio)
	ctx := &Context{ID: 1, Paired: true, NetworkKey: 1}

	receiverRadio.SetChannel(9)
	trackerRadio.SetChannel(9)
	b := packet.SyncBeacon{FrameNo: 1, ActiveMask: 1 << 1, NextChannels: [packet.NumHopChannels]byte{9, 9, 9, 9, 9}}
	receiverRadio.Transmit(b.Build())
	receiverRadio.SetAckPayload(packet.Ack{}.Build())

	out := e.RunFrame(ctx, 0, false, nil)
	if !out.BeaconHeard {
		t.Fatalf("expected beacon heard")
	}
	if !out.Transmitted || !out.Acked {
		t.Errorf("out = %+v, want Transmitted=true Acked=true", out)
	}
}
