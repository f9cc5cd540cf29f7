// Command tracker-sim drives one simulated tracker and a minimal in-process
// receiver counterpart over phy/simphy's loopback link, exercising pairing,
// the per-frame TDMA loop, the recovery ladder, and the fusion filter
// without any hardware -- the way the teacher's cmd/mqttradio drives a real
// radio goroutine, but against a deterministic Radio instead of SPI.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/tve/vrlink/config"
	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/fusion"
	"github.com/tve/vrlink/imu"
	"github.com/tve/vrlink/netid"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/phy"
	"github.com/tve/vrlink/phy/simphy"
	"github.com/tve/vrlink/receiver"
	"github.com/tve/vrlink/storage"
	"github.com/tve/vrlink/tracker"
)

const (
	deviceType       = 1 // an arbitrary IMU-tracker device type byte
	maxPairingRounds = 8
	logEveryNthFrame = 200 // ~1s at 5ms/frame
)

var (
	rateDegPerSec = flag.Float64("rate", 30, "simulated Z-axis rotation rate, degrees/sec")
	frames        = flag.Int("frames", 2000, "number of superframes to simulate (5ms each)")
	lossPct       = flag.Int("loss", 0, "percent of air frames to drop, 0-100")
	configFile    = flag.String("config", "", "optional TOML config overriding policy defaults")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("tracker-sim: %v", err)
		}
	}

	logf := log.New(os.Stderr, "", log.LstdFlags).Printf

	link, trackerRadio, receiverRadio := simphy.NewLink()
	link.SetLoss(*lossPct)

	radioCfg := phy.Config{
		RateBps: 2_000_000, TxPowerDbm: 0, AddressWidth: 4, CrcWidth: 16,
		SyncWord: 0xD391C3A2, AutoAck: true,
	}

	// --- tracker side ---
	ctx := tracker.NewContext()
	ctx.Mac = netid.MacAddress{0x02, 'S', 'I', 'M', 0x00, 0x01}
	nvs := storage.NewMemNVS(4096)
	trackerEvents := eventlog.NewRing(64)
	sensor := imu.NewSimSensor(*rateDegPerSec)

	trackerEngine := tracker.NewEngine(trackerRadio, cfg.QualityPolicy(), fusion.NewIdentity(), trackerEvents, logf)
	trackerEngine.Recovery = cfg.TrackerRecoveryPolicy()
	trackerEngine.Timing = cfg.TrackerTimingPolicy()
	trackerEngine.Frame = cfg.FramePolicy()

	sup := tracker.NewSupervisor(ctx, trackerEngine, sensor, trackerRadio, nvs, trackerEvents, logf)
	pairClient := tracker.NewPairingClient(trackerRadio, trackerEvents, logf)

	if err := sup.Init(radioCfg); err != nil {
		log.Fatalf("tracker-sim: tracker init: %v", err)
	}

	// --- receiver side ---
	networkKey := netid.NetworkKey(0xCAFEBABE)
	reg := &receiver.Registry{}
	receiverEvents := eventlog.NewRing(64)
	receiverEngine := receiver.NewEngine(receiverRadio, cfg.QualityPolicy(), reg, receiverEvents, cfg.ReceiverTimingPolicy(), logf)
	receiverEngine.NetworkKey = networkKey
	receiverEngine.Start()
	receiverMac := netid.MacAddress{0x02, 'G', 'W', 0x00, 0x00, 0x01}

	if err := receiverRadio.Init(radioCfg); err != nil {
		log.Fatalf("tracker-sim: receiver init: %v", err)
	}

	// --- pairing phase, on the fixed pairing channel ---
	_ = trackerRadio.SetChannel(tracker.PairingChannel)
	_ = receiverRadio.SetChannel(tracker.PairingChannel)
	receiverEngine.EnterPairing(0)

	for round := 0; round < maxPairingRounds && !ctx.Paired; round++ {
		if _, err := pairClient.Attempt(ctx, deviceType, [2]byte{1, 0}); err != nil {
			log.Fatalf("tracker-sim: pairing attempt: %v", err)
		}
		drainReceiverInbox(receiverEngine, receiverRadio, receiverMac, 0, logf)
	}
	if !ctx.Paired {
		log.Fatalf("tracker-sim: pairing did not complete in %d rounds", maxPairingRounds)
	}
	if err := sup.OnPaired(0); err != nil {
		log.Fatalf("tracker-sim: persisting pairing: %v", err)
	}
	receiverEngine.ExitPairing()
	logf("tracker-sim: paired as tracker id %d", ctx.ID)

	// --- steady-state superframe loop ---
	for frame := 1; frame <= *frames; frame++ {
		nowMs := uint32(frame) * uint32(tracker.SuperframeUs/1000)

		beacon := receiverEngine.BuildBeacon()
		beaconCh := receiverEngine.Super.CurrentChannel
		_ = receiverRadio.SetChannel(beaconCh)
		_ = trackerRadio.SetChannel(beaconCh)
		_ = receiverRadio.Transmit(beacon.Build())

		if ctx.ID.Valid() {
			idx := int(ctx.ID) % len(receiverEngine.Super.HopMap)
			dataCh := receiverEngine.Super.HopMap[idx]
			_ = receiverRadio.SetAckPayload(packet.Ack{TrackerID: byte(ctx.ID)}.Build())
			_ = receiverRadio.SetChannel(dataCh)
		}

		raw, err := sensor.ReadRaw()
		if err == nil {
			trackerEngine.Fusion.Step(raw.Gyro, raw.Accel)
			ctx.Quat = trackerEngine.Fusion.Quat
		}

		outcome := trackerEngine.RunFrame(ctx, nowMs, false, nil)
		if outcome.BeaconHeard {
			sup.OnBeaconHeard(nowMs)
		}
		if outcome.Acked {
			sup.OnTxAcked(nowMs)
		}
		if outcome.Recovery != tracker.RecoveryNone {
			sup.OnRecoveryAction(nowMs, outcome.Recovery)
		}

		drainReceiverInbox(receiverEngine, receiverRadio, receiverMac, nowMs, logf)
		receiverEngine.AgeOutAndCheckPairingTimeout(nowMs)
		sup.CheckInactivity(nowMs)

		if frame%logEveryNthFrame == 0 {
			q := ctx.Quat
			logf("frame %d: state=%s quat=[%d %d %d %d] misssync=%d",
				frame, ctx.SupervisorState, q[0], q[1], q[2], q[3], trackerEngine.MissSyncCount())
		}
	}
}

// drainReceiverInbox processes every frame currently queued on radio,
// dispatching on its type byte (§4.7's PAIRING/RUNNING RX branches), and
// accepting either standard or Ultra data frames regardless of which
// FramePolicy the tracker side happens to be configured with.
func drainReceiverInbox(e *receiver.Engine, radio phy.Radio, receiverMac netid.MacAddress, nowMs uint32, logf func(string, ...interface{})) {
	for {
		frame, ok := radio.Receive()
		if !ok {
			return
		}
		t, err := packet.PeekType(frame.Payload)
		if err != nil {
			continue
		}
		switch t {
		case packet.TypePairRequest:
			req, err := packet.ParsePairRequest(frame.Payload)
			if err != nil {
				continue
			}
			resp, assigned := e.HandlePairRequest(req, [6]byte(receiverMac))
			if assigned {
				_ = radio.Transmit(resp.Build())
			}
		case packet.TypePairConfirm:
			c, err := packet.ParsePairConfirm(frame.Payload)
			if err != nil {
				continue
			}
			if err := e.HandlePairConfirm(c, nowMs); err != nil {
				logf("tracker-sim: pair confirm: %v", err)
			}
		case packet.TypeData:
			d, err := packet.ParseData(frame.Payload)
			if err != nil {
				continue
			}
			e.HandleData(netid.TrackerID(d.TrackerID), d, frame.RSSI, nowMs)
		case packet.TypeUltraData:
			d, err := (packet.UltraFramePolicy{}).Decode(frame.Payload)
			if err != nil {
				continue
			}
			e.HandleData(netid.TrackerID(d.TrackerID), d, frame.RSSI, nowMs)
		}
	}
}
