// Command receiver-gw drives one physical receiver radio and the HID
// aggregator feeding the host, and republishes tracker state over MQTT --
// the gateway-process structure of the teacher's cmd/mqttradio, rebuilt
// around the TDMA receiver engine instead of a raw SPI pass-through.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/tve/vrlink/config"
	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/netid"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/phy"
	"github.com/tve/vrlink/phy/sxradio"
	"github.com/tve/vrlink/receiver"
	"github.com/tve/vrlink/thread"
)

// LogPrintf matches the teacher's logging seam used throughout this module.
type LogPrintf func(format string, v ...interface{})

// gwVersion is reported in CmdVersion / TickDeviceInfo replies.
var gwVersion = [2]byte{1, 0}

var (
	help       = flag.Bool("help", false, "print usage help")
	configFile = flag.String("config", "receiver-gw.toml", "path to config file")
	hidPath    = flag.String("hid", "/dev/hidg0", "path to the USB HID gadget character device")
	topicBase  = flag.String("topic", "vrlink", "MQTT topic prefix trackers and commands are published under")
)

func main() {
	flag.Parse()
	if *help {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot load config file: %s\n", err)
		os.Exit(1)
	}

	logger := LogPrintf(func(string, ...interface{}) {})
	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		logger = log.Printf
	}

	q, err := newMQ(cfg.Mqtt, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to MQTT broker: %s\n", err)
		os.Exit(2)
	}

	log.Printf("Configuring radio")
	radio, err := startRadio(cfg.Radio, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure radio: %s\n", err)
		os.Exit(1)
	}

	reg := &receiver.Registry{}
	events := eventlog.NewRing(256)
	engine := receiver.NewEngine(radio, cfg.QualityPolicy(), reg, events, cfg.ReceiverTimingPolicy(), receiver.LogPrintf(logger))
	engine.NetworkKey = netid.NetworkKey(cfg.Network.NetworkKey)

	writeReport, readReport, err := openHID(*hidPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open HID device %s: %s\n", *hidPath, err)
		os.Exit(1)
	}
	agg := receiver.NewAggregator(reg, engine, gwVersion, writeReport, readReport)
	agg.OnBootloader = func() {
		log.Printf("receiver-gw: bootloader entry requested, exiting")
		os.Exit(3)
	}

	engine.OnConnect = func(id netid.TrackerID, connected bool) {
		q.Publish(fmt.Sprintf("%s/%d/connect", *topicBase, id), connectMsg{Connected: connected})
	}
	engine.OnData = func(id netid.TrackerID, view receiver.TrackerView) {
		q.Publish(fmt.Sprintf("%s/%d/data", *topicBase, id), trackerDataMsg{
			Quat: view.Quat, AccelMg: view.AccelMg, Battery: view.Battery,
			Rssi: view.Rssi, LossPct: view.LossRatio,
		})
	}

	pairCmds := make(chan Message, 4)
	if err := q.Subscribe(*topicBase+"/cmd", pairCmds); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe to commands: %s\n", err)
		os.Exit(2)
	}
	go handleCommands(engine, pairCmds)

	engine.Start()
	svc := &service{
		cfg: cfg, radio: radio, engine: engine, agg: agg, log: logger,
	}

	if err := radio.StartTimer(receiver.SuperframeUs, svc.tick); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start superframe timer: %s\n", err)
		os.Exit(1)
	}

	log.Printf("Gateway is ready")
	for {
		time.Sleep(time.Hour)
	}
}

// startRadio opens the configured SPI bus and interrupt pin and brings the
// radio up, mirroring the teacher's startRadio/radioSettings split but
// against a single fixed sxradio.Radio instead of a Type-dispatched driver.
// Two host bus backends are available, both satisfying phy.SPI/phy.GPIO
// identically as far as sxradio is concerned: the teacher's embd shim, and
// periph.io's spireg/gpioreg for boards embd doesn't cover.
func startRadio(r config.RadioConfig, logger LogPrintf) (*sxradio.Radio, error) {
	var dev phy.SPI
	var intr phy.GPIO
	if r.UsePeriph {
		var err error
		dev, err = phy.NewPeriphSPI("", int64(r.RateBps))
		if err != nil {
			return nil, err
		}
		intr = phy.NewPeriphGPIO(r.IntrPin)
	} else {
		dev = phy.NewSPI()
		intr = phy.NewGPIO(r.IntrPin)
	}
	if intr == nil {
		return nil, fmt.Errorf("cannot open interrupt pin %s", r.IntrPin)
	}
	radio := sxradio.New(dev, intr, sxradio.LogPrintf(logger))
	cfg := phy.Config{
		RateBps: r.RateBps, TxPowerDbm: r.TxPowerDbm,
		AddressWidth: 4, CrcWidth: 16, SyncWord: r.SyncWord, AutoAck: true,
	}
	if err := radio.Init(cfg); err != nil {
		return nil, err
	}
	return radio, nil
}

// openHID wires the aggregator's two HID callbacks onto a USB HID gadget
// character device (§4.9 "no USB HID details leak into the aggregator
// contract beyond two callbacks"). No Go HID library is a fit here -- gadget
// mode is just reading/writing fixed-size reports off a /dev node -- so this
// is plain os.File I/O with O_NONBLOCK on the read side, the same shape the
// teacher uses for its embd GPIO/SPI shims.
func openHID(path string) (receiver.WriteReportFunc, receiver.ReadReportFunc, error) {
	wr, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	rd, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		wr.Close()
		return nil, nil, err
	}

	write := func(payload []byte) error {
		_, err := wr.Write(payload)
		return err
	}
	read := func() ([]byte, bool) {
		buf := make([]byte, receiver.ReportBytes)
		n, err := rd.Read(buf)
		if err != nil || n == 0 {
			return nil, false
		}
		return buf[:n], true
	}
	return write, read, nil
}

// connectMsg / trackerDataMsg are the JSON shapes published to MQTT; field
// names are kept lower-case-free since json.Marshal uses them verbatim and
// these are meant to read naturally from an MQTT consumer.
type connectMsg struct {
	Connected bool
}

type trackerDataMsg struct {
	Quat    [4]int16
	AccelMg [3]int16
	Battery byte
	Rssi    int8
	LossPct int
}

// commandPayload is the inbound MQTT command shape: {"Action": "enter_pairing"}
// (the key is matched case-sensitively).
type commandPayload struct {
	Action string
}

// handleCommands dispatches MQTT-sourced pairing commands, an alternate
// entry point to the same EnterPairing/ExitPairing calls CmdEnterPairing/
// CmdExitPairing reach through the HID OUT report (§4.9).
func handleCommands(e *receiver.Engine, in <-chan Message) {
	for msg := range in {
		var cmd commandPayload
		if m, ok := msg.Payload.(map[string]interface{}); ok {
			if a, ok := m["Action"].(string); ok {
				cmd.Action = a
			}
		}
		switch cmd.Action {
		case "enter_pairing":
			e.EnterPairing(uint32(time.Now().UnixMilli()))
		case "exit_pairing":
			e.ExitPairing()
		}
	}
}

// service bundles the per-tick state the superframe timer callback closes
// over; grouping it avoids a long list of captured locals in main().
type service struct {
	cfg    config.Config
	radio  *sxradio.Radio
	engine *receiver.Engine
	agg    *receiver.Aggregator
	log    LogPrintf

	realtimeOnce sync.Once
	ticks        uint32
}

// tick runs one superframe (§4.7's RX tick): broadcast the beacon, then
// either hold the fixed pairing channel for the whole frame or step through
// each active tracker's per-slot hop channel, and finally run the
// aggregator's periodic HID emissions and inbound command poll. One radio
// means these steps execute in sequence rather than each tracker being
// serviced concurrently, so the per-slot dwell below is paced with
// time.Sleep the way the driver's own worker goroutine paces ACK waits.
func (s *service) tick() {
	s.realtimeOnce.Do(func() { pinRealtime(s.log) })

	nowMs := uint32(time.Now().UnixMilli())
	s.ticks++

	beacon := s.engine.BuildBeacon()
	beaconCh := s.engine.Super.CurrentChannel
	_ = s.radio.SetChannel(beaconCh)
	if err := s.radio.Transmit(beacon.Build()); err != nil {
		s.log("receiver-gw: beacon transmit: %v", err)
	}

	if s.engine.State == receiver.StatePairing {
		_ = s.radio.SetChannel(receiver.PairingChannel)
		time.Sleep(receiver.SuperframeUs * time.Microsecond)
		s.drainInbox(nowMs)
	} else {
		s.serviceSlots(nowMs)
	}

	s.engine.AgeOutAndCheckPairingTimeout(nowMs)
	s.agg.PollCommands()

	// The bundle is the high-rate report: every superframe, no modulo gate.
	if err := s.agg.TickBundle(nowMs, receiver.TrackerTimeoutMs); err != nil {
		s.log("receiver-gw: bundle report: %v", err)
	}
	if s.ticks%40 == 0 { // ~5Hz at 5ms/frame
		if err := s.agg.TickStatus(nowMs); err != nil {
			s.log("receiver-gw: status report: %v", err)
		}
	}
	if s.ticks%200 == 0 { // ~1Hz
		if err := s.agg.TickDeviceInfo(nowMs); err != nil {
			s.log("receiver-gw: device-info report: %v", err)
		}
	}
}

// serviceSlots steps through every active tracker id in slot order, tuning
// to its hop-plan channel and staging its ack for the dwell computed by the
// timing policy, then draining whatever arrived.
func (s *service) serviceSlots(nowMs uint32) {
	ids := make([]int, 0, netid.MaxTrackers)
	for id := range s.engine.Registry.Trackers {
		if s.engine.Registry.Trackers[id].Active {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		tid := netid.TrackerID(id)
		dataCh := s.engine.Super.HopMap[id%len(s.engine.Super.HopMap)]
		_ = s.radio.SetChannel(dataCh)
		_ = s.radio.SetAckPayload(packet.Ack{TrackerID: byte(tid)}.Build())

		width := s.engine.Timing.SlotDuration(tid, receiver.SlotUs)
		time.Sleep(time.Duration(width) * time.Microsecond)
		s.drainInbox(nowMs)
	}
}

// drainInbox processes every frame currently queued on the radio,
// dispatching on its type byte and accepting either the standard or the
// Ultra data frame regardless of which FramePolicy a given tracker is
// configured with (a gateway services a mix of trackers, unlike
// cmd/tracker-sim's single simulated tracker).
func (s *service) drainInbox(nowMs uint32) {
	for {
		frame, ok := s.radio.Receive()
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
			resp, assigned := s.engine.HandlePairRequest(req, receiverMac(s.cfg))
			if assigned {
				_ = s.radio.Transmit(resp.Build())
			}
		case packet.TypePairConfirm:
			c, err := packet.ParsePairConfirm(frame.Payload)
			if err != nil {
				continue
			}
			if err := s.engine.HandlePairConfirm(c, nowMs); err != nil {
				s.log("receiver-gw: pair confirm: %v", err)
			}
		case packet.TypeData:
			d, err := packet.ParseData(frame.Payload)
			if err != nil {
				continue
			}
			s.engine.HandleData(netid.TrackerID(d.TrackerID), d, frame.RSSI, nowMs)
		case packet.TypeUltraData:
			d, err := (packet.UltraFramePolicy{}).Decode(frame.Payload)
			if err != nil {
				continue
			}
			s.engine.HandleData(netid.TrackerID(d.TrackerID), d, frame.RSSI, nowMs)
		}
	}
}

// receiverMac derives a stable link-layer MAC for PAIR_RESPONSE from the
// configured network key, since this gateway has no hardware MAC of its own
// to report.
func receiverMac(cfg config.Config) [6]byte {
	return [6]byte{0x02, 'G', 'W',
		byte(cfg.Network.NetworkKey >> 16), byte(cfg.Network.NetworkKey >> 8), byte(cfg.Network.NetworkKey)}
}

// pinRealtime locks the calling goroutine's thread to realtime scheduling,
// matching the teacher's per-radio-goroutine convention. The superframe
// timer callback always runs on the same goroutine (sxradio.Radio.StartTimer
// spawns exactly one ticker goroutine), so service.tick pins it once via
// realtimeOnce on its first invocation rather than from main.
func pinRealtime(log LogPrintf) {
	if err := thread.Realtime(); err != nil {
		log("receiver-gw: could not set realtime scheduling: %v", err)
	}
}
