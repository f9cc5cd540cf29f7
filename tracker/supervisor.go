package tracker

import (
	"time"

	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/imu"
	"github.com/tve/vrlink/netid"
	"github.com/tve/vrlink/phy"
	"github.com/tve/vrlink/storage"
)

// Timeouts and thresholds from §4.8/§5.
const (
	SyncSearchTimeoutMs = 5_000
	PairingTimeoutMs    = 30_000
	SleepTimeoutMs      = 60_000
)

// LedPattern is the LED indication mirroring supervisor state (§4.8).
type LedPattern byte

const (
	LedOff LedPattern = iota
	LedFastBlink
	LedSlowBlink
	LedDoubleBlink
	LedSteady
	LedSOS
)

// LedPattern maps a supervisor state to the LED indication §4.8 names.
func (s State) LedPattern() LedPattern {
	switch s {
	case StateInit, StateWake:
		return LedFastBlink
	case StateSearch:
		return LedSlowBlink
	case StatePairing:
		return LedDoubleBlink
	case StateSynced, StateRunning:
		return LedSteady
	case StateSleep:
		return LedOff
	case StateError:
		return LedSOS
	default:
		return LedOff
	}
}

// ButtonAction is what a classified button hold duration should do (§4.8).
type ButtonAction byte

const (
	ButtonIgnored ButtonAction = iota
	ButtonCalibrate
	ButtonSleep
	ButtonPairing
)

// ClassifyButtonPress maps a button hold duration to an action: <50ms
// ignored, 50ms-1s short-press (calibrate), 1-5s (sleep), >=5s (pairing),
// per §4.8.
func ClassifyButtonPress(held time.Duration) ButtonAction {
	switch {
	case held < 50*time.Millisecond:
		return ButtonIgnored
	case held < time.Second:
		return ButtonCalibrate
	case held < 5*time.Second:
		return ButtonSleep
	default:
		return ButtonPairing
	}
}

// Supervisor is the top-level tracker state machine (C8): it owns the
// Context, drives sensor/radio lifecycle transitions, and interprets
// button/WoM events. The per-superframe TDMA exchange lives in Engine;
// Supervisor decides from which state Engine should be driven and reacts
// to what Engine reports.
type Supervisor struct {
	Ctx    *Context
	Engine *Engine
	Sensor imu.Sensor
	Radio  phy.Radio
	NVS    storage.NVS
	Events *eventlog.Ring
	Log    LogPrintf

	// WakeupPending is set by a WoM ISR stand-in and cleared on WAKE
	// entry (§4.8 "ISR set wakeup_pending").
	WakeupPending bool

	lastActivityMs uint32
}

// NewSupervisor wires a Supervisor against its collaborators.
func NewSupervisor(ctx *Context, engine *Engine, sensor imu.Sensor, radio phy.Radio, nvs storage.NVS, events *eventlog.Ring, logger LogPrintf) *Supervisor {
	s := &Supervisor{
		Ctx: ctx, Engine: engine, Sensor: sensor, Radio: radio, NVS: nvs, Events: events,
		Log: func(string, ...interface{}) {},
	}
	if logger != nil {
		s.Log = logger
	}
	return s
}

// LoadPairing restores the persisted tracker identity from NVS, falling
// back to UNPAIRED on any storage fault (§6 "invalid record => fall back
// to UNPAIRED").
func (s *Supervisor) LoadPairing() error {
	rec, err := storage.LoadTrackerRecord(s.NVS)
	if err != nil {
		s.Ctx.Paired = false
		s.Ctx.ID = netid.Unpaired
		return err
	}
	s.Ctx.Paired = rec.Paired
	s.Ctx.NetworkKey = rec.NetworkKey
	s.Ctx.ReceiverMac = rec.ReceiverMac
	s.Ctx.ID = rec.ID
	return nil
}

// SavePairing persists the tracker's current identity to NVS.
func (s *Supervisor) SavePairing() error {
	return storage.SaveTrackerRecord(s.NVS, storage.TrackerRecord{
		NetworkKey: s.Ctx.NetworkKey, ReceiverMac: s.Ctx.ReceiverMac,
		ID: s.Ctx.ID, Paired: s.Ctx.Paired,
	})
}

// Init runs sensor and radio initialization and picks the first state
// (§4.8 INIT row): SEARCH if already paired, else PAIRING; a fatal init
// failure goes to ERROR.
func (s *Supervisor) Init(cfg phy.Config) error {
	if err := s.Sensor.Init(); err != nil {
		s.Ctx.SupervisorState = StateError
		s.Events.Push(0, eventlog.KindError, 0)
		return err
	}
	if err := s.Radio.Init(cfg); err != nil {
		s.Ctx.SupervisorState = StateError
		s.Events.Push(0, eventlog.KindError, 1)
		return err
	}
	if s.Ctx.Paired {
		s.Ctx.SupervisorState = StateSearch
	} else {
		s.Ctx.SupervisorState = StatePairing
	}
	return nil
}

// OnPaired transitions PAIRING -> SEARCH once PAIR_CONFIRM has been sent
// and the identity persisted (§4.8 PAIRING row).
func (s *Supervisor) OnPaired(nowMs uint32) error {
	if s.Ctx.SupervisorState != StatePairing {
		return nil
	}
	if err := s.SavePairing(); err != nil {
		return err
	}
	s.Ctx.SupervisorState = StateSearch
	s.lastActivityMs = nowMs
	return nil
}

// OnBeaconHeard transitions SEARCH -> SYNCED on the first beacon (§4.8
// SEARCH row).
func (s *Supervisor) OnBeaconHeard(nowMs uint32) {
	if s.Ctx.SupervisorState == StateSearch {
		s.Ctx.SupervisorState = StateSynced
		s.Events.Push(nowMs, eventlog.KindConnect, int(s.Ctx.ID))
	}
}

// OnTxAcked transitions SYNCED -> RUNNING on the first successful exchange
// and refreshes the inactivity clock (§4.8 SYNCED row).
func (s *Supervisor) OnTxAcked(nowMs uint32) {
	s.lastActivityMs = nowMs
	if s.Ctx.SupervisorState == StateSynced {
		s.Ctx.SupervisorState = StateRunning
	}
}

// OnRecoveryAction reacts to the miss-sync ladder reaching its worst rung
// by declaring sync lost and returning to SEARCH (§4.8 RUNNING "sync lost
// thresholds" row).
func (s *Supervisor) OnRecoveryAction(nowMs uint32, action RecoveryAction) {
	if action != RecoveryDeepSearch {
		return
	}
	if s.Ctx.SupervisorState == StateRunning || s.Ctx.SupervisorState == StateSynced {
		s.Events.Push(nowMs, eventlog.KindSyncLost, int(s.Ctx.FrameNumber))
		s.Ctx.SupervisorState = StateSearch
	}
}

// CheckInactivity moves SEARCH/SYNCED/RUNNING to SLEEP once SleepTimeoutMs
// has elapsed with no successful exchange (§4.8 RUNNING "inactivity
// timeout" row), arming wake-on-motion before the radio and sensor go
// quiet.
func (s *Supervisor) CheckInactivity(nowMs uint32) {
	switch s.Ctx.SupervisorState {
	case StateSearch, StateSynced, StateRunning:
	default:
		return
	}
	if nowMs-s.lastActivityMs <= SleepTimeoutMs {
		return
	}
	s.Ctx.SupervisorState = StateSleep
	s.Radio.SetMode(phy.ModeSleep)
	s.Sensor.Suspend()
	s.Sensor.EnableWOM(50)
	s.Events.Push(nowMs, eventlog.KindDisconnect, int(s.Ctx.ID))
}

// OnButton applies a classified button press (§4.8).
func (s *Supervisor) OnButton(action ButtonAction, nowMs uint32) {
	switch action {
	case ButtonCalibrate:
		s.Engine.Fusion.Reset()
	case ButtonSleep:
		s.Ctx.SupervisorState = StateSleep
		s.Radio.SetMode(phy.ModeSleep)
		s.Sensor.Suspend()
		s.Sensor.EnableWOM(50)
	case ButtonPairing:
		if s.Ctx.SupervisorState == StateError {
			s.Ctx.SupervisorState = StateInit
			return
		}
		s.Ctx.SupervisorState = StatePairing
		s.lastActivityMs = nowMs
	}
}

// OnWakeSource wakes from SLEEP on a button press or a WoM interrupt,
// traversing SLEEP -> WAKE -> SEARCH with a full sensor/radio re-init so
// sync is re-acquired from a known state, with no quaternion discontinuity
// beyond what a prior set_quat restored (§4.8 SLEEP/WAKE rows).
func (s *Supervisor) OnWakeSource(cfg phy.Config, nowMs uint32) error {
	if s.Ctx.SupervisorState != StateSleep {
		return nil
	}
	s.Ctx.SupervisorState = StateWake
	s.WakeupPending = false

	if err := s.Sensor.Resume(); err != nil {
		s.Ctx.SupervisorState = StateError
		return err
	}
	s.Sensor.DisableWOM()
	if err := s.Radio.Init(cfg); err != nil {
		s.Ctx.SupervisorState = StateError
		return err
	}

	s.lastActivityMs = nowMs
	s.Ctx.SupervisorState = StateSearch
	return nil
}
