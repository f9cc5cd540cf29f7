// Package phy defines the radio PHY abstraction (C1) both sides of the link
// program against, plus a host bus shim (shim.go) and concrete/simulated
// implementations in the sxradio and simphy subpackages.
package phy

import (
	"errors"
	"time"
)

// Mode is the radio's current operating mode (§4.1 "set_mode").
type Mode byte

const (
	ModeSleep Mode = iota
	ModeStandby
	ModeRx
	ModeTx
)

// ErrFifoStuck is returned by Transmit when the FIFO hasn't emptied within
// the contractual bound (§4.1 "fails with FifoStuck after >=2ms").
var ErrFifoStuck = errors.New("phy: fifo stuck")

// FifoStuckTimeout is the bound referenced by ErrFifoStuck.
const FifoStuckTimeout = 2 * time.Millisecond

// Config carries the one-time radio setup from §4.1 "init(cfg)".
type Config struct {
	RateBps      uint32 // 1 or 2 Mbps, in bits/sec
	TxPowerDbm   int8   // -20..+4 dBm
	AddressWidth byte   // 3..5 bytes
	CrcWidth     byte   // 0, 8, or 16 bits
	SyncWord     uint32
	AutoAck      bool
}

// AckResult is returned by TransmitWithAck.
type AckResult struct {
	Acked   bool
	RSSI    int8
	Payload []byte // optional piggybacked ACK payload (command byte, param byte, ...)
}

// RxFrame is one received frame plus its capture-time stats, handed to the
// consumer across the ISR contract's double buffer (§4.1 "ISR contract").
type RxFrame struct {
	Payload []byte
	RSSI    int8
	At      time.Time
}

// TimerCallback is invoked by a started timer; implementations call it from
// whatever context they use to model an interrupt (a goroutine, in this
// codebase).
type TimerCallback func()

// Radio is the external-only Radio PHY trait (C1). Every operation named in
// §4.1 has a method here; a concrete driver (sxradio) and a deterministic
// loopback pair (simphy) both implement it, and tracker/receiver engines
// program only against this interface.
type Radio interface {
	Init(cfg Config) error

	SetChannel(ch byte) error
	SetTxPower(dbm int8) error
	SetSyncWord(word uint32) error
	SetMode(m Mode) error

	// Transmit blocks until the frame is queued into the FIFO and sent, or
	// returns ErrFifoStuck if the FIFO doesn't empty within
	// FifoStuckTimeout.
	Transmit(payload []byte) error
	// TransmitAsync queues payload and returns immediately; done is closed
	// when the TX_DONE condition is reached.
	TransmitAsync(payload []byte) (done <-chan struct{}, err error)
	// TransmitWithAck sends payload and waits up to the driver's configured
	// ACK window for an acknowledgement.
	TransmitWithAck(payload []byte) (AckResult, error)

	// Receive returns the next available frame, or ok=false if none is
	// ready yet. It never blocks.
	Receive() (frame RxFrame, ok bool)
	RxAvailable() bool
	// SetAckPayload stages a payload to be auto-clocked out with the next
	// ACK (§4.1 "staged before re-entering RX").
	SetAckPayload(payload []byte) error

	FlushTx() error
	FlushRx() error

	// ReadRSSI samples the instantaneous RSSI on the currently tuned
	// channel; used by the channel quality monitor's clear-channel
	// assessment (§4.4) ahead of a transmit.
	ReadRSSI() (int8, error)

	GetTimeUs() uint64
	StartTimer(periodUs uint32, cb TimerCallback) error
	StopTimer() error

	// Error returns any persistent error the driver has latched, matching
	// the teacher's sticky-error convention; once non-nil the radio must
	// be recreated.
	Error() error
}
