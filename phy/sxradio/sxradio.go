// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package sxradio is a concrete implementation of phy.Radio for a
// channelized 2.4GHz FSK transceiver, built by generalizing the sx1231
// driver's interrupt-driven worker/channel structure to the TDMA link's
// requirements: 40 discrete channels instead of a free-running frequency,
// a 32-bit sync word, an enumerated power-step table, and an auto-ack
// payload staging slot.
//
// The driver is fully interrupt driven and requires the radio's interrupt
// pin be wired to an edge-capable GPIO. Packets are exchanged through the
// Radio type's phy.Radio methods; there is no direct channel access from
// outside the package, unlike the sx1231 driver this one descends from.
//
// As with its ancestor, radio errors are treated as persistent: once Error()
// returns non-nil the Radio is unusable and a fresh one must be created.
package sxradio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tve/vrlink/hop"
	"github.com/tve/vrlink/phy"
)

const rxChanCap = 4
const ackWaitDefault = 4 * time.Millisecond

// LogPrintf is the logging seam, matching the teacher's nil-means-no-op
// convention used throughout this module.
type LogPrintf func(format string, v ...interface{})

// Radio is a concrete phy.Radio backed by SPI register I/O and an
// interrupt pin.
type Radio struct {
	spi     phy.SPI
	intrPin phy.GPIO
	log     LogPrintf

	sync.Mutex // guards register access and the fields below it
	mode       byte
	channel    byte
	txPowerDbm int8
	syncWord   uint32
	ackPayload []byte
	err        error

	rxChan    chan phy.RxFrame
	txChan    chan txRequest
	timerStop chan struct{}
}

type txRequest struct {
	payload   []byte
	wantAck   bool
	ackWindow time.Duration
	ackResult chan phy.AckResult
	done      chan struct{}
}

// New wires up a Radio against the given SPI device and interrupt pin. The
// radio is unusable (Error() is non-nil) until Init is called.
func New(dev phy.SPI, intr phy.GPIO, logger LogPrintf) *Radio {
	r := &Radio{
		spi: dev, intrPin: intr,
		mode: 255,
		err:  errors.New("sxradio: not initialized"),
		log:  func(string, ...interface{}) {},
	}
	if logger != nil {
		r.log = func(format string, v ...interface{}) {
			logger("sxradio: "+format, v...)
		}
	}
	return r
}

// Init performs the one-time register setup and self-test, then starts the
// worker goroutine and enters receive mode (§4.1 "init(cfg)").
func (r *Radio) Init(cfg phy.Config) error {
	if err := r.spi.Speed(4 * 1000 * 1000); err != nil {
		return fmt.Errorf("sxradio: cannot set speed, %v", err)
	}
	if err := r.spi.Configure(phy.SPIMode0, 8); err != nil {
		return fmt.Errorf("sxradio: cannot set mode, %v", err)
	}

	sync := func(pattern byte) error {
		for n := 10; n > 0; n-- {
			r.writeReg(regSyncValue1, pattern)
			if v := r.readReg(regSyncValue1); v == pattern {
				return nil
			}
		}
		return errors.New("sxradio: cannot sync with chip")
	}
	if err := sync(0xaa); err != nil {
		return err
	}
	if err := sync(0x55); err != nil {
		return err
	}

	r.setMode(modeSleep)
	r.setMode(modeStandby)
	r.log("chip version %#x", r.readReg(regVersion))

	for i := 0; i < len(configRegs)-1; i += 2 {
		r.writeReg(configRegs[i], configRegs[i+1])
	}
	r.setMode(modeStandby)

	if err := r.SetChannel(0); err != nil {
		return err
	}
	if err := r.SetTxPower(cfg.TxPowerDbm); err != nil {
		return err
	}
	if err := r.SetSyncWord(cfg.SyncWord); err != nil {
		return err
	}

	if err := r.intrPin.In(phy.GpioRisingEdge); err != nil {
		return fmt.Errorf("sxradio: error initializing interrupt pin: %s", err)
	}
	for r.intrPin.WaitForEdge(0) {
		r.log("interrupt test shows an incorrect pending interrupt")
	}
	r.setMode(modeFs)
	r.writeReg(regDioMapping1, dioMapping+0xC0)
	if !r.intrPin.WaitForEdge(100 * time.Millisecond) {
		return fmt.Errorf("sxradio: interrupts from radio do not work, try unexporting gpio%d", r.intrPin.Number())
	}
	r.writeReg(regDioMapping1, dioMapping)
	for r.intrPin.WaitForEdge(0) {
	}

	r.rxChan = make(chan phy.RxFrame, rxChanCap)
	r.txChan = make(chan txRequest, 4)

	r.Lock()
	r.err = nil
	r.Unlock()

	go r.worker()
	return r.SetMode(phy.ModeRx)
}

// SetChannel programs the synthesizer for channel ch (0..hop.NumChannels-1),
// looking up the frequency via hop.Frequency so the channel plan has a
// single source of truth.
func (r *Radio) SetChannel(ch byte) error {
	mhz := hop.Frequency(ch)
	freq := uint32(mhz) * 1000000

	mode := r.mode
	r.setMode(modeStandby)
	frf := (uint64(freq) << 2) / (32000000 >> 11)
	r.writeReg(regFrfMsb, byte(frf>>10), byte(frf>>2), byte(frf<<6))
	r.setMode(mode)

	r.Lock()
	r.channel = ch
	r.Unlock()
	return r.Error()
}

// SetTxPower snaps dbm to the nearest entry in txPowerSteps and programs the
// corresponding register value.
func (r *Radio) SetTxPower(dbm int8) error {
	best := txPowerSteps[0]
	bestDiff := diff8(dbm, best.dbm)
	for _, step := range txPowerSteps[1:] {
		if d := diff8(dbm, step.dbm); d < bestDiff {
			best, bestDiff = step, d
		}
	}
	mode := r.mode
	r.setMode(modeStandby)
	r.writeReg(regPaLevel, best.reg)
	r.writeReg(regTestPa1, 0x55)
	r.writeReg(regTestPa2, 0x70)
	r.setMode(mode)

	r.Lock()
	r.txPowerDbm = best.dbm
	r.Unlock()
	return r.Error()
}

func diff8(a, b int8) int8 {
	if a > b {
		return a - b
	}
	return b - a
}

// SetSyncWord programs the 32-bit sync word used to frame packets.
func (r *Radio) SetSyncWord(word uint32) error {
	mode := r.mode
	r.setMode(modeStandby)
	r.writeReg(regSyncConfig, 0x80+(4-1)<<3)
	r.writeReg(regSyncValue1,
		byte(word>>24), byte(word>>16), byte(word>>8), byte(word))
	r.setMode(mode)

	r.Lock()
	r.syncWord = word
	r.Unlock()
	return r.Error()
}

// SetMode changes the radio's operating mode and blocks until reached.
func (r *Radio) SetMode(m phy.Mode) error {
	reg := map[phy.Mode]byte{
		phy.ModeSleep:   modeSleep,
		phy.ModeStandby: modeStandby,
		phy.ModeRx:      modeReceive,
		phy.ModeTx:      modeTransmit,
	}[m]
	r.setMode(reg)
	return r.Error()
}

// setMode is the internal register-level mode switch, adapted directly from
// the teacher's setMode: it avoids redundant writes, manages the DIO
// interrupt source per target mode, and busy-waits for ModeReady.
func (r *Radio) setMode(mode byte) {
	mode &= 0x1c
	if r.mode == mode {
		return
	}
	switch mode {
	case modeTransmit:
		r.writeReg(regDioMapping1, dioMapping+dioPktSent)
		r.writeReg(regOpMode, mode)
	case modeReceive:
		r.writeReg(regOpMode, mode)
		r.writeReg(regDioMapping1, dioMapping+dioRssi)
	default:
		if r.mode == modeReceive {
			r.writeReg(regDioMapping1, dioMapping)
			r.writeReg(regOpMode, mode)
		} else {
			r.writeReg(regOpMode, mode)
			r.writeReg(regDioMapping1, dioMapping)
		}
	}
	for start := time.Now(); time.Since(start) < 100*time.Millisecond; {
		if r.readReg(regIrqFlags1)&irq1ModeReady != 0 {
			r.mode = mode
			return
		}
	}
	r.Lock()
	r.err = errors.New("sxradio: timeout switching modes")
	r.Unlock()
}

// Transmit queues payload and blocks until the worker has loaded it into
// the FIFO and switched to transmit; it does not wait for the packet-sent
// interrupt. It returns ErrFifoStuck if either the hand-off to the worker
// or that load takes longer than FifoStuckTimeout.
func (r *Radio) Transmit(payload []byte) error {
	req := txRequest{payload: payload, done: make(chan struct{})}
	select {
	case r.txChan <- req:
	case <-time.After(phy.FifoStuckTimeout):
		return phy.ErrFifoStuck
	}
	select {
	case <-req.done:
		return r.Error()
	case <-time.After(phy.FifoStuckTimeout):
		return phy.ErrFifoStuck
	}
}

// TransmitAsync queues payload and returns immediately.
func (r *Radio) TransmitAsync(payload []byte) (<-chan struct{}, error) {
	req := txRequest{payload: payload, done: make(chan struct{})}
	select {
	case r.txChan <- req:
		return req.done, nil
	case <-time.After(phy.FifoStuckTimeout):
		return nil, phy.ErrFifoStuck
	}
}

// TransmitWithAck sends payload and waits up to ackWaitDefault for a reply
// frame, treating it as the acknowledgement.
func (r *Radio) TransmitWithAck(payload []byte) (phy.AckResult, error) {
	req := txRequest{
		payload:   payload,
		wantAck:   true,
		ackWindow: ackWaitDefault,
		ackResult: make(chan phy.AckResult, 1),
		done:      make(chan struct{}),
	}
	select {
	case r.txChan <- req:
	case <-time.After(phy.FifoStuckTimeout):
		return phy.AckResult{}, phy.ErrFifoStuck
	}
	select {
	case res := <-req.ackResult:
		return res, r.Error()
	case <-time.After(phy.FifoStuckTimeout + req.ackWindow):
		return phy.AckResult{}, phy.ErrFifoStuck
	}
}

// Receive returns the next queued frame, if any, without blocking.
func (r *Radio) Receive() (phy.RxFrame, bool) {
	select {
	case f := <-r.rxChan:
		return f, true
	default:
		return phy.RxFrame{}, false
	}
}

// RxAvailable reports whether a frame is queued.
func (r *Radio) RxAvailable() bool {
	return len(r.rxChan) > 0
}

// SetAckPayload stages payload to be clocked out with the next ACK, per
// §4.1's "staged before re-entering RX" contract.
func (r *Radio) SetAckPayload(payload []byte) error {
	r.Lock()
	r.ackPayload = append([]byte(nil), payload...)
	r.Unlock()
	return nil
}

// FlushTx discards any half-written TX FIFO content by forcing a mode
// bounce through FS.
func (r *Radio) FlushTx() error {
	mode := r.mode
	r.setMode(modeFs)
	r.setMode(mode)
	return r.Error()
}

// FlushRx restarts the receiver, discarding any partially received packet.
func (r *Radio) FlushRx() error {
	r.writeReg(regPktConfig2, 0x16)
	return r.Error()
}

// ReadRSSI triggers an RSSI measurement on the currently programmed channel
// and returns it in dBm, for the quality monitor's clear-channel assessment.
func (r *Radio) ReadRSSI() (int8, error) {
	mode := r.mode
	r.setMode(modeReceive)
	r.writeReg(regRssiConfig, 0x01)
	for start := time.Now(); time.Since(start) < time.Millisecond; {
		if r.readReg(regRssiConfig)&0x02 != 0 {
			break
		}
	}
	rssi := int8(0 - int(r.readReg(regRssiValue))/2)
	r.setMode(mode)
	return rssi, r.Error()
}

// GetTimeUs returns the host clock in microseconds; the chip has no
// free-running counter of its own that this driver exposes.
func (r *Radio) GetTimeUs() uint64 {
	return uint64(time.Now().UnixNano() / 1000)
}

// StartTimer runs cb every periodUs microseconds from a dedicated goroutine,
// standing in for the hardware timer interrupt a bare-metal build would use.
func (r *Radio) StartTimer(periodUs uint32, cb phy.TimerCallback) error {
	if r.timerStop != nil {
		return errors.New("sxradio: timer already running")
	}
	stop := make(chan struct{})
	r.timerStop = stop
	go func() {
		t := time.NewTicker(time.Duration(periodUs) * time.Microsecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				cb()
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// StopTimer stops a timer started by StartTimer.
func (r *Radio) StopTimer() error {
	if r.timerStop == nil {
		return nil
	}
	close(r.timerStop)
	r.timerStop = nil
	return nil
}

// Error returns any persistent error latched by the driver.
func (r *Radio) Error() error {
	r.Lock()
	defer r.Unlock()
	return r.err
}

// worker is the main loop, selecting between radio interrupts and queued TX
// requests, adapted from the teacher's worker() but generalized to also
// settle ack-wait requests.
func (r *Radio) worker() {
	intrChan := make(chan struct{})
	intrStop := make(chan struct{})
	go func() {
		if r.intrPin.Read() == phy.GpioHigh {
			intrChan <- struct{}{}
		}
		for {
			if r.intrPin.WaitForEdge(time.Second) {
				if r.intrPin.Read() == phy.GpioHigh {
					intrChan <- struct{}{}
				}
			} else {
				select {
				case <-intrStop:
					return
				default:
				}
			}
		}
	}()

	var pendingAck *txRequest
	for r.Error() == nil {
		select {
		case <-intrChan:
			switch r.mode {
			case modeReceive:
				r.intrReceive(pendingAck)
				pendingAck = nil
			case modeTransmit:
				r.intrTransmit()
			}
		case req := <-r.txChan:
			r.send(req.payload)
			close(req.done)
			if req.wantAck {
				ack := req
				pendingAck = &ack
				go func() {
					time.Sleep(req.ackWindow)
					select {
					case req.ackResult <- phy.AckResult{Acked: false}:
					default:
					}
				}()
			}
		}
	}
	close(r.rxChan)
	close(intrStop)
	r.intrPin.In(phy.GpioNoEdge)
	r.spi.Close()
}

// send pushes payload into the FIFO and switches to transmit.
func (r *Radio) send(payload []byte) {
	switch {
	case len(payload) > 65:
		payload = payload[:65]
	case len(payload) == 0:
		return
	}
	r.setMode(modeFs)
	buf := make([]byte, len(payload)+1)
	buf[0] = byte(len(payload))
	copy(buf[1:], payload)
	r.writeReg(regFifo|0x80, buf...)
	r.setMode(modeTransmit)
}

// intrTransmit handles the TX-done interrupt and returns to receive.
func (r *Radio) intrTransmit() {
	if irq2 := r.readReg(regIrqFlags2); irq2&irq2PacketSent == 0 {
		r.log("TX done interrupt, but packet not transmitted? %#x", irq2)
	}
	r.setMode(modeReceive)
}

// intrReceive drains a received packet from the FIFO, capturing RSSI at
// sync-match time, and hands it to the rx channel. If pendingAck is set,
// the frame also settles that outstanding TransmitWithAck call; otherwise,
// any payload staged by SetAckPayload is clocked out over the air now,
// standing in for the chip's auto-ack hardware.
func (r *Radio) intrReceive(pendingAck *txRequest) {
	t0 := time.Now()
	tOut := t0.Add(10 * time.Millisecond)

	readFifo := func() []byte {
		var wBuf, rBuf [67]byte
		wBuf[0] = regFifo
		r.Lock()
		r.spi.Tx(wBuf[:], rBuf[:])
		r.Unlock()
		return rBuf[1:]
	}

	var rssi int8
	for {
		irq2 := r.readReg(regIrqFlags2)
		if irq2&irq2PayloadReady != 0 {
			if irq2&irq2CrcOk == 0 {
				readFifo()
				return
			}
			break
		}
		irq1 := r.readReg(regIrqFlags1)
		if rssi == 0 && irq1&irq1SyncMatch != 0 {
			rssi = int8(0 - int(r.readReg(regRssiValue))/2)
		}
		if time.Now().After(tOut) {
			if irq2&irq2FifoNotEmpty != 0 {
				readFifo()
			}
			r.writeReg(regPktConfig2, 0x16)
			return
		}
		time.Sleep(100 * time.Microsecond)
	}

	buf := readFifo()
	l := buf[0]
	if l > 65 {
		r.log("rx packet too long (%d)", l)
		return
	}
	payload := append([]byte(nil), buf[1:1+l]...)

	if pendingAck != nil {
		select {
		case pendingAck.ackResult <- phy.AckResult{Acked: true, RSSI: rssi, Payload: payload}:
		default:
		}
		return
	}

	r.Lock()
	ack := append([]byte(nil), r.ackPayload...)
	r.Unlock()
	if len(ack) > 0 {
		r.send(ack)
	}

	frame := phy.RxFrame{Payload: payload, RSSI: rssi, At: t0}
	select {
	case r.rxChan <- frame:
	default:
		r.log("rxChan full")
	}
}

// readReg/writeReg/readReg16 are the SPI register primitives, unchanged in
// shape from the teacher driver.

func (r *Radio) writeReg(addr byte, data ...byte) {
	r.Lock()
	defer r.Unlock()
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = addr | 0x80
	copy(wBuf[1:], data)
	r.spi.Tx(wBuf, rBuf)
}

func (r *Radio) readReg(addr byte) byte {
	r.Lock()
	defer r.Unlock()
	var buf [2]byte
	r.spi.Tx([]byte{addr & 0x7f, 0}, buf[:])
	return buf[1]
}
