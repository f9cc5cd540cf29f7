// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sxradio

// Register map, generalized from the sx1231 driver for a chip with a 32-bit
// sync word and a channelized 2.4GHz synthesizer rather than a free-running
// sub-GHz one: the register addresses and IRQ bit layout are unchanged, only
// SetChannel's frequency programming and the sync/power register widths
// differ from the original.
const (
	regFifo        = 0x00
	regOpMode      = 0x01
	regDataModul   = 0x02
	regBitrateMsb  = 0x03
	regFdevMsb     = 0x05
	regFrfMsb      = 0x07
	regAfcCtrl     = 0x0B
	regVersion     = 0x10
	regPaLevel     = 0x11
	regRxBw        = 0x19
	regAfcBw       = 0x1A
	regRssiConfig  = 0x23
	regRssiValue   = 0x24
	regDioMapping1 = 0x25
	regIrqFlags1   = 0x27
	regIrqFlags2   = 0x28
	regRssiThresh  = 0x29
	regSyncConfig  = 0x2E
	regSyncValue1  = 0x2F
	regFifoThresh  = 0x3C
	regPktConfig2  = 0x3D
	regAutoAck     = 0x3E // auto-acknowledge and payload staging control
	regTestPa1     = 0x5A
	regTestPa2     = 0x5C

	modeSleep    = 0 << 2
	modeStandby  = 1 << 2
	modeFs       = 2 << 2
	modeTransmit = 3 << 2
	modeReceive  = 4 << 2

	irq1ModeReady = 1 << 7
	irq1RxReady   = 1 << 6
	irq1Rssi      = 1 << 3
	irq1Timeout   = 1 << 2
	irq1SyncMatch = 1 << 0

	irq2FifoNotEmpty = 1 << 6
	irq2PacketSent    = 1 << 3
	irq2PayloadReady  = 1 << 2
	irq2CrcOk         = 1 << 1

	dioMapping  = 0x31
	dioRssi     = 0xC0
	dioPktSent  = 0x00
)

// configRegs holds the one-time register setup written during Init, as
// <address, data> pairs, matching the teacher's configRegs shape.
var configRegs = []byte{
	regOpMode, 0x00,
	regPaLevel, 0x9F,
	0x12, 0x09, // PA ramp, 40us
	regDioMapping1, dioMapping,
	0x26, 0x07, // disable clkout
	regRssiThresh, 0xA8,
	0x2A, 0x00, // disable RxStart timeout
	0x2B, 0x40, // RssiTimeout after 2*64 bytes
	0x2D, 0x05, // preamble size = 5
	0x37, 0xD8, // PacketConfig1 = variable length, whitened, no addr filter, CRC ignored by chip
	0x38, 0x42, // PayloadLength = max 66
	regFifoThresh, 0x8F,
	regPktConfig2, 0x12, // interpkt=1, autorxrestart on
}

// txPowerSteps is the ordered set of output power levels the radio can be
// commanded to, per §4.1's "-20..+4 dBm" contract; SetTxPower snaps to the
// nearest entry and programs the corresponding register value.
var txPowerSteps = []struct {
	dbm int8
	reg byte
}{
	{-20, 0x80 + 18 - 20},
	{-10, 0x80 + 18 - 10},
	{-5, 0x80 + 18 - 5},
	{0, 0x80 + 18 + 0},
	{1, 0x80 + 18 + 1},
	{2, 0x80 + 18 + 2},
	{3, 0x80 + 18 + 3},
	{4, 0x80 + 18 + 4},
}
