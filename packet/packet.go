// Package packet implements the wire codec (C2): building and parsing the
// six frame kinds that cross the air interface, little-endian throughout,
// each with a trailing CRC16-CCITT computed over everything preceding it.
//
// Per §9's first "best effort" note, the source format this was distilled
// from told sync-beacon and tracker-data frames apart by length, which
// breaks the moment a future frame happens to share a length. This codec
// commits to an explicit one-byte type discriminator (Type) instead, and
// keeps a Len byte for defensive validation independent of Type. The
// concrete frame sizes below are the sums of each frame's fields, Type and
// Len included.
//
// Per §9's second note, the placeholder pairing magic is committed here to
// TypePairRequest = 0x20, matching the enum ordering the draft implied.
package packet

import (
	"errors"
	"fmt"

	"github.com/tve/vrlink/crc16"
)

// Frame type discriminators (first byte of every frame on the air).
const (
	TypeSyncBeacon   = 0x01
	TypeData         = 0x02
	TypeAck          = 0x03
	TypeUltraData    = 0x04
	TypePairRequest  = 0x20
	TypePairResponse = 0x21
	TypePairConfirm  = 0x22
)

// Concrete frame sizes, including the trailing CRC16.
const (
	SyncBeaconBytes   = 14
	DataBytes         = 22
	AckBytes          = 8
	UltraDataBytes    = 13
	PairRequestBytes  = 13
	PairResponseBytes = 21
	PairConfirmBytes  = 12
)

// NumHopChannels is the number of precomputed upcoming channels a beacon
// carries, so a tracker can keep hopping correctly even if it misses the
// next several beacons (§4.3).
const NumHopChannels = 5

var (
	// ErrBadMagic is returned when the leading type byte is not one this
	// codec recognizes.
	ErrBadMagic = errors.New("packet: bad type byte")
	// ErrBadLen is returned when the buffer length doesn't match what Type
	// requires.
	ErrBadLen = errors.New("packet: bad length")
	// ErrBadCrc is returned when the trailing CRC16 doesn't verify.
	ErrBadCrc = errors.New("packet: bad crc")
)

// ClampQ15 converts a float in roughly [-1,1] to a Q15 fixed-point int16,
// clamping rather than wrapping on overflow (§4.2's Q15 convention).
func ClampQ15(f float64) int16 {
	v := int32(f * 32767)
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func getU16(b []byte) uint16    { return uint16(b[0]) | uint16(b[1])<<8 }
func putI16(b []byte, v int16)  { putU16(b, uint16(v)) }
func getI16(b []byte) int16     { return int16(getU16(b)) }
func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// sealCrc appends the little-endian CRC16-CCITT of buf[:len(buf)-2] into the
// final two bytes of buf, which must already be sized for the trailing CRC.
func sealCrc(buf []byte) []byte {
	c := crc16.CCITT(buf[:len(buf)-2])
	putU16(buf[len(buf)-2:], c)
	return buf
}

// checkCrc verifies buf's trailing CRC16-CCITT.
func checkCrc(buf []byte) error {
	want := getU16(buf[len(buf)-2:])
	got := crc16.CCITT(buf[:len(buf)-2])
	if want != got {
		return fmt.Errorf("%w: got %#04x want %#04x", ErrBadCrc, got, want)
	}
	return nil
}

// PeekType returns the frame type of buf without validating it, so a caller
// can dispatch to the right Parse function. It returns ErrBadLen if buf is
// empty.
func PeekType(buf []byte) (byte, error) {
	if len(buf) < 1 {
		return 0, ErrBadLen
	}
	return buf[0], nil
}
