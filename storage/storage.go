// Package storage implements the non-volatile storage trait (§6) and the
// fixed-offset records persisted on top of it: the pairing blob (shared by
// tracker and receiver, in slightly different shapes) and the crash
// snapshot, both magic-and-CRC16 guarded exactly like the wire frames in
// package packet, which this package's encoding deliberately mirrors.
package storage

import (
	"errors"
	"fmt"

	"github.com/tve/vrlink/crc16"
)

// PageSize is the erase/write granularity the NVS trait's page-aligned
// semantics are defined in terms of (§6).
const PageSize = 256

// Fixed offsets for the two persisted record kinds (§6 "Persisted state").
// A real flash layout would derive these from a linker script; here they
// are plain constants since nothing else claims storage space.
const (
	PairingOffset       = 0
	CrashSnapshotOffset = 1 * PageSize
)

var (
	// ErrNotAligned is returned by Erase/Write when offset or length is not
	// a multiple of PageSize (§6 "page-aligned semantics").
	ErrNotAligned = errors.New("storage: offset/length not page-aligned")
	// ErrBadMagic is returned when a record's magic word(s) don't match.
	ErrBadMagic = errors.New("storage: bad magic")
	// ErrBadCrc is returned when a record's trailing CRC16 doesn't verify.
	ErrBadCrc = errors.New("storage: bad crc")
)

// NVS is the non-volatile storage trait (§6): byte-addressable reads, but
// erase and write are page-aligned, matching flash semantics.
type NVS interface {
	Read(offset uint32, buf []byte) error
	Erase(offset uint32, length uint32) error
	Write(offset uint32, data []byte) error
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func getU16(b []byte) uint16    { return uint16(b[0]) | uint16(b[1])<<8 }
func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func sealCrc(buf []byte) []byte {
	putU16(buf[len(buf)-2:], crc16.CCITT(buf[:len(buf)-2]))
	return buf
}

func checkCrc(buf []byte) error {
	want := getU16(buf[len(buf)-2:])
	if got := crc16.CCITT(buf[:len(buf)-2]); got != want {
		return fmt.Errorf("%w: got %#04x want %#04x", ErrBadCrc, got, want)
	}
	return nil
}

// alignedSize rounds n up to the next multiple of PageSize, the size an
// Erase/Write call covering a record of n bytes must use.
func alignedSize(n int) uint32 {
	pages := (uint32(n) + PageSize - 1) / PageSize
	if pages == 0 {
		pages = 1
	}
	return pages * PageSize
}

// writeRecord erases and rewrites the page(s) backing a fixed-offset
// record, matching the NVS trait's page-aligned write contract.
func writeRecord(nvs NVS, offset uint32, buf []byte) error {
	size := alignedSize(len(buf))
	if err := nvs.Erase(offset, size); err != nil {
		return err
	}
	return nvs.Write(offset, buf)
}
