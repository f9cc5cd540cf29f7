package packet

import (
	"math"
	"testing"
)

func TestSyncBeaconRoundTrip(t *testing.T) {
	b := SyncBeacon{
		FrameNo:      0x1234,
		ActiveMask:   0xBEEF,
		NextChannels: [NumHopChannels]byte{1, 2, 3, 4, 5},
		TxPower:      -20,
	}
	wire := b.Build()
	if len(wire) != SyncBeaconBytes {
		t.Fatalf("Build len = %d, want %d", len(wire), SyncBeaconBytes)
	}
	got, err := ParseSyncBeacon(wire)
	if err != nil {
		t.Fatalf("ParseSyncBeacon: %v", err)
	}
	if got != b {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, b)
	}
}

func TestDataRoundTripBoundaryValues(t *testing.T) {
	cases := []Data{
		{TrackerID: 0, Seq: 0, Quat: [4]int16{32767, -32768, 0, 1}, AccelMg: [3]int16{-32768, 32767, 0}, Battery: 0, Flags: 0},
		{TrackerID: 15, Seq: 255, Quat: [4]int16{1, 2, 3, 4}, AccelMg: [3]int16{1000, -1000, 0}, Battery: 100, Flags: FlagRest | FlagLowBattery},
	}
	for i, d := range cases {
		wire := d.Build()
		if len(wire) != DataBytes {
			t.Fatalf("case %d: Build len = %d, want %d", i, len(wire), DataBytes)
		}
		got, err := ParseData(wire)
		if err != nil {
			t.Fatalf("case %d: ParseData: %v", i, err)
		}
		if got != d {
			t.Fatalf("case %d: round trip mismatch: got %+v want %+v", i, got, d)
		}
	}
}

func TestAckRoundTrip(t *testing.T) {
	a := Ack{TrackerID: 3, AckSeq: 42, Command: CmdCalibrate, Param: 7}
	got, err := ParseAck(a.Build())
	if err != nil || got != a {
		t.Fatalf("round trip mismatch: got %+v, err %v, want %+v", got, err, a)
	}
}

func TestPairingFramesRoundTrip(t *testing.T) {
	req := PairRequest{Mac: [6]byte{2, 0, 0, 0x12, 0x34, 0x56}, DeviceType: 1, FwVersion: [2]byte{1, 2}}
	if got, err := ParsePairRequest(req.Build()); err != nil || got != req {
		t.Fatalf("PairRequest round trip: got %+v, err %v, want %+v", got, err, req)
	}

	resp := PairResponse{
		Mac: [6]byte{2, 0, 0, 0x12, 0x34, 0x56}, TrackerID: 0,
		ReceiverMac: [6]byte{2, 0, 0, 0xAA, 0xBB, 0xCC}, NetworkKey: 0xCAFEBABE,
	}
	if got, err := ParsePairResponse(resp.Build()); err != nil || got != resp {
		t.Fatalf("PairResponse round trip: got %+v, err %v, want %+v", got, err, resp)
	}

	confirm := PairConfirm{TrackerID: 0, Mac: [6]byte{2, 0, 0, 0x12, 0x34, 0x56}, Status: 0}
	if got, err := ParsePairConfirm(confirm.Build()); err != nil || got != confirm {
		t.Fatalf("PairConfirm round trip: got %+v, err %v, want %+v", got, err, confirm)
	}
}

func TestUltraDataRoundTripAndWClampNotWrap(t *testing.T) {
	u := UltraData{
		TrackerID: 2, Seq: 9,
		QuatXYZ:  [3]int16{10000, -10000, 5000},
		AccelXY:  [2]int16{900, -900},
		AccelZMg: 3000, // beyond the 12-bit field's max, must saturate at 2047
		Battery:  93,   // quantizes down to a 1/15th step
	}
	wire := u.Build()
	if len(wire) != UltraDataBytes {
		t.Fatalf("Build len = %d, want %d", len(wire), UltraDataBytes)
	}
	got, err := ParseUltraData(wire)
	if err != nil {
		t.Fatalf("ParseUltraData: %v", err)
	}
	if got.TrackerID != u.TrackerID || got.Seq != u.Seq {
		t.Fatalf("header mismatch: got %+v want %+v", got, u)
	}
	if got.AccelZMg != 2047 {
		t.Fatalf("AccelZMg = %d, want clamp to 2047 (not wrap)", got.AccelZMg)
	}
	w := ReconstructW(got.QuatXYZ)
	if w < 0 {
		t.Fatalf("reconstructed w must be >=0 by convention, got %d", w)
	}
	// |q| should still be close to 1 after quantization.
	mag := math.Sqrt(sq(got.QuatXYZ[0]) + sq(got.QuatXYZ[1]) + sq(got.QuatXYZ[2]) + sq(w))
	if mag < 0.9 || mag > 1.1 {
		t.Fatalf("reconstructed |q| = %f, want ~1", mag)
	}
}

func sq(v int16) float64 {
	f := float64(v) / 32767
	return f * f
}

func TestParseRejectsBadMagicLenCrc(t *testing.T) {
	good := Ack{TrackerID: 1, AckSeq: 2, Command: 0, Param: 0}.Build()

	badMagic := append([]byte{}, good...)
	badMagic[0] = 0x99
	if _, err := ParseAck(badMagic); err != ErrBadMagic {
		t.Errorf("bad magic: got %v, want ErrBadMagic", err)
	}

	badLen := append([]byte{}, good...)
	badLen = badLen[:len(badLen)-1]
	if _, err := ParseAck(badLen); err != ErrBadLen {
		t.Errorf("bad len: got %v, want ErrBadLen", err)
	}

	badCrc := append([]byte{}, good...)
	badCrc[len(badCrc)-1] ^= 0xFF
	if _, err := ParseAck(badCrc); err == nil {
		t.Errorf("bad crc: got nil error, want ErrBadCrc")
	}
}

func TestClampQ15DoesNotWrap(t *testing.T) {
	if v := ClampQ15(2.0); v != 32767 {
		t.Errorf("ClampQ15(2.0) = %d, want 32767", v)
	}
	if v := ClampQ15(-2.0); v != -32768 {
		t.Errorf("ClampQ15(-2.0) = %d, want -32768", v)
	}
}
