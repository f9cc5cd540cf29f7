package fusion

import "testing"

func quatMagnitude(q [4]int16) float64 {
	sumSq := 0.0
	for _, v := range q {
		f := float64(v) / 32768
		sumSq += f * f
	}
	return sumSq
}

func TestStepKeepsUnitQuaternion(t *testing.T) {
	s := NewIdentity()
	gyro := [3]int16{50, -30, 10}
	accel := [3]int16{0, 0, 1000}
	for i := 0; i < 1000; i++ {
		s.Step(gyro, accel)
		mag := quatMagnitude(s.Quat)
		if mag < 0.9 || mag > 1.1 {
			t.Fatalf("step %d: |q|^2 = %f, want ~1", i, mag)
		}
	}
}

func TestStepStationaryEntersRestAndLearnsBias(t *testing.T) {
	s := NewIdentity()
	// Small constant gyro offset simulating a sensor bias, accel steady at 1g.
	gyro := [3]int16{200, -150, 50}
	accel := [3]int16{0, 0, 1000}
	for i := 0; i < RestEnterRun+50; i++ {
		s.Step(gyro, accel)
	}
	if s.Flags&FlagRest == 0 {
		t.Fatalf("expected FlagRest set after %d stationary samples", RestEnterRun+50)
	}
	if s.GyroBias == ([3]int16{}) {
		t.Errorf("expected gyro bias to have learned something nonzero, got %+v", s.GyroBias)
	}
}

func TestStepHighRateMotionClearsRest(t *testing.T) {
	s := NewIdentity()
	s.Flags |= FlagRest
	s.RestCount = RestEnterRun
	// A fast rotation should exceed restHighThresh and evict rest.
	s.Step([3]int16{32767, 32767, 32767}, [3]int16{0, 0, 1000})
	if s.Flags&FlagRest != 0 {
		t.Errorf("expected rest to be cleared by high angular rate")
	}
	if s.RestCount != 0 {
		t.Errorf("RestCount = %d, want 0 after leaving rest", s.RestCount)
	}
}

func TestSetQuatResetsRestCount(t *testing.T) {
	s := NewIdentity()
	s.RestCount = 42
	s.SetQuat(32767, 0, 0, 0)
	if s.RestCount != 0 {
		t.Errorf("SetQuat did not reset RestCount: got %d", s.RestCount)
	}
}

func TestResetPreservesGainsAndDtShift(t *testing.T) {
	s := NewIdentity()
	s.DtShift = 2
	s.KAcc = 999
	s.KBias = 111
	s.RestCount = 50
	s.GyroBias = [3]int16{7, 8, 9}

	s.Reset()

	if s.DtShift != 2 || s.KAcc != 999 || s.KBias != 111 {
		t.Errorf("Reset changed DtShift/KAcc/KBias: got %+v", s)
	}
	if s.RestCount != 0 || s.GyroBias != ([3]int16{}) {
		t.Errorf("Reset did not zero rest_count/gyro_bias: got %+v", s)
	}
	if s.Quat != ([4]int16{32767, 0, 0, 0}) {
		t.Errorf("Reset did not restore identity quaternion: got %+v", s.Quat)
	}
}

func TestDegenerateQuaternionTriggersSaturationReset(t *testing.T) {
	s := NewIdentity()
	s.Quat = [4]int16{0, 0, 0, 0} // force a zero-magnitude quaternion
	var loggedCount int
	s.LogPrintf = func(string, ...interface{}) { loggedCount++ }

	s.Step([3]int16{0, 0, 0}, [3]int16{0, 0, 1000})

	if s.SaturationCount != 1 {
		t.Errorf("SaturationCount = %d, want 1", s.SaturationCount)
	}
	if loggedCount != 1 {
		t.Errorf("expected exactly one saturation log line, got %d", loggedCount)
	}
	if s.Quat != ([4]int16{32767, 0, 0, 0}) {
		t.Errorf("expected reset to identity after degenerate quaternion, got %+v", s.Quat)
	}
}

func TestStepTracksReferenceForSmallRotation(t *testing.T) {
	s := NewIdentity()
	gyro := [3]int16{100, 0, 0}
	accel := [3]int16{0, 0, 1000}
	s.Step(gyro, accel)

	ref := ReferenceStep([4]float64{1, 0, 0, 0}, gyro, 0)

	got := [4]float64{
		float64(s.Quat[0]) / 32768,
		float64(s.Quat[1]) / 32768,
		float64(s.Quat[2]) / 32768,
		float64(s.Quat[3]) / 32768,
	}
	for i := range got {
		diff := got[i] - ref[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > 0.01 {
			t.Errorf("component %d: fixed-point %f vs reference %f differ by %f", i, got[i], ref[i], diff)
		}
	}
}

func TestHighDynamicsGateSkipsAccelCorrection(t *testing.T) {
	s := NewIdentity()
	before := s.AccelLP
	// 3g, well outside the [0.5g,1.5g] gate: accel_lp must not move.
	s.Step([3]int16{0, 0, 0}, [3]int16{0, 0, 3000})
	if s.AccelLP != before {
		t.Errorf("accel_lp updated despite high-dynamics gate: before %+v after %+v", before, s.AccelLP)
	}
}
