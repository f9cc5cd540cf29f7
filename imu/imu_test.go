package imu

import "testing"

func TestSimSensorReportsConfiguredRate(t *testing.T) {
	s := NewSimSensor(90)
	raw, err := s.ReadRaw()
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if raw.Gyro[2] != 9000 {
		t.Errorf("Gyro.Z = %d, want 9000 (90 deg/s in 0.01deg/s units)", raw.Gyro[2])
	}
	if raw.Accel != [3]int16{0, 0, 1000} {
		t.Errorf("Accel = %+v, want steady 1g on Z", raw.Accel)
	}
}

func TestSimSensorSuspendStopsSamples(t *testing.T) {
	s := NewSimSensor(10)
	if err := s.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if s.DataReady() {
		t.Errorf("DataReady() = true while suspended")
	}
	if _, err := s.ReadRaw(); err != ErrNotReady {
		t.Errorf("ReadRaw while suspended = %v, want ErrNotReady", err)
	}
}

func TestSimSensorResumeRestoresSamples(t *testing.T) {
	s := NewSimSensor(10)
	s.Suspend()
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !s.DataReady() {
		t.Errorf("DataReady() = false after Resume")
	}
	if _, err := s.ReadRaw(); err != nil {
		t.Errorf("ReadRaw after Resume: %v", err)
	}
}

func TestSimSensorScaledMatchesRawConversion(t *testing.T) {
	s := NewSimSensor(180)
	scaled, err := s.ReadScaled()
	if err != nil {
		t.Fatalf("ReadScaled: %v", err)
	}
	const pi = 3.14159265358979
	if diff := scaled.Gyro[2] - pi; diff > 0.001 || diff < -0.001 {
		t.Errorf("Gyro.Z = %f rad/s, want ~pi for 180 deg/s", scaled.Gyro[2])
	}
	if scaled.Accel[2] != 1.0 {
		t.Errorf("Accel.Z = %f, want 1.0g", scaled.Accel[2])
	}
}
