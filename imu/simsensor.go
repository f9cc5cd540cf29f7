package imu

import "math"

// SimSensor is a deterministic synthetic sensor for tests and
// cmd/tracker-sim: it generates a slow constant-rate rotation about the Z
// axis plus gravity on the body frame, with no randomness, so a simulated
// tracker run is exactly reproducible.
type SimSensor struct {
	// RateDegPerSec is the constant Z-axis rotation rate the sensor
	// reports whenever it is not suspended.
	RateDegPerSec float64
	// SampleHz records the nominal sampling rate; 200 matches §4.5's fusion
	// rate. DataReady is not paced by it: it reports true whenever the
	// sensor is not suspended.
	SampleHz float64

	suspended bool
	womArmed  bool
	sample    uint64
}

// NewSimSensor returns a sensor reporting a constant rateDegPerSec Z-axis
// rotation at 200Hz.
func NewSimSensor(rateDegPerSec float64) *SimSensor {
	return &SimSensor{RateDegPerSec: rateDegPerSec, SampleHz: 200}
}

func (s *SimSensor) Init() error { return nil }

func (s *SimSensor) ReadRaw() (Raw, error) {
	if s.suspended {
		return Raw{}, ErrNotReady
	}
	s.sample++
	// 0.01 deg/s units, per the raw wire convention fusion.Step expects.
	gz := int16(s.RateDegPerSec * 100)
	return Raw{
		Gyro:  [3]int16{0, 0, gz},
		Accel: [3]int16{0, 0, 1000}, // steady 1g on +Z, device upright
	}, nil
}

func (s *SimSensor) ReadScaled() (Scaled, error) {
	if s.suspended {
		return Scaled{}, ErrNotReady
	}
	return Scaled{
		Gyro:  [3]float64{0, 0, s.RateDegPerSec * math.Pi / 180},
		Accel: [3]float64{0, 0, 1.0},
	}, nil
}

func (s *SimSensor) DataReady() bool { return !s.suspended }

func (s *SimSensor) Suspend() error { s.suspended = true; return nil }
func (s *SimSensor) Resume() error  { s.suspended = false; return nil }

func (s *SimSensor) EnableWOM(thresholdMg uint16) error { s.womArmed = true; return nil }
func (s *SimSensor) DisableWOM() error                  { s.womArmed = false; return nil }

var _ Sensor = (*SimSensor)(nil)
