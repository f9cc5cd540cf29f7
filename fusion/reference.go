package fusion

import "math"

// ReferenceStep is a floating-point re-implementation of Step's gyro
// integration and renormalization, used only from tests to sanity-check
// the fixed-point hot path (§9: "a floating-point reference implementation
// MAY be provided for test cross-checks but MUST NOT appear on the device
// hot path"). It takes the same raw units as Step and returns the
// resulting quaternion as float64 components in [-1,1].
func ReferenceStep(quat [4]float64, gyroRaw [3]int16, dtShift uint8) [4]float64 {
	dt := 0.005 * float64(uint32(1)<<dtShift)
	const deg2rad = math.Pi / 180 * 0.01

	w, x, y, z := quat[0], quat[1], quat[2], quat[3]
	wx := float64(gyroRaw[0]) * deg2rad
	wy := float64(gyroRaw[1]) * deg2rad
	wz := float64(gyroRaw[2]) * deg2rad

	dw := 0.5 * dt * (-x*wx - y*wy - z*wz)
	dx := 0.5 * dt * (w*wx + y*wz - z*wy)
	dy := 0.5 * dt * (w*wy + z*wx - x*wz)
	dz := 0.5 * dt * (w*wz + x*wy - y*wx)

	nq := [4]float64{w + dw, x + dx, y + dy, z + dz}
	mag := math.Sqrt(nq[0]*nq[0] + nq[1]*nq[1] + nq[2]*nq[2] + nq[3]*nq[3])
	if mag == 0 {
		return [4]float64{1, 0, 0, 0}
	}
	return [4]float64{nq[0] / mag, nq[1] / mag, nq[2] / mag, nq[3] / mag}
}
