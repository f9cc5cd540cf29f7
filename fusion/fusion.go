// Package fusion implements the 200 Hz orientation filter (C5): gyro
// integration, accelerometer-gated gravity correction, and rest-gated gyro
// bias learning, entirely in fixed-point Q15/Q31 arithmetic on the hot
// path. A floating-point reference implementation lives in reference.go for
// test cross-checks only, per §9's "MUST NOT appear on the device hot
// path" rule.
package fusion

// Flags bits carried in State.Flags.
const (
	FlagRest = 1 << 0
)

// Rest-detection hysteresis, expressed as squared angular rate thresholds
// in the same Q15 small-angle-increment domain Step computes internally
// (so no extra conversion is needed at the comparison site). RestEnterRun
// is how many consecutive low-rate samples are required before entering
// rest (~100 samples ≈ 0.5 s at 200 Hz, §4.5 step 6).
const (
	restLowThresh  = 300  // sum of squared per-axis deltas, ≈12 deg/s at DtShift 0
	restHighThresh = 1200 // 2x the low threshold in rate terms (≈24 deg/s), per §4.5
	RestEnterRun   = 100
)

// Accelerometer high-dynamics gate, in squared milli-g (0.5g..1.5g).
const (
	accelGateLowMgSq  = 500 * 500
	accelGateHighMgSq = 1500 * 1500
)

// Default gains, Q15 (scale 1<<15).
const (
	DefaultKAcc  = 328 // ≈0.01
	DefaultKBias = 33  // ≈0.001
)

// State is the fusion filter's persistent state (§3 "Fusion state").
type State struct {
	Quat        [4]int16 // w,x,y,z, Q15, unit magnitude
	GyroBias    [3]int16 // Q15 small-angle-increment domain
	AccelLP     [3]int16 // Q15, low-passed normalized gravity estimate
	KAcc        int16    // Q15 correction gain
	KBias       int16    // Q15 bias-learning gain
	RestCount   uint16
	SampleCount uint16
	DtShift     uint8
	Flags       uint8

	// SaturationCount counts resets forced by a degenerate quaternion; it
	// is diagnostic only and not part of the persisted 32-byte state.
	SaturationCount uint32

	// LogPrintf, if non-nil, receives a line for each saturation reset.
	// Mirrors the nil-means-no-op logging seam used throughout this
	// module.
	LogPrintf func(string, ...interface{})
}

// NewIdentity returns a filter state at the identity orientation with
// default gains, ready to Step.
func NewIdentity() *State {
	s := &State{KAcc: DefaultKAcc, KBias: DefaultKBias}
	s.SetQuat(32767, 0, 0, 0)
	s.AccelLP = [3]int16{0, 0, 32767}
	return s
}

// SetQuat forces the orientation, resetting RestCount so a forced
// orientation (e.g. a wake restore) doesn't trick the rest detector
// (§4.5 boundary policy).
func (s *State) SetQuat(w, x, y, z int16) {
	s.Quat = [4]int16{w, x, y, z}
	s.RestCount = 0
}

// Reset zeros everything except DtShift, KAcc, KBias (§4.5 boundary
// policy) and restores the identity orientation.
func (s *State) Reset() {
	dtShift, kAcc, kBias := s.DtShift, s.KAcc, s.KBias
	*s = State{DtShift: dtShift, KAcc: kAcc, KBias: kBias, LogPrintf: s.LogPrintf}
	s.SetQuat(32767, 0, 0, 0)
	s.AccelLP = [3]int16{0, 0, 32767}
}

func (s *State) logf(format string, args ...interface{}) {
	if s.LogPrintf != nil {
		s.LogPrintf(format, args...)
	}
}

func mulQ15(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> 15)
}

// invSqrtQ15 returns 1/sqrt(x) in Q15 for x a Q15 value in
// (0, invSqrtDomainHi]. It looks up invSqrtTable and refines with one
// Newton-Raphson iteration, matching §9's "precomputed ... tables"
// requirement for the fixed-point hot path.
func invSqrtQ15(x int32) int32 {
	if x <= 0 {
		return 32767
	}
	const lowQ15 = int64(invSqrtDomainLo * 32768)
	const rangeQ15 = int64((invSqrtDomainHi - invSqrtDomainLo) * 32768)

	pos := int64(x) - lowQ15
	if pos < 0 {
		pos = 0
	}
	idxFixed := (pos * invSqrtSteps << 16) / rangeQ15
	if idxFixed >= invSqrtSteps<<16 {
		idxFixed = invSqrtSteps<<16 - 1
	}
	idx := idxFixed >> 16
	frac := idxFixed & 0xFFFF

	lo := invSqrtTable[idx]
	hi := invSqrtTable[idx+1]
	y := int32(int64(lo) + (int64(hi-lo)*frac)>>16)

	// One Newton-Raphson refinement: y *= 1.5 - 0.5*x*y*y.
	const threeHalvesQ15 = 49152
	const halfQ15 = 16384
	y2 := mulQ15(y, y)
	xy2 := mulQ15(x, y2)
	halfxy2 := mulQ15(halfQ15, xy2)
	term := int32(threeHalvesQ15) - halfxy2
	return mulQ15(y, term)
}

// applyDelta computes the un-normalized small-angle quaternion update
// q += ½·q⊗[0,d] where d is already the ½·ω·dt (or ½·e·k_acc) increment
// vector. Used both for gyro integration (step 2) and the accelerometer
// correction nudge (step 5), which share the same math.
func applyDelta(q [4]int32, d [3]int32) [4]int32 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	dx, dy, dz := d[0], d[1], d[2]

	dw := -mulQ15(x, dx) - mulQ15(y, dy) - mulQ15(z, dz)
	ndx := mulQ15(w, dx) + mulQ15(y, dz) - mulQ15(z, dy)
	ndy := mulQ15(w, dy) + mulQ15(z, dx) - mulQ15(x, dz)
	ndz := mulQ15(w, dz) + mulQ15(x, dy) - mulQ15(y, dx)

	return [4]int32{w + dw, x + ndx, y + ndy, z + ndz}
}

// integrate applies applyDelta and renormalizes the result. The caller
// must check isDegenerate before trusting the normalized output.
func integrate(q [4]int32, d [3]int32) [4]int32 {
	return normalize(applyDelta(q, d))
}

func normalize(q [4]int32) [4]int32 {
	sumSq := mulQ15(q[0], q[0]) + mulQ15(q[1], q[1]) + mulQ15(q[2], q[2]) + mulQ15(q[3], q[3])
	if sumSq <= 0 {
		return [4]int32{32767, 0, 0, 0}
	}
	inv := invSqrtQ15(sumSq)
	return [4]int32{
		mulQ15(q[0], inv),
		mulQ15(q[1], inv),
		mulQ15(q[2], inv),
		mulQ15(q[3], inv),
	}
}

func clampQ15(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

// isDegenerate reports whether q's magnitude is far enough from unity that
// renormalization can no longer be trusted (§4.5 "yields a degenerate
// quaternion" boundary policy).
func isDegenerate(q [4]int32) bool {
	sumSq := mulQ15(q[0], q[0]) + mulQ15(q[1], q[1]) + mulQ15(q[2], q[2]) + mulQ15(q[3], q[3])
	return sumSq < 1024 // ≈0.03 in Q15: near-zero vector, can't normalize sanely
}

// Step advances the filter by one sample. gyroRaw is in units of 0.01
// deg/s per axis; accelMg is milli-g per axis. Both are the IMU sensor
// trait's raw_read() units (§6).
func (s *State) Step(gyroRaw [3]int16, accelMg [3]int16) {
	s.SampleCount++

	q := [4]int32{int32(s.Quat[0]), int32(s.Quat[1]), int32(s.Quat[2]), int32(s.Quat[3])}

	factor := gyroDeltaFactor[s.DtShift&7]
	var rawDelta, d [3]int32
	var omegaSq int64
	for i, raw := range gyroRaw {
		delta := int32((int64(raw) * factor) >> 30)
		rawDelta[i] = delta
		d[i] = delta - int32(s.GyroBias[i]) // step 1: subtract learned bias
		omegaSq += int64(d[i]) * int64(d[i])
	}

	unnormalized := applyDelta(q, d)
	if isDegenerate(unnormalized) {
		saturations := s.SaturationCount + 1
		s.logf("fusion: degenerate quaternion, resetting to identity (count=%d)", saturations)
		s.Reset()
		s.SaturationCount = saturations
		return
	}
	q = normalize(unnormalized)

	// Accelerometer gate and correction (steps 3-5).
	var accelQ15 [3]int32
	var accelMgSq int64
	for i, mg := range accelMg {
		accelMgSq += int64(mg) * int64(mg)
		// mg -> Q15 assuming 1000 mg == 1.0 g == one unit vector component.
		accelQ15[i] = clampToQ15Range(int64(mg) * 32767 / 1000)
	}

	if accelMgSq >= accelGateLowMgSq && accelMgSq <= accelGateHighMgSq {
		magSq := mulQ15(accelQ15[0], accelQ15[0]) + mulQ15(accelQ15[1], accelQ15[1]) + mulQ15(accelQ15[2], accelQ15[2])
		inv := invSqrtQ15(magSq)
		norm := [3]int32{mulQ15(accelQ15[0], inv), mulQ15(accelQ15[1], inv), mulQ15(accelQ15[2], inv)}

		kAcc := int32(s.KAcc)
		lp := [3]int32{int32(s.AccelLP[0]), int32(s.AccelLP[1]), int32(s.AccelLP[2])}
		for i := range lp {
			lp[i] += mulQ15(kAcc, norm[i]-lp[i])
		}
		s.AccelLP = [3]int16{clampQ15(lp[0]), clampQ15(lp[1]), clampQ15(lp[2])}

		// Predicted gravity direction in the body frame from the current
		// orientation estimate (closed form for rotating [0,0,1] by q*).
		w, x, y, z := q[0], q[1], q[2], q[3]
		vx := 2 * (mulQ15(x, z) - mulQ15(w, y))
		vy := 2 * (mulQ15(y, z) + mulQ15(w, x))
		vz := mulQ15(w, w) - mulQ15(x, x) - mulQ15(y, y) + mulQ15(z, z)

		lpx, lpy, lpz := lp[0], lp[1], lp[2]
		ex := mulQ15(lpy, vz) - mulQ15(lpz, vy)
		ey := mulQ15(lpz, vx) - mulQ15(lpx, vz)
		ez := mulQ15(lpx, vy) - mulQ15(lpy, vx)

		correction := [3]int32{mulQ15(kAcc, ex), mulQ15(kAcc, ey), mulQ15(kAcc, ez)}
		q = integrate(q, correction)
	}

	s.Quat = [4]int16{clampQ15(q[0]), clampQ15(q[1]), clampQ15(q[2]), clampQ15(q[3])}

	// Rest detection with hysteresis (step 6).
	switch {
	case omegaSq < restLowThresh:
		if s.RestCount < RestEnterRun {
			s.RestCount++
		}
		if s.RestCount >= RestEnterRun {
			s.Flags |= FlagRest
		}
	case omegaSq > restHighThresh:
		s.RestCount = 0
		s.Flags &^= FlagRest
	}

	// Bias update only while at rest (step 7).
	if s.Flags&FlagRest != 0 {
		kBias := int32(s.KBias)
		for i, raw := range rawDelta {
			bias := int32(s.GyroBias[i])
			bias += mulQ15(kBias, raw-bias)
			s.GyroBias[i] = clampQ15(bias)
		}
	}
}

func clampToQ15Range(v int64) int32 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int32(v)
	}
}
