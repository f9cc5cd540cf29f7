package fusion

// invSqrtTable holds 1/sqrt(x) precomputed in Q15 (scale 1<<15) for x
// sampled uniformly over [invSqrtDomainLo, invSqrtDomainHi). Generated
// offline (not on the device) and baked in here as required by §9's
// "precomputed ... tables" rule; Step only ever indexes and interpolates
// this table plus one Newton-Raphson refinement, never calls a library
// sqrt.
const (
	invSqrtDomainLo = 0.25
	invSqrtDomainHi = 4.0
	invSqrtSteps    = 64
)

var invSqrtTable = [invSqrtSteps + 1]int32{
	65536, 58987, 54076, 50218, 47082, 44470, 42248, 40330, 38651, 37166,
	35840, 34646, 33564, 32578, 31673, 30840, 30070, 29354, 28688, 28064,
	27480, 26931, 26413, 25924, 25462, 25023, 24606, 24209, 23831, 23470,
	23125, 22795, 22479, 22175, 21883, 21603, 21333, 21073, 20822, 20580,
	20346, 20120, 19902, 19690, 19485, 19286, 19093, 18906, 18725, 18548,
	18376, 18209, 18047, 17888, 17734, 17584, 17438, 17295, 17155, 17019,
	16886, 16756, 16629, 16505, 16384,
}

// gyroDeltaFactor[dt_shift] converts one raw gyro sample (units of 0.01
// deg/s) directly into the Q15 small-angle increment ½·ω·dt used by the
// quaternion integration step, for the sample period implied by dt_shift
// (nominal 200 Hz sample period of 5 ms, doubled per shift — §4.8's power
// manager drops the output rate under duty cycling, and dt_shift is how the
// fusion state remembers which rate it was last stepped at). Each entry is
// ½·dt·(π/180·0.01)·32768 (i.e. already scaled into Q15 output units)
// further scaled by 1<<30 for precision, since Step computes
// (raw*factor)>>30 directly in Q15. Generated offline.
var gyroDeltaFactor = [8]int64{
	15352078, 30704157, 61408314, 122816628,
	245633255, 491266511, 982533021, 1965066042,
}
