package packet

// FramePolicy selects which tracker->receiver data frame goes on the wire:
// the full-precision standard frame or the 13-byte Ultra variant (§9 "What
// the Ultra path actually saves"). Selected through config per §9's
// composable-policy design note, replacing a build-time macro. Decode is
// the receiver-side counterpart of Encode, so a gateway dispatching on the
// wire's type byte never needs to know which policy a given tracker used.
type FramePolicy interface {
	// Encode builds the wire bytes for one data sample.
	Encode(d Data) []byte
	// Decode parses payload back into a Data, reconstructing whatever the
	// wire form dropped (Ultra's w component and Flags byte).
	Decode(payload []byte) (Data, error)
	// UsesUltra reports which frame kind Encode produces, so a receiver
	// configured the same way knows which Parse function to try first.
	UsesUltra() bool
}

// StandardFramePolicy always emits the 22-byte standard Data frame.
type StandardFramePolicy struct{}

func (StandardFramePolicy) Encode(d Data) []byte { return d.Build() }
func (StandardFramePolicy) Decode(payload []byte) (Data, error) {
	return ParseData(payload)
}
func (StandardFramePolicy) UsesUltra() bool { return false }

// UltraFramePolicy emits the compact UltraData frame. Encode sign-normalizes
// d's quaternion to w>=0 before dropping w; Decode reconstructs w.
type UltraFramePolicy struct{}

func (UltraFramePolicy) Encode(d Data) []byte {
	xyz := [3]int16{d.Quat[1], d.Quat[2], d.Quat[3]}
	if d.Quat[0] < 0 {
		// q and -q are the same orientation; emit the w>=0 form.
		for i, v := range xyz {
			if v == -32768 {
				xyz[i] = 32767
			} else {
				xyz[i] = -v
			}
		}
	}
	u := UltraData{
		TrackerID: d.TrackerID,
		Seq:       d.Seq,
		QuatXYZ:   xyz,
		AccelXY:   [2]int16{d.AccelMg[0], d.AccelMg[1]},
		AccelZMg:  d.AccelMg[2],
		Battery:   d.Battery,
	}
	return u.Build()
}

// Decode reconstructs a Data from an Ultra frame; Flags is always 0 since
// Ultra never carries it.
func (UltraFramePolicy) Decode(payload []byte) (Data, error) {
	u, err := ParseUltraData(payload)
	if err != nil {
		return Data{}, err
	}
	w := ReconstructW(u.QuatXYZ)
	return Data{
		TrackerID: u.TrackerID,
		Seq:       u.Seq,
		Quat:      [4]int16{w, u.QuatXYZ[0], u.QuatXYZ[1], u.QuatXYZ[2]},
		AccelMg:   [3]int16{u.AccelXY[0], u.AccelXY[1], u.AccelZMg},
		Battery:   u.Battery,
	}, nil
}

func (UltraFramePolicy) UsesUltra() bool { return true }
