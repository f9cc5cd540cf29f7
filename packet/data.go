package packet

// Data is the standard tracker->receiver payload (§4.2): a Q15 orientation
// quaternion, milli-g acceleration, battery percent, and a small flags byte.
type Data struct {
	TrackerID byte
	Seq       byte
	Quat      [4]int16 // w,x,y,z in Q15
	AccelMg   [3]int16 // x,y,z in milli-g
	Battery   byte     // percent 0..100
	Flags     byte
}

// Flags bits carried in Data.Flags.
const (
	FlagRest       = 1 << 0 // fusion filter believes the tracker is at rest
	FlagLowBattery = 1 << 1
	FlagCalibrated = 1 << 2
)

// Build encodes d into the wire format.
func (d Data) Build() []byte {
	buf := make([]byte, DataBytes)
	buf[0] = TypeData
	buf[1] = DataBytes
	buf[2] = d.TrackerID
	buf[3] = d.Seq
	for i, v := range d.Quat {
		putI16(buf[4+2*i:], v)
	}
	for i, v := range d.AccelMg {
		putI16(buf[12+2*i:], v)
	}
	buf[18] = d.Battery
	buf[19] = d.Flags
	// buf[20:22] is the CRC, filled in by sealCrc.
	return sealCrc(buf)
}

// ParseData validates and decodes a standard data frame.
func ParseData(buf []byte) (Data, error) {
	var d Data
	if len(buf) != DataBytes {
		return d, ErrBadLen
	}
	if buf[0] != TypeData {
		return d, ErrBadMagic
	}
	if int(buf[1]) != DataBytes {
		return d, ErrBadLen
	}
	if err := checkCrc(buf); err != nil {
		return d, err
	}
	d.TrackerID = buf[2]
	d.Seq = buf[3]
	for i := range d.Quat {
		d.Quat[i] = getI16(buf[4+2*i:])
	}
	for i := range d.AccelMg {
		d.AccelMg[i] = getI16(buf[12+2*i:])
	}
	d.Battery = buf[18]
	d.Flags = buf[19]
	return d, nil
}
