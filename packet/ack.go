package packet

// Ack commands that may be piggybacked in the receiver->tracker
// acknowledgement (§4.9 command list, §4.6 step 7).
const (
	CmdNone     = 0
	CmdCalibrate = 1
	CmdTare     = 2
	CmdSleep    = 3
	CmdUnpair   = 4
)

// Ack is the receiver->tracker acknowledgement, optionally carrying an
// in-band command (§4.1 "ACK payload").
type Ack struct {
	TrackerID byte
	AckSeq    byte
	Command   byte
	Param     byte
}

// Build encodes a into the wire format.
func (a Ack) Build() []byte {
	buf := make([]byte, AckBytes)
	buf[0] = TypeAck
	buf[1] = AckBytes
	buf[2] = a.TrackerID
	buf[3] = a.AckSeq
	buf[4] = a.Command
	buf[5] = a.Param
	return sealCrc(buf)
}

// ParseAck validates and decodes an ACK frame.
func ParseAck(buf []byte) (Ack, error) {
	var a Ack
	if len(buf) != AckBytes {
		return a, ErrBadLen
	}
	if buf[0] != TypeAck {
		return a, ErrBadMagic
	}
	if int(buf[1]) != AckBytes {
		return a, ErrBadLen
	}
	if err := checkCrc(buf); err != nil {
		return a, err
	}
	a.TrackerID = buf[2]
	a.AckSeq = buf[3]
	a.Command = buf[4]
	a.Param = buf[5]
	return a, nil
}
