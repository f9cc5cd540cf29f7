package packet

// PairRequest is a device's unsolicited announcement during the receiver's
// PAIRING window (§4.7).
type PairRequest struct {
	Mac        [6]byte
	DeviceType byte
	FwVersion  [2]byte
}

// Build encodes r into the wire format.
func (r PairRequest) Build() []byte {
	buf := make([]byte, PairRequestBytes)
	buf[0] = TypePairRequest
	buf[1] = PairRequestBytes
	copy(buf[2:8], r.Mac[:])
	buf[8] = r.DeviceType
	copy(buf[9:11], r.FwVersion[:])
	return sealCrc(buf)
}

// ParsePairRequest validates and decodes a pair-request frame.
func ParsePairRequest(buf []byte) (PairRequest, error) {
	var r PairRequest
	if len(buf) != PairRequestBytes {
		return r, ErrBadLen
	}
	if buf[0] != TypePairRequest {
		return r, ErrBadMagic
	}
	if int(buf[1]) != PairRequestBytes {
		return r, ErrBadLen
	}
	if err := checkCrc(buf); err != nil {
		return r, err
	}
	copy(r.Mac[:], buf[2:8])
	r.DeviceType = buf[8]
	copy(r.FwVersion[:], buf[9:11])
	return r, nil
}

// PairResponse is the receiver's reply assigning a tracker id and handing
// out the network key (§4.7).
type PairResponse struct {
	Mac         [6]byte
	TrackerID   byte
	ReceiverMac [6]byte
	NetworkKey  uint32
}

// Build encodes r into the wire format.
func (r PairResponse) Build() []byte {
	buf := make([]byte, PairResponseBytes)
	buf[0] = TypePairResponse
	buf[1] = PairResponseBytes
	copy(buf[2:8], r.Mac[:])
	buf[8] = r.TrackerID
	copy(buf[9:15], r.ReceiverMac[:])
	putU32(buf[15:19], r.NetworkKey)
	return sealCrc(buf)
}

// ParsePairResponse validates and decodes a pair-response frame.
func ParsePairResponse(buf []byte) (PairResponse, error) {
	var r PairResponse
	if len(buf) != PairResponseBytes {
		return r, ErrBadLen
	}
	if buf[0] != TypePairResponse {
		return r, ErrBadMagic
	}
	if int(buf[1]) != PairResponseBytes {
		return r, ErrBadLen
	}
	if err := checkCrc(buf); err != nil {
		return r, err
	}
	copy(r.Mac[:], buf[2:8])
	r.TrackerID = buf[8]
	copy(r.ReceiverMac[:], buf[9:15])
	r.NetworkKey = getU32(buf[15:19])
	return r, nil
}

// PairConfirm is the tracker's final handshake message, carrying a status
// (0 = ok) after it has stored the pairing record (§4.7 PAIR_CONFIRM).
type PairConfirm struct {
	TrackerID byte
	Mac       [6]byte
	Status    byte
}

// Build encodes c into the wire format.
func (c PairConfirm) Build() []byte {
	buf := make([]byte, PairConfirmBytes)
	buf[0] = TypePairConfirm
	buf[1] = PairConfirmBytes
	buf[2] = c.TrackerID
	copy(buf[3:9], c.Mac[:])
	buf[9] = c.Status
	return sealCrc(buf)
}

// ParsePairConfirm validates and decodes a pair-confirm frame.
func ParsePairConfirm(buf []byte) (PairConfirm, error) {
	var c PairConfirm
	if len(buf) != PairConfirmBytes {
		return c, ErrBadLen
	}
	if buf[0] != TypePairConfirm {
		return c, ErrBadMagic
	}
	if int(buf[1]) != PairConfirmBytes {
		return c, ErrBadLen
	}
	if err := checkCrc(buf); err != nil {
		return c, err
	}
	c.TrackerID = buf[2]
	copy(c.Mac[:], buf[3:9])
	c.Status = buf[9]
	return c, nil
}
