package storage

import "github.com/tve/vrlink/netid"

// Pairing blob magic, as two separate words per §6's "magic
// 0x52584E/0x534C494D" — kept as two fields rather than concatenated into
// one value since the spec names them as a pair, and checking both catches
// a torn write (partial flash program) that a single wider magic would
// miss half of.
const (
	pairingMagicA = 0x52584E
	pairingMagicB = 0x534C494D
)

const trackerRecordBytes = 4 + 4 + 4 + 6 + 1 + 1 + 2 // magics, key, mac, id, paired, crc
const pairingTableSlotBytes = 6 + 1                  // mac, paired

// PairingTableBytes is the on-flash size of a PairingTable record.
const PairingTableBytes = 4 + 4 + 4 + netid.MaxTrackers*pairingTableSlotBytes + 2

// TrackerRecord is the tracker-side persisted pairing state (§3 "Tracker
// context": "(paired, network_key) persists").
type TrackerRecord struct {
	NetworkKey  netid.NetworkKey
	ReceiverMac netid.MacAddress
	ID          netid.TrackerID
	Paired      bool
}

// Encode serializes t into the fixed trackerRecordBytes-byte wire form.
func (t TrackerRecord) Encode() []byte {
	buf := make([]byte, trackerRecordBytes)
	putU32(buf[0:4], pairingMagicA)
	putU32(buf[4:8], pairingMagicB)
	putU32(buf[8:12], uint32(t.NetworkKey))
	copy(buf[12:18], t.ReceiverMac[:])
	buf[18] = byte(t.ID)
	if t.Paired {
		buf[19] = 1
	}
	return sealCrc(buf)
}

// DecodeTrackerRecord validates and parses buf, which must be exactly
// trackerRecordBytes long.
func DecodeTrackerRecord(buf []byte) (TrackerRecord, error) {
	var t TrackerRecord
	if len(buf) != trackerRecordBytes {
		return t, ErrBadMagic
	}
	if getU32(buf[0:4]) != pairingMagicA || getU32(buf[4:8]) != pairingMagicB {
		return t, ErrBadMagic
	}
	if err := checkCrc(buf); err != nil {
		return t, err
	}
	t.NetworkKey = netid.NetworkKey(getU32(buf[8:12]))
	copy(t.ReceiverMac[:], buf[12:18])
	t.ID = netid.TrackerID(buf[18])
	t.Paired = buf[19] != 0
	return t, nil
}

// SaveTrackerRecord persists t at PairingOffset; invalid records found on
// load fall back to UNPAIRED per §6's boundary policy.
func SaveTrackerRecord(nvs NVS, t TrackerRecord) error {
	return writeRecord(nvs, PairingOffset, t.Encode())
}

// LoadTrackerRecord reads and validates the tracker pairing record.
func LoadTrackerRecord(nvs NVS) (TrackerRecord, error) {
	buf := make([]byte, trackerRecordBytes)
	if err := nvs.Read(PairingOffset, buf); err != nil {
		return TrackerRecord{}, err
	}
	return DecodeTrackerRecord(buf)
}

// PairingSlot is one tracker's receiver-side pairing entry.
type PairingSlot struct {
	Mac    netid.MacAddress
	Paired bool
}

// PairingTable is the receiver-side pairing record (§3 "Pairing record"),
// which also serves as the configuration blob §6 describes separately
// ("network key, paired trackers") — both name exactly this data, so they
// are persisted as one record rather than two copies of the same bytes.
type PairingTable struct {
	NetworkKey netid.NetworkKey
	Slots      [netid.MaxTrackers]PairingSlot
}

// Encode serializes the table into its fixed PairingTableBytes-byte form.
func (p PairingTable) Encode() []byte {
	buf := make([]byte, PairingTableBytes)
	putU32(buf[0:4], pairingMagicA)
	putU32(buf[4:8], pairingMagicB)
	putU32(buf[8:12], uint32(p.NetworkKey))
	off := 12
	for _, s := range p.Slots {
		copy(buf[off:off+6], s.Mac[:])
		if s.Paired {
			buf[off+6] = 1
		}
		off += pairingTableSlotBytes
	}
	return sealCrc(buf)
}

// DecodePairingTable validates and parses buf, which must be exactly
// PairingTableBytes long.
func DecodePairingTable(buf []byte) (PairingTable, error) {
	var p PairingTable
	if len(buf) != PairingTableBytes {
		return p, ErrBadMagic
	}
	if getU32(buf[0:4]) != pairingMagicA || getU32(buf[4:8]) != pairingMagicB {
		return p, ErrBadMagic
	}
	if err := checkCrc(buf); err != nil {
		return p, err
	}
	p.NetworkKey = netid.NetworkKey(getU32(buf[8:12]))
	off := 12
	for i := range p.Slots {
		copy(p.Slots[i].Mac[:], buf[off:off+6])
		p.Slots[i].Paired = buf[off+6] != 0
		off += pairingTableSlotBytes
	}
	return p, nil
}

// SavePairingTable persists p at PairingOffset.
func SavePairingTable(nvs NVS, p PairingTable) error {
	return writeRecord(nvs, PairingOffset, p.Encode())
}

// LoadPairingTable reads and validates the receiver pairing table.
// Invariant carried from the record's construction: if a slot's Paired
// flag is set, that slot's Mac is the sole owner of its TrackerID (§3).
func LoadPairingTable(nvs NVS) (PairingTable, error) {
	buf := make([]byte, PairingTableBytes)
	if err := nvs.Read(PairingOffset, buf); err != nil {
		return PairingTable{}, err
	}
	return DecodePairingTable(buf)
}
