package storage

// crashMagic is the crash-snapshot magic word (§6 "magic 0x43525348").
const crashMagic = 0x43525348

// CrashSnapshotBytes is the on-flash size of a CrashSnapshot record.
const CrashSnapshotBytes = 4 + 4*3 + 1 + 4*4 + 2 // magic, pc/sp/ra, kind, counters, crc

// CrashSnapshot is the single persisted crash record (§3 "Crash snapshot is
// a separate single-record persisted structure with a magic word and CRC";
// §6 "PC/SP/RA/kind + counters, CRC").
type CrashSnapshot struct {
	PC, SP, RA uint32
	Kind       byte
	Counters   [4]uint32 // diagnostic counters: e.g. reset count, watchdog count, ...
}

// Encode serializes s into its fixed CrashSnapshotBytes-byte wire form.
func (s CrashSnapshot) Encode() []byte {
	buf := make([]byte, CrashSnapshotBytes)
	putU32(buf[0:4], crashMagic)
	putU32(buf[4:8], s.PC)
	putU32(buf[8:12], s.SP)
	putU32(buf[12:16], s.RA)
	buf[16] = s.Kind
	off := 17
	for _, c := range s.Counters {
		putU32(buf[off:off+4], c)
		off += 4
	}
	return sealCrc(buf)
}

// DecodeCrashSnapshot validates and parses buf, which must be exactly
// CrashSnapshotBytes long.
func DecodeCrashSnapshot(buf []byte) (CrashSnapshot, error) {
	var s CrashSnapshot
	if len(buf) != CrashSnapshotBytes {
		return s, ErrBadMagic
	}
	if getU32(buf[0:4]) != crashMagic {
		return s, ErrBadMagic
	}
	if err := checkCrc(buf); err != nil {
		return s, err
	}
	s.PC = getU32(buf[4:8])
	s.SP = getU32(buf[8:12])
	s.RA = getU32(buf[12:16])
	s.Kind = buf[16]
	off := 17
	for i := range s.Counters {
		s.Counters[i] = getU32(buf[off : off+4])
		off += 4
	}
	return s, nil
}

// SaveCrashSnapshot persists s at CrashSnapshotOffset, to be picked up by
// the next boot's diagnostics.
func SaveCrashSnapshot(nvs NVS, s CrashSnapshot) error {
	return writeRecord(nvs, CrashSnapshotOffset, s.Encode())
}

// LoadCrashSnapshot reads, validates, and clears the crash snapshot: §6
// says it is "cleared on read", so a subsequent LoadCrashSnapshot call
// (e.g. after an unrelated reset) reports ErrBadMagic rather than
// replaying a stale crash.
func LoadCrashSnapshot(nvs NVS) (CrashSnapshot, error) {
	buf := make([]byte, CrashSnapshotBytes)
	if err := nvs.Read(CrashSnapshotOffset, buf); err != nil {
		return CrashSnapshot{}, err
	}
	s, err := DecodeCrashSnapshot(buf)
	if clearErr := nvs.Erase(CrashSnapshotOffset, alignedSize(CrashSnapshotBytes)); clearErr != nil && err == nil {
		return s, clearErr
	}
	return s, err
}
