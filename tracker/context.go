// Package tracker implements the tracker-side TDMA engine (C6, §4.6) and
// the top-level supervisor state machine (C8, §4.8).
package tracker

import "github.com/tve/vrlink/netid"

// State is the tracker supervisor's top-level state (§4.8).
type State byte

const (
	StateInit State = iota
	StatePairing
	StateSearch
	StateSynced
	StateRunning
	StateSleep
	StateWake
	StateError
)

func (s State) String() string {
	names := [...]string{
		"INIT", "PAIRING", "SEARCH", "SYNCED", "RUNNING", "SLEEP", "WAKE", "ERROR",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// Context is the tracker context data model (§3 "Tracker context"):
// (ID, Mac, ReceiverMac, NetworkKey, Paired) persist across sleep/wake; the
// rest is runtime state reset by ResetRuntime on wake.
type Context struct {
	ID          netid.TrackerID
	Mac         netid.MacAddress
	ReceiverMac netid.MacAddress
	NetworkKey  netid.NetworkKey
	Paired      bool

	FrameNumber    uint16
	CurrentChannel byte
	SyncTimeUs     uint64
	LastSyncMs     uint32
	Sequence       byte
	PendingAck     bool
	RetryCount     int

	Quat    [4]int16
	Accel   [3]int16
	Battery byte
	Flags   byte

	SupervisorState State
}

// identityQuat is [1,0,0,0] in Q15, matching fusion.NewIdentity.
var identityQuat = [4]int16{32767, 0, 0, 0}

// NewContext returns a Context with an identity quaternion and unpaired
// identity, ready for Supervisor.Init.
func NewContext() *Context {
	return &Context{ID: netid.Unpaired, Quat: identityQuat}
}

// ResetRuntime zeros everything except the persisted identity fields, per
// §3's "the rest is reset at wake" lifecycle note.
func (c *Context) ResetRuntime() {
	id, mac, rmac, key, paired := c.ID, c.Mac, c.ReceiverMac, c.NetworkKey, c.Paired
	*c = Context{}
	c.ID, c.Mac, c.ReceiverMac, c.NetworkKey, c.Paired = id, mac, rmac, key, paired
	c.Quat = identityQuat
}
