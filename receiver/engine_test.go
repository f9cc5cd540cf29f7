package receiver

import (
	"testing"

	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/netid"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/quality"
)

func newTestEngine() (*Engine, *Registry) {
	reg := &Registry{}
	e := NewEngine(nil, quality.New(), reg, eventlog.NewRing(16), nil, nil)
	e.NetworkKey = 0xCAFEBABE
	return e, reg
}

func TestBuildBeaconAdvancesFrameNumber(t *testing.T) {
	e, reg := newTestEngine()
	reg.Trackers[2].Active = true

	b := e.BuildBeacon()
	if b.FrameNo != 1 {
		t.Errorf("FrameNo = %d, want 1", b.FrameNo)
	}
	if b.ActiveMask != 1<<2 {
		t.Errorf("ActiveMask = %#x, want bit 2 set", b.ActiveMask)
	}
}

func TestHandleDataUpdatesViewAndFiresConnect(t *testing.T) {
	e, reg := newTestEngine()
	reg.Trackers[3].Active = true

	var gotConnect bool
	e.OnConnect = func(id netid.TrackerID, connected bool) {
		if id == 3 && connected {
			gotConnect = true
		}
	}
	var gotData TrackerView
	e.OnData = func(id netid.TrackerID, v TrackerView) { gotData = v }

	d := packet.Data{TrackerID: 3, Seq: 1, Battery: 80, Quat: [4]int16{1, 0, 0, 0}}
	e.HandleData(3, d, -50, 1000)

	if !gotConnect {
		t.Errorf("expected OnConnect(3, true) to fire on first data")
	}
	if !reg.Trackers[3].Connected {
		t.Errorf("Connected = false, want true")
	}
	if gotData.Battery != 80 {
		t.Errorf("gotData.Battery = %d, want 80", gotData.Battery)
	}
}

func TestHandleDataIgnoresInactiveSlot(t *testing.T) {
	e, reg := newTestEngine()
	d := packet.Data{TrackerID: 5, Seq: 1}
	e.HandleData(5, d, -50, 1000)
	if reg.Trackers[5].Connected {
		t.Errorf("inactive slot should never become connected")
	}
}

func TestHandlePairRequestAssignsFreeSlot(t *testing.T) {
	e, _ := newTestEngine()
	req := packet.PairRequest{Mac: [6]byte{1, 2, 3, 4, 5, 6}, DeviceType: 1}
	resp, ok := e.HandlePairRequest(req, [6]byte{9, 9, 9, 9, 9, 9})
	if !ok {
		t.Fatalf("HandlePairRequest: expected a free slot")
	}
	if resp.TrackerID != 0 {
		t.Errorf("TrackerID = %d, want 0 (first free slot)", resp.TrackerID)
	}
	if resp.NetworkKey != uint32(e.NetworkKey) {
		t.Errorf("NetworkKey = %#x, want %#x", resp.NetworkKey, e.NetworkKey)
	}
}

func TestHandlePairRequestReusesMatchingMacSlot(t *testing.T) {
	e, reg := newTestEngine()
	mac := netid.MacAddress{1, 2, 3, 4, 5, 6}
	reg.Trackers[4] = TrackerView{Active: true, Mac: mac}

	req := packet.PairRequest{Mac: [6]byte(mac)}
	resp, ok := e.HandlePairRequest(req, [6]byte{9, 9, 9, 9, 9, 9})
	if !ok || resp.TrackerID != 4 {
		t.Errorf("HandlePairRequest = (%+v, %v), want TrackerID=4", resp, ok)
	}
}

func TestHandlePairRequestFailsWhenFull(t *testing.T) {
	e, reg := newTestEngine()
	for i := range reg.Trackers {
		reg.Trackers[i].Active = true
	}
	_, ok := e.HandlePairRequest(packet.PairRequest{Mac: [6]byte{1, 1, 1, 1, 1, 1}}, [6]byte{})
	if ok {
		t.Errorf("HandlePairRequest: expected no free slot")
	}
}

func TestHandlePairConfirmActivatesSlot(t *testing.T) {
	e, reg := newTestEngine()
	c := packet.PairConfirm{TrackerID: 6, Mac: [6]byte{7, 7, 7, 7, 7, 7}}
	if err := e.HandlePairConfirm(c, 500); err != nil {
		t.Fatalf("HandlePairConfirm: %v", err)
	}
	if !reg.Trackers[6].Active {
		t.Errorf("slot 6 not activated")
	}
	if reg.Trackers[6].Mac != netid.MacAddress(c.Mac) {
		t.Errorf("Mac = %v, want %v", reg.Trackers[6].Mac, c.Mac)
	}
}

func TestAgeOutDropsConnectedAfterTimeout(t *testing.T) {
	e, reg := newTestEngine()
	reg.Trackers[1] = TrackerView{Active: true, Connected: true, LastSeenMs: 0}

	var gotDisconnect bool
	e.OnConnect = func(id netid.TrackerID, connected bool) {
		if id == 1 && !connected {
			gotDisconnect = true
		}
	}

	e.AgeOutAndCheckPairingTimeout(TrackerTimeoutMs + 1)
	if reg.Trackers[1].Connected {
		t.Errorf("Connected = true, want false after timeout")
	}
	if !gotDisconnect {
		t.Errorf("expected OnConnect(1, false) to fire")
	}
}

func TestAgeOutExitsPairingAfterTimeout(t *testing.T) {
	e, _ := newTestEngine()
	e.EnterPairing(0)
	e.AgeOutAndCheckPairingTimeout(PairingTimeoutMs + 1)
	if e.State != StateRunning {
		t.Errorf("state = %v, want RUNNING after pairing timeout", e.State)
	}
}

func TestAgeOutStaysInPairingBeforeTimeout(t *testing.T) {
	e, _ := newTestEngine()
	e.EnterPairing(0)
	e.AgeOutAndCheckPairingTimeout(100)
	if e.State != StatePairing {
		t.Errorf("state = %v, want PAIRING before the timeout elapses", e.State)
	}
}
