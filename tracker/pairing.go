package tracker

import (
	"github.com/tve/vrlink/eventlog"
	"github.com/tve/vrlink/netid"
	"github.com/tve/vrlink/packet"
	"github.com/tve/vrlink/phy"
)

// PairingClient drives the tracker side of the pairing handshake (§4.7):
// broadcast PAIR_REQUEST on the fixed pairing channel, wait for a matching
// PAIR_RESPONSE, store the assignment, and confirm.
type PairingClient struct {
	Radio  phy.Radio
	Events *eventlog.Ring
	Log    LogPrintf
}

// NewPairingClient wires a PairingClient against radio.
func NewPairingClient(radio phy.Radio, events *eventlog.Ring, logger LogPrintf) *PairingClient {
	p := &PairingClient{Radio: radio, Events: events, Log: func(string, ...interface{}) {}}
	if logger != nil {
		p.Log = logger
	}
	return p
}

// Attempt runs one pairing round trip: broadcast PAIR_REQUEST, then poll
// queued frames for a PAIR_RESPONSE addressed to ctx.Mac, confirming on
// match. It returns ok=false with a nil error if nothing answers within
// this call's bounded poll -- the caller is expected to retry on the next
// superframe, same as the real supervisor's PAIRING state would.
func (p *PairingClient) Attempt(ctx *Context, deviceType byte, fwVersion [2]byte) (bool, error) {
	if err := p.Radio.SetChannel(PairingChannel); err != nil {
		return false, err
	}
	req := packet.PairRequest{Mac: [6]byte(ctx.Mac), DeviceType: deviceType, FwVersion: fwVersion}
	if err := p.Radio.Transmit(req.Build()); err != nil {
		return false, err
	}

	for i := 0; i < 20; i++ {
		frame, ok := p.Radio.Receive()
		if !ok {
			continue
		}
		t, err := packet.PeekType(frame.Payload)
		if err != nil || t != packet.TypePairResponse {
			continue
		}
		resp, err := packet.ParsePairResponse(frame.Payload)
		if err != nil || resp.Mac != [6]byte(ctx.Mac) {
			continue
		}

		ctx.ID = netid.TrackerID(resp.TrackerID)
		ctx.ReceiverMac = netid.MacAddress(resp.ReceiverMac)
		ctx.NetworkKey = netid.NetworkKey(resp.NetworkKey)
		ctx.Paired = true

		confirm := packet.PairConfirm{TrackerID: resp.TrackerID, Mac: [6]byte(ctx.Mac), Status: 0}
		if err := p.Radio.Transmit(confirm.Build()); err != nil {
			return false, err
		}
		p.Events.Push(0, eventlog.KindPaired, int(ctx.ID))
		return true, nil
	}
	return false, nil
}
