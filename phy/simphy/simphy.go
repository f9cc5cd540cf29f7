// Package simphy provides a deterministic, in-process loopback pair of
// phy.Radio implementations, letting tracker/receiver engines and the
// tracker-sim command exercise the full TDMA exchange without hardware,
// matching the way the teacher's tests substitute fakes for SPI/GPIO rather
// than exercising any real register state.
package simphy

import (
	"sync"
	"time"

	"github.com/tve/vrlink/phy"
)

// Link is a pair of radios wired to each other: a frame transmitted on one
// is delivered to the other's rx queue, subject to both ends being tuned to
// the same channel and the link's configured loss/latency model.
type Link struct {
	mu       sync.Mutex
	a, b     *Radio
	lossPct  int // percent of frames silently dropped, 0..100
	latency  time.Duration
	rngState uint32 // splitmix-style PRNG state for loss decisions, deterministic
}

// NewLink creates two radios already wired to each other over a perfect
// (zero-loss, zero-latency) channel; use SetLoss/SetLatency to degrade it.
func NewLink() (*Link, *Radio, *Radio) {
	l := &Link{rngState: 0x9E3779B9}
	l.a = &Radio{link: l, peer: nil}
	l.b = &Radio{link: l, peer: nil}
	l.a.peer = l.b
	l.b.peer = l.a
	return l, l.a, l.b
}

// SetLoss sets the percentage of frames (0..100) silently dropped in
// transit, modeling a lossy RF channel for recovery-path tests.
func (l *Link) SetLoss(pct int) {
	l.mu.Lock()
	l.lossPct = pct
	l.mu.Unlock()
}

// SetLatency sets a fixed offset added to every delivered frame's At
// timestamp. Delivery itself is not delayed: the frame is queued for
// Receive immediately.
func (l *Link) SetLatency(d time.Duration) {
	l.mu.Lock()
	l.latency = d
	l.mu.Unlock()
}

// nextRandPct returns a deterministic pseudo-random percentage in 0..99,
// advancing the link's PRNG state; same splitmix shape as hop.Hop so test
// runs are exactly reproducible across invocations.
func (l *Link) nextRandPct() int {
	l.rngState += 0x9E3779B9
	x := l.rngState
	x ^= x >> 16
	x *= 0x45d9f3b
	x ^= x >> 16
	return int(x % 100)
}

func (l *Link) drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lossPct <= 0 {
		return false
	}
	return l.nextRandPct() < l.lossPct
}

func (l *Link) delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latency
}

// Radio is one end of a Link, implementing phy.Radio entirely over
// in-process channels and maps, with no hardware and no goroutine worker
// loop: every method is synchronous and safe to call from a single test
// goroutine, which is all tracker-sim and engine tests need.
type Radio struct {
	mu sync.Mutex

	link *Link
	peer *Radio

	mode       phy.Mode
	channel    byte
	txPowerDbm int8
	syncWord   uint32
	ackPayload []byte

	rx  []phy.RxFrame
	err error

	rssiDbm   int8 // fixed RSSI a test can tune with SetRSSI; -40 by default
	timerStop chan struct{}
}

// SetRSSI overrides the value ReadRSSI reports, letting CCA tests model a
// noisy or clear channel without real RF.
func (r *Radio) SetRSSI(dbm int8) {
	r.mu.Lock()
	r.rssiDbm = dbm
	r.mu.Unlock()
}

// ReadRSSI returns the link's configured RSSI, defaulting to -40 dBm.
func (r *Radio) ReadRSSI() (int8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rssiDbm == 0 {
		return -40, r.err
	}
	return r.rssiDbm, r.err
}

// Init applies cfg and marks the radio ready; there is no chip to
// self-test.
func (r *Radio) Init(cfg phy.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txPowerDbm = cfg.TxPowerDbm
	r.syncWord = cfg.SyncWord
	r.mode = phy.ModeStandby
	return nil
}

func (r *Radio) SetChannel(ch byte) error {
	r.mu.Lock()
	r.channel = ch
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetTxPower(dbm int8) error {
	r.mu.Lock()
	r.txPowerDbm = dbm
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetSyncWord(word uint32) error {
	r.mu.Lock()
	r.syncWord = word
	r.mu.Unlock()
	return nil
}

func (r *Radio) SetMode(m phy.Mode) error {
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
	return nil
}

// Transmit delivers payload to the peer if both ends share a channel and
// sync word, and the link's loss model doesn't drop it.
func (r *Radio) Transmit(payload []byte) error {
	r.deliver(payload)
	return nil
}

func (r *Radio) TransmitAsync(payload []byte) (<-chan struct{}, error) {
	done := make(chan struct{})
	r.deliver(payload)
	close(done)
	return done, nil
}

// TransmitWithAck delivers payload, then synchronously checks whether the
// peer has an ack payload staged; there is no real timing race to model in
// a synchronous loopback.
func (r *Radio) TransmitWithAck(payload []byte) (phy.AckResult, error) {
	r.deliver(payload)

	r.peer.mu.Lock()
	tuned := r.peer.channel == r.channelLocked() && r.peer.syncWord == r.syncWordLocked()
	ack := append([]byte(nil), r.peer.ackPayload...)
	r.peer.mu.Unlock()

	if !tuned {
		return phy.AckResult{}, nil
	}
	return phy.AckResult{Acked: true, RSSI: -40, Payload: ack}, nil
}

func (r *Radio) channelLocked() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

func (r *Radio) syncWordLocked() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncWord
}

func (r *Radio) deliver(payload []byte) {
	if r.link.drop() {
		return
	}
	r.mu.Lock()
	ch, sync := r.channel, r.syncWord
	r.mu.Unlock()

	r.peer.mu.Lock()
	match := r.peer.channel == ch && r.peer.syncWord == sync
	r.peer.mu.Unlock()
	if !match {
		return
	}

	frame := phy.RxFrame{
		Payload: append([]byte(nil), payload...),
		RSSI:    -40,
		At:      time.Now().Add(r.link.delay()),
	}
	r.peer.mu.Lock()
	r.peer.rx = append(r.peer.rx, frame)
	r.peer.mu.Unlock()
}

func (r *Radio) Receive() (phy.RxFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rx) == 0 {
		return phy.RxFrame{}, false
	}
	f := r.rx[0]
	r.rx = r.rx[1:]
	return f, true
}

func (r *Radio) RxAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rx) > 0
}

func (r *Radio) SetAckPayload(payload []byte) error {
	r.mu.Lock()
	r.ackPayload = append([]byte(nil), payload...)
	r.mu.Unlock()
	return nil
}

func (r *Radio) FlushTx() error {
	return nil
}

func (r *Radio) FlushRx() error {
	r.mu.Lock()
	r.rx = nil
	r.mu.Unlock()
	return nil
}

func (r *Radio) GetTimeUs() uint64 {
	return uint64(time.Now().UnixNano() / 1000)
}

func (r *Radio) StartTimer(periodUs uint32, cb phy.TimerCallback) error {
	r.mu.Lock()
	if r.timerStop != nil {
		r.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	r.timerStop = stop
	r.mu.Unlock()

	go func() {
		t := time.NewTicker(time.Duration(periodUs) * time.Microsecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				cb()
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (r *Radio) StopTimer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timerStop == nil {
		return nil
	}
	close(r.timerStop)
	r.timerStop = nil
	return nil
}

func (r *Radio) Error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

var _ phy.Radio = (*Radio)(nil)
