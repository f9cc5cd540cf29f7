package sxradio

import (
	"sync"
	"time"

	"github.com/tve/vrlink/phy"
)

// fakeSPI is an in-memory register file standing in for the chip, enough to
// drive Init/SetChannel/SetTxPower/SetSyncWord through their real code
// paths deterministically.
type fakeSPI struct {
	mu   sync.Mutex
	regs [0x80]byte
	gpio *fakeGPIO
}

func newFakeSPI() *fakeSPI {
	s := &fakeSPI{}
	s.regs[regVersion] = 0x24
	s.regs[regIrqFlags1] = irq1ModeReady
	return s
}

func (s *fakeSPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(w) == 0 {
		return nil
	}
	addr := w[0]
	if addr&0x80 != 0 {
		// write
		addr &^= 0x80
		for i, b := range w[1:] {
			if int(addr)+i < len(s.regs) {
				s.regs[int(addr)+i] = b
			}
		}
		if addr == regDioMapping1 && len(w) > 1 && w[1] == dioMapping+0xC0 && s.gpio != nil {
			s.gpio.raiseEdge()
		}
		if addr == regOpMode && len(w) > 1 && w[1] == modeTransmit && s.gpio != nil {
			gpio := s.gpio
			go func() {
				time.Sleep(time.Millisecond)
				s.mu.Lock()
				s.regs[regIrqFlags2] |= irq2PacketSent
				s.mu.Unlock()
				gpio.raiseEdge()
			}()
		}
	} else {
		// read, echo register contents starting at addr into r[1:]
		for i := range r {
			if i == 0 {
				continue
			}
			if int(addr)+i-1 < len(s.regs) {
				r[i] = s.regs[int(addr)+i-1]
			}
		}
	}
	return nil
}

func (s *fakeSPI) Speed(hz int64) error              { return nil }
func (s *fakeSPI) Configure(mode int, bits int) error { return nil }
func (s *fakeSPI) Close() error                       { return nil }

// fakeGPIO simulates the interrupt pin: raiseEdge arms a pending edge that
// the next WaitForEdge call consumes.
type fakeGPIO struct {
	mu      sync.Mutex
	pending bool
}

func (g *fakeGPIO) raiseEdge() {
	g.mu.Lock()
	g.pending = true
	g.mu.Unlock()
}

func (g *fakeGPIO) In(edge int) error { return nil }
func (g *fakeGPIO) Read() int         { return phy.GpioLow }
func (g *fakeGPIO) WaitForEdge(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		g.mu.Lock()
		if g.pending {
			g.pending = false
			g.mu.Unlock()
			return true
		}
		g.mu.Unlock()
		if timeout == 0 || time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
func (g *fakeGPIO) Out(level int) {}
func (g *fakeGPIO) Number() int    { return 17 }
