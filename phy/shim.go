package phy

// SPI and GPIO abstract the host bus drivers so sxradio doesn't depend
// directly on embd or periph.io; this lets tests substitute fakes and lets
// simphy skip hardware entirely.

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kidoman/embd"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

const (
	SPIMode0 = 0x0 // CPOL=0, CPHA=0
	SPIMode1 = 0x1 // CPOL=0, CPHA=1
	SPIMode2 = 0x2 // CPOL=1, CPHA=0
	SPIMode3 = 0x3 // CPOL=1, CPHA=1
)

type GPIO interface {
	In(edge int) error
	Read() int
	WaitForEdge(timeout time.Duration) bool
	Out(level int)
	Number() int
}

const (
	GpioLow        = 0
	GpioHigh       = 1
	GpioNoEdge     = 0
	GpioRisingEdge = 1
)

//===== SPI shim for embd

func NewSPI() SPI {
	return &spi{embd.NewSPIBus(embd.SPIMode0, 0, 4, 8, 0)}
}

type spi struct {
	embd.SPIBus
}

func (s *spi) Tx(w, r []byte) error {
	copy(r, w)
	return s.TransferAndReceiveData(r)
}

func (s *spi) Speed(hz int64) error {
	if hz != 4000000 {
		return errors.New("SPI: sorry, only 4Mhz supported")
	}
	return nil
}

func (s *spi) Configure(mode int, bits int) error {
	if mode != SPIMode0 {
		return errors.New("SPI: sorry, only SPI mode 0 supported")
	}
	if bits != 8 {
		return errors.New("SPI: sorry, only 8-bit mode supported")
	}
	return nil
}

//===== GPIO shim for embd

func NewGPIO(name string) GPIO {
	g, err := embd.NewDigitalPin(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "NewDigitalPin: %s\n", err)
		return nil
	}
	return &gpio{p: g, dir: embd.In, edge: make(chan struct{}, 1)}
}

type gpio struct {
	p    embd.DigitalPin
	dir  embd.Direction
	edge chan struct{}
}

func (g *gpio) In(edge int) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	if edge != GpioNoEdge {
		e := []embd.Edge{embd.EdgeNone, embd.EdgeRising, embd.EdgeFalling, embd.EdgeBoth}[edge]
		return g.p.Watch(e, g.edgeCB)
	}
	return nil
}

func (g *gpio) Read() int {
	v, _ := g.p.Read()
	return v
}

func (g *gpio) WaitForEdge(timeout time.Duration) bool {
	to := time.After(timeout)
	select {
	case <-g.edge:
		return true
	case <-to:
		return false
	}
}

func (g *gpio) Out(level int) {
	if g.dir != embd.Out {
		g.p.SetDirection(embd.Out)
		g.dir = embd.In
	}
	g.p.Write(level)
}

func (g *gpio) Number() int {
	return g.p.N()
}

func (g *gpio) edgeCB(embd.DigitalPin) {
	select {
	case g.edge <- struct{}{}:
	default:
	}
}

//===== SPI/GPIO shim for periph.io (host.Init'd boards embd doesn't cover)

// NewPeriphSPI opens busName (empty string picks the first port periph.io
// finds) through periph.io's spireg registry and connects at hz in SPI
// mode 0, the same handshake as google-periph's spireg.Example.
func NewPeriphSPI(busName string, hz int64) (SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph spi: %w", err)
	}
	port, err := spireg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("periph spi: %w", err)
	}
	conn, err := port.Connect(hz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("periph spi: %w", err)
	}
	return &periphSPI{port: port, conn: conn, hz: hz}, nil
}

type periphSPI struct {
	port spi.PortCloser
	conn spi.Conn
	hz   int64
}

func (s *periphSPI) Tx(w, r []byte) error { return s.conn.Tx(w, r) }

func (s *periphSPI) Speed(hz int64) error {
	if hz != s.hz {
		return fmt.Errorf("periph spi: connected at %dHz, cannot change to %dHz without reconnecting", s.hz, hz)
	}
	return nil
}

func (s *periphSPI) Configure(mode int, bits int) error {
	if mode != SPIMode0 || bits != 8 {
		return errors.New("periph spi: only mode 0 / 8-bit is supported once connected")
	}
	return nil
}

func (s *periphSPI) Close() error { return s.port.Close() }

// NewPeriphGPIO opens an interrupt-capable pin by name through periph.io's
// gpioreg registry, as google-periph's gpioreg.Example does.
func NewPeriphGPIO(name string) GPIO {
	if _, err := host.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "periph gpio: host.Init: %s\n", err)
		return nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		fmt.Fprintf(os.Stderr, "periph gpio: no such pin %q\n", name)
		return nil
	}
	return &periphGPIO{p: p}
}

type periphGPIO struct {
	p gpio.PinIO
}

var periphEdges = [...]gpio.Edge{gpio.None, gpio.Rising, gpio.Falling, gpio.Both}

func (g *periphGPIO) In(edge int) error {
	return g.p.In(gpio.PullNoChange, periphEdges[edge])
}

func (g *periphGPIO) Read() int {
	if g.p.Read() == gpio.High {
		return GpioHigh
	}
	return GpioLow
}

func (g *periphGPIO) WaitForEdge(timeout time.Duration) bool {
	return g.p.WaitForEdge(timeout)
}

func (g *periphGPIO) Out(level int) {
	l := gpio.Low
	if level == GpioHigh {
		l = gpio.High
	}
	_ = g.p.Out(l)
}

func (g *periphGPIO) Number() int {
	return g.p.Number()
}
