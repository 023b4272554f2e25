// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package periphhal implements hal.SPI, hal.GPIO, hal.I2C, hal.EdgeCounter
// and hal.WindowTimer on top of periph.io/x/periph, the way
// cmd/sx1231-test and spimux wire a radio to a periph.io SPI bus and GPIO
// pin.
package periphhal

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/samdbmg/sbc-wsn/hal"
)

// Init initializes the periph.io host drivers, exactly as
// cmd/sx1231-test's run() calls host.Init() before opening any bus.
func Init() error {
	_, err := host.Init()
	return err
}

// OpenSPI opens an SPI bus/chip-select by periph.io name, e.g. "/dev/spidev0.0",
// and configures it the way sx1231.New does (4MHz, mode 0, 8 bits).
func OpenSPI(name string) (hal.SPI, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periphhal: open spi %s: %w", name, err)
	}
	conn, err := port.Connect(4*1000*1000, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("periphhal: connect spi %s: %w", name, err)
	}
	return &spiDev{port: port, conn: conn}, nil
}

type spiDev struct {
	mu   sync.Mutex
	port spi.PortCloser
	conn spi.Conn
}

func (s *spiDev) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Tx(w, r)
}

func (s *spiDev) Speed(hz int64) error {
	// periph.io binds speed at Connect time; re-establish the connection.
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.port.Connect(hz, spi.Mode0, 8)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *spiDev) Configure(mode int, bits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.port.Connect(4*1000*1000, spi.Mode(mode), bits)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *spiDev) Close() error {
	return s.port.Close()
}

// OpenGPIO opens a GPIO pin by periph.io name (e.g. "GPIO17"), matching
// cmd/sx1231-test's gpio.ByName.
func OpenGPIO(name string) (hal.GPIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphhal: no such pin %q", name)
	}
	return &gpioPin{pin: p, edge: make(chan struct{}, 1)}, nil
}

type gpioPin struct {
	pin  gpio.PinIO
	edge chan struct{}
}

func (g *gpioPin) In(edge int) error {
	e := gpio.NoEdge
	if edge == hal.GpioRisingEdge {
		e = gpio.RisingEdge
	}
	if err := g.pin.In(gpio.PullDown, e); err != nil {
		return err
	}
	if e != gpio.NoEdge {
		go g.watch()
	}
	return nil
}

func (g *gpioPin) watch() {
	for g.pin.WaitForEdge(-1) {
		select {
		case g.edge <- struct{}{}:
		default:
		}
	}
}

func (g *gpioPin) Read() int {
	if g.pin.Read() == gpio.High {
		return hal.GpioHigh
	}
	return hal.GpioLow
}

func (g *gpioPin) WaitForEdge(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-g.edge:
			return true
		default:
			return false
		}
	}
	select {
	case <-g.edge:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (g *gpioPin) Out(level int) {
	g.pin.Out(level == hal.GpioHigh)
}

func (g *gpioPin) Number() int {
	return g.pin.Number()
}

// OpenI2C opens an I2C bus by periph.io name, e.g. "/dev/i2c-1".
func OpenI2C(name string) (hal.I2C, error) {
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periphhal: open i2c %s: %w", name, err)
	}
	return &i2cBus{bus: bus}, nil
}

type i2cBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

func (b *i2cBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Tx(addr, w, r)
}

func (b *i2cBus) Close() error { return b.bus.Close() }
