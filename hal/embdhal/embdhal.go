// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package embdhal implements hal.SPI and hal.GPIO on top of
// github.com/kidoman/embd, adapted from the teacher's shim.go (which wired
// the same library directly to an sx1231-shaped SPI/GPIO pair).
package embdhal

import (
	"errors"
	"fmt"
	"time"

	"github.com/kidoman/embd"

	"github.com/samdbmg/sbc-wsn/hal"
)

// NewSPI opens embd's default SPI bus, matching shim.go's NewSPI.
func NewSPI() hal.SPI {
	return &spiDev{embd.NewSPIBus(embd.SPIMode0, 0, 4, 8, 0)}
}

type spiDev struct {
	embd.SPIBus
}

func (s *spiDev) Tx(w, r []byte) error {
	copy(r, w)
	return s.TransferAndReceiveData(r)
}

func (s *spiDev) Speed(hz int64) error {
	if hz != 4000000 {
		return errors.New("embdhal: SPI: only 4Mhz supported")
	}
	return nil
}

func (s *spiDev) Configure(mode int, bits int) error {
	if mode != hal.SPIMode0 {
		return errors.New("embdhal: SPI: only mode 0 supported")
	}
	if bits != 8 {
		return errors.New("embdhal: SPI: only 8-bit mode supported")
	}
	return nil
}

// NewGPIO opens a named embd digital pin, matching shim.go's NewGPIO.
func NewGPIO(name string) (hal.GPIO, error) {
	p, err := embd.NewDigitalPin(name)
	if err != nil {
		return nil, fmt.Errorf("embdhal: NewDigitalPin(%s): %w", name, err)
	}
	return &gpioPin{p: p, dir: embd.In, edge: make(chan struct{}, 1)}, nil
}

type gpioPin struct {
	p    embd.DigitalPin
	dir  embd.Direction
	edge chan struct{}
}

func (g *gpioPin) In(edge int) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	if edge != hal.GpioNoEdge {
		e := []embd.Edge{embd.EdgeNone, embd.EdgeRising, embd.EdgeFalling, embd.EdgeBoth}[edge]
		return g.p.Watch(e, g.edgeCB)
	}
	return nil
}

func (g *gpioPin) Read() int {
	v, _ := g.p.Read()
	return v
}

func (g *gpioPin) WaitForEdge(timeout time.Duration) bool {
	to := time.After(timeout)
	select {
	case <-g.edge:
		return true
	case <-to:
		return false
	}
}

func (g *gpioPin) Out(level int) {
	if g.dir != embd.Out {
		g.p.SetDirection(embd.Out)
		g.dir = embd.Out
	}
	g.p.Write(level)
}

func (g *gpioPin) Number() int {
	return g.p.N()
}

func (g *gpioPin) edgeCB(embd.DigitalPin) {
	select {
	case g.edge <- struct{}{}:
	default:
	}
}
