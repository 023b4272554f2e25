// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package hal defines the peripheral interfaces the core state machines
// depend on but do not implement: SPI and GPIO access to the radio chip,
// I2C access to environment sensors, and the edge-counting/window-timer
// pair the detector is built on, treated as external collaborators. Two
// concrete backends are provided, hal/periphhal (periph.io/x/periph) and
// hal/embdhal (github.com/kidoman/embd), mirroring the teacher's own dual
// SPI/GPIO shim in shim.go.
package hal

import "time"

// SPI is a full-duplex SPI device, kept method-for-method identical to the
// teacher's devices.SPI interface in shim.go.
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

// GPIO is a single digital pin, kept method-for-method identical to the
// teacher's devices.GPIO interface in shim.go.
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

// I2C is a device on an I2C bus, used by the out-of-scope environment
// sensor readout (temperature, humidity, light).
type I2C interface {
	Tx(addr uint16, w, r []byte) error
	Close() error
}

// EdgeCounter counts rising edges on the acoustic comparator input.
// It is readable and resettable from the main context; the count advances
// asynchronously as edges arrive. Edges additionally delivers a
// notification per edge (non-blocking, most-recent-wins if the consumer
// falls behind) for the detector states that must react to individual
// edge arrival times (the detector reacts to each edge in every state:
// Idle starts a call, Wait/WaitFem start the next pulse, High/Low and their
// female variants count transients), not just a window total.
type EdgeCounter interface {
	Count() uint32
	Reset()
	Edges() <-chan struct{}
}

// WindowEventKind distinguishes the two events a WindowTimer can raise.
type WindowEventKind int

const (
	ShortEvent WindowEventKind = iota // compare value reached
	LongEvent                         // timer wrapped (window end)
)

// WindowTimer is the capture-timer abstraction: it counts timebase ticks
// and raises a short event at a configurable compare value and a long
// event at wrap. Times are expressed in time.Duration at this boundary,
// converting to ticks only at the edge-timer boundary; a concrete backend
// is responsible for picking a prescaler that resolves the 0.1ms..3ms
// range to about 4%.
//
// Start, Stop and Reprogram must be race-free with respect to an
// already-running window: a backend implementation is responsible for
// disabling the timer's interrupt around any register reprogramming.
type WindowTimer interface {
	// Start (re)starts the window with the given short-event (compare) and
	// long-event (top/wrap) durations, and begins delivering events on the
	// channel returned by Events.
	Start(short, top time.Duration)
	// Reprogram changes the compare/top values of an already-running
	// window. Whether the elapsed count is kept depends on the backend:
	// hal/periphhal's Reprogram restarts the window from zero.
	Reprogram(short, top time.Duration)
	// Stop masks the timer; no further events are delivered until Start.
	Stop()
	// Events returns the channel on which ShortEvent/LongEvent are
	// delivered. The channel is created once, at construction.
	Events() <-chan WindowEventKind
}
