// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package link implements the framed radio datagram channel: an
// interrupt-driven worker loop over a hal.SPI/hal.GPIO radio, grounded
// line-for-line in structure on sx1231.Radio (TxChan/rxChan, worker()'s
// select over interrupt-vs-tx, send()'s length-prefix push,
// Error()/persistent err field), but speaking wire.Frame's addressed
// datagram format instead of an FSK packet and dispatching its rx callback
// through deferred.Dispatcher instead of a raw channel send.
package link

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/hal"
	"github.com/samdbmg/sbc-wsn/wire"
)

const rxRingCap = 4 // buffered received frames before the oldest is dropped
const txChanCap = 4

// LogPrintf is a function used by the driver to print logging info, same
// shape as sx1231.LogPrintf.
type LogPrintf func(format string, v ...interface{})

// RxCallback is invoked from the deferred dispatcher (never from the
// hardware ISR) with the payload length ready to collect via TakeRx.
type RxCallback func(n int)

// Radio is a bidirectional framed datagram channel over an 8-bit address
// space. Its methods are not concurrency-safe beyond what the
// worker goroutine and Send/TakeRx's own locking provide, matching
// sx1231.Radio's contract.
type Radio struct {
	spi     hal.SPI
	intrPin hal.GPIO
	local   byte
	disp    *deferred.Dispatcher
	rxCB    RxCallback
	log     LogPrintf

	mu       sync.Mutex
	err      error
	power    bool
	receive  bool
	rxRing   [][]byte // single-producer (worker), single-consumer (TakeRx)
	txChan   chan []byte
	txDone   chan struct{}
	stopOnce sync.Once
	stopChan chan struct{}
}

// Opts configures a new Radio.
type Opts struct {
	LocalAddr byte
	Logger    LogPrintf
}

// New wraps spi/intrPin as a Radio, matching sx1231.New's two-device shape.
func New(spi hal.SPI, intrPin hal.GPIO, disp *deferred.Dispatcher, opts Opts) *Radio {
	r := &Radio{
		spi: spi, intrPin: intrPin, local: opts.LocalAddr, disp: disp,
		err: errors.New("link: not initialized"),
		log: func(string, ...interface{}) {},
	}
	if opts.Logger != nil {
		r.log = func(format string, v ...interface{}) { opts.Logger("link: "+format, v...) }
	}
	return r
}

// Init performs one-time setup and installs rxCB, matching the original
// init(local_addr, rx_callback) (the local address comes from Opts). It
// starts the worker goroutine and returns false if the radio never comes up.
func (r *Radio) Init(rxCB RxCallback) bool {
	r.mu.Lock()
	r.rxCB = rxCB
	r.err = nil
	r.txChan = make(chan []byte, txChanCap)
	r.txDone = make(chan struct{}, 1)
	r.stopChan = make(chan struct{})
	r.mu.Unlock()

	if err := r.intrPin.In(hal.GpioRisingEdge); err != nil {
		r.mu.Lock()
		r.err = fmt.Errorf("link: interrupt pin: %w", err)
		r.mu.Unlock()
		return false
	}
	go r.worker()
	return true
}

// SetPower implements set_power(on).
func (r *Radio) SetPower(on bool) {
	r.mu.Lock()
	r.power = on
	r.mu.Unlock()
}

// SetReceive implements set_receive(enabled).
func (r *Radio) SetReceive(enabled bool) {
	r.mu.Lock()
	r.receive = enabled
	r.mu.Unlock()
}

// Error returns any persistent error encountered by the worker.
func (r *Radio) Error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Send encodes and transmits a Frame, blocking until it is committed to
// the transmitter, then restores the previous receive state.
func (r *Radio) Send(dst byte, opcode wire.Opcode, payload []byte) bool {
	buf, err := wire.Frame{Dst: dst, Src: r.local, Opcode: opcode, Payload: payload}.Encode()
	if err != nil {
		r.log("encode: %v", err)
		return false
	}
	r.mu.Lock()
	wasReceiving := r.receive
	r.mu.Unlock()

	select {
	case r.txChan <- buf:
	case <-time.After(time.Second):
		r.log("tx channel full, dropping frame to %#x", dst)
		return false
	}
	select {
	case <-r.txDone:
	case <-time.After(time.Second):
		r.log("tx timed out")
		return false
	}
	r.SetReceive(wasReceiving)
	return r.Error() == nil
}

// TakeRx implements take_rx: it copies the oldest buffered frame (already
// address-filtered by deliver) into buf, and returns the number of bytes
// copied, 0 if none are pending.
func (r *Radio) TakeRx(buf []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rxRing) == 0 {
		return 0
	}
	frame := r.rxRing[0]
	r.rxRing = r.rxRing[1:]
	n := copy(buf, frame)
	return n
}

// Stop halts the worker goroutine and releases the radio.
func (r *Radio) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// worker is the interrupt/tx select loop, grounded on sx1231.Radio.worker.
func (r *Radio) worker() {
	intrChan := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-r.stopChan:
				return
			default:
			}
			if r.intrPin.WaitForEdge(time.Second) {
				select {
				case intrChan <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-r.stopChan:
			return
		case <-intrChan:
			r.deliver()
		case payload := <-r.txChan:
			r.transmit(payload)
		}
	}
}

// transmit pushes a raw frame byte slice to the SPI device and signals completion.
func (r *Radio) transmit(payload []byte) {
	if err := r.spi.Tx(payload, make([]byte, len(payload))); err != nil {
		r.mu.Lock()
		r.err = fmt.Errorf("link: tx: %w", err)
		r.mu.Unlock()
	}
	select {
	case r.txDone <- struct{}{}:
	default:
	}
}

// deliver reads one frame off the SPI FIFO, applies address filtering, and
// hands it to the deferred dispatcher rather than the rx callback directly.
func (r *Radio) deliver() {
	hdr := make([]byte, 1)
	if err := r.spi.Tx(make([]byte, 1), hdr); err != nil {
		r.mu.Lock()
		r.err = fmt.Errorf("link: rx header: %w", err)
		r.mu.Unlock()
		return
	}
	n := int(hdr[0])
	body := make([]byte, n)
	if err := r.spi.Tx(make([]byte, n), body); err != nil {
		r.mu.Lock()
		r.err = fmt.Errorf("link: rx body: %w", err)
		r.mu.Unlock()
		return
	}
	frame := append(hdr, body...)
	f, err := wire.DecodeFrame(frame)
	if err != nil {
		r.log("bad frame: %v", err)
		return
	}
	if f.Dst != r.local && f.Dst != wire.Broadcast {
		return // address filtering
	}

	r.mu.Lock()
	if len(r.rxRing) >= rxRingCap {
		r.rxRing = r.rxRing[1:] // drop oldest
	}
	r.rxRing = append(r.rxRing, frame)
	n = len(frame)
	cb := r.rxCB
	r.mu.Unlock()

	if cb != nil {
		r.disp.Schedule(func() { cb(n) })
	}
}
