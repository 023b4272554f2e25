// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package periphhal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/samdbmg/sbc-wsn/hal"
)

// edgeCounter implements hal.EdgeCounter by counting interrupts off a
// hal.GPIO configured for rising-edge capture. periph.io has no dedicated
// hardware pulse-counter peripheral exposed generically, so this backend
// approximates the edge counter in software: every delivered edge
// increments an atomic counter. At the detector's ~40kHz pulse rates,
// this only tracks edges the host's GPIO driver can deliver without
// coalescing; a bare-metal port would instead bind this to a real
// hardware pulse counter or timer-capture channel.
type edgeCounter struct {
	pin   hal.GPIO
	count uint32
	edges chan struct{}
	stop  chan struct{}
}

// NewEdgeCounter starts counting rising edges on pin. hal.EdgeCounter has
// no Close, and nothing closes the stop channel, so the counting goroutine
// runs for the life of the process.
func NewEdgeCounter(pin hal.GPIO) hal.EdgeCounter {
	e := &edgeCounter{pin: pin, edges: make(chan struct{}, 1), stop: make(chan struct{})}
	pin.In(hal.GpioRisingEdge)
	go e.loop()
	return e
}

func (e *edgeCounter) loop() {
	for {
		select {
		case <-e.stop:
			return
		default:
		}
		if e.pin.WaitForEdge(100 * time.Millisecond) {
			atomic.AddUint32(&e.count, 1)
			select {
			case e.edges <- struct{}{}:
			default:
			}
		}
	}
}

func (e *edgeCounter) Count() uint32 { return atomic.LoadUint32(&e.count) }

func (e *edgeCounter) Reset() { atomic.StoreUint32(&e.count, 0) }

func (e *edgeCounter) Edges() <-chan struct{} { return e.edges }

// windowTimer implements hal.WindowTimer with a pair of software timers
// (time.Timer), since periph.io exposes no generic capture/compare timer
// peripheral. The required 4% resolution is easily met by host
// scheduling jitter at the 0.1ms-3ms ranges this design uses; a bare-metal
// port would instead program the platform's actual capture timer registers.
type windowTimer struct {
	mu         sync.Mutex
	shortT     *time.Timer
	longT      *time.Timer
	events     chan hal.WindowEventKind
	generation uint64
}

// NewWindowTimer creates a software-timer-backed hal.WindowTimer.
func NewWindowTimer() hal.WindowTimer {
	return &windowTimer{events: make(chan hal.WindowEventKind, 4)}
}

func (w *windowTimer) Start(short, top time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.generation++
	gen := w.generation
	w.shortT = time.AfterFunc(short, func() { w.fire(gen, hal.ShortEvent) })
	w.longT = time.AfterFunc(top, func() { w.fire(gen, hal.LongEvent) })
}

// Reprogram restarts the window with the new values, exactly as Start does;
// the elapsed count of the running window is not kept.
func (w *windowTimer) Reprogram(short, top time.Duration) {
	w.Start(short, top)
}

func (w *windowTimer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.generation++ // invalidate any in-flight fires
}

func (w *windowTimer) stopLocked() {
	if w.shortT != nil {
		w.shortT.Stop()
	}
	if w.longT != nil {
		w.longT.Stop()
	}
}

func (w *windowTimer) fire(gen uint64, kind hal.WindowEventKind) {
	w.mu.Lock()
	current := w.generation
	w.mu.Unlock()
	if gen != current {
		return // reprogrammed/stopped since this fire was scheduled
	}
	select {
	case w.events <- kind:
	default:
	}
}

func (w *windowTimer) Events() <-chan hal.WindowEventKind { return w.events }
