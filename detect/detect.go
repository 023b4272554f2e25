// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package detect implements the cricket-call detection state machine: a
// real-time classifier driven by an edge counter and a window timer that
// distinguishes male calls, male+female responses, and noise.
//
// The machine is a stateful Detector: each event method updates the
// Detector in place and carries out its own actions — reprogramming the
// window timer, resetting the edge counter, or emitting a finished
// Observation — through the small Window, Edges, Clock and Emit interfaces
// (typically backed by package edgetimer) rather than touching hardware
// directly. The transitions are not pure functions returning actions.
package detect

import (
	"time"

	"github.com/samdbmg/sbc-wsn/wire"
)

// Tag is a detection state.
type Tag int

const (
	Idle Tag = iota
	FirstHigh
	High
	Low
	Wait
	HighFem
	LowFem
	WaitFem
)

func (t Tag) String() string {
	switch t {
	case Idle:
		return "Idle"
	case FirstHigh:
		return "FirstHigh"
	case High:
		return "High"
	case Low:
		return "Low"
	case Wait:
		return "Wait"
	case HighFem:
		return "HighFem"
	case LowFem:
		return "LowFem"
	case WaitFem:
		return "WaitFem"
	default:
		return "Tag(?)"
	}
}

// Params holds the detector's numeric design defaults, overridable per deployment.
type Params struct {
	HighUB, HighLB         time.Duration // pulse duration bounds
	LowUB, LowLB           time.Duration // gap duration bounds
	ShortTimeout           time.Duration // ~200µs grace period to reject noise
	WaitFemLB, WaitFemUB   time.Duration
	EdgeMinHigh, EdgeMaxHigh int
	EdgeThresholdLow         int
	ClicksMin, ClicksMax     int
	TransientThreshold       int
}

// DefaultParams returns the detector's design defaults.
func DefaultParams() Params {
	return Params{
		HighUB:             1300 * time.Microsecond,
		HighLB:             700 * time.Microsecond,
		LowUB:              2300 * time.Microsecond,
		LowLB:              1700 * time.Microsecond,
		ShortTimeout:       200 * time.Microsecond,
		WaitFemLB:          25 * time.Millisecond,
		WaitFemUB:          35 * time.Millisecond,
		EdgeMinHigh:        30,
		EdgeMaxHigh:        45,
		EdgeThresholdLow:   20,
		ClicksMin:          4,
		ClicksMax:          9,
		TransientThreshold: 5,
	}
}

// Window is the window-timer control surface the detector drives. StartPulse
// arms both the short (ShortTimeout) and long (top) events, for the states
// that must distinguish a real ~40kHz pulse from noise early. StartPlain
// is for states that just wait out a duration and need only the long
// event; a short event raised alongside it is ignored in those states.
type Window interface {
	StartPulse(top time.Duration)
	StartPlain(top time.Duration)
	Stop()
}

// Edges is the edge counter the detector reads and resets around each
// sub-window.
type Edges interface {
	Count() uint32
	Reset()
}

// Clock supplies the current seconds-of-day value used to timestamp a call
// at its first edge.
type Clock interface {
	Get() uint32
}

// Emit is called once per completed call, with the Observation to record.
type Emit func(wire.Observation)

// Detector is the stateful cricket-call classifier. It is driven by
// OnEdge/OnShortTimeout/OnLongTimeout, called from the main context (never
// directly from an interrupt; package edgetimer arranges that via the
// deferred dispatcher).
type Detector struct {
	params Params
	window Window
	edges  Edges
	clock  Clock
	emit   Emit

	state     Tag
	clicks    int // clicks completed in the current call
	femClicks int // clicks completed in the current female-response attempt
	transient int
	female    bool
	callStart uint32
}

// New creates a Detector in the Idle state.
func New(params Params, window Window, edges Edges, clock Clock, emit Emit) *Detector {
	return &Detector{params: params, window: window, edges: edges, clock: clock, emit: emit}
}

// State returns the detector's current Tag, chiefly for tests and diagnostics.
func (d *Detector) State() Tag { return d.state }

// reset returns the detector to Idle, clearing all per-call bookkeeping.
func (d *Detector) reset() {
	d.state = Idle
	d.clicks = 0
	d.femClicks = 0
	d.transient = 0
	d.female = false
	d.window.Stop()
}

// finalize emits a Call Observation if ok, then returns to Idle.
func (d *Detector) finalize(ok bool, clicks int, female bool) {
	if ok {
		d.emit(wire.NewCall(d.callStart, clicks, female))
	}
	d.reset()
}

// OnEdge handles a rising edge on the acoustic comparator.
func (d *Detector) OnEdge(elapsed time.Duration) {
	p := d.params
	switch d.state {
	case Idle:
		d.edges.Reset()
		d.clicks = 0
		d.femClicks = 0
		d.transient = 0
		d.female = false
		d.callStart = d.clock.Get()
		d.window.StartPulse(p.HighUB)
		d.state = FirstHigh

	case High, HighFem:
		if elapsed < p.HighLB {
			d.transient++
			if d.transient > p.TransientThreshold {
				d.reset()
			}
		}
		// Otherwise: part of the expected ~40kHz pulse train, counted by
		// the hardware edge counter and evaluated at the short/long timeout.

	case Low, LowFem:
		if elapsed < p.LowLB {
			d.transient++
			if d.transient > p.TransientThreshold {
				d.reset()
			}
		}

	case Wait:
		switch {
		case elapsed > p.HighLB && elapsed < p.WaitFemLB:
			d.edges.Reset()
			d.window.StartPulse(p.HighUB)
			d.state = High
		case elapsed >= p.WaitFemLB:
			d.femClicks = 0
			d.edges.Reset()
			d.window.StartPulse(p.HighUB)
			d.state = HighFem
		default:
			// Edge during the short-timeout grace period: extend the
			// window, do not reset clicks.
			d.window.StartPlain(p.WaitFemUB)
		}

	case WaitFem:
		switch {
		case elapsed > p.HighLB && elapsed < p.WaitFemLB:
			d.edges.Reset()
			d.window.StartPulse(p.HighUB)
			d.state = HighFem
		default:
			d.window.StartPlain(p.WaitFemUB)
		}

	case FirstHigh:
		// Additional edges of the same pulse train; nothing to do until
		// the short or long timeout fires.
	}
}

// OnShortTimeout handles the ~200µs short-timeout event.
func (d *Detector) OnShortTimeout() {
	p := d.params
	switch d.state {
	case FirstHigh:
		if d.edges.Count() < 3 {
			d.reset() // noise
		}
	case High:
		if d.edges.Count() < 3 {
			// No pulse this time; still waiting on a female response window.
			d.window.StartPlain(p.WaitFemUB)
			d.state = Wait
		}
	case HighFem:
		if d.edges.Count() < 3 {
			d.window.StartPlain(p.WaitFemUB)
			d.state = WaitFem
		}
	}
}

// OnLongTimeout handles the configurable long-timeout (window end) event.
func (d *Detector) OnLongTimeout() {
	p := d.params
	switch d.state {
	case FirstHigh, High:
		edges := int(d.edges.Count())
		if edges >= p.EdgeMinHigh && edges <= p.EdgeMaxHigh && d.clicks <= p.ClicksMax {
			d.edges.Reset()
			d.window.StartPlain(p.LowUB)
			d.state = Low
		} else {
			d.finalize(d.clicks >= p.ClicksMin && d.clicks <= p.ClicksMax, d.clicks, false)
		}

	case Low:
		edges := int(d.edges.Count())
		if edges <= p.EdgeThresholdLow {
			d.clicks++
			d.window.StartPlain(p.WaitFemUB)
			d.state = Wait
		} else {
			d.finalize(d.clicks >= p.ClicksMin && d.clicks <= p.ClicksMax, d.clicks, false)
		}

	case HighFem:
		edges := int(d.edges.Count())
		if edges >= p.EdgeMinHigh && edges <= p.EdgeMaxHigh {
			d.edges.Reset()
			d.window.StartPlain(p.LowUB)
			d.state = LowFem
		} else {
			d.finalize(d.femClicks >= 1, d.femClicks, true)
		}

	case LowFem:
		edges := int(d.edges.Count())
		if edges <= p.EdgeThresholdLow {
			d.femClicks++
			d.window.StartPlain(p.WaitFemUB)
			d.state = WaitFem
		} else {
			d.finalize(d.femClicks >= 1, d.femClicks, true)
		}

	case Wait:
		d.finalize(d.clicks >= p.ClicksMin && d.clicks <= p.ClicksMax, d.clicks, false)

	case WaitFem:
		d.finalize(d.femClicks >= 1, d.femClicks, true)

	case Idle:
		// Spurious or stale timer event; ignore.
	}
}
