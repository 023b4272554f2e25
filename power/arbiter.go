// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package power implements the minimum-power arbiter: each subsystem
// declares the deepest sleep mode it can tolerate, and the arbiter
// enters the deepest mode consistent with all of them.
package power

import "sync"

// Mode is a platform-neutral sleep depth, ordered shallowest (most capable,
// highest power) to deepest (least capable, lowest power). These are
// design-level names, not a specific platform's power-mode register values.
type Mode int

const (
	FullOn Mode = iota
	LightSleep
	DeepSleep
	Stop
)

func (m Mode) String() string {
	switch m {
	case FullOn:
		return "FullOn"
	case LightSleep:
		return "LightSleep"
	case DeepSleep:
		return "DeepSleep"
	case Stop:
		return "Stop"
	default:
		return "Mode(?)"
	}
}

// Subsystem names a component that can constrain the sleep depth.
type Subsystem string

const (
	Radio  Subsystem = "radio"
	Detect Subsystem = "detect"
	Sensor Subsystem = "sensor"
	Delay  Subsystem = "delay"
	Modem  Subsystem = "modem"
	RTC    Subsystem = "rtc"
)

// Sleeper blocks the calling goroutine until an external event (an
// interrupt, in the embedded original) occurs. Arbiter.Sleep calls it only
// when every subsystem tolerates at least LightSleep. Tests substitute a
// trivial implementation; real firmware wires this to the platform's
// wait-for-interrupt primitive.
type Sleeper interface {
	WaitForWake(deepest Mode)
}

// Arbiter tracks, per Subsystem, the minimum power state it currently
// tolerates, and arbitrates the deepest mode safe across all of them.
type Arbiter struct {
	mu      sync.Mutex
	minimum map[Subsystem]Mode
	sleeper Sleeper
}

// New creates an Arbiter. deepestSafe only considers subsystems that have
// called SetMinimum at least once, so a subsystem that never registers a
// minimum simply never constrains sleep depth — it behaves as if it
// tolerated Stop, without actually occupying a map entry. Minimum, in
// contrast, reports Go's zero value (FullOn) for an unregistered
// subsystem, since it is meant for diagnostics, not arbitration.
func New(sleeper Sleeper) *Arbiter {
	return &Arbiter{minimum: make(map[Subsystem]Mode), sleeper: sleeper}
}

// SetMinimum records the minimum tolerable power state for a subsystem.
// Safe from any context; an ISR may only call this to loosen (raise, i.e.
// shallower) the requirement, never to deepen it — callers running in
// interrupt context must respect that discipline themselves,
// since the arbiter has no way to distinguish caller contexts.
func (a *Arbiter) SetMinimum(s Subsystem, m Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.minimum[s] = m
}

// Minimum returns the subsystem's currently recorded minimum state.
func (a *Arbiter) Minimum(s Subsystem) Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minimum[s]
}

// deepestSafe returns the shallowest of all recorded minimums: the deepest
// mode that every subsystem currently tolerates.
func (a *Arbiter) deepestSafe() Mode {
	deepest := Stop
	for _, m := range a.minimum {
		if m < deepest {
			deepest = m
		}
	}
	return deepest
}

// Sleep selects the shallowest requested state across all subsystems and
// enters it. If any subsystem requires FullOn, Sleep returns immediately
// without blocking; otherwise it blocks until an interrupt wakes the CPU.
// Must be called only from the main loop.
func (a *Arbiter) Sleep() Mode {
	a.mu.Lock()
	mode := a.deepestSafe()
	a.mu.Unlock()

	if mode == FullOn {
		return mode
	}
	if a.sleeper != nil {
		a.sleeper.WaitForWake(mode)
	}
	return mode
}
