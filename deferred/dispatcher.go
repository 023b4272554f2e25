// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package deferred implements the single-slot deferred-work dispatcher: a
// way for an interrupt handler to hand work back to the main context
// instead of running it at interrupt priority.
package deferred

import "sync"

// Work is one deferred action: the function to run plus an optional Name
// for diagnostics. ScheduleNamed sets the Name; Schedule leaves it empty.
// The slot holds a plain function value, not an enum of known actions.
type Work struct {
	Name string
	Run  func()
}

// Dispatcher is a single-slot queue of deferred Work. Scheduling is
// last-writer-wins: a new Schedule call overwrites any not-yet-run slot.
type Dispatcher struct {
	mu   sync.Mutex
	slot *Work
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Schedule installs fn as the next deferred work, overwriting anything
// already pending. Safe to call from any context, including an ISR.
func (d *Dispatcher) Schedule(fn func()) {
	d.ScheduleNamed("", fn)
}

// ScheduleNamed is Schedule with an explicit Work.Name for diagnostics.
func (d *Dispatcher) ScheduleNamed(name string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slot = &Work{Name: name, Run: fn}
}

// Pending reports whether work is currently queued, and its name if so.
func (d *Dispatcher) Pending() (name string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slot == nil {
		return "", false
	}
	return d.slot.Name, true
}

// DrainAndRun runs any pending work, and keeps running newly (re-)scheduled
// work until the slot is empty: a dispatched function may re-schedule, and
// that successor must also run before the caller (sleep()) actually
// sleeps. Must be called only from the main loop.
func (d *Dispatcher) DrainAndRun() {
	for {
		d.mu.Lock()
		w := d.slot
		d.slot = nil
		d.mu.Unlock()
		if w == nil {
			return
		}
		w.Run()
	}
}
