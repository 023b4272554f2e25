// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package edgetimer turns a hal.EdgeCounter/hal.WindowTimer pair into the
// calls a detect.Detector expects, handing each off through a
// deferred.Dispatcher so the detector itself only ever runs in the main
// context, grounded on
// original_source/node-software/src/detect_algorithm.c's timer ISR bodies.
package edgetimer

import (
	"sync"
	"time"

	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/detect"
	"github.com/samdbmg/sbc-wsn/hal"
)

// Timer drives a detect.Detector from a hal.EdgeCounter and hal.WindowTimer.
// It implements detect.Window itself, translating StartPulse/StartPlain into
// the underlying hal.WindowTimer's short/top pair and recording the instant
// each window starts so that edge notifications can be reported to the
// detector with their elapsed-since-window-start duration.
type Timer struct {
	window hal.WindowTimer
	edges  hal.EdgeCounter
	short  time.Duration
	disp   *deferred.Dispatcher
	det    *detect.Detector

	mu          sync.Mutex
	windowStart time.Time
}

// New creates a Timer wired to window and edges, and constructs the
// detect.Detector it drives with the given params, clock and emit callback.
func New(window hal.WindowTimer, edges hal.EdgeCounter, disp *deferred.Dispatcher, params detect.Params, clock detect.Clock, emit detect.Emit) *Timer {
	t := &Timer{window: window, edges: edges, short: params.ShortTimeout, disp: disp}
	t.det = detect.New(params, t, edges, clock, emit)
	return t
}

// Detector returns the detect.Detector this Timer drives.
func (t *Timer) Detector() *detect.Detector { return t.det }

func (t *Timer) armWindowStart() {
	t.mu.Lock()
	t.windowStart = time.Now()
	t.mu.Unlock()
}

func (t *Timer) elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.windowStart)
}

// StartPulse implements detect.Window.
func (t *Timer) StartPulse(top time.Duration) {
	t.armWindowStart()
	t.window.Start(t.short, top)
}

// StartPlain implements detect.Window. The short event is programmed to
// coincide with top; the detector ignores a short-timeout event in any
// state that doesn't expect one (FirstHigh/High/HighFem), so this is
// harmless rather than special-cased in hal.WindowTimer.
func (t *Timer) StartPlain(top time.Duration) {
	t.armWindowStart()
	t.window.Start(top, top)
}

// Stop implements detect.Window.
func (t *Timer) Stop() { t.window.Stop() }

// Run reads window and edge events until stop is closed, handing each to
// the deferred dispatcher so the detector's transition functions only ever
// run from the main context that later calls disp.DrainAndRun.
func (t *Timer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case kind, ok := <-t.window.Events():
			if !ok {
				return
			}
			switch kind {
			case hal.ShortEvent:
				t.disp.Schedule(t.det.OnShortTimeout)
			case hal.LongEvent:
				t.disp.Schedule(t.det.OnLongTimeout)
			}
		case _, ok := <-t.edges.Edges():
			if !ok {
				return
			}
			elapsed := t.elapsed()
			t.disp.Schedule(func() { t.det.OnEdge(elapsed) })
		}
	}
}
