// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package edgetimer

import (
	"testing"
	"time"

	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/detect"
	"github.com/samdbmg/sbc-wsn/hal"
	"github.com/samdbmg/sbc-wsn/wire"
)

type fakeWindowTimer struct {
	events chan hal.WindowEventKind
	starts int
}

func newFakeWindowTimer() *fakeWindowTimer {
	return &fakeWindowTimer{events: make(chan hal.WindowEventKind, 4)}
}

func (w *fakeWindowTimer) Start(short, top time.Duration)      { w.starts++ }
func (w *fakeWindowTimer) Reprogram(short, top time.Duration)  { w.starts++ }
func (w *fakeWindowTimer) Stop()                               {}
func (w *fakeWindowTimer) Events() <-chan hal.WindowEventKind  { return w.events }

type fakeEdgeCounter struct {
	count uint32
	edges chan struct{}
}

func newFakeEdgeCounter() *fakeEdgeCounter {
	return &fakeEdgeCounter{edges: make(chan struct{}, 4)}
}

func (e *fakeEdgeCounter) Count() uint32             { return e.count }
func (e *fakeEdgeCounter) Reset()                    { e.count = 0 }
func (e *fakeEdgeCounter) Edges() <-chan struct{}    { return e.edges }

type fakeClock struct{ now uint32 }

func (c *fakeClock) Get() uint32 { return c.now }

func TestTimerDeliversViaDispatcher(t *testing.T) {
	win := newFakeWindowTimer()
	edges := newFakeEdgeCounter()
	disp := deferred.New()
	clk := &fakeClock{now: 10}

	var got []wire.Observation
	tm := New(win, edges, disp, detect.DefaultParams(), clk, func(o wire.Observation) { got = append(got, o) })

	stop := make(chan struct{})
	go tm.Run(stop)
	defer close(stop)

	edges.count = 1
	edges.edges <- struct{}{} // raw edge: should reach the detector as OnEdge via the dispatcher

	deadline := time.After(time.Second)
	for {
		if _, ok := disp.Pending(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("edge notification never reached the dispatcher")
		case <-time.After(time.Millisecond):
		}
	}
	disp.DrainAndRun()

	if tm.Detector().State() != detect.FirstHigh {
		t.Fatalf("state = %v, want FirstHigh after the first edge", tm.Detector().State())
	}
	if win.starts != 1 {
		t.Errorf("window starts = %d, want 1 (StartPulse on the first edge)", win.starts)
	}
}
