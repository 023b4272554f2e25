// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package detect

import (
	"testing"
	"time"

	"github.com/samdbmg/sbc-wsn/wire"
)

type fakeWindow struct {
	pulses int
	plains int
	stops  int
	lastTop time.Duration
}

func (w *fakeWindow) StartPulse(top time.Duration) { w.pulses++; w.lastTop = top }
func (w *fakeWindow) StartPlain(top time.Duration) { w.plains++; w.lastTop = top }
func (w *fakeWindow) Stop()                        { w.stops++ }

type fakeEdges struct{ count uint32 }

func (e *fakeEdges) Count() uint32 { return e.count }
func (e *fakeEdges) Reset()        { e.count = 0 }

type fakeClock struct{ now uint32 }

func (c *fakeClock) Get() uint32 { return c.now }

// runCall drives a Detector through a sequence of good pulses (35 edges) and
// gaps (8 edges), one click per (high, low) pair. Whatever emit callback d
// was constructed with fires as usual; this only drives the transitions.
func runCall(d *Detector, edges *fakeEdges, clicks int) {
	d.OnEdge(0) // Idle -> FirstHigh
	edges.count = 35
	d.OnShortTimeout() // edges >= 3, stays FirstHigh
	d.OnLongTimeout()  // -> Low

	for i := 1; i < clicks; i++ {
		edges.count = 8
		d.OnLongTimeout() // Low -> Wait, click++
		d.OnEdge(900 * time.Microsecond)  // Wait -> High
		edges.count = 35
		d.OnShortTimeout()
		d.OnLongTimeout() // High -> Low
	}
	edges.count = 8
	d.OnLongTimeout() // Low -> Wait, final click++
	d.OnLongTimeout() // Wait's own long-timeout: finalize
}

func TestCallWithinBounds(t *testing.T) {
	cases := map[string]struct {
		clicks int
		wantOK bool
	}{
		"below minimum":  {clicks: 2, wantOK: false},
		"at minimum":     {clicks: 4, wantOK: true},
		"typical":        {clicks: 7, wantOK: true},
		"at maximum":     {clicks: 9, wantOK: true},
		"above maximum":  {clicks: 10, wantOK: false},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			w := &fakeWindow{}
			e := &fakeEdges{}
			clk := &fakeClock{now: 1234}
			var got []wire.Observation
			d := New(DefaultParams(), w, e, clk, func(o wire.Observation) { got = append(got, o) })
			runCall(d, e, c.clicks)
			if c.wantOK && len(got) != 1 {
				t.Fatalf("clicks=%d: want 1 emission, got %d", c.clicks, len(got))
			}
			if !c.wantOK && len(got) != 0 {
				t.Fatalf("clicks=%d: want no emission, got %v", c.clicks, got)
			}
			if c.wantOK {
				if got[0].Kind != wire.Call || got[0].FemaleResponse() {
					t.Errorf("unexpected observation %+v", got[0])
				}
				if got[0].ClickCount() != c.clicks {
					t.Errorf("click count = %d, want %d", got[0].ClickCount(), c.clicks)
				}
			}
			if d.State() != Idle {
				t.Errorf("state = %v, want Idle after finalize", d.State())
			}
		})
	}
}

func TestCallTimestampedAtFirstEdge(t *testing.T) {
	w := &fakeWindow{}
	e := &fakeEdges{}
	clk := &fakeClock{now: 500}
	var got wire.Observation
	d := New(DefaultParams(), w, e, clk, func(o wire.Observation) { got = o })
	clk.now = 500
	runCall(d, e, 4)
	if got.Time != 500 {
		t.Errorf("call timestamped at %d, want 500 (time of first edge)", got.Time)
	}
}

func TestFirstHighNoiseRejected(t *testing.T) {
	w := &fakeWindow{}
	e := &fakeEdges{}
	clk := &fakeClock{}
	d := New(DefaultParams(), w, e, clk, func(wire.Observation) {
		t.Fatal("noise must not be emitted")
	})
	d.OnEdge(0) // Idle -> FirstHigh
	e.count = 2 // fewer than 3: noise
	d.OnShortTimeout()
	if d.State() != Idle {
		t.Errorf("state = %v, want Idle after noise rejection", d.State())
	}
}

func TestHighWithoutPulseWaitsForFemale(t *testing.T) {
	w := &fakeWindow{}
	e := &fakeEdges{}
	clk := &fakeClock{}
	d := New(DefaultParams(), w, e, clk, func(wire.Observation) {})
	d.OnEdge(0)
	e.count = 35
	d.OnShortTimeout()
	d.OnLongTimeout() // -> Low
	e.count = 8
	d.OnLongTimeout() // -> Wait
	d.OnEdge(900 * time.Microsecond) // Wait -> High, resets edge counter
	d.OnShortTimeout()               // 0 edges: looks like noise, not a pulse
	if d.State() != Wait {
		t.Fatalf("state = %v, want Wait (no pulse, still listening for female)", d.State())
	}
}

func TestFemaleResponse(t *testing.T) {
	w := &fakeWindow{}
	e := &fakeEdges{}
	clk := &fakeClock{now: 42}

	// Drive a single click, then simulate a female response arriving late in
	// the post-click Wait window (elapsed >= WaitFemLB).
	var got []wire.Observation
	d2 := New(DefaultParams(), w, e, clk, func(o wire.Observation) { got = append(got, o) })
	d2.OnEdge(0)
	e.count = 35
	d2.OnShortTimeout()
	d2.OnLongTimeout() // -> Low
	e.count = 8
	d2.OnLongTimeout() // click 1 -> Wait
	d2.OnEdge(30 * time.Millisecond) // >= WaitFemLB: ambiguous -> HighFem, resets edge counter
	if d2.State() != HighFem {
		t.Fatalf("state = %v, want HighFem", d2.State())
	}
	e.count = 35
	d2.OnShortTimeout() // 35 edges, stays HighFem
	d2.OnLongTimeout()  // -> LowFem
	e.count = 5
	d2.OnLongTimeout() // -> WaitFem, femClicks=1
	d2.OnLongTimeout() // WaitFem long-timeout: finalize female

	if len(got) != 1 || !got[0].FemaleResponse() {
		t.Fatalf("got %+v, want a single female-flagged observation", got)
	}
	if got[0].ClickCount() != 1 {
		t.Errorf("click count = %d, want 1 (a female response needs only one click)", got[0].ClickCount())
	}
	if got[0].Payload != 0x81 {
		t.Errorf("payload = %#x, want 0x81 (female flag + 1-click count)", got[0].Payload)
	}
}

func TestTransientThresholdAbandonsCall(t *testing.T) {
	w := &fakeWindow{}
	e := &fakeEdges{}
	clk := &fakeClock{}
	d := New(DefaultParams(), w, e, clk, func(wire.Observation) {
		t.Fatal("a call abandoned on excess transients must not be emitted")
	})
	d.OnEdge(0)
	e.count = 35
	d.OnShortTimeout()
	d.OnLongTimeout() // -> Low
	e.count = 8
	d.OnLongTimeout() // -> Wait, click 1
	d.OnEdge(900 * time.Microsecond) // Wait -> High, real window restarts

	for i := 0; i < DefaultParams().TransientThreshold+1; i++ {
		d.OnEdge(100 * time.Microsecond) // well under HighLB: transient
	}
	if d.State() != Idle {
		t.Errorf("state = %v, want Idle after exceeding the transient threshold", d.State())
	}
}
