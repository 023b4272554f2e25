// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package timesource implements the node/base wall-clock model: a
// seconds-of-day counter that wraps at 24h, with at most one pending
// one-shot callback and one independent recurring daily alarm.
package timesource

import (
	"sync"

	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/wire"
)

// Callback is invoked via the deferred dispatcher when a scheduled time arrives.
type Callback func()

type alarm struct {
	armed bool
	at    uint32
	fn    Callback
}

// Source is a seconds-of-day clock with a single scheduled one-shot callback
// and a single recurring daily alarm. It is safe to call from any context
// except Tick, which must only be called from the main loop (it dispatches
// deferred work).
type Source struct {
	mu         sync.Mutex
	now        uint32
	prevNow    uint32
	oneoff     alarm
	daily      alarm
	dailyFired bool
	disp       *deferred.Dispatcher
}

// New creates a Source. now is the initial seconds-of-day value (typically
// 0, until Set is called with an authoritative time from the base).
func New(disp *deferred.Dispatcher, now uint32) *Source {
	return &Source{now: now % wire.DayWrap, disp: disp}
}

// Set jam-sets the clock to an authoritative time, e.g. received from the
// base in a TimeSync or BeaconAck frame. It is idempotent and safe from any
// context.
func (s *Source) Set(t uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t % wire.DayWrap
}

// Get returns the current seconds-of-day value.
func (s *Source) Get() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule arms the single one-shot callback to fire at the given
// seconds-of-day value. Scheduling a new callback overwrites any previously
// armed one, which then never fires.
func (s *Source) Schedule(at uint32, fn Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneoff = alarm{armed: true, at: at % wire.DayWrap, fn: fn}
}

// Cancel disarms the one-shot callback if one is pending.
func (s *Source) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneoff.armed = false
}

// ScheduleDaily arms the independent daily housekeeping alarm to fire at the
// given seconds-of-day value, and every DayWrap seconds thereafter.
func (s *Source) ScheduleDaily(at uint32, fn Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily = alarm{armed: true, at: at % wire.DayWrap, fn: fn}
}

// CancelDaily disarms the daily alarm.
func (s *Source) CancelDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily.armed = false
}

// Tick advances the clock to now (a monotonically increasing seconds-of-day
// value from the platform's tick interrupt, wrapping at DayWrap) and, for
// any armed alarm whose target has been reached, hands its callback to the
// deferred dispatcher exactly once. Tick must be called only from the main
// loop, since it calls deferred.Dispatcher.Schedule directly rather than via
// an ISR-safe path.
func (s *Source) Tick(now uint32) {
	s.mu.Lock()
	now %= wire.DayWrap
	if now < s.prevNow {
		// Midnight wrap: the daily alarm may fire again today.
		s.dailyFired = false
	}
	s.prevNow = now
	s.now = now

	var fire []Callback
	if s.oneoff.armed && elapsed(s.oneoff.at, now) {
		fire = append(fire, s.oneoff.fn)
		s.oneoff.armed = false
	}
	if s.daily.armed && !s.dailyFired && elapsed(s.daily.at, now) {
		fire = append(fire, s.daily.fn)
		s.dailyFired = true
	}
	s.mu.Unlock()

	// One Schedule call for all of them: the dispatcher is last-writer-wins,
	// so a second call would overwrite the first.
	if len(fire) > 0 {
		s.disp.Schedule(func() {
			for _, fn := range fire {
				fn()
			}
		})
	}
}

// elapsed reports whether target has been reached by now. Scheduling a
// target that has already passed is left implementation-defined; here it
// fires on the very next Tick, which is simplest and still satisfies
// "within one tick".
func elapsed(target, now uint32) bool {
	return now >= target
}
