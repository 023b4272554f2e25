package timesource

import (
	"testing"

	"github.com/samdbmg/sbc-wsn/deferred"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New(deferred.New(), 0)
	s.Set(12345)
	if got := s.Get(); got != 12345 {
		t.Fatalf("got %d want 12345", got)
	}
	s.Set(90000) // wraps modulo 86400
	if got := s.Get(); got != 90000-86400 {
		t.Fatalf("got %d want %d", got, 90000-86400)
	}
}

func TestScheduleFires(t *testing.T) {
	d := deferred.New()
	s := New(d, 0)
	fired := false
	s.Schedule(100, func() { fired = true })
	s.Tick(50)
	d.DrainAndRun()
	if fired {
		t.Fatal("fired too early")
	}
	s.Tick(100)
	d.DrainAndRun()
	if !fired {
		t.Fatal("did not fire at target")
	}
}

func TestScheduleOverwritePreviousNeverFires(t *testing.T) {
	d := deferred.New()
	s := New(d, 0)
	var got []int
	s.Schedule(100, func() { got = append(got, 1) })
	s.Schedule(100, func() { got = append(got, 2) })
	s.Tick(100)
	d.DrainAndRun()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected only the second schedule to fire, got %v", got)
	}
}

func TestDailyAlarmRecurs(t *testing.T) {
	d := deferred.New()
	s := New(d, 0)
	count := 0
	s.ScheduleDaily(10, func() { count++ })
	s.Tick(5)
	d.DrainAndRun()
	s.Tick(10)
	d.DrainAndRun()
	s.Tick(20)
	d.DrainAndRun()
	if count != 1 {
		t.Fatalf("expected 1 fire before wrap, got %d", count)
	}
	// Wrap past midnight; the daily alarm should be able to fire again.
	s.Tick(5)
	d.DrainAndRun()
	s.Tick(10)
	d.DrainAndRun()
	if count != 2 {
		t.Fatalf("expected 2 fires after wrap, got %d", count)
	}
}

func TestCancelPreventsFire(t *testing.T) {
	d := deferred.New()
	s := New(d, 0)
	fired := false
	s.Schedule(50, func() { fired = true })
	s.Cancel()
	s.Tick(50)
	d.DrainAndRun()
	if fired {
		t.Fatal("cancelled callback fired")
	}
}
