package sched

import (
	"testing"
	"time"
)

func TestLoopRunsAndStops(t *testing.T) {
	l := NewLoop(time.Millisecond)
	l.SetTick(100)

	ticks := make(chan uint64, 64)
	l.OnTick = func(tick uint64) {
		select {
		case ticks <- tick:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run()
	}()

	first := <-ticks
	if first != 101 {
		t.Errorf("first tick = %d, want 101", first)
	}

	l.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	if l.CurrentTick() < 101 {
		t.Errorf("current tick = %d", l.CurrentTick())
	}
}

func TestSimTime(t *testing.T) {
	cases := []struct {
		tick uint64
		want string
	}{
		{0, "Day 1, 0:00"},
		{61, "Day 1, 1:01"},
		{TicksPerSimDay, "Day 2, 0:00"},
		{TicksPerSimDay + 90, "Day 2, 1:30"},
	}
	for _, tc := range cases {
		if got := SimTime(tc.tick); got != tc.want {
			t.Errorf("SimTime(%d) = %q, want %q", tc.tick, got, tc.want)
		}
	}
}
