package sched

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Loop drives the simulation forward at a fixed tick interval.
type Loop struct {
	Speed    float64       // Multiplier: 1.0 = real-time, 0 = paused
	Interval time.Duration // Base tick interval

	// OnTick runs every tick with the new tick number.
	OnTick func(tick uint64)

	tick    atomic.Uint64
	running atomic.Bool
}

// NewLoop creates a loop ticking at the given interval.
func NewLoop(interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Loop{
		Speed:    1.0,
		Interval: interval,
	}
}

// CurrentTick returns the last completed tick.
func (l *Loop) CurrentTick() uint64 {
	return l.tick.Load()
}

// SetTick sets the tick counter, for resuming from a checkpoint. Call
// before Run.
func (l *Loop) SetTick(tick uint64) {
	l.tick.Store(tick)
}

// Run starts the loop. Blocks until Stop is called.
func (l *Loop) Run() {
	l.running.Store(true)
	slog.Info("simulation loop started", "tick", l.CurrentTick(), "speed", l.Speed)

	for l.running.Load() {
		if l.Speed <= 0 {
			// Paused. Sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		tick := l.tick.Add(1)
		if l.OnTick != nil {
			l.OnTick(tick)
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(l.Interval) / l.Speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("simulation loop stopped", "tick", l.CurrentTick())
}

// Stop halts the loop after the current tick completes.
func (l *Loop) Stop() {
	l.running.Store(false)
}

// SimTime renders a tick as human-readable simulation time.
func SimTime(tick uint64) string {
	minutes := tick % 60
	totalHours := tick / 60
	hours := totalHours % 24
	days := totalHours/24 + 1
	return fmt.Sprintf("Day %d, %d:%02d", days, hours, minutes)
}
