// Package sched provides tick-frequency classification for simulation operations.
// Callers ask whether a tagged operation should run on a given tick instead of
// hard-coding modulo arithmetic at every call site.
package sched

import "time"

// Tick schedule constants. One tick is one sim-minute.
const (
	TicksPerSimHour = 60   // 60 ticks = 1 sim-hour
	TicksPerSimDay  = 1440 // 24 hours × 60
)

// OpType tags an operation with a scheduling identity.
type OpType string

// Operation types known to the core. Callers may register their own.
const (
	OpPriceUpdate    OpType = "price_update"    // high: every tick
	OpTrendUpdate    OpType = "trend_update"    // high: every tick
	OpMaintenance    OpType = "maintenance"     // high: every tick
	OpBatchFlush     OpType = "batch_flush"     // medium: debounce flushing
	OpInventorySync  OpType = "inventory_sync"  // medium: every 5 ticks
	OpCompanySync    OpType = "company_sync"    // medium: every 10 ticks
	OpEconomySync    OpType = "economy_sync"    // low-medium: every 20 ticks
	OpFullSync       OpType = "full_sync"       // low: every 100 ticks
	OpPriceRecording OpType = "price_recording" // low: once per sim-day
)

// defaultFrequencies maps each operation type to how many ticks pass between runs.
// High = 1, medium = 3–10, low = 50–200 (price recording is day-cadenced).
var defaultFrequencies = map[OpType]uint64{
	OpPriceUpdate:    1,
	OpTrendUpdate:    1,
	OpMaintenance:    1,
	OpBatchFlush:     3,
	OpInventorySync:  5,
	OpCompanySync:    10,
	OpEconomySync:    20,
	OpFullSync:       100,
	OpPriceRecording: TicksPerSimDay,
}

// durationRingCap bounds the per-operation duration history.
const durationRingCap = 64

// Scheduler decides whether a tagged operation runs on a given tick and keeps
// a bounded record of observed execution durations for diagnostics.
type Scheduler struct {
	frequencies map[OpType]uint64
	durations   map[OpType]*durationRing
}

// New creates a Scheduler with the default frequency table.
func New() *Scheduler {
	freqs := make(map[OpType]uint64, len(defaultFrequencies))
	for op, f := range defaultFrequencies {
		freqs[op] = f
	}
	return &Scheduler{
		frequencies: freqs,
		durations:   make(map[OpType]*durationRing),
	}
}

// SetFrequency registers or overrides the tick frequency for an operation type.
// A frequency of 0 is treated as 1 (every tick).
func (s *Scheduler) SetFrequency(op OpType, everyNTicks uint64) {
	if everyNTicks == 0 {
		everyNTicks = 1
	}
	s.frequencies[op] = everyNTicks
}

// Frequency returns the configured tick frequency for an operation type.
// Unknown operations default to every tick.
func (s *Scheduler) Frequency(op OpType) uint64 {
	if f, ok := s.frequencies[op]; ok {
		return f
	}
	return 1
}

// ShouldExecute reports whether the operation should run on this tick.
// The offset destaggers operations that share a frequency class so they do
// not all fire on the same tick.
func (s *Scheduler) ShouldExecute(tick uint64, op OpType, offset uint64) bool {
	freq := s.Frequency(op)
	if freq <= 1 {
		return true
	}
	return (tick+offset)%freq == 0
}

// RecordDuration appends an observed execution duration for an operation.
// The ring evicts the oldest sample once full. Diagnostics only — never
// consulted for control flow.
func (s *Scheduler) RecordDuration(op OpType, d time.Duration) {
	ring, ok := s.durations[op]
	if !ok {
		ring = &durationRing{}
		s.durations[op] = ring
	}
	ring.add(d)
}

// AverageDuration returns the mean of the recorded durations for an operation,
// or zero when none have been recorded.
func (s *Scheduler) AverageDuration(op OpType) time.Duration {
	ring, ok := s.durations[op]
	if !ok {
		return 0
	}
	return ring.average()
}

// durationRing is a fixed-capacity ring buffer of durations.
type durationRing struct {
	samples [durationRingCap]time.Duration
	next    int
	count   int
}

func (r *durationRing) add(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % durationRingCap
	if r.count < durationRingCap {
		r.count++
	}
}

func (r *durationRing) average() time.Duration {
	if r.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return sum / time.Duration(r.count)
}
