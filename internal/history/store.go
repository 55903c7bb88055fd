// Package history provides multi-tier, progressively aggregated price/volume
// time series. Raw per-tick points are kept briefly; coarser OHLCV buckets
// keep unbounded tick history inside bounded memory.
package history

import (
	"fmt"
	"sync"
)

// Tier configuration.
const (
	// Tier1AgeTicks is how long raw per-tick points are retained (age-based
	// eviction, not count-based).
	Tier1AgeTicks = 100

	// Tier2GroupSize raw points fold into one tier-2 bucket.
	Tier2GroupSize = 5
	// Tier2Cap bounds tier 2 (FIFO eviction of the oldest).
	Tier2Cap = 180

	// Tier3GroupSize raw points fold into one tier-3 bucket.
	Tier3GroupSize = 20
	// Tier3Cap bounds tier 3.
	Tier3Cap = 500
)

// Point is one raw per-tick observation. Open/high/low/close are all equal
// to the tick's price; kept in OHLCV shape so aggregation is uniform.
type Point struct {
	Tick   uint64  `json:"tick"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Bucket is an OHLCV aggregate over a contiguous tick range.
type Bucket struct {
	StartTick uint64  `json:"start_tick"`
	EndTick   uint64  `json:"end_tick"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// series holds all tiers for one good.
type series struct {
	raw []Point // tier 1, evicted by age

	pending2 []Point // raw points awaiting tier-2 aggregation
	pending3 []Point // raw points awaiting tier-3 aggregation

	tier2 []Bucket
	tier3 []Bucket
}

// Store keeps one tiered series per good. Safe for concurrent use: the tick
// loop records while API handlers read.
type Store struct {
	mu     sync.RWMutex
	byGood map[string]*series
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byGood: make(map[string]*series)}
}

// Record inserts one price/volume point for a good at a tick, evicting aged
// raw points and folding full groups into coarser tiers.
func (s *Store) Record(goodID string, tick uint64, price float64, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, ok := s.byGood[goodID]
	if !ok {
		ser = &series{}
		s.byGood[goodID] = ser
	}

	p := Point{Tick: tick, Open: price, High: price, Low: price, Close: price, Volume: volume}
	ser.raw = append(ser.raw, p)
	ser.pending2 = append(ser.pending2, p)
	ser.pending3 = append(ser.pending3, p)

	// Age-based eviction of tier 1. The cutoff point itself is evicted so
	// steady state holds exactly Tier1AgeTicks points, never one more.
	if tick > Tier1AgeTicks {
		cutoff := tick - Tier1AgeTicks
		idx := 0
		for idx < len(ser.raw) && ser.raw[idx].Tick <= cutoff {
			idx++
		}
		ser.raw = ser.raw[idx:]
	}

	if len(ser.pending2) == Tier2GroupSize {
		ser.tier2 = append(ser.tier2, aggregate(ser.pending2))
		ser.pending2 = nil
		if len(ser.tier2) > Tier2Cap {
			ser.tier2 = ser.tier2[len(ser.tier2)-Tier2Cap:]
		}
	}
	if len(ser.pending3) == Tier3GroupSize {
		ser.tier3 = append(ser.tier3, aggregate(ser.pending3))
		ser.pending3 = nil
		if len(ser.tier3) > Tier3Cap {
			ser.tier3 = ser.tier3[len(ser.tier3)-Tier3Cap:]
		}
	}
}

// aggregate folds a group of raw points into one OHLCV bucket: open from the
// first point, close from the last, high/low across the group, volumes
// summed. An empty group is a scheduling bug — a contract violation that
// must never be silently absorbed into a degenerate bucket.
func aggregate(points []Point) Bucket {
	if len(points) == 0 {
		panic("history: aggregate called with empty point group")
	}
	b := Bucket{
		StartTick: points[0].Tick,
		EndTick:   points[len(points)-1].Tick,
		Open:      points[0].Open,
		Close:     points[len(points)-1].Close,
		High:      points[0].High,
		Low:       points[0].Low,
	}
	for _, p := range points {
		if p.High > b.High {
			b.High = p.High
		}
		if p.Low < b.Low {
			b.Low = p.Low
		}
		b.Volume += p.Volume
	}
	return b
}

// Raw returns tier-1 points for a good (most recent ≤100 ticks).
func (s *Store) Raw(goodID string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ser, ok := s.byGood[goodID]; ok {
		return append([]Point(nil), ser.raw...)
	}
	return nil
}

// TierLen reports the point count of a tier (1, 2, or 3) for a good.
func (s *Store) TierLen(goodID string, tier int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.byGood[goodID]
	if !ok {
		return 0
	}
	switch tier {
	case 1:
		return len(ser.raw)
	case 2:
		return len(ser.tier2)
	case 3:
		return len(ser.tier3)
	default:
		return 0
	}
}

// Recent returns the n most recent points for a good as buckets, selecting
// the finest tier that can satisfy the request alone. When the request
// exceeds tier 1's depth, results stitch tier 3 → tier 2 → tier 1, oldest
// to newest, without duplicating tick ranges.
func (s *Store) Recent(goodID string, n int) ([]Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.byGood[goodID]
	if !ok {
		return nil, fmt.Errorf("history: unknown good %q", goodID)
	}
	if n <= 0 {
		return nil, nil
	}

	if n <= len(ser.raw) {
		out := make([]Bucket, 0, n)
		for _, p := range ser.raw[len(ser.raw)-n:] {
			out = append(out, pointBucket(p))
		}
		return out, nil
	}
	if n <= len(ser.tier2) {
		return append([]Bucket(nil), ser.tier2[len(ser.tier2)-n:]...), nil
	}
	if n <= len(ser.tier3) {
		return append([]Bucket(nil), ser.tier3[len(ser.tier3)-n:]...), nil
	}

	out := s.stitch(ser)
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// stitch concatenates tiers coarse-to-fine, skipping any bucket whose range
// overlaps what a finer tier already covers.
func (s *Store) stitch(ser *series) []Bucket {
	var fineStart uint64
	covered := false
	if len(ser.tier2) > 0 {
		fineStart = ser.tier2[0].StartTick
		covered = true
	} else if len(ser.raw) > 0 {
		fineStart = ser.raw[0].Tick
		covered = true
	}

	var out []Bucket
	for _, b := range ser.tier3 {
		if covered && b.EndTick >= fineStart {
			break
		}
		out = append(out, b)
	}

	var rawStart uint64
	rawCovered := len(ser.raw) > 0
	if rawCovered {
		rawStart = ser.raw[0].Tick
	}
	for _, b := range ser.tier2 {
		if len(out) > 0 && b.StartTick <= out[len(out)-1].EndTick {
			continue
		}
		if rawCovered && b.EndTick >= rawStart {
			break
		}
		out = append(out, b)
	}

	for _, p := range ser.raw {
		if len(out) > 0 && p.Tick <= out[len(out)-1].EndTick {
			continue
		}
		out = append(out, pointBucket(p))
	}
	return out
}

// Candles returns the tier whose bucket size best matches the requested
// resolution in ticks (1, 5, or 20 ticks per candle).
func (s *Store) Candles(goodID string, resolutionTicks int) ([]Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.byGood[goodID]
	if !ok {
		return nil, fmt.Errorf("history: unknown good %q", goodID)
	}

	switch nearestTier(resolutionTicks) {
	case 1:
		out := make([]Bucket, 0, len(ser.raw))
		for _, p := range ser.raw {
			out = append(out, pointBucket(p))
		}
		return out, nil
	case 2:
		return append([]Bucket(nil), ser.tier2...), nil
	default:
		return append([]Bucket(nil), ser.tier3...), nil
	}
}

// nearestTier picks the tier with the closest bucket size.
func nearestTier(resolution int) int {
	if resolution < 1 {
		resolution = 1
	}
	best, bestDiff := 1, diff(resolution, 1)
	if d := diff(resolution, Tier2GroupSize); d < bestDiff {
		best, bestDiff = 2, d
	}
	if d := diff(resolution, Tier3GroupSize); d < bestDiff {
		best = 3
	}
	return best
}

func diff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func pointBucket(p Point) Bucket {
	return Bucket{
		StartTick: p.Tick,
		EndTick:   p.Tick,
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Close,
		Volume:    p.Volume,
	}
}
