// Trend lifecycle — time-boxed external modifiers over one or more goods.
// Created by the narrative collaborator, removed automatically once expired.
package market

import "log/slog"

// Trend is a time-boxed price/demand modifier. Intensity follows a
// rise-then-fall curve: 0 at start, 1 at peak, back to 0 at end. A trend
// without an end tick plateaus at peak intensity and is never removed
// automatically.
type Trend struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	GoodIDs    []string `json:"good_ids"`
	StartTick  uint64   `json:"start_tick"`
	PeakTick   uint64   `json:"peak_tick"`
	EndTick    *uint64  `json:"end_tick,omitempty"`
	PriceMult  float64  `json:"price_mult"`
	DemandMult float64  `json:"demand_mult"`

	// Tag mutations applied on activation and reverted on expiry.
	AddTags    []Tag    `json:"add_tags,omitempty"`
	RemoveTags []string `json:"remove_tags,omitempty"`

	activated bool
	// removedTags remembers tags this trend stripped so expiry can restore them.
	removedTags map[string][]Tag
}

// affects reports whether the trend covers the given good.
func (t *Trend) affects(goodID string) bool {
	for _, id := range t.GoodIDs {
		if id == goodID {
			return true
		}
	}
	return false
}

// Intensity returns the trend's strength in [0, 1] at the given tick.
func (t *Trend) Intensity(tick uint64) float64 {
	if tick < t.StartTick {
		return 0
	}
	if tick < t.PeakTick {
		rise := float64(tick-t.StartTick) / float64(t.PeakTick-t.StartTick)
		return clamp01(rise)
	}
	if t.EndTick == nil {
		return 1 // no end: plateau at peak intensity
	}
	end := *t.EndTick
	if tick >= end || end <= t.PeakTick {
		return 0
	}
	fall := 1 - float64(tick-t.PeakTick)/float64(end-t.PeakTick)
	return clamp01(fall)
}

// expired reports whether the trend's end tick has passed.
func (t *Trend) expired(tick uint64) bool {
	return t.EndTick != nil && tick >= *t.EndTick
}

// effectivePriceMult scales the configured multiplier by current intensity,
// so a 1.5× trend at intensity 0.5 applies 1.25×.
func (t *Trend) effectivePriceMult(tick uint64) float64 {
	return 1 + (t.PriceMult-1)*t.Intensity(tick)
}

// effectiveDemandMult scales the demand multiplier by current intensity.
func (t *Trend) effectiveDemandMult(tick uint64) float64 {
	return 1 + (t.DemandMult-1)*t.Intensity(tick)
}

// AddTrend registers a trend. Activation (tag mutations) happens on the
// first tick at or after StartTick.
func (e *Engine) AddTrend(t *Trend) {
	if t == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trends = append(e.trends, t)
}

// ActiveTrends returns snapshots of the trends currently in the active set.
func (e *Engine) ActiveTrends() []Trend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Trend, 0, len(e.trends))
	for _, t := range e.trends {
		out = append(out, *t)
	}
	return out
}

// updateTrends runs the trend state machine: activate pending trends, drop
// expired ones exactly once, reverting their tag mutations.
func (e *Engine) updateTrends(tick uint64) {
	kept := e.trends[:0]
	for _, t := range e.trends {
		if !t.activated && tick >= t.StartTick {
			e.activateTrend(t)
		}
		if t.expired(tick) {
			e.revertTrend(t)
			slog.Debug("trend expired", "trend", t.Name, "tick", tick)
			continue
		}
		kept = append(kept, t)
	}
	e.trends = kept
}

// activateTrend applies the trend's tag mutations to its goods.
func (e *Engine) activateTrend(t *Trend) {
	t.activated = true
	t.removedTags = make(map[string][]Tag)

	for _, goodID := range t.GoodIDs {
		tags, ok := e.tags[goodID]
		if !ok {
			continue
		}

		// Strip named tags, remembering them for revert.
		for _, name := range t.RemoveTags {
			kept := tags[:0]
			for _, tag := range tags {
				if tag.Name == name {
					t.removedTags[goodID] = append(t.removedTags[goodID], tag)
					continue
				}
				kept = append(kept, tag)
			}
			tags = kept
		}

		tags = append(tags, t.AddTags...)
		e.tags[goodID] = tags
	}
}

// revertTrend undoes the trend's tag mutations. Idempotent: a trend that was
// never activated, or already reverted, is a no-op.
func (e *Engine) revertTrend(t *Trend) {
	if !t.activated {
		return
	}
	t.activated = false

	for _, goodID := range t.GoodIDs {
		tags, ok := e.tags[goodID]
		if !ok {
			continue
		}

		// Drop the tags this trend added.
		for _, added := range t.AddTags {
			kept := tags[:0]
			for _, tag := range tags {
				if tag.Name == added.Name {
					continue
				}
				kept = append(kept, tag)
			}
			tags = kept
		}

		// Restore the tags it removed.
		tags = append(tags, t.removedTags[goodID]...)
		e.tags[goodID] = tags
	}
	t.removedTags = nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
