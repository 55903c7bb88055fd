// Engine ties pricing, trends, listings, and bookkeeping together.
// All methods run synchronously inside the orchestrator's tick call.
package market

import (
	"log/slog"
	"math"
	"sync"
)

// Pricing constants.
const (
	// MinPriceMult and MaxPriceMult bound every price to
	// [basePrice × MinPriceMult, basePrice × MaxPriceMult].
	MinPriceMult = 0.1
	MaxPriceMult = 10.0

	// ImbalanceThreshold is the dead-band: smaller imbalances leave price
	// and velocity untouched, suppressing jitter from noisy fluctuations.
	ImbalanceThreshold = 0.05

	// AdjustmentRate scales how strongly imbalance feeds the velocity term.
	AdjustmentRate = 0.5

	// VelocitySmoothing is the exponential-smoothing weight on the previous
	// velocity: v' = v×0.9 + signal×0.1.
	VelocitySmoothing = 0.9

	// ScarcityRatio is the sentinel demand/supply ratio used when supply is
	// zero — maximal scarcity.
	ScarcityRatio = 2.0

	// TransactionRetentionTicks bounds how long executed trades are kept
	// before pruning (2 sim-days).
	TransactionRetentionTicks = 2 * 1440
)

// Engine owns per-good supply/demand state and current prices. Mutation runs
// on the tick loop; the read accessors may be called from API handlers, so
// all shared state sits behind the engine mutex.
type Engine struct {
	mu       sync.RWMutex
	registry Registry

	states map[string]*SupplyDemandState
	prices map[string]float64
	tags   map[string][]Tag // mutable per-good tag sets, seeded from defs

	trends   []*Trend
	listings map[string]*Listing

	transactions []Transaction
	tickVolume   map[string]float64 // per-good traded quantity, reset each tick

	records []PriceRecord
	sink    RecordSink  // optional
	history HistorySink // optional
}

// NewEngine creates an engine with one supply/demand state per registry good.
func NewEngine(registry Registry) *Engine {
	e := &Engine{
		registry:   registry,
		states:     make(map[string]*SupplyDemandState),
		prices:     make(map[string]float64),
		tags:       make(map[string][]Tag),
		listings:   make(map[string]*Listing),
		tickVolume: make(map[string]float64),
	}
	for _, def := range registry.Goods() {
		e.states[def.ID] = &SupplyDemandState{
			GoodID:    def.ID,
			Supply:    1,
			Demand:    1,
			LastPrice: def.BasePrice,
		}
		e.prices[def.ID] = def.BasePrice
		e.tags[def.ID] = append([]Tag(nil), def.Tags...)
	}
	return e
}

// SetRecordSink attaches an optional persistence sink for daily price records
// and pruned transactions.
func (e *Engine) SetRecordSink(sink RecordSink) { e.sink = sink }

// SetHistorySink attaches an optional per-tick history receiver.
func (e *Engine) SetHistorySink(h HistorySink) { e.history = h }

// Tick advances the market by one tick: trend lifecycle, price updates,
// history emission, and maintenance (expiries and pruning).
func (e *Engine) Tick(tick uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateTrends(tick)
	e.updatePrices(tick)
	e.emitHistory(tick)
	e.purgeExpiredListings(tick)
	e.purgeExpiredTags(tick)
	e.pruneTransactions(tick)
	for id := range e.tickVolume {
		delete(e.tickVolume, id)
	}
}

// updatePrices runs the pricing algorithm once per good.
func (e *Engine) updatePrices(tick uint64) {
	for id, state := range e.states {
		def, ok := e.registry.Lookup(id)
		if !ok {
			continue
		}

		demand := state.Demand
		for _, tr := range e.trends {
			if tr.affects(id) {
				demand *= tr.effectiveDemandMult(tick)
			}
		}

		var ratio float64
		if state.Supply == 0 {
			ratio = ScarcityRatio
		} else {
			ratio = demand / state.Supply
		}
		imbalance := ratio - 1

		price := e.prices[id]
		if math.Abs(imbalance) > ImbalanceThreshold {
			state.Velocity = state.Velocity*VelocitySmoothing +
				(imbalance*AdjustmentRate)*(1-VelocitySmoothing)
			price = price * (1 + state.Velocity)
		}

		for _, tr := range e.trends {
			if tr.affects(id) {
				price *= tr.effectivePriceMult(tick)
			}
		}

		floor := def.BasePrice * MinPriceMult
		ceiling := def.BasePrice * MaxPriceMult
		if price < floor {
			price = floor
		}
		if price > ceiling {
			price = ceiling
		}
		price = math.Round(price) // smallest currency unit is one crown

		e.prices[id] = price
		state.LastPrice = price
	}
}

// emitHistory pushes one point per good into the attached history sink.
func (e *Engine) emitHistory(tick uint64) {
	if e.history == nil {
		return
	}
	for id, price := range e.prices {
		e.history.Record(id, tick, price, e.tickVolume[id])
	}
}

// CurrentPrice returns the good's price, or false for an unknown good.
func (e *Engine) CurrentPrice(goodID string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.prices[goodID]
	return p, ok
}

// Prices returns a copy of the full current-price mapping.
func (e *Engine) Prices() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.prices))
	for id, p := range e.prices {
		out[id] = p
	}
	return out
}

// State returns a snapshot of the supply/demand state for a good, or false
// when unknown.
func (e *Engine) State(goodID string) (SupplyDemandState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.states[goodID]; ok {
		return *s, true
	}
	return SupplyDemandState{}, false
}

// AdjustSupply shifts a good's supply by delta. Unknown goods are ignored.
func (e *Engine) AdjustSupply(goodID string, delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[goodID]; ok {
		s.Supply += delta
	}
}

// AdjustDemand shifts a good's demand by delta. Unknown goods are ignored.
func (e *Engine) AdjustDemand(goodID string, delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[goodID]; ok {
		s.Demand += delta
	}
}

// Tags returns a copy of the current tag set for a good.
func (e *Engine) Tags(goodID string) []Tag {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Tag(nil), e.tags[goodID]...)
}

// purgeExpiredTags drops tags whose expiry tick has passed.
func (e *Engine) purgeExpiredTags(tick uint64) {
	for id, tags := range e.tags {
		kept := tags[:0]
		for _, tag := range tags {
			if tag.ExpiresAt != nil && tick >= *tag.ExpiresAt {
				continue
			}
			kept = append(kept, tag)
		}
		e.tags[id] = kept
	}
}

// pruneTransactions archives and drops transactions older than the
// retention window.
func (e *Engine) pruneTransactions(tick uint64) {
	if tick < TransactionRetentionTicks {
		return
	}
	cutoff := tick - TransactionRetentionTicks
	kept := e.transactions[:0]
	var pruned []Transaction
	for _, tx := range e.transactions {
		if tx.Tick < cutoff {
			pruned = append(pruned, tx)
			continue
		}
		kept = append(kept, tx)
	}
	e.transactions = kept

	if len(pruned) > 0 && e.sink != nil {
		if err := e.sink.SaveTransactions(pruned); err != nil {
			slog.Warn("transaction archive failed", "count", len(pruned), "error", err)
		}
	}
}

// Transactions returns a copy of the retained transaction window.
func (e *Engine) Transactions() []Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Transaction(nil), e.transactions...)
}
