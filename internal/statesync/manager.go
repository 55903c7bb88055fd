// SyncManager core: per-channel snapshot diffing with significance
// thresholds and nested sampling cadences.
package statesync

import (
	"math"
	"sync"
)

// Sync tuning constants.
const (
	// FullSyncInterval forces a full snapshot every N ticks per channel.
	FullSyncInterval = 100

	// CashThreshold is the absolute cash change (in crowns) below which a
	// delta omits the cash field.
	CashThreshold = 100.0

	// PriceRelThreshold is the relative price move that counts as
	// significant (0.1%).
	PriceRelThreshold = 0.001

	// InventoryRelThreshold is the relative inventory-quantity change that
	// counts as significant (1%).
	InventoryRelThreshold = 0.01

	// Secondary sampling cadences nested inside delta mode. The field is
	// only considered on its sampling tick, then subject to its own
	// significance test.
	InventoryCadence = 5
	CompanyCadence   = 10
	EconomyCadence   = 20
)

// channelState is the last-observed snapshot for one channel. Used purely
// for diffing; never itself transmitted.
type channelState struct {
	last         TickUpdate
	lastFullSync uint64
	seen         bool
}

// Manager maintains exactly one snapshot per observer channel. Produce runs
// on the tick loop while Forget arrives from connection goroutines, so the
// channel map is guarded.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewManager creates an empty sync manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]*channelState)}
}

// Produce computes the sync payload for one per-tick update record and
// replaces the channel's snapshot with this tick's values. The first payload
// for a channel is always full; afterwards a full sync recurs every
// FullSyncInterval ticks, with deltas in between.
func (m *Manager) Produce(u TickUpdate) Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[u.ChannelID]
	if !ok {
		ch = &channelState{}
		m.channels[u.ChannelID] = ch
	}

	var p Payload
	if !ch.seen || u.Tick-ch.lastFullSync >= FullSyncInterval {
		p = m.fullSync(u)
		ch.lastFullSync = u.Tick
	} else {
		p = m.deltaSync(ch, u)
	}

	// Replace, never merge: diffing is against the true last-observed
	// record, not a stale accumulation.
	ch.last = u
	ch.seen = true
	return p
}

// Forget discards a channel's snapshot. A later Produce for the same ID
// starts over with a full sync.
func (m *Manager) Forget(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
}

// fullSync includes every populated field of the update verbatim.
func (m *Manager) fullSync(u TickUpdate) Payload {
	return Payload{
		Kind:          KindFull,
		ChannelID:     u.ChannelID,
		Tick:          u.Tick,
		Timestamp:     u.Timestamp,
		Cash:          u.Cash,
		BuildingCount: u.BuildingCount,
		Financial:     u.Financial,
		Prices:        u.Prices,
		PriceChanges:  u.PriceChanges,
		Events:        u.Events,
		Companies:     u.Companies,
		Competition:   u.Competition,
		Research:      u.Research,
		Trades:        u.Trades,
		Inventory:     u.Inventory,
		Shortages:     u.Shortages,
		Volumes:       u.Volumes,
		MarketEvents:  u.MarketEvents,
		Economy:       u.Economy,
	}
}

// deltaSync includes only fields that changed beyond their significance
// threshold, list fields whose presence is itself the signal, and the
// always-included price map.
func (m *Manager) deltaSync(ch *channelState, u TickUpdate) Payload {
	p := Payload{
		Kind:      KindDelta,
		ChannelID: u.ChannelID,
		Tick:      u.Tick,
		Timestamp: u.Timestamp,
	}
	prev := &ch.last

	// Cash: absolute change threshold.
	if u.Cash != nil {
		if prev.Cash == nil || math.Abs(*u.Cash-*prev.Cash) >= CashThreshold {
			p.Cash = u.Cash
		}
	}

	// Building count: any change is significant.
	if u.BuildingCount != nil {
		if prev.BuildingCount == nil || *u.BuildingCount != *prev.BuildingCount {
			p.BuildingCount = u.BuildingCount
		}
	}

	// Financial summary: included when any component moved.
	if u.Financial != nil {
		if prev.Financial == nil || *u.Financial != *prev.Financial {
			p.Financial = u.Financial
		}
	}

	// The full price map is always included — downstream charting needs a
	// continuous series even without any single significant move.
	p.Prices = u.Prices

	// Significant price changes: supplied by the orchestrator, or derived
	// here from the snapshot when absent.
	changes := u.PriceChanges
	if changes == nil {
		changes = significantPriceChanges(prev.Prices, u.Prices)
	}
	if len(changes) > 0 {
		p.PriceChanges = changes
	}

	// List fields whose presence is the signal.
	if len(u.Events) > 0 {
		p.Events = u.Events
	}
	if len(u.Competition) > 0 {
		p.Competition = u.Competition
	}
	if len(u.Trades) > 0 {
		p.Trades = u.Trades
	}
	if len(u.Research) > 0 {
		p.Research = u.Research
	}
	if len(u.Shortages) > 0 {
		p.Shortages = u.Shortages
	}
	if len(u.Volumes) > 0 {
		p.Volumes = u.Volumes
	}
	if len(u.MarketEvents) > 0 {
		p.MarketEvents = u.MarketEvents
	}

	// Coarser sampling cadences nested inside delta mode.
	if u.Inventory != nil && u.Tick%InventoryCadence == 0 {
		if inventoryChanged(prev.Inventory, u.Inventory) {
			p.Inventory = u.Inventory
		}
	}
	if u.Companies != nil && u.Tick%CompanyCadence == 0 {
		if companiesChanged(prev.Companies, u.Companies) {
			p.Companies = u.Companies
		}
	}
	if u.Economy != nil && u.Tick%EconomyCadence == 0 {
		if prev.Economy == nil || *prev.Economy != *u.Economy {
			p.Economy = u.Economy
		}
	}

	return p
}

// significantPriceChanges diffs two price maps at the relative threshold.
func significantPriceChanges(prev, cur map[string]float64) []PriceChange {
	if prev == nil || cur == nil {
		return nil
	}
	var out []PriceChange
	for id, newPrice := range cur {
		oldPrice, ok := prev[id]
		if !ok || oldPrice == 0 {
			continue
		}
		pct := (newPrice - oldPrice) / oldPrice
		if math.Abs(pct) >= PriceRelThreshold {
			out = append(out, PriceChange{
				GoodID:    id,
				OldPrice:  oldPrice,
				NewPrice:  newPrice,
				ChangePct: pct,
			})
		}
	}
	return out
}

// inventoryChanged reports whether any item moved beyond the relative
// threshold, appeared, or disappeared.
func inventoryChanged(prev, cur map[string]float64) bool {
	if prev == nil {
		return true
	}
	if len(prev) != len(cur) {
		return true
	}
	for id, qty := range cur {
		old, ok := prev[id]
		if !ok {
			return true
		}
		if old == 0 {
			if qty != 0 {
				return true
			}
			continue
		}
		if math.Abs((qty-old)/old) >= InventoryRelThreshold {
			return true
		}
	}
	return false
}

// companiesChanged compares aggregate company snapshots.
func companiesChanged(prev, cur []CompanySummary) bool {
	if prev == nil || len(prev) != len(cur) {
		return true
	}
	for i := range cur {
		if prev[i] != cur[i] {
			return true
		}
	}
	return false
}
