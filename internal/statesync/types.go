// Package statesync computes per-channel full-or-delta state payloads from
// per-tick update records, so remote observers track the simulation without
// receiving the full state every tick.
package statesync

import "time"

// Kind discriminates the two payload shapes.
type Kind string

const (
	KindFull  Kind = "full"
	KindDelta Kind = "delta"
)

// FinancialSummary is a condensed view of the player's finances.
type FinancialSummary struct {
	Revenue   float64 `json:"revenue"`
	Expenses  float64 `json:"expenses"`
	NetIncome float64 `json:"net_income"`
}

// PriceChange records one significant price move.
type PriceChange struct {
	GoodID    string  `json:"good_id"`
	OldPrice  float64 `json:"old_price"`
	NewPrice  float64 `json:"new_price"`
	ChangePct float64 `json:"change_pct"`
}

// Event is a notable simulation occurrence.
type Event struct {
	Tick        uint64 `json:"tick"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// CompanySummary is an aggregate snapshot of one AI company.
type CompanySummary struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	BuildingCount int     `json:"building_count"`
}

// CompetitionEvent records a competitor action.
type CompetitionEvent struct {
	Tick      uint64 `json:"tick"`
	CompanyID string `json:"company_id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

// ResearchUpdate reports research progress.
type ResearchUpdate struct {
	CompanyID string  `json:"company_id"`
	Project   string  `json:"project"`
	Progress  float64 `json:"progress"`
}

// Trade is one executed trade relevant to the channel.
type Trade struct {
	Tick      uint64  `json:"tick"`
	GoodID    string  `json:"good_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// MarketEvent records a market-wide occurrence (shock, shortage, trend).
type MarketEvent struct {
	Tick        uint64 `json:"tick"`
	GoodID      string `json:"good_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// EconomyStats is the aggregate economy snapshot.
type EconomyStats struct {
	TotalWealth    float64 `json:"total_wealth"`
	AvgPrice       float64 `json:"avg_price"`
	ActiveListings int     `json:"active_listings"`
	DailyVolume    int     `json:"daily_volume"`
}

// TickUpdate is the per-tick record the orchestrator hands to the manager.
// All fields beyond channel/tick/timestamp are optional: a nil pointer or
// nil map/slice means "not available this tick", never "zero".
type TickUpdate struct {
	ChannelID string    `json:"channel_id"`
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`

	Cash          *float64           `json:"cash,omitempty"`
	BuildingCount *int               `json:"building_count,omitempty"`
	Financial     *FinancialSummary  `json:"financial,omitempty"`
	Prices        map[string]float64 `json:"prices,omitempty"`
	PriceChanges  []PriceChange      `json:"price_changes,omitempty"`
	Events        []Event            `json:"events,omitempty"`
	Companies     []CompanySummary   `json:"companies,omitempty"`
	Competition   []CompetitionEvent `json:"competition,omitempty"`
	Research      []ResearchUpdate   `json:"research,omitempty"`
	Trades        []Trade            `json:"trades,omitempty"`
	Inventory     map[string]float64 `json:"inventory,omitempty"`
	Shortages     []string           `json:"shortages,omitempty"`
	Volumes       map[string]float64 `json:"volumes,omitempty"`
	MarketEvents  []MarketEvent      `json:"market_events,omitempty"`
	Economy       *EconomyStats      `json:"economy,omitempty"`
}

// Payload is the outbound sync result: a full snapshot or a minimal delta.
// Field presence follows the sync rules; absent fields were not synced.
type Payload struct {
	Kind      Kind      `json:"kind"`
	ChannelID string    `json:"channel_id"`
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`

	Cash          *float64           `json:"cash,omitempty"`
	BuildingCount *int               `json:"building_count,omitempty"`
	Financial     *FinancialSummary  `json:"financial,omitempty"`
	Prices        map[string]float64 `json:"prices,omitempty"`
	PriceChanges  []PriceChange      `json:"price_changes,omitempty"`
	Events        []Event            `json:"events,omitempty"`
	Companies     []CompanySummary   `json:"companies,omitempty"`
	Competition   []CompetitionEvent `json:"competition,omitempty"`
	Research      []ResearchUpdate   `json:"research,omitempty"`
	Trades        []Trade            `json:"trades,omitempty"`
	Inventory     map[string]float64 `json:"inventory,omitempty"`
	Shortages     []string           `json:"shortages,omitempty"`
	Volumes       map[string]float64 `json:"volumes,omitempty"`
	MarketEvents  []MarketEvent      `json:"market_events,omitempty"`
	Economy       *EconomyStats      `json:"economy,omitempty"`
}
