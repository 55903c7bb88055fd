// Package market provides supply/demand price discovery, trend modifiers,
// listing matching, and periodic price bookkeeping for all tradable goods.
package market

import "errors"

// Boundary lookup failures. A missing reference on one tick must not halt a
// long-running simulation, so these surface as errors, never panics.
var (
	ErrUnknownGood     = errors.New("market: unknown good")
	ErrUnknownListing  = errors.New("market: unknown listing")
	ErrInvalidQuantity = errors.New("market: invalid quantity")
	ErrInsufficientQty = errors.New("market: requested quantity exceeds listing")
)

// Tag is a sentiment marker on a good. Sentiment carries the sign (positive
// or negative association), Strength the magnitude in [0, 1]. A tag with an
// expiry tick is purged once that tick passes.
type Tag struct {
	Name      string  `json:"name"`
	Sentiment float64 `json:"sentiment"`
	Strength  float64 `json:"strength"`
	ExpiresAt *uint64 `json:"expires_at,omitempty"`
}

// GoodDef is the read-only definition of a good, supplied by the external
// goods registry. The engine consumes definitions but never owns them.
type GoodDef struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	BasePrice   float64 `json:"base_price"`
	BaseUtility float64 `json:"base_utility"`
	Tags        []Tag   `json:"tags,omitempty"`
}

// Registry is the external goods-definition source.
type Registry interface {
	Goods() []GoodDef
	Lookup(id string) (GoodDef, bool)
}

// SupplyDemandState holds the mutable market state for one good. Created at
// initialization, mutated every tick, never deleted.
type SupplyDemandState struct {
	GoodID    string  `json:"good_id"`
	Supply    float64 `json:"supply"`
	Demand    float64 `json:"demand"`
	LastPrice float64 `json:"last_price"`
	Velocity  float64 `json:"velocity"` // Smoothed price momentum
}

// Listing is an active sell offer awaiting buyers.
type Listing struct {
	ID        string  `json:"id"`
	GoodID    string  `json:"good_id"`
	Seller    string  `json:"seller"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	ExpiresAt *uint64 `json:"expires_at,omitempty"`
}

// Transaction is the immutable record of an executed trade.
type Transaction struct {
	ID        string  `json:"id" db:"id"`
	Tick      uint64  `json:"tick" db:"tick"`
	GoodID    string  `json:"good_id" db:"good_id"`
	Seller    string  `json:"seller" db:"seller"`
	Buyer     string  `json:"buyer" db:"buyer"`
	Quantity  int     `json:"quantity" db:"quantity"`
	UnitPrice float64 `json:"unit_price" db:"unit_price"`
}

// PriceRecord is the once-per-sim-day snapshot of a good's trading activity.
// High/low/volume come from the day's transactions; a day with no trades
// falls back to the current price with zero volume.
type PriceRecord struct {
	GoodID  string  `json:"good_id" db:"good_id"`
	Tick    uint64  `json:"tick" db:"tick"`
	Average float64 `json:"average" db:"average"`
	High    float64 `json:"high" db:"high"`
	Low     float64 `json:"low" db:"low"`
	Volume  int     `json:"volume" db:"volume"`
}

// RecordSink receives daily price records and archived transactions.
// Persistence is a collaborator, not part of the engine.
type RecordSink interface {
	SavePriceRecords(records []PriceRecord) error
	SaveTransactions(txs []Transaction) error
}

// HistorySink receives one price/volume point per good per tick.
type HistorySink interface {
	Record(goodID string, tick uint64, price float64, volume float64)
}
