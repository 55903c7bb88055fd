// Listing matching and purchase execution.
package market

import "github.com/google/uuid"

// AddListing registers a sell offer and returns its generated ID.
// Quantity must be positive.
func (e *Engine) AddListing(goodID, seller string, quantity int, unitPrice float64, expiresAt *uint64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.states[goodID]; !ok {
		return "", ErrUnknownGood
	}
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	l := &Listing{
		ID:        uuid.NewString(),
		GoodID:    goodID,
		Seller:    seller,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		ExpiresAt: expiresAt,
	}
	e.listings[l.ID] = l
	return l.ID, nil
}

// Listing returns a snapshot of an active listing by ID, or false when absent.
func (e *Engine) Listing(id string) (Listing, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if l, ok := e.listings[id]; ok {
		return *l, true
	}
	return Listing{}, false
}

// Listings returns snapshots of all active listings.
func (e *Engine) Listings() []Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Listing, 0, len(e.listings))
	for _, l := range e.listings {
		out = append(out, *l)
	}
	return out
}

// ExecutePurchase matches a purchase against a listing. The requested
// quantity must not exceed the listing's remaining quantity — otherwise the
// purchase fails with no partial side effects. On success the listing is
// reduced (removed at zero), the good's supply and demand both drop by the
// traded quantity, and an immutable transaction is recorded.
//
// Supply/demand are deliberately not clamped at zero: a completed trade
// removes one unit of offered supply and one unit of expressed demand, and
// a transient negative self-corrects through the scarcity sentinel on
// subsequent ticks.
func (e *Engine) ExecutePurchase(tick uint64, listingID, buyer string, quantity int) (Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.listings[listingID]
	if !ok {
		return Transaction{}, ErrUnknownListing
	}
	if quantity <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	if quantity > l.Quantity {
		return Transaction{}, ErrInsufficientQty
	}

	l.Quantity -= quantity
	if l.Quantity == 0 {
		delete(e.listings, listingID)
	}

	if s, ok := e.states[l.GoodID]; ok {
		s.Supply -= float64(quantity)
		s.Demand -= float64(quantity)
	}

	tx := Transaction{
		ID:        uuid.NewString(),
		Tick:      tick,
		GoodID:    l.GoodID,
		Seller:    l.Seller,
		Buyer:     buyer,
		Quantity:  quantity,
		UnitPrice: l.UnitPrice,
	}
	e.transactions = append(e.transactions, tx)
	e.tickVolume[l.GoodID] += float64(quantity)

	return tx, nil
}

// purgeExpiredListings drops listings whose expiry tick has passed.
func (e *Engine) purgeExpiredListings(tick uint64) {
	for id, l := range e.listings {
		if l.ExpiresAt != nil && tick >= *l.ExpiresAt {
			delete(e.listings, id)
		}
	}
}
