// Purchase-weight scoring, consumed by the external demand allocator.
package market

import "math"

// PreferenceFn scores how strongly a buyer cares about a tag.
type PreferenceFn func(tagName string) float64

// PurchaseWeight scores how attractive a good is to a buyer:
//
//	weight = (baseUtility × quality / price) × tagModifier
//
// where tagModifier multiplies, per tag, 1 + sign(sentiment)×strength×pref.
// Negative or non-finite results clamp to zero, as does an unknown good.
func (e *Engine) PurchaseWeight(goodID string, quality float64, pref PreferenceFn) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.registry.Lookup(goodID)
	if !ok {
		return 0
	}
	price, ok := e.prices[goodID]
	if !ok || price <= 0 {
		return 0
	}

	weight := def.BaseUtility * quality / price

	for _, tag := range e.tags[goodID] {
		sign := 1.0
		if tag.Sentiment < 0 {
			sign = -1.0
		}
		weight *= 1 + sign*tag.Strength*pref(tag.Name)
	}

	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return 0
	}
	return weight
}
