// Daily price bookkeeping.
package market

import "log/slog"

// RecordDailyPrices computes one PriceRecord per good from the trailing
// day's transactions. Goods with no trades fall back to the current price
// with zero volume. Call once per sim-day via the scheduler.
func (e *Engine) RecordDailyPrices(tick uint64, dayTicks uint64) []PriceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	var since uint64
	if tick > dayTicks {
		since = tick - dayTicks
	}

	type agg struct {
		sum    float64
		high   float64
		low    float64
		volume int
		trades int
	}
	byGood := make(map[string]*agg)
	for _, tx := range e.transactions {
		if tx.Tick < since || tx.Tick > tick {
			continue
		}
		a, ok := byGood[tx.GoodID]
		if !ok {
			a = &agg{high: tx.UnitPrice, low: tx.UnitPrice}
			byGood[tx.GoodID] = a
		}
		if tx.UnitPrice > a.high {
			a.high = tx.UnitPrice
		}
		if tx.UnitPrice < a.low {
			a.low = tx.UnitPrice
		}
		a.sum += tx.UnitPrice * float64(tx.Quantity)
		a.volume += tx.Quantity
		a.trades++
	}

	records := make([]PriceRecord, 0, len(e.prices))
	for id, price := range e.prices {
		rec := PriceRecord{GoodID: id, Tick: tick}
		if a, ok := byGood[id]; ok && a.volume > 0 {
			rec.Average = a.sum / float64(a.volume)
			rec.High = a.high
			rec.Low = a.low
			rec.Volume = a.volume
		} else {
			// No trades today — record the standing price.
			rec.Average = price
			rec.High = price
			rec.Low = price
		}
		records = append(records, rec)
	}

	e.records = append(e.records, records...)
	if e.sink != nil {
		if err := e.sink.SavePriceRecords(records); err != nil {
			slog.Warn("price record save failed", "count", len(records), "error", err)
		}
	}
	return records
}

// PriceRecords returns a copy of the in-memory record history.
func (e *Engine) PriceRecords() []PriceRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]PriceRecord(nil), e.records...)
}
