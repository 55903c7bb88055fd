package market

import (
	"math"
	"math/rand"
	"testing"
)

func testRegistry() *StaticRegistry {
	return NewStaticRegistry([]GoodDef{
		{ID: "grain", Name: "Grain", BasePrice: 1000, BaseUtility: 10},
		{ID: "tools", Name: "Tools", BasePrice: 500, BaseUtility: 6,
			Tags: []Tag{{Name: "durable", Sentiment: 1, Strength: 0.5}}},
		{ID: "luxuries", Name: "Luxuries", BasePrice: 2500, BaseUtility: 2},
	})
}

func TestPricingExample(t *testing.T) {
	// basePrice 1000, supply 1000, demand 1300 → ratio 1.3, imbalance 0.3.
	e := NewEngine(testRegistry())
	s := e.states["grain"]
	s.Supply = 1000
	s.Demand = 1300

	e.Tick(1)

	// velocity = 0×0.9 + (0.3×0.5)×0.1 = 0.015 → price = round(1000×1.015).
	if got := s.Velocity; math.Abs(got-0.015) > 1e-12 {
		t.Errorf("velocity = %v, want 0.015", got)
	}
	price, _ := e.CurrentPrice("grain")
	if price != 1015 {
		t.Errorf("price = %v, want 1015", price)
	}
	if price != math.Trunc(price) {
		t.Errorf("price %v not rounded to whole crowns", price)
	}
	if s.LastPrice != price {
		t.Errorf("last price %v diverged from current price %v", s.LastPrice, price)
	}
}

func TestDeadBand(t *testing.T) {
	e := NewEngine(testRegistry())
	s := e.states["grain"]
	s.Supply = 1000
	s.Demand = 1040 // ratio 1.04, imbalance 0.04 ≤ 0.05
	s.Velocity = 0.002

	before, _ := e.CurrentPrice("grain")
	e.Tick(1)
	after, _ := e.CurrentPrice("grain")

	if after != before {
		t.Errorf("price moved %v → %v inside dead-band", before, after)
	}
	if s.Velocity != 0.002 {
		t.Errorf("velocity changed to %v inside dead-band", s.Velocity)
	}
}

func TestZeroSupplyScarcitySentinel(t *testing.T) {
	e := NewEngine(testRegistry())
	s := e.states["grain"]
	s.Supply = 0
	s.Demand = 50

	e.Tick(1)

	// ratio sentinel 2 → imbalance 1 → velocity 0.05, price up.
	if math.Abs(s.Velocity-0.05) > 1e-12 {
		t.Errorf("velocity = %v, want 0.05", s.Velocity)
	}
	price, _ := e.CurrentPrice("grain")
	if price <= 1000 {
		t.Errorf("price %v did not rise under maximal scarcity", price)
	}
}

func TestPriceStaysBounded(t *testing.T) {
	// Random supply/demand mutations must never push price outside
	// [base×0.1, base×10].
	e := NewEngine(testRegistry())
	rng := rand.New(rand.NewSource(7))

	for tick := uint64(1); tick <= 5000; tick++ {
		for _, id := range []string{"grain", "tools", "luxuries"} {
			s := e.states[id]
			s.Supply = float64(rng.Intn(2000))
			s.Demand = float64(rng.Intn(2000))
		}
		e.Tick(tick)

		for _, def := range testRegistry().Goods() {
			price, _ := e.CurrentPrice(def.ID)
			if price < def.BasePrice*MinPriceMult || price > def.BasePrice*MaxPriceMult {
				t.Fatalf("tick %d: %s price %v outside [%v, %v]",
					tick, def.ID, price,
					def.BasePrice*MinPriceMult, def.BasePrice*MaxPriceMult)
			}
		}
	}
}

func TestExecutePurchase(t *testing.T) {
	t.Run("Partial Fill", func(t *testing.T) {
		e := NewEngine(testRegistry())
		s := e.states["grain"]
		s.Supply = 100
		s.Demand = 100

		id, err := e.AddListing("grain", "alice", 10, 1000, nil)
		if err != nil {
			t.Fatal(err)
		}
		tx, err := e.ExecutePurchase(1, id, "bob", 4)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Quantity != 4 || tx.GoodID != "grain" || tx.Buyer != "bob" {
			t.Errorf("unexpected transaction %+v", tx)
		}
		l, ok := e.Listing(id)
		if !ok || l.Quantity != 6 {
			t.Errorf("listing remaining = %v, want 6", l)
		}
		if s.Supply != 96 || s.Demand != 96 {
			t.Errorf("supply/demand = %v/%v, want 96/96", s.Supply, s.Demand)
		}
	})

	t.Run("Full Fill Removes Listing", func(t *testing.T) {
		e := NewEngine(testRegistry())
		id, _ := e.AddListing("grain", "alice", 3, 900, nil)
		if _, err := e.ExecutePurchase(1, id, "bob", 3); err != nil {
			t.Fatal(err)
		}
		if _, ok := e.Listing(id); ok {
			t.Error("fully filled listing still active")
		}
	})

	t.Run("Overask Fails Without Side Effects", func(t *testing.T) {
		e := NewEngine(testRegistry())
		s := e.states["grain"]
		s.Supply = 50
		s.Demand = 50
		id, _ := e.AddListing("grain", "alice", 2, 900, nil)

		if _, err := e.ExecutePurchase(1, id, "bob", 5); err != ErrInsufficientQty {
			t.Fatalf("err = %v, want ErrInsufficientQty", err)
		}
		l, _ := e.Listing(id)
		if l.Quantity != 2 {
			t.Errorf("listing quantity mutated to %d on failed purchase", l.Quantity)
		}
		if s.Supply != 50 || s.Demand != 50 {
			t.Error("supply/demand mutated on failed purchase")
		}
		if len(e.Transactions()) != 0 {
			t.Error("transaction recorded for failed purchase")
		}
	})

	t.Run("Unknown Listing", func(t *testing.T) {
		e := NewEngine(testRegistry())
		if _, err := e.ExecutePurchase(1, "no-such-id", "bob", 1); err != ErrUnknownListing {
			t.Fatalf("err = %v, want ErrUnknownListing", err)
		}
	})

	t.Run("Negative Transient Preserved", func(t *testing.T) {
		// Trading more than the standing supply/demand drives both negative.
		// This is the chosen behavior: the transient self-corrects through
		// the scarcity sentinel on later ticks.
		e := NewEngine(testRegistry())
		s := e.states["grain"]
		s.Supply = 2
		s.Demand = 2
		id, _ := e.AddListing("grain", "alice", 5, 1000, nil)
		if _, err := e.ExecutePurchase(1, id, "bob", 5); err != nil {
			t.Fatal(err)
		}
		if s.Supply != -3 || s.Demand != -3 {
			t.Errorf("supply/demand = %v/%v, want -3/-3", s.Supply, s.Demand)
		}
	})
}

func TestListingExpiry(t *testing.T) {
	e := NewEngine(testRegistry())
	exp := uint64(10)
	id, _ := e.AddListing("grain", "alice", 5, 1000, &exp)

	e.Tick(9)
	if _, ok := e.Listing(id); !ok {
		t.Fatal("listing purged before expiry")
	}
	e.Tick(10)
	if _, ok := e.Listing(id); ok {
		t.Error("expired listing still active")
	}
}

func TestPurchaseWeight(t *testing.T) {
	e := NewEngine(testRegistry())

	t.Run("Base Formula", func(t *testing.T) {
		// tools: utility 6, price 500, one positive tag (strength 0.5).
		// pref("durable") = 1 → weight = 6×2/500 × (1 + 0.5) = 0.036.
		got := e.PurchaseWeight("tools", 2, func(string) float64 { return 1 })
		if math.Abs(got-0.036) > 1e-12 {
			t.Errorf("weight = %v, want 0.036", got)
		}
	})

	t.Run("Negative Clamps To Zero", func(t *testing.T) {
		// A strong negative preference against a positive tag can push the
		// modifier below zero.
		got := e.PurchaseWeight("tools", 2, func(string) float64 { return -4 })
		if got != 0 {
			t.Errorf("weight = %v, want 0", got)
		}
	})

	t.Run("Unknown Good Is Zero", func(t *testing.T) {
		if got := e.PurchaseWeight("spice", 1, func(string) float64 { return 1 }); got != 0 {
			t.Errorf("weight = %v, want 0", got)
		}
	})
}

func TestRecordDailyPrices(t *testing.T) {
	e := NewEngine(testRegistry())

	id, _ := e.AddListing("grain", "alice", 10, 1100, nil)
	if _, err := e.ExecutePurchase(100, id, "bob", 3); err != nil {
		t.Fatal(err)
	}
	id2, _ := e.AddListing("grain", "carol", 10, 900, nil)
	if _, err := e.ExecutePurchase(200, id2, "bob", 1); err != nil {
		t.Fatal(err)
	}

	records := e.RecordDailyPrices(1440, 1440)
	byGood := make(map[string]PriceRecord)
	for _, r := range records {
		byGood[r.GoodID] = r
	}

	grain := byGood["grain"]
	if grain.High != 1100 || grain.Low != 900 || grain.Volume != 4 {
		t.Errorf("grain record %+v, want high 1100 low 900 volume 4", grain)
	}
	// (1100×3 + 900×1) / 4 = 1050.
	if math.Abs(grain.Average-1050) > 1e-9 {
		t.Errorf("grain average = %v, want 1050", grain.Average)
	}

	// No trades for tools: falls back to current price, zero volume.
	tools := byGood["tools"]
	price, _ := e.CurrentPrice("tools")
	if tools.Average != price || tools.High != price || tools.Low != price || tools.Volume != 0 {
		t.Errorf("tools record %+v, want flat fallback at %v", tools, price)
	}
}

func TestConcurrentTickAndReads(t *testing.T) {
	// The HTTP API reads engine state while the tick loop mutates it.
	e := NewEngine(testRegistry())
	s := e.states["grain"]
	s.Supply = 1000
	s.Demand = 1200
	exp := uint64(5000)
	if _, err := e.AddListing("grain", "alice", 100, 1000, &exp); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for tick := uint64(1); tick <= 2000; tick++ {
			e.AdjustSupply("grain", 0.5)
			e.AdjustDemand("tools", -0.25)
			e.Tick(tick)
		}
	}()
	for i := 0; i < 500; i++ {
		e.Prices()
		e.CurrentPrice("grain")
		e.State("grain")
		e.Tags("tools")
		e.Listings()
		e.ActiveTrends()
		e.Transactions()
		e.PriceRecords()
		e.PurchaseWeight("tools", 1, func(string) float64 { return 1 })
	}
	<-done

	if st, ok := e.State("grain"); !ok || st.Supply != 2000 {
		t.Errorf("supply = %v, want 2000 after 2000 adjustments", st.Supply)
	}
}

func TestTransactionPruning(t *testing.T) {
	e := NewEngine(testRegistry())
	id, _ := e.AddListing("grain", "alice", 100, 1000, nil)

	if _, err := e.ExecutePurchase(1, id, "bob", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ExecutePurchase(2000, id, "bob", 1); err != nil {
		t.Fatal(err)
	}

	// Advance past the retention window for the first transaction only.
	e.Tick(TransactionRetentionTicks + 100)

	txs := e.Transactions()
	if len(txs) != 1 {
		t.Fatalf("retained %d transactions, want 1", len(txs))
	}
	if txs[0].Tick != 2000 {
		t.Errorf("wrong transaction retained: tick %d", txs[0].Tick)
	}
}
