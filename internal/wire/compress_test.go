package wire

import (
	"math"
	"testing"
	"time"

	"github.com/talgya/mini-market/internal/statesync"
)

func testCompressor() *Compressor {
	return NewCompressor(map[string]string{
		"grain":    "g",
		"tools":    "t",
		"luxuries": "lx",
	})
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestShortID(t *testing.T) {
	c := testCompressor()

	t.Run("Table Mapped", func(t *testing.T) {
		if got := c.ShortID("grain"); got != "g" {
			t.Errorf("ShortID(grain) = %q, want g", got)
		}
		if got := c.ExpandID("g"); got != "grain" {
			t.Errorf("ExpandID(g) = %q, want grain", got)
		}
	})

	t.Run("Deterministic Fallback", func(t *testing.T) {
		a := c.ShortID("obsidian_shard")
		b := c.ShortID("obsidian_shard")
		if a != b {
			t.Errorf("fallback not deterministic: %q vs %q", a, b)
		}
		if a != "obsi" {
			t.Errorf("fallback = %q, want 4-byte prefix", a)
		}
	})

	t.Run("Short Ids Pass Through", func(t *testing.T) {
		if got := c.ShortID("ore"); got != "ore" {
			t.Errorf("ShortID(ore) = %q", got)
		}
	})
}

func TestCompressRoundTrip(t *testing.T) {
	c := testCompressor()
	p := statesync.Payload{
		Kind:          statesync.KindDelta,
		ChannelID:     "sim-1",
		Tick:          4242,
		Timestamp:     time.Unix(1700000000, 0),
		Cash:          f64(10234.56789),
		BuildingCount: intp(7),
		Financial:     &statesync.FinancialSummary{Revenue: 100.129, Expenses: 40.001, NetIncome: 60.128},
		Prices:        map[string]float64{"grain": 1015.4567, "tools": 500},
		PriceChanges: []statesync.PriceChange{
			{GoodID: "grain", OldPrice: 1000, NewPrice: 1015.4567, ChangePct: 0.01545678},
		},
		Events:      []statesync.Event{{Tick: 4242, Category: "economy", Description: "x"}, {Tick: 4242, Category: "social", Description: "y"}},
		Competition: []statesync.CompetitionEvent{{Tick: 4242, CompanyID: "c1", Kind: "undercut"}},
		Trades:      []statesync.Trade{{Tick: 4242, GoodID: "tools", Quantity: 3, UnitPrice: 500.005}},
		Inventory:   map[string]float64{"grain": 12.34567},
		Shortages:   []string{"luxuries"},
		Volumes:     map[string]float64{"grain": 9},
		Economy:     &statesync.EconomyStats{TotalWealth: 123456.789, AvgPrice: 757.123, ActiveListings: 12, DailyVolume: 88},
	}

	data, err := c.Compress(p)
	if err != nil {
		t.Fatal(err)
	}
	d, err := c.Decompress(data)
	if err != nil {
		t.Fatal(err)
	}

	if d.Kind != statesync.KindDelta || d.ChannelID != "sim-1" || d.Tick != 4242 {
		t.Errorf("header wrong: %+v", d)
	}
	if d.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", d.Timestamp)
	}

	// Money at 2 decimal places.
	if d.Cash == nil || *d.Cash != 10234.57 {
		t.Errorf("cash = %v, want 10234.57", d.Cash)
	}
	if d.Prices["grain"] != 1015.46 {
		t.Errorf("grain price = %v, want 1015.46", d.Prices["grain"])
	}
	if d.Financial == nil || d.Financial.Revenue != 100.13 {
		t.Errorf("financial = %+v", d.Financial)
	}

	// Percentages at 4 decimal places.
	if len(d.PriceChanges) != 1 {
		t.Fatalf("price changes = %+v", d.PriceChanges)
	}
	if got := d.PriceChanges[0].ChangePct; math.Abs(got-0.0155) > 1e-12 {
		t.Errorf("change pct = %v, want 0.0155", got)
	}
	if d.PriceChanges[0].GoodID != "grain" {
		t.Errorf("price change id = %q", d.PriceChanges[0].GoodID)
	}

	// Count-collapsed lists.
	if d.EventCount != 2 || d.CompetitionCount != 1 || d.MarketEventCount != 0 {
		t.Errorf("counts = %d/%d/%d", d.EventCount, d.CompetitionCount, d.MarketEventCount)
	}

	// Content-bearing lists and maps.
	if len(d.Trades) != 1 || d.Trades[0].GoodID != "tools" || d.Trades[0].UnitPrice != 500.01 {
		t.Errorf("trades = %+v", d.Trades)
	}
	if d.Inventory["grain"] != 12.3457 {
		t.Errorf("inventory = %v", d.Inventory)
	}
	if len(d.Shortages) != 1 || d.Shortages[0] != "luxuries" {
		t.Errorf("shortages = %v", d.Shortages)
	}
	if d.BuildingCount == nil || *d.BuildingCount != 7 {
		t.Errorf("building count = %v", d.BuildingCount)
	}
	if d.Economy == nil || d.Economy.TotalWealth != 123456.79 || d.Economy.DailyVolume != 88 {
		t.Errorf("economy = %+v", d.Economy)
	}
}

func TestCompressionStats(t *testing.T) {
	c := testCompressor()
	p := statesync.Payload{
		Kind:      statesync.KindFull,
		ChannelID: "sim-1",
		Tick:      1,
		Timestamp: time.Unix(0, 0),
		Prices:    map[string]float64{"grain": 1000, "tools": 500, "luxuries": 2500},
	}
	if _, err := c.Compress(p); err != nil {
		t.Fatal(err)
	}

	s := c.Stats()
	if s.Frames != 1 {
		t.Errorf("frames = %d", s.Frames)
	}
	if s.BytesAfter >= s.BytesBefore {
		t.Errorf("no size reduction: %d → %d", s.BytesBefore, s.BytesAfter)
	}
	if r := s.Ratio(); r <= 0 || r >= 1 {
		t.Errorf("ratio = %v, want in (0,1)", r)
	}
}
