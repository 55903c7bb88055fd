package persistence

import (
	"path/filepath"
	"testing"

	"github.com/talgya/mini-market/internal/market"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPriceRecordRoundTrip(t *testing.T) {
	db := openTestDB(t)

	records := []market.PriceRecord{
		{GoodID: "iron_ore", Tick: 1440, Average: 1050, High: 1100, Low: 900, Volume: 4},
		{GoodID: "iron_ore", Tick: 2880, Average: 1020, High: 1020, Low: 1020, Volume: 0},
		{GoodID: "grain", Tick: 1440, Average: 55, High: 60, Low: 50, Volume: 12},
	}
	if err := db.SavePriceRecords(records); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := db.PriceRecords("iron_ore", 0, 5000)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Tick != 1440 || got[0].High != 1100 || got[0].Volume != 4 {
		t.Errorf("first record = %+v", got[0])
	}
	if got[1].Tick != 2880 {
		t.Errorf("records not ordered by tick: %+v", got)
	}

	// Upsert replaces the same (good, tick) row.
	if err := db.SavePriceRecords([]market.PriceRecord{
		{GoodID: "iron_ore", Tick: 1440, Average: 999, High: 999, Low: 999, Volume: 1},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err = db.PriceRecords("iron_ore", 1440, 1440)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Average != 999 {
		t.Errorf("after upsert = %+v", got)
	}
}

func TestTransactionIdempotence(t *testing.T) {
	db := openTestDB(t)

	txs := []market.Transaction{
		{ID: "tx-1", Tick: 10, GoodID: "grain", Seller: "mill", Buyer: "bakery", Quantity: 3, UnitPrice: 55},
		{ID: "tx-2", Tick: 12, GoodID: "grain", Seller: "mill", Buyer: "tavern", Quantity: 1, UnitPrice: 56},
	}
	if err := db.SaveTransactions(txs); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Overlapping window re-save must not duplicate.
	if err := db.SaveTransactions(txs); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	got, err := db.RecentTransactions("grain", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transactions, want 2", len(got))
	}
	if got[0].ID != "tx-2" {
		t.Errorf("most recent = %+v, want tx-2 first", got[0])
	}
}

func TestMetaAndCheckpoint(t *testing.T) {
	db := openTestDB(t)

	if err := db.Checkpoint(1440); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetMeta("last_tick")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1440" {
		t.Errorf("last_tick = %q", v)
	}

	if err := db.Checkpoint(2880); err != nil {
		t.Fatal(err)
	}
	v, err = db.GetMeta("last_tick")
	if err != nil {
		t.Fatal(err)
	}
	if v != "2880" {
		t.Errorf("last_tick after second checkpoint = %q", v)
	}
}

func TestEmptyBatchesAreNoOps(t *testing.T) {
	db := openTestDB(t)

	if err := db.SavePriceRecords(nil); err != nil {
		t.Errorf("nil records: %v", err)
	}
	if err := db.SaveTransactions(nil); err != nil {
		t.Errorf("nil transactions: %v", err)
	}
}
