// Package persistence provides SQLite-based storage for market records.
package persistence

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-market/internal/market"
)

// DB wraps a SQLite connection for durable market history.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS price_records (
		good_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		average REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (good_id, tick)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		tick INTEGER NOT NULL,
		good_id TEXT NOT NULL,
		seller TEXT NOT NULL,
		buyer TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_tick ON price_records(tick);
	CREATE INDEX IF NOT EXISTS idx_tx_tick ON transactions(tick);
	CREATE INDEX IF NOT EXISTS idx_tx_good ON transactions(good_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SavePriceRecords upserts a batch of daily price records.
func (db *DB) SavePriceRecords(records []market.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO price_records
		(good_id, tick, average, high, low, volume)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.GoodID, r.Tick, r.Average, r.High, r.Low, r.Volume); err != nil {
			return fmt.Errorf("insert record %s@%d: %w", r.GoodID, r.Tick, err)
		}
	}

	return tx.Commit()
}

// SaveTransactions appends archived transactions. Re-saving an ID is a no-op,
// so the engine can hand over overlapping windows safely.
func (db *DB) SaveTransactions(txs []market.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO transactions
		(id, tick, good_id, seller, buyer, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range txs {
		if _, err := stmt.Exec(t.ID, t.Tick, t.GoodID, t.Seller, t.Buyer, t.Quantity, t.UnitPrice); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in simulation metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM sim_meta WHERE key = ?", key)
	return value, err
}

// PriceRecords returns a good's daily records over [fromTick, toTick].
func (db *DB) PriceRecords(goodID string, fromTick, toTick uint64) ([]market.PriceRecord, error) {
	var records []market.PriceRecord
	err := db.conn.Select(&records,
		`SELECT good_id, tick, average, high, low, volume
		 FROM price_records
		 WHERE good_id = ? AND tick BETWEEN ? AND ?
		 ORDER BY tick`,
		goodID, fromTick, toTick,
	)
	return records, err
}

// RecentTransactions returns the most recent N transactions for a good.
func (db *DB) RecentTransactions(goodID string, limit int) ([]market.Transaction, error) {
	var txs []market.Transaction
	err := db.conn.Select(&txs,
		`SELECT id, tick, good_id, seller, buyer, quantity, unit_price
		 FROM transactions WHERE good_id = ? ORDER BY tick DESC LIMIT ?`,
		goodID, limit,
	)
	return txs, err
}

// Checkpoint records the last completed tick so a restart can resume cleanly.
func (db *DB) Checkpoint(tick uint64) error {
	if err := db.SaveMeta("last_tick", fmt.Sprintf("%d", tick)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	slog.Debug("checkpoint saved", "tick", tick)
	return nil
}
