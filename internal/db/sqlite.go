package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// connPragmas run on every new pool connection; a PRAGMA sent through
// db.Exec would only reach whichever connection served it.
var connPragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)"}

// OpenSQLite opens dsn and creates the schema if needed. ":memory:" databases
// are pinned to a single connection so every query sees the same data.
func OpenSQLite(dsn string) (*sql.DB, error) {
	memory := dsn == ":memory:"
	if !memory {
		dsn = withPragmas(dsn)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			order_ref TEXT NOT NULL,
			amount REAL NOT NULL,
			currency_code TEXT NOT NULL,
			provider TEXT NOT NULL,
			external_payment_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions(status, created_at)`,

		`CREATE TABLE IF NOT EXISTS ledger_anomalies (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			external_payment_id TEXT NOT NULL,
			stored_status TEXT NOT NULL DEFAULT '',
			attempted_status TEXT NOT NULL,
			source TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			detected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_detected ON ledger_anomalies(detected_at)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			items TEXT NOT NULL,
			total_amount_base REAL NOT NULL,
			actual_amount_paid REAL NOT NULL,
			currency_code TEXT NOT NULL,
			region_code TEXT NOT NULL,
			item_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			order_date TEXT NOT NULL,
			last_updated_at TEXT NOT NULL,
			last_updated_by TEXT NOT NULL,
			payment_gateway_id TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			history TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_gateway ON orders(payment_gateway_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,

		`CREATE TABLE IF NOT EXISTS downloads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			book_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			downloaded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_downloads_user ON downloads(user_id, downloaded_at)`,

		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			price REAL NOT NULL,
			file_ref TEXT NOT NULL DEFAULT '',
			cover_ref TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func withPragmas(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range connPragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}
