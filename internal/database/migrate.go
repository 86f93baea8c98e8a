package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Schema for the wallet. Accounts are keyed by the platform-assigned user id;
// the transactions table is the append-only ledger and is never updated or
// deleted from. The CHECK constraints back up the application-level invariants
// (no negative balance, no non-positive ledger amounts).
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id             BIGINT PRIMARY KEY,
		username            TEXT UNIQUE,
		first_name          TEXT NOT NULL DEFAULT '',
		balance             BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		auto_clicker_active BOOLEAN NOT NULL DEFAULT FALSE,
		registered_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id           BIGSERIAL PRIMARY KEY,
		from_user_id BIGINT NOT NULL,
		to_user_id   BIGINT NOT NULL,
		amount       BIGINT NOT NULL CHECK (amount > 0),
		type         TEXT NOT NULL,
		description  TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_from_user ON transactions (from_user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to_user ON transactions (to_user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions (created_at DESC, id DESC)`,
}

// Migrate applies the schema statements in order. Statements are idempotent.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	log.Println("Database schema up to date")
	return nil
}
