// Package chainmeta implements the metadata tables (_info, _blocks,
// _users, grants, _peers) that sit alongside the permissioned SQL
// state in the same database: block archive, per-invoker counters, the
// grant table a statement's privileges are checked against, and the
// gossip layer's persisted peer table.
package chainmeta

import (
	"database/sql"
	"fmt"
)

// EnsureSchema creates the metadata tables if they do not already
// exist. Safe to call on every startup.
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _info (key TEXT PRIMARY KEY, value TEXT)`,
		`CREATE TABLE IF NOT EXISTS _blocks (
			signature BLOB PRIMARY KEY,
			"index" INTEGER NOT NULL,
			nonce INTEGER NOT NULL,
			previous BLOB NOT NULL,
			timestamp INTEGER NOT NULL,
			miner BLOB NOT NULL,
			version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			work INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS _blocks_index ON _blocks("index")`,
		`CREATE TABLE IF NOT EXISTS _users (user BLOB PRIMARY KEY, counter INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS grants (database TEXT, kind TEXT, user BLOB, "table" BLOB)`,
		`CREATE TABLE IF NOT EXISTS _peers (
			url TEXT PRIMARY KEY,
			uuid TEXT NOT NULL,
			last_seen INTEGER NOT NULL,
			is_bootstrap INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("chainmeta: ensure schema: %w", err)
		}
	}
	return nil
}
