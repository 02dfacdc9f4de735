// Package sqlbackend executes parsed statements against an embedded
// single-file SQLite database, applying the identifier-rewriting,
// variable-substitution, and privilege-checking passes the permissioned
// SQL dialect requires before any statement reaches the engine.
package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
)

// Backend owns the single-writer SQLite connection for one logical
// chain database.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, following
// the same connection-string and pooling conventions used throughout
// this codebase for embedded SQLite access.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlbackend: ping %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)
	return &Backend{db: db}, nil
}

// DB returns the underlying handle for packages (chainmeta, chainstore)
// that need raw DDL or savepoint control outside the AST path.
func (b *Backend) DB() *sql.DB { return b.db }

// Close closes the underlying connection.
func (b *Backend) Close() error { return b.db.Close() }

// Execer is satisfied by *sql.DB, *sql.Tx, and any named-savepoint
// wrapper; it is the minimal surface Execute/Query need, letting
// callers nest statement execution inside their own transactions and
// savepoints.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// asBackendError classifies a raw sqlite3 driver error as best it can;
// most failures at this layer have already been caught by the
// verification pass, so anything reaching the engine is reported as a
// plain ExecutionFailed.
func asBackendError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*chainerr.Error); ok {
		return err
	}
	return chainerr.Wrap(chainerr.ExecutionFailed, "statement execution failed", err)
}
