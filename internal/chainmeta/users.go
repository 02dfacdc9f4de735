package chainmeta

import (
	"database/sql"
	"fmt"

	"github.com/sqlchain/sqlchaind/internal/crypto"
)

// Users reads and writes the _users table: the highest transaction
// counter ever applied per invoker identity hash.
type Users struct {
	db Execer
}

// NewUsers wraps db for _users access.
func NewUsers(db Execer) *Users { return &Users{db: db} }

// Counter returns the invoker's highest applied counter, or 0, false
// if the invoker has never transacted.
func (u *Users) Counter(user crypto.Hash) (uint64, bool, error) {
	var counter int64
	err := u.db.QueryRow(`SELECT counter FROM _users WHERE user = ?`, user.Bytes()).Scan(&counter)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("chainmeta: read _users counter: %w", err)
	}
	return uint64(counter), true, nil
}

// SetCounter records user's highest applied counter.
func (u *Users) SetCounter(user crypto.Hash, counter uint64) error {
	_, err := u.db.Exec(
		`INSERT INTO _users(user, counter) VALUES (?, ?)
		 ON CONFLICT(user) DO UPDATE SET counter = excluded.counter`,
		user.Bytes(), int64(counter))
	if err != nil {
		return fmt.Errorf("chainmeta: write _users counter: %w", err)
	}
	return nil
}

// Counters returns every known invoker's counter, keyed by identity
// hash (used by diagnostics and tests, not the hot path).
func (u *Users) Counters() (map[crypto.Hash]uint64, error) {
	rows, err := u.db.Query(`SELECT user, counter FROM _users`)
	if err != nil {
		return nil, fmt.Errorf("chainmeta: list _users: %w", err)
	}
	defer rows.Close()

	out := make(map[crypto.Hash]uint64)
	for rows.Next() {
		var raw []byte
		var counter int64
		if err := rows.Scan(&raw, &counter); err != nil {
			return nil, fmt.Errorf("chainmeta: scan _users row: %w", err)
		}
		var h crypto.Hash
		copy(h[:], raw)
		out[h] = uint64(counter)
	}
	return out, rows.Err()
}
