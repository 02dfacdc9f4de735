package chainmeta

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/sqlchain/sqlchaind/internal/crypto"
)

const (
	keyHead            = "head"
	keyIndex           = "index"
	keyReplaying       = "replaying"
	keyEnforcingGrants = "enforcingGrants"
)

// Info reads and writes the _info key/value table: the chain head
// hash and index, and the replaying/enforcingGrants state flags.
type Info struct {
	db Execer
}

// Execer is the subset of *sql.DB / *sql.Tx the metadata tables need.
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// NewInfo wraps db (a *sql.DB or an in-progress *sql.Tx/savepoint) for
// _info access.
func NewInfo(db Execer) *Info { return &Info{db: db} }

func (i *Info) get(key string) (string, bool, error) {
	var value string
	err := i.db.QueryRow(`SELECT value FROM _info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("chainmeta: read _info[%s]: %w", key, err)
	}
	return value, true, nil
}

func (i *Info) set(key, value string) error {
	_, err := i.db.Exec(
		`INSERT INTO _info(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("chainmeta: write _info[%s]: %w", key, err)
	}
	return nil
}

// Head returns the chain head hash, or the zero hash and false if
// unset (no block applied yet).
func (i *Info) Head() (crypto.Hash, bool, error) {
	s, ok, err := i.get(keyHead)
	if err != nil || !ok {
		return crypto.Hash{}, false, err
	}
	h, err := crypto.ParseHash(s)
	if err != nil {
		return crypto.Hash{}, false, fmt.Errorf("chainmeta: parse head hash: %w", err)
	}
	return h, true, nil
}

// SetHead records the chain head hash and index together.
func (i *Info) SetHead(hash crypto.Hash, index uint64) error {
	if err := i.set(keyHead, hash.Hex()); err != nil {
		return err
	}
	return i.set(keyIndex, strconv.FormatUint(index, 10))
}

// HeadIndex returns the chain head index, or 0, false if unset.
func (i *Info) HeadIndex() (uint64, bool, error) {
	s, ok, err := i.get(keyIndex)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("chainmeta: parse head index: %w", err)
	}
	return n, true, nil
}

func (i *Info) getBool(key string) (bool, error) {
	s, ok, err := i.get(key)
	if err != nil || !ok {
		return false, err
	}
	return s == "true", nil
}

func (i *Info) setBool(key string, value bool) error {
	s := "false"
	if value {
		s = "true"
	}
	return i.set(key, s)
}

// Replaying reports whether the store is mid-rebuild-from-genesis.
func (i *Info) Replaying() (bool, error) { return i.getBool(keyReplaying) }

// SetReplaying toggles the replaying flag.
func (i *Info) SetReplaying(v bool) error { return i.setBool(keyReplaying, v) }

// EnforcingGrants reports whether the chain has left bootstrap mode
// and now requires every statement to pass a grants check.
func (i *Info) EnforcingGrants() (bool, error) { return i.getBool(keyEnforcingGrants) }

// SetEnforcingGrants arms grant enforcement; per spec.md §4.7 this is
// one-directional — once armed, a chain never returns to bootstrap.
func (i *Info) SetEnforcingGrants(v bool) error { return i.setBool(keyEnforcingGrants, v) }
