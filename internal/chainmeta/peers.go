package chainmeta

import (
	"fmt"
)

// PeerRecord is one row of the _peers table: a gossip peer's URL, the
// UUID it last advertised, and when it was last successfully queried.
type PeerRecord struct {
	URL         string
	UUID        string
	LastSeen    int64
	IsBootstrap bool
}

// Peers reads and writes the _peers table the gossip layer persists
// its known peer set to, so a restarted node doesn't have to rediscover
// peers it already learned about.
type Peers struct {
	db Execer
}

// NewPeers wraps db for _peers access.
func NewPeers(db Execer) *Peers { return &Peers{db: db} }

// Upsert records or refreshes a peer's last-seen entry.
func (p *Peers) Upsert(rec PeerRecord) error {
	isBootstrap := 0
	if rec.IsBootstrap {
		isBootstrap = 1
	}
	_, err := p.db.Exec(
		`INSERT INTO _peers(url, uuid, last_seen, is_bootstrap) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET uuid = excluded.uuid, last_seen = excluded.last_seen,
			is_bootstrap = excluded.is_bootstrap OR _peers.is_bootstrap`,
		rec.URL, rec.UUID, rec.LastSeen, isBootstrap)
	if err != nil {
		return fmt.Errorf("chainmeta: upsert peer: %w", err)
	}
	return nil
}

// Forget removes url from the peer table, used when a peer sends an
// explicit forget message or is otherwise permanently discarded.
func (p *Peers) Forget(url string) error {
	_, err := p.db.Exec(`DELETE FROM _peers WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("chainmeta: forget peer: %w", err)
	}
	return nil
}

// List returns every known peer, most recently seen first.
func (p *Peers) List() ([]PeerRecord, error) {
	rows, err := p.db.Query(`SELECT url, uuid, last_seen, is_bootstrap FROM _peers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("chainmeta: list peers: %w", err)
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var rec PeerRecord
		var isBootstrap int
		if err := rows.Scan(&rec.URL, &rec.UUID, &rec.LastSeen, &isBootstrap); err != nil {
			return nil, fmt.Errorf("chainmeta: scan peer row: %w", err)
		}
		rec.IsBootstrap = isBootstrap != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}
