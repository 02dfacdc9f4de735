package chainmeta

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

// BlockArchive persists one row per accepted block in _blocks, keyed
// by signature, and answers range/work queries the difficulty
// retarget and chain-rewind logic need.
type BlockArchive struct {
	db Execer
}

// NewBlockArchive wraps db for _blocks access.
func NewBlockArchive(db Execer) *BlockArchive { return &BlockArchive{db: db} }

// wireTransaction is the JSON-serializable form of a transaction
// persisted inside a block's payload blob. The archive's own encoding
// is an implementation detail; only the reconstructed canonical
// signing bytes (invoker, database, counter, rendered SQL) need to
// round-trip, not the wire format itself.
type wireTransaction struct {
	Invoker   []byte `json:"invoker"`
	Database  string `json:"database"`
	Counter   uint64 `json:"counter"`
	SQL       string `json:"sql"`
	Signature []byte `json:"signature"`
}

type wirePayload struct {
	Seed         string            `json:"seed,omitempty"`
	Transactions []wireTransaction `json:"transactions,omitempty"`
}

// EncodePayload renders p into the same JSON-blob form the block
// archive persists it in; internal/gossip reuses it to fill the
// base64 payload field of the wire block format (spec.md §6).
func EncodePayload(p *chainblock.Payload) ([]byte, error) {
	if p.IsGenesis() {
		return json.Marshal(wirePayload{Seed: p.Seed})
	}
	wire := make([]wireTransaction, len(p.Transactions))
	for i, tx := range p.Transactions {
		wire[i] = wireTransaction{
			Invoker:   tx.Invoker.Raw(),
			Database:  tx.Database,
			Counter:   tx.Counter,
			SQL:       sqlast.CanonicalSQL(tx.Statement),
			Signature: []byte(tx.Signature),
		}
	}
	return json.Marshal(wirePayload{Transactions: wire})
}

// DecodePayload is EncodePayload's inverse.
func DecodePayload(raw []byte) (chainblock.Payload, error) {
	var wire wirePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return chainblock.Payload{}, fmt.Errorf("chainmeta: decode payload: %w", err)
	}
	if wire.Transactions == nil {
		return chainblock.Payload{Seed: wire.Seed}, nil
	}
	txs := make([]*chaintx.Transaction, len(wire.Transactions))
	for i, w := range wire.Transactions {
		stmt, err := sqlast.Parse(w.SQL)
		if err != nil {
			return chainblock.Payload{}, fmt.Errorf("chainmeta: decode payload statement: %w", err)
		}
		invoker, err := crypto.NewPublicKeyFromBytes(w.Invoker)
		if err != nil {
			return chainblock.Payload{}, fmt.Errorf("chainmeta: decode payload invoker: %w", err)
		}
		txs[i] = &chaintx.Transaction{
			Invoker:   invoker,
			Database:  w.Database,
			Counter:   w.Counter,
			Statement: stmt,
			Signature: crypto.Signature(w.Signature),
		}
	}
	return chainblock.Payload{Transactions: txs}, nil
}

// Insert archives b. It is the caller's responsibility to have
// already validated b.
func (a *BlockArchive) Insert(b *chainblock.Block) error {
	payload, err := EncodePayload(&b.Payload)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(
		`INSERT INTO _blocks(signature, "index", nonce, previous, timestamp, miner, version, payload, work)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Signature.Bytes(), int64(b.Index), int64(b.Nonce), b.Previous.Bytes(),
		int64(b.Timestamp), b.Miner.Bytes(), int(b.Version), payload, b.Work())
	if err != nil {
		return fmt.Errorf("chainmeta: archive block: %w", err)
	}
	return nil
}

// Remove deletes the archived row for hash, used when unwinding past
// an already-archived block.
func (a *BlockArchive) Remove(hash crypto.Hash) error {
	_, err := a.db.Exec(`DELETE FROM _blocks WHERE signature = ?`, hash.Bytes())
	if err != nil {
		return fmt.Errorf("chainmeta: remove archived block: %w", err)
	}
	return nil
}

func (a *BlockArchive) scanBlock(row *sql.Row) (*chainblock.Block, error) {
	var sig, previous, miner, payload []byte
	var idx, nn, ts, ver, work int64
	if err := row.Scan(&sig, &idx, &nn, &previous, &ts, &miner, &ver, &payload, &work); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("chainmeta: scan block row: %w", err)
	}

	p, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	var sigHash, prevHash, minerHash crypto.Hash
	copy(sigHash[:], sig)
	copy(prevHash[:], previous)
	copy(minerHash[:], miner)
	return &chainblock.Block{
		Header: chainblock.Header{
			Version:   uint8(ver),
			Index:     uint64(idx),
			Previous:  prevHash,
			Miner:     minerHash,
			Timestamp: uint64(ts),
			Nonce:     uint64(nn),
			Signature: sigHash,
		},
		Payload: p,
	}, nil
}

// Get returns the archived block with the given signature, or nil if
// absent.
func (a *BlockArchive) Get(hash crypto.Hash) (*chainblock.Block, error) {
	row := a.db.QueryRow(
		`SELECT signature, "index", nonce, previous, timestamp, miner, version, payload, work
		 FROM _blocks WHERE signature = ?`, hash.Bytes())
	return a.scanBlock(row)
}

// GetByIndex returns the archived block at the given chain height, or
// nil if absent.
func (a *BlockArchive) GetByIndex(index uint64) (*chainblock.Block, error) {
	row := a.db.QueryRow(
		`SELECT signature, "index", nonce, previous, timestamp, miner, version, payload, work
		 FROM _blocks WHERE "index" = ?`, int64(index))
	return a.scanBlock(row)
}

// TotalWork sums archived work over the inclusive index range [lo, hi].
func (a *BlockArchive) TotalWork(lo, hi uint64) (uint64, error) {
	var total sql.NullInt64
	err := a.db.QueryRow(
		`SELECT SUM(work) FROM _blocks WHERE "index" BETWEEN ? AND ?`,
		int64(lo), int64(hi)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("chainmeta: sum work: %w", err)
	}
	return uint64(total.Int64), nil
}
