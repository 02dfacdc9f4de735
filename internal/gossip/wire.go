package gossip

import (
	"encoding/base64"
	"fmt"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

// wireBlock is the JSON shape spec.md §6 names for a gossiped block.
// The distilled wire format only carries hash/index/nonce/previous and
// the base64 payload blob; version, miner and timestamp are needed to
// reconstruct a Block that internal/chainblock.Validate can check, so
// they are carried alongside as a supplement.
type wireBlock struct {
	Hash      string `json:"hash"`
	Index     uint64 `json:"index"`
	Nonce     uint64 `json:"nonce"`
	Previous  string `json:"previous"`
	Version   uint8  `json:"version"`
	Miner     string `json:"miner"`
	Timestamp uint64 `json:"timestamp"`
	Payload   string `json:"payload"`
}

// encodeBlock renders b into its wire representation.
func encodeBlock(b *chainblock.Block) (wireBlock, error) {
	payload, err := chainmeta.EncodePayload(&b.Payload)
	if err != nil {
		return wireBlock{}, fmt.Errorf("gossip: encode block payload: %w", err)
	}
	return wireBlock{
		Hash:      b.Signature.Hex(),
		Index:     b.Index,
		Nonce:     b.Nonce,
		Previous:  b.Previous.Hex(),
		Version:   b.Version,
		Miner:     b.Miner.Hex(),
		Timestamp: b.Timestamp,
		Payload:   base64.StdEncoding.EncodeToString(payload),
	}, nil
}

// decodeBlock is encodeBlock's inverse.
func decodeBlock(w wireBlock) (*chainblock.Block, error) {
	sig, err := crypto.ParseHash(w.Hash)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.FormatError, "decode wire block hash", err)
	}
	previous, err := crypto.ParseHash(w.Previous)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.FormatError, "decode wire block previous", err)
	}
	miner, err := crypto.ParseHash(w.Miner)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.FormatError, "decode wire block miner", err)
	}
	raw, err := base64.StdEncoding.DecodeString(w.Payload)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.FormatError, "decode wire block payload base64", err)
	}
	payload, err := chainmeta.DecodePayload(raw)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.FormatError, "decode wire block payload", err)
	}
	return &chainblock.Block{
		Header: chainblock.Header{
			Version:   w.Version,
			Index:     w.Index,
			Previous:  previous,
			Miner:     miner,
			Timestamp: w.Timestamp,
			Nonce:     w.Nonce,
			Signature: sig,
		},
		Payload: payload,
	}, nil
}

// wireTransaction is the JSON shape spec.md §6 names for a gossiped
// transaction.
type wireTransaction struct {
	SQL       string `json:"sql"`
	Database  string `json:"database"`
	Counter   uint64 `json:"counter"`
	Invoker   string `json:"invoker"`
	Signature string `json:"signature"`
}

func encodeTransaction(t *chaintx.Transaction) wireTransaction {
	return wireTransaction{
		SQL:       sqlast.CanonicalSQL(t.Statement),
		Database:  t.Database,
		Counter:   t.Counter,
		Invoker:   t.Invoker.Base58Check(),
		Signature: base64.StdEncoding.EncodeToString(t.Signature),
	}
}

func decodeTransaction(w wireTransaction) (*chaintx.Transaction, error) {
	stmt, err := sqlast.Parse(w.SQL)
	if err != nil {
		return nil, err
	}
	invoker, err := crypto.ParsePublicKey(w.Invoker)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.FormatError, "decode wire transaction invoker", err)
	}
	sig, err := base64.StdEncoding.DecodeString(w.Signature)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.FormatError, "decode wire transaction signature base64", err)
	}
	return &chaintx.Transaction{
		Invoker:   invoker,
		Database:  w.Database,
		Counter:   w.Counter,
		Statement: stmt,
		Signature: crypto.Signature(sig),
	}, nil
}
