// Package genesisfile loads and creates the root block every node on
// one sqlchaind network must agree on bit-for-bit: spec.md §8 scenario
// 1 has the first node mine it and everyone else load the same bytes,
// rather than each node minting its own (which would fork the network
// before it even started).
package genesisfile

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/crypto"
)

// record is the on-disk JSON shape of a saved genesis block.
type record struct {
	Signature string `json:"signature"`
	Nonce     uint64 `json:"nonce"`
	Timestamp uint64 `json:"timestamp"`
	Miner     string `json:"miner"`
	Version   uint8  `json:"version"`
	Payload   string `json:"payload"`
}

// genesisDifficulty is deliberately low: the genesis block exists to
// seed identical state across every node, not to prove work, so it
// should mine near-instantly even on a laptop.
const genesisDifficulty = 4

// LoadOrCreate reads the genesis block from path, or mines and saves
// a fresh one seeded with seed if path does not exist yet.
func LoadOrCreate(path string, seed string, miner crypto.Hash) (*chainblock.Block, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return decode(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("genesisfile: read %s: %w", path, err)
	}

	block := chainblock.NewGenesis(seed, miner)
	if !block.Mine(uint64(time.Now().Unix()), 0, genesisDifficulty, nil) {
		return nil, fmt.Errorf("genesisfile: failed to mine genesis block")
	}

	encoded, err := encode(block)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return nil, fmt.Errorf("genesisfile: write %s: %w", path, err)
	}
	return block, nil
}

func encode(b *chainblock.Block) ([]byte, error) {
	payload, err := chainmeta.EncodePayload(&b.Payload)
	if err != nil {
		return nil, fmt.Errorf("genesisfile: encode payload: %w", err)
	}
	rec := record{
		Signature: b.Signature.Hex(),
		Nonce:     b.Nonce,
		Timestamp: b.Timestamp,
		Miner:     b.Miner.Hex(),
		Version:   b.Version,
		Payload:   base64.StdEncoding.EncodeToString(payload),
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("genesisfile: marshal: %w", err)
	}
	return out, nil
}

func decode(data []byte) (*chainblock.Block, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("genesisfile: unmarshal: %w", err)
	}
	sig, err := crypto.ParseHash(rec.Signature)
	if err != nil {
		return nil, fmt.Errorf("genesisfile: parse signature: %w", err)
	}
	miner, err := crypto.ParseHash(rec.Miner)
	if err != nil {
		return nil, fmt.Errorf("genesisfile: parse miner: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("genesisfile: decode payload base64: %w", err)
	}
	payload, err := chainmeta.DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("genesisfile: decode payload: %w", err)
	}
	return &chainblock.Block{
		Header: chainblock.Header{
			Version:   rec.Version,
			Index:     0,
			Previous:  crypto.ZeroHash,
			Miner:     miner,
			Timestamp: rec.Timestamp,
			Nonce:     rec.Nonce,
			Signature: sig,
		},
		Payload: payload,
	}, nil
}
