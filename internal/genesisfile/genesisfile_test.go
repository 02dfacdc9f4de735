package genesisfile

import (
	"path/filepath"
	"testing"

	"github.com/sqlchain/sqlchaind/internal/crypto"
)

func TestLoadOrCreateMinesOnFirstCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	minerID := priv.PublicKey().IdentityHash()

	block, err := LoadOrCreate(path, "test network genesis", minerID)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if block.Index != 0 {
		t.Fatalf("genesis index = %d, want 0", block.Index)
	}
	if block.Miner != minerID {
		t.Fatalf("miner = %s, want %s", block.Miner.Hex(), minerID.Hex())
	}
	if block.Work() < genesisDifficulty {
		t.Fatalf("work = %d, want >= %d", block.Work(), genesisDifficulty)
	}
	if err := block.Validate(); err != nil {
		t.Fatalf("mined genesis does not validate: %v", err)
	}
}

func TestLoadOrCreateLoadsIdenticalBlockOnSecondCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	minerID := priv.PublicKey().IdentityHash()

	first, err := LoadOrCreate(path, "test network genesis", minerID)
	if err != nil {
		t.Fatalf("LoadOrCreate (first): %v", err)
	}

	// a second call with a different seed/miner must still load the
	// persisted bytes rather than mine a new, diverging genesis —
	// otherwise every node on the network would fork at block zero.
	_, otherPriv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	second, err := LoadOrCreate(path, "a different seed entirely", otherPriv.PublicKey().IdentityHash())
	if err != nil {
		t.Fatalf("LoadOrCreate (second): %v", err)
	}

	if first.Signature != second.Signature {
		t.Fatalf("second load diverged from first: %s vs %s", second.Signature.Hex(), first.Signature.Hex())
	}
	if second.Miner != minerID {
		t.Fatalf("loaded genesis miner = %s, want the original %s", second.Miner.Hex(), minerID.Hex())
	}
}
