package gossip

import (
	"testing"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

func TestBlockRoundTrip(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	minerID := priv.PublicKey().IdentityHash()

	genesis := chainblock.NewGenesis("wire test genesis", minerID)
	if !genesis.Mine(0, 0, 1, nil) {
		t.Fatal("failed to mine genesis")
	}

	wire, err := encodeBlock(genesis)
	if err != nil {
		t.Fatalf("encodeBlock: %v", err)
	}
	decoded, err := decodeBlock(wire)
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}

	if decoded.Signature != genesis.Signature {
		t.Fatalf("signature mismatch: got %s want %s", decoded.Signature.Hex(), genesis.Signature.Hex())
	}
	if decoded.Index != genesis.Index || decoded.Nonce != genesis.Nonce {
		t.Fatalf("header mismatch: %+v vs %+v", decoded.Header, genesis.Header)
	}
	if decoded.Payload.Seed != genesis.Payload.Seed {
		t.Fatalf("payload mismatch: got %q want %q", decoded.Payload.Seed, genesis.Payload.Seed)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	stmt, err := sqlast.Parse("INSERT INTO t (a) VALUES (1)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tx := &chaintx.Transaction{Database: "gossip", Counter: 1, Statement: stmt}
	tx.Sign(priv)

	wire := encodeTransaction(tx)
	decoded, err := decodeTransaction(wire)
	if err != nil {
		t.Fatalf("decodeTransaction: %v", err)
	}

	if err := decoded.Verify(); err != nil {
		t.Fatalf("decoded transaction does not verify: %v", err)
	}
	if decoded.Counter != tx.Counter || decoded.Database != tx.Database {
		t.Fatalf("field mismatch: got %+v want %+v", decoded, tx)
	}
}
