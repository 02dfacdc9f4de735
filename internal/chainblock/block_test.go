package chainblock

import (
	"testing"

	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

func mustParse(t *testing.T, text string) sqlast.Statement {
	t.Helper()
	stmt, err := sqlast.Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return stmt
}

func signedTx(t *testing.T, priv crypto.PrivateKey, counter uint64, sql string) *chaintx.Transaction {
	t.Helper()
	tx := &chaintx.Transaction{Database: "db", Counter: counter, Statement: mustParse(t, sql)}
	tx.Sign(priv)
	return tx
}

func TestMineSatisfiesDifficulty(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b := NewGenesis("foo", priv.PublicKey().IdentityHash())
	if !b.Mine(0, 0, 10, nil) {
		t.Fatal("Mine() = false, want true")
	}
	if b.Work() < 10 {
		t.Errorf("Work() = %d, want >= 10", b.Work())
	}
	if b.Signature != b.Hash() {
		t.Error("Signature does not match recomputed Hash()")
	}
}

func TestValidateGenesis(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b := NewGenesis("foo", priv.PublicKey().IdentityHash())
	b.Mine(0, 0, 8, nil)
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsNonGenesisWithoutTransactions(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	genesis := NewGenesis("foo", priv.PublicKey().IdentityHash())
	genesis.Mine(0, 0, 4, nil)

	b := NewCandidate(genesis, priv.PublicKey().IdentityHash())
	b.Mine(1, 0, 1, nil)
	if err := b.Validate(); err == nil {
		t.Fatal("Validate() = nil for an empty non-genesis block, want error")
	}
}

func TestAppendRejectsDuplicateSignature(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	genesis := NewGenesis("foo", priv.PublicKey().IdentityHash())
	genesis.Mine(0, 0, 4, nil)

	b := NewCandidate(genesis, priv.PublicKey().IdentityHash())
	tx := signedTx(t, priv, 0, `INSERT INTO foo(x) VALUES (1u)`)

	ok, err := b.Append(tx)
	if err != nil || !ok {
		t.Fatalf("Append() = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = b.Append(tx)
	if err != nil {
		t.Fatalf("Append() duplicate: err = %v, want nil", err)
	}
	if ok {
		t.Fatal("Append() duplicate = true, want false (idempotent)")
	}
	if len(b.Payload.Transactions) != 1 {
		t.Errorf("len(Transactions) = %d, want 1", len(b.Payload.Transactions))
	}
}

func TestAppendRejectsOverCapacity(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	genesis := NewGenesis("foo", priv.PublicKey().IdentityHash())
	genesis.Mine(0, 0, 1, nil)
	b := NewCandidate(genesis, priv.PublicKey().IdentityHash())

	for i := uint64(0); i < maxTransactions; i++ {
		tx := signedTx(t, priv, i, `INSERT INTO foo(x) VALUES (1u)`)
		if ok, err := b.Append(tx); err != nil || !ok {
			t.Fatalf("Append() #%d = (%v, %v)", i, ok, err)
		}
	}
	tx := signedTx(t, priv, maxTransactions, `INSERT INTO foo(x) VALUES (1u)`)
	if _, err := b.Append(tx); err == nil {
		t.Fatal("Append() beyond capacity = nil error, want TooManyTransactions")
	}
}

func TestValidateRejectsInvalidTransactionSignature(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	genesis := NewGenesis("foo", priv.PublicKey().IdentityHash())
	genesis.Mine(0, 0, 1, nil)
	b := NewCandidate(genesis, priv.PublicKey().IdentityHash())

	tx := signedTx(t, priv, 0, `INSERT INTO foo(x) VALUES (1u)`)
	tx.Statement = mustParse(t, `INSERT INTO foo(x) VALUES (2u)`)
	b.Payload.Transactions = append(b.Payload.Transactions, tx)
	b.Mine(1, 0, 1, nil)

	if err := b.Validate(); err == nil {
		t.Fatal("Validate() = nil with a tampered transaction, want error")
	}
}
