package chaintx

import (
	"testing"

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

func TestSignAndVerify(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	tx := &Transaction{
		Database:  "db",
		Counter:   0,
		Statement: mustParse(t, `INSERT INTO foo(x) VALUES (1u)`),
	}
	tx.Sign(priv)

	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify() = %v, want nil", err)
	}
	if !tx.SignatureValid() {
		t.Fatal("SignatureValid() = false, want true")
	}
}

func TestVerifyRejectsTamperedStatement(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	tx := &Transaction{
		Database:  "db",
		Counter:   0,
		Statement: mustParse(t, `INSERT INTO foo(x) VALUES (1u)`),
	}
	tx.Sign(priv)

	tx.Statement = mustParse(t, `INSERT INTO foo(x) VALUES (2u)`)
	if tx.SignatureValid() {
		t.Fatal("SignatureValid() = true after tampering, want false")
	}
	if err := tx.Verify(); err == nil {
		t.Fatal("Verify() = nil after tampering, want error")
	}
}

func TestVerifyRejectsWrongInvoker(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	other, _, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	tx := &Transaction{
		Database:  "db",
		Counter:   0,
		Statement: mustParse(t, `INSERT INTO foo(x) VALUES (1u)`),
	}
	tx.Sign(priv)
	tx.Invoker = other

	if tx.SignatureValid() {
		t.Fatal("SignatureValid() = true with substituted invoker, want false")
	}
}

func TestShouldAlwaysBeReplayed(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	grantTx := &Transaction{
		Database:  "db",
		Counter:   0,
		Statement: mustParse(t, `CREATE TABLE grants(kind TEXT, user BLOB, "table" BLOB)`),
	}
	grantTx.Sign(priv)
	if !grantTx.ShouldAlwaysBeReplayed() {
		t.Error("ShouldAlwaysBeReplayed() = false for a grants-table statement, want true")
	}

	ordinaryTx := &Transaction{
		Database:  "db",
		Counter:   1,
		Statement: mustParse(t, `CREATE TABLE foo(x INT)`),
	}
	ordinaryTx.Sign(priv)
	if ordinaryTx.ShouldAlwaysBeReplayed() {
		t.Error("ShouldAlwaysBeReplayed() = true for an ordinary statement, want false")
	}
}

func TestSigningBytesDeterministic(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tx := &Transaction{
		Invoker:   priv.PublicKey(),
		Database:  "db",
		Counter:   5,
		Statement: mustParse(t, `SELECT * FROM foo`),
	}
	a := tx.SigningBytes()
	b := tx.SigningBytes()
	if string(a) != string(b) {
		t.Fatal("SigningBytes() is not deterministic")
	}
}
