package chainstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sqlchain/sqlchaind/internal/chainmeta"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

func TestApplySwallowsTransactionExecutionError(t *testing.T) {
	c, tc := newTestChain(t)
	ctx := context.Background()

	// counter 1 fails at execution time (table doesn't exist yet);
	// counter 2 succeeds. Both must be treated as "surviving" (their
	// counters are contiguous), so the invoker's counter still
	// advances past the failed one instead of stalling the invoker.
	b := tc.nextBlock(c.Genesis(), 1,
		tc.signedTx(1, `INSERT INTO ghost(x) VALUES (1u)`),
		tc.signedTx(2, `CREATE TABLE ghost(x INTEGER)`),
	)
	if err := c.Append(ctx, b); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// The block is still in the in-memory queue, so read through the
	// hypothetical view that applies queued blocks.
	counter, ok, err := c.InvokerCounter(ctx, tc.minerID)
	if err != nil {
		t.Fatalf("InvokerCounter: %v", err)
	}
	if !ok || counter != 2 {
		t.Errorf("Counter() = (%d, %v), want (2, true)", counter, ok)
	}
}

func TestApplyFiltersOutOfOrderCounter(t *testing.T) {
	c, tc := newTestChain(t)
	ctx := context.Background()

	// counter 3 skips ahead of the invoker's expected counter (1) and
	// must be dropped rather than executed or advancing the counter.
	b := tc.nextBlock(c.Genesis(), 1, tc.signedTx(3, `CREATE TABLE t(x TEXT)`))
	if err := c.Append(ctx, b); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, ok, err := c.InvokerCounter(ctx, tc.minerID); err != nil || ok {
		t.Fatalf("Counter() = (_, %v, %v), want (_, false, nil) — filtered transaction must not advance it", ok, err)
	}
}

func TestApplyBootstrapArmsGrantEnforcement(t *testing.T) {
	c, tc := newTestChain(t)
	ctx := context.Background()

	_, otherPriv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	grantSQL := `INSERT INTO grants(database, kind, user, "table") VALUES ('ledger', 'insert', ` +
		blobLiteral(tc.minerID.Bytes()) + `, 'accounts')`

	b1 := tc.nextBlock(c.Genesis(), 1,
		tc.signedTx(1, `CREATE TABLE accounts(x TEXT)`),
		tc.signedTx(2, grantSQL),
	)
	if err := c.Append(ctx, b1); err != nil {
		t.Fatalf("Append(b1): %v", err)
	}

	// b1 is still in the in-memory queue, so read through the
	// hypothetical view that applies queued blocks.
	var enforcing bool
	err = c.WithUnverifiedTransactions(ctx, func(exec *sql.Tx) error {
		var err error
		enforcing, err = chainmeta.NewInfo(exec).EnforcingGrants()
		return err
	})
	if err != nil {
		t.Fatalf("EnforcingGrants: %v", err)
	}
	if !enforcing {
		t.Fatal("EnforcingGrants() = false after an insert into grants, want true")
	}

	// A different, ungranted invoker's INSERT into accounts must now be
	// refused (swallowed, counter still bumped) instead of executed.
	stmt, err := sqlast.Parse(`INSERT INTO accounts(x) VALUES ('nope')`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	otherTx := &chaintx.Transaction{Database: "ledger", Counter: 1, Statement: stmt}
	otherTx.Sign(otherPriv)
	b2 := tc.nextBlock(b1, 2, otherTx)
	if err := c.Append(ctx, b2); err != nil {
		t.Fatalf("Append(b2): %v", err)
	}

	var count int
	err = c.WithUnverifiedTransactions(ctx, func(exec *sql.Tx) error {
		return exec.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&count)
	})
	if err != nil {
		t.Fatalf("scan accounts count: %v", err)
	}
	if count != 0 {
		t.Errorf("accounts count = %d, want 0 (ungranted insert must have been refused)", count)
	}
}

func blobLiteral(raw []byte) string {
	s := "X'"
	for _, b := range raw {
		s += hexByte(b)
	}
	return s + "'"
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}
