package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sqlchain/sqlchaind/internal/chainblock"
	"github.com/sqlchain/sqlchaind/internal/chainstore"
	"github.com/sqlchain/sqlchaind/internal/chaintx"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

const testDesiredTimeBetweenBlocks = 10

type testSetup struct {
	t       *testing.T
	priv    crypto.PrivateKey
	minerID crypto.Hash
	work    int
}

func newTestLedger(t *testing.T) (*Ledger, *chainstore.Blockchain, *testSetup) {
	t.Helper()
	_, priv, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	ts := &testSetup{t: t, priv: priv, minerID: priv.PublicKey().IdentityHash()}

	genesis := chainblock.NewGenesis("test genesis", ts.minerID)
	genesis.Mine(0, 0, 1, nil)
	ts.work = genesis.Work()

	chain, err := chainstore.Open(filepath.Join(t.TempDir(), "chain.db"), genesis, testDesiredTimeBetweenBlocks)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { chain.Close() })

	return New(chain), chain, ts
}

func (ts *testSetup) signedTx(counter uint64, sql string) *chaintx.Transaction {
	ts.t.Helper()
	stmt, err := sqlast.Parse(sql)
	if err != nil {
		ts.t.Fatalf("Parse(%q): %v", sql, err)
	}
	tx := &chaintx.Transaction{Database: "ledger", Counter: counter, Statement: stmt}
	tx.Sign(ts.priv)
	return tx
}

func (ts *testSetup) block(prev *chainblock.Block, timestamp uint64, txs ...*chaintx.Transaction) *chainblock.Block {
	ts.t.Helper()
	b := chainblock.NewCandidate(prev, ts.minerID)
	for _, tx := range txs {
		if ok, err := b.Append(tx); err != nil || !ok {
			ts.t.Fatalf("Append(tx): (%v, %v)", ok, err)
		}
	}
	b.Mine(timestamp, 0, ts.work, nil)
	return b
}

func TestReceiveDirectSuccessor(t *testing.T) {
	l, chain, ts := newTestLedger(t)
	ctx := context.Background()

	b1 := ts.block(chain.Genesis(), 1, ts.signedTx(1, `CREATE TABLE t(x TEXT)`))
	ok, err := l.Receive(ctx, b1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !ok {
		t.Fatal("Receive(direct successor) = false, want true")
	}
	if chain.Highest().Signature != b1.Signature {
		t.Fatal("chain head did not advance to b1")
	}
}

func TestReceiveInvalidSignatureRejected(t *testing.T) {
	l, chain, ts := newTestLedger(t)
	ctx := context.Background()

	b1 := ts.block(chain.Genesis(), 1, ts.signedTx(1, `CREATE TABLE t(x TEXT)`))
	b1.Signature[0] ^= 0xFF // corrupt the signature post-mining

	ok, err := l.Receive(ctx, b1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if ok {
		t.Fatal("Receive(corrupted signature) = true, want false")
	}
}

func TestReceiveOrphanThenParentSplices(t *testing.T) {
	l, chain, ts := newTestLedger(t)
	ctx := context.Background()

	b1 := ts.block(chain.Genesis(), 1, ts.signedTx(1, `CREATE TABLE t1(x TEXT)`))
	b2 := ts.block(b1, 2, ts.signedTx(2, `CREATE TABLE t2(x TEXT)`))

	// b2 arrives first, with its parent b1 unknown: it must be held as
	// an orphan, not accepted as a new head.
	ok, err := l.Receive(ctx, b2)
	if err != nil {
		t.Fatalf("Receive(b2): %v", err)
	}
	if ok {
		t.Fatal("Receive(orphan) = true, want false")
	}
	if chain.Highest().Index != 0 {
		t.Fatalf("chain advanced on an orphan: Highest().Index = %d", chain.Highest().Index)
	}

	// b1 arrives and directly extends genesis; b2 should splice in
	// immediately afterward since it was already cached as an orphan
	// chained off of b1.
	ok, err = l.Receive(ctx, b1)
	if err != nil {
		t.Fatalf("Receive(b1): %v", err)
	}
	if !ok {
		t.Fatal("Receive(b1) = false, want true")
	}
	if chain.Highest().Signature != b2.Signature {
		t.Fatalf("chain head = %s, want b2 %s (splice failed)", chain.Highest().Signature.Hex(), b2.Signature.Hex())
	}
}

func TestReceiveForkSplicesAroundShorterChain(t *testing.T) {
	l, chain, ts := newTestLedger(t)
	ctx := context.Background()

	a1 := ts.block(chain.Genesis(), 1, ts.signedTx(1, `CREATE TABLE a1(x TEXT)`))
	if ok, err := l.Receive(ctx, a1); err != nil || !ok {
		t.Fatalf("Receive(a1): (%v, %v)", ok, err)
	}

	// A competing fork from genesis arrives root-first: b1 has the same
	// index as the current tip a1, so on its own it is just cached as
	// an orphan. Its child b2's index exceeds the current tip, which
	// triggers a walk-back that discovers the cached b1 as the bridge
	// to genesis and splices both in, unwinding past a1.
	b1 := ts.block(chain.Genesis(), 1, ts.signedTx(1, `CREATE TABLE b1(x TEXT)`))
	b2 := ts.block(b1, 2, ts.signedTx(2, `CREATE TABLE b2(x TEXT)`))

	if ok, err := l.Receive(ctx, b1); err != nil || ok {
		t.Fatalf("Receive(b1, same height as tip): (%v, %v), want (false, nil)", ok, err)
	}
	ok, err := l.Receive(ctx, b2)
	if err != nil {
		t.Fatalf("Receive(b2, fork tip): %v", err)
	}
	if !ok {
		t.Fatal("Receive(b2) = false, want true (should splice fork past a1)")
	}
	if chain.Highest().Signature != b2.Signature {
		t.Fatalf("chain head = %s, want fork tip b2 %s", chain.Highest().Signature.Hex(), b2.Signature.Hex())
	}
}

func TestCanAcceptEligibility(t *testing.T) {
	l, chain, ts := newTestLedger(t)
	ctx := context.Background()

	b1 := ts.block(chain.Genesis(), 1, ts.signedTx(1, `CREATE TABLE t(x TEXT)`))
	if ok, err := l.Receive(ctx, b1); err != nil || !ok {
		t.Fatalf("Receive(b1): (%v, %v)", ok, err)
	}

	stmt, err := sqlast.Parse(`CREATE TABLE u(x TEXT)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	never := &chaintx.Transaction{Database: "ledger", Counter: 1, Statement: stmt}
	never.Sign(ts.priv)
	if got, err := l.CanAccept(ctx, never, nil); err != nil || got != Never {
		t.Errorf("CanAccept(counter=1, already applied) = (%v, %v), want Never", got, err)
	}

	now := &chaintx.Transaction{Database: "ledger", Counter: 2, Statement: stmt}
	now.Sign(ts.priv)
	if got, err := l.CanAccept(ctx, now, nil); err != nil || got != Now {
		t.Errorf("CanAccept(counter=2) = (%v, %v), want Now", got, err)
	}

	future := &chaintx.Transaction{Database: "ledger", Counter: 4, Statement: stmt}
	future.Sign(ts.priv)
	if got, err := l.CanAccept(ctx, future, nil); err != nil || got != Future {
		t.Errorf("CanAccept(counter=4) = (%v, %v), want Future", got, err)
	}

	pooled := &chaintx.Transaction{Database: "ledger", Counter: 3, Statement: stmt}
	pooled.Sign(ts.priv)
	if got, err := l.CanAccept(ctx, future, []*chaintx.Transaction{pooled}); err != nil || got != Now {
		t.Errorf("CanAccept(counter=4, directly follows pooled counter=3) = (%v, %v), want Now", got, err)
	}
}
