package sqlbackend

import (
	"context"
	"testing"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
)

func TestVerifyTableAlreadyExists(t *testing.T) {
	b := openTestBackend(t)
	ec := Context{Database: "ledger"}
	mustExecute(t, b, `CREATE TABLE t(v INT)`, ec, AllowAll)

	err := Execute(context.Background(), b.DB(), mustParse(t, `CREATE TABLE t(v INT)`), ec, AllowAll)
	if !chainerr.Is(err, chainerr.TableAlreadyExists) {
		t.Fatalf("err = %v, want TableAlreadyExists", err)
	}
}

func TestVerifyColumnDoesNotExist(t *testing.T) {
	b := openTestBackend(t)
	ec := Context{Database: "ledger"}
	mustExecute(t, b, `CREATE TABLE t(v INT)`, ec, AllowAll)

	err := Execute(context.Background(), b.DB(), mustParse(t, `SELECT nope FROM t`), ec, AllowAll)
	if !chainerr.Is(err, chainerr.ColumnDoesNotExist) {
		t.Fatalf("err = %v, want ColumnDoesNotExist", err)
	}
}

func TestVerifyNotInTableContext(t *testing.T) {
	b := openTestBackend(t)
	ec := Context{Database: "ledger"}

	err := Execute(context.Background(), b.DB(), mustParse(t, `SELECT v`), ec, AllowAll)
	if !chainerr.Is(err, chainerr.NotInTableContext) {
		t.Fatalf("err = %v, want NotInTableContext", err)
	}
}

func TestVerifyJoinedTableColumns(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	ec := Context{Database: "ledger"}
	mustExecute(t, b, `CREATE TABLE accounts(id TEXT, balance INT)`, ec, AllowAll)
	mustExecute(t, b, `CREATE TABLE ledger(account_id TEXT, amount INT)`, ec, AllowAll)
	mustExecute(t, b, `INSERT INTO accounts(id, balance) VALUES ('a', 10u)`, ec, AllowAll)
	mustExecute(t, b, `INSERT INTO ledger(account_id, amount) VALUES ('a', 5u)`, ec, AllowAll)

	rows, err := Query(ctx, b.DB(), mustParse(t,
		`SELECT accounts.id FROM accounts LEFT JOIN ledger ON accounts.id = ledger.account_id WHERE ledger.amount = 5u`), ec)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatal("expected one row")
	}
}
