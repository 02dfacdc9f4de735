package sqlast

import (
	"strings"
	"testing"
)

func TestParseRenderRoundTrip(t *testing.T) {
	cases := []string{
		`SELECT * FROM accounts`,
		`SELECT id, balance FROM accounts WHERE balance > 0 ORDER BY id DESC LIMIT 10`,
		`SELECT a.id FROM accounts LEFT JOIN ledger ON a.id = ledger.account_id WHERE ledger.amount IS NOT NULL`,
		`CREATE TABLE accounts(id TEXT PRIMARY KEY, balance INTEGER)`,
		`DROP TABLE accounts`,
		`INSERT INTO accounts(id, balance) VALUES ('a', 1), ('b', 2)`,
		`INSERT OR REPLACE INTO accounts(id, balance) VALUES ('a', 1)`,
		`UPDATE accounts SET balance = balance + 1 WHERE id = 'a'`,
		`DELETE FROM accounts WHERE id = 'a'`,
		`FAIL`,
		`SHOW TABLES`,
		`IF $invoker IS NULL THEN FAIL ELSE UPDATE accounts SET balance = 0 WHERE id = 'a' END`,
		`GRANT INSERT ON accounts TO ?user`,
		`REVOKE INSERT ON accounts TO ?user`,
		`GRANT TEMPLATE '0000000000000000000000000000000000000000000000000000000000000000' TO ?user`,
		`CREATE INDEX idx_balance ON accounts(balance)`,
		`SELECT CASE WHEN balance > 0 THEN 'pos' ELSE 'nonpos' END FROM accounts`,
		`SELECT LENGTH(id), ABS(balance) FROM accounts`,
		`SELECT ?amount:5 FROM accounts`,
	}

	for _, sql := range cases {
		t.Run(sql, func(t *testing.T) {
			stmt, err := Parse(sql)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			rendered := CanonicalSQL(stmt)
			stmt2, err := Parse(rendered)
			if err != nil {
				t.Fatalf("re-parse of rendered SQL failed: %v\nrendered: %s", err, rendered)
			}
			rendered2 := CanonicalSQL(stmt2)
			if rendered != rendered2 {
				t.Fatalf("render not stable:\nfirst:  %s\nsecond: %s", rendered, rendered2)
			}
		})
	}
}

func TestTemplateHashInvariantUnderBinding(t *testing.T) {
	unbound, err := Parse(`UPDATE accounts SET balance = ?amount WHERE id = ?id`)
	if err != nil {
		t.Fatalf("parse unbound: %v", err)
	}
	bound, err := Parse(`UPDATE accounts SET balance = ?amount:5 WHERE id = ?id:'a'`)
	if err != nil {
		t.Fatalf("parse bound: %v", err)
	}
	if TemplateHash(unbound) != TemplateHash(bound) {
		t.Fatalf("template hash differs between bound and unbound forms")
	}
}

func TestTemplateHashDiffersAcrossStatements(t *testing.T) {
	a, _ := Parse(`UPDATE accounts SET balance = ?amount WHERE id = ?id`)
	b, _ := Parse(`UPDATE accounts SET balance = ?amount WHERE id = ?other`)
	if TemplateHash(a) == TemplateHash(b) {
		t.Fatalf("expected different template hashes for structurally different statements")
	}
}

func TestParametersCollected(t *testing.T) {
	stmt, err := Parse(`UPDATE accounts SET balance = ?amount:5 WHERE id = ?id`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	params := Parameters(stmt)
	if len(params) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(params))
	}
	amt, ok := params["amount"]
	if !ok || !amt.Bound {
		t.Fatalf("expected amount to be a bound parameter")
	}
	id, ok := params["id"]
	if !ok || id.Bound {
		t.Fatalf("expected id to be an unbound parameter")
	}
}

func TestParseRejectsDeepNesting(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	depth := 20
	for i := 0; i < depth; i++ {
		sb.WriteString("(")
	}
	sb.WriteString("1")
	for i := 0; i < depth; i++ {
		sb.WriteString(")")
	}
	sb.WriteString(" FROM accounts")

	_, err := Parse(sb.String())
	if err == nil {
		t.Fatalf("expected deeply nested expression to be rejected")
	}
}

func TestParseAllowsShallowNesting(t *testing.T) {
	_, err := Parse(`SELECT ((1 + 2) * (3 - 4)) FROM accounts`)
	if err != nil {
		t.Fatalf("unexpected error on shallow nesting: %v", err)
	}
}

func TestParseDuplicateSetColumn(t *testing.T) {
	_, err := Parse(`UPDATE accounts SET balance = 1, balance = 2 WHERE id = 'a'`)
	if err == nil {
		t.Fatalf("expected error for duplicate SET column")
	}
	if !strings.Contains(err.Error(), "DuplicateColumns") {
		t.Fatalf("expected DuplicateColumns error kind, got: %v", err)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse(`SELECT FROM`)
	if err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestParseUnknownStatement(t *testing.T) {
	_, err := Parse(`FROBNICATE accounts`)
	if err == nil {
		t.Fatalf("expected error for unrecognized statement")
	}
}

func TestUnboundStripsBoundValue(t *testing.T) {
	stmt, err := Parse(`UPDATE accounts SET balance = ?amount:5 WHERE id = 'a'`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	unbound := Unbound(stmt)
	rendered := CanonicalSQL(unbound)
	if strings.Contains(rendered, ":5") {
		t.Fatalf("expected bound value stripped, got: %s", rendered)
	}
	if !strings.Contains(rendered, "?amount") {
		t.Fatalf("expected unbound parameter name retained, got: %s", rendered)
	}
}

func TestBlobLiteralRoundTrip(t *testing.T) {
	stmt, err := Parse(`INSERT INTO accounts(id, sig) VALUES ('a', X'deadbeef')`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rendered := CanonicalSQL(stmt)
	if !strings.Contains(strings.ToLower(rendered), "x'deadbeef'") {
		t.Fatalf("expected blob literal preserved, got: %s", rendered)
	}
}

func TestIsPotentiallyMutating(t *testing.T) {
	mutating := []string{
		`INSERT INTO accounts(id) VALUES ('a')`,
		`UPDATE accounts SET id = 'a'`,
		`DELETE FROM accounts`,
		`CREATE TABLE t(id TEXT)`,
		`DROP TABLE t`,
		`GRANT INSERT ON accounts TO ?user`,
	}
	for _, sql := range mutating {
		stmt, err := Parse(sql)
		if err != nil {
			t.Fatalf("parse %q: %v", sql, err)
		}
		if !stmt.IsPotentiallyMutating() {
			t.Errorf("expected %q to be mutating", sql)
		}
	}

	nonMutating := []string{
		`SELECT * FROM accounts`,
		`SHOW TABLES`,
	}
	for _, sql := range nonMutating {
		stmt, err := Parse(sql)
		if err != nil {
			t.Fatalf("parse %q: %v", sql, err)
		}
		if stmt.IsPotentiallyMutating() {
			t.Errorf("expected %q to be non-mutating", sql)
		}
	}
}

func TestCreateIndexRequiresNeverPrivilege(t *testing.T) {
	stmt, err := Parse(`CREATE INDEX idx ON accounts(id)`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	privs := stmt.RequiredPrivileges()
	if len(privs) != 1 || privs[0].Kind != PrivilegeNever {
		t.Fatalf("expected a single PrivilegeNever requirement, got %+v", privs)
	}
}
