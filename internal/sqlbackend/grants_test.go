package sqlbackend

import (
	"context"
	"fmt"
	"testing"

	"github.com/sqlchain/sqlchaind/internal/crypto"
)

func blobLiteralSQL(raw []byte) string {
	s := "X'"
	for _, b := range raw {
		s += fmt.Sprintf("%02x", b)
	}
	return s + "'"
}

func TestExecuteGrantAndRevoke(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	ec := Context{Database: "ledger"}

	mustExecute(t, b, `CREATE TABLE grants(database TEXT, kind TEXT, user BLOB, "table" TEXT)`, ec, AllowAll)
	mustExecute(t, b, `CREATE TABLE accounts(id TEXT)`, ec, AllowAll)

	alice, _, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	aliceBlob := blobLiteralSQL(alice.Raw())

	mustExecute(t, b, `GRANT INSERT ON accounts TO `+aliceBlob, ec, AllowAll)

	countGrants := func() int {
		t.Helper()
		var count int
		row := b.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM grants WHERE kind = 'insert' AND "table" = 'accounts'`)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		return count
	}

	if got := countGrants(); got != 1 {
		t.Fatalf("grants count = %d, want 1", got)
	}

	mustExecute(t, b, `REVOKE INSERT ON accounts TO `+aliceBlob, ec, AllowAll)

	if got := countGrants(); got != 0 {
		t.Fatalf("grants count after revoke = %d, want 0", got)
	}
}
