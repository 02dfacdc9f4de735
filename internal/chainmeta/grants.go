package chainmeta

import (
	"fmt"

	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

// Grants checks and mutates the grants access-control table.
type Grants struct {
	db Execer
}

// NewGrants wraps db for grants access.
func NewGrants(db Execer) *Grants { return &Grants{db: db} }

// Check reports whether every privilege in required is satisfied by
// some row in grants for (forUser, database): a row matches if its
// user column is NULL or equals forUser, its kind equals the
// privilege's kind, its database column equals database, and its
// subject matches — for create/delete/drop/insert/update/grant, the
// row's table column is NULL or equals the privilege's table name;
// for template, the row's table column must equal the privilege's
// template hash exactly (NULL never matches a template grant).
func (g *Grants) Check(required []sqlast.Privilege, forUser crypto.Hash, database string) (bool, error) {
	for _, p := range required {
		ok, err := g.satisfied(p, forUser, database)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (g *Grants) satisfied(p sqlast.Privilege, forUser crypto.Hash, database string) (bool, error) {
	var subject string
	if p.Kind == sqlast.PrivilegeTemplate {
		subject = p.TemplateHash.Hex()
	} else {
		subject = p.Table
	}

	query := `SELECT COUNT(*) FROM grants WHERE database = ? AND kind = ? AND (user IS NULL OR user = ?)`
	args := []interface{}{database, string(p.Kind), forUser.Bytes()}
	if p.Kind == sqlast.PrivilegeTemplate {
		query += ` AND "table" = ?`
		args = append(args, subject)
	} else {
		query += ` AND ("table" IS NULL OR "table" = ?)`
		args = append(args, subject)
	}

	var count int
	if err := g.db.QueryRow(query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("chainmeta: check grant: %w", err)
	}
	return count > 0, nil
}
