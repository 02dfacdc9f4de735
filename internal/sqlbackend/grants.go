package sqlbackend

import (
	"context"
	"fmt"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

// executeGrant applies a GRANT or REVOKE directly against the grants
// metadata table. GRANT/REVOKE statements never reach the dialect's
// generic canonical-render path: "GRANT ... TO ..." is not executable
// SQL, it is a mutation of the privilege table the backend itself
// consults (see Regime and chainmeta.Grants.Check).
func executeGrant(ctx context.Context, exec Execer, st *sqlast.GrantStatement, execCtx Context) error {
	if err := checkBindings(st); err != nil {
		return err
	}
	user, err := resolveUser(st.User, execCtx)
	if err != nil {
		return err
	}

	var kind, table string
	var tableIsNull bool
	if st.Privilege.Kind == sqlast.PrivilegeTemplate {
		kind = string(sqlast.PrivilegeTemplate)
		table = st.Privilege.TemplateHash.Hex()
	} else {
		kind = string(st.Privilege.Kind)
		table = st.Privilege.Table
		tableIsNull = table == ""
	}

	if st.Revoke {
		return revokeGrant(ctx, exec, execCtx.Database, kind, table, tableIsNull, user)
	}
	return insertGrant(ctx, exec, execCtx.Database, kind, table, tableIsNull, user)
}

func insertGrant(ctx context.Context, exec Execer, database, kind, table string, tableIsNull bool, user []byte) error {
	var tableArg interface{}
	if !tableIsNull {
		tableArg = table
	}
	var userArg interface{}
	if user != nil {
		userArg = user
	}
	_, err := exec.ExecContext(ctx,
		`INSERT INTO grants(database, kind, user, "table") VALUES (?, ?, ?, ?)`,
		database, kind, userArg, tableArg)
	if err != nil {
		return chainerr.Wrap(chainerr.MetadataError, "failed to insert grant", err)
	}
	return nil
}

func revokeGrant(ctx context.Context, exec Execer, database, kind, table string, tableIsNull bool, user []byte) error {
	query := `DELETE FROM grants WHERE database = ? AND kind = ?`
	args := []interface{}{database, kind}
	if tableIsNull {
		query += ` AND "table" IS NULL`
	} else {
		query += ` AND "table" = ?`
		args = append(args, table)
	}
	if user == nil {
		query += ` AND user IS NULL`
	} else {
		query += ` AND user = ?`
		args = append(args, user)
	}
	_, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return chainerr.Wrap(chainerr.MetadataError, "failed to revoke grant", err)
	}
	return nil
}

// resolveUser substitutes variables in the GRANT's user expression and
// reduces it to the raw bytes stored in the grants.user column, or nil
// to mean "any user".
func resolveUser(user sqlast.Expr, execCtx Context) ([]byte, error) {
	if user == nil {
		return nil, nil
	}
	v := &substituteVisitor{execCtx: execCtx}
	resolved := sqlast.WalkExpr(user, v)
	if v.err != nil {
		return nil, v.err
	}
	switch n := resolved.(type) {
	case *sqlast.NullLiteral:
		return nil, nil
	case *sqlast.BlobLiteral:
		return n.Value, nil
	case *sqlast.StringLiteral:
		return []byte(n.Value), nil
	default:
		return nil, chainerr.New(chainerr.FormatError, fmt.Sprintf("GRANT user must be a literal, got %T", resolved))
	}
}
