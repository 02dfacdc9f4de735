package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

// Regime decides whether the invoker holds a set of required
// privileges. Block application and read-only previews pass different
// regimes to the same Execute call.
type Regime func(required []sqlast.Privilege) bool

// AllowAll is the regime used for bootstrap execution before grants
// are being enforced: every statement is accepted.
func AllowAll([]sqlast.Privilege) bool { return true }

// metadataTables are invisible to ordinary statements; no
// user-submitted transaction may touch them directly.
var metadataTables = map[string]bool{
	"_info":  true,
	"_blocks": true,
	"_users": true,
}

// Execute verifies stmt against exec's live schema, then runs it. It
// recurses through IF branches, raises ExecutionFailed for FAIL, and
// consults regime once per executed (sub)statement.
func Execute(ctx context.Context, exec Execer, stmt sqlast.Statement, execCtx Context, regime Regime) error {
	if err := Verify(ctx, exec, stmt); err != nil {
		return err
	}
	return executeStatement(ctx, exec, stmt, execCtx, regime)
}

func executeStatement(ctx context.Context, exec Execer, stmt sqlast.Statement, execCtx Context, regime Regime) error {
	switch st := stmt.(type) {
	case *sqlast.IfStatement:
		for _, b := range st.Branches {
			cond, err := evalCondition(ctx, exec, b.Cond, execCtx)
			if err != nil {
				return err
			}
			if cond {
				return executeStatement(ctx, exec, b.Then, execCtx, regime)
			}
		}
		if st.Else != nil {
			return executeStatement(ctx, exec, st.Else, execCtx, regime)
		}
		return nil

	case *sqlast.FailStatement:
		return chainerr.New(chainerr.ExecutionFailed, "FAIL")

	case *sqlast.ShowTablesStatement:
		_, err := ShowTables(ctx, exec)
		return err

	case *sqlast.GrantStatement:
		if !regime(st.RequiredPrivileges()) {
			return chainerr.New(chainerr.PrivilegeRequired, "invoker lacks a required privilege")
		}
		return executeGrant(ctx, exec, st, execCtx)

	default:
		for _, table := range touchedMetadataTables(stmt) {
			return chainerr.New(chainerr.PrivilegeRequired, fmt.Sprintf("statement touches metadata table %q", table))
		}
		required := stmt.RequiredPrivileges()
		for _, p := range required {
			if p.Kind == sqlast.PrivilegeNever {
				return chainerr.New(chainerr.PrivilegeRequired, "this statement kind may never be executed via a transaction")
			}
		}
		if !regime(required) {
			return chainerr.New(chainerr.PrivilegeRequired, "invoker lacks a required privilege")
		}

		prepared, err := prepare(stmt, execCtx)
		if err != nil {
			return err
		}
		sqlText := sqlast.CanonicalSQL(prepared)
		if _, err := exec.ExecContext(ctx, sqlText); err != nil {
			return asBackendError(err)
		}
		return nil
	}
}

func touchedMetadataTables(stmt sqlast.Statement) []string {
	var out []string
	for _, p := range stmt.RequiredPrivileges() {
		if metadataTables[p.Table] {
			out = append(out, p.Table)
		}
	}
	return out
}

// evalCondition evaluates a boolean expression by rendering it into a
// "SELECT CASE WHEN <cond> THEN 1 ELSE 0 END" probe and reading the
// result back from the engine, after the same substitution/rewrite
// pass used for any other statement fragment.
func evalCondition(ctx context.Context, exec Execer, cond sqlast.Expr, execCtx Context) (bool, error) {
	probe := &sqlast.SelectStatement{
		Columns: []sqlast.Expr{
			&sqlast.CaseExpr{
				Whens: []sqlast.WhenClause{{Cond: cond, Result: &sqlast.IntegerLiteral{Value: 1}}},
				Else:  &sqlast.IntegerLiteral{Value: 0},
			},
		},
	}
	if err := checkBindings(probe); err != nil {
		return false, err
	}
	v := &substituteVisitor{execCtx: execCtx}
	prepared := probe.Accept(v)
	if v.err != nil {
		return false, v.err
	}

	rows, err := exec.QueryContext(ctx, sqlast.CanonicalSQL(prepared))
	if err != nil {
		return false, asBackendError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		return false, chainerr.New(chainerr.ExecutionFailed, "condition probe returned no rows")
	}
	var result int64
	if err := rows.Scan(&result); err != nil {
		return false, asBackendError(err)
	}
	return result != 0, nil
}

// ShowTables enumerates non-metadata, user-visible tables, stripping
// the physical sqlite_ -> sqlite# rewrite back to logical names.
func ShowTables(ctx context.Context, exec Execer) ([]string, error) {
	rows, err := exec.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, asBackendError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var physical string
		if err := rows.Scan(&physical); err != nil {
			return nil, asBackendError(err)
		}
		if strings.HasPrefix(physical, "sqlite_") {
			// true sqlite catalog table, not a rewritten user table
			continue
		}
		logical := unrewriteTableName(physical)
		if metadataTables[logical] || logical == "grants" || logical == "_peers" {
			continue
		}
		out = append(out, logical)
	}
	return out, rows.Err()
}

// Verify runs the schema verification pass against exec's live schema.
func Verify(ctx context.Context, exec Execer, stmt sqlast.Statement) error {
	s, err := loadSchema(ctx, exec)
	if err != nil {
		return err
	}
	return verifyStatement(s, stmt)
}

// verifyStatement recurses through control flow the same way Execute
// does, verifying every reachable leaf statement.
func verifyStatement(s schema, stmt sqlast.Statement) error {
	if ifs, ok := stmt.(*sqlast.IfStatement); ok {
		for _, b := range ifs.Branches {
			if err := verifyStatement(s, b.Then); err != nil {
				return err
			}
		}
		if ifs.Else != nil {
			return verifyStatement(s, ifs.Else)
		}
		return nil
	}
	return verify(s, stmt)
}

// Query executes a read-only SELECT statement and returns its rows.
// Callers are responsible for closing the returned *sql.Rows.
func Query(ctx context.Context, exec Execer, stmt sqlast.Statement, execCtx Context) (*sql.Rows, error) {
	sel, ok := stmt.(*sqlast.SelectStatement)
	if !ok {
		return nil, chainerr.New(chainerr.ExecutionFailed, "Query only accepts SELECT statements")
	}
	prepared, err := prepare(sel, execCtx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.QueryContext(ctx, sqlast.CanonicalSQL(prepared))
	if err != nil {
		return nil, asBackendError(err)
	}
	return rows, nil
}
