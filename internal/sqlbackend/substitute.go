package sqlbackend

import (
	"fmt"
	"math"
	"strings"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/crypto"
	"github.com/sqlchain/sqlchaind/internal/sqlast"
)

// Context carries the execution-time values substituted for the
// dialect's block/transaction variables, plus the logical database
// name the statement is scoped to (needed to address the grants
// table, which is keyed by database name).
type Context struct {
	Database               string
	Invoker                crypto.PublicKey
	BlockMiner             crypto.Hash // the mining block's header.Miner identity hash
	BlockTimestamp         int64
	BlockSignature         crypto.Signature
	PreviousBlockSignature crypto.Hash
	BlockHeight            uint64
}

// whitelistedFunctions names the only function calls the backend will
// forward to the engine; everything else is rejected before execution.
var whitelistedFunctions = map[string]bool{
	"LENGTH": true,
	"ABS":    true,
}

// bindingCollector walks a statement checking that every parameter is
// bound and that repeated occurrences of the same bound parameter name
// agree on their literal value.
type bindingCollector struct {
	sqlast.BaseVisitor
	seen map[string]string
	err  error
}

func newBindingCollector() *bindingCollector {
	return &bindingCollector{seen: make(map[string]string)}
}

func (c *bindingCollector) VisitExpression(e sqlast.Expr) sqlast.Expr {
	switch n := e.(type) {
	case *sqlast.UnboundParameter:
		if c.err == nil {
			c.err = chainerr.New(chainerr.UnboundParameter, fmt.Sprintf("parameter %q is unbound", n.Name))
		}
	case *sqlast.BoundParameter:
		rendered := n.Value.Render()
		if prev, ok := c.seen[n.Name]; ok {
			if prev != rendered && c.err == nil {
				c.err = chainerr.New(chainerr.InconsistentParameterValue, fmt.Sprintf("parameter %q bound to conflicting values", n.Name))
			}
		} else {
			c.seen[n.Name] = rendered
		}
	}
	return e
}

// checkBindings returns an error if stmt has any unbound parameter or
// any parameter bound inconsistently across occurrences.
func checkBindings(stmt sqlast.Statement) error {
	c := newBindingCollector()
	stmt.Accept(c)
	return c.err
}

// substituteVisitor rewrites variables to literals, inlines bound
// parameters, turns unsigned literals into plain integers, rewrites
// identifiers to their physical storage names (double-quoted), and
// rejects non-whitelisted function calls.
type substituteVisitor struct {
	sqlast.BaseVisitor
	execCtx Context
	err     error
}

func (v *substituteVisitor) VisitExpression(e sqlast.Expr) sqlast.Expr {
	switch n := e.(type) {
	case *sqlast.VariableExpr:
		lit, err := v.resolveVariable(n.Name)
		if err != nil {
			if v.err == nil {
				v.err = err
			}
			return e
		}
		return v.VisitExpression(lit)
	case *sqlast.BoundParameter:
		return n.Value
	case *sqlast.UnsignedLiteral:
		// The engine has no "123u" syntax; it gets a plain integer.
		// A value above the signed 64-bit range is left as is, and the
		// engine rejects it.
		if n.Value <= math.MaxInt64 {
			return &sqlast.IntegerLiteral{Value: int64(n.Value)}
		}
	case *sqlast.FunctionCall:
		if !whitelistedFunctions[n.Name] {
			if v.err == nil {
				v.err = chainerr.New(chainerr.UnknownFunction, fmt.Sprintf("function %q is not whitelisted", n.Name))
			}
		}
	}
	return e
}

// physicalIdent double-quotes a physical identifier for the engine, so
// that a rewritten name (sqlite#..., $rowid) or a keyword used as a
// name (such as "table") is read as an identifier.
func physicalIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (v *substituteVisitor) VisitTable(t *sqlast.TableRef) *sqlast.TableRef {
	return &sqlast.TableRef{Name: physicalIdent(rewriteTableName(t.Name))}
}

func (v *substituteVisitor) VisitColumn(c *sqlast.ColumnRef) sqlast.Expr {
	name := rewriteColumnName(c.Name)
	return &sqlast.ColumnRef{Table: c.Table, Name: name, Quoted: c.Quoted || name != c.Name}
}

func (v *substituteVisitor) VisitColumnDef(c *sqlast.ColumnDef) *sqlast.ColumnDef {
	return &sqlast.ColumnDef{Name: physicalIdent(rewriteColumnName(c.Name)), Type: c.Type, PrimaryKey: c.PrimaryKey}
}

// VisitStatement rewrites identifiers that Accept never routes through
// VisitColumn/VisitColumnDef: INSERT's column list and UPDATE's
// assignment targets are plain strings, not ColumnRef nodes.
func (v *substituteVisitor) VisitStatement(s sqlast.Statement) sqlast.Statement {
	switch st := s.(type) {
	case *sqlast.InsertStatement:
		cols := make([]string, len(st.Columns))
		for i, c := range st.Columns {
			cols[i] = physicalIdent(rewriteColumnName(c))
		}
		st.Columns = cols
		return st
	case *sqlast.UpdateStatement:
		assigns := make([]sqlast.Assignment, len(st.Assignments))
		for i, a := range st.Assignments {
			assigns[i] = sqlast.Assignment{Column: physicalIdent(rewriteColumnName(a.Column)), Value: a.Value}
		}
		st.Assignments = assigns
		return st
	default:
		return s
	}
}

func (v *substituteVisitor) resolveVariable(name string) (sqlast.Expr, error) {
	switch name {
	case "invoker":
		return &sqlast.BlobLiteral{Value: v.execCtx.Invoker.Raw()}, nil
	case "blockMiner":
		return &sqlast.BlobLiteral{Value: v.execCtx.BlockMiner.Bytes()}, nil
	case "blockTimestamp":
		return &sqlast.IntegerLiteral{Value: v.execCtx.BlockTimestamp}, nil
	case "blockSignature":
		return &sqlast.BlobLiteral{Value: []byte(v.execCtx.BlockSignature)}, nil
	case "previousBlockSignature":
		return &sqlast.BlobLiteral{Value: v.execCtx.PreviousBlockSignature.Bytes()}, nil
	case "blockHeight":
		return &sqlast.UnsignedLiteral{Value: v.execCtx.BlockHeight}, nil
	default:
		return nil, chainerr.New(chainerr.UnknownVariable, fmt.Sprintf("unknown variable %q", name))
	}
}

// prepare runs the binding check and the substitution/rewrite pass,
// returning the statement ready for canonical rendering and direct
// execution against the engine (no further parameter binding needed:
// every value is now an inline literal).
func prepare(stmt sqlast.Statement, execCtx Context) (sqlast.Statement, error) {
	if err := checkBindings(stmt); err != nil {
		return nil, err
	}
	v := &substituteVisitor{execCtx: execCtx}
	out := stmt.Accept(v)
	if v.err != nil {
		return nil, v.err
	}
	return out, nil
}
