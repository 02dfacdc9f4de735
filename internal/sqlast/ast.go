// Package sqlast implements a recursive-descent parser, typed AST, and
// canonical renderer for the restricted SQL dialect accepted by
// transactions. Two structurally equal statements always render to
// byte-identical canonical SQL; that property is the basis of both
// transaction signing bytes and template-hash computation.
package sqlast

import "github.com/sqlchain/sqlchaind/internal/crypto"

// Statement is any top-level parsed SQL statement.
type Statement interface {
	// Accept walks the statement's children first, then lets v rewrite
	// the statement itself via v.VisitStatement.
	Accept(v Visitor) Statement
	// Render produces the deterministic, dialect-standard SQL string.
	Render() string
	// IsPotentiallyMutating is true for every statement shape except
	// SELECT and SHOW TABLES.
	IsPotentiallyMutating() bool
	// RequiredPrivileges enumerates the privileges needed to execute
	// this statement.
	RequiredPrivileges() []Privilege
}

// Expr is any expression node.
type Expr interface {
	// walk recurses into children (if any) passing each through v,
	// rebuilds the node from the results, then returns v.VisitExpression
	// of the rebuilt node (or v.VisitColumn for *ColumnRef).
	walk(v Visitor) Expr
	// Render produces the canonical textual form of the expression.
	Render() string
}

// CanonicalSQL renders a statement's deterministic SQL string. Defined
// as a free function (rather than relying solely on Statement.Render)
// so call sites read like the spec's "statement.canonicalSQL".
func CanonicalSQL(s Statement) string {
	return s.Render()
}

// Unbound returns s with every bound parameter replaced by its unbound
// form (name kept, value stripped).
func Unbound(s Statement) Statement {
	return s.Accept(unboundVisitor{})
}

// TemplateHash is SHA256(Unbound(s).CanonicalSQL()).
func TemplateHash(s Statement) crypto.Hash {
	return crypto.SHA256([]byte(CanonicalSQL(Unbound(s))))
}

// Parameter describes one occurrence of a named parameter within a
// statement: either unbound (Value == nil) or bound to a literal.
type Parameter struct {
	Name  string
	Bound bool
	Value Expr
}

// Parameters enumerates every named parameter occurrence in s.
func Parameters(s Statement) map[string]Parameter {
	out := make(map[string]Parameter)
	collector := paramCollector{out: out}
	s.Accept(collector)
	return out
}

// PrivilegeKind names the kind of action a Privilege authorizes.
type PrivilegeKind string

const (
	PrivilegeCreate   PrivilegeKind = "create"
	PrivilegeDelete   PrivilegeKind = "delete"
	PrivilegeDrop     PrivilegeKind = "drop"
	PrivilegeInsert   PrivilegeKind = "insert"
	PrivilegeUpdate   PrivilegeKind = "update"
	PrivilegeGrant    PrivilegeKind = "grant"
	PrivilegeTemplate PrivilegeKind = "template"
	// PrivilegeNever can never be satisfied by any grant; it marks
	// statements (CREATE INDEX) that must never execute via a
	// transaction.
	PrivilegeNever PrivilegeKind = "never"
)

// Privilege is one requirement a statement places on its invoker.
// Table is the scoped table name for create/delete/drop/insert/update/
// grant. In a RequiredPrivileges result it is always set to the
// statement's target table. In a GrantStatement's Privilege an empty
// Table grants the kind on any table (stored as NULL in grants).
// For PrivilegeTemplate, TemplateHash carries the statement's unbound
// template hash and Table is unused.
type Privilege struct {
	Kind         PrivilegeKind
	Table        string
	TemplateHash crypto.Hash
}
