package sqlast

import (
	"strconv"
	"strings"
)

// TableRef names a table.
type TableRef struct{ Name string }

func (t *TableRef) Render() string { return t.Name }

func (t *TableRef) walk(v Visitor) *TableRef {
	if t == nil {
		return nil
	}
	return v.VisitTable(&TableRef{Name: t.Name})
}

// ColumnDef is one column definition within CREATE TABLE.
type ColumnDef struct {
	Name       string
	Type       string
	PrimaryKey bool
}

func (c ColumnDef) Render() string {
	s := c.Name + " " + c.Type
	if c.PrimaryKey {
		s += " PRIMARY KEY"
	}
	return s
}

// Join is a LEFT JOIN clause.
type Join struct {
	Table *TableRef
	On    Expr
}

func (j *Join) Render() string {
	return "LEFT JOIN " + j.Table.Render() + " ON " + j.On.Render()
}

func (j *Join) walk(v Visitor) *Join {
	if j == nil {
		return nil
	}
	nj := &Join{Table: j.Table.walk(v), On: j.On.walk(v)}
	return v.VisitJoin(nj)
}

// OrderByItem is one ORDER BY term.
type OrderByItem struct {
	Expr Expr
	Desc bool
}

func (o OrderByItem) Render() string {
	if o.Desc {
		return o.Expr.Render() + " DESC"
	}
	return o.Expr.Render() + " ASC"
}

// Assignment is one "col = expr" term of an UPDATE SET clause.
type Assignment struct {
	Column string
	Value  Expr
}

// ---------------------------------------------------------------------
// SELECT
// ---------------------------------------------------------------------

// SelectStatement is a SELECT query, optionally with FROM/JOIN/WHERE/
// ORDER BY/LIMIT clauses.
type SelectStatement struct {
	Distinct bool
	Columns  []Expr
	From     *TableRef // nil for a FROM-less SELECT
	Joins    []*Join
	Where    Expr // nil if absent
	OrderBy  []OrderByItem
	Limit    *int64 // nil if absent
}

func (s *SelectStatement) IsPotentiallyMutating() bool  { return false }
func (s *SelectStatement) RequiredPrivileges() []Privilege { return nil }

func (s *SelectStatement) Render() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c.Render()
	}
	sb.WriteString(strings.Join(cols, ", "))
	if s.From != nil {
		sb.WriteString(" FROM ")
		sb.WriteString(s.From.Render())
		for _, j := range s.Joins {
			sb.WriteByte(' ')
			sb.WriteString(j.Render())
		}
	}
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.Render())
	}
	if len(s.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		parts := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			parts[i] = o.Render()
		}
		sb.WriteString(strings.Join(parts, ", "))
	}
	if s.Limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.FormatInt(*s.Limit, 10))
	}
	return sb.String()
}

func (s *SelectStatement) Accept(v Visitor) Statement {
	cols := make([]Expr, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c.walk(v)
	}
	joins := make([]*Join, len(s.Joins))
	for i, j := range s.Joins {
		joins[i] = j.walk(v)
	}
	var where Expr
	if s.Where != nil {
		where = s.Where.walk(v)
	}
	orderBy := make([]OrderByItem, len(s.OrderBy))
	for i, o := range s.OrderBy {
		orderBy[i] = OrderByItem{Expr: o.Expr.walk(v), Desc: o.Desc}
	}
	ns := &SelectStatement{
		Distinct: s.Distinct,
		Columns:  cols,
		From:     s.From.walk(v),
		Joins:    joins,
		Where:    where,
		OrderBy:  orderBy,
		Limit:    s.Limit,
	}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// CREATE TABLE
// ---------------------------------------------------------------------

type CreateTableStatement struct {
	Table   *TableRef
	Columns []ColumnDef
}

func (s *CreateTableStatement) IsPotentiallyMutating() bool { return true }
func (s *CreateTableStatement) RequiredPrivileges() []Privilege {
	return []Privilege{{Kind: PrivilegeCreate, Table: s.Table.Name}}
}

func (s *CreateTableStatement) Render() string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c.Render()
	}
	return "CREATE TABLE " + s.Table.Render() + "(" + strings.Join(cols, ", ") + ")"
}

func (s *CreateTableStatement) Accept(v Visitor) Statement {
	cols := make([]ColumnDef, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = *v.VisitColumnDef(&c)
	}
	ns := &CreateTableStatement{Table: s.Table.walk(v), Columns: cols}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// DROP TABLE
// ---------------------------------------------------------------------

type DropTableStatement struct {
	Table *TableRef
}

func (s *DropTableStatement) IsPotentiallyMutating() bool { return true }
func (s *DropTableStatement) RequiredPrivileges() []Privilege {
	return []Privilege{{Kind: PrivilegeDrop, Table: s.Table.Name}}
}
func (s *DropTableStatement) Render() string { return "DROP TABLE " + s.Table.Render() }
func (s *DropTableStatement) Accept(v Visitor) Statement {
	ns := &DropTableStatement{Table: s.Table.walk(v)}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// INSERT
// ---------------------------------------------------------------------

type InsertStatement struct {
	OrReplace bool
	Table     *TableRef
	Columns   []string
	Rows      [][]Expr
}

func (s *InsertStatement) IsPotentiallyMutating() bool { return true }
func (s *InsertStatement) RequiredPrivileges() []Privilege {
	return []Privilege{{Kind: PrivilegeInsert, Table: s.Table.Name}}
}

func (s *InsertStatement) Render() string {
	var sb strings.Builder
	sb.WriteString("INSERT ")
	if s.OrReplace {
		sb.WriteString("OR REPLACE ")
	}
	sb.WriteString("INTO ")
	sb.WriteString(s.Table.Render())
	sb.WriteString("(")
	sb.WriteString(strings.Join(s.Columns, ", "))
	sb.WriteString(") VALUES ")
	rows := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		vals := make([]string, len(row))
		for j, e := range row {
			vals[j] = e.Render()
		}
		rows[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	sb.WriteString(strings.Join(rows, ", "))
	return sb.String()
}

func (s *InsertStatement) Accept(v Visitor) Statement {
	rows := make([][]Expr, len(s.Rows))
	for i, row := range s.Rows {
		nr := make([]Expr, len(row))
		for j, e := range row {
			nr[j] = e.walk(v)
		}
		rows[i] = nr
	}
	ns := &InsertStatement{
		OrReplace: s.OrReplace,
		Table:     s.Table.walk(v),
		Columns:   append([]string(nil), s.Columns...),
		Rows:      rows,
	}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// UPDATE
// ---------------------------------------------------------------------

type UpdateStatement struct {
	Table       *TableRef
	Assignments []Assignment
	Where       Expr // nil if absent
}

func (s *UpdateStatement) IsPotentiallyMutating() bool { return true }
func (s *UpdateStatement) RequiredPrivileges() []Privilege {
	return []Privilege{{Kind: PrivilegeUpdate, Table: s.Table.Name}}
}

func (s *UpdateStatement) Render() string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(s.Table.Render())
	sb.WriteString(" SET ")
	parts := make([]string, len(s.Assignments))
	for i, a := range s.Assignments {
		parts[i] = a.Column + " = " + a.Value.Render()
	}
	sb.WriteString(strings.Join(parts, ", "))
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.Render())
	}
	return sb.String()
}

func (s *UpdateStatement) Accept(v Visitor) Statement {
	assigns := make([]Assignment, len(s.Assignments))
	for i, a := range s.Assignments {
		assigns[i] = Assignment{Column: a.Column, Value: a.Value.walk(v)}
	}
	var where Expr
	if s.Where != nil {
		where = s.Where.walk(v)
	}
	ns := &UpdateStatement{Table: s.Table.walk(v), Assignments: assigns, Where: where}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// DELETE
// ---------------------------------------------------------------------

type DeleteStatement struct {
	Table *TableRef
	Where Expr // nil if absent
}

func (s *DeleteStatement) IsPotentiallyMutating() bool { return true }
func (s *DeleteStatement) RequiredPrivileges() []Privilege {
	return []Privilege{{Kind: PrivilegeDelete, Table: s.Table.Name}}
}

func (s *DeleteStatement) Render() string {
	str := "DELETE FROM " + s.Table.Render()
	if s.Where != nil {
		str += " WHERE " + s.Where.Render()
	}
	return str
}

func (s *DeleteStatement) Accept(v Visitor) Statement {
	var where Expr
	if s.Where != nil {
		where = s.Where.walk(v)
	}
	ns := &DeleteStatement{Table: s.Table.walk(v), Where: where}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// IF / THEN / ELSE IF / ELSE / END
// ---------------------------------------------------------------------

// IfBranch is one "cond THEN stmt" arm (the first is IF, the rest ELSE IF).
type IfBranch struct {
	Cond Expr
	Then Statement
}

type IfStatement struct {
	Branches []IfBranch
	Else     Statement // nil if absent
}

func (s *IfStatement) IsPotentiallyMutating() bool { return true }
func (s *IfStatement) RequiredPrivileges() []Privilege {
	var out []Privilege
	for _, b := range s.Branches {
		out = append(out, b.Then.RequiredPrivileges()...)
	}
	if s.Else != nil {
		out = append(out, s.Else.RequiredPrivileges()...)
	}
	return out
}

func (s *IfStatement) Render() string {
	var sb strings.Builder
	for i, b := range s.Branches {
		if i == 0 {
			sb.WriteString("IF ")
		} else {
			sb.WriteString(" ELSE IF ")
		}
		sb.WriteString(b.Cond.Render())
		sb.WriteString(" THEN ")
		sb.WriteString(b.Then.Render())
	}
	if s.Else != nil {
		sb.WriteString(" ELSE ")
		sb.WriteString(s.Else.Render())
	}
	sb.WriteString(" END")
	return sb.String()
}

func (s *IfStatement) Accept(v Visitor) Statement {
	branches := make([]IfBranch, len(s.Branches))
	for i, b := range s.Branches {
		branches[i] = IfBranch{Cond: b.Cond.walk(v), Then: b.Then.Accept(v)}
	}
	var elseStmt Statement
	if s.Else != nil {
		elseStmt = s.Else.Accept(v)
	}
	ns := &IfStatement{Branches: branches, Else: elseStmt}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// FAIL
// ---------------------------------------------------------------------

type FailStatement struct{}

func (s *FailStatement) IsPotentiallyMutating() bool     { return true }
func (s *FailStatement) RequiredPrivileges() []Privilege { return nil }
func (s *FailStatement) Render() string                  { return "FAIL" }
func (s *FailStatement) Accept(v Visitor) Statement       { return v.VisitStatement(&FailStatement{}) }

// ---------------------------------------------------------------------
// SHOW TABLES
// ---------------------------------------------------------------------

type ShowTablesStatement struct{}

func (s *ShowTablesStatement) IsPotentiallyMutating() bool     { return false }
func (s *ShowTablesStatement) RequiredPrivileges() []Privilege { return nil }
func (s *ShowTablesStatement) Render() string                  { return "SHOW TABLES" }
func (s *ShowTablesStatement) Accept(v Visitor) Statement {
	return v.VisitStatement(&ShowTablesStatement{})
}

// ---------------------------------------------------------------------
// GRANT / REVOKE
// ---------------------------------------------------------------------

// GrantStatement is either "GRANT privilege TO user" or its REVOKE form.
// The parser always sets User, for GRANT and REVOKE alike; the backend
// reads a NULL literal there as "any user".
type GrantStatement struct {
	Revoke    bool
	Privilege Privilege // Privilege.Table empty means "any table"; unused when Kind == template
	User      Expr      // a blob/string literal or bound parameter naming the grantee
}

func (s *GrantStatement) IsPotentiallyMutating() bool { return true }
func (s *GrantStatement) RequiredPrivileges() []Privilege {
	return []Privilege{{Kind: PrivilegeGrant, Table: "grants"}}
}

func (s *GrantStatement) Render() string {
	verb := "GRANT"
	if s.Revoke {
		verb = "REVOKE"
	}
	var priv string
	if s.Privilege.Kind == PrivilegeTemplate {
		priv = "TEMPLATE '" + s.Privilege.TemplateHash.Hex() + "'"
	} else {
		priv = strings.ToUpper(string(s.Privilege.Kind))
		if s.Privilege.Table != "" {
			priv += " ON " + s.Privilege.Table
		}
	}
	return verb + " " + priv + " TO " + s.User.Render()
}

func (s *GrantStatement) Accept(v Visitor) Statement {
	ns := &GrantStatement{
		Revoke:    s.Revoke,
		Privilege: s.Privilege,
		User:      s.User.walk(v),
	}
	return v.VisitStatement(ns)
}

// ---------------------------------------------------------------------
// CREATE INDEX
// ---------------------------------------------------------------------

type CreateIndexStatement struct {
	Name    string
	Table   *TableRef
	Columns []string
}

func (s *CreateIndexStatement) IsPotentiallyMutating() bool { return true }
func (s *CreateIndexStatement) RequiredPrivileges() []Privilege {
	return []Privilege{{Kind: PrivilegeNever}}
}

func (s *CreateIndexStatement) Render() string {
	return "CREATE INDEX " + s.Name + " ON " + s.Table.Render() + "(" + strings.Join(s.Columns, ", ") + ")"
}

func (s *CreateIndexStatement) Accept(v Visitor) Statement {
	ns := &CreateIndexStatement{Name: s.Name, Table: s.Table.walk(v), Columns: append([]string(nil), s.Columns...)}
	return v.VisitStatement(ns)
}
