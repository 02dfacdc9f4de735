package sqlast

import (
	"fmt"
	"strings"

	"github.com/sqlchain/sqlchaind/internal/chainerr"
	"github.com/sqlchain/sqlchaind/internal/crypto"
)

// maxExprDepth bounds subexpression nesting to prevent stack exhaustion
// on adversarial input.
const maxExprDepth = 12

// reservedWords are keywords that can never be used as a bare column
// reference in expression position. Without this guard a statement like
// "SELECT FROM" silently parses as selecting a column literally named
// FROM, since the lexer does not distinguish keywords from identifiers.
// NULL and CASE are handled by explicit checks before this guard runs
// and are deliberately absent here.
var reservedWords = map[string]bool{
	"FROM": true, "WHERE": true, "ORDER": true, "BY": true, "LIMIT": true,
	"ASC": true, "DESC": true, "DISTINCT": true, "LEFT": true, "JOIN": true,
	"ON": true, "AND": true, "OR": true, "NOT": true, "IS": true,
	"THEN": true, "ELSE": true, "END": true, "WHEN": true, "INTO": true,
	"VALUES": true, "SET": true, "IF": true, "FAIL": true, "SHOW": true,
	"TABLES": true, "GRANT": true, "REVOKE": true, "TO": true,
	"TEMPLATE": true, "INDEX": true, "TABLE": true, "CREATE": true,
	"DROP": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"PRIMARY": true, "KEY": true, "REPLACE": true,
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Parse parses a single SQL statement in the restricted dialect. It
// fails cleanly (returns an error, never panics) on unknown syntax.
func Parse(text string) (Statement, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, asChainError(err)
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, asChainError(err)
	}
	if p.peek().kind != tokEOF {
		return nil, asChainError(p.errorf("unexpected trailing input"))
	}
	return stmt, nil
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) peekAt(off int) token {
	idx := p.pos + off
	if idx >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[idx]
}
func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Pos: p.peek().pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *parser) isKeywordAt(off int, word string) bool {
	t := p.peekAt(off)
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *parser) isOp(text string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == text
}

func (p *parser) expectKeyword(word string) error {
	if !p.isKeyword(word) {
		return p.errorf("expected %s", word)
	}
	p.next()
	return nil
}

func (p *parser) expectOp(text string) error {
	if !p.isOp(text) {
		return p.errorf("expected %q", text)
	}
	p.next()
	return nil
}

// parseIdentName consumes a bare or quoted identifier and returns its
// unquoted name.
func (p *parser) parseIdentName() (string, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		p.next()
		return t.text, nil
	case tokQuotedIdent:
		p.next()
		return t.strVal, nil
	default:
		return "", p.errorf("expected identifier")
	}
}

func (p *parser) parseTableRef() (*TableRef, error) {
	name, err := p.parseIdentName()
	if err != nil {
		return nil, err
	}
	return &TableRef{Name: name}, nil
}

// ---------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------

func (p *parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("CREATE"):
		if p.isKeywordAt(1, "TABLE") {
			return p.parseCreateTable()
		}
		if p.isKeywordAt(1, "INDEX") {
			return p.parseCreateIndex()
		}
		return nil, p.errorf("expected TABLE or INDEX after CREATE")
	case p.isKeyword("DROP"):
		return p.parseDropTable()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("IF"):
		return p.parseIf()
	case p.isKeyword("FAIL"):
		p.next()
		return &FailStatement{}, nil
	case p.isKeyword("SHOW"):
		p.next()
		if err := p.expectKeyword("TABLES"); err != nil {
			return nil, err
		}
		return &ShowTablesStatement{}, nil
	case p.isKeyword("GRANT"):
		return p.parseGrant(false)
	case p.isKeyword("REVOKE"):
		return p.parseGrant(true)
	default:
		return nil, p.errorf("unrecognized statement")
	}
}

func (p *parser) parseSelect() (Statement, error) {
	p.next() // SELECT
	distinct := false
	if p.isKeyword("DISTINCT") {
		p.next()
		distinct = true
	}

	var cols []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		cols = append(cols, e)
		if p.isOp(",") {
			p.next()
			continue
		}
		break
	}

	stmt := &SelectStatement{Distinct: distinct, Columns: cols}

	if p.isKeyword("FROM") {
		p.next()
		from, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		stmt.From = from

		for p.isKeyword("LEFT") {
			p.next()
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			jt, err := p.parseTableRef()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			on, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.Joins = append(stmt.Joins, &Join{Table: jt, On: on})
		}

		if p.isKeyword("WHERE") {
			p.next()
			w, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.Where = w
		}

		if p.isKeyword("ORDER") {
			p.next()
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				desc := false
				switch {
				case p.isKeyword("ASC"):
					p.next()
				case p.isKeyword("DESC"):
					p.next()
					desc = true
				}
				stmt.OrderBy = append(stmt.OrderBy, OrderByItem{Expr: e, Desc: desc})
				if p.isOp(",") {
					p.next()
					continue
				}
				break
			}
		}

		if p.isKeyword("LIMIT") {
			p.next()
			t := p.peek()
			var limit int64
			switch t.kind {
			case tokInteger:
				p.next()
				limit = t.intVal
			case tokUnsigned:
				p.next()
				limit = int64(t.uintVal)
			default:
				return nil, p.errorf("expected integer after LIMIT")
			}
			stmt.Limit = &limit
		}
	} else if p.isKeyword("WHERE") || p.isKeyword("ORDER") || p.isKeyword("LIMIT") {
		return nil, p.errorf("WHERE/ORDER BY/LIMIT require a FROM clause")
	}

	return stmt, nil
}

func (p *parser) parseCreateTable() (Statement, error) {
	p.next() // CREATE
	p.next() // TABLE
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var cols []ColumnDef
	for {
		name, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		typeName, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		pk := false
		if p.isKeyword("PRIMARY") {
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			pk = true
		}
		cols = append(cols, ColumnDef{Name: name, Type: strings.ToUpper(typeName), PrimaryKey: pk})
		if p.isOp(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &CreateTableStatement{Table: table, Columns: cols}, nil
}

func (p *parser) parseCreateIndex() (Statement, error) {
	p.next() // CREATE
	p.next() // INDEX
	name, err := p.parseIdentName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if p.isOp(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &CreateIndexStatement{Name: name, Table: table, Columns: cols}, nil
}

func (p *parser) parseDropTable() (Statement, error) {
	p.next() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	return &DropTableStatement{Table: table}, nil
}

func (p *parser) parseInsert() (Statement, error) {
	p.next() // INSERT
	orReplace := false
	if p.isKeyword("OR") {
		p.next()
		if err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
		orReplace = true
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if p.isOp(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	var rows [][]Expr
	for {
		if err := p.expectOp("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.isOp(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.isOp(",") {
			p.next()
			continue
		}
		break
	}
	return &InsertStatement{OrReplace: orReplace, Table: table, Columns: cols, Rows: rows}, nil
}

func (p *parser) parseUpdate() (Statement, error) {
	p.next() // UPDATE
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var assigns []Assignment
	seen := make(map[string]bool)
	for {
		col, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		if seen[col] {
			return nil, newKindError(chainerr.DuplicateColumns, "duplicate assignment to column %q", col)
		}
		seen[col] = true
		if err := p.expectOp("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: col, Value: val})
		if p.isOp(",") {
			p.next()
			continue
		}
		break
	}
	var where Expr
	if p.isKeyword("WHERE") {
		p.next()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	return &UpdateStatement{Table: table, Assignments: assigns, Where: where}, nil
}

func (p *parser) parseDelete() (Statement, error) {
	p.next() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	var where Expr
	if p.isKeyword("WHERE") {
		p.next()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	return &DeleteStatement{Table: table, Where: where}, nil
}

func (p *parser) parseIf() (Statement, error) {
	p.next() // IF
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("THEN"); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	branches := []IfBranch{{Cond: cond, Then: then}}

	var elseStmt Statement
	for p.isKeyword("ELSE") {
		p.next()
		if p.isKeyword("IF") {
			p.next()
			c2, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("THEN"); err != nil {
				return nil, err
			}
			t2, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			branches = append(branches, IfBranch{Cond: c2, Then: t2})
			continue
		}
		es, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		elseStmt = es
		break
	}

	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return &IfStatement{Branches: branches, Else: elseStmt}, nil
}

func (p *parser) parseGrant(revoke bool) (Statement, error) {
	p.next() // GRANT or REVOKE
	priv, err := p.parsePrivilege()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	user, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &GrantStatement{Revoke: revoke, Privilege: priv, User: user}, nil
}

func (p *parser) parsePrivilege() (Privilege, error) {
	if p.isKeyword("TEMPLATE") {
		p.next()
		t := p.peek()
		var hashHex string
		switch t.kind {
		case tokString:
			p.next()
			hashHex = t.strVal
		case tokIdent:
			p.next()
			hashHex = t.text
		default:
			return Privilege{}, p.errorf("expected template hash")
		}
		h, perr := crypto.ParseHash(hashHex)
		if perr != nil {
			return Privilege{}, p.errorf("invalid template hash: %v", perr)
		}
		return Privilege{Kind: PrivilegeTemplate, TemplateHash: h}, nil
	}

	var kind PrivilegeKind
	switch {
	case p.isKeyword("CREATE"):
		kind = PrivilegeCreate
	case p.isKeyword("DELETE"):
		kind = PrivilegeDelete
	case p.isKeyword("DROP"):
		kind = PrivilegeDrop
	case p.isKeyword("INSERT"):
		kind = PrivilegeInsert
	case p.isKeyword("UPDATE"):
		kind = PrivilegeUpdate
	case p.isKeyword("GRANT"):
		kind = PrivilegeGrant
	default:
		return Privilege{}, p.errorf("expected a privilege kind")
	}
	p.next()

	table := ""
	if p.isKeyword("ON") {
		p.next()
		t, err := p.parseIdentName()
		if err != nil {
			return Privilege{}, err
		}
		table = t
	}
	return Privilege{Kind: kind, Table: table}, nil
}

// ---------------------------------------------------------------------
// Expressions (precedence climbing)
// ---------------------------------------------------------------------

func (p *parser) parseExpr() (Expr, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxExprDepth {
		return nil, p.errorf("expression nesting exceeds limit of %d", maxExprDepth)
	}
	return p.parseOr()
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

var comparisonOps = []string{"=", "<>", "<=", ">=", "<", ">"}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range comparisonOps {
			if p.isOp(op) {
				matched = op
				break
			}
		}
		if matched == "" {
			break
		}
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: matched, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.peek().text
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("||") {
		op := p.peek().text
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isKeyword("NOT") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	if p.isOp("-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("IS") {
		p.next()
		negate := false
		if p.isKeyword("NOT") {
			p.next()
			negate = true
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		e = &IsNullExpr{Operand: e, Negate: negate}
	}
	return e, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokInteger:
		p.next()
		return &IntegerLiteral{Value: t.intVal}, nil
	case tokUnsigned:
		p.next()
		return &UnsignedLiteral{Value: t.uintVal}, nil
	case tokString:
		p.next()
		return &StringLiteral{Value: t.strVal}, nil
	case tokBlob:
		p.next()
		return &BlobLiteral{Value: t.blobVal}, nil
	case tokVariable:
		p.next()
		return &VariableExpr{Name: t.text}, nil
	case tokParam:
		p.next()
		if p.isOp(":") {
			p.next()
			val, err := p.parseLiteralOnly()
			if err != nil {
				return nil, err
			}
			return &BoundParameter{Name: t.text, Value: val}, nil
		}
		return &UnboundParameter{Name: t.text}, nil
	case tokQuotedIdent:
		p.next()
		return p.maybeQualified(&ColumnRef{Name: t.strVal, Quoted: true})
	case tokOp:
		switch t.text {
		case "(":
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return e, nil
		case "*":
			p.next()
			return &StarExpr{}, nil
		}
		return nil, p.errorf("unexpected token %q", t.text)
	case tokIdent:
		if strings.EqualFold(t.text, "NULL") {
			p.next()
			return &NullLiteral{}, nil
		}
		if strings.EqualFold(t.text, "CASE") {
			return p.parseCase()
		}
		if p.peekAt(1).kind == tokOp && p.peekAt(1).text == "(" {
			p.next() // ident
			p.next() // (
			var args []Expr
			if !p.isOp(")") {
				for {
					a, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.isOp(",") {
						p.next()
						continue
					}
					break
				}
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return &FunctionCall{Name: strings.ToUpper(t.text), Args: args}, nil
		}
		if reservedWords[strings.ToUpper(t.text)] {
			return nil, p.errorf("unexpected keyword %q in expression", t.text)
		}
		p.next()
		return p.maybeQualified(&ColumnRef{Name: t.text, Quoted: false})
	default:
		return nil, p.errorf("unexpected end of input in expression")
	}
}

// maybeQualified checks for a following ".column" and, if present,
// reinterprets ref.Name as a table/alias qualifier.
func (p *parser) maybeQualified(ref *ColumnRef) (Expr, error) {
	if !p.isOp(".") {
		return ref, nil
	}
	p.next() // .
	name, err := p.parseIdentName()
	if err != nil {
		return nil, err
	}
	return &ColumnRef{Table: ref.Name, Name: name, Quoted: ref.Quoted}, nil
}

func (p *parser) parseLiteralOnly() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokInteger:
		p.next()
		return &IntegerLiteral{Value: t.intVal}, nil
	case tokUnsigned:
		p.next()
		return &UnsignedLiteral{Value: t.uintVal}, nil
	case tokString:
		p.next()
		return &StringLiteral{Value: t.strVal}, nil
	case tokBlob:
		p.next()
		return &BlobLiteral{Value: t.blobVal}, nil
	case tokIdent:
		if strings.EqualFold(t.text, "NULL") {
			p.next()
			return &NullLiteral{}, nil
		}
	}
	return nil, p.errorf("expected a literal value")
}

func (p *parser) parseCase() (Expr, error) {
	p.next() // CASE
	var whens []WhenClause
	for p.isKeyword("WHEN") {
		p.next()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		res, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		whens = append(whens, WhenClause{Cond: cond, Result: res})
	}
	if len(whens) == 0 {
		return nil, p.errorf("CASE requires at least one WHEN clause")
	}
	var elseExpr Expr
	if p.isKeyword("ELSE") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elseExpr = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return &CaseExpr{Whens: whens, Else: elseExpr}, nil
}
