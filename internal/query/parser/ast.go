package parser

import (
	"strconv"
	"strings"
)

// Statement is a parsed statement. Only SELECT exists.
type Statement interface {
	statementNode()
	String() string
}

// Expression is a node of a scalar expression tree. String renders it back
// to SQL with binary operations fully parenthesized.
type Expression interface {
	expressionNode()
	String() string
}

// SelectStatement is SELECT cols FROM table [joins...] [WHERE expr].
type SelectStatement struct {
	Columns []SelectColumn
	From    *TableRef
	Joins   []JoinClause
	Where   Expression
}

// SelectColumn is one projected expression with an optional alias.
type SelectColumn struct {
	Expr  Expression
	Alias string
}

// TableRef names a table in FROM or JOIN.
type TableRef struct {
	Name  string
	Alias string
}

// JoinType identifies the kind of join.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinLeftAnti
	JoinLeftSemi
)

var joinKeywords = [...]string{
	JoinInner:    "INNER JOIN",
	JoinLeft:     "LEFT JOIN",
	JoinLeftAnti: "LEFT ANTI JOIN",
	JoinLeftSemi: "LEFT SEMI JOIN",
}

// JoinClause is one JOIN ... ON ... step.
type JoinClause struct {
	Type  JoinType
	Table *TableRef
	On    Expression
}

type (
	BinaryExpr struct {
		Left     Expression
		Operator string
		Right    Expression
	}

	// UnaryExpr is NOT x or -x.
	UnaryExpr struct {
		Operator string
		Operand  Expression
	}

	// ColumnRef is col or table.col.
	ColumnRef struct {
		Table  string
		Column string
	}

	// Literal holds int64, float64, string, bool or nil for NULL.
	Literal struct {
		Value interface{}
	}

	// StarExpr is * or table.*.
	StarExpr struct {
		Table string
	}

	InExpr struct {
		Expr   Expression
		Values []Expression
		Not    bool
	}

	BetweenExpr struct {
		Expr Expression
		Low  Expression
		High Expression
		Not  bool
	}

	IsNullExpr struct {
		Expr Expression
		Not  bool
	}

	LikeExpr struct {
		Expr    Expression
		Pattern Expression
		Not     bool
	}

	ParenExpr struct {
		Expr Expression
	}
)

func (*SelectStatement) statementNode() {}

func (*BinaryExpr) expressionNode()  {}
func (*UnaryExpr) expressionNode()   {}
func (*ColumnRef) expressionNode()   {}
func (*Literal) expressionNode()     {}
func (*StarExpr) expressionNode()    {}
func (*InExpr) expressionNode()      {}
func (*BetweenExpr) expressionNode() {}
func (*IsNullExpr) expressionNode()  {}
func (*LikeExpr) expressionNode()    {}
func (*ParenExpr) expressionNode()   {}

func (s *SelectStatement) String() string {
	parts := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		parts[i] = c.String()
	}
	out := "SELECT " + strings.Join(parts, ", ")
	if s.From != nil {
		out += " FROM " + s.From.String()
	}
	for _, j := range s.Joins {
		out += " " + j.String()
	}
	if s.Where != nil {
		out += " WHERE " + s.Where.String()
	}
	return out
}

// Tables returns every table the statement reads, FROM first, then joins in
// order.
func (s *SelectStatement) Tables() []*TableRef {
	var refs []*TableRef
	if s.From != nil {
		refs = append(refs, s.From)
	}
	for _, j := range s.Joins {
		refs = append(refs, j.Table)
	}
	return refs
}

func (c SelectColumn) String() string { return withAlias(c.Expr.String(), c.Alias) }

func (t *TableRef) String() string { return withAlias(t.Name, t.Alias) }

// Qualifier returns the name columns of this table are qualified with.
func (t *TableRef) Qualifier() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

func withAlias(s, alias string) string {
	if alias == "" {
		return s
	}
	return s + " AS " + alias
}

func (t JoinType) String() string {
	if t < 0 || int(t) >= len(joinKeywords) {
		return "UNKNOWN JOIN"
	}
	return joinKeywords[t]
}

// Filtering reports whether the join only filters the left side and
// contributes no columns of its own.
func (t JoinType) Filtering() bool {
	return t == JoinLeftAnti || t == JoinLeftSemi
}

func (j JoinClause) String() string {
	return j.Type.String() + " " + j.Table.String() + " ON " + j.On.String()
}

func (b *BinaryExpr) String() string {
	return "(" + b.Left.String() + " " + b.Operator + " " + b.Right.String() + ")"
}

func (u *UnaryExpr) String() string { return u.Operator + " " + u.Operand.String() }

func (c *ColumnRef) String() string {
	if c.Table == "" {
		return c.Column
	}
	return c.Table + "." + c.Column
}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	return "NULL"
}

func (s *StarExpr) String() string {
	if s.Table == "" {
		return "*"
	}
	return s.Table + ".*"
}

func negated(not bool, op string) string {
	if not {
		return " NOT " + op + " "
	}
	return " " + op + " "
}

func (i *InExpr) String() string {
	vals := make([]string, len(i.Values))
	for k, v := range i.Values {
		vals[k] = v.String()
	}
	return i.Expr.String() + negated(i.Not, "IN") + "(" + strings.Join(vals, ", ") + ")"
}

func (b *BetweenExpr) String() string {
	return b.Expr.String() + negated(b.Not, "BETWEEN") + b.Low.String() + " AND " + b.High.String()
}

func (i *IsNullExpr) String() string {
	if i.Not {
		return i.Expr.String() + " IS NOT NULL"
	}
	return i.Expr.String() + " IS NULL"
}

func (l *LikeExpr) String() string {
	return l.Expr.String() + negated(l.Not, "LIKE") + l.Pattern.String()
}

func (p *ParenExpr) String() string { return "(" + p.Expr.String() + ")" }

// Walk calls fn for expr and every expression nested in it, depth first.
func Walk(expr Expression, fn func(Expression)) {
	if expr == nil {
		return
	}
	fn(expr)
	var children []Expression
	switch e := expr.(type) {
	case *BinaryExpr:
		children = []Expression{e.Left, e.Right}
	case *UnaryExpr:
		children = []Expression{e.Operand}
	case *InExpr:
		children = append([]Expression{e.Expr}, e.Values...)
	case *BetweenExpr:
		children = []Expression{e.Expr, e.Low, e.High}
	case *IsNullExpr:
		children = []Expression{e.Expr}
	case *LikeExpr:
		children = []Expression{e.Expr, e.Pattern}
	case *ParenExpr:
		children = []Expression{e.Expr}
	}
	for _, c := range children {
		Walk(c, fn)
	}
}
