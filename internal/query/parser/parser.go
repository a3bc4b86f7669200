package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports where parsing stopped.
type SyntaxError struct {
	Pos  int
	Near string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d near %q: %s", e.Pos, e.Near, e.Msg)
}

// Parse parses one SELECT statement, optionally terminated by a semicolon.
func Parse(sql string) (Statement, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.selectStatement()
	if err != nil {
		return nil, err
	}
	p.acceptSym(";")
	if p.cur().kind != tkEOF {
		return nil, p.errorf("unexpected trailing input")
	}
	return stmt, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) cur() token { return p.toks[p.i] }

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tkEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(format string, args ...interface{}) error {
	t := p.cur()
	return &SyntaxError{Pos: t.pos, Near: t.String(), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKw(words ...string) bool {
	t := p.cur()
	if t.kind != tkKeyword {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

func (p *parser) acceptKw(word string) bool {
	if p.isKw(word) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectKw(word string) error {
	if !p.acceptKw(word) {
		return p.errorf("expected %s", word)
	}
	return nil
}

func (p *parser) isSym(s string) bool {
	t := p.cur()
	return t.kind == tkSymbol && t.text == s
}

func (p *parser) acceptSym(s string) bool {
	if p.isSym(s) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectSym(s string) error {
	if !p.acceptSym(s) {
		return p.errorf("expected %q", s)
	}
	return nil
}

func (p *parser) ident(what string) (string, error) {
	if p.cur().kind != tkIdent {
		return "", p.errorf("expected %s", what)
	}
	return p.advance().text, nil
}

// alias reads `[AS] name` when present.
func (p *parser) alias() (string, error) {
	if p.acceptKw("AS") {
		return p.ident("alias after AS")
	}
	if p.cur().kind == tkIdent {
		return p.advance().text, nil
	}
	return "", nil
}

func (p *parser) selectStatement() (*SelectStatement, error) {
	if err := p.expectKw("SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStatement{}
	for {
		col, err := p.selectColumn()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if !p.acceptSym(",") {
			break
		}
	}

	if err := p.expectKw("FROM"); err != nil {
		return nil, err
	}
	from, err := p.tableRef()
	if err != nil {
		return nil, err
	}
	stmt.From = from

	for p.isKw("JOIN", "LEFT", "INNER", "ANTI", "SEMI") {
		join, err := p.joinClause()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, join)
	}

	if p.acceptKw("WHERE") {
		if stmt.Where, err = p.expr(precLowest); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) selectColumn() (SelectColumn, error) {
	if p.acceptSym("*") {
		return SelectColumn{Expr: &StarExpr{}}, nil
	}
	e, err := p.expr(precLowest)
	if err != nil {
		return SelectColumn{}, err
	}
	a, err := p.alias()
	return SelectColumn{Expr: e, Alias: a}, err
}

func (p *parser) tableRef() (*TableRef, error) {
	name, err := p.ident("table name")
	if err != nil {
		return nil, err
	}
	a, err := p.alias()
	if err != nil {
		return nil, err
	}
	return &TableRef{Name: name, Alias: a}, nil
}

// joinClause parses [LEFT | INNER] [ANTI | SEMI] JOIN table ON expr. A bare
// ANTI or SEMI join is a left join.
func (p *parser) joinClause() (JoinClause, error) {
	var j JoinClause
	start := p.cur()
	inner := p.acceptKw("INNER")
	left := !inner && p.acceptKw("LEFT")

	switch {
	case p.acceptKw("ANTI"):
		j.Type = JoinLeftAnti
	case p.acceptKw("SEMI"):
		j.Type = JoinLeftSemi
	case left:
		j.Type = JoinLeft
	default:
		j.Type = JoinInner
	}
	if inner && j.Type.Filtering() {
		return j, &SyntaxError{Pos: start.pos, Near: start.String(), Msg: "ANTI and SEMI joins must be LEFT joins"}
	}

	if err := p.expectKw("JOIN"); err != nil {
		return j, err
	}
	table, err := p.tableRef()
	if err != nil {
		return j, err
	}
	j.Table = table
	if err := p.expectKw("ON"); err != nil {
		return j, err
	}
	j.On, err = p.expr(precLowest)
	return j, err
}

const (
	precLowest = iota
	precOr
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precUnary
)

var symbolPrec = map[string]int{
	"=": precCompare, "<>": precCompare, "!=": precCompare,
	"<": precCompare, "<=": precCompare, ">": precCompare, ">=": precCompare,
	"+": precAdd, "-": precAdd,
	"*": precMul, "/": precMul,
}

var keywordPrec = map[string]int{
	"OR": precOr, "AND": precAnd,
	"IS": precCompare, "IN": precCompare, "LIKE": precCompare, "BETWEEN": precCompare, "NOT": precCompare,
}

// infixPrec returns the binding power of the current token as an infix
// operator, 0 if it is not one.
func (p *parser) infixPrec() int {
	t := p.cur()
	switch t.kind {
	case tkSymbol:
		return symbolPrec[t.text]
	case tkKeyword:
		return keywordPrec[t.text]
	}
	return 0
}

// expr parses operators binding tighter than minPrec, left-associatively.
func (p *parser) expr(minPrec int) (Expression, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	for {
		prec := p.infixPrec()
		if prec <= minPrec {
			return left, nil
		}
		if left, err = p.infix(left, prec); err != nil {
			return nil, err
		}
	}
}

func (p *parser) infix(left Expression, prec int) (Expression, error) {
	op := p.advance()
	if op.kind == tkSymbol || op.text == "AND" || op.text == "OR" {
		right, err := p.expr(prec)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: left, Operator: op.text, Right: right}, nil
	}

	switch op.text {
	case "IS":
		not := p.acceptKw("NOT")
		if err := p.expectKw("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: left, Not: not}, nil
	case "NOT":
		switch {
		case p.acceptKw("IN"):
			return p.inList(left, true)
		case p.acceptKw("LIKE"):
			return p.like(left, true)
		case p.acceptKw("BETWEEN"):
			return p.between(left, true)
		}
		return nil, p.errorf("expected IN, LIKE or BETWEEN after NOT")
	case "IN":
		return p.inList(left, false)
	case "LIKE":
		return p.like(left, false)
	default: // BETWEEN
		return p.between(left, false)
	}
}

func (p *parser) inList(left Expression, not bool) (Expression, error) {
	if err := p.expectSym("("); err != nil {
		return nil, err
	}
	in := &InExpr{Expr: left, Not: not}
	for {
		v, err := p.expr(precLowest)
		if err != nil {
			return nil, err
		}
		in.Values = append(in.Values, v)
		if !p.acceptSym(",") {
			break
		}
	}
	return in, p.expectSym(")")
}

func (p *parser) like(left Expression, not bool) (Expression, error) {
	pattern, err := p.expr(precCompare)
	if err != nil {
		return nil, err
	}
	return &LikeExpr{Expr: left, Pattern: pattern, Not: not}, nil
}

func (p *parser) between(left Expression, not bool) (Expression, error) {
	low, err := p.expr(precCompare)
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("AND"); err != nil {
		return nil, err
	}
	high, err := p.expr(precCompare)
	if err != nil {
		return nil, err
	}
	return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
}

func (p *parser) operand() (Expression, error) {
	t := p.cur()
	switch t.kind {
	case tkIdent:
		return p.columnRef()
	case tkNumber:
		p.advance()
		return numberLiteral(t)
	case tkString:
		p.advance()
		return &Literal{Value: t.text}, nil
	case tkKeyword:
		switch t.text {
		case "NULL":
			p.advance()
			return &Literal{Value: nil}, nil
		case "TRUE", "FALSE":
			p.advance()
			return &Literal{Value: t.text == "TRUE"}, nil
		case "NOT":
			p.advance()
			e, err := p.expr(precNot)
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Operator: "NOT", Operand: e}, nil
		}
	case tkSymbol:
		switch t.text {
		case "-":
			p.advance()
			e, err := p.expr(precUnary)
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Operator: "-", Operand: e}, nil
		case "(":
			p.advance()
			e, err := p.expr(precLowest)
			if err != nil {
				return nil, err
			}
			if err := p.expectSym(")"); err != nil {
				return nil, err
			}
			return &ParenExpr{Expr: e}, nil
		case "*":
			p.advance()
			return &StarExpr{}, nil
		}
	}
	return nil, p.errorf("expected an expression")
}

// columnRef parses name, qualifier.name or qualifier.*.
func (p *parser) columnRef() (Expression, error) {
	name := p.advance().text
	if p.isSym("(") {
		return nil, p.errorf("function calls are not supported")
	}
	if !p.acceptSym(".") {
		return &ColumnRef{Column: name}, nil
	}
	if p.acceptSym("*") {
		return &StarExpr{Table: name}, nil
	}
	col, err := p.ident("column name after " + name + ".")
	if err != nil {
		return nil, err
	}
	return &ColumnRef{Table: name, Column: col}, nil
}

func numberLiteral(t token) (Expression, error) {
	if !strings.Contains(t.text, ".") {
		if v, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return &Literal{Value: v}, nil
		}
	}
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return nil, &SyntaxError{Pos: t.pos, Near: t.text, Msg: "invalid number"}
	}
	return &Literal{Value: v}, nil
}
