// Package planner resolves parsed statements against registered tables and
// renders them as SQLite SQL.
package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/arkilian/compactor/internal/query/parser"
)

// Catalog looks up the schema of a registered table.
type Catalog interface {
	TableSchema(name string) (*arrow.Schema, bool)
}

// TableBinding is one table occurrence in the statement.
type TableBinding struct {
	Name      string
	Qualifier string
	Schema    *arrow.Schema
	Join      *parser.JoinClause // nil for the FROM table
}

// OutputColumn maps a result column back to the table column it reads.
type OutputColumn struct {
	Qualifier string
	Column    string
	Field     arrow.Field
}

// IndexSpec is an index worth building on a materialized table before the
// query runs.
type IndexSpec struct {
	Table   string
	Columns []string
}

// LogicalPlan is a resolved statement ready for physical planning.
type LogicalPlan struct {
	// Statement is the parsed SQL statement.
	Statement *parser.SelectStatement

	// Tables lists the table occurrences in FROM, JOIN order.
	Tables []TableBinding

	// Output describes the result columns in projection order.
	Output []OutputColumn

	// Schema is the result schema.
	Schema *arrow.Schema

	// SQL is the statement rendered for SQLite.
	SQL string

	// Indexes are the equality keys of filtering joins.
	Indexes []IndexSpec
}

// TableNames returns the distinct registered tables the plan reads, in
// first-use order.
func (p *LogicalPlan) TableNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range p.Tables {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	return names
}

// Plan resolves stmt against catalog.
func Plan(stmt *parser.SelectStatement, catalog Catalog) (*LogicalPlan, error) {
	if stmt == nil {
		return nil, fmt.Errorf("planner: nil statement")
	}
	if stmt.From == nil {
		return nil, fmt.Errorf("planner: statement has no FROM clause")
	}

	plan := &LogicalPlan{Statement: stmt}
	qualifiers := make(map[string]bool)

	bind := func(ref *parser.TableRef, join *parser.JoinClause) error {
		schema, ok := catalog.TableSchema(ref.Name)
		if !ok {
			return fmt.Errorf("planner: table %q not found", ref.Name)
		}
		q := ref.Qualifier()
		if qualifiers[q] {
			return fmt.Errorf("planner: table name %q specified more than once", q)
		}
		qualifiers[q] = true
		plan.Tables = append(plan.Tables, TableBinding{Name: ref.Name, Qualifier: q, Schema: schema, Join: join})
		return nil
	}

	if err := bind(stmt.From, nil); err != nil {
		return nil, err
	}
	for i := range stmt.Joins {
		if err := bind(stmt.Joins[i].Table, &stmt.Joins[i]); err != nil {
			return nil, err
		}
	}

	r := &renderer{plan: plan}
	if err := r.resolveProjection(); err != nil {
		return nil, err
	}

	sql, err := r.render()
	if err != nil {
		return nil, err
	}
	plan.SQL = sql

	fields := make([]arrow.Field, len(plan.Output))
	for i, c := range plan.Output {
		fields[i] = c.Field
	}
	plan.Schema = arrow.NewSchema(fields, nil)

	return plan, nil
}

// renderer resolves column references in scope and writes SQLite text.
type renderer struct {
	plan *LogicalPlan
}

// visible returns the bindings whose columns can be referenced while
// rendering the join at index upto (or the WHERE clause when upto is -1).
func (r *renderer) visible(upto int) []TableBinding {
	var out []TableBinding
	for i, t := range r.plan.Tables {
		if t.Join != nil && t.Join.Type.Filtering() && i != upto {
			continue
		}
		if upto >= 0 && i > upto {
			break
		}
		out = append(out, t)
	}
	return out
}

func (r *renderer) resolveProjection() error {
	scope := r.visible(-1)
	for _, col := range r.plan.Statement.Columns {
		switch e := col.Expr.(type) {
		case *parser.StarExpr:
			matched := false
			for _, t := range scope {
				if e.Table != "" && e.Table != t.Qualifier {
					continue
				}
				matched = true
				for _, f := range t.Schema.Fields() {
					r.plan.Output = append(r.plan.Output, outputColumn(t, f, ""))
				}
			}
			if !matched {
				return fmt.Errorf("planner: table %q not found for %s", e.Table, e)
			}
		case *parser.ColumnRef:
			t, f, err := resolveColumn(e, scope)
			if err != nil {
				return err
			}
			r.plan.Output = append(r.plan.Output, outputColumn(t, f, col.Alias))
		default:
			return fmt.Errorf("planner: unsupported projection %s", col.Expr)
		}
	}

	names := make(map[string]bool, len(r.plan.Output))
	for _, c := range r.plan.Output {
		if names[c.Field.Name] {
			return fmt.Errorf("planner: duplicate output column %q", c.Field.Name)
		}
		names[c.Field.Name] = true
	}
	return nil
}

func outputColumn(t TableBinding, f arrow.Field, alias string) OutputColumn {
	out := f
	if alias != "" {
		out.Name = alias
	}
	if t.Join != nil && t.Join.Type == parser.JoinLeft {
		out.Nullable = true
	}
	return OutputColumn{Qualifier: t.Qualifier, Column: f.Name, Field: out}
}

func resolveColumn(ref *parser.ColumnRef, scope []TableBinding) (TableBinding, arrow.Field, error) {
	var (
		found TableBinding
		field arrow.Field
		hits  int
	)
	for _, t := range scope {
		if ref.Table != "" && ref.Table != t.Qualifier {
			continue
		}
		idx := t.Schema.FieldIndices(ref.Column)
		if len(idx) == 0 {
			continue
		}
		found, field = t, t.Schema.Field(idx[0])
		hits++
	}
	switch {
	case hits == 0:
		return TableBinding{}, arrow.Field{}, fmt.Errorf("planner: column %s not found", ref)
	case hits > 1:
		return TableBinding{}, arrow.Field{}, fmt.Errorf("planner: column reference %s is ambiguous", ref)
	}
	return found, field, nil
}

func (r *renderer) render() (string, error) {
	var sb strings.Builder
	var filters []string

	sb.WriteString("SELECT ")
	for i, c := range r.plan.Output {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(QuoteIdent(c.Qualifier))
		sb.WriteString(".")
		sb.WriteString(QuoteIdent(c.Column))
		sb.WriteString(" AS ")
		sb.WriteString(QuoteIdent(c.Field.Name))
	}

	sb.WriteString(" FROM ")
	sb.WriteString(tableSQL(r.plan.Tables[0]))

	for i, t := range r.plan.Tables[1:] {
		idx := i + 1
		on, err := r.expr(t.Join.On, r.visible(idx))
		if err != nil {
			return "", err
		}

		switch t.Join.Type {
		case parser.JoinInner:
			sb.WriteString(" JOIN ")
			sb.WriteString(tableSQL(t))
			sb.WriteString(" ON ")
			sb.WriteString(on)
		case parser.JoinLeft:
			sb.WriteString(" LEFT JOIN ")
			sb.WriteString(tableSQL(t))
			sb.WriteString(" ON ")
			sb.WriteString(on)
		case parser.JoinLeftAnti, parser.JoinLeftSemi:
			exists := "EXISTS"
			if t.Join.Type == parser.JoinLeftAnti {
				exists = "NOT EXISTS"
			}
			filters = append(filters, fmt.Sprintf("%s (SELECT 1 FROM %s WHERE %s)", exists, tableSQL(t), on))
			r.addIndex(t)
		}
	}

	if where := r.plan.Statement.Where; where != nil {
		w, err := r.expr(where, r.visible(-1))
		if err != nil {
			return "", err
		}
		filters = append(filters, w)
	}

	if len(filters) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(filters, " AND "))
	}

	return sb.String(), nil
}

func (r *renderer) addIndex(t TableBinding) {
	cond := parser.AnalyzeJoinCondition(t.Join.On, t.Qualifier)
	if len(cond.EquiKeys) == 0 {
		return
	}
	cols := make([]string, 0, len(cond.EquiKeys))
	for _, k := range cond.EquiKeys {
		cols = append(cols, k.Right.Column)
	}
	r.plan.Indexes = append(r.plan.Indexes, IndexSpec{Table: t.Name, Columns: cols})
}

func tableSQL(t TableBinding) string {
	if t.Qualifier != t.Name {
		return QuoteIdent(t.Name) + " AS " + QuoteIdent(t.Qualifier)
	}
	return QuoteIdent(t.Name)
}

// expr renders an expression, resolving every column reference in scope.
func (r *renderer) expr(e parser.Expression, scope []TableBinding) (string, error) {
	switch ex := e.(type) {
	case *parser.ColumnRef:
		t, f, err := resolveColumn(ex, scope)
		if err != nil {
			return "", err
		}
		return QuoteIdent(t.Qualifier) + "." + QuoteIdent(f.Name), nil
	case *parser.Literal:
		return literalSQL(ex), nil
	case *parser.ParenExpr:
		inner, err := r.expr(ex.Expr, scope)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case *parser.BinaryExpr:
		l, err := r.expr(ex.Left, scope)
		if err != nil {
			return "", err
		}
		rt, err := r.expr(ex.Right, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, ex.Operator, rt), nil
	case *parser.UnaryExpr:
		operand, err := r.expr(ex.Operand, scope)
		if err != nil {
			return "", err
		}
		if ex.Operator == "NOT" {
			return "NOT " + operand, nil
		}
		return ex.Operator + operand, nil
	case *parser.IsNullExpr:
		inner, err := r.expr(ex.Expr, scope)
		if err != nil {
			return "", err
		}
		if ex.Not {
			return inner + " IS NOT NULL", nil
		}
		return inner + " IS NULL", nil
	case *parser.InExpr:
		inner, err := r.expr(ex.Expr, scope)
		if err != nil {
			return "", err
		}
		vals := make([]string, len(ex.Values))
		for i, v := range ex.Values {
			if vals[i], err = r.expr(v, scope); err != nil {
				return "", err
			}
		}
		op := " IN ("
		if ex.Not {
			op = " NOT IN ("
		}
		return inner + op + strings.Join(vals, ", ") + ")", nil
	case *parser.BetweenExpr:
		parts := make([]string, 3)
		for i, sub := range []parser.Expression{ex.Expr, ex.Low, ex.High} {
			s, err := r.expr(sub, scope)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		op := " BETWEEN "
		if ex.Not {
			op = " NOT BETWEEN "
		}
		return parts[0] + op + parts[1] + " AND " + parts[2], nil
	case *parser.LikeExpr:
		inner, err := r.expr(ex.Expr, scope)
		if err != nil {
			return "", err
		}
		pattern, err := r.expr(ex.Pattern, scope)
		if err != nil {
			return "", err
		}
		if ex.Not {
			return inner + " NOT LIKE " + pattern, nil
		}
		return inner + " LIKE " + pattern, nil
	default:
		return "", fmt.Errorf("planner: unsupported expression %s", e)
	}
}

func literalSQL(l *parser.Literal) string {
	switch v := l.Value.(type) {
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return l.String()
	}
}

// QuoteIdent quotes a SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
