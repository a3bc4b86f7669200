package parser

// EquiJoinKey is one `left.col = right.col` conjunct of a join condition,
// oriented so that Right belongs to the joined table.
type EquiJoinKey struct {
	Left  *ColumnRef
	Right *ColumnRef
}

// JoinCondition is an ON expression split into equality keys and the
// remaining conjuncts.
type JoinCondition struct {
	EquiKeys []EquiJoinKey
	Residual []Expression
}

// SplitConjuncts flattens a tree of ANDs into its operands.
func SplitConjuncts(expr Expression) []Expression {
	switch ex := expr.(type) {
	case nil:
		return nil
	case *BinaryExpr:
		if ex.Operator == "AND" {
			return append(SplitConjuncts(ex.Left), SplitConjuncts(ex.Right)...)
		}
	case *ParenExpr:
		if inner, ok := ex.Expr.(*BinaryExpr); ok && inner.Operator == "AND" {
			return SplitConjuncts(inner)
		}
	}
	return []Expression{expr}
}

// AnalyzeJoinCondition classifies the conjuncts of on. A conjunct is an
// equality key when it compares a column of right with a column of any
// other table; everything else is residual.
func AnalyzeJoinCondition(on Expression, right string) JoinCondition {
	var cond JoinCondition
	for _, c := range SplitConjuncts(on) {
		if key, ok := equiKey(c, right); ok {
			cond.EquiKeys = append(cond.EquiKeys, key)
			continue
		}
		cond.Residual = append(cond.Residual, c)
	}
	return cond
}

func equiKey(expr Expression, right string) (EquiJoinKey, bool) {
	if p, ok := expr.(*ParenExpr); ok {
		expr = p.Expr
	}
	bin, ok := expr.(*BinaryExpr)
	if !ok || bin.Operator != "=" {
		return EquiJoinKey{}, false
	}
	l, lok := bin.Left.(*ColumnRef)
	r, rok := bin.Right.(*ColumnRef)
	if !lok || !rok {
		return EquiJoinKey{}, false
	}
	switch {
	case r.Table == right && l.Table != right:
		return EquiJoinKey{Left: l, Right: r}, true
	case l.Table == right && r.Table != right:
		return EquiJoinKey{Left: r, Right: l}, true
	}
	return EquiJoinKey{}, false
}

// ColumnRefs returns every column reference in expr in visit order.
func ColumnRefs(expr Expression) []*ColumnRef {
	var refs []*ColumnRef
	Walk(expr, func(e Expression) {
		if c, ok := e.(*ColumnRef); ok {
			refs = append(refs, c)
		}
	})
	return refs
}
