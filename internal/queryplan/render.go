package queryplan

import (
	"fmt"
	"strconv"
	"strings"

	"aggload/internal/sqlutil"
	"aggload/internal/structure"

	sq "github.com/Masterminds/squirrel"
)

// renderer walks the analytic structure and assembles one squirrel
// select. Child sides render as named inline subqueries; parent sides
// flatten into the enclosing builder, so a chain of joins becomes one
// FROM plus a sequence of FULL OUTER JOIN clauses.
type renderer struct {
	aliases *Aliases
	// rootNode is the structure root; the id filter, when present,
	// applies exactly once, at this node's level.
	rootNode structure.Node
	filter   func(idExpr string) sq.Sqlizer
}

// scope tracks, for one nesting level, where each column is computed:
// in a named child subquery, or on the level's single physical table.
type scope struct {
	// exposed maps a column (unwrapped) to the subquery exposing it.
	exposed map[structure.Column]string
	// table is the physical table rendered at this level, if any.
	table *structure.TableDefinition
}

func newScope() *scope {
	return &scope{exposed: map[structure.Column]string{}}
}

func (s *scope) expose(n structure.Node, sub string) {
	for _, c := range n.Columns() {
		s.exposed[structure.Unwrap(c)] = sub
	}
}

// renderNode produces a standalone select for any structure node.
func (r *renderer) renderNode(n structure.Node) (sq.SelectBuilder, error) {
	switch node := n.(type) {
	case *structure.TableDefinition:
		return r.renderTable(node), nil
	case *structure.AnalyticView:
		return r.renderView(node)
	case *structure.AnalyticJoin:
		sc := newScope()
		return r.renderJoin(node, sc)
	default:
		return sq.SelectBuilder{}, fmt.Errorf("queryplan: unknown node variant %T", n)
	}
}

// renderTable emits SELECT <columns> FROM <table>. A flat structure (no
// joins) filters directly on the root table's id column here.
func (r *renderer) renderTable(t *structure.TableDefinition) sq.SelectBuilder {
	sc := &scope{exposed: map[structure.Column]string{}, table: t}
	items := make([]string, 0, len(t.Columns()))
	for _, c := range t.Columns() {
		items = append(items, sqlutil.Aliased(r.renderExpr(c, sc), r.aliases.For(c)))
	}
	b := sq.Select(items...).From(sqlutil.QuoteIdentifier(t.Name))
	if root, ok := r.rootNode.(*structure.TableDefinition); ok && root == t && r.filter != nil {
		b = b.Where(r.filter(r.renderExpr(t.ID(), sc)))
	}
	return b
}

// renderView emits the table select plus its row-number column.
func (r *renderer) renderView(v *structure.AnalyticView) (sq.SelectBuilder, error) {
	b := r.renderTable(v.Table)
	rn := v.RowNumber()
	if rn != nil {
		sc := &scope{exposed: map[structure.Column]string{}, table: v.Table}
		b = b.Column(sq.Expr(sqlutil.Aliased(r.renderExpr(rn, sc), r.aliases.For(rn))))
	}
	return b, nil
}

// renderJoin flattens the parent side into the builder and attaches the
// child side as a named inline subquery behind a FULL OUTER JOIN whose
// condition conjoins the join's derived equalities.
func (r *renderer) renderJoin(j *structure.AnalyticJoin, sc *scope) (sq.SelectBuilder, error) {
	b, err := r.renderParentSide(j.Parent, sc)
	if err != nil {
		return b, err
	}

	childBuilder, err := r.renderNode(j.Child)
	if err != nil {
		return b, err
	}
	childSQL, childArgs, err := childBuilder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return b, err
	}
	sub := r.aliases.Sub(j.Child)
	sc.expose(j.Child, sub)

	conds := make([]string, 0, len(j.Conditions()))
	for _, cond := range j.Conditions() {
		conds = append(conds, r.renderExpr(cond.Left, sc)+" = "+r.renderExpr(cond.Right, sc))
	}
	joinClause := fmt.Sprintf(
		"FULL OUTER JOIN (%s) AS %s ON %s",
		childSQL, sqlutil.QuoteIdentifier(sub), strings.Join(conds, " AND "),
	)
	b = b.JoinClause(sq.Expr(joinClause, childArgs...))

	// Re-expose the child subquery's columns one level up.
	seen := map[string]bool{}
	for _, c := range j.Child.Columns() {
		alias := r.aliases.For(c)
		if seen[alias] {
			continue
		}
		seen[alias] = true
		b = b.Column(sqlutil.Aliased(sqlutil.Qualify(sub, alias), alias))
	}
	// Columns computed at this join's level.
	if eid := j.EffectiveID(); eid != nil {
		b = b.Column(sq.Expr(sqlutil.Aliased(r.renderExpr(eid, sc), r.aliases.For(eid))))
	}
	if rn := j.RowNumber(); rn != nil {
		if _, derived := rn.(*structure.DerivedColumn); !derived {
			b = b.Column(sq.Expr(sqlutil.Aliased(r.renderExpr(rn, sc), r.aliases.For(rn))))
		}
	}
	for _, fk := range j.ForeignKeys() {
		b = b.Column(sq.Expr(sqlutil.Aliased(r.renderExpr(fk, sc), r.aliases.For(fk))))
	}
	// The id filter compares against the effective id, never the parent
	// table's id column: child-only rows of the matching aggregate carry
	// a null parent id and must survive the filter.
	if j == r.rootNode && r.filter != nil {
		b = b.Where(r.filter(r.renderExpr(j.EffectiveID(), sc)))
	}
	return b, nil
}

// renderParentSide renders the single-row side of a join into the
// current scope. By construction it is a bare table, another join
// resolved recursively at the same level, or a view (when the middle of
// a deep nesting is itself multi-row), which must stay a subquery so its
// rank partitions only its own rows.
func (r *renderer) renderParentSide(n structure.Node, sc *scope) (sq.SelectBuilder, error) {
	switch node := n.(type) {
	case *structure.TableDefinition:
		sc.table = node
		items := make([]string, 0, len(node.Columns()))
		for _, c := range node.Columns() {
			items = append(items, sqlutil.Aliased(r.renderExpr(c, sc), r.aliases.For(c)))
		}
		return sq.Select(items...).From(sqlutil.QuoteIdentifier(node.Name)), nil
	case *structure.AnalyticJoin:
		return r.renderJoin(node, sc)
	case *structure.AnalyticView:
		inner, err := r.renderView(node)
		if err != nil {
			return inner, err
		}
		sub := r.aliases.Sub(node)
		sc.expose(node, sub)
		items := make([]string, 0, len(node.Columns()))
		for _, c := range node.Columns() {
			alias := r.aliases.For(c)
			items = append(items, sqlutil.Aliased(sqlutil.Qualify(sub, alias), alias))
		}
		return sq.Select(items...).FromSelect(inner, sub), nil
	default:
		return sq.SelectBuilder{}, fmt.Errorf("queryplan: unknown parent side variant %T", n)
	}
}

// renderExpr renders a column as SQL relative to the given scope:
// columns computed in a child subquery become subquery.alias references,
// columns of the scope's physical table become qualified column names,
// and expression columns expand recursively.
func (r *renderer) renderExpr(c structure.Column, sc *scope) string {
	c = structure.Unwrap(c)
	if sub, ok := sc.exposed[c]; ok {
		return sqlutil.Qualify(sub, r.aliases.For(c))
	}
	switch col := c.(type) {
	case *structure.BaseColumn:
		return r.physical(col.Table, col.Name, sc)
	case *structure.KeyColumn:
		return r.physical(col.Table, col.Name, sc)
	case *structure.ForeignKeyColumn:
		return r.physical(col.Owner, col.Name, sc)
	case *structure.LiteralColumn:
		return strconv.Itoa(col.Value)
	case *structure.CoalesceColumn:
		return "COALESCE(" + r.renderExpr(col.First, sc) + ", " + r.renderExpr(col.Second, sc) + ")"
	case *structure.MaxOverColumn:
		return "MAX(" + r.renderExpr(col.Expr, sc) + ") OVER (PARTITION BY " + r.renderExpr(col.PartitionBy, sc) + ")"
	case *structure.RowNumberColumn:
		parts := make([]string, 0, len(col.PartitionBy))
		for _, p := range col.PartitionBy {
			parts = append(parts, r.renderExpr(p, sc))
		}
		orders := make([]string, 0, len(col.OrderBy))
		for _, o := range col.OrderBy {
			orders = append(orders, r.renderExpr(o, sc))
		}
		expr := "ROW_NUMBER() OVER ("
		if len(parts) > 0 {
			expr += "PARTITION BY " + strings.Join(parts, ", ")
		}
		if len(orders) > 0 {
			if len(parts) > 0 {
				expr += " "
			}
			expr += "ORDER BY " + strings.Join(orders, ", ")
		}
		return expr + ")"
	default:
		// The column variants form a closed set; reaching this means the
		// structure package grew a variant the renderer does not know.
		panic(fmt.Sprintf("queryplan: cannot render column variant %T", c))
	}
}

func (r *renderer) physical(t *structure.TableDefinition, column string, sc *scope) string {
	if sc.table == t {
		return sqlutil.Qualify(t.Name, column)
	}
	// A physical column referenced outside its own scope can only come
	// from a child subquery that was not registered; treat as a bug.
	panic(fmt.Sprintf("queryplan: column %s.%s referenced outside its scope", t.Name, column))
}
