package structure

// Node is one node of the analytic structure: the tree of tables and
// joins from which the single aggregate query is rendered. Leaves are
// always TableDefinitions; every interior node is an AnalyticJoin; a
// table on the many side of a join is always reached through an
// AnalyticView. The root table is never wrapped in a view.
type Node interface {
	isNode()
	// ID returns the node's id column, possibly derived. For a join this
	// is always the id of its parent side, never the child.
	ID() Column
	// EffectiveID returns the column identifying one logical row of the
	// node even when the parent side of an outer join is absent.
	EffectiveID() Column
	// RowNumber returns the node's rank column, or nil for nodes that
	// contribute at most one row per parent.
	RowNumber() Column
	// ForeignKeys returns the correlation columns the node exposes to
	// the join above it.
	ForeignKeys() []Column
	// Columns returns every column the node exposes upward.
	Columns() []Column
}

// TableDefinition is one physical table participating in the aggregate.
type TableDefinition struct {
	// Name is the physical table name; Entity the mapped type name used
	// in diagnostics and alias hints.
	Name   string
	Entity string

	id          *BaseColumn
	columns     []*BaseColumn
	keyColumn   *KeyColumn
	foreignKeys []*ForeignKeyColumn

	// backRefColumns are the physical column names to use for foreign
	// keys assigned during build, in parent-id order.
	backRefColumns []string
	multiValued    bool
}

func (*TableDefinition) isNode() {}

// ID returns the table's own id column if one is mapped. A table without
// an id derives its effective identity from its foreign keys once the
// parent is known; ID is nil in that case.
func (t *TableDefinition) ID() Column {
	if t.id == nil {
		return nil
	}
	return t.id
}

// EffectiveID returns the id column, falling back to the first foreign
// key for id-less child tables.
func (t *TableDefinition) EffectiveID() Column {
	if t.id != nil {
		return t.id
	}
	if len(t.foreignKeys) > 0 {
		return t.foreignKeys[0]
	}
	return nil
}

func (t *TableDefinition) RowNumber() Column { return nil }

func (t *TableDefinition) ForeignKeys() []Column {
	out := make([]Column, len(t.foreignKeys))
	for i, fk := range t.foreignKeys {
		out[i] = fk
	}
	return out
}

func (t *TableDefinition) Columns() []Column {
	var out []Column
	if t.id != nil {
		out = append(out, t.id)
	}
	for _, c := range t.columns {
		out = append(out, c)
	}
	if t.keyColumn != nil {
		out = append(out, t.keyColumn)
	}
	for _, fk := range t.foreignKeys {
		out = append(out, fk)
	}
	return out
}

// Column returns the base column with the given physical name.
func (t *TableDefinition) Column(name string) *BaseColumn {
	if t.id != nil && t.id.Name == name {
		return t.id
	}
	for _, c := range t.columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Key returns the table's key column, if any.
func (t *TableDefinition) Key() Column {
	if t.keyColumn == nil {
		return nil
	}
	return t.keyColumn
}

// effectiveIDColumns lists the columns a child table must correlate
// with: the id when present, otherwise the foreign keys plus the key
// column if one is mapped.
func (t *TableDefinition) effectiveIDColumns() []Column {
	if t.id != nil {
		return []Column{t.id}
	}
	var out []Column
	for _, fk := range t.foreignKeys {
		out = append(out, fk)
	}
	if t.keyColumn != nil {
		out = append(out, t.keyColumn)
	}
	return out
}

// AnalyticView wraps a table that sits on the many side of a join and
// carries its row-number column once build has computed it.
type AnalyticView struct {
	Table *TableDefinition

	rowNumber *RowNumberColumn
}

func (*AnalyticView) isNode() {}

func (v *AnalyticView) ID() Column          { return v.Table.ID() }
func (v *AnalyticView) EffectiveID() Column { return v.Table.EffectiveID() }

func (v *AnalyticView) RowNumber() Column {
	if v.rowNumber == nil {
		return nil
	}
	return v.rowNumber
}

func (v *AnalyticView) ForeignKeys() []Column { return v.Table.ForeignKeys() }

func (v *AnalyticView) Columns() []Column {
	out := v.Table.Columns()
	if v.rowNumber != nil {
		out = append(out, v.rowNumber)
	}
	return out
}

// JoinCondition is one equality in an analytic join's ON clause.
type JoinCondition struct {
	Left  Column
	Right Column
}

// AnalyticJoin combines a single-row parent side with a possibly
// multi-row child side via a full outer join.
type AnalyticJoin struct {
	Parent Node
	Child  Node

	id          Column
	effectiveID Column
	rowNumber   Column
	foreignKeys []Column
	conditions  []JoinCondition
}

func (*AnalyticJoin) isNode() {}

func (j *AnalyticJoin) ID() Column            { return j.id }
func (j *AnalyticJoin) EffectiveID() Column   { return j.effectiveID }
func (j *AnalyticJoin) RowNumber() Column     { return j.rowNumber }
func (j *AnalyticJoin) ForeignKeys() []Column { return j.foreignKeys }

// Conditions returns the join's ON-clause equalities.
func (j *AnalyticJoin) Conditions() []JoinCondition { return j.conditions }

func (j *AnalyticJoin) Columns() []Column {
	var out []Column
	out = append(out, j.Parent.Columns()...)
	out = append(out, j.Child.Columns()...)
	if j.effectiveID != nil {
		out = append(out, j.effectiveID)
	}
	if j.rowNumber != nil {
		if _, derived := j.rowNumber.(*DerivedColumn); !derived {
			out = append(out, j.rowNumber)
		}
	}
	out = append(out, j.foreignKeys...)
	return out
}

// deepestTable returns the table at the bottom of a child subtree; its
// key column (falling back to its id) supplies the natural order for
// ranks spanning a union.
func deepestTable(n Node) *TableDefinition {
	switch node := n.(type) {
	case *TableDefinition:
		return node
	case *AnalyticView:
		return node.Table
	case *AnalyticJoin:
		return deepestTable(node.Child)
	default:
		return nil
	}
}
