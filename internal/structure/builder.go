// Package structure builds the analytic structure: a tree of tables,
// views, and full-outer joins describing how every row needed to load an
// aggregate is produced by a single query. Building runs two passes over
// the tree — foreign-key propagation top-down, then row-number
// assignment bottom-up — after which the structure is immutable and safe
// to share across goroutines.
package structure

import (
	"fmt"
)

// TableConfig configures one table as it is registered with the builder.
type TableConfig struct {
	table *TableDefinition
}

// Named overrides the physical table name (the registration key is used
// by default).
func (c *TableConfig) Named(table string) *TableConfig {
	c.table.Name = table
	return c
}

// WithID maps the table's id column.
func (c *TableConfig) WithID(column string) *TableConfig {
	c.table.id = &BaseColumn{Table: c.table, Name: column}
	return c
}

// WithColumns adds plain value columns.
func (c *TableConfig) WithColumns(columns ...string) *TableConfig {
	for _, name := range columns {
		c.table.columns = append(c.table.columns, &BaseColumn{Table: c.table, Name: name})
	}
	return c
}

// WithKeyColumn maps the list index / map key column.
func (c *TableConfig) WithKeyColumn(column string) *TableConfig {
	c.table.keyColumn = &KeyColumn{Table: c.table, Name: column}
	return c
}

// WithBackReference names the physical columns that correlate this table
// with its parent's id columns, in parent-id order.
func (c *TableConfig) WithBackReference(columns ...string) *TableConfig {
	c.table.backRefColumns = columns
	return c
}

// MultiValued marks the table as the many side of its join; it will be
// reached through an AnalyticView and receive a row number.
func (c *TableConfig) MultiValued() *TableConfig {
	c.table.multiValued = true
	return c
}

// Builder assembles the analytic structure for one aggregate type. It is
// not safe for concurrent use; the built structure is.
type Builder struct {
	tables      map[string]*TableDefinition
	views       map[*TableDefinition]*AnalyticView
	nodeParents map[Node]Node
	root        Node
	rootTable   *TableDefinition
	built       bool
}

// NewBuilder creates an empty structure builder.
func NewBuilder() *Builder {
	return &Builder{
		tables:      map[string]*TableDefinition{},
		views:       map[*TableDefinition]*AnalyticView{},
		nodeParents: map[Node]Node{},
	}
}

// AddTable registers the aggregate root table under the given key and
// configures it via the callback. Calling AddTable twice is a
// programming error.
func (b *Builder) AddTable(key string, configure func(*TableConfig)) *Builder {
	if b.rootTable != nil {
		panic("structure: AddTable called twice; use AddChildTo for child tables")
	}
	table := b.register(key, configure)
	b.root = table
	b.rootTable = table
	return b
}

// AddChildTo registers a child table beneath an already-registered
// table. The parent key may identify any registered table, not just the
// current tree root; the new join is spliced in at the correct depth,
// preserving all previously established joins. An unregistered parent
// key is a programming error and panics.
func (b *Builder) AddChildTo(parentKey, childKey string, configure func(*TableConfig)) *Builder {
	parent, ok := b.tables[parentKey]
	if !ok {
		panic(fmt.Sprintf("structure: AddChildTo: parent table %q is not registered", parentKey))
	}
	if b.built {
		panic("structure: AddChildTo called after Build")
	}

	child := b.register(childKey, configure)
	var childNode Node = child
	if child.multiValued {
		view := &AnalyticView{Table: child}
		b.views[child] = view
		b.nodeParents[child] = view
		childNode = view
	}

	anchor := b.ultimateNodeParent(parent)
	grand := b.nodeParents[anchor]

	join := &AnalyticJoin{Parent: anchor, Child: childNode}
	b.nodeParents[anchor] = join
	b.nodeParents[childNode] = join

	if grand == nil {
		b.root = join
	} else {
		grandJoin := grand.(*AnalyticJoin)
		grandJoin.Child = join
		b.nodeParents[join] = grandJoin
	}
	return b
}

// Table returns the registered table for a key.
func (b *Builder) Table(key string) *TableDefinition {
	return b.tables[key]
}

// RootTable returns the aggregate root's table.
func (b *Builder) RootTable() *TableDefinition { return b.rootTable }

func (b *Builder) register(key string, configure func(*TableConfig)) *TableDefinition {
	if _, exists := b.tables[key]; exists {
		panic(fmt.Sprintf("structure: table %q registered twice", key))
	}
	table := &TableDefinition{Name: key, Entity: key}
	if configure != nil {
		configure(&TableConfig{table: table})
	}
	b.tables[key] = table
	return table
}

// ultimateNodeParent walks the node-parent map upward from a table and
// returns the topmost node whose parent side descends from it: the
// subtree the next join for that table must wrap.
func (b *Builder) ultimateNodeParent(table *TableDefinition) Node {
	var node Node = table
	if view, ok := b.views[table]; ok {
		node = view
	}
	for {
		parent, ok := b.nodeParents[node]
		if !ok || parent == nil {
			return node
		}
		join, isJoin := parent.(*AnalyticJoin)
		if !isJoin || join.Parent != node {
			return node
		}
		node = join
	}
}

// Build derives foreign keys (top-down) and row numbers (bottom-up) and
// returns the root of the completed structure. Building an already-built
// structure is a no-op returning the same root. A mapping for which no
// row ordering can be established fails here.
func (b *Builder) Build() (Node, error) {
	if b.rootTable == nil {
		return nil, fmt.Errorf("structure: no root table registered")
	}
	if b.built {
		return b.root, nil
	}
	if err := b.propagateForeignKeys(b.root, nil); err != nil {
		return nil, err
	}
	if err := b.assignRowNumbers(b.root); err != nil {
		return nil, err
	}
	if err := b.deriveConditions(b.root); err != nil {
		return nil, err
	}
	b.built = true
	return b.root, nil
}

// propagateForeignKeys hands each node its node-parent's id columns,
// wrapped as foreign keys owned by the receiving table, and computes
// each join's effective id and re-surfaced foreign keys.
func (b *Builder) propagateForeignKeys(n Node, parentIDs []Column) error {
	switch node := n.(type) {
	case *TableDefinition:
		for i, pid := range parentIDs {
			name := b.backRefName(node, i)
			node.foreignKeys = append(node.foreignKeys, &ForeignKeyColumn{
				Owner:      node,
				Name:       name,
				Referenced: pid,
			})
		}
		return nil
	case *AnalyticView:
		return b.propagateForeignKeys(node.Table, parentIDs)
	case *AnalyticJoin:
		if err := b.propagateForeignKeys(node.Parent, parentIDs); err != nil {
			return err
		}
		parentSide := effectiveIDColumnsOf(node.Parent)
		if len(parentSide) == 0 {
			return fmt.Errorf("structure: %s: parent side exposes no id to correlate children with", describeNode(node.Parent))
		}
		if err := b.propagateForeignKeys(node.Child, parentSide); err != nil {
			return err
		}

		childFKs := node.Child.ForeignKeys()
		if len(childFKs) == 0 {
			return fmt.Errorf("structure: %s: child side has no foreign key after propagation", describeNode(node.Child))
		}
		node.id = &DerivedColumn{Base: parentSide[0]}
		node.effectiveID = &CoalesceColumn{First: parentSide[0], Second: childFKs[0]}

		// Foreign keys pointing above this join live on the parent side;
		// MAX OVER re-surfaces them onto child-only rows of the partition.
		for _, fk := range node.Parent.ForeignKeys() {
			node.foreignKeys = append(node.foreignKeys, &MaxOverColumn{
				Expr:        fk,
				PartitionBy: node.effectiveID,
			})
		}
		return nil
	default:
		return fmt.Errorf("structure: unknown node variant %T", n)
	}
}

// assignRowNumbers computes, bottom-up, the rank columns that give every
// row of a one-to-many relationship a stable position.
func (b *Builder) assignRowNumbers(n Node) error {
	switch node := n.(type) {
	case *TableDefinition:
		return nil
	case *AnalyticView:
		table := node.Table
		order := table.Key()
		if order == nil {
			order = table.ID()
		}
		if order == nil {
			return fmt.Errorf(
				"structure: table %s (%s): collection element has neither a key column nor an id; no row ordering can be established",
				table.Name, table.Entity,
			)
		}
		node.rowNumber = &RowNumberColumn{
			PartitionBy: table.ForeignKeys(),
			OrderBy:     []Column{order},
		}
		return nil
	case *AnalyticJoin:
		if err := b.assignRowNumbers(node.Parent); err != nil {
			return err
		}
		if err := b.assignRowNumbers(node.Child); err != nil {
			return err
		}
		parentRN := node.Parent.RowNumber()
		childRN := node.Child.RowNumber()
		switch {
		case parentRN == nil && childRN == nil:
			node.rowNumber = nil
		case parentRN == nil:
			node.rowNumber = &DerivedColumn{Base: childRN}
		case childRN == nil:
			node.rowNumber = &DerivedColumn{Base: parentRN}
		default:
			// Both sides are multi-row (grandchild collections). Neither
			// side's rank identifies a row of the union, so the join
			// projects a single rank keyed by the combined foreign keys
			// and ordered by the deepest table's natural key.
			partition := append(append([]Column{}, node.Parent.ForeignKeys()...), node.Child.ForeignKeys()...)
			deepest := deepestTable(node.Child)
			order := deepest.Key()
			if order == nil {
				order = deepest.ID()
			}
			if order == nil {
				order = deepest.EffectiveID()
			}
			node.rowNumber = &RowNumberColumn{
				PartitionBy: partition,
				OrderBy:     []Column{order},
			}
		}
		return nil
	default:
		return fmt.Errorf("structure: unknown node variant %T", n)
	}
}

// deriveConditions records each join's ON-clause equalities: coalesced
// id against foreign key, and row number against row number (the parent
// side of a single-row parent contributes the literal 1).
func (b *Builder) deriveConditions(n Node) error {
	join, ok := n.(*AnalyticJoin)
	if !ok {
		return nil
	}
	if err := b.deriveConditions(join.Parent); err != nil {
		return err
	}
	if err := b.deriveConditions(join.Child); err != nil {
		return err
	}

	for _, fk := range join.Child.ForeignKeys() {
		ref := referencedID(fk)
		if ref == nil {
			// Key-column halves of a composite correlation pair up with
			// the parent's key column directly.
			continue
		}
		join.conditions = append(join.conditions, JoinCondition{Left: ref, Right: fk})
	}

	if childRN := join.Child.RowNumber(); childRN != nil {
		left := join.Parent.RowNumber()
		if left == nil {
			left = &LiteralColumn{Value: 1}
		}
		join.conditions = append(join.conditions, JoinCondition{Left: left, Right: childRN})
	}
	return nil
}

func (b *Builder) backRefName(table *TableDefinition, i int) string {
	if i < len(table.backRefColumns) {
		return table.backRefColumns[i]
	}
	if len(table.backRefColumns) > 0 {
		return fmt.Sprintf("%s_%d", table.backRefColumns[0], i)
	}
	return fmt.Sprintf("parent_ref_%d", i)
}

func effectiveIDColumnsOf(n Node) []Column {
	switch node := n.(type) {
	case *TableDefinition:
		return node.effectiveIDColumns()
	case *AnalyticView:
		return node.Table.effectiveIDColumns()
	case *AnalyticJoin:
		if node.effectiveID == nil {
			return nil
		}
		return []Column{node.effectiveID}
	default:
		return nil
	}
}

func describeNode(n Node) string {
	switch node := n.(type) {
	case *TableDefinition:
		return fmt.Sprintf("table %s", node.Name)
	case *AnalyticView:
		return fmt.Sprintf("view over %s", node.Table.Name)
	case *AnalyticJoin:
		return fmt.Sprintf("join of (%s, %s)", describeNode(node.Parent), describeNode(node.Child))
	default:
		return fmt.Sprintf("%T", n)
	}
}
