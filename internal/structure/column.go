package structure

// Column is one projected column or expression in the analytic structure.
// The set of variants is closed; the renderer dispatches over it
// exhaustively and fails loudly on anything it does not know.
type Column interface {
	isColumn()
	// Hint returns a short lowercase name fragment used when allocating
	// aliases. Purely cosmetic.
	Hint() string
}

// BaseColumn is a literal schema column on a physical table.
type BaseColumn struct {
	Table *TableDefinition
	Name  string
}

// DerivedColumn re-exposes a column of a child node one level up,
// unchanged. Alias allocation unwraps derivations so the column keeps
// one alias across arbitrarily nested subqueries.
type DerivedColumn struct {
	Base Column
}

// ForeignKeyColumn is a surrogate correlation column on a child table.
// Its value is determined by the referenced parent id; it exists so row
// ranks and ids from different tables can be compared after an outer
// join, independent of any storage-level constraint.
type ForeignKeyColumn struct {
	Owner *TableDefinition
	// Name is the physical back-reference column on the owning table.
	Name       string
	Referenced Column
}

// KeyColumn is a list index or map key column.
type KeyColumn struct {
	Table *TableDefinition
	Name  string
}

// RowNumberColumn is a ROW_NUMBER() ranking expression. PartitionBy and
// OrderBy must together uniquely order the rows of one table belonging
// to a single aggregate instance, or duplicate children result.
type RowNumberColumn struct {
	PartitionBy []Column
	OrderBy     []Column
}

// CoalesceColumn is first-non-null of two columns, used to produce one
// effective id or rank across a full outer join.
type CoalesceColumn struct {
	First  Column
	Second Column
}

// MaxOverColumn is MAX(expr) OVER (PARTITION BY ...), used to re-surface
// a foreign key onto every row sharing a partition.
type MaxOverColumn struct {
	Expr        Column
	PartitionBy Column
}

// LiteralColumn is a constant, used in row-number comparisons.
type LiteralColumn struct {
	Value int
}

func (*BaseColumn) isColumn()       {}
func (*DerivedColumn) isColumn()    {}
func (*ForeignKeyColumn) isColumn() {}
func (*KeyColumn) isColumn()        {}
func (*RowNumberColumn) isColumn()  {}
func (*CoalesceColumn) isColumn()   {}
func (*MaxOverColumn) isColumn()    {}
func (*LiteralColumn) isColumn()    {}

func (c *BaseColumn) Hint() string       { return c.Name }
func (c *DerivedColumn) Hint() string    { return c.Base.Hint() }
func (c *ForeignKeyColumn) Hint() string { return c.Name }
func (c *KeyColumn) Hint() string        { return c.Name }
func (c *RowNumberColumn) Hint() string  { return "rn" }
func (c *CoalesceColumn) Hint() string   { return c.First.Hint() }
func (c *MaxOverColumn) Hint() string    { return c.Expr.Hint() }
func (c *LiteralColumn) Hint() string    { return "lit" }

// Unwrap strips DerivedColumn layers and returns the column actually
// computed somewhere in the structure.
func Unwrap(c Column) Column {
	for {
		d, ok := c.(*DerivedColumn)
		if !ok {
			return c
		}
		c = d.Base
	}
}

// referencedID resolves which parent id a correlation column ultimately
// stands for, looking through derivations and MaxOver propagation.
func referencedID(c Column) Column {
	switch col := Unwrap(c).(type) {
	case *ForeignKeyColumn:
		return col.Referenced
	case *MaxOverColumn:
		return referencedID(col.Expr)
	default:
		return nil
	}
}
