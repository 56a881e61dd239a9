package queryplan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggload/internal/structure"
)

func buildFlat(t *testing.T) (*Select, *structure.Builder) {
	t.Helper()
	b := structure.NewBuilder()
	b.AddTable("Order", func(c *structure.TableConfig) {
		c.Named("orders").WithID("id").WithColumns("customer_name")
	})
	node, err := b.Build()
	require.NoError(t, err)
	return CreateSelect(node, b.RootTable()), b
}

func buildNested(t *testing.T) (*Select, *structure.Builder) {
	t.Helper()
	b := structure.NewBuilder()
	b.AddTable("Order", func(c *structure.TableConfig) {
		c.Named("orders").WithID("id").WithColumns("customer_name")
	})
	b.AddChildTo("Order", "LineItem", func(c *structure.TableConfig) {
		c.Named("line_items").WithID("id").WithColumns("product_code").
			WithBackReference("order_id").MultiValued()
	})
	node, err := b.Build()
	require.NoError(t, err)
	return CreateSelect(node, b.RootTable()), b
}

func TestSelect_FindAll_FlatTable(t *testing.T) {
	sel, b := buildFlat(t)

	query, err := sel.FindAll()
	require.NoError(t, err)

	assert.Contains(t, query.SQL, "FROM `orders`")
	assert.NotContains(t, query.SQL, "FULL OUTER JOIN")
	assert.NotContains(t, query.SQL, "ROW_NUMBER")
	assert.Empty(t, query.Args)

	idAlias := sel.Aliases().For(b.RootTable().ID())
	assert.Contains(t, query.SQL, "`orders`.`id` AS `"+idAlias+"`")
	assert.True(t, strings.HasSuffix(query.SQL, "ORDER BY `"+idAlias+"`"))
	assert.Equal(t, idAlias, sel.RootKeyAlias())
}

func TestSelect_FindByID(t *testing.T) {
	sel, _ := buildFlat(t)

	query, err := sel.FindByID(42)
	require.NoError(t, err)

	assert.Contains(t, query.SQL, "WHERE `orders`.`id` = ?")
	assert.Equal(t, []interface{}{42}, query.Args)
}

func TestSelect_FindAllByID(t *testing.T) {
	sel, _ := buildFlat(t)

	query, err := sel.FindAllByID(1, 2, 3)
	require.NoError(t, err)

	assert.Contains(t, query.SQL, "WHERE `orders`.`id` IN (?,?,?)")
	assert.Equal(t, []interface{}{1, 2, 3}, query.Args)
}

func TestSelect_FlatTableWithoutID(t *testing.T) {
	b := structure.NewBuilder()
	b.AddTable("AuditEntry", func(c *structure.TableConfig) {
		c.Named("audit_entries").WithColumns("message")
	})
	node, err := b.Build()
	require.NoError(t, err)
	sel := CreateSelect(node, b.RootTable())

	assert.Empty(t, sel.RootKeyAlias())

	_, err = sel.FindAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id column")

	_, err = sel.FindByID(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id column")
}

func TestSelect_FindAll_OneToMany(t *testing.T) {
	sel, b := buildNested(t)

	query, err := sel.FindAll()
	require.NoError(t, err)

	t.Run("child renders as a named full-outer-joined subquery", func(t *testing.T) {
		assert.Contains(t, query.SQL, "FULL OUTER JOIN (SELECT")
		assert.Contains(t, query.SQL, "FROM `line_items`")
	})

	t.Run("child rows are ranked per parent", func(t *testing.T) {
		assert.Contains(t, query.SQL, "ROW_NUMBER() OVER (PARTITION BY `line_items`.`order_id` ORDER BY `line_items`.`id`)")
	})

	t.Run("effective id coalesces across the outer join", func(t *testing.T) {
		assert.Contains(t, query.SQL, "COALESCE(")
	})

	t.Run("join condition compares the parent rank literal", func(t *testing.T) {
		assert.Contains(t, query.SQL, "ON `orders`.`id` = ")
		assert.Contains(t, query.SQL, "1 = ")
	})

	t.Run("output is ordered by aggregate id then rank", func(t *testing.T) {
		join := nodeAsJoin(t, sel)
		idAlias := sel.Aliases().For(join.EffectiveID())
		rnAlias := sel.Aliases().For(join.RowNumber())
		assert.True(t, strings.HasSuffix(query.SQL, "ORDER BY `"+idAlias+"`, `"+rnAlias+"`"))
		assert.Equal(t, idAlias, sel.RootKeyAlias())
	})

	t.Run("filter compares the effective id, keeping child-only rows", func(t *testing.T) {
		filtered, err := sel.FindByID(7)
		require.NoError(t, err)
		assert.Contains(t, filtered.SQL, "WHERE COALESCE(`orders`.`id`, ")
		assert.Equal(t, []interface{}{7}, filtered.Args)
		assert.Equal(t, 1, strings.Count(filtered.SQL, "WHERE"))
	})

	_ = b
}

func TestSelect_AliasesStableAcrossRenders(t *testing.T) {
	sel, b := buildNested(t)

	all, err := sel.FindAll()
	require.NoError(t, err)
	byID, err := sel.FindByID(1)
	require.NoError(t, err)

	idAlias := sel.Aliases().For(b.RootTable().ID())
	assert.Contains(t, all.SQL, "AS `"+idAlias+"`")
	assert.Contains(t, byID.SQL, "AS `"+idAlias+"`")
	assert.Equal(t, sel.RootKeyAlias(), sel.RootKeyAlias())
}

func TestAliases(t *testing.T) {
	a := NewAliases()
	table := &structure.TableDefinition{Name: "orders"}
	col := &structure.BaseColumn{Table: table, Name: "customer_name"}

	t.Run("memoized by identity", func(t *testing.T) {
		first := a.For(col)
		assert.Equal(t, first, a.For(col))

		other := &structure.BaseColumn{Table: table, Name: "customer_name"}
		assert.NotEqual(t, first, a.For(other))
	})

	t.Run("derived columns share the base alias", func(t *testing.T) {
		derived := &structure.DerivedColumn{Base: col}
		assert.Equal(t, a.For(col), a.For(derived))
	})

	t.Run("hints are sanitized and capped", func(t *testing.T) {
		odd := &structure.BaseColumn{Table: table, Name: "Weird-Column$NameThatIsLong"}
		alias := a.For(odd)
		assert.NotContains(t, alias, "-")
		assert.NotContains(t, alias, "$")
		assert.LessOrEqual(t, len(alias), len("c99_")+10)
	})

	t.Run("subquery names are sequential per node", func(t *testing.T) {
		n := &structure.TableDefinition{Name: "line_items"}
		first := a.Sub(n)
		assert.Equal(t, first, a.Sub(n))
	})
}

func nodeAsJoin(t *testing.T, sel *Select) *structure.AnalyticJoin {
	t.Helper()
	join, ok := sel.root.(*structure.AnalyticJoin)
	require.True(t, ok)
	return join
}
