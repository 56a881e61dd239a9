package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggload/internal/naming"
)

func orderAggregate() *Entity {
	return &Entity{
		Name:       "Order",
		IDProperty: "id",
		Properties: []Property{
			{Name: "id"},
			{Name: "customerName"},
			{Name: "lineItems", Kind: KindList, Target: &Entity{
				Name:       "LineItem",
				IDProperty: "id",
				Properties: []Property{
					{Name: "id"},
					{Name: "productCode"},
				},
			}},
		},
	}
}

func TestEntity_ApplyDefaults(t *testing.T) {
	namer := naming.NewNamer(naming.DefaultConfig())

	t.Run("derives table and column names", func(t *testing.T) {
		e := orderAggregate()
		e.ApplyDefaults(namer)

		assert.Equal(t, "orders", e.Table)
		assert.Equal(t, "id", e.IDColumn)

		p, ok := e.Property("customerName")
		require.True(t, ok)
		assert.Equal(t, "customer_name", p.Column)

		items, ok := e.Property("lineItems")
		require.True(t, ok)
		assert.Equal(t, "line_items", items.Target.Table)
		assert.Equal(t, "order_id", items.BackRefColumn)
		assert.Equal(t, "order_key", items.KeyColumn)
	})

	t.Run("explicit names are kept", func(t *testing.T) {
		e := orderAggregate()
		e.Table = "purchase_orders"
		e.Properties[2].BackRefColumn = "purchase_order_id"
		e.ApplyDefaults(namer)

		assert.Equal(t, "purchase_orders", e.Table)
		items, _ := e.Property("lineItems")
		assert.Equal(t, "purchase_order_id", items.BackRefColumn)
	})

	t.Run("id column follows the id property's column", func(t *testing.T) {
		e := &Entity{
			Name:       "Order",
			IDProperty: "id",
			Properties: []Property{{Name: "id", Column: "order_pk"}},
		}
		e.ApplyDefaults(namer)
		assert.Equal(t, "order_pk", e.IDColumn)
	})

	t.Run("set kind gets no key column by default", func(t *testing.T) {
		e := orderAggregate()
		e.Properties[2].Kind = KindSet
		e.ApplyDefaults(namer)
		items, _ := e.Property("lineItems")
		assert.Empty(t, items.KeyColumn)
	})

	t.Run("embedded gets a column prefix, not a table", func(t *testing.T) {
		e := &Entity{
			Name:       "Customer",
			IDProperty: "id",
			Properties: []Property{
				{Name: "id"},
				{Name: "address", Embedded: true, Target: &Entity{
					Name:       "Address",
					Properties: []Property{{Name: "city"}},
				}},
			},
		}
		e.ApplyDefaults(namer)
		addr, _ := e.Property("address")
		assert.Equal(t, "address_", addr.Prefix)
		assert.Empty(t, addr.BackRefColumn)
	})
}

func TestEntity_Validate(t *testing.T) {
	namer := naming.NewNamer(naming.DefaultConfig())

	t.Run("valid aggregate", func(t *testing.T) {
		e := orderAggregate()
		e.ApplyDefaults(namer)
		assert.NoError(t, e.Validate())
	})

	t.Run("root without id", func(t *testing.T) {
		e := &Entity{Name: "Order", Table: "orders"}
		err := e.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no id column")
	})

	t.Run("collection element needs an id or a key column", func(t *testing.T) {
		e := &Entity{
			Name:     "Order",
			Table:    "orders",
			IDColumn: "id",
			Properties: []Property{
				{Name: "tags", Kind: KindSet, BackRefColumn: "order_id", Target: &Entity{
					Name:       "Tag",
					Table:      "tags",
					Properties: []Property{{Name: "label", Column: "label"}},
				}},
			},
		}
		err := e.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "neither an id nor a key column")
	})

	t.Run("key column suffices for id-less elements", func(t *testing.T) {
		e := &Entity{
			Name:     "Order",
			Table:    "orders",
			IDColumn: "id",
			Properties: []Property{
				{Name: "tags", Kind: KindList, BackRefColumn: "order_id", KeyColumn: "order_key", Target: &Entity{
					Name:       "Tag",
					Table:      "tags",
					Properties: []Property{{Name: "label", Column: "label"}},
				}},
			},
		}
		assert.NoError(t, e.Validate())
	})

	t.Run("cycle through entities", func(t *testing.T) {
		a := &Entity{Name: "A", Table: "a", IDColumn: "id"}
		b := &Entity{Name: "B", Table: "b", IDColumn: "id"}
		a.Properties = []Property{{Name: "b", BackRefColumn: "a_id", Target: b}}
		b.Properties = []Property{{Name: "a", BackRefColumn: "b_id", Target: a}}
		err := a.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("embedded collection is rejected", func(t *testing.T) {
		e := &Entity{
			Name:     "Order",
			Table:    "orders",
			IDColumn: "id",
			Properties: []Property{
				{Name: "tags", Embedded: true, Kind: KindList, Target: &Entity{Name: "Tag"}},
			},
		}
		err := e.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedded properties cannot be collection-like")
	})

	t.Run("embedded entity may only contain columns", func(t *testing.T) {
		e := &Entity{
			Name:     "Order",
			Table:    "orders",
			IDColumn: "id",
			Properties: []Property{
				{Name: "meta", Embedded: true, Prefix: "meta_", Target: &Entity{
					Name: "Meta",
					Properties: []Property{
						{Name: "child", BackRefColumn: "meta_id", Target: &Entity{Name: "Child", Table: "children"}},
					},
				}},
			},
		}
		err := e.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "may only contain columns")
	})
}

func TestEntity_Helpers(t *testing.T) {
	e := orderAggregate()

	t.Run("Property lookup", func(t *testing.T) {
		_, ok := e.Property("customerName")
		assert.True(t, ok)
		_, ok = e.Property("missing")
		assert.False(t, ok)
	})

	t.Run("ScalarProperties excludes entity-valued ones", func(t *testing.T) {
		scalars := e.ScalarProperties()
		require.Len(t, scalars, 2)
		assert.Equal(t, "id", scalars[0].Name)
	})

	t.Run("IsRequired", func(t *testing.T) {
		e := orderAggregate()
		e.Required = []string{"customerName"}
		assert.True(t, e.IsRequired("customerName"))
		assert.False(t, e.IsRequired("id"))
	})

	t.Run("property predicates", func(t *testing.T) {
		items, _ := e.Property("lineItems")
		assert.True(t, items.IsEntity())
		assert.True(t, items.IsCollectionLike())
		assert.False(t, items.IsQualified())
	})
}
