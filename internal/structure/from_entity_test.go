package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggload/internal/naming"
	"aggload/internal/schema"
)

func orderEntity(t *testing.T) *schema.Entity {
	t.Helper()
	e := &schema.Entity{
		Name:       "Order",
		IDProperty: "id",
		Properties: []schema.Property{
			{Name: "id"},
			{Name: "customerName"},
			{Name: "shippingAddress", Embedded: true, Target: &schema.Entity{
				Name: "Address",
				Properties: []schema.Property{
					{Name: "street"},
					{Name: "city"},
				},
			}},
			{Name: "lineItems", Kind: schema.KindList, Target: &schema.Entity{
				Name:       "LineItem",
				IDProperty: "id",
				Properties: []schema.Property{
					{Name: "id"},
					{Name: "productCode"},
				},
			}},
		},
	}
	e.ApplyDefaults(naming.NewNamer(naming.DefaultConfig()))
	require.NoError(t, e.Validate())
	return e
}

func TestFromEntity(t *testing.T) {
	entity := orderEntity(t)
	b, mapping, err := FromEntity(entity)
	require.NoError(t, err)

	t.Run("registers one table per non-embedded entity", func(t *testing.T) {
		require.NotNil(t, b.Table("Order"))
		require.NotNil(t, b.Table("Order.lineItems"))
		assert.Equal(t, "orders", b.Table("Order").Name)
		assert.Equal(t, "line_items", b.Table("Order.lineItems").Name)
	})

	t.Run("embedded columns fold into the owner table under the prefix", func(t *testing.T) {
		owner := b.Table("Order")
		assert.NotNil(t, owner.Column("shipping_address_street"))
		assert.NotNil(t, owner.Column("shipping_address_city"))
	})

	t.Run("mapping mirrors the aggregate shape", func(t *testing.T) {
		root := mapping.Root
		assert.Same(t, entity, root.Entity)
		assert.Contains(t, root.Scalars, "customerName")
		assert.Contains(t, root.Embedded, "shippingAddress")
		require.Contains(t, root.Collections, "lineItems")
		coll := root.Collections["lineItems"]
		assert.Equal(t, schema.KindList, coll.Kind)
		assert.Contains(t, coll.Elem.Scalars, "productCode")
	})

	t.Run("embedded mapping addresses prefixed columns", func(t *testing.T) {
		addr := mapping.Root.Embedded["shippingAddress"]
		street, ok := addr.Scalars["street"].(*BaseColumn)
		require.True(t, ok)
		assert.Equal(t, "shipping_address_street", street.Name)
		assert.Same(t, b.Table("Order"), street.Table)
	})

	t.Run("build completes and the mapping finalizes", func(t *testing.T) {
		_, err := b.Build()
		require.NoError(t, err)
		mapping.Finalize()
		assert.NotNil(t, mapping.Root.Presence)
		assert.NotNil(t, mapping.Root.Collections["lineItems"].Elem.Presence)
	})
}

func TestFromEntity_IDLessCollectionElement(t *testing.T) {
	entity := &schema.Entity{
		Name:     "Order",
		Table:    "orders",
		IDColumn: "id",
		Properties: []schema.Property{
			{Name: "tags", Kind: schema.KindList, BackRefColumn: "order_id", KeyColumn: "order_key", Target: &schema.Entity{
				Name:       "Tag",
				Table:      "tags",
				Properties: []schema.Property{{Name: "label", Column: "label"}},
			}},
		},
	}

	b, mapping, err := FromEntity(entity)
	require.NoError(t, err)
	_, err = b.Build()
	require.NoError(t, err)

	elem := mapping.Root.Collections["tags"].Elem
	assert.Nil(t, elem.ID)
	assert.NotNil(t, elem.Key)

	mapping.Finalize()
	fk, ok := elem.Presence.(*ForeignKeyColumn)
	require.True(t, ok, "presence of an id-less element falls back to its foreign key")
	assert.Equal(t, "order_id", fk.Name)
}

func TestFromEntity_InvalidMapping(t *testing.T) {
	entity := &schema.Entity{Name: "Order", Table: "orders"}
	_, _, err := FromEntity(entity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid aggregate mapping")
}
