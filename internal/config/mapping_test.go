package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggload/internal/naming"
	"aggload/internal/schema"
)

const orderMapping = `
aggregates:
  - name: Order
    id_property: id
    required:
      - customerName
    properties:
      - name: id
      - name: customerName
      - name: lineItems
        kind: list
        target:
          name: LineItem
          id_property: id
          properties:
            - name: id
            - name: productCode
  - name: Customer
    id_property: id
    properties:
      - name: id
      - name: address
        embedded: true
        target:
          name: Address
          properties:
            - name: street
            - name: city
`

func writeMapping(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aggregates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMapping(t *testing.T) {
	namer := naming.NewNamer(naming.DefaultConfig())
	path := writeMapping(t, orderMapping)

	entities, err := LoadMapping(path, namer)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	order := entities[0]
	assert.Equal(t, "Order", order.Name)
	assert.Equal(t, "orders", order.Table, "naming defaults are applied")
	assert.Equal(t, "id", order.IDColumn)
	assert.True(t, order.IsRequired("customerName"))

	items, ok := order.Property("lineItems")
	require.True(t, ok)
	assert.Equal(t, schema.KindList, items.Kind)
	assert.Equal(t, "order_id", items.BackRefColumn)
	assert.Equal(t, "line_items", items.Target.Table)

	customer := entities[1]
	addr, ok := customer.Property("address")
	require.True(t, ok)
	assert.True(t, addr.Embedded)
	assert.Equal(t, "address_", addr.Prefix)
}

func TestLoadMapping_Errors(t *testing.T) {
	namer := naming.NewNamer(naming.DefaultConfig())

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMapping(filepath.Join(t.TempDir(), "nope.yaml"), namer)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read mapping file")
	})

	t.Run("no aggregates", func(t *testing.T) {
		path := writeMapping(t, "aggregates: []\n")
		_, err := LoadMapping(path, namer)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "defines no aggregates")
	})

	t.Run("unknown collection kind", func(t *testing.T) {
		path := writeMapping(t, `
aggregates:
  - name: Order
    id_property: id
    properties:
      - name: id
      - name: lineItems
        kind: bag
        target:
          name: LineItem
          id_property: id
          properties:
            - name: id
`)
		_, err := LoadMapping(path, namer)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown collection kind")
	})

	t.Run("kind without target", func(t *testing.T) {
		path := writeMapping(t, `
aggregates:
  - name: Order
    id_property: id
    properties:
      - name: id
      - name: lineItems
        kind: list
`)
		_, err := LoadMapping(path, namer)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no target entity")
	})

	t.Run("entity without name", func(t *testing.T) {
		path := writeMapping(t, `
aggregates:
  - id_property: id
    properties:
      - name: id
`)
		_, err := LoadMapping(path, namer)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no name")
	})
}

func TestMappingConfig_ResolveAggregate(t *testing.T) {
	namer := naming.NewNamer(naming.DefaultConfig())
	path := writeMapping(t, orderMapping)

	t.Run("defaults to the first aggregate", func(t *testing.T) {
		m := &MappingConfig{File: path}
		root, err := m.ResolveAggregate(namer)
		require.NoError(t, err)
		assert.Equal(t, "Order", root.Name)
	})

	t.Run("selects by name", func(t *testing.T) {
		m := &MappingConfig{File: path, Aggregate: "Customer"}
		root, err := m.ResolveAggregate(namer)
		require.NoError(t, err)
		assert.Equal(t, "Customer", root.Name)
	})

	t.Run("unknown name is an error", func(t *testing.T) {
		m := &MappingConfig{File: path, Aggregate: "Invoice"}
		_, err := m.ResolveAggregate(namer)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no aggregate named")
	})
}
