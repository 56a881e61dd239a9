package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"Order", "order"},
		{"OrderLine", "order_line"},
		{"orderLine", "order_line"},
		{"HTTPServer", "http_server"},
		{"already_snake", "already_snake"},
		{"ID", "id"},
		{"OrderID", "order_id"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, SnakeCase(tt.in))
		})
	}
}

func TestNamer_TableName(t *testing.T) {
	t.Run("pluralizes snake case", func(t *testing.T) {
		n := NewNamer(DefaultConfig())
		assert.Equal(t, "orders", n.TableName("Order"))
		assert.Equal(t, "order_lines", n.TableName("OrderLine"))
		assert.Equal(t, "addresses", n.TableName("Address"))
	})

	t.Run("applies table prefix", func(t *testing.T) {
		n := NewNamer(Config{TablePrefix: "app_"})
		assert.Equal(t, "app_orders", n.TableName("Order"))
	})

	t.Run("plural overrides win over inflection", func(t *testing.T) {
		n := NewNamer(Config{PluralOverrides: map[string]string{"person": "people"}})
		assert.Equal(t, "people", n.TableName("Person"))
	})
}

func TestNamer_ColumnNames(t *testing.T) {
	n := NewNamer(DefaultConfig())
	assert.Equal(t, "created_at", n.ColumnName("createdAt"))
	assert.Equal(t, "order_id", n.BackReferenceColumn("Order"))
	assert.Equal(t, "order_line_id", n.BackReferenceColumn("OrderLine"))
	assert.Equal(t, "order_key", n.KeyColumnName("Order"))
}
