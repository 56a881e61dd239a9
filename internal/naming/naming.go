// Package naming derives default table and column names from entity and
// property names when the aggregate mapping leaves them unspecified.
package naming

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Config customizes the naming strategy.
type Config struct {
	// TablePrefix is prepended to every derived table name.
	TablePrefix string
	// PluralOverrides maps singular words to explicit plural forms,
	// taking precedence over the inflection rules.
	PluralOverrides map[string]string
}

// DefaultConfig returns the strategy used when nothing is configured.
func DefaultConfig() Config {
	return Config{}
}

// Namer turns entity and property names into SQL identifiers.
type Namer struct {
	config Config
}

// NewNamer creates a Namer with the given configuration.
func NewNamer(config Config) *Namer {
	return &Namer{config: config}
}

// TableName derives a table name from an entity name: snake_case,
// pluralized. "OrderLine" becomes "order_lines".
func (n *Namer) TableName(entity string) string {
	return n.config.TablePrefix + n.pluralize(SnakeCase(entity))
}

// ColumnName derives a column name from a property name.
func (n *Namer) ColumnName(property string) string {
	return SnakeCase(property)
}

// BackReferenceColumn derives the column on a child table referencing
// its owning entity. "Order" becomes "order_id".
func (n *Namer) BackReferenceColumn(ownerEntity string) string {
	return SnakeCase(ownerEntity) + "_id"
}

// KeyColumnName derives the list-index / map-key column for elements
// owned by the given entity. "Order" becomes "order_key".
func (n *Namer) KeyColumnName(ownerEntity string) string {
	return SnakeCase(ownerEntity) + "_key"
}

func (n *Namer) pluralize(word string) string {
	if override, ok := n.config.PluralOverrides[word]; ok {
		return override
	}
	return inflection.Plural(word)
}

// SnakeCase converts CamelCase or mixedCase identifiers to snake_case.
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
