// Package sqlutil provides SQL identifier helpers shared by the query
// renderer.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// Qualify renders qualifier.name with both parts quoted.
func Qualify(qualifier, name string) string {
	return QuoteIdentifier(qualifier) + "." + QuoteIdentifier(name)
}

// Aliased renders "expr AS alias" with the alias quoted.
func Aliased(expr, alias string) string {
	return expr + " AS " + QuoteIdentifier(alias)
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
