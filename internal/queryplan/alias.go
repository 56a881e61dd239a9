// Package queryplan renders an analytic structure into a relational
// query, using squirrel as the query AST. The SQL text produced by
// squirrel's ToSql is what callers hand to their database driver.
package queryplan

import (
	"fmt"
	"strings"

	"aggload/internal/structure"
)

// Aliases allocates a globally unique alias for every distinct column
// instance on first encounter and always returns that exact alias
// afterwards. Assignment is memoized by identity, not value: two
// structurally equal but distinct columns get two distinct aliases.
// Derived columns share the alias of the column they re-expose.
type Aliases struct {
	columns map[structure.Column]string
	subs    map[structure.Node]string
	nextCol int
	nextSub int
}

// NewAliases creates an empty alias registry.
func NewAliases() *Aliases {
	return &Aliases{
		columns: map[structure.Column]string{},
		subs:    map[structure.Node]string{},
	}
}

// For returns the alias for a column, allocating one on first use. The
// alias stays short to respect database identifier length limits; the
// trailing fragment is a human-readable hint only.
func (a *Aliases) For(c structure.Column) string {
	c = structure.Unwrap(c)
	if alias, ok := a.columns[c]; ok {
		return alias
	}
	alias := fmt.Sprintf("c%d_%s", a.nextCol, aliasHint(c.Hint()))
	a.nextCol++
	a.columns[c] = alias
	return alias
}

// Sub returns the inline-subquery name for a node.
func (a *Aliases) Sub(n structure.Node) string {
	if alias, ok := a.subs[n]; ok {
		return alias
	}
	a.nextSub++
	alias := fmt.Sprintf("t%d", a.nextSub)
	a.subs[n] = alias
	return alias
}

func aliasHint(hint string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(hint) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= 10 {
			break
		}
	}
	if b.Len() == 0 {
		return "col"
	}
	return b.String()
}
