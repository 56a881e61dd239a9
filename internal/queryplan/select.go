package queryplan

import (
	"fmt"

	"aggload/internal/sqlutil"
	"aggload/internal/structure"

	sq "github.com/Masterminds/squirrel"
)

// SQLQuery is a rendered SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Select is the query-construction handle for one built analytic
// structure. FindAll, FindByID, and FindAllByID differ only in the
// filter applied to the aggregate root's table. The alias registry is
// shared across all renders of the same Select, so every column keeps
// one alias no matter which variant produced the SQL.
type Select struct {
	root      structure.Node
	rootTable *structure.TableDefinition
	aliases   *Aliases
}

// CreateSelect prepares query construction for a built structure rooted
// at node, whose aggregate root table is rootTable.
func CreateSelect(node structure.Node, rootTable *structure.TableDefinition) *Select {
	return &Select{
		root:      node,
		rootTable: rootTable,
		aliases:   NewAliases(),
	}
}

// Aliases exposes the alias registry so the extraction plan can address
// every column the renders project.
func (s *Select) Aliases() *Aliases { return s.aliases }

// FindAll renders the unfiltered aggregate query.
func (s *Select) FindAll() (SQLQuery, error) {
	return s.render(nil)
}

// FindByID renders the aggregate query filtered to a single root id.
func (s *Select) FindByID(id interface{}) (SQLQuery, error) {
	if err := s.requireRootID(); err != nil {
		return SQLQuery{}, err
	}
	return s.render(func(idExpr string) sq.Sqlizer { return sq.Eq{idExpr: id} })
}

// FindAllByID renders the aggregate query filtered to a set of root ids.
func (s *Select) FindAllByID(ids ...interface{}) (SQLQuery, error) {
	if err := s.requireRootID(); err != nil {
		return SQLQuery{}, err
	}
	return s.render(func(idExpr string) sq.Sqlizer { return sq.Eq{idExpr: ids} })
}

// RootKeyAlias returns the alias of the column that identifies one
// aggregate instance in the flattened result set: the outermost join's
// effective id, or the root table's id when there are no joins. Empty
// for a flat root with no id; render rejects that structure before
// ordering by this alias.
func (s *Select) RootKeyAlias() string {
	if join, ok := s.root.(*structure.AnalyticJoin); ok {
		return s.aliases.For(join.EffectiveID())
	}
	if s.rootTable.ID() == nil {
		return ""
	}
	return s.aliases.For(s.rootTable.ID())
}

func (s *Select) requireRootID() error {
	if s.rootTable.ID() == nil {
		return fmt.Errorf("queryplan: aggregate root table %s has no id column", s.rootTable.Name)
	}
	return nil
}

func (s *Select) render(filter func(idExpr string) sq.Sqlizer) (SQLQuery, error) {
	// A flat root needs its own id to key the result set; a join root
	// always carries an effective id.
	if _, ok := s.root.(*structure.AnalyticJoin); !ok {
		if err := s.requireRootID(); err != nil {
			return SQLQuery{}, err
		}
	}
	r := &renderer{
		aliases:  s.aliases,
		rootNode: s.root,
		filter:   filter,
	}
	b, err := r.renderNode(s.root)
	if err != nil {
		return SQLQuery{}, err
	}

	// The extractor depends on all rows of one aggregate instance being
	// contiguous and on boundaries being detectable by comparing
	// adjacent ids, so the outermost select orders by (id, row number).
	orderBy := []string{sqlutil.QuoteIdentifier(s.RootKeyAlias())}
	if join, ok := s.root.(*structure.AnalyticJoin); ok {
		if rn := join.RowNumber(); rn != nil {
			orderBy = append(orderBy, sqlutil.QuoteIdentifier(s.aliases.For(rn)))
		}
	}
	b = b.OrderBy(orderBy...).PlaceholderFormat(sq.Question)

	query, args, err := b.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
