package structure

import (
	"fmt"

	"aggload/internal/schema"
)

// Mapping relates the aggregate's properties to the columns of the
// analytic structure, so the extractor can address every value by the
// alias the renderer assigns.
type Mapping struct {
	Root *EntityMapping
}

// EntityMapping covers one entity occurrence in the aggregate. Embedded
// entities share their owner's table.
type EntityMapping struct {
	Entity *schema.Entity
	Table  *TableDefinition

	// ID is the entity's id column, nil for id-less child tables.
	ID Column
	// Presence is a column reliably non-null exactly when a row for this
	// entity exists: the id when mapped, otherwise the foreign key.
	Presence Column
	// Key is the list index / map key column for collection elements.
	Key Column

	Scalars     map[string]Column
	Ones        map[string]*EntityMapping
	Embedded    map[string]*EntityMapping
	Collections map[string]*CollectionMapping
}

// CollectionMapping covers one multi-valued property.
type CollectionMapping struct {
	Kind schema.CollectionKind
	Elem *EntityMapping
}

// FromEntity walks an aggregate mapping and registers its tables with a
// structure builder: one table per non-embedded entity, joined according
// to the containment hierarchy. The returned mapping is completed by
// Build (foreign keys and presence columns for id-less tables are only
// assigned then).
func FromEntity(root *schema.Entity) (*Builder, *Mapping, error) {
	if err := root.Validate(); err != nil {
		return nil, nil, fmt.Errorf("structure: invalid aggregate mapping: %w", err)
	}

	b := NewBuilder()
	b.AddTable(root.Name, func(c *TableConfig) {
		configureTable(c, root, false, "")
	})
	rootMapping, err := mapEntity(b, root.Name, b.Table(root.Name), root)
	if err != nil {
		return nil, nil, err
	}
	if err := addChildren(b, root.Name, root, rootMapping); err != nil {
		return nil, nil, err
	}
	return b, &Mapping{Root: rootMapping}, nil
}

func addChildren(b *Builder, parentKey string, parent *schema.Entity, parentMapping *EntityMapping) error {
	for _, p := range parent.Properties {
		if !p.IsEntity() || p.Embedded {
			continue
		}
		prop := p
		childKey := parentKey + "." + prop.Name
		b.AddChildTo(parentKey, childKey, func(c *TableConfig) {
			configureTable(c, prop.Target, prop.IsCollectionLike(), prop.KeyColumn)
			c.WithBackReference(prop.BackRefColumn)
		})
		table := b.Table(childKey)
		childMapping, err := mapEntity(b, childKey, table, prop.Target)
		if err != nil {
			return err
		}
		if prop.IsCollectionLike() {
			parentMapping.Collections[prop.Name] = &CollectionMapping{Kind: prop.Kind, Elem: childMapping}
		} else {
			parentMapping.Ones[prop.Name] = childMapping
		}
		if err := addChildren(b, childKey, prop.Target, childMapping); err != nil {
			return err
		}
	}
	return nil
}

func configureTable(c *TableConfig, e *schema.Entity, multiValued bool, keyColumn string) {
	c.Named(e.Table)
	if e.IDColumn != "" {
		c.WithID(e.IDColumn)
	}
	for _, name := range scalarColumns(e, "") {
		// The id column is already registered via WithID; registering it
		// again would project it twice under two aliases.
		if name == e.IDColumn {
			continue
		}
		c.WithColumns(name)
	}
	if keyColumn != "" {
		c.WithKeyColumn(keyColumn)
	}
	if multiValued {
		c.MultiValued()
	}
}

// scalarColumns lists the plain columns of an entity, folding embedded
// entities in under their prefix. Embedded properties never introduce a
// table, only a column-name prefix.
func scalarColumns(e *schema.Entity, prefix string) []string {
	var out []string
	for _, p := range e.Properties {
		switch {
		case !p.IsEntity():
			out = append(out, prefix+p.Column)
		case p.Embedded:
			out = append(out, scalarColumns(p.Target, prefix+p.Prefix)...)
		}
	}
	return out
}

func mapEntity(b *Builder, key string, table *TableDefinition, e *schema.Entity) (*EntityMapping, error) {
	m := &EntityMapping{
		Entity:      e,
		Table:       table,
		ID:          table.ID(),
		Presence:    table.ID(),
		Key:         table.Key(),
		Scalars:     map[string]Column{},
		Ones:        map[string]*EntityMapping{},
		Embedded:    map[string]*EntityMapping{},
		Collections: map[string]*CollectionMapping{},
	}
	if err := mapScalars(m, table, e, ""); err != nil {
		return nil, err
	}
	return m, nil
}

func mapScalars(m *EntityMapping, table *TableDefinition, e *schema.Entity, prefix string) error {
	for _, p := range e.Properties {
		switch {
		case !p.IsEntity():
			col := table.Column(prefix + p.Column)
			if col == nil {
				return fmt.Errorf("structure: %s.%s: column %s not registered on table %s", e.Name, p.Name, prefix+p.Column, table.Name)
			}
			m.Scalars[p.Name] = col
		case p.Embedded:
			em := &EntityMapping{
				Entity:      p.Target,
				Table:       table,
				Scalars:     map[string]Column{},
				Ones:        map[string]*EntityMapping{},
				Embedded:    map[string]*EntityMapping{},
				Collections: map[string]*CollectionMapping{},
			}
			if err := mapScalars(em, table, p.Target, prefix+p.Prefix); err != nil {
				return err
			}
			m.Embedded[p.Name] = em
		}
	}
	return nil
}

// Finalize fills in the mapping details only known after Build: presence
// columns for id-less tables fall back to their first foreign key.
func (m *Mapping) Finalize() {
	finalizeEntity(m.Root)
}

func finalizeEntity(em *EntityMapping) {
	if em.Presence == nil {
		em.Presence = em.Table.EffectiveID()
	}
	for _, one := range em.Ones {
		finalizeEntity(one)
	}
	for _, coll := range em.Collections {
		finalizeEntity(coll.Elem)
	}
}
