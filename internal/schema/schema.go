// Package schema describes aggregate mappings: a root entity plus the
// nested entities reachable through its properties, together with the
// table and column names used to persist them.
package schema

import (
	"fmt"

	"aggload/internal/naming"
)

// CollectionKind distinguishes the host collection a multi-valued
// property materializes into.
type CollectionKind int

const (
	// KindNone marks a single-valued property.
	KindNone CollectionKind = iota
	// KindList preserves row order (list index key column).
	KindList
	// KindSet deduplicates elements by id.
	KindSet
	// KindMap keys elements by the key column value.
	KindMap
)

// Entity describes one persisted type participating in an aggregate.
type Entity struct {
	Name     string
	Table    string
	IDColumn string
	// IDProperty is the property name the id column maps to. Empty when
	// the entity has no id of its own (pure child keyed by its parent).
	IDProperty string
	// Required lists the properties bound to the entity's constructor.
	// They are applied in the first instantiation phase; everything else
	// is settable afterwards.
	Required   []string
	Properties []Property
}

// Property describes one property of an entity. Scalar properties map to
// a single column; entity-valued properties reference a target Entity.
type Property struct {
	Name   string
	Column string
	// Target is non-nil for entity-valued properties (one-to-one,
	// collection, map, or embedded).
	Target *Entity
	// Kind is KindNone for single-valued properties.
	Kind CollectionKind
	// Embedded folds the target's columns into the owner's table under
	// Prefix instead of introducing a table of its own.
	Embedded bool
	Prefix   string
	// KeyColumn holds the list index or map key column on the target
	// table. A property with a key column is "qualified".
	KeyColumn string
	// BackRefColumn is the column on the target table referencing the
	// owning entity's id.
	BackRefColumn string
}

// IsEntity reports whether the property references another entity.
func (p Property) IsEntity() bool { return p.Target != nil }

// IsCollectionLike reports whether the property is multi-valued.
func (p Property) IsCollectionLike() bool { return p.Kind != KindNone }

// IsQualified reports whether the property carries a key column.
func (p Property) IsQualified() bool { return p.KeyColumn != "" }

// Property returns the named property, if present.
func (e *Entity) Property(name string) (Property, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// ScalarProperties returns the properties mapping to plain columns.
func (e *Entity) ScalarProperties() []Property {
	var out []Property
	for _, p := range e.Properties {
		if !p.IsEntity() {
			out = append(out, p)
		}
	}
	return out
}

// IsRequired reports whether the property is constructor-bound.
func (e *Entity) IsRequired(name string) bool {
	for _, r := range e.Required {
		if r == name {
			return true
		}
	}
	return false
}

// ApplyDefaults fills in table, id, back-reference, and key column names
// left empty in the mapping, using the shared naming strategy. It walks
// the whole aggregate below e.
func (e *Entity) ApplyDefaults(namer *naming.Namer) {
	e.applyDefaults(namer, nil, map[*Entity]bool{})
}

func (e *Entity) applyDefaults(namer *naming.Namer, owner *Entity, seen map[*Entity]bool) {
	if seen[e] {
		return
	}
	seen[e] = true

	if e.Table == "" {
		e.Table = namer.TableName(e.Name)
	}
	if e.IDColumn == "" && e.IDProperty != "" {
		if p, ok := e.Property(e.IDProperty); ok && p.Column != "" {
			e.IDColumn = p.Column
		} else {
			e.IDColumn = namer.ColumnName(e.IDProperty)
		}
	}
	for i := range e.Properties {
		p := &e.Properties[i]
		if p.Column == "" && !p.IsEntity() {
			p.Column = namer.ColumnName(p.Name)
		}
		if p.Target == nil {
			continue
		}
		if p.Embedded {
			if p.Prefix == "" {
				p.Prefix = namer.ColumnName(p.Name) + "_"
			}
		} else {
			if p.BackRefColumn == "" {
				p.BackRefColumn = namer.BackReferenceColumn(e.Name)
			}
			if p.KeyColumn == "" && (p.Kind == KindList || p.Kind == KindMap) {
				p.KeyColumn = namer.KeyColumnName(e.Name)
			}
		}
		p.Target.applyDefaults(namer, e, seen)
	}
}

// Validate checks the mapping for the inconsistencies the structure
// builder cannot repair. The root entity must have an id; a multi-valued
// property's target must have either an id of its own or a key column,
// or no row ordering can be established for it.
func (e *Entity) Validate() error {
	if e.IDColumn == "" {
		return fmt.Errorf("aggregate root %s: no id column mapped", e.Name)
	}
	return e.validate(e.Name, map[*Entity]bool{})
}

func (e *Entity) validate(path string, seen map[*Entity]bool) error {
	if seen[e] {
		return fmt.Errorf("%s: aggregate mapping contains a cycle through %s", path, e.Name)
	}
	seen[e] = true
	defer delete(seen, e)

	if e.Table == "" {
		return fmt.Errorf("%s: entity %s has no table", path, e.Name)
	}
	for _, p := range e.Properties {
		if !p.IsEntity() {
			if p.Column == "" {
				return fmt.Errorf("%s.%s: property has no column", path, p.Name)
			}
			continue
		}
		child := p.Target
		childPath := path + "." + p.Name
		if p.Embedded {
			if p.IsCollectionLike() {
				return fmt.Errorf("%s: embedded properties cannot be collection-like", childPath)
			}
			if err := child.validateEmbedded(childPath); err != nil {
				return err
			}
			continue
		}
		if p.BackRefColumn == "" {
			return fmt.Errorf("%s: no back-reference column mapped", childPath)
		}
		if p.IsCollectionLike() && child.IDColumn == "" && p.KeyColumn == "" {
			return fmt.Errorf("%s: collection element %s has neither an id nor a key column", childPath, child.Name)
		}
		if err := child.validate(childPath, seen); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entity) validateEmbedded(path string) error {
	for _, p := range e.Properties {
		if p.IsEntity() && !p.Embedded {
			return fmt.Errorf("%s.%s: embedded entities may only contain columns", path, p.Name)
		}
		if !p.IsEntity() && p.Column == "" {
			return fmt.Errorf("%s.%s: property has no column", path, p.Name)
		}
	}
	return nil
}
