package extract

import (
	"errors"
	"fmt"

	"aggload/internal/queryplan"
	"aggload/internal/schema"
	"aggload/internal/structure"
)

// ErrNestedCollection marks an aggregate with a collection nested inside
// another collection's element. The row-grouping algorithm cannot
// reconstruct those without guessing, so it refuses instead.
var ErrNestedCollection = errors.New("extract: collections nested inside collection elements are not supported")

// Plan addresses every value the rendered query projects by its column
// alias, mirroring the aggregate's shape.
type Plan struct {
	// RootKeyAlias identifies one aggregate instance in the flattened
	// stream; adjacent rows with equal values belong to the same group.
	RootKeyAlias string
	Root         *EntityPlan
}

// EntityPlan maps one entity occurrence to aliases.
type EntityPlan struct {
	Entity *schema.Entity
	// PresenceAlias is non-null exactly when a row for this entity
	// exists, distinguishing "no related row" from "related row with
	// null fields". Empty for the root and embedded entities.
	PresenceAlias string
	KeyAlias      string

	Scalars     []ScalarPlan
	Ones        []NestedPlan
	Embedded    []NestedPlan
	Collections []CollectionPlan
}

// ScalarPlan maps one plain property to its alias.
type ScalarPlan struct {
	Property string
	Alias    string
	Required bool
}

// NestedPlan maps a one-to-one or embedded entity property.
type NestedPlan struct {
	Property string
	Plan     *EntityPlan
}

// CollectionPlan maps a multi-valued property.
type CollectionPlan struct {
	Property string
	Kind     schema.CollectionKind
	Elem     *EntityPlan
}

// NewPlan combines the structure's property-to-column mapping with the
// renderer's alias registry into an extraction plan.
func NewPlan(root structure.Node, mapping *structure.Mapping, aliases *queryplan.Aliases) (*Plan, error) {
	mapping.Finalize()

	rootPlan, err := planEntity(mapping.Root, aliases, false)
	if err != nil {
		return nil, err
	}
	rootKey := rootPlan.PresenceAlias
	if join, ok := root.(*structure.AnalyticJoin); ok {
		rootKey = aliases.For(join.EffectiveID())
	}
	rootPlan.PresenceAlias = ""
	return &Plan{RootKeyAlias: rootKey, Root: rootPlan}, nil
}

func planEntity(em *structure.EntityMapping, aliases *queryplan.Aliases, insideCollection bool) (*EntityPlan, error) {
	p := &EntityPlan{Entity: em.Entity}
	if em.Presence != nil {
		p.PresenceAlias = aliases.For(em.Presence)
	}
	if em.Key != nil {
		p.KeyAlias = aliases.For(em.Key)
	}
	for _, prop := range em.Entity.Properties {
		switch {
		case !prop.IsEntity():
			col, ok := em.Scalars[prop.Name]
			if !ok {
				return nil, fmt.Errorf("extract: no column mapped for %s.%s", em.Entity.Name, prop.Name)
			}
			p.Scalars = append(p.Scalars, ScalarPlan{
				Property: prop.Name,
				Alias:    aliases.For(col),
				Required: em.Entity.IsRequired(prop.Name),
			})
		case prop.Embedded:
			nested, err := planEntity(em.Embedded[prop.Name], aliases, insideCollection)
			if err != nil {
				return nil, err
			}
			p.Embedded = append(p.Embedded, NestedPlan{Property: prop.Name, Plan: nested})
		case prop.IsCollectionLike():
			if insideCollection {
				return nil, fmt.Errorf("%w: %s.%s", ErrNestedCollection, em.Entity.Name, prop.Name)
			}
			elem, err := planEntity(em.Collections[prop.Name].Elem, aliases, true)
			if err != nil {
				return nil, err
			}
			p.Collections = append(p.Collections, CollectionPlan{
				Property: prop.Name,
				Kind:     prop.Kind,
				Elem:     elem,
			})
		default:
			nested, err := planEntity(em.Ones[prop.Name], aliases, insideCollection)
			if err != nil {
				return nil, err
			}
			p.Ones = append(p.Ones, NestedPlan{Property: prop.Name, Plan: nested})
		}
	}
	return p, nil
}

// collectionPlans returns every collection reachable from p without
// crossing a collection element: the working sets accumulated per group.
// Pointers into the plan tree, so they key working-set maps by identity.
func (p *EntityPlan) collectionPlans() []*CollectionPlan {
	var out []*CollectionPlan
	for i := range p.Collections {
		out = append(out, &p.Collections[i])
	}
	for _, one := range p.Ones {
		out = append(out, one.Plan.collectionPlans()...)
	}
	for _, emb := range p.Embedded {
		out = append(out, emb.Plan.collectionPlans()...)
	}
	return out
}
